package observability

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Endpoint serves the /metrics scrape target on its own listener.
type Endpoint struct {
	server *http.Server
	logger *slog.Logger
}

// NewEndpoint builds the scrape endpoint for the given metrics on the
// configured listen address.
func NewEndpoint(m *Metrics, listen string, logger *slog.Logger) *Endpoint {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	m.RegisterHandlers(mux)
	return &Endpoint{
		server: &http.Server{
			Addr:         listen,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start serves in the background until Shutdown.
func (e *Endpoint) Start() {
	go func() {
		e.logger.Info("metrics endpoint listening", "addr", e.server.Addr)
		if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("metrics endpoint failed", "error", err)
		}
	}()
}

// Shutdown stops the endpoint, waiting up to the context deadline.
func (e *Endpoint) Shutdown(ctx context.Context) error {
	return e.server.Shutdown(ctx)
}
