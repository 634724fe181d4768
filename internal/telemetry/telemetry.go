// Package telemetry provides opt-in error tracking for chipstream.
package telemetry

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/chipstream-io/chipstream/internal/conf"
	"github.com/chipstream-io/chipstream/internal/errors"
	"github.com/chipstream-io/chipstream/internal/logging"
)

var (
	sentryInitialized bool
	logger            *slog.Logger
)

// PlatformInfo holds privacy-safe platform information for telemetry
type PlatformInfo struct {
	OS           string `json:"os"`
	Architecture string `json:"arch"`
	NumCPU       int    `json:"num_cpu"`
	GoVersion    string `json:"go_version"`
}

// collectPlatformInfo gathers privacy-safe platform information
func collectPlatformInfo() PlatformInfo {
	return PlatformInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}
}

// Init initializes the Sentry SDK and wires it into the errors package.
// Sentry is strictly opt-in; when disabled this only registers a nil
// reporter so error construction stays on the fast path.
func Init(settings *conf.Settings) error {
	logger = logging.ForService("telemetry")
	if logger == nil {
		logger = slog.Default().With("service", "telemetry")
	}

	if !settings.Sentry.Enabled {
		logger.Info("error tracking is disabled (opt-in required)")
		errors.SetTelemetryReporter(nil)
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.Sentry.DSN,
		AttachStacktrace: true,
		SampleRate:       1.0,
		Environment:      "production",
	})
	if err != nil {
		return errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfig).
			Build()
	}

	platform := collectPlatformInfo()
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetContext("platform", map[string]any{
			"os":         platform.OS,
			"arch":       platform.Architecture,
			"num_cpu":    platform.NumCPU,
			"go_version": platform.GoVersion,
		})
		scope.SetTag("instance", settings.Main.Name)
	})

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	sentryInitialized = true

	logger.Info("error tracking initialized")
	return nil
}

// Flush waits for buffered events to be delivered, bounded by timeout.
// Safe to call even when telemetry was never initialized.
func Flush(timeout time.Duration) {
	if !sentryInitialized {
		return
	}
	sentry.Flush(timeout)
}
