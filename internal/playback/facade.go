package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chipstream-io/chipstream/internal/errors"
	"github.com/chipstream-io/chipstream/internal/logging"
)

// Selection is the result of a successful Load.
type Selection struct {
	AdapterID string
	Feed      *Feed
}

// UnavailableError aggregates every candidate's unavailability reason so
// the caller never has to probe adapters individually.
type UnavailableError struct {
	Reasons map[string]string // adapter id -> reason
}

func (e *UnavailableError) Error() string {
	ids := make([]string, 0, len(e.Reasons))
	for id := range e.Reasons {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString("no playback adapter available:")
	for _, id := range ids {
		fmt.Fprintf(&b, " %s (%s);", id, e.Reasons[id])
	}
	return strings.TrimSuffix(b.String(), ";")
}

// Facade owns the adapter registry and the single active controller. All
// methods are safe for concurrent use.
type Facade struct {
	mu        sync.Mutex
	adapters  map[string]Descriptor
	preferred string

	active         Controller
	activeID       string
	activeInstance string // uuid for teardown tracing

	probes *probeCache
	logger *slog.Logger
}

// NewFacade creates an empty facade. probeTTL bounds how long availability
// probe results are trusted; zero disables caching.
func NewFacade(probeTTL time.Duration) *Facade {
	logger := logging.ForService("playback")
	if logger == nil {
		logger = slog.Default().With("service", "playback")
	}
	return &Facade{
		adapters: make(map[string]Descriptor),
		probes:   newProbeCache(probeTTL),
		logger:   logger,
	}
}

// RegisterAdapter adds an adapter to the registry. Fails if the id is
// already registered. When preferred is true this adapter supersedes any
// previous preference for subsequent selection; a currently active
// controller keeps running until the next Load.
func (f *Facade) RegisterAdapter(d Descriptor, preferred bool) error {
	if d.ID == "" {
		return errors.ValidationError("adapter id must not be empty")
	}
	if d.Available == nil || d.Factory == nil {
		return errors.Newf("adapter %q needs both an availability check and a factory", d.ID).
			Component("playback").
			Category(errors.CategoryValidation).
			Build()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.adapters[d.ID]; exists {
		return errors.Newf("adapter %q is already registered", d.ID).
			Component("playback").
			Category(errors.CategoryState).
			Build()
	}
	f.adapters[d.ID] = d
	if preferred {
		f.preferred = d.ID
	}

	f.logger.Info("adapter registered",
		"adapter", d.ID,
		"kind", d.Kind,
		"priority", d.Priority,
		"preferred", preferred)
	return nil
}

// SetPreferredAdapter marks an already registered adapter as preferred and
// tears down the currently active controller, forcing the next Load to
// re-select. Changing the preferred backend is a deliberate invalidation,
// not a silent hot-swap, so the preferred adapter's cached probe result is
// dropped too: the next Load must probe it fresh.
func (f *Facade) SetPreferredAdapter(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.adapters[id]; !exists {
		return errors.Newf("adapter %q is not registered", id).
			Component("playback").
			Category(errors.CategoryState).
			Build()
	}
	f.preferred = id
	f.probes.invalidate(id)
	f.teardownActiveLocked("preference change")
	return nil
}

// Load selects an adapter and constructs its controller. The candidate
// order is the preferred adapter first, then the rest by descending
// priority. The previous controller, if any, is torn down before the new
// one is constructed, so at most one is ever live.
func (f *Facade) Load(ctx context.Context, spec TrackSpec, rc RuntimeContext) (Selection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	candidates := f.candidateOrderLocked()
	if len(candidates) == 0 {
		return Selection{}, errors.NewStd("no adapters registered")
	}

	reasons := make(map[string]string, len(candidates))
	for _, d := range candidates {
		if err := f.probes.check(d, rc); err != nil {
			reasons[d.ID] = err.Error()
			f.logger.Debug("adapter unavailable",
				"adapter", d.ID,
				"reason", err)
			continue
		}

		f.teardownActiveLocked("backend switch")

		controller, err := d.Factory(rc)
		if err != nil {
			// A factory failure after a positive probe is not a
			// selection failure to paper over; surface it directly.
			return Selection{}, errors.New(err).
				Component("playback").
				Category(errors.CategorySelection).
				Context("adapter", d.ID).
				Build()
		}

		feed, err := controller.Load(ctx, spec)
		if err != nil {
			_ = controller.Teardown()
			return Selection{}, errors.New(err).
				Component("playback").
				Category(errors.CategorySelection).
				Context("adapter", d.ID).
				Build()
		}

		f.active = controller
		f.activeID = d.ID
		f.activeInstance = uuid.NewString()

		f.logger.Info("adapter selected",
			"adapter", d.ID,
			"kind", d.Kind,
			"instance", f.activeInstance,
			"title", spec.Title)

		return Selection{AdapterID: d.ID, Feed: feed}, nil
	}

	return Selection{}, &UnavailableError{Reasons: reasons}
}

// candidateOrderLocked builds the probe order: preferred first, remaining
// adapters by descending priority with id as a deterministic tie-break.
func (f *Facade) candidateOrderLocked() []Descriptor {
	rest := make([]Descriptor, 0, len(f.adapters))
	var preferred *Descriptor
	for id := range f.adapters {
		d := f.adapters[id]
		if id == f.preferred {
			preferred = &d
			continue
		}
		rest = append(rest, d)
	}
	sort.Slice(rest, func(i, j int) bool {
		if rest[i].Priority != rest[j].Priority {
			return rest[i].Priority > rest[j].Priority
		}
		return rest[i].ID < rest[j].ID
	})

	if preferred == nil {
		return rest
	}
	return append([]Descriptor{*preferred}, rest...)
}

// ActiveController returns the live controller, or nil.
func (f *Facade) ActiveController() Controller {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// GetActiveAdapterID returns the id of the live controller's adapter, or
// empty when none is active.
func (f *Facade) GetActiveAdapterID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeID
}

// Teardown releases the active controller, if any. Idempotent.
func (f *Facade) Teardown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teardownActiveLocked("shutdown")
}

// teardownActiveLocked tears down the active controller before a
// replacement may be constructed. Callers hold f.mu.
func (f *Facade) teardownActiveLocked(cause string) {
	if f.active == nil {
		return
	}
	if err := f.active.Teardown(); err != nil {
		f.logger.Error("controller teardown failed",
			"adapter", f.activeID,
			"instance", f.activeInstance,
			"cause", cause,
			"error", err)
	} else {
		f.logger.Info("controller torn down",
			"adapter", f.activeID,
			"instance", f.activeInstance,
			"cause", cause)
	}
	f.active = nil
	f.activeID = ""
	f.activeInstance = ""
}
