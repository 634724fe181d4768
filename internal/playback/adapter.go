// Package playback selects and owns the active playback backend. The
// facade registers interchangeable adapters, probes them for availability
// in priority order, and keeps at most one controller live at a time.
// Adapters wire the ring buffer, render callback, and stall watchdog
// together internally; the facade only ever touches the uniform controller
// surface.
package playback

import (
	"context"

	"github.com/chipstream-io/chipstream/internal/conf"
	"github.com/chipstream-io/chipstream/internal/errors"
	"github.com/chipstream-io/chipstream/internal/render"
	"github.com/chipstream-io/chipstream/internal/watchdog"
)

// Kind labels the closed set of adapter families. The facade never
// branches on kind; it exists for logging and registry introspection.
type Kind string

const (
	KindDevice Kind = "device" // in-process output to a sound device
	KindFile   Kind = "file"   // offline render to a WAV file
	KindNull   Kind = "null"   // timed sink, discards audio
)

// State is the lifecycle state of a controller.
type State string

const (
	StateIdle     State = "idle"
	StateLoaded   State = "loaded"
	StatePlaying  State = "playing"
	StatePaused   State = "paused"
	StateStopped  State = "stopped"
	StateTornDown State = "torn-down"
)

// TrackSpec describes the stream a controller should prepare for. The
// decoder pushes PCM through the controller's Feed after Load.
type TrackSpec struct {
	Title      string
	SampleRate int
	Channels   int
}

// RuntimeContext carries the environment adapters probe and construct
// against. StallObserver, when non-nil, receives the stall watchdog's
// aggregated warnings from whichever controller is live.
type RuntimeContext struct {
	Settings      *conf.Settings
	StallObserver watchdog.WarningObserver
}

// AvailabilityFunc reports whether an adapter can run right now. A nil
// return means available; the error is the human-readable reason used in
// the aggregate selection failure.
type AvailabilityFunc func(rc RuntimeContext) error

// FactoryFunc constructs a controller. Called only after the
// availability check passed.
type FactoryFunc func(rc RuntimeContext) (Controller, error)

// Descriptor registers an adapter with the facade. Immutable after
// registration.
type Descriptor struct {
	ID        string
	Kind      Kind
	Priority  int // higher probes earlier
	Available AvailabilityFunc
	Factory   FactoryFunc
}

// Controller is the uniform lifecycle surface every adapter exposes. The
// facade calls nothing outside it, so any backend can be registered
// without the facade knowing its kind.
type Controller interface {
	// Load prepares the controller for the given stream and returns the
	// feed the decoder pushes PCM into.
	Load(ctx context.Context, spec TrackSpec) (*Feed, error)

	// Play starts or resumes delivery.
	Play() error

	// Pause halts delivery without discarding buffered audio.
	Pause() error

	// Stop halts delivery and discards position.
	Stop() error

	// Teardown releases every resource. Idempotent; the controller is
	// unusable afterwards.
	Teardown() error

	// Telemetry returns the render-side counters.
	Telemetry() render.Snapshot

	// State returns the current lifecycle state.
	State() State
}

// ErrTornDown is returned by controller operations after Teardown.
var ErrTornDown = errors.NewStd("controller has been torn down")
