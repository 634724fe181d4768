package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chipstream-io/chipstream/internal/conf"
	"github.com/chipstream-io/chipstream/internal/errors"
	"github.com/chipstream-io/chipstream/internal/logging"
	"github.com/chipstream-io/chipstream/internal/render"
	"github.com/chipstream-io/chipstream/internal/watchdog"
)

// NewNullDescriptor returns the registry entry for the timed discard
// sink. Always available, lowest priority, so it is the fallback when no
// device and no writable export path exist. Useful for headless hosts and
// for exercising the pipeline in tests.
func NewNullDescriptor() Descriptor {
	return Descriptor{
		ID:       "null",
		Kind:     KindNull,
		Priority: 0,
		Available: func(rc RuntimeContext) error {
			return nil
		},
		Factory: func(rc RuntimeContext) (Controller, error) {
			return newNullController(rc.Settings, rc.StallObserver), nil
		},
	}
}

// nullController consumes the ring at real time and discards the audio.
type nullController struct {
	mu       sync.Mutex
	settings *conf.Settings
	logger   *slog.Logger

	engine        *engine
	state         State
	stallObserver watchdog.WarningObserver

	sampleRate int
	quit       chan struct{}
	pumpDone   sync.WaitGroup

	snapshots chan render.Snapshot
	scratch   []float32
}

func newNullController(settings *conf.Settings, stallObserver watchdog.WarningObserver) *nullController {
	logger := logging.ForService("playback")
	if logger == nil {
		logger = slog.Default().With("service", "playback")
	}
	return &nullController{
		settings:      settings,
		logger:        logger.With("adapter", "null"),
		state:         StateIdle,
		stallObserver: stallObserver,
		snapshots:     make(chan render.Snapshot, 8),
	}
}

func (c *nullController) Load(_ context.Context, spec TrackSpec) (*Feed, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateTornDown {
		return nil, ErrTornDown
	}

	eng, err := newEngine(spec, c.settings, c.logger, c.snapshots, c.stallObserver)
	if err != nil {
		return nil, err
	}

	sampleRate := spec.SampleRate
	if sampleRate <= 0 {
		sampleRate = conf.SampleRate
	}

	c.engine = eng
	c.sampleRate = sampleRate
	c.scratch = make([]float32, eng.quantum*eng.channels)
	c.state = StateLoaded
	return eng.feed, nil
}

func (c *nullController) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateTornDown:
		return ErrTornDown
	case StatePlaying:
		return nil
	case StateLoaded, StatePaused, StateStopped:
	default:
		return errors.Newf("cannot play from state %s", c.state).
			Component("playback").
			Category(errors.CategoryState).
			Build()
	}

	c.quit = make(chan struct{})
	c.pumpDone.Add(1)
	go c.pump(c.quit)

	c.engine.startWatchdog()
	c.state = StatePlaying
	return nil
}

func (c *nullController) pump(quit chan struct{}) {
	defer c.pumpDone.Done()

	eng := c.engine
	interval := time.Duration(eng.quantum) * time.Second / time.Duration(c.sampleRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			eng.renderInto(c.scratch, eng.quantum)
		}
	}
}

func (c *nullController) stopPumpLocked() {
	if c.quit == nil {
		return
	}
	close(c.quit)
	c.pumpDone.Wait()
	c.quit = nil
}

func (c *nullController) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateTornDown {
		return ErrTornDown
	}
	if c.state != StatePlaying {
		return nil
	}
	c.stopPumpLocked()
	c.engine.stopWatchdog("pause")
	c.state = StatePaused
	return nil
}

func (c *nullController) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateTornDown {
		return ErrTornDown
	}
	if c.state != StatePlaying && c.state != StatePaused {
		return nil
	}
	c.stopPumpLocked()
	c.engine.stopWatchdog("stop")
	c.state = StateStopped
	return nil
}

func (c *nullController) Teardown() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateTornDown {
		return nil
	}
	c.stopPumpLocked()
	if c.engine != nil {
		c.engine.stopWatchdog("teardown")
	}
	c.state = StateTornDown
	return nil
}

func (c *nullController) Telemetry() render.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine == nil {
		return render.Snapshot{}
	}
	return c.engine.callback.Snapshot()
}

func (c *nullController) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshots exposes the telemetry stream for observers.
func (c *nullController) Snapshots() <-chan render.Snapshot {
	return c.snapshots
}
