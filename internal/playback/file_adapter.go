package playback

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/chipstream-io/chipstream/internal/conf"
	"github.com/chipstream-io/chipstream/internal/errors"
	"github.com/chipstream-io/chipstream/internal/logging"
	"github.com/chipstream-io/chipstream/internal/render"
	"github.com/chipstream-io/chipstream/internal/watchdog"
)

// wavBitDepth is the sample depth written to exported files.
const wavBitDepth = 16

// NewFileDescriptor returns the registry entry for the WAV export
// adapter. It renders through the same ring and callback as the device
// adapter, paced by a wall-clock ticker instead of a sound card.
func NewFileDescriptor() Descriptor {
	return Descriptor{
		ID:       "wav-file",
		Kind:     KindFile,
		Priority: 50,
		Available: func(rc RuntimeContext) error {
			return exportPathWritable(rc.Settings.Realtime.Playback.ExportPath)
		},
		Factory: func(rc RuntimeContext) (Controller, error) {
			return newFileController(rc.Settings, rc.StallObserver), nil
		},
	}
}

// exportPathWritable checks that the export directory exists (creating it
// if needed) and accepts new files.
func exportPathWritable(dir string) error {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("export path %s not usable: %w", dir, err)
	}
	probe, err := os.CreateTemp(dir, ".chipstream-probe-*")
	if err != nil {
		return fmt.Errorf("export path %s not writable: %w", dir, err)
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return nil
}

// fileController renders the stream into a WAV file in real time. A pump
// goroutine ticks at the quantum interval, pulls rendered audio from the
// engine, and hands it to the encoder.
type fileController struct {
	mu       sync.Mutex
	settings *conf.Settings
	logger   *slog.Logger

	engine        *engine
	outFile       *os.File
	encoder       *wav.Encoder
	state         State
	stallObserver watchdog.WarningObserver

	sampleRate int
	quit       chan struct{}
	pumpDone   sync.WaitGroup

	snapshots chan render.Snapshot
	scratch   []float32
	intBuf    *audio.IntBuffer
}

func newFileController(settings *conf.Settings, stallObserver watchdog.WarningObserver) *fileController {
	logger := logging.ForService("playback")
	if logger == nil {
		logger = slog.Default().With("service", "playback")
	}
	return &fileController{
		settings:      settings,
		logger:        logger.With("adapter", "wav-file"),
		state:         StateIdle,
		stallObserver: stallObserver,
		snapshots:     make(chan render.Snapshot, 8),
	}
}

func (c *fileController) Load(_ context.Context, spec TrackSpec) (*Feed, error) {
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

	path := exportFilePath(c.settings.Realtime.Playback.ExportPath, spec.Title)
	outFile, err := os.Create(path)
	if err != nil {
		return nil, errors.New(err).
			Component("playback").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	c.engine = eng
	c.outFile = outFile
	c.encoder = wav.NewEncoder(outFile, sampleRate, wavBitDepth, eng.channels, 1)
	c.sampleRate = sampleRate
	c.scratch = make([]float32, eng.quantum*eng.channels)
	c.intBuf = &audio.IntBuffer{
		Data:   make([]int, eng.quantum*eng.channels),
		Format: &audio.Format{SampleRate: sampleRate, NumChannels: eng.channels},
	}
	c.state = StateLoaded

	c.logger.Info("export file ready",
		"path", path,
		"sample_rate", sampleRate,
		"channels", eng.channels,
		"title", spec.Title)

	return eng.feed, nil
}

// exportFilePath builds the output filename from the track title,
// stripped of path separators.
func exportFilePath(dir, title string) string {
	if dir == "" {
		dir = "."
	}
	name := strings.TrimSpace(title)
	if name == "" {
		name = "chipstream"
	}
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '-'
		default:
			return r
		}
	}, name)
	return filepath.Join(dir, name+".wav")
}

func (c *fileController) Play() error {
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
	c.logger.Info("export started")
	return nil
}

// pump paces the render loop at real time so the producer sees the same
// backpressure rhythm a sound device would impose.
func (c *fileController) pump(quit chan struct{}) {
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
			for i, v := range c.scratch {
				c.intBuf.Data[i] = clampToPCM16(v)
			}
			if err := c.encoder.Write(c.intBuf); err != nil {
				c.logger.Error("wav encoder write failed", "error", err)
				return
			}
		}
	}
}

// clampToPCM16 scales a float32 sample to the 16-bit integer range.
func clampToPCM16(v float32) int {
	scaled := int(v * 32768)
	if scaled > 32767 {
		return 32767
	}
	if scaled < -32768 {
		return -32768
	}
	return scaled
}

// stopPumpLocked halts the pump goroutine. Callers hold c.mu.
func (c *fileController) stopPumpLocked() {
	if c.quit == nil {
		return
	}
	close(c.quit)
	c.pumpDone.Wait()
	c.quit = nil
}

func (c *fileController) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateTornDown {
		return ErrTornDown
	}
	if c.state != StatePlaying {
		return nil
	}
	c.stopPumpLocked()
	c.reportWatchdog("pause")
	c.state = StatePaused
	return nil
}

func (c *fileController) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateTornDown {
		return ErrTornDown
	}
	if c.state != StatePlaying && c.state != StatePaused {
		return nil
	}
	c.stopPumpLocked()
	c.reportWatchdog("stop")
	c.state = StateStopped
	return nil
}

func (c *fileController) Teardown() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateTornDown {
		return nil
	}
	c.stopPumpLocked()
	if c.engine != nil {
		c.reportWatchdog("teardown")
	}

	var firstErr error
	if c.encoder != nil {
		if err := c.encoder.Close(); err != nil {
			firstErr = errors.New(err).
				Component("playback").
				Category(errors.CategoryFileIO).
				Context("operation", "finalize-wav").
				Build()
		}
		c.encoder = nil
	}
	if c.outFile != nil {
		if err := c.outFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.outFile = nil
	}
	c.state = StateTornDown
	return firstErr
}

func (c *fileController) Telemetry() render.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine == nil {
		return render.Snapshot{}
	}
	return c.engine.callback.Snapshot()
}

func (c *fileController) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshots exposes the telemetry stream for observers.
func (c *fileController) Snapshots() <-chan render.Snapshot {
	return c.snapshots
}

func (c *fileController) reportWatchdog(outcome string) {
	report := c.engine.stopWatchdog(outcome)
	if report == nil {
		return
	}
	c.logger.Info("delivery report",
		"outcome", report.Outcome,
		"duration", report.Duration,
		"warnings", report.Warnings,
		"worst_delta", report.WorstDelta)
}
