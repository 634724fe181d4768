package playback

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"strings"
	"sync"
	"unsafe"

	"github.com/gen2brain/malgo"

	"github.com/chipstream-io/chipstream/internal/conf"
	"github.com/chipstream-io/chipstream/internal/errors"
	"github.com/chipstream-io/chipstream/internal/logging"
	"github.com/chipstream-io/chipstream/internal/render"
	"github.com/chipstream-io/chipstream/internal/watchdog"
)

// playbackSink holds information about a selected output device.
type playbackSink struct {
	Name    string
	ID      string
	Pointer unsafe.Pointer
}

// AudioDeviceInfo describes one playback device for listing.
type AudioDeviceInfo struct {
	Index   int
	Name    string
	ID      string
	Default bool
}

// NewMalgoDescriptor returns the registry entry for the miniaudio device
// adapter. Availability requires a working backend context with at least
// one playback device.
func NewMalgoDescriptor() Descriptor {
	return Descriptor{
		ID:       "malgo",
		Kind:     KindDevice,
		Priority: 100,
		Available: func(rc RuntimeContext) error {
			devices, err := ListPlaybackDevices()
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				return errors.NewStd("no playback devices present")
			}
			return nil
		},
		Factory: func(rc RuntimeContext) (Controller, error) {
			return newMalgoController(rc.Settings, rc.StallObserver), nil
		},
	}
}

// ListPlaybackDevices enumerates the host's playback devices.
func ListPlaybackDevices() ([]AudioDeviceInfo, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize context: %w", err)
	}
	defer ctx.Uninit() //nolint:errcheck

	infos, err := ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}

	var devices []AudioDeviceInfo
	for i, info := range infos {
		decodedID, err := hexToASCII(info.ID.String())
		if err != nil {
			continue
		}
		devices = append(devices, AudioDeviceInfo{
			Index:   i,
			Name:    info.Name(),
			ID:      decodedID,
			Default: info.IsDefault == 1,
		})
	}
	return devices, nil
}

// selectPlaybackSink picks the output device matching the configured
// device setting. An empty setting selects the host default.
func selectPlaybackSink(deviceSetting string, infos []malgo.DeviceInfo) (playbackSink, error) {
	for _, info := range infos {
		decodedID, err := hexToASCII(info.ID.String())
		if err != nil {
			continue
		}
		if matchesDeviceSetting(decodedID, info, deviceSetting) {
			return playbackSink{
				Name:    info.Name(),
				ID:      decodedID,
				Pointer: info.ID.Pointer(),
			}, nil
		}
	}
	return playbackSink{}, fmt.Errorf("no playback device matches setting %q", deviceSetting)
}

// matchesDeviceSetting checks if the device matches the configured name.
func matchesDeviceSetting(decodedID string, info malgo.DeviceInfo, deviceSetting string) bool {
	if deviceSetting == "" || deviceSetting == "default" {
		return info.IsDefault == 1
	}
	if runtime.GOOS == "windows" && deviceSetting == "sysdefault" {
		// On Windows there is no "sysdefault" device; use miniaudio's
		// default device instead.
		return info.IsDefault == 1
	}
	return decodedID == deviceSetting || strings.Contains(info.Name(), deviceSetting)
}

// hexToASCII converts a hexadecimal string to an ASCII string.
func hexToASCII(hexStr string) (string, error) {
	bytes, err := hex.DecodeString(hexStr)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// hostBackend picks the miniaudio backend for the current OS, nil slice
// for auto select elsewhere.
func hostBackend() []malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return []malgo.Backend{malgo.BackendAlsa}
	case "windows":
		return []malgo.Backend{malgo.BackendWasapi}
	case "darwin":
		return []malgo.Backend{malgo.BackendCoreaudio}
	default:
		return nil
	}
}

// malgoController drives a real sound device. The miniaudio data callback
// pulls whole quanta out of the ring through the shared engine and
// interleaves them into the device buffer as little-endian float32.
type malgoController struct {
	mu       sync.Mutex
	settings *conf.Settings
	logger   *slog.Logger

	engine        *engine
	malgoCtx      *malgo.AllocatedContext
	device        *malgo.Device
	state         State
	sink          playbackSink
	stallObserver watchdog.WarningObserver

	snapshots chan render.Snapshot
	scratch   []float32
}

func newMalgoController(settings *conf.Settings, stallObserver watchdog.WarningObserver) *malgoController {
	logger := logging.ForService("playback")
	if logger == nil {
		logger = slog.Default().With("service", "playback")
	}
	return &malgoController{
		settings:      settings,
		logger:        logger.With("adapter", "malgo"),
		state:         StateIdle,
		stallObserver: stallObserver,
		snapshots:     make(chan render.Snapshot, 8),
	}
}

func (c *malgoController) Load(_ context.Context, spec TrackSpec) (*Feed, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateTornDown {
		return nil, ErrTornDown
	}

	eng, err := newEngine(spec, c.settings, c.logger, c.snapshots, c.stallObserver)
	if err != nil {
		return nil, err
	}

	malgoCtx, err := malgo.InitContext(hostBackend(), malgo.ContextConfig{}, func(message string) {
		if c.settings.Main.Debug {
			c.logger.Debug("miniaudio", "message", strings.TrimSpace(message))
		}
	})
	if err != nil {
		return nil, errors.New(err).
			Component("playback").
			Category(errors.CategoryDevice).
			Context("operation", "init-context").
			Build()
	}

	infos, err := malgoCtx.Devices(malgo.Playback)
	if err != nil {
		_ = malgoCtx.Uninit()
		return nil, errors.New(err).
			Component("playback").
			Category(errors.CategoryDevice).
			Context("operation", "enumerate").
			Build()
	}

	sink, err := selectPlaybackSink(c.settings.Realtime.Audio.Device, infos)
	if err != nil {
		_ = malgoCtx.Uninit()
		return nil, errors.New(err).
			Component("playback").
			Category(errors.CategoryDevice).
			Context("device_setting", c.settings.Realtime.Audio.Device).
			Build()
	}

	sampleRate := spec.SampleRate
	if sampleRate <= 0 {
		sampleRate = conf.SampleRate
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = uint32(eng.channels)
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(eng.quantum)
	deviceConfig.Alsa.NoMMap = 1
	deviceConfig.Playback.DeviceID = sink.Pointer

	onSendFrames := func(pOutput, _ []byte, frameCount uint32) {
		c.render(pOutput, int(frameCount))
	}

	// onStopDevice fires when the device stops, normally or not. The
	// lifecycle methods own restarts, so only note unexpected stops.
	onStopDevice := func() {
		c.mu.Lock()
		state := c.state
		c.mu.Unlock()
		if state == StatePlaying {
			c.logger.Warn("output device stopped unexpectedly", "device", sink.Name)
		}
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onSendFrames,
		Stop: onStopDevice,
	})
	if err != nil {
		_ = malgoCtx.Uninit()
		return nil, errors.New(err).
			Component("playback").
			Category(errors.CategoryDevice).
			Context("device", sink.Name).
			Build()
	}

	c.engine = eng
	c.malgoCtx = malgoCtx
	c.device = device
	c.sink = sink
	c.scratch = make([]float32, eng.quantum*eng.channels)
	c.state = StateLoaded

	c.logger.Info("output device ready",
		"device", sink.Name,
		"sample_rate", sampleRate,
		"channels", eng.channels,
		"title", spec.Title)

	return eng.feed, nil
}

// render fills the device buffer from the engine. Runs on the miniaudio
// audio thread, so no locks and no allocation.
func (c *malgoController) render(out []byte, frameCount int) {
	eng := c.engine
	if eng == nil {
		for i := range out {
			out[i] = 0
		}
		return
	}

	need := frameCount * eng.channels
	scratch := c.scratch
	if cap(scratch) < need {
		// Host asked for more than a quantum per callback; grow once.
		scratch = make([]float32, need)
		c.scratch = scratch
	}
	scratch = scratch[:need]

	eng.renderInto(scratch, frameCount)
	for i, v := range scratch {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
}

func (c *malgoController) Play() error {
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

	if err := c.device.Start(); err != nil {
		return errors.New(err).
			Component("playback").
			Category(errors.CategoryDevice).
			Context("device", c.sink.Name).
			Build()
	}
	c.engine.startWatchdog()
	c.state = StatePlaying
	c.logger.Info("playback started", "device", c.sink.Name)
	return nil
}

func (c *malgoController) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateTornDown {
		return ErrTornDown
	}
	if c.state != StatePlaying {
		return nil
	}

	if err := c.device.Stop(); err != nil {
		return errors.New(err).
			Component("playback").
			Category(errors.CategoryDevice).
			Context("device", c.sink.Name).
			Build()
	}
	c.reportWatchdog("pause")
	c.state = StatePaused
	return nil
}

func (c *malgoController) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateTornDown {
		return ErrTornDown
	}
	if c.state != StatePlaying && c.state != StatePaused {
		return nil
	}

	if c.state == StatePlaying {
		if err := c.device.Stop(); err != nil {
			return errors.New(err).
				Component("playback").
				Category(errors.CategoryDevice).
				Context("device", c.sink.Name).
				Build()
		}
	}
	c.reportWatchdog("stop")
	c.state = StateStopped
	return nil
}

func (c *malgoController) Teardown() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateTornDown {
		return nil
	}

	if c.device != nil {
		_ = c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}
	if c.malgoCtx != nil {
		_ = c.malgoCtx.Uninit()
		c.malgoCtx = nil
	}
	if c.engine != nil {
		c.reportWatchdog("teardown")
	}
	c.state = StateTornDown
	return nil
}

func (c *malgoController) Telemetry() render.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine == nil {
		return render.Snapshot{}
	}
	return c.engine.callback.Snapshot()
}

func (c *malgoController) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshots exposes the telemetry stream for observers.
func (c *malgoController) Snapshots() <-chan render.Snapshot {
	return c.snapshots
}

// reportWatchdog stops stall sampling and logs the final report. Callers
// hold c.mu.
func (c *malgoController) reportWatchdog(outcome string) {
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
