package playback

import (
	"log/slog"
	"time"

	"github.com/chipstream-io/chipstream/internal/conf"
	"github.com/chipstream-io/chipstream/internal/errors"
	"github.com/chipstream-io/chipstream/internal/render"
	"github.com/chipstream-io/chipstream/internal/ringbuf"
	"github.com/chipstream-io/chipstream/internal/watchdog"
)

// engine is the delivery assembly shared by every adapter: one ring
// buffer, its producer-side feed, the render callback, and the stall
// watchdog. Adapters embed an engine and add their output transport.
type engine struct {
	ring     *ringbuf.RingBuffer
	feed     *Feed
	callback *render.Callback
	watchdog *watchdog.StallWatchdog

	channels int
	quantum  int

	// per-channel scratch the render callback fills each quantum
	out [][]float32
}

// newEngine assembles the pipeline for the given stream parameters.
// snapshots, when non-nil, receives telemetry at the configured cadence;
// stallObserver, when non-nil, receives aggregated watchdog warnings.
func newEngine(spec TrackSpec, settings *conf.Settings, logger *slog.Logger, snapshots chan<- render.Snapshot, stallObserver watchdog.WarningObserver) (*engine, error) {
	channels := spec.Channels
	if channels < 1 {
		channels = settings.Realtime.Audio.Channels
	}
	sampleRate := spec.SampleRate
	if sampleRate <= 0 {
		sampleRate = conf.SampleRate
	}

	ring, err := ringbuf.New(settings.Realtime.Audio.BufferFrames, channels, conf.BlockSize)
	if err != nil {
		return nil, errors.New(err).
			Component("playback").
			Category(errors.CategoryRingBuffer).
			Context("requested_frames", settings.Realtime.Audio.BufferFrames).
			Build()
	}

	var emit render.Emitter
	if snapshots != nil {
		emit = render.ChannelEmitter(snapshots)
	}

	quantum := conf.BlockSize
	callback := render.New(ring.Consumer(), quantum, settings.Realtime.Audio.TelemetryEach, logger, emit)

	feed := newFeed(ring.Producer(), channels, conf.BlockSize, logger)

	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, quantum)
	}

	eng := &engine{
		ring:     ring,
		feed:     feed,
		callback: callback,
		channels: channels,
		quantum:  quantum,
		out:      out,
	}

	if settings.Realtime.Watchdog.Enabled {
		ideal := time.Duration(quantum) * time.Second / time.Duration(sampleRate)
		eng.watchdog = watchdog.New(ideal, settings.Realtime.Watchdog.ToleranceMs, settings.Realtime.Watchdog.WindowSize, stallObserver)
	}

	return eng, nil
}

// startWatchdog begins producer-side stall sampling, if configured.
func (e *engine) startWatchdog() {
	if e.watchdog != nil {
		e.watchdog.Start()
	}
}

// stopWatchdog stops sampling and returns the final report, or nil.
func (e *engine) stopWatchdog(outcome string) *watchdog.Report {
	if e.watchdog == nil {
		return nil
	}
	return e.watchdog.Stop(outcome)
}

// renderInto runs the callback for every whole quantum in frames and
// interleaves the result into dst as float32 frames. Frames beyond the
// last whole quantum are zeroed. Returns the silent quanta count.
func (e *engine) renderInto(dst []float32, frames int) int {
	silent := 0
	offset := 0
	for offset+e.quantum <= frames {
		if !e.callback.Render(e.out) {
			silent++
		}
		for f := 0; f < e.quantum; f++ {
			base := (offset + f) * e.channels
			for ch := 0; ch < e.channels; ch++ {
				dst[base+ch] = e.out[ch][f]
			}
		}
		offset += e.quantum
	}
	for i := offset * e.channels; i < frames*e.channels; i++ {
		dst[i] = 0
	}
	return silent
}
