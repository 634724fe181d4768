// Package render implements the real-time consumer logic: a fixed-quantum
// callback that pulls from the ring buffer and degrades to silence on
// underrun instead of blocking.
package render

import (
	"log/slog"
	"sync/atomic"

	"github.com/chipstream-io/chipstream/internal/ringbuf"
)

const (
	// immediateUnderrunLogs underrun events are logged as they happen;
	// after that only every underrunLogInterval-th is logged so sustained
	// starvation cannot flood the diagnostics output.
	immediateUnderrunLogs = 5
	underrunLogInterval   = 100
)

// Snapshot is the periodic telemetry message the render side publishes.
// It is plain data: safe to copy, marshal, and hand to any observer.
type Snapshot struct {
	FramesConsumed   uint64 `json:"frames_consumed"`
	Underruns        uint64 `json:"underruns"`
	SilentFrames     uint64 `json:"silent_frames"`
	MinOccupancy     int    `json:"min_occupancy"`
	MaxOccupancy     int    `json:"max_occupancy"`
	CurrentOccupancy int    `json:"current_occupancy"`
}

// Emitter receives snapshots at a fixed cadence. Implementations must not
// block: the call happens on the real-time render path.
type Emitter func(Snapshot)

// ChannelEmitter adapts a channel into a non-blocking Emitter. Snapshots
// are dropped when the channel is full; telemetry is advisory and a stale
// snapshot is worth less than a delayed quantum.
func ChannelEmitter(ch chan<- Snapshot) Emitter {
	return func(s Snapshot) {
		select {
		case ch <- s:
		default:
		}
	}
}

// Callback pulls exactly one quantum per invocation. All counters are
// written only by the render goroutine and read atomically by observers,
// so the hot path needs no lock.
type Callback struct {
	consumer *ringbuf.Consumer
	quantum  int

	framesConsumed atomic.Uint64
	underruns      atomic.Uint64
	silentFrames   atomic.Uint64
	minOccupancy   atomic.Int64
	maxOccupancy   atomic.Int64

	quantaSinceEmit int
	emitEvery       int
	emit            Emitter

	logger *slog.Logger
}

// New creates a render callback reading from cons. quantum must match the
// host's fixed callback size and be a multiple of the ring block size.
// emitEvery sets how many quanta pass between snapshots; emit may be nil.
func New(cons *ringbuf.Consumer, quantum, emitEvery int, logger *slog.Logger, emit Emitter) *Callback {
	if logger == nil {
		logger = slog.Default()
	}
	cb := &Callback{
		consumer:  cons,
		quantum:   quantum,
		emitEvery: emitEvery,
		emit:      emit,
		logger:    logger,
	}
	cb.minOccupancy.Store(int64(cons.Occupancy()))
	return cb
}

// Quantum returns the fixed frame count rendered per invocation.
func (cb *Callback) Quantum() int { return cb.quantum }

// Render fills out with one quantum of audio, one slice per channel. It
// has exactly two branches: a successful read, or silence. It never waits,
// never retries, and returns false when this quantum was silence.
func (cb *Callback) Render(out [][]float32) bool {
	n, err := cb.consumer.Read(out, cb.quantum)

	var ok bool
	switch {
	case err != nil:
		// Contract violation from a misconfigured host. Treat as
		// silence; the error is logged through the throttle below.
		cb.fillSilence(out)
		cb.noteUnderrun(err)
	case n == cb.quantum:
		cb.framesConsumed.Add(uint64(n))
		ok = true
	default:
		cb.fillSilence(out)
		cb.noteUnderrun(nil)
	}

	cb.updateWatermarks()

	cb.quantaSinceEmit++
	if cb.emit != nil && cb.quantaSinceEmit >= cb.emitEvery {
		cb.quantaSinceEmit = 0
		cb.emit(cb.Snapshot())
	}

	return ok
}

// fillSilence zeroes every output channel for this quantum.
func (cb *Callback) fillSilence(out [][]float32) {
	for ch := range out {
		frames := out[ch]
		if len(frames) > cb.quantum {
			frames = frames[:cb.quantum]
		}
		for i := range frames {
			frames[i] = 0
		}
	}
	cb.silentFrames.Add(uint64(cb.quantum))
}

// noteUnderrun counts the starved quantum and logs it at a throttled rate.
func (cb *Callback) noteUnderrun(err error) {
	count := cb.underruns.Add(1)
	if count <= immediateUnderrunLogs || count%underrunLogInterval == 0 {
		if err != nil {
			cb.logger.Error("render read rejected, emitting silence",
				"error", err,
				"underruns", count)
			return
		}
		cb.logger.Warn("render underrun, emitting silence",
			"underruns", count,
			"occupancy", cb.consumer.Occupancy())
	}
}

// updateWatermarks tracks the occupancy envelope seen by the render side.
func (cb *Callback) updateWatermarks() {
	occ := int64(cb.consumer.Occupancy())
	if occ < cb.minOccupancy.Load() {
		cb.minOccupancy.Store(occ)
	}
	if occ > cb.maxOccupancy.Load() {
		cb.maxOccupancy.Store(occ)
	}
}

// Snapshot returns the current telemetry counters. Safe to call from any
// goroutine.
func (cb *Callback) Snapshot() Snapshot {
	return Snapshot{
		FramesConsumed:   cb.framesConsumed.Load(),
		Underruns:        cb.underruns.Load(),
		SilentFrames:     cb.silentFrames.Load(),
		MinOccupancy:     int(cb.minOccupancy.Load()),
		MaxOccupancy:     int(cb.maxOccupancy.Load()),
		CurrentOccupancy: cb.consumer.Occupancy(),
	}
}
