// Package ringbuf implements the lock-free single-producer single-consumer
// frame ring that carries decoded PCM from the decoder goroutine to the
// real-time render callback.
//
// The shared layout is deliberately primitive: two monotonically increasing
// atomic frame cursors followed by a flat interleaved float32 sample array.
// No other state crosses the boundary between the two sides. The producer
// is the only writer of the write cursor, the consumer the only writer of
// the read cursor, and every transfer is an exact multiple of the block
// size. Sample copies always complete before the cursor store that exposes
// them, so the opposite side never observes a cursor pointing at
// not-yet-written samples.
//
// Full and empty are distinguishable because one block of capacity is
// permanently reserved: the ring is full at occupancy == capacity - block.
package ringbuf

import (
	"sync/atomic"

	"github.com/chipstream-io/chipstream/internal/errors"
)

// Contract violation sentinels. These indicate programmer error, never
// runtime flow control; full and empty conditions are zero returns instead.
var (
	ErrUnalignedFrames  = errors.NewStd("frame count is not a multiple of the block size")
	ErrChannelMismatch  = errors.NewStd("destination channel count does not match ring layout")
	ErrShortDestination = errors.NewStd("destination slice shorter than requested frame count")
)

// RingBuffer owns the shared region: control cursors plus interleaved
// sample storage. Obtain the two sides with Producer and Consumer; each
// side must stay confined to a single goroutine.
type RingBuffer struct {
	// Cursors count frames monotonically and are interpreted modulo
	// capacityFrames when indexing storage. Padding keeps them on
	// separate cache lines so the two sides do not false-share.
	writeCursor atomic.Uint64
	_           [56]byte
	readCursor  atomic.Uint64
	_           [56]byte

	samples        []float32 // interleaved, capacityFrames*channels long
	capacityFrames int
	channels       int
	blockSize      int
}

// New allocates a ring buffer. The requested capacity is rounded up to the
// next multiple of blockSize; rounding down would silently shrink the
// headroom the caller asked for.
func New(capacityFrames, channels, blockSize int) (*RingBuffer, error) {
	if capacityFrames <= 0 {
		return nil, errors.Newf("invalid capacity: %d frames, must be greater than 0", capacityFrames).
			Component("ringbuf").
			Category(errors.CategoryValidation).
			Build()
	}
	if blockSize <= 0 {
		return nil, errors.Newf("invalid block size: %d frames, must be greater than 0", blockSize).
			Component("ringbuf").
			Category(errors.CategoryValidation).
			Build()
	}
	if channels < 1 {
		return nil, errors.Newf("invalid channel count: %d, must be at least 1", channels).
			Component("ringbuf").
			Category(errors.CategoryValidation).
			Build()
	}

	if rem := capacityFrames % blockSize; rem != 0 {
		capacityFrames += blockSize - rem
	}

	return &RingBuffer{
		samples:        make([]float32, capacityFrames*channels),
		capacityFrames: capacityFrames,
		channels:       channels,
		blockSize:      blockSize,
	}, nil
}

// CapacityFrames returns the rounded-up capacity in frames.
func (rb *RingBuffer) CapacityFrames() int { return rb.capacityFrames }

// Channels returns the channel count of the interleaved storage.
func (rb *RingBuffer) Channels() int { return rb.channels }

// BlockSize returns the fixed transfer quantum in frames.
func (rb *RingBuffer) BlockSize() int { return rb.blockSize }

// Occupancy returns the number of frames written but not yet read. It is
// computed from the two cursors alone so producer-side and consumer-side
// telemetry can never disagree.
func (rb *RingBuffer) Occupancy() int {
	return int(rb.writeCursor.Load() - rb.readCursor.Load())
}

// Producer returns the write side handle. Call exactly once per buffer and
// confine the handle to the producer goroutine.
func (rb *RingBuffer) Producer() *Producer {
	return &Producer{ring: rb}
}

// Consumer returns the read side handle. Call exactly once per buffer and
// confine the handle to the consumer goroutine.
func (rb *RingBuffer) Consumer() *Consumer {
	return &Consumer{ring: rb}
}
