package playback

import (
	"encoding/binary"
	"log/slog"
	"math"

	"github.com/smallnest/ringbuffer"

	"github.com/chipstream-io/chipstream/internal/conf"
	"github.com/chipstream-io/chipstream/internal/errors"
	"github.com/chipstream-io/chipstream/internal/ringbuf"
)

// stagingCapacityBlocks sizes the byte staging buffer between the decoder
// and the block-aligned producer. The decoder pushes whatever chunk size
// its emulation loop produced; the staging buffer absorbs the mismatch.
const stagingCapacityBlocks = 32

// Feed is the producer-side entry point of the delivery pipeline. The
// decoder pushes interleaved 16-bit little-endian PCM of arbitrary byte
// length; the feed stages it, converts complete blocks to float32, and
// writes them into the SPSC ring with backpressure awareness. A Feed must
// be used from a single goroutine, it is the producer side.
type Feed struct {
	staging   *ringbuffer.RingBuffer
	producer  *ringbuf.Producer
	channels  int
	blockSize int

	// reusable scratch, sized once so the push path does not allocate
	byteBlock  []byte
	floatBlock []float32

	framesDelivered uint64
	framesDropped   uint64

	logger *slog.Logger
}

// newFeed builds a feed draining into prod.
func newFeed(prod *ringbuf.Producer, channels, blockSize int, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	bytesPerBlock := blockSize * channels * conf.SampleDepth
	return &Feed{
		staging:    ringbuffer.New(stagingCapacityBlocks * bytesPerBlock),
		producer:   prod,
		channels:   channels,
		blockSize:  blockSize,
		byteBlock:  make([]byte, bytesPerBlock),
		floatBlock: make([]float32, blockSize*channels),
		logger:     logger,
	}
}

// Push accepts decoded PCM bytes and drains as many complete blocks as
// the ring accepts. It returns the number of frames delivered into the
// ring by this call. Push never blocks: bytes that fit neither the ring
// nor the staging buffer are dropped and counted, which is the producer's
// backpressure signal to slow down.
func (f *Feed) Push(pcm []byte) (int, error) {
	if len(pcm)%(f.channels*conf.SampleDepth) != 0 {
		return 0, errors.Newf("pcm push of %d bytes is not frame aligned", len(pcm)).
			Component("playback").
			Category(errors.CategoryValidation).
			Build()
	}

	n, err := f.staging.Write(pcm)
	if err != nil && !errors.Is(err, ringbuffer.ErrTooMuchDataToWrite) && !errors.Is(err, ringbuffer.ErrIsFull) {
		return 0, errors.New(err).
			Component("playback").
			Category(errors.CategoryRingBuffer).
			Context("push_bytes", len(pcm)).
			Build()
	}
	if n < len(pcm) {
		dropped := uint64(len(pcm)-n) / uint64(f.channels*conf.SampleDepth)
		f.framesDropped += dropped
		f.logger.Debug("staging buffer full, dropping frames",
			"dropped_frames", dropped,
			"staged_bytes", f.staging.Length())
	}

	return f.drain(), nil
}

// drain moves complete blocks from staging into the ring until the ring
// pushes back or staging runs dry. Returns frames delivered.
func (f *Feed) drain() int {
	bytesPerBlock := len(f.byteBlock)
	delivered := 0

	for f.staging.Length() >= bytesPerBlock {
		if f.producer.AvailableWrite() < f.blockSize {
			break
		}

		if _, err := f.staging.Read(f.byteBlock); err != nil {
			// Length was checked; a short read here means the staging
			// buffer is in a state we cannot reason about.
			f.logger.Error("staging read failed", "error", err)
			break
		}

		pcm16ToFloat32(f.byteBlock, f.floatBlock)

		n, err := f.producer.Write(f.floatBlock)
		if err != nil {
			f.logger.Error("ring write rejected", "error", err)
			break
		}
		if n == 0 {
			// Lost the race against occupancy; the block is gone from
			// staging, count it as dropped rather than stalling.
			f.framesDropped += uint64(f.blockSize)
			break
		}
		delivered += n
	}

	f.framesDelivered += uint64(delivered)
	return delivered
}

// AvailableWrite exposes the ring headroom for producer pacing.
func (f *Feed) AvailableWrite() int {
	return f.producer.AvailableWrite()
}

// Occupancy exposes the ring occupancy from the producer side.
func (f *Feed) Occupancy() int {
	return f.producer.Occupancy()
}

// StagedBytes returns how many bytes sit in the staging buffer waiting
// for ring space.
func (f *Feed) StagedBytes() int {
	return f.staging.Length()
}

// FramesDelivered returns the cumulative frames written into the ring.
func (f *Feed) FramesDelivered() uint64 {
	return f.framesDelivered
}

// FramesDropped returns frames discarded because both the ring and the
// staging buffer were full.
func (f *Feed) FramesDropped() uint64 {
	return f.framesDropped
}

// pcm16ToFloat32 converts interleaved 16-bit little-endian PCM into
// float32 samples in [-1, 1).
func pcm16ToFloat32(src []byte, dst []float32) {
	for i := range dst {
		s := int16(binary.LittleEndian.Uint16(src[i*2:]))
		dst[i] = float32(s) / float32(math.MaxInt16+1)
	}
}

// float32ToPCM16 converts float32 samples back to interleaved 16-bit
// little-endian PCM, clamping out-of-range values.
func float32ToPCM16(src []float32, dst []byte) {
	for i, v := range src {
		scaled := v * float32(math.MaxInt16+1)
		switch {
		case scaled > math.MaxInt16:
			scaled = math.MaxInt16
		case scaled < math.MinInt16:
			scaled = math.MinInt16
		}
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(int16(scaled)))
	}
}
