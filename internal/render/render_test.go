package render

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chipstream-io/chipstream/internal/ringbuf"
)

const (
	testQuantum  = 128
	testChannels = 2
)

func newTestRing(t *testing.T) (*ringbuf.Producer, *ringbuf.Consumer) {
	t.Helper()
	rb, err := ringbuf.New(1024, testChannels, testQuantum)
	require.NoError(t, err)
	return rb.Producer(), rb.Consumer()
}

func newOut() [][]float32 {
	out := make([][]float32, testChannels)
	for ch := range out {
		out[ch] = make([]float32, testQuantum)
	}
	return out
}

func fillRing(t *testing.T, prod *ringbuf.Producer, frames int, value float32) {
	t.Helper()
	block := make([]float32, frames*testChannels)
	for i := range block {
		block[i] = value
	}
	n, err := prod.Write(block)
	require.NoError(t, err)
	require.Equal(t, frames, n)
}

func TestRenderSuccessBranch(t *testing.T) {
	t.Parallel()

	prod, cons := newTestRing(t)
	cb := New(cons, testQuantum, 1000, slog.Default(), nil)

	fillRing(t, prod, testQuantum, 0.5)

	out := newOut()
	ok := cb.Render(out)
	assert.True(t, ok)

	for ch := range out {
		for f := range out[ch] {
			require.InDelta(t, 0.5, out[ch][f], 1e-5)
		}
	}

	snap := cb.Snapshot()
	assert.Equal(t, uint64(testQuantum), snap.FramesConsumed)
	assert.Equal(t, uint64(0), snap.Underruns)
}

func TestRenderUnderrunEmitsSilence(t *testing.T) {
	t.Parallel()

	_, cons := newTestRing(t)
	cb := New(cons, testQuantum, 1000, slog.Default(), nil)

	// Pre-poison the output to prove the silence fill touches every sample.
	out := newOut()
	for ch := range out {
		for f := range out[ch] {
			out[ch][f] = 0.9
		}
	}

	ok := cb.Render(out)
	assert.False(t, ok)

	for ch := range out {
		for f := range out[ch] {
			require.Zero(t, out[ch][f], "channel %d frame %d not silenced", ch, f)
		}
	}

	snap := cb.Snapshot()
	assert.Equal(t, uint64(0), snap.FramesConsumed)
	assert.Equal(t, uint64(1), snap.Underruns)
	assert.Equal(t, uint64(testQuantum), snap.SilentFrames)
}

func TestRenderPartialOccupancyIsUnderrun(t *testing.T) {
	t.Parallel()

	prod, cons := newTestRing(t)
	cb := New(cons, 2*testQuantum, 1000, slog.Default(), nil)

	// One quantum buffered, callback wants two: no partial delivery.
	fillRing(t, prod, testQuantum, 0.25)

	out := make([][]float32, testChannels)
	for ch := range out {
		out[ch] = make([]float32, 2*testQuantum)
	}

	ok := cb.Render(out)
	assert.False(t, ok)
	assert.Equal(t, testQuantum, cons.Occupancy(), "failed read must not consume frames")
}

func TestTelemetryCadence(t *testing.T) {
	t.Parallel()

	prod, cons := newTestRing(t)

	var emitted []Snapshot
	cb := New(cons, testQuantum, 4, slog.Default(), func(s Snapshot) {
		emitted = append(emitted, s)
	})

	out := newOut()
	for q := 0; q < 12; q++ {
		fillRing(t, prod, testQuantum, 0.1)
		cb.Render(out)
	}

	require.Len(t, emitted, 3, "every 4th quantum emits a snapshot")
	last := emitted[len(emitted)-1]
	assert.Equal(t, uint64(12*testQuantum), last.FramesConsumed)
}

func TestWatermarksTrackOccupancyEnvelope(t *testing.T) {
	t.Parallel()

	prod, cons := newTestRing(t)
	cb := New(cons, testQuantum, 1000, slog.Default(), nil)
	out := newOut()

	// Build occupancy up to 3 quanta, then drain to zero.
	fillRing(t, prod, 3*testQuantum, 0.2)
	for q := 0; q < 4; q++ {
		cb.Render(out)
	}

	snap := cb.Snapshot()
	assert.Equal(t, 0, snap.MinOccupancy)
	assert.GreaterOrEqual(t, snap.MaxOccupancy, 2*testQuantum)
	assert.Equal(t, 0, snap.CurrentOccupancy)
}

func TestChannelEmitterNeverBlocks(t *testing.T) {
	t.Parallel()

	ch := make(chan Snapshot, 1)
	emit := ChannelEmitter(ch)

	emit(Snapshot{Underruns: 1})
	// Channel now full; the second emit must drop instead of blocking.
	emit(Snapshot{Underruns: 2})

	got := <-ch
	assert.Equal(t, uint64(1), got.Underruns)
	select {
	case <-ch:
		t.Fatal("expected second snapshot to be dropped")
	default:
	}
}
