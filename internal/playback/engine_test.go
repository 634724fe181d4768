package playback

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/chipstream-io/chipstream/internal/conf"
	"github.com/chipstream-io/chipstream/internal/watchdog"
)

func TestEngineRenderStartsWithSilence(t *testing.T) {
	t.Parallel()

	eng, err := newEngine(TrackSpec{Channels: 2}, testSettings(), slog.Default(), nil, nil)
	require.NoError(t, err)

	dst := make([]float32, conf.BlockSize*2)
	for i := range dst {
		dst[i] = 0.5
	}

	silent := eng.renderInto(dst, conf.BlockSize)
	assert.Equal(t, 1, silent)
	for i, v := range dst {
		require.Zerof(t, v, "sample %d should be silence", i)
	}
}

func TestEngineRenderDeliversFedAudio(t *testing.T) {
	t.Parallel()

	eng, err := newEngine(TrackSpec{Channels: 2}, testSettings(), slog.Default(), nil, nil)
	require.NoError(t, err)

	delivered, err := eng.feed.Push(pcmFrames(conf.BlockSize, 1000))
	require.NoError(t, err)
	require.Equal(t, conf.BlockSize, delivered)

	dst := make([]float32, conf.BlockSize*2)
	silent := eng.renderInto(dst, conf.BlockSize)
	assert.Zero(t, silent)

	want := float32(1000) / 32768
	for i, v := range dst {
		require.InDeltaf(t, want, v, 1e-6, "sample %d", i)
	}
}

func TestEngineRenderZeroesPartialTail(t *testing.T) {
	t.Parallel()

	eng, err := newEngine(TrackSpec{Channels: 2}, testSettings(), slog.Default(), nil, nil)
	require.NoError(t, err)

	_, err = eng.feed.Push(pcmFrames(conf.BlockSize, 1000))
	require.NoError(t, err)

	// A frame count past the last whole quantum gets silence in the tail.
	frames := conf.BlockSize + 7
	dst := make([]float32, frames*2)
	for i := range dst {
		dst[i] = 0.25
	}
	eng.renderInto(dst, frames)

	for i := conf.BlockSize * 2; i < len(dst); i++ {
		require.Zerof(t, dst[i], "tail sample %d should be silence", i)
	}
}

func TestNullControllerLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctrl := newNullController(testSettings(), nil)
	feed, err := ctrl.Load(context.Background(), TrackSpec{Title: "lifecycle"})
	require.NoError(t, err)
	require.NotNil(t, feed)
	require.Equal(t, StateLoaded, ctrl.State())

	require.NoError(t, ctrl.Play())
	require.Equal(t, StatePlaying, ctrl.State())

	_, err = feed.Push(pcmFrames(4*conf.BlockSize, 500))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, ctrl.Pause())
	require.Equal(t, StatePaused, ctrl.State())
	require.NoError(t, ctrl.Play())

	require.NoError(t, ctrl.Stop())
	require.Equal(t, StateStopped, ctrl.State())

	require.NoError(t, ctrl.Teardown())
	require.Equal(t, StateTornDown, ctrl.State())
	require.NoError(t, ctrl.Teardown(), "teardown is idempotent")

	err = ctrl.Play()
	require.ErrorIs(t, err, ErrTornDown)
	_, err = ctrl.Load(context.Background(), TrackSpec{})
	require.ErrorIs(t, err, ErrTornDown)
}

func TestNullControllerForwardsStallWarnings(t *testing.T) {
	defer goleak.VerifyNone(t)

	settings := testSettings()
	settings.Realtime.Watchdog.Enabled = true
	settings.Realtime.Watchdog.WindowSize = 3
	// Negative tolerance zeroes the budget, so every sampled delta is
	// over budget and the first closed window must warn.
	settings.Realtime.Watchdog.ToleranceMs = -time.Second

	got := make(chan watchdog.Warning, 1)
	ctrl := newNullController(settings, func(w watchdog.Warning) {
		select {
		case got <- w:
		default:
		}
	})
	_, err := ctrl.Load(context.Background(), TrackSpec{Channels: 2})
	require.NoError(t, err)
	require.NoError(t, ctrl.Play())

	select {
	case w := <-got:
		assert.Equal(t, 3, w.WindowSize)
		assert.Positive(t, w.OverBudget)
	case <-time.After(2 * time.Second):
		t.Fatal("no stall warning reached the observer")
	}

	require.NoError(t, ctrl.Teardown())
}

func TestNullControllerPlayBeforeLoadFails(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctrl := newNullController(testSettings(), nil)
	require.Equal(t, StateIdle, ctrl.State())

	err := ctrl.Play()
	require.Error(t, err)
	require.Contains(t, err.Error(), "cannot play from state")
	require.Equal(t, StateIdle, ctrl.State())
}

func TestNullControllerTelemetryCounts(t *testing.T) {
	defer goleak.VerifyNone(t)

	settings := testSettings()
	settings.Realtime.Audio.TelemetryEach = 1

	ctrl := newNullController(settings, nil)
	feed, err := ctrl.Load(context.Background(), TrackSpec{})
	require.NoError(t, err)

	_, err = feed.Push(pcmFrames(8*conf.BlockSize, 100))
	require.NoError(t, err)

	require.NoError(t, ctrl.Play())
	require.Eventually(t, func() bool {
		return ctrl.Telemetry().FramesConsumed >= uint64(8*conf.BlockSize)
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, ctrl.Teardown())
}
