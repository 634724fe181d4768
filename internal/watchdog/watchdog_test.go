package watchdog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestWindowAggregation(t *testing.T) {
	t.Parallel()

	const budget = 10 * time.Millisecond
	w := window{size: 4}

	// Three healthy deltas: window stays open.
	for i := 0; i < 3; i++ {
		_, warn := w.add(budget-time.Millisecond, budget)
		assert.False(t, warn)
	}

	// Fourth delta closes the window; average is under budget.
	warning, warn := w.add(budget-time.Millisecond, budget)
	assert.False(t, warn)
	assert.Equal(t, 4, warning.WindowSize)

	// Window reset: a new run of heavy deltas must trip the warning.
	for i := 0; i < 3; i++ {
		_, warn := w.add(5*budget, budget)
		assert.False(t, warn, "window must not warn before it closes")
	}
	warning, warn = w.add(5*budget, budget)
	require.True(t, warn)
	assert.Equal(t, 5*budget, warning.Average)
	assert.Equal(t, 5*budget, warning.Worst)
	assert.Equal(t, 4, warning.OverBudget)
}

func TestWindowSingleWarningPerWindow(t *testing.T) {
	t.Parallel()

	const budget = time.Millisecond
	w := window{size: 3}

	warnings := 0
	// 9 over-budget deltas across 3 windows: exactly 3 warnings.
	for i := 0; i < 9; i++ {
		if _, warn := w.add(10*budget, budget); warn {
			warnings++
		}
	}
	assert.Equal(t, 3, warnings)
}

func TestStopWithoutStartReturnsNil(t *testing.T) {
	t.Parallel()

	sw := New(time.Millisecond, 50*time.Millisecond, 10, nil)
	assert.Nil(t, sw.Stop("never started"))
}

func TestStartStopLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	sw := New(time.Millisecond, 50*time.Millisecond, 10, nil)
	sw.Start()
	assert.True(t, sw.IsRunning())

	// Let the sampler observe a few frames.
	time.Sleep(20 * time.Millisecond)

	report := sw.Stop("test complete")
	require.NotNil(t, report)
	assert.False(t, sw.IsRunning())
	assert.Equal(t, "test complete", report.Outcome)
	assert.Greater(t, report.TotalFrames, 0)
	assert.Greater(t, report.Duration, time.Duration(0))

	// Second stop is a no-op.
	assert.Nil(t, sw.Stop("again"))
}

func TestWarningReachesObserver(t *testing.T) {
	defer goleak.VerifyNone(t)

	got := make(chan Warning, 1)
	// Negative tolerance makes the budget zero, so every wakeup delta is
	// over budget and the first closed window must trip.
	sw := New(time.Millisecond, -time.Millisecond, 3, func(w Warning) {
		select {
		case got <- w:
		default:
		}
	})
	sw.Start()
	defer sw.Stop("observer test")

	select {
	case w := <-got:
		assert.Equal(t, 3, w.WindowSize)
		assert.Positive(t, w.OverBudget)
		assert.Greater(t, w.Worst, time.Duration(0))
	case <-time.After(2 * time.Second):
		t.Fatal("no warning reached the observer")
	}
}

func TestRestartResetsCounters(t *testing.T) {
	defer goleak.VerifyNone(t)

	sw := New(time.Millisecond, 50*time.Millisecond, 10, nil)
	sw.Start()
	time.Sleep(15 * time.Millisecond)

	// Start while running: restart with fresh counters.
	sw.Start()
	assert.True(t, sw.IsRunning())

	report := sw.Stop("restarted")
	require.NotNil(t, report)
	assert.Less(t, report.Duration, 15*time.Millisecond+10*time.Millisecond)
}
