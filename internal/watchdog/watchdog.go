// Package watchdog detects scheduling starvation of the producer side of
// the delivery pipeline. It does not watch the real-time render thread;
// render underruns are counted independently by the render callback. This
// watchdog answers a different question: is the goroutine responsible for
// keeping the ring buffer fed getting CPU time often enough?
package watchdog

import (
	"log/slog"
	"sync"
	"time"

	"github.com/chipstream-io/chipstream/internal/diagnostics"
	"github.com/chipstream-io/chipstream/internal/logging"
)

// DefaultWindowSize is the number of frame deltas per analysis window.
const DefaultWindowSize = 120

// diagnosticsAfterWarnings triggers a system capture once this many
// aggregated warnings have been emitted in a single run.
const diagnosticsAfterWarnings = 5

// Warning aggregates one window's worth of over-budget scheduling deltas.
// One warning per window, never one per frame.
type Warning struct {
	Average    time.Duration // mean delta across the window
	Worst      time.Duration // worst single delta in the window
	OverBudget int           // deltas that exceeded ideal+tolerance
	WindowSize int
}

// WarningObserver receives each aggregated warning as it is emitted.
// Called from the sampling goroutine, so it must not block.
type WarningObserver func(Warning)

// Report is the cumulative result returned by Stop.
type Report struct {
	Outcome     string        // caller-supplied outcome label
	TotalFrames int           // total deltas observed
	Duration    time.Duration // wall time between Start and Stop
	WorstDelta  time.Duration // worst single delta over the whole run
	Warnings    int           // aggregated warnings emitted
}

// window accumulates frame deltas and closes after windowSize samples.
type window struct {
	size       int
	count      int
	sum        time.Duration
	worst      time.Duration
	overBudget int
}

// add records one delta and reports whether the window closed with an
// average over budget. The window resets itself on close either way.
func (w *window) add(delta, budget time.Duration) (Warning, bool) {
	w.count++
	w.sum += delta
	if delta > w.worst {
		w.worst = delta
	}
	if delta > budget {
		w.overBudget++
	}

	if w.count < w.size {
		return Warning{}, false
	}

	avg := w.sum / time.Duration(w.count)
	warn := avg > budget
	warning := Warning{
		Average:    avg,
		Worst:      w.worst,
		OverBudget: w.overBudget,
		WindowSize: w.count,
	}

	w.count = 0
	w.sum = 0
	w.worst = 0
	w.overBudget = 0

	return warning, warn
}

// StallWatchdog samples its own wakeup cadence at the ideal quantum
// interval. When the scheduler starves this goroutine the observed deltas
// stretch past the budget, which is exactly the condition that threatens
// the ring buffer's health. Warnings are advisory: the watchdog never
// forces a backend switch.
type StallWatchdog struct {
	ideal     time.Duration
	tolerance time.Duration
	winSize   int

	mu        sync.Mutex
	running   bool
	stop      chan struct{}
	done      chan struct{}
	startedAt time.Time

	// run state, owned by the sampling goroutine
	win        window
	frames     int
	worstDelta time.Duration
	warnings   int

	observer WarningObserver
	logger   *slog.Logger
}

// New creates a watchdog for a producer loop with the given ideal frame
// interval. tolerance is the scheduling slack allowed on top of the ideal
// before a delta counts as over budget. windowSize <= 0 uses the default.
// observer, when non-nil, receives every aggregated warning.
func New(ideal, tolerance time.Duration, windowSize int, observer WarningObserver) *StallWatchdog {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	logger := logging.ForService("watchdog")
	if logger == nil {
		logger = slog.Default().With("service", "watchdog")
	}
	return &StallWatchdog{
		ideal:     ideal,
		tolerance: tolerance,
		winSize:   windowSize,
		observer:  observer,
		logger:    logger,
	}
}

// Start begins sampling. If the watchdog is already running it restarts
// with fresh counters.
func (sw *StallWatchdog) Start() {
	sw.mu.Lock()
	if sw.running {
		sw.mu.Unlock()
		sw.Stop("restart")
		sw.mu.Lock()
	}

	sw.running = true
	sw.startedAt = time.Now()
	sw.stop = make(chan struct{})
	sw.done = make(chan struct{})
	sw.win = window{size: sw.winSize}
	sw.frames = 0
	sw.worstDelta = 0
	sw.warnings = 0

	go sw.sample(sw.stop, sw.done)
	sw.mu.Unlock()

	sw.logger.Debug("stall watchdog started",
		"ideal", sw.ideal,
		"tolerance", sw.tolerance,
		"window_size", sw.winSize)
}

// sample is the watchdog goroutine: it wakes at the ideal interval and
// measures how late each wakeup actually was.
func (sw *StallWatchdog) sample(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(sw.ideal)
	defer ticker.Stop()

	budget := sw.ideal + sw.tolerance
	last := time.Now()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			delta := now.Sub(last)
			last = now

			sw.mu.Lock()
			sw.frames++
			if delta > sw.worstDelta {
				sw.worstDelta = delta
			}
			warning, warn := sw.win.add(delta, budget)
			if warn {
				sw.warnings++
				warnings := sw.warnings
				sw.mu.Unlock()
				sw.emitWarning(warning, warnings)
				continue
			}
			sw.mu.Unlock()
		}
	}
}

// emitWarning logs one aggregated warning, forwards it to the observer,
// and on repeated starvation captures system state for later diagnosis.
func (sw *StallWatchdog) emitWarning(w Warning, total int) {
	sw.logger.Warn("producer scheduling stall detected",
		"avg_delta", w.Average,
		"worst_delta", w.Worst,
		"over_budget", w.OverBudget,
		"window_size", w.WindowSize,
		"total_warnings", total)

	if sw.observer != nil {
		sw.observer(w)
	}

	if total == diagnosticsAfterWarnings {
		go diagnostics.CaptureSystemInfo("sustained producer-side scheduling stalls")
	}
}

// Stop cancels sampling and returns the cumulative result. Returns nil if
// the watchdog was never started. Safe to call repeatedly; only the first
// call after a Start yields a report.
func (sw *StallWatchdog) Stop(outcome string) *Report {
	sw.mu.Lock()
	if !sw.running {
		sw.mu.Unlock()
		return nil
	}
	sw.running = false
	stop := sw.stop
	done := sw.done
	sw.mu.Unlock()

	close(stop)
	<-done

	sw.mu.Lock()
	report := &Report{
		Outcome:     outcome,
		TotalFrames: sw.frames,
		Duration:    time.Since(sw.startedAt),
		WorstDelta:  sw.worstDelta,
		Warnings:    sw.warnings,
	}
	sw.mu.Unlock()

	sw.logger.Info("stall watchdog stopped",
		"outcome", report.Outcome,
		"frames", report.TotalFrames,
		"duration", report.Duration,
		"worst_delta", report.WorstDelta,
		"warnings", report.Warnings)

	return report
}

// IsRunning reports whether the watchdog is currently sampling.
func (sw *StallWatchdog) IsRunning() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.running
}
