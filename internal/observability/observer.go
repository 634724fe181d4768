package observability

import (
	"context"
	"log/slog"
	"sync"

	"github.com/chipstream-io/chipstream/internal/logging"
	"github.com/chipstream-io/chipstream/internal/render"
)

// SnapshotObserver drains a controller's telemetry stream and feeds the
// playback collectors. Snapshots carry cumulative totals; the observer
// tracks the previous snapshot per adapter and records deltas so the
// Prometheus counters stay monotonic across snapshot drops.
type SnapshotObserver struct {
	metrics *Metrics
	logger  *slog.Logger

	mu   sync.Mutex
	prev map[string]render.Snapshot
}

// NewSnapshotObserver builds an observer feeding m.
func NewSnapshotObserver(m *Metrics) *SnapshotObserver {
	logger := logging.ForService("observability")
	if logger == nil {
		logger = slog.Default().With("service", "observability")
	}
	return &SnapshotObserver{
		metrics: m,
		logger:  logger,
		prev:    make(map[string]render.Snapshot),
	}
}

// Observe consumes snapshots for one adapter until the channel closes or
// the context is done. Run it on its own goroutine per active controller.
func (o *SnapshotObserver) Observe(ctx context.Context, adapter string, snapshots <-chan render.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			o.Record(adapter, snap)
		}
	}
}

// Record folds one snapshot into the collectors.
func (o *SnapshotObserver) Record(adapter string, snap render.Snapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()

	prev := o.prev[adapter]

	if snap.FramesConsumed < prev.FramesConsumed {
		// Counters restarted, a new session began on this adapter.
		prev = render.Snapshot{}
	}

	pm := o.metrics.Playback
	pm.AddFramesConsumed(adapter, float64(snap.FramesConsumed-prev.FramesConsumed))
	pm.AddUnderruns(adapter, float64(snap.Underruns-prev.Underruns))
	pm.AddSilentFrames(adapter, float64(snap.SilentFrames-prev.SilentFrames))
	pm.UpdateOccupancy(adapter, snap.CurrentOccupancy, snap.MinOccupancy, snap.MaxOccupancy)

	o.prev[adapter] = snap
}
