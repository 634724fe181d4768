// Package metrics provides playback delivery metrics for observability
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PlaybackMetrics contains Prometheus metrics for the delivery pipeline.
type PlaybackMetrics struct {
	registry *prometheus.Registry

	// Render callback metrics
	framesConsumedTotal *prometheus.CounterVec
	underrunsTotal      *prometheus.CounterVec
	silentFramesTotal   *prometheus.CounterVec

	// Ring buffer occupancy metrics
	occupancyGauge    *prometheus.GaugeVec
	occupancyMinGauge *prometheus.GaugeVec
	occupancyMaxGauge *prometheus.GaugeVec

	// Producer side metrics
	framesDeliveredTotal *prometheus.CounterVec
	framesDroppedTotal   *prometheus.CounterVec

	// Stall watchdog metrics
	stallWarningsTotal *prometheus.CounterVec
	worstStallGauge    *prometheus.GaugeVec

	// Adapter selection metrics
	adapterSelectionsTotal *prometheus.CounterVec
	probeFailuresTotal     *prometheus.CounterVec
}

// NewPlaybackMetrics creates and registers new playback metrics
func NewPlaybackMetrics(registry *prometheus.Registry) (*PlaybackMetrics, error) {
	m := &PlaybackMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, err
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *PlaybackMetrics) initMetrics() error {
	m.framesConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_frames_consumed_total",
			Help: "Total number of frames the render callback pulled from the ring buffer",
		},
		[]string{"adapter"},
	)

	m.underrunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_underruns_total",
			Help: "Total number of render callbacks that had to emit silence",
		},
		[]string{"adapter"},
	)

	m.silentFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_silent_frames_total",
			Help: "Total number of silent frames emitted on underrun",
		},
		[]string{"adapter"},
	)

	m.occupancyGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "playback_ring_occupancy_frames",
			Help: "Current ring buffer occupancy in frames",
		},
		[]string{"adapter"},
	)

	m.occupancyMinGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "playback_ring_occupancy_min_frames",
			Help: "Lowest ring buffer occupancy observed at render time",
		},
		[]string{"adapter"},
	)

	m.occupancyMaxGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "playback_ring_occupancy_max_frames",
			Help: "Highest ring buffer occupancy observed at render time",
		},
		[]string{"adapter"},
	)

	m.framesDeliveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_frames_delivered_total",
			Help: "Total number of frames the producer wrote into the ring buffer",
		},
		[]string{"adapter"},
	)

	m.framesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_frames_dropped_total",
			Help: "Total number of producer frames dropped because the pipeline was full",
		},
		[]string{"adapter"},
	)

	m.stallWarningsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_stall_warnings_total",
			Help: "Total number of aggregated producer stall warnings",
		},
		[]string{"adapter"},
	)

	m.worstStallGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "playback_worst_stall_seconds",
			Help: "Worst producer scheduling delta seen in the current session",
		},
		[]string{"adapter"},
	)

	m.adapterSelectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_adapter_selections_total",
			Help: "Total number of adapter selections",
		},
		[]string{"adapter", "status"}, // status: selected, failed
	)

	m.probeFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_probe_failures_total",
			Help: "Total number of adapter availability probes that reported unavailable",
		},
		[]string{"adapter"},
	)

	return nil
}

// Describe implements the Collector interface
func (m *PlaybackMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.framesConsumedTotal.Describe(ch)
	m.underrunsTotal.Describe(ch)
	m.silentFramesTotal.Describe(ch)
	m.occupancyGauge.Describe(ch)
	m.occupancyMinGauge.Describe(ch)
	m.occupancyMaxGauge.Describe(ch)
	m.framesDeliveredTotal.Describe(ch)
	m.framesDroppedTotal.Describe(ch)
	m.stallWarningsTotal.Describe(ch)
	m.worstStallGauge.Describe(ch)
	m.adapterSelectionsTotal.Describe(ch)
	m.probeFailuresTotal.Describe(ch)
}

// Collect implements the Collector interface
func (m *PlaybackMetrics) Collect(ch chan<- prometheus.Metric) {
	m.framesConsumedTotal.Collect(ch)
	m.underrunsTotal.Collect(ch)
	m.silentFramesTotal.Collect(ch)
	m.occupancyGauge.Collect(ch)
	m.occupancyMinGauge.Collect(ch)
	m.occupancyMaxGauge.Collect(ch)
	m.framesDeliveredTotal.Collect(ch)
	m.framesDroppedTotal.Collect(ch)
	m.stallWarningsTotal.Collect(ch)
	m.worstStallGauge.Collect(ch)
	m.adapterSelectionsTotal.Collect(ch)
	m.probeFailuresTotal.Collect(ch)
}

// AddFramesConsumed records frames pulled by the render callback.
// Telemetry snapshots carry totals, so the caller drives the counter
// with the delta between consecutive snapshots.
func (m *PlaybackMetrics) AddFramesConsumed(adapter string, frames float64) {
	m.framesConsumedTotal.WithLabelValues(adapter).Add(frames)
}

// AddUnderruns records render callbacks that emitted silence
func (m *PlaybackMetrics) AddUnderruns(adapter string, count float64) {
	m.underrunsTotal.WithLabelValues(adapter).Add(count)
}

// AddSilentFrames records silent frames emitted on underrun
func (m *PlaybackMetrics) AddSilentFrames(adapter string, frames float64) {
	m.silentFramesTotal.WithLabelValues(adapter).Add(frames)
}

// UpdateOccupancy updates the occupancy envelope gauges
func (m *PlaybackMetrics) UpdateOccupancy(adapter string, current, minimum, maximum int) {
	m.occupancyGauge.WithLabelValues(adapter).Set(float64(current))
	m.occupancyMinGauge.WithLabelValues(adapter).Set(float64(minimum))
	m.occupancyMaxGauge.WithLabelValues(adapter).Set(float64(maximum))
}

// AddFramesDelivered records frames the producer wrote into the ring
func (m *PlaybackMetrics) AddFramesDelivered(adapter string, frames float64) {
	m.framesDeliveredTotal.WithLabelValues(adapter).Add(frames)
}

// AddFramesDropped records producer frames dropped under backpressure
func (m *PlaybackMetrics) AddFramesDropped(adapter string, frames float64) {
	m.framesDroppedTotal.WithLabelValues(adapter).Add(frames)
}

// RecordStallWarning records one aggregated stall warning
func (m *PlaybackMetrics) RecordStallWarning(adapter string, worstSeconds float64) {
	m.stallWarningsTotal.WithLabelValues(adapter).Inc()
	m.worstStallGauge.WithLabelValues(adapter).Set(worstSeconds)
}

// RecordAdapterSelection records the outcome of an adapter selection
func (m *PlaybackMetrics) RecordAdapterSelection(adapter, status string) {
	m.adapterSelectionsTotal.WithLabelValues(adapter, status).Inc()
}

// RecordProbeFailure records an availability probe that reported unavailable
func (m *PlaybackMetrics) RecordProbeFailure(adapter string) {
	m.probeFailuresTotal.WithLabelValues(adapter).Inc()
}
