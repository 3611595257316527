package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all engine metrics on a private registry.
type Metrics struct {
	FramesIngested    prometheus.Counter
	FramesCorrupt     prometheus.Counter
	FramesDropped     prometheus.Counter
	DetectorCalls     prometheus.Counter
	DetectorFailures  prometheus.Counter
	DetectorLatency   prometheus.Histogram
	RecordingsOpened  prometheus.Counter
	RecordingFailures prometheus.Counter
	RecordingFrames   prometheus.Counter
	RecordingDropped  prometheus.Counter
	Reconnects        prometheus.Counter
	ZoneTransitions   *prometheus.CounterVec
	SessionsStopped   *prometheus.CounterVec
	ActiveSessions    prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FramesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "downtime_frames_ingested_total",
			Help: "Frames accepted by session pipelines",
		}),
		FramesCorrupt: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "downtime_frames_corrupt_total",
			Help: "Frames discarded by the luminance sanity check",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "downtime_frames_dropped_total",
			Help: "Frames dropped in favour of newer ones when the queue was full",
		}),
		DetectorCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "downtime_detector_calls_total",
			Help: "Detector invocations",
		}),
		DetectorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "downtime_detector_failures_total",
			Help: "Detector invocations treated as empty samples",
		}),
		DetectorLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "downtime_detector_latency_seconds",
			Help:    "Detector invocation latency",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		RecordingsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "downtime_recordings_opened_total",
			Help: "Evidence recordings opened",
		}),
		RecordingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "downtime_recording_failures_total",
			Help: "Evidence recordings that could not be opened",
		}),
		RecordingFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "downtime_recording_frames_total",
			Help: "Frames written to evidence recordings",
		}),
		RecordingDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "downtime_recording_frames_dropped_total",
			Help: "Frames dropped because an evidence writer fell behind",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "downtime_source_reconnects_total",
			Help: "Frame source reconnection attempts",
		}),
		ZoneTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "downtime_zone_transitions_total",
			Help: "Zone state transitions",
		}, []string{"direction"}),
		SessionsStopped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "downtime_sessions_stopped_total",
			Help: "Finished sessions by failure reason",
		}, []string{"reason"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "downtime_active_sessions",
			Help: "Sessions with a running pipeline",
		}),
	}

	m.registry.MustRegister(
		m.FramesIngested,
		m.FramesCorrupt,
		m.FramesDropped,
		m.DetectorCalls,
		m.DetectorFailures,
		m.DetectorLatency,
		m.RecordingsOpened,
		m.RecordingFailures,
		m.RecordingFrames,
		m.RecordingDropped,
		m.Reconnects,
		m.ZoneTransitions,
		m.SessionsStopped,
		m.ActiveSessions,
	)
	return m
}

// Registry exposes the registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
