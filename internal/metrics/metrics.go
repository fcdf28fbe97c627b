// Package metrics exposes the engine's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ppe_sentinel"

// Failure reasons for evidence captures
const (
	ReasonNoImage = "no_image"
	ReasonEncode  = "encode"
	ReasonInsert  = "insert"
)

// Engine holds the instruments updated by stream processors.
// All methods are safe on a nil *Engine.
type Engine struct {
	FramesProcessed  *prometheus.CounterVec
	FramesDropped    *prometheus.CounterVec
	EpisodesStarted  *prometheus.CounterVec
	Triggers         *prometheus.CounterVec
	Captures         *prometheus.CounterVec
	CaptureFailures  *prometheus.CounterVec
	InsertDuration   prometheus.Histogram
	ActiveStreams    prometheus.Gauge
	StreamQueueDepth *prometheus.GaugeVec
}

// NewEngine creates the instruments and registers them on reg
func NewEngine(reg prometheus.Registerer) *Engine {
	m := &Engine{
		FramesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_processed_total",
			Help:      "Frames run through the debounce engine.",
		}, []string{"camera"}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames rejected because a stream queue was full or stopped.",
		}, []string{"camera"}),
		EpisodesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "episodes_started_total",
			Help:      "Violation episodes that entered the pending state.",
		}, []string{"camera"}),
		Triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "episode_triggers_total",
			Help:      "Episodes that lasted the sustain duration.",
		}, []string{"camera", "violation"}),
		Captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evidence_captured_total",
			Help:      "Evidence records stored.",
		}, []string{"camera", "violation"}),
		CaptureFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evidence_capture_failures_total",
			Help:      "Triggered episodes that did not produce a record.",
		}, []string{"camera", "reason"}),
		InsertDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evidence_insert_duration_seconds",
			Help:      "Time spent inserting evidence records.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Streams with a running processor.",
		}),
		StreamQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_queue_depth",
			Help:      "Frames waiting in a stream queue.",
		}, []string{"camera"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.FramesProcessed,
			m.FramesDropped,
			m.EpisodesStarted,
			m.Triggers,
			m.Captures,
			m.CaptureFailures,
			m.InsertDuration,
			m.ActiveStreams,
			m.StreamQueueDepth,
		)
	}
	return m
}

func (m *Engine) FrameProcessed(camera string, queued int) {
	if m == nil {
		return
	}
	m.FramesProcessed.WithLabelValues(camera).Inc()
	m.StreamQueueDepth.WithLabelValues(camera).Set(float64(queued))
}

func (m *Engine) FrameDropped(camera string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(camera).Inc()
}

func (m *Engine) EpisodeStarted(camera string) {
	if m == nil {
		return
	}
	m.EpisodesStarted.WithLabelValues(camera).Inc()
}

func (m *Engine) Triggered(camera, violation string) {
	if m == nil {
		return
	}
	m.Triggers.WithLabelValues(camera, violation).Inc()
}

func (m *Engine) Captured(camera, violation string, insertSeconds float64) {
	if m == nil {
		return
	}
	m.Captures.WithLabelValues(camera, violation).Inc()
	m.InsertDuration.Observe(insertSeconds)
}

func (m *Engine) CaptureFailed(camera, reason string) {
	if m == nil {
		return
	}
	m.CaptureFailures.WithLabelValues(camera, reason).Inc()
}

func (m *Engine) StreamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

func (m *Engine) StreamStopped(camera string) {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
	m.StreamQueueDepth.DeleteLabelValues(camera)
}
