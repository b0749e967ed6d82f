package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// Frame counters
	FramesAnalyzed atomic.Uint64
	FramesDropped  atomic.Uint64
	FacesDetected  atomic.Uint64

	// Error counters
	DetectionErrors atomic.Uint64
	LandmarkErrors  atomic.Uint64
	EmotionErrors   atomic.Uint64

	// Latency of the most recent frame
	ProcessLatencyMs atomic.Uint64

	// Stream tracking
	ActiveStreams atomic.Int64
	TotalStreams  atomic.Uint64

	verdicts *prometheus.CounterVec

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		verdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livesense_liveness_verdicts_total",
				Help: "Liveness verdicts by status",
			},
			[]string{"status"},
		),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(m.verdicts)

	gauges := []struct {
		name, help string
		value      func() float64
	}{
		{"livesense_frames_analyzed_total", "Total frames analyzed", func() float64 { return float64(m.FramesAnalyzed.Load()) }},
		{"livesense_frames_dropped_total", "Total stream frames dropped by the rate limiter", func() float64 { return float64(m.FramesDropped.Load()) }},
		{"livesense_faces_detected_total", "Total faces detected", func() float64 { return float64(m.FacesDetected.Load()) }},
		{"livesense_detection_errors_total", "Total face detection failures", func() float64 { return float64(m.DetectionErrors.Load()) }},
		{"livesense_landmark_errors_total", "Total face mesh failures", func() float64 { return float64(m.LandmarkErrors.Load()) }},
		{"livesense_emotion_errors_total", "Total emotion classification failures", func() float64 { return float64(m.EmotionErrors.Load()) }},
		{"livesense_process_latency_ms", "Processing latency of the last frame in milliseconds", func() float64 { return float64(m.ProcessLatencyMs.Load()) }},
		{"livesense_active_streams", "Number of connected streams", func() float64 { return float64(m.ActiveStreams.Load()) }},
		{"livesense_total_streams", "Total streams accepted", func() float64 { return float64(m.TotalStreams.Load()) }},
	}

	for _, g := range gauges {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			g.value,
		))
	}
}

// ObserveFrame records one analyzed frame
func (m *Metrics) ObserveFrame(faces int, duration time.Duration) {
	if m == nil {
		return
	}
	m.FramesAnalyzed.Add(1)
	m.FacesDetected.Add(uint64(faces))
	m.ProcessLatencyMs.Store(uint64(duration.Milliseconds()))
}

// ObserveVerdict counts one liveness verdict
func (m *Metrics) ObserveVerdict(status string) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(status).Inc()
}

// DetectionFailed counts a detector error
func (m *Metrics) DetectionFailed() {
	if m != nil {
		m.DetectionErrors.Add(1)
	}
}

// LandmarkFailed counts a face mesh error
func (m *Metrics) LandmarkFailed() {
	if m != nil {
		m.LandmarkErrors.Add(1)
	}
}

// EmotionFailed counts a classifier error
func (m *Metrics) EmotionFailed() {
	if m != nil {
		m.EmotionErrors.Add(1)
	}
}

// FrameDropped counts a rate-limited stream frame
func (m *Metrics) FrameDropped() {
	if m != nil {
		m.FramesDropped.Add(1)
	}
}

// StreamOpened and StreamClosed track websocket sessions
func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.ActiveStreams.Add(1)
	m.TotalStreams.Add(1)
}

func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.ActiveStreams.Add(-1)
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
