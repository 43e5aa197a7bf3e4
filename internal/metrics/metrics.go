// Package metrics exposes Prometheus counters for sessions and media flow.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the session core.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	FramesSent     *prometheus.CounterVec
	FramesDropped  *prometheus.CounterVec
	InboundEvents  *prometheus.CounterVec
	AudioBytes     *prometheus.CounterVec
	SpeakingStates *prometheus.CounterVec

	ErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance on its own registry
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "parley"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions currently connected",
		},
	)

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total sessions by final outcome",
		},
		[]string{"outcome"},
	)

	sessionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Session duration in seconds",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 900, 1800},
		},
	)

	framesSent := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Outbound frames written to the agent",
		},
		[]string{"kind"},
	)

	framesDropped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames dropped before reaching their destination",
		},
		[]string{"reason"},
	)

	inboundEvents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_events_total",
			Help:      "Demultiplexed inbound agent events",
		},
		[]string{"type"},
	)

	audioBytes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "PCM bytes moved in each direction",
		},
		[]string{"direction"},
	)

	speakingStates := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speaking_transitions_total",
			Help:      "Speaking-state transitions by target state",
		},
		[]string{"state"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors by category and code",
		},
		[]string{"category", "code"},
	)

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		framesSent,
		framesDropped,
		inboundEvents,
		audioBytes,
		speakingStates,
		errorsTotal,
	)

	return &Metrics{
		registry:        registry,
		SessionsActive:  sessionsActive,
		SessionsTotal:   sessionsTotal,
		SessionDuration: sessionDuration,
		FramesSent:      framesSent,
		FramesDropped:   framesDropped,
		InboundEvents:   inboundEvents,
		AudioBytes:      audioBytes,
		SpeakingStates:  speakingStates,
		ErrorsTotal:     errorsTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

// SessionFinished records the outcome of a session that reached Active
func (m *Metrics) SessionFinished(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(outcome).Inc()
	m.SessionDuration.Observe(duration.Seconds())
}

func (m *Metrics) FrameSent(kind string, bytes int) {
	if m == nil {
		return
	}
	m.FramesSent.WithLabelValues(kind).Inc()
	if kind == "audio" {
		m.AudioBytes.WithLabelValues("outbound").Add(float64(bytes))
	}
}

func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) InboundEvent(eventType string, bytes int) {
	if m == nil {
		return
	}
	m.InboundEvents.WithLabelValues(eventType).Inc()
	if bytes > 0 {
		m.AudioBytes.WithLabelValues("inbound").Add(float64(bytes))
	}
}

func (m *Metrics) SpeakingTransition(state string) {
	if m == nil {
		return
	}
	m.SpeakingStates.WithLabelValues(state).Inc()
}

func (m *Metrics) Error(category, code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "none"
	}
	m.ErrorsTotal.WithLabelValues(category, code).Inc()
}
