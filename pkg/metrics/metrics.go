// Package metrics exposes Prometheus metrics for meeting sessions.
// All Record methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reply outcomes.
const (
	ReplyOK       = "ok"
	ReplyRetried  = "retried"
	ReplyFallback = "fallback"
	ReplyFailed   = "failed"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Conversation metrics
	TranscriptsTotal   prometheus.Counter
	RepliesTotal       *prometheus.CounterVec
	AnnouncementsTotal prometheus.Counter

	// Inference metrics
	InferenceDuration *prometheus.HistogramVec

	// HTTP metrics
	RequestsTotal *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "meetagent"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of running meeting sessions",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Meeting session inits by outcome",
		}, []string{"status"}),
		SessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Time from join to teardown",
			Buckets:   []float64{60, 300, 900, 1800, 3600, 7200},
		}),
		TranscriptsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_total",
			Help:      "Final transcripts handed to the text stage",
		}),
		RepliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Transcript replies by outcome",
		}, []string{"status"}),
		AnnouncementsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "announcements_total",
			Help:      "Text injected directly toward speech synthesis",
		}),
		InferenceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Language model call latency",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"mode", "status"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
	}

	registry.MustRegister(
		m.SessionsActive,
		m.SessionsTotal,
		m.SessionDuration,
		m.TranscriptsTotal,
		m.RepliesTotal,
		m.AnnouncementsTotal,
		m.InferenceDuration,
		m.RequestsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSessionStart records a successful init.
func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
	m.SessionsTotal.WithLabelValues("started").Inc()
}

// RecordSessionFailed records an init that never reached Running.
func (m *Metrics) RecordSessionFailed() {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues("failed").Inc()
}

// RecordSessionEnd records teardown of a running session.
func (m *Metrics) RecordSessionEnd(duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(duration.Seconds())
}

// RecordTranscript counts a transcript.
func (m *Metrics) RecordTranscript() {
	if m == nil {
		return
	}
	m.TranscriptsTotal.Inc()
}

// RecordReply counts a reply outcome.
func (m *Metrics) RecordReply(status string) {
	if m == nil {
		return
	}
	m.RepliesTotal.WithLabelValues(status).Inc()
}

// RecordAnnouncement counts an announcement.
func (m *Metrics) RecordAnnouncement() {
	if m == nil {
		return
	}
	m.AnnouncementsTotal.Inc()
}

// RecordInference observes one model call. mode is "prompt" or "tools".
func (m *Metrics) RecordInference(mode string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.InferenceDuration.WithLabelValues(mode, status).Observe(duration.Seconds())
}

// RecordRequest counts an HTTP request.
func (m *Metrics) RecordRequest(route string, code int) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, statusText(code)).Inc()
}

func statusText(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
