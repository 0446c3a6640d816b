package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsActive     prometheus.Gauge
	SessionsTotal      prometheus.Counter
	SessionErrorsTotal prometheus.Counter

	// Transcript metrics
	MessagesTotal *prometheus.CounterVec

	// Reply generation metrics
	RepliesGeneratedTotal *prometheus.CounterVec
	ReplyDuration         prometheus.Histogram

	// Snapshot metrics
	SnapshotCapturesTotal *prometheus.CounterVec

	// Scheduler metrics
	ScheduledRunsTotal    prometheus.Counter
	ScheduledSkippedTotal prometheus.Counter
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sessions_active",
				Help: "Number of currently active sessions",
			},
		),
		SessionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sessions_total",
				Help: "Total number of sessions created",
			},
		),
		SessionErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "session_errors_total",
				Help: "Total number of sessions that ended in error",
			},
		),

		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transcript_messages_total",
				Help: "Total number of transcript messages appended",
			},
			[]string{"kind"},
		),

		RepliesGeneratedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "replies_generated_total",
				Help: "Total number of reply generation attempts",
			},
			[]string{"status"},
		),
		ReplyDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "reply_generation_duration_seconds",
				Help:    "Duration of reply generation in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		SnapshotCapturesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapshot_captures_total",
				Help: "Total number of snapshot capture attempts",
			},
			[]string{"status"},
		),

		ScheduledRunsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "scheduled_runs_total",
				Help: "Total number of sessions started by the scheduler",
			},
		),
		ScheduledSkippedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "scheduled_skipped_total",
				Help: "Total number of scheduled runs skipped due to an active session",
			},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.SessionsActive)
	m.registry.MustRegister(m.SessionsTotal)
	m.registry.MustRegister(m.SessionErrorsTotal)
	m.registry.MustRegister(m.MessagesTotal)
	m.registry.MustRegister(m.RepliesGeneratedTotal)
	m.registry.MustRegister(m.ReplyDuration)
	m.registry.MustRegister(m.SnapshotCapturesTotal)
	m.registry.MustRegister(m.ScheduledRunsTotal)
	m.registry.MustRegister(m.ScheduledSkippedTotal)
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

var (
	defaultOnce sync.Once
	defaultM    *Metrics
)

// Default returns the process-wide metrics instance.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultM = NewMetrics()
	})
	return defaultM
}

// RecordSessionCreated increments the session counter on the default instance.
func RecordSessionCreated() {
	Default().SessionsTotal.Inc()
}

// RecordSessionError increments the session error counter on the default instance.
func RecordSessionError() {
	Default().SessionErrorsTotal.Inc()
}

// SetActiveSessions records the current number of active sessions.
func SetActiveSessions(n int) {
	Default().SessionsActive.Set(float64(n))
}

// RecordMessage increments the transcript counter for a message kind.
func RecordMessage(kind string) {
	Default().MessagesTotal.WithLabelValues(kind).Inc()
}

// RecordReply increments the reply counter with the given status.
func RecordReply(status string) {
	Default().RepliesGeneratedTotal.WithLabelValues(status).Inc()
}

// ObserveReplyDuration records how long a reply generation took.
func ObserveReplyDuration(seconds float64) {
	Default().ReplyDuration.Observe(seconds)
}

// RecordSnapshot increments the snapshot counter with the given status.
func RecordSnapshot(status string) {
	Default().SnapshotCapturesTotal.WithLabelValues(status).Inc()
}

// RecordScheduledRun increments the scheduler run counter.
func RecordScheduledRun() {
	Default().ScheduledRunsTotal.Inc()
}

// RecordScheduledSkip increments the scheduler skip counter.
func RecordScheduledSkip() {
	Default().ScheduledSkippedTotal.Inc()
}
