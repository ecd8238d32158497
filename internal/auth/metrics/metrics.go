// Package metrics holds the Prometheus collectors of the auth service.
//
// Every method is safe on a nil *Metrics so components can be built
// without instrumentation in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "authcore"

// Metrics holds Prometheus collectors for auth operations.
type Metrics struct {
	LimiterDenials   *prometheus.CounterVec
	Logins           *prometheus.CounterVec
	Refreshes        *prometheus.CounterVec
	TokenRejections  *prometheus.CounterVec
	RecoveryRequests *prometheus.CounterVec
	RecoveryConsumes *prometheus.CounterVec
	SessionsRevoked  prometheus.Counter
	EmailFailures    *prometheus.CounterVec
	EmailsDropped    *prometheus.CounterVec

	AuditQueueDepth      prometheus.Gauge
	AuditDropped         prometheus.Counter
	AuditPersistFailures prometheus.Counter
	AuditPersistDuration prometheus.Histogram

	HousekeepingDeleted *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		LimiterDenials: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_denials_total",
			Help:      "Attempts denied by the per-identifier rate limiter",
		}, []string{"scope"}),
		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result",
		}, []string{"result"}),
		Refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Refresh attempts by result",
		}, []string{"result"}),
		TokenRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_rejections_total",
			Help:      "Credentials that failed verification, by reason",
		}, []string{"reason"}),
		RecoveryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_requests_total",
			Help:      "Recovery requests accepted, by purpose and whether an account matched",
		}, []string{"purpose", "issued"}),
		RecoveryConsumes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_consumptions_total",
			Help:      "Recovery token consumption attempts, by purpose and result",
		}, []string{"purpose", "result"}),
		SessionsRevoked: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_revoked_total",
			Help:      "Refresh sessions revoked",
		}),
		EmailFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "email_failures_total",
			Help:      "Emails the dispatcher failed to send, by kind",
		}, []string{"kind"}),
		EmailsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_dropped_total",
			Help:      "Emails evicted from a full send queue, by kind",
		}, []string{"kind"}),
		AuditQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audit_queue_depth",
			Help:      "Current number of events in the audit queue",
		}),
		AuditDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_dropped_total",
			Help:      "Audit events dropped because the queue was full",
		}),
		AuditPersistFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_persist_failures_total",
			Help:      "Audit events that could not be persisted",
		}),
		AuditPersistDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audit_persist_duration_seconds",
			Help:      "Time taken to persist an audit event",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		HousekeepingDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "housekeeping_deleted_total",
			Help:      "Rows removed by housekeeping, by kind",
		}, []string{"kind"}),
	}
}

func (m *Metrics) IncLimiterDenial(scope string) {
	if m == nil {
		return
	}
	m.LimiterDenials.WithLabelValues(scope).Inc()
}

func (m *Metrics) IncLogin(result string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(result).Inc()
}

func (m *Metrics) IncRefresh(result string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) IncTokenRejection(reason string) {
	if m == nil {
		return
	}
	m.TokenRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncRecoveryRequest(purpose string, issued bool) {
	if m == nil {
		return
	}
	label := "false"
	if issued {
		label = "true"
	}
	m.RecoveryRequests.WithLabelValues(purpose, label).Inc()
}

func (m *Metrics) IncRecoveryConsume(purpose, result string) {
	if m == nil {
		return
	}
	m.RecoveryConsumes.WithLabelValues(purpose, result).Inc()
}

func (m *Metrics) AddSessionsRevoked(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsRevoked.Add(float64(n))
}

func (m *Metrics) IncEmailFailure(kind string) {
	if m == nil {
		return
	}
	m.EmailFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncEmailDropped(kind string) {
	if m == nil {
		return
	}
	m.EmailsDropped.WithLabelValues(kind).Inc()
}

// SetAuditQueueDepth sets the current audit queue depth.
func (m *Metrics) SetAuditQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.AuditQueueDepth.Set(float64(depth))
}

func (m *Metrics) IncAuditDropped() {
	if m == nil {
		return
	}
	m.AuditDropped.Inc()
}

func (m *Metrics) IncAuditPersistFailure() {
	if m == nil {
		return
	}
	m.AuditPersistFailures.Inc()
}

// ObserveAuditPersist records the persist latency in seconds.
func (m *Metrics) ObserveAuditPersist(seconds float64) {
	if m == nil {
		return
	}
	m.AuditPersistDuration.Observe(seconds)
}

func (m *Metrics) AddHousekeepingDeleted(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.HousekeepingDeleted.WithLabelValues(kind).Add(float64(n))
}
