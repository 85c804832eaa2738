// Package metrics defines Prometheus metrics for the portal session service.
//
// Metric naming follows Prometheus conventions:
//   - bnr_portal_ prefix for all custom metrics
//   - _total suffix for counters
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Login outcomes used as the "outcome" label.
const (
	OutcomeSuccess            = "success"
	OutcomeChallengeFailed    = "challenge_failed"
	OutcomeLockedOut          = "locked_out"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeError              = "error"
)

// Session end reasons used as the "reason" label.
const (
	ReasonLogout      = "logout"
	ReasonIdleTimeout = "idle_timeout"
	ReasonReplaced    = "replaced"
)

// Password operation labels.
const (
	OperationChange = "change"
	OperationReset  = "reset"

	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultDenied  = "denied"
)

// Session restore results.
const (
	RestoreAdopted   = "adopted"
	RestoreStale     = "stale"
	RestoreMalformed = "malformed"
	RestoreNone      = "none"
)

// Metrics holds the portal's collectors and the registry they live in.
type Metrics struct {
	Registry *prometheus.Registry

	LoginAttempts   *prometheus.CounterVec
	SessionsEnded   *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
	FailedAttempts  prometheus.Gauge
	SecretChanges   *prometheus.CounterVec
	SessionRestores *prometheus.CounterVec
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		LoginAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bnr_portal_login_attempts_total",
				Help: "Login attempts by outcome.",
			},
			[]string{"outcome"},
		),
		SessionsEnded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bnr_portal_sessions_ended_total",
				Help: "Sessions ended by reason.",
			},
			[]string{"reason"},
		),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bnr_portal_active_sessions",
			Help: "Whether a session is currently active (0 or 1).",
		}),
		FailedAttempts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bnr_portal_failed_login_attempts",
			Help: "Current value of the global failed-login counter.",
		}),
		SecretChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bnr_portal_password_operations_total",
				Help: "Password changes and resets by operation and result.",
			},
			[]string{"operation", "result"},
		),
		SessionRestores: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bnr_portal_session_restores_total",
				Help: "Persisted session restore attempts by result.",
			},
			[]string{"result"},
		),
	}

	m.Registry.MustRegister(
		m.LoginAttempts,
		m.SessionsEnded,
		m.ActiveSessions,
		m.FailedAttempts,
		m.SecretChanges,
		m.SessionRestores,
	)
	return m
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// RecordLogin counts a login attempt.
func (m *Metrics) RecordLogin(outcome string) {
	m.LoginAttempts.WithLabelValues(outcome).Inc()
}

// RecordSessionEnd counts an ended session and clears the active gauge.
func (m *Metrics) RecordSessionEnd(reason string) {
	m.SessionsEnded.WithLabelValues(reason).Inc()
	m.ActiveSessions.Set(0)
}

// SetActive sets the active-session gauge.
func (m *Metrics) SetActive(active bool) {
	if active {
		m.ActiveSessions.Set(1)
		return
	}
	m.ActiveSessions.Set(0)
}

// SetFailedAttempts mirrors the failed-login counter.
func (m *Metrics) SetFailedAttempts(n int) {
	m.FailedAttempts.Set(float64(n))
}

// RecordSecretOperation counts a password change or reset.
func (m *Metrics) RecordSecretOperation(operation, result string) {
	m.SecretChanges.WithLabelValues(operation, result).Inc()
}

// RecordRestore counts a session restore attempt.
func (m *Metrics) RecordRestore(result string) {
	m.SessionRestores.WithLabelValues(result).Inc()
}
