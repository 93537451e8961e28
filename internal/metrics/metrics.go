package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels.
const (
	OutcomeSuccess      = "success"
	OutcomeUnknownEmail = "unknown_email"
	OutcomeInvalid      = "invalid"
	OutcomeWeakPassword = "weak_password"
	OutcomeRateLimited  = "rate_limited"
	OutcomeDeliveryFail = "delivery_failure"
	OutcomeError        = "error"
)

type ResetMetrics struct {
	Requests             *prometheus.CounterVec
	Verifications        *prometheus.CounterVec
	Completions          *prometheus.CounterVec
	NotificationFailures *prometheus.CounterVec
}

// NewResetMetrics регистрирует счётчики в reg. nil reg: счётчики без регистрации (тесты).
func NewResetMetrics(reg prometheus.Registerer) *ResetMetrics {
	m := &ResetMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pigeonfarm",
			Subsystem: "password_reset",
			Name:      "requests_total",
			Help:      "Password reset code requests by outcome.",
		}, []string{"outcome"}),
		Verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pigeonfarm",
			Subsystem: "password_reset",
			Name:      "verifications_total",
			Help:      "Reset code verification attempts by outcome.",
		}, []string{"outcome"}),
		Completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pigeonfarm",
			Subsystem: "password_reset",
			Name:      "completions_total",
			Help:      "Password reset confirmations by outcome.",
		}, []string{"outcome"}),
		NotificationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pigeonfarm",
			Subsystem: "password_reset",
			Name:      "notification_failures_total",
			Help:      "Reset code deliveries that failed, by channel.",
		}, []string{"channel"}),
	}
	if reg != nil {
		reg.MustRegister(m.Requests, m.Verifications, m.Completions, m.NotificationFailures)
	}
	return m
}
