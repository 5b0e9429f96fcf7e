// Package metrics provides Prometheus metrics for the authentication core
package metrics

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LoginAttemptsTotal counts login attempts by mode and result
	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corecms",
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Total number of login attempts by mode and result",
		},
		[]string{"mode", "result"},
	)

	// LockoutsTotal counts attempts rejected by the lockout policy
	LockoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "corecms",
			Subsystem: "auth",
			Name:      "lockouts_total",
			Help:      "Total number of login attempts blocked by the lockout policy",
		},
	)

	// ResetTokensIssued counts password reset tokens issued
	ResetTokensIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "corecms",
			Subsystem: "auth",
			Name:      "reset_tokens_issued_total",
			Help:      "Total number of password reset tokens issued",
		},
	)

	// ResetRedemptions counts reset token redemptions by result
	ResetRedemptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corecms",
			Subsystem: "auth",
			Name:      "reset_redemptions_total",
			Help:      "Total number of password reset redemption attempts by result",
		},
		[]string{"result"},
	)

	// TwoFactorValidations counts TOTP validations by result
	TwoFactorValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corecms",
			Subsystem: "auth",
			Name:      "two_factor_validations_total",
			Help:      "Total number of TOTP code validations by result",
		},
		[]string{"result"},
	)

	// AccountTransactionRetries counts deadlock-triggered transaction retries
	AccountTransactionRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "corecms",
			Subsystem: "accounts",
			Name:      "transaction_retries_total",
			Help:      "Total number of account transactions retried after transient database contention",
		},
	)

	// AccountsCreated counts accounts created by origin
	AccountsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corecms",
			Subsystem: "accounts",
			Name:      "created_total",
			Help:      "Total number of accounts created by origin (form, sso, punchout)",
		},
		[]string{"origin"},
	)

	// PunchOutHandshakes counts cXML punch-out setup requests by status
	PunchOutHandshakes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corecms",
			Subsystem: "auth",
			Name:      "punchout_handshakes_total",
			Help:      "Total number of cXML punch-out setup requests by response status",
		},
		[]string{"status"},
	)
)

// RegisterRoutes registers the /metrics endpoint with the router
func RegisterRoutes(r chi.Router) {
	r.Handle("/metrics", promhttp.Handler())
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
