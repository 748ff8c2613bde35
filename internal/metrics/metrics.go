package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RateLimitDecisions counts limiter outcomes per endpoint class.
	// decision: "allowed", "denied", "store_error"
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_rate_limit_decisions_total",
			Help: "Total number of rate limiter decisions",
		},
		[]string{"limiter", "decision"},
	)

	// LockoutEvents counts lockout transitions.
	// event: "failed_attempt", "locked", "cleared", "expired", "rejected"
	LockoutEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_lockout_events_total",
			Help: "Total number of account lockout events",
		},
		[]string{"event"},
	)

	SweepRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_sweep_removed_total",
			Help: "Total number of expired entries removed by background sweeps",
		},
		[]string{"store"},
	)

	AuditDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "security_audit_dropped_total",
			Help: "Total number of security events dropped because the audit buffer was full",
		},
	)

	AuditPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_audit_publish_errors_total",
			Help: "Total number of failed security event deliveries per sink",
		},
		[]string{"sink"},
	)

	// InputRejected counts requests refused by validation, per field.
	InputRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_input_rejected_total",
			Help: "Total number of requests rejected by input validation",
		},
		[]string{"field"},
	)
)
