package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the MFA control plane.
type Metrics struct {
	// Authentication decisions as seen by the gateway.
	Evaluations        *prometheus.CounterVec
	EvaluationDuration *prometheus.HistogramVec

	// Challenge lifecycle.
	ChallengesIssued   *prometheus.CounterVec
	ChallengeOutcomes  *prometheus.CounterVec
	VerifyDuration     prometheus.Histogram
	ChallengeConflicts prometheus.Counter

	// Sessions.
	SessionsCreated prometheus.Counter
	SessionsRevoked prometheus.Counter
	SessionsActive  prometheus.Gauge

	// Agent plane.
	AgentsOnline     prometheus.Gauge
	PolicySyncEvents *prometheus.CounterVec
	GossipExchanges  *prometheus.CounterVec

	// Audit recorder health.
	AuditDropped prometheus.Counter
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		Evaluations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mfasrv_evaluations_total",
				Help: "Authentication evaluations by decision",
			},
			[]string{"decision"}, // allow, deny, challenge, error
		),

		EvaluationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mfasrv_evaluation_duration_seconds",
				Help:    "Policy evaluation latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"decision"},
		),

		ChallengesIssued: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mfasrv_challenges_issued_total",
				Help: "Challenges issued by method",
			},
			[]string{"method"},
		),

		ChallengeOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mfasrv_challenge_outcomes_total",
				Help: "Terminal challenge outcomes",
			},
			[]string{"method", "outcome"}, // approved, denied, expired
		),

		VerifyDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mfasrv_verify_duration_seconds",
				Help:    "Challenge verification latency",
				Buckets: prometheus.DefBuckets,
			},
		),

		ChallengeConflicts: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mfasrv_challenge_conflicts_total",
				Help: "Optimistic concurrency conflicts on challenge updates",
			},
		),

		SessionsCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mfasrv_sessions_created_total",
				Help: "Bearer sessions created",
			},
		),

		SessionsRevoked: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mfasrv_sessions_revoked_total",
				Help: "Sessions revoked by an administrator",
			},
		),

		SessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mfasrv_sessions_active",
				Help: "Sessions currently in the active state",
			},
		),

		AgentsOnline: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mfasrv_agents_online",
				Help: "Agents with a fresh heartbeat",
			},
		),

		PolicySyncEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mfasrv_policy_sync_events_total",
				Help: "Policy change notifications pushed to agents",
			},
			[]string{"kind"}, // changed, deleted, dropped
		),

		GossipExchanges: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mfasrv_gossip_exchanges_total",
				Help: "Session gossip batches by direction",
			},
			[]string{"direction"}, // sent, received
		),

		AuditDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mfasrv_audit_dropped_total",
				Help: "Audit entries dropped on queue overflow",
			},
		),
	}
}
