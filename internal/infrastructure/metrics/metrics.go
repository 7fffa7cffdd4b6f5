// Package metrics exposes Prometheus instrumentation for the claims
// engine. A single Metrics value is shared by the registry, the steal
// coordinator, and the balancer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors for claim and balance operations.
type Metrics struct {
	ClaimsTotal      *prometheus.CounterVec
	ClaimErrors      *prometheus.CounterVec
	EventsEmitted    *prometheus.CounterVec
	HandoffsTotal    *prometheus.CounterVec
	StealsTotal      *prometheus.CounterVec
	ActiveClaims     prometheus.Gauge
	StealableClaims  prometheus.Gauge
	ImbalanceScore   prometheus.Gauge
	RebalanceRuns    *prometheus.CounterVec
	RebalanceSeconds prometheus.Histogram
}

// New registers the collectors on the given registerer. Pass
// prometheus.DefaultRegisterer outside tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ClaimsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "claimflow",
			Name:      "claims_total",
			Help:      "Claim operations by type (claim, release, expire).",
		}, []string{"operation"}),
		ClaimErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "claimflow",
			Name:      "claim_errors_total",
			Help:      "Rejected claim operations by reason.",
		}, []string{"reason"}),
		EventsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "claimflow",
			Name:      "events_emitted_total",
			Help:      "Events appended to the audit log by type.",
		}, []string{"type"}),
		HandoffsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "claimflow",
			Name:      "handoffs_total",
			Help:      "Handoff outcomes (requested, accepted, rejected).",
		}, []string{"outcome"}),
		StealsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "claimflow",
			Name:      "steals_total",
			Help:      "Steal outcomes (stolen, contested, rejected).",
		}, []string{"outcome"}),
		ActiveClaims: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "claimflow",
			Name:      "active_claims",
			Help:      "Claims currently held.",
		}),
		StealableClaims: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "claimflow",
			Name:      "stealable_claims",
			Help:      "Entries currently on the stealable board.",
		}),
		ImbalanceScore: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "claimflow",
			Name:      "imbalance_score",
			Help:      "Most recent load imbalance score (0-100).",
		}),
		RebalanceRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "claimflow",
			Name:      "rebalance_runs_total",
			Help:      "Rebalance passes by result (success, failed, skipped).",
		}, []string{"result"}),
		RebalanceSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "claimflow",
			Name:      "rebalance_duration_seconds",
			Help:      "Wall time of rebalance passes.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// NewNop returns metrics bound to a throwaway registry, for tests and
// callers that do not scrape.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
