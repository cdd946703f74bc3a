// Package metrics exposes Prometheus instrumentation and risk analytics
// computed from real trade history.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DecisionsTotal counts engine decisions by outcome and reason code.
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trading",
		Subsystem: "engine",
		Name:      "decisions_total",
		Help:      "Decisions produced by the engine, by outcome and reason.",
	}, []string{"outcome", "reason"})

	// ApprovedVolume accumulates home-currency volume of approved trades.
	ApprovedVolume = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trading",
		Subsystem: "engine",
		Name:      "approved_volume_total",
		Help:      "Total approved trade volume in home currency.",
	})

	// ExecutionOutcomes counts post-approval execution results.
	ExecutionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trading",
		Subsystem: "engine",
		Name:      "executions_total",
		Help:      "Execution outcomes for approved decisions.",
	}, []string{"status"})

	// CampaignTransitions counts campaign state machine transitions.
	CampaignTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trading",
		Subsystem: "campaign",
		Name:      "transitions_total",
		Help:      "Campaign lifecycle transitions.",
	}, []string{"to"})

	// EmergencyStops counts emergency halt engagements.
	EmergencyStops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trading",
		Subsystem: "engine",
		Name:      "emergency_stops_total",
		Help:      "Times the emergency stop was engaged.",
	})
)
