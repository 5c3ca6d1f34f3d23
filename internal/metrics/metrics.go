// Package metrics exposes prometheus counters for the enforcement agent.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Evaluation metrics
	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "childmon_evaluations_total",
			Help: "Decisions computed, by trigger source",
		},
		[]string{"source"},
	)

	AppliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "childmon_applies_total",
			Help: "Decisions pushed to the platform blocker, by method and result",
		},
		[]string{"method", "result"},
	)

	AppliesSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "childmon_applies_skipped_total",
			Help: "Decisions not pushed, by reason (unchanged, superseded)",
		},
		[]string{"reason"},
	)

	StaleCallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "childmon_stale_callbacks_total",
			Help: "Subscription callbacks dropped because their session ended",
		},
		[]string{"source"},
	)

	// Telemetry metrics
	ConfirmationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "childmon_confirmations_total",
			Help: "Enforcement confirmations written to the remote status store",
		},
		[]string{"result"},
	)

	// State gauges
	BlockedPackages = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "childmon_blocked_packages",
			Help: "Packages blocked by the last applied decision",
		},
	)

	GlobalLimitActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "childmon_global_limit_active",
			Help: "1 when the device-wide daily limit is enforced",
		},
	)

	UsageTotalSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "childmon_usage_total_seconds",
			Help: "Foreground time of tracked packages for the current local day",
		},
	)

	// Blocker metrics
	ProcessActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "childmon_process_actions_total",
			Help: "Kill, suspend and resume calls made by the blocker",
		},
		[]string{"action", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		EvaluationsTotal,
		AppliesTotal,
		AppliesSkipped,
		StaleCallbacks,
		ConfirmationsTotal,
		BlockedPackages,
		GlobalLimitActive,
		UsageTotalSeconds,
		ProcessActions,
	)
}

// ObserveDecision updates the state gauges after a successful apply.
func ObserveDecision(blocked int, global bool) {
	BlockedPackages.Set(float64(blocked))
	if global {
		GlobalLimitActive.Set(1)
	} else {
		GlobalLimitActive.Set(0)
	}
}
