// Package metrics exposes the core's Prometheus instrumentation: counters
// for decisions, execution-filter skips, and broker calls; gauges for
// kill-switch posture and open exposure. Registered on a private registry
// so cmd/server controls exactly what /metrics serves.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is the private Prometheus registry internal/api's /metrics
// handler serves. A private registry (rather than the global
// DefaultRegisterer) keeps test runs from colliding on duplicate
// registration across packages.
var Registry = prometheus.NewRegistry()

var (
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trading_decisions_total",
			Help: "Trade/skip decisions recorded by DecisionLog, by account and outcome.",
		},
		[]string{"account", "symbol", "decision"},
	)

	ExecutionFilterSkipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trading_execution_filter_skips_total",
			Help: "Signals rejected by ExecutionFilter, by reason.",
		},
		[]string{"symbol", "reason"},
	)

	KillSwitchActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trading_kill_switch_active",
			Help: "1 if the kill switch is currently active for the scope, else 0.",
		},
		[]string{"scope"},
	)

	KillSwitchActivationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trading_kill_switch_activations_total",
			Help: "Kill switch activation transitions, by scope.",
		},
		[]string{"scope"},
	)

	BrokerRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trading_broker_request_duration_seconds",
			Help:    "Broker HTTP bridge request latency, by operation and outcome.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "outcome"},
	)

	OpenPositionsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trading_open_positions",
			Help: "Currently open positions, by account and symbol.",
		},
		[]string{"account", "symbol"},
	)

	ExitActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trading_exit_actions_total",
			Help: "ExitEngine actions applied to open positions, by action type.",
		},
		[]string{"action"},
	)

	AvoidWindowEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trading_avoid_window_events_total",
			Help: "Avoid-window start/end actions taken, by kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	Registry.MustRegister(
		DecisionsTotal,
		ExecutionFilterSkipsTotal,
		KillSwitchActive,
		KillSwitchActivationsTotal,
		BrokerRequestDuration,
		OpenPositionsGauge,
		ExitActionsTotal,
		AvoidWindowEventsTotal,
	)
}

// RecordDecision increments the decision counter for one DecisionLog row.
func RecordDecision(account, symbol, decision string) {
	DecisionsTotal.WithLabelValues(account, symbol, decision).Inc()
}

// RecordExecutionFilterSkip increments per-reason skip counters for one
// rejected evaluation; Verdict.Reasons can carry more than one, so every
// reason is counted.
func RecordExecutionFilterSkip(symbol string, reasons []string) {
	for _, r := range reasons {
		ExecutionFilterSkipsTotal.WithLabelValues(symbol, r).Inc()
	}
}

// SetKillSwitchActive reflects the current posture for scope.
func SetKillSwitchActive(scope string, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	KillSwitchActive.WithLabelValues(scope).Set(v)
}

// RecordKillSwitchActivation counts one active transition for scope.
func RecordKillSwitchActivation(scope string) {
	KillSwitchActivationsTotal.WithLabelValues(scope).Inc()
}

// RecordBrokerRequest observes one broker HTTP bridge call's latency.
func RecordBrokerRequest(operation, outcome string, seconds float64) {
	BrokerRequestDuration.WithLabelValues(operation, outcome).Observe(seconds)
}

// SetOpenPositions reflects the current open-position count for account/symbol.
func SetOpenPositions(account, symbol string, count int) {
	OpenPositionsGauge.WithLabelValues(account, symbol).Set(float64(count))
}

// RecordExitAction counts one ExitEngine action (break_even, partial, trail,
// time_exit, commission_exit, kill_switch_forced_exit).
func RecordExitAction(action string) {
	ExitActionsTotal.WithLabelValues(action).Inc()
}

// RecordAvoidWindowEvent counts one avoid-window start/end action (cancel,
// close, resubmit, drop).
func RecordAvoidWindowEvent(kind string) {
	AvoidWindowEventsTotal.WithLabelValues(kind).Inc()
}
