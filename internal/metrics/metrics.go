// Package metrics exposes the autonomy core's Prometheus instruments.
// Every other package takes a *Registry (or nil) and updates its
// collector fields rather than registering collectors itself, so there is exactly one
// registration point.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Registry struct {
	GoalsIdentified   *prometheus.CounterVec
	GoalDecisions     *prometheus.CounterVec
	TasksCompleted    *prometheus.CounterVec
	TaskRetries       prometheus.Counter
	ResourceGateDenials *prometheus.CounterVec
	SchedulerJobRuns  *prometheus.CounterVec
	BudgetSpentUSD    prometheus.Gauge
	EffectivenessScore *prometheus.GaugeVec
}

// New constructs and registers every collector against reg. Pass
// prometheus.NewRegistry() for isolated tests, or
// prometheus.DefaultRegisterer's underlying registry in production.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		GoalsIdentified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autonomy_core",
			Name:      "goals_identified_total",
			Help:      "Goals inserted by the Goal Generator, by goal_type.",
		}, []string{"goal_type"}),
		GoalDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autonomy_core",
			Name:      "goal_decisions_total",
			Help:      "Approval Workflow decisions, by decision (approved|rejected).",
		}, []string{"decision"}),
		TasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autonomy_core",
			Name:      "tasks_completed_total",
			Help:      "Tasks reaching a terminal state, by status.",
		}, []string{"status"}),
		TaskRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autonomy_core",
			Name:      "task_retries_total",
			Help:      "Retryable task failures requeued by the executor.",
		}),
		ResourceGateDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autonomy_core",
			Name:      "resource_gate_denials_total",
			Help:      "Resource Gate denials, by error code.",
		}, []string{"reason"}),
		SchedulerJobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autonomy_core",
			Name:      "scheduler_job_runs_total",
			Help:      "Scheduled job fires, by handler and outcome.",
		}, []string{"handler", "status"}),
		BudgetSpentUSD: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "autonomy_core",
			Name:      "budget_spent_usd",
			Help:      "Autonomous spend recorded for the current UTC day.",
		}),
		EffectivenessScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "autonomy_core",
			Name:      "effectiveness_score",
			Help:      "Mean effectiveness_score over recent measurements, by goal_type.",
		}, []string{"goal_type"}),
	}

	reg.MustRegister(
		r.GoalsIdentified, r.GoalDecisions, r.TasksCompleted, r.TaskRetries,
		r.ResourceGateDenials, r.SchedulerJobRuns, r.BudgetSpentUSD, r.EffectivenessScore,
	)
	return r
}
