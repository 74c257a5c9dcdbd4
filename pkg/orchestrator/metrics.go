package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	workflowsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_deposit_workflows_started_total",
			Help: "Total number of deposit workflows started, grouped by route",
		}, []string{"route"})
	workflowsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_deposit_workflows_finished_total",
			Help: "Total number of deposit workflows that reached a terminal state, grouped by outcome",
		}, []string{"route", "outcome"})
	workflowsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vault_deposit_workflows_active",
			Help: "Current number of deposit workflows that have not reached a terminal state",
		})
	stateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_deposit_state_transitions_total",
			Help: "Total number of workflow state transitions, grouped by target state",
		}, []string{"to"})
	workflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vault_deposit_workflow_duration_seconds",
			Help:    "Time from start to terminal state of a deposit workflow",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}, []string{"route"})
)
