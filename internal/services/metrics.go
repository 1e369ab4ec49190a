package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sagaOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinicore_saga_outcomes_total",
		Help: "Provisioning saga completions by saga name and outcome.",
	}, []string{"saga", "outcome"})

	compensationRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinicore_saga_compensation_runs_total",
		Help: "Compensation executions by saga step and result.",
	}, []string{"step", "result"})

	quotaDenialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinicore_quota_denials_total",
		Help: "Invitation requests denied by the quota validator, by role.",
	}, []string{"role"})

	redistributionChangesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clinicore_redistribution_changes_total",
		Help: "Care-team pointer changes written by bulk redistribution.",
	})
)
