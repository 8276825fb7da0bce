package provisioning

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vendora_tenant_provisioning_runs_total",
		Help: "Provisioning runs by operation and outcome.",
	}, []string{"op", "outcome"})
	stepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vendora_tenant_provisioning_step_failures_total",
		Help: "Setup step failures by step name.",
	}, []string{"step"})
)
