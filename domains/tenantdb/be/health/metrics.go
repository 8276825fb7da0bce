package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vendora_tenant_health_checks_total",
		Help: "Health checks by resulting state.",
	}, []string{"state"})
	demotionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vendora_tenant_health_demotions_total",
		Help: "Store demotions by the state that triggered them.",
	}, []string{"state"})
)
