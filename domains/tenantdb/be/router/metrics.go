package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vendora_tenant_router_cache_hits_total",
		Help: "Tenant connection lookups served from the in-process cache.",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vendora_tenant_router_cache_misses_total",
		Help: "Tenant connection lookups that required credential resolution.",
	})
	constructionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vendora_tenant_router_construction_failures_total",
		Help: "Tenant client construction attempts that failed.",
	})
)
