package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deskd_cache_hits_total",
		Help: "Cache hits by tier",
	}, []string{"tier"})
	misses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deskd_cache_misses_total",
		Help: "Cache misses by tier",
	}, []string{"tier"})
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deskd_cache_errors_total",
		Help: "Cache backend errors by tier",
	}, []string{"tier"})
)
