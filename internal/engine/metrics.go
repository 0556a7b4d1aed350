package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deskd_ticket_fetches_total",
		Help: "List fetches by result",
	}, []string{"result"})
	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "deskd_ticket_fetch_duration_seconds",
		Help:    "List fetch latency",
		Buckets: prometheus.DefBuckets,
	})
	staleDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deskd_stale_responses_dropped_total",
		Help: "Responses discarded because a newer request superseded them",
	})
	invalidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deskd_live_invalidations_total",
		Help: "Change events received by table",
	}, []string{"table"})
	countRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deskd_view_count_refreshes_total",
		Help: "Completed per-view badge count refreshes",
	})
	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deskd_ticket_mutations_total",
		Help: "Mutation facade operations by kind and result",
	}, []string{"op", "result"})
)
