// Package metrics exposes prometheus collectors for the settlement node.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FillsTotal counts settled fills by order kind (open/close)
var FillsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "oplimit_fills_total",
		Help: "Total number of fills settled by the engine",
	},
	[]string{"kind"},
)

// FillRejectionsTotal counts rejected fills by order kind and error code
var FillRejectionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "oplimit_fill_rejections_total",
		Help: "Total number of fills rejected by the engine",
	},
	[]string{"kind", "code"},
)

// FillLatency records how long a fill attempt holds the engine
var FillLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "oplimit_fill_latency_seconds",
		Help:    "Latency in seconds of fill attempts, settled or rejected",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"kind"},
)

// CancelsTotal counts orders made terminal by their owner
var CancelsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "oplimit_cancels_total",
		Help: "Total number of orders cancelled by their owner",
	},
)

// Keeper and pool metrics
var (
	KeeperOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oplimit_keeper_outcomes_total",
			Help: "Keeper fill attempts by outcome",
		},
		[]string{"outcome"},
	)

	PoolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "oplimit_pool_orders",
			Help: "Number of signed orders waiting in the pool",
		},
	)
)

// HTTPRequests counts API responses by route and status
var HTTPRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "oplimit_http_requests_total",
		Help: "Total API requests by route and status code",
	},
	[]string{"route", "status"},
)

func init() {
	prometheus.MustRegister(FillsTotal, FillRejectionsTotal, FillLatency, CancelsTotal)
	prometheus.MustRegister(KeeperOutcomes, PoolSize, HTTPRequests)
}

// ObserveFill records one fill attempt. An empty code means it settled;
// other errors without a code are labelled "ERR".
func ObserveFill(kind, code string, failed bool, start time.Time) {
	FillLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if !failed {
		FillsTotal.WithLabelValues(kind).Inc()
		return
	}
	if code == "" {
		code = "ERR"
	}
	FillRejectionsTotal.WithLabelValues(kind, code).Inc()
}

// ObserveKeeper adds one keeper pass to the outcome counters.
func ObserveKeeper(filled, dropped, kept int) {
	KeeperOutcomes.WithLabelValues("filled").Add(float64(filled))
	KeeperOutcomes.WithLabelValues("dropped").Add(float64(dropped))
	KeeperOutcomes.WithLabelValues("kept").Add(float64(kept))
}
