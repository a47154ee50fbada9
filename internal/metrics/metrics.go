// Package metrics declares the daemon's Prometheus metrics, in the
// var-block-of-promauto-constructors style used throughout zoekt's
// shards/shards.go.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SearchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quickopend_search_requests_total",
		Help: "The total number of /search requests handled, by outcome",
	}, []string{"outcome"})

	SearchDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quickopend_search_duration_seconds",
		Help:    "The duration a /search request took in seconds",
		Buckets: prometheus.DefBuckets,
	})

	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quickopend_http_requests_total",
		Help: "The total number of HTTP requests handled, by route and status",
	}, []string{"route", "status"})

	ShardsLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quickopend_shards_loaded",
		Help: "The number of shards currently published",
	})

	BasenamesIndexed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quickopend_basenames_indexed",
		Help: "The total number of basenames across all published shards",
	})

	// IndexerStepDurationSeconds and IdleTicksTotal are registered and
	// exposed at /metrics, but no code in this module updates them.
	IndexerStepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quickopend_indexer_step_duration_seconds",
		Help:    "The duration of a single StepIndexer call in seconds",
		Buckets: prometheus.DefBuckets,
	})

	IdleTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quickopend_idle_ticks_total",
		Help: "The total number of idle ticks fired, by tier",
	}, []string{"tier"})
)
