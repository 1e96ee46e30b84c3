package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	sessions      prometheus.Gauge
	queryables    prometheus.Gauge
	queries       *prometheus.CounterVec
	replies       *prometheus.CounterVec
	queryDuration prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		sessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "uprpc",
			Subsystem: "router",
			Name:      "sessions",
			Help:      "Number of connected sessions",
		}),
		queryables: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "uprpc",
			Subsystem: "router",
			Name:      "queryables",
			Help:      "Number of declared queryables",
		}),
		queries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uprpc",
			Subsystem: "router",
			Name:      "queries_total",
			Help:      "Queries received, by outcome",
		}, []string{"result"}),
		replies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uprpc",
			Subsystem: "router",
			Name:      "replies_total",
			Help:      "Replies relayed to queriers, by kind",
		}, []string{"kind"}),
		queryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "uprpc",
			Subsystem: "router",
			Name:      "query_duration_seconds",
			Help:      "Time from query arrival to its final frame",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}),
	}
}
