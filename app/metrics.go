package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type appMetrics struct {
	blockHeight       prometheus.Gauge
	txsTotal          *prometheus.CounterVec
	flightsFinalized  prometheus.Counter
	requestsPruned    prometheus.Counter
	blockExecDuration prometheus.Histogram
}

func (m *appMetrics) init(promRegistry prometheus.Registerer) {
	if promRegistry == nil {
		promRegistry = prometheus.NewRegistry()
	}
	promautoFactory := promauto.With(promRegistry)
	m.blockHeight = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "flightsurety_block_height",
		Help: "height of the last finalized block",
	})
	m.txsTotal = promautoFactory.NewCounterVec(prometheus.CounterOpts{
		Name: "flightsurety_txs_total",
		Help: "executed transactions by operation and result code",
	}, []string{"op", "code"})
	m.flightsFinalized = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "flightsurety_flight_status_finalized_total",
		Help: "flight statuses finalized by oracle consensus",
	})
	m.requestsPruned = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "flightsurety_oracle_requests_pruned_total",
		Help: "resolved oracle requests evicted after the retention window",
	})
	m.blockExecDuration = promautoFactory.NewHistogram(prometheus.HistogramOpts{
		Name:    "flightsurety_block_exec_seconds",
		Help:    "time spent executing the transactions of a block",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})
}
