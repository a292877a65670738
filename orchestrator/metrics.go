package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type orchestratorMetrics struct {
	oraclesRegistered prometheus.Gauge
	requestsSeen      prometheus.Counter
	duplicateRequests prometheus.Counter
	submissions       *prometheus.CounterVec
	submitLatency     prometheus.Histogram
	reportsObserved   prometheus.Counter
	flightsFinalized  *prometheus.CounterVec
}

func (m *orchestratorMetrics) init(promRegistry prometheus.Registerer) {
	if promRegistry == nil {
		promRegistry = prometheus.NewRegistry()
	}
	promautoFactory := promauto.With(promRegistry)
	m.oraclesRegistered = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "flightsurety_oracles_registered",
		Help: "oracles of the pool holding labels",
	})
	m.requestsSeen = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "flightsurety_oracle_requests_seen_total",
		Help: "oracle requests received from the ledger",
	})
	m.duplicateRequests = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "flightsurety_oracle_requests_duplicate_total",
		Help: "redelivered oracle requests that were skipped",
	})
	m.submissions = promautoFactory.NewCounterVec(prometheus.CounterOpts{
		Name: "flightsurety_oracle_submissions_total",
		Help: "oracle responses submitted by result",
	}, []string{"result"})
	m.submitLatency = promautoFactory.NewHistogram(prometheus.HistogramOpts{
		Name:    "flightsurety_oracle_submit_seconds",
		Help:    "time from dispatch to commit of an oracle response",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	})
	m.reportsObserved = promautoFactory.NewCounter(prometheus.CounterOpts{
		Name: "flightsurety_oracle_reports_observed_total",
		Help: "oracle_report events observed on the ledger",
	})
	m.flightsFinalized = promautoFactory.NewCounterVec(prometheus.CounterOpts{
		Name: "flightsurety_flight_status_observed_total",
		Help: "flight_status_info events observed on the ledger by status",
	}, []string{"status"})
}
