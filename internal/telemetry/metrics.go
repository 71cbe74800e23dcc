// Package telemetry holds the prometheus collectors and the tracer provider
// used by the admission and materialization paths.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeMaterialized   = "materialized"
	OutcomeDuplicate      = "duplicate"
	OutcomeStale          = "stale"
	OutcomeRolledBack     = "rolled_back"
	OutcomeRollbackFailed = "rollback_failed"
	OutcomeMalformed      = "malformed"
	OutcomeClaimFailed    = "claim_failed"
)

// Metrics is nil-safe: a nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	admissions       *prometheus.CounterVec
	admitDuration    prometheus.Histogram
	materializations *prometheus.CounterVec
	compensations    *prometheus.CounterVec
	queueDepth       prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seckill_admissions_total",
			Help: "Purchase attempts by admission result",
		}, []string{"result"}),
		admitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "seckill_admit_duration_seconds",
			Help:    "Latency of the atomic check-and-reserve step",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}),
		materializations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seckill_materializations_total",
			Help: "Intents drained from the queue by outcome",
		}, []string{"outcome"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seckill_compensations_total",
			Help: "Reservation rollbacks by result",
		}, []string{"result"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "seckill_queue_depth",
			Help: "Intents waiting in the order queue at last sample",
		}),
	}
	m.registry.MustRegister(m.admissions, m.admitDuration, m.materializations, m.compensations, m.queueDepth)
	m.registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveAdmission(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(result).Inc()
	m.admitDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveMaterialization(outcome string) {
	if m == nil {
		return
	}
	m.materializations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveCompensation(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.compensations.WithLabelValues(result).Inc()
}

func (m *Metrics) SetQueueDepth(n int64) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
