package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the worker's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	cycles        *prometheus.CounterVec
	writes        *prometheus.CounterVec
	retryFailures *prometheus.CounterVec
	lastSuccess   prometheus.Gauge
	rate          prometheus.Gauge
}

// Metric label values for outcomes.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusPartial = "partial"
)

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "usage_rollup",
			Name:      "cycles_total",
			Help:      "Total number of job cycles by job and status.",
		}, []string{"job", "status"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "usage_rollup",
			Name:      "document_writes_total",
			Help:      "Total number of document writes by collection and status.",
		}, []string{"collection", "status"}),
		retryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "usage_rollup",
			Name:      "attempt_failures_total",
			Help:      "Total number of failed attempts seen by the retry policy.",
		}, []string{"operation"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "usage_rollup",
			Name:      "daily_last_success_timestamp_seconds",
			Help:      "Unix time of the last daily rollup cycle in which every write succeeded.",
		}),
		rate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "usage_rollup",
			Name:      "kwh_to_peso_rate",
			Help:      "Most recently scraped kWh to peso rate.",
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.cycles, m.writes, m.retryFailures, m.lastSuccess, m.rate} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}

	return m, nil
}

// RecordCycle records a finished job cycle
func (m *Metrics) RecordCycle(job, status string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(job, status).Inc()
}

// RecordWrite records the final outcome of a document write
func (m *Metrics) RecordWrite(collection string, err error) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusFailed
	}
	m.writes.WithLabelValues(collection, status).Inc()
}

// RecordAttemptFailure records one failed attempt of a retried operation
func (m *Metrics) RecordAttemptFailure(operation string) {
	if m == nil {
		return
	}
	m.retryFailures.WithLabelValues(operation).Inc()
}

// RecordDailySuccess records the run time of a daily cycle with no failed
// writes
func (m *Metrics) RecordDailySuccess(at time.Time) {
	if m == nil {
		return
	}
	m.lastSuccess.Set(float64(at.Unix()))
}

// RecordRate records the current rate
func (m *Metrics) RecordRate(rate float64) {
	if m == nil {
		return
	}
	m.rate.Set(rate)
}
