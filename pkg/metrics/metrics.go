// Package metrics records run counters in a private Prometheus registry and
// exports them in the node_exporter textfile format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"imgbatch/pkg/errors"
	"imgbatch/pkg/models"
	"imgbatch/pkg/stats"
)

// Metrics holds the collectors for one run
type Metrics struct {
	registry *prometheus.Registry

	recordsTotal     *prometheus.CounterVec
	failuresTotal    *prometheus.CounterVec
	attemptsTotal    prometheus.Counter
	bytesTotal       prometheus.Counter
	downloadDuration prometheus.Histogram
	lastRunSuccess   prometheus.Gauge
	lastRunTimestamp prometheus.Gauge
}

// New creates collectors registered on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		recordsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imgbatch_records_total",
			Help: "Records processed, by final status",
		}, []string{"status"}),
		failuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "imgbatch_failures_total",
			Help: "Failed records, by error class",
		}, []string{"class"}),
		attemptsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "imgbatch_download_attempts_total",
			Help: "HTTP download attempts issued",
		}),
		bytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "imgbatch_download_bytes_total",
			Help: "Bytes written to disk",
		}),
		downloadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "imgbatch_download_duration_seconds",
			Help:    "Wall time per record including retries",
			Buckets: prometheus.DefBuckets,
		}),
		lastRunSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "imgbatch_last_run_success",
			Help: "1 when the last run had no failed records",
		}),
		lastRunTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "imgbatch_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}),
	}
}

// Observe records one record outcome
func (m *Metrics) Observe(o models.Outcome) {
	m.attemptsTotal.Add(float64(o.Attempts))

	switch {
	case o.Succeeded() && o.Skipped:
		m.recordsTotal.WithLabelValues("skipped").Inc()
	case o.Succeeded():
		m.recordsTotal.WithLabelValues("succeeded").Inc()
		m.bytesTotal.Add(float64(o.Bytes))
		m.downloadDuration.Observe(o.Elapsed.Seconds())
	default:
		m.recordsTotal.WithLabelValues("failed").Inc()
		kind := errors.KindOf(o.Err)
		if kind == "" {
			kind = errors.KindUnknown
		}
		m.failuresTotal.WithLabelValues(string(kind)).Inc()
		if o.Attempts > 0 {
			m.downloadDuration.Observe(o.Elapsed.Seconds())
		}
	}
}

// Finish stamps the end-of-run gauges
func (m *Metrics) Finish(s stats.Stats, at time.Time) {
	if s.Failed == 0 {
		m.lastRunSuccess.Set(1)
	} else {
		m.lastRunSuccess.Set(0)
	}
	m.lastRunTimestamp.Set(float64(at.Unix()))
}

// WriteTextfile writes every metric to path for the node_exporter textfile collector
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
