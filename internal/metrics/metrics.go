// Package metrics exposes synchronization counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records pass outcomes. It satisfies content.MetricsRecorder.
type Collector struct {
	passes              *prometheus.CounterVec
	passDuration        *prometheus.HistogramVec
	recordsSaved        *prometheus.CounterVec
	recordsDeleted      *prometheus.CounterVec
	fetchTruncated      *prometheus.CounterVec
	propagationFailures *prometheus.CounterVec
}

// NewCollector creates the collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopsync_passes_total",
			Help: "Synchronization passes by kind and outcome.",
		}, []string{"kind", "outcome"}),
		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shopsync_pass_duration_seconds",
			Help:    "Synchronization pass duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		recordsSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopsync_records_saved_total",
			Help: "Records upserted into the local store.",
		}, []string{"kind"}),
		recordsDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopsync_records_deleted_total",
			Help: "Records removed from the local store.",
		}, []string{"kind"}),
		fetchTruncated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopsync_fetch_truncated_total",
			Help: "Passes cut short by a failed page fetch.",
		}, []string{"kind"}),
		propagationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shopsync_propagation_failures_total",
			Help: "Failed calls to the propagation sink.",
		}, []string{"kind", "operation"}),
	}

	reg.MustRegister(
		c.passes,
		c.passDuration,
		c.recordsSaved,
		c.recordsDeleted,
		c.fetchTruncated,
		c.propagationFailures,
	)
	return c
}

func (c *Collector) RecordPass(kind string, outcome string, duration time.Duration) {
	c.passes.WithLabelValues(kind, outcome).Inc()
	c.passDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (c *Collector) RecordRecordsSaved(kind string, count int) {
	c.recordsSaved.WithLabelValues(kind).Add(float64(count))
}

func (c *Collector) RecordRecordsDeleted(kind string, count int) {
	c.recordsDeleted.WithLabelValues(kind).Add(float64(count))
}

func (c *Collector) RecordFetchTruncated(kind string) {
	c.fetchTruncated.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordPropagationFailure(kind string, operation string) {
	c.propagationFailures.WithLabelValues(kind, operation).Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
