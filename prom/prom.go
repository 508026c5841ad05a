// Package prom exports engine metrics to Prometheus. Collector implements
// strata.MetricsCollector; pass it to strata.WithMetricsCollector and serve
// Handler on your metrics port.
package prom

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/strataio/strata"
)

// Collector bridges engine metrics into Prometheus. Label cardinality stays
// bounded: entity names and a fixed operation vocabulary.
type Collector struct {
	opLatency   *prometheus.HistogramVec
	records     *prometheus.CounterVec
	queries     *prometheus.CounterVec
	flushes     *prometheus.CounterVec
	compactions *prometheus.CounterVec
	merged      *prometheus.CounterVec
	backups     *prometheus.CounterVec
	maintenance *prometheus.CounterVec
}

var _ strata.MetricsCollector = (*Collector)(nil)

// NewCollector builds a Collector and registers its metrics. A nil
// registerer uses the default registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "strata_operation_latency_seconds",
			Help:    "Latency of storage operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "status"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strata_records_total",
			Help: "Records written, updated or removed",
		}, []string{"op", "entity"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strata_queries_total",
			Help: "Read operations by entity and kind",
		}, []string{"entity", "kind", "status"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strata_flushes_total",
			Help: "Metadata flush jobs completed",
		}, []string{"status"}),
		compactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strata_compactions_total",
			Help: "Compaction passes completed",
		}, []string{"entity"}),
		merged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strata_segments_merged_total",
			Help: "Source segments folded away by compaction",
		}, []string{"entity"}),
		backups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strata_backups_total",
			Help: "Backup and restore operations",
		}, []string{"status"}),
		maintenance: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strata_maintenance_runs_total",
			Help: "Maintenance runs completed",
		}, []string{"status"}),
	}
	reg.MustRegister(c.opLatency, c.records, c.queries, c.flushes, c.compactions, c.merged, c.backups, c.maintenance)
	return c
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordInsert implements strata.MetricsCollector.
func (c *Collector) RecordInsert(entity string, count int, d time.Duration, err error) {
	c.opLatency.WithLabelValues("insert", status(err)).Observe(d.Seconds())
	if err == nil {
		c.records.WithLabelValues("insert", entity).Add(float64(count))
	}
}

// RecordUpdate implements strata.MetricsCollector.
func (c *Collector) RecordUpdate(entity string, updated int, d time.Duration, err error) {
	c.opLatency.WithLabelValues("update", status(err)).Observe(d.Seconds())
	if err == nil {
		c.records.WithLabelValues("update", entity).Add(float64(updated))
	}
}

// RecordDelete implements strata.MetricsCollector.
func (c *Collector) RecordDelete(entity string, removed int, d time.Duration, err error) {
	c.opLatency.WithLabelValues("delete", status(err)).Observe(d.Seconds())
	if err == nil {
		c.records.WithLabelValues("delete", entity).Add(float64(removed))
	}
}

// RecordQuery implements strata.MetricsCollector.
func (c *Collector) RecordQuery(entity, kind string, d time.Duration, err error) {
	c.opLatency.WithLabelValues("query", status(err)).Observe(d.Seconds())
	c.queries.WithLabelValues(entity, kind, status(err)).Inc()
}

// RecordFlush implements strata.MetricsCollector.
func (c *Collector) RecordFlush(d time.Duration, err error) {
	c.opLatency.WithLabelValues("flush", status(err)).Observe(d.Seconds())
	c.flushes.WithLabelValues(status(err)).Inc()
}

// RecordCompaction implements strata.MetricsCollector.
func (c *Collector) RecordCompaction(entity string, merged int, d time.Duration) {
	c.opLatency.WithLabelValues("compaction", "success").Observe(d.Seconds())
	c.compactions.WithLabelValues(entity).Inc()
	c.merged.WithLabelValues(entity).Add(float64(merged))
}

// RecordBackup implements strata.MetricsCollector.
func (c *Collector) RecordBackup(d time.Duration, err error) {
	c.opLatency.WithLabelValues("backup", status(err)).Observe(d.Seconds())
	c.backups.WithLabelValues(status(err)).Inc()
}

// RecordMaintenance implements strata.MetricsCollector.
func (c *Collector) RecordMaintenance(d time.Duration, err error) {
	c.opLatency.WithLabelValues("maintenance", status(err)).Observe(d.Seconds())
	c.maintenance.WithLabelValues(status(err)).Inc()
}

// Handler serves the default Prometheus registry, for mounting on a metrics
// mux.
func Handler() http.Handler { return promhttp.Handler() }
