package strata

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; the prom
// subpackage carries a Prometheus implementation.
type MetricsCollector interface {
	// RecordInsert is called after each insert or bulk insert.
	// count is the number of records written, err is nil if successful.
	RecordInsert(entity string, count int, duration time.Duration, err error)

	// RecordUpdate is called after each update operation.
	RecordUpdate(entity string, updated int, duration time.Duration, err error)

	// RecordDelete is called after each delete operation.
	RecordDelete(entity string, removed int, duration time.Duration, err error)

	// RecordQuery is called after each read operation. kind names the
	// operation (get_all, get_by_id, find, find_by_property, ...).
	RecordQuery(entity, kind string, duration time.Duration, err error)

	// RecordFlush is called after each metadata flush job.
	RecordFlush(duration time.Duration, err error)

	// RecordCompaction is called after each compaction pass.
	// merged is the number of source segments folded away.
	RecordCompaction(entity string, merged int, duration time.Duration)

	// RecordBackup is called after each backup or restore.
	RecordBackup(duration time.Duration, err error)

	// RecordMaintenance is called after each maintenance run.
	RecordMaintenance(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordInsert(string, int, time.Duration, error)   {}
func (NoopMetricsCollector) RecordUpdate(string, int, time.Duration, error)   {}
func (NoopMetricsCollector) RecordDelete(string, int, time.Duration, error)   {}
func (NoopMetricsCollector) RecordQuery(string, string, time.Duration, error) {}
func (NoopMetricsCollector) RecordFlush(time.Duration, error)                 {}
func (NoopMetricsCollector) RecordCompaction(string, int, time.Duration)      {}
func (NoopMetricsCollector) RecordBackup(time.Duration, error)                {}
func (NoopMetricsCollector) RecordMaintenance(time.Duration, error)           {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	InsertCount      atomic.Int64
	InsertRecords    atomic.Int64
	InsertErrors     atomic.Int64
	InsertTotalNanos atomic.Int64
	UpdateCount      atomic.Int64
	UpdateErrors     atomic.Int64
	DeleteCount      atomic.Int64
	DeleteErrors     atomic.Int64
	QueryCount       atomic.Int64
	QueryErrors      atomic.Int64
	QueryTotalNanos  atomic.Int64
	FlushCount       atomic.Int64
	FlushErrors      atomic.Int64
	CompactionCount  atomic.Int64
	SegmentsMerged   atomic.Int64
	BackupCount      atomic.Int64
	BackupErrors     atomic.Int64
	MaintenanceCount atomic.Int64
}

// RecordInsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInsert(entity string, count int, duration time.Duration, err error) {
	b.InsertCount.Add(1)
	b.InsertRecords.Add(int64(count))
	b.InsertTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.InsertErrors.Add(1)
	}
}

// RecordUpdate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUpdate(entity string, updated int, duration time.Duration, err error) {
	b.UpdateCount.Add(1)
	if err != nil {
		b.UpdateErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(entity string, removed int, duration time.Duration, err error) {
	b.DeleteCount.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(entity, kind string, duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// RecordFlush implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFlush(duration time.Duration, err error) {
	b.FlushCount.Add(1)
	if err != nil {
		b.FlushErrors.Add(1)
	}
}

// RecordCompaction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCompaction(entity string, merged int, duration time.Duration) {
	b.CompactionCount.Add(1)
	b.SegmentsMerged.Add(int64(merged))
}

// RecordBackup implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBackup(duration time.Duration, err error) {
	b.BackupCount.Add(1)
	if err != nil {
		b.BackupErrors.Add(1)
	}
}

// RecordMaintenance implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMaintenance(duration time.Duration, err error) {
	b.MaintenanceCount.Add(1)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		InsertCount:      b.InsertCount.Load(),
		InsertRecords:    b.InsertRecords.Load(),
		InsertErrors:     b.InsertErrors.Load(),
		InsertAvgNanos:   avgNanos(&b.InsertTotalNanos, &b.InsertCount),
		UpdateCount:      b.UpdateCount.Load(),
		UpdateErrors:     b.UpdateErrors.Load(),
		DeleteCount:      b.DeleteCount.Load(),
		DeleteErrors:     b.DeleteErrors.Load(),
		QueryCount:       b.QueryCount.Load(),
		QueryErrors:      b.QueryErrors.Load(),
		QueryAvgNanos:    avgNanos(&b.QueryTotalNanos, &b.QueryCount),
		FlushCount:       b.FlushCount.Load(),
		FlushErrors:      b.FlushErrors.Load(),
		CompactionCount:  b.CompactionCount.Load(),
		SegmentsMerged:   b.SegmentsMerged.Load(),
		BackupCount:      b.BackupCount.Load(),
		BackupErrors:     b.BackupErrors.Load(),
		MaintenanceCount: b.MaintenanceCount.Load(),
	}
}

func avgNanos(total, count *atomic.Int64) int64 {
	n := count.Load()
	if n == 0 {
		return 0
	}
	return total.Load() / n
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	InsertCount      int64
	InsertRecords    int64
	InsertErrors     int64
	InsertAvgNanos   int64
	UpdateCount      int64
	UpdateErrors     int64
	DeleteCount      int64
	DeleteErrors     int64
	QueryCount       int64
	QueryErrors      int64
	QueryAvgNanos    int64
	FlushCount       int64
	FlushErrors      int64
	CompactionCount  int64
	SegmentsMerged   int64
	BackupCount      int64
	BackupErrors     int64
	MaintenanceCount int64
}
