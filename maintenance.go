package strata

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// MaintenanceOptions tunes a maintenance run. Zero durations fall back to
// the configured TempFileMaxAge and SegmentRetention.
type MaintenanceOptions struct {
	TempFileMaxAge   time.Duration
	SegmentRetention time.Duration
	RebuildIndexes   bool
}

// RunMaintenance removes stale temp files, prunes retired segment tombstones
// past their retention and optionally rebuilds indexes. The run occupies one
// background job slot; entity writes proceed concurrently.
func (db *Database) RunMaintenance(ctx context.Context, opts MaintenanceOptions) (MaintenanceReport, error) {
	if db.closed.Load() {
		return MaintenanceReport{}, ErrClosed
	}

	start := time.Now()
	report, err := db.maintain(ctx, opts)
	report.Elapsed = time.Since(start)

	db.metrics.RecordMaintenance(report.Elapsed, err)
	db.logger.LogMaintenance(ctx, report.TempFilesRemoved, report.SegmentsRemoved, report.Elapsed, err)
	if err == nil {
		db.emit(ctx, "maintenance_completed", AuditLifecycle, map[string]any{
			"temp_files": report.TempFilesRemoved,
			"segments":   report.SegmentsRemoved,
		})
	}
	return report, err
}

func (db *Database) maintain(ctx context.Context, opts MaintenanceOptions) (MaintenanceReport, error) {
	tempAge := opts.TempFileMaxAge
	if tempAge <= 0 {
		tempAge = db.cfg.TempFileMaxAge.Std()
	}
	retention := opts.SegmentRetention
	if retention <= 0 {
		retention = db.cfg.SegmentRetention.Std()
	}

	var report MaintenanceReport
	err := db.resources.Do(ctx, func() error {
		removed, err := db.cleanTempFiles(ctx, time.Now().Add(-tempAge))
		report.TempFilesRemoved = removed
		if err != nil {
			return err
		}

		cutoff := time.Now().Add(-retention)
		for _, h := range db.handles() {
			pruned, err := h.cleanup(ctx, cutoff)
			report.SegmentsRemoved += pruned
			if err != nil {
				return err
			}
		}

		if opts.RebuildIndexes && db.cfg.IndexingEnabled {
			for _, h := range db.handles() {
				if err := h.RebuildIndex(ctx); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return report, err
}

// cleanTempFiles removes files under temps/ whose modification time is
// before the cutoff. Crash leftovers from atomic writes land here; nothing
// under temps/ is ever authoritative.
func (db *Database) cleanTempFiles(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	err := filepath.WalkDir(db.tempsDir(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}
