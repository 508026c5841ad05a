package strata

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with strata-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithEntity adds an entity field to the logger.
func (l *Logger) WithEntity(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("entity", name),
	}
}

// WithSegment adds a segment id field to the logger.
func (l *Logger) WithSegment(id uint64) *Logger {
	return &Logger{
		Logger: l.Logger.With("segment", id),
	}
}

// LogInsert logs an insert operation.
func (l *Logger) LogInsert(ctx context.Context, entity string, count int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "insert failed",
			"entity", entity,
			"count", count,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "insert completed",
			"entity", entity,
			"count", count,
		)
	}
}

// LogBulkInsert logs a bulk insert operation.
func (l *Logger) LogBulkInsert(ctx context.Context, entity string, count, segments int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "bulk insert failed",
			"entity", entity,
			"count", count,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "bulk insert completed",
			"entity", entity,
			"count", count,
			"segments", segments,
		)
	}
}

// LogUpdate logs an update operation.
func (l *Logger) LogUpdate(ctx context.Context, entity string, updated int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "update failed",
			"entity", entity,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "update completed",
			"entity", entity,
			"updated", updated,
		)
	}
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, entity string, removed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"entity", entity,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"entity", entity,
			"removed", removed,
		)
	}
}

// LogQuery logs a read operation.
func (l *Logger) LogQuery(ctx context.Context, entity, kind string, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query failed",
			"entity", entity,
			"kind", kind,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "query completed",
			"entity", entity,
			"kind", kind,
			"results", results,
		)
	}
}

// LogRotation logs an active-segment rotation.
func (l *Logger) LogRotation(ctx context.Context, entity string, segmentID uint64) {
	l.InfoContext(ctx, "segment rotated",
		"entity", entity,
		"segment", segmentID,
	)
}

// LogCompaction logs a compaction pass.
func (l *Logger) LogCompaction(ctx context.Context, entity string, merged, created, emptied int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "compaction failed",
			"entity", entity,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "compaction completed",
			"entity", entity,
			"merged", merged,
			"created", created,
			"emptied", emptied,
		)
	}
}

// LogFlush logs a metadata flush.
func (l *Logger) LogFlush(ctx context.Context, entity string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "metadata flush failed",
			"entity", entity,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "metadata flushed",
			"entity", entity,
		)
	}
}

// LogBackup logs a backup operation.
func (l *Logger) LogBackup(ctx context.Context, id string, files int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "backup failed",
			"backup", id,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "backup completed",
			"backup", id,
			"files", files,
		)
	}
}

// LogRestore logs a restore operation.
func (l *Logger) LogRestore(ctx context.Context, id string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "restore failed",
			"backup", id,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "restore completed",
			"backup", id,
		)
	}
}

// LogRepair logs a repair pass.
func (l *Logger) LogRepair(ctx context.Context, scope string, actions []string) {
	if len(actions) == 0 {
		l.DebugContext(ctx, "repair found nothing to do",
			"scope", scope,
		)
		return
	}
	l.WarnContext(ctx, "repair applied changes",
		"scope", scope,
		"actions", len(actions),
	)
}

// LogMaintenance logs a maintenance pass.
func (l *Logger) LogMaintenance(ctx context.Context, tempFiles, segments int, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "maintenance failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "maintenance completed",
			"temp_files_removed", tempFiles,
			"segments_removed", segments,
			"elapsed", elapsed,
		)
	}
}
