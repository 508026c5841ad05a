package strata

import (
	"context"
	"time"
)

// AuditCategory groups audit events by subsystem.
type AuditCategory string

const (
	AuditLifecycle AuditCategory = "lifecycle"
	AuditSegment   AuditCategory = "segment"
	AuditMetadata  AuditCategory = "metadata"
	AuditBackup    AuditCategory = "backup"
)

// AuditEvent describes one state transition of the database.
type AuditEvent struct {
	Name     string         `json:"name"`
	Category AuditCategory  `json:"category"`
	Fields   map[string]any `json:"fields,omitempty"`
	At       time.Time      `json:"at"`
}

// AuditSink receives every state transition: entities registered, segments
// rotated and compacted, metadata saved and repaired, backups created and
// restored. Implementations must be safe for concurrent use and should not
// block; a slow sink slows the write path.
type AuditSink interface {
	Emit(ctx context.Context, e AuditEvent)
}

// NoopAuditSink discards all events.
type NoopAuditSink struct{}

func (NoopAuditSink) Emit(context.Context, AuditEvent) {}

// SlogAuditSink writes events through a Logger at info level.
type SlogAuditSink struct {
	logger *Logger
}

// NewSlogAuditSink creates a sink on top of the given logger. A nil logger
// falls back to the default text logger.
func NewSlogAuditSink(l *Logger) *SlogAuditSink {
	if l == nil {
		l = NewLogger(nil)
	}
	return &SlogAuditSink{logger: l}
}

// Emit implements AuditSink.
func (s *SlogAuditSink) Emit(ctx context.Context, e AuditEvent) {
	args := make([]any, 0, 2*len(e.Fields)+4)
	args = append(args, "event", e.Name, "category", string(e.Category))
	for k, v := range e.Fields {
		args = append(args, k, v)
	}
	s.logger.InfoContext(ctx, "audit", args...)
}
