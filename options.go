package strata

import (
	"github.com/strataio/strata/codec"
	"github.com/strataio/strata/resource"
)

type options struct {
	logger    *Logger
	metrics   MetricsCollector
	audit     AuditSink
	codec     codec.Codec
	resources *resource.Controller
}

// Option configures optional database behavior.
type Option func(*options)

// WithLogger sets a custom logger. Defaults to NoopLogger.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetricsCollector sets a custom metrics collector. Defaults to
// NoopMetricsCollector.
func WithMetricsCollector(m MetricsCollector) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithAuditSink sets a custom audit sink. Defaults to NoopAuditSink.
func WithAuditSink(s AuditSink) Option {
	return func(o *options) {
		if s != nil {
			o.audit = s
		}
	}
}

// WithCodec injects a codec implementation, overriding the name configured in
// Config.Codec. The codec's Name is recorded in the global metadata, so a
// custom codec must keep its name stable across versions.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithResourceController bounds background jobs, bulk-load memory and backup
// I/O. Defaults to nil, which enforces nothing.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) { o.resources = rc }
}

func applyOptions(opts []Option) options {
	o := options{
		logger:  NoopLogger(),
		metrics: NoopMetricsCollector{},
		audit:   NoopAuditSink{},
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
