// Package audit records engine decisions for later review. Sinks are
// fire-and-forget: they never fail the operation being audited.
package audit

import (
	"context"

	"goa.design/checkin/runtime/checkin/telemetry"
)

// Category groups audit records.
type Category string

const (
	CategoryCheckIn     Category = "checkin"
	CategoryPreferences Category = "preferences"
	CategorySafety      Category = "safety"
)

type (
	// Sink receives audit records.
	Sink interface {
		Log(ctx context.Context, action string, category Category, description string, metadata map[string]any)
	}

	// LogSink writes audit records as structured log lines.
	LogSink struct {
		logger telemetry.Logger
	}

	// Noop discards audit records.
	Noop struct{}
)

// NewLogSink returns a Sink that logs through logger.
func NewLogSink(logger telemetry.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Log writes one line with the action, category and metadata fields.
func (s *LogSink) Log(ctx context.Context, action string, category Category, description string, metadata map[string]any) {
	kv := make([]any, 0, 6+2*len(metadata))
	kv = append(kv, "audit_action", action, "audit_category", string(category), "description", description)
	for k, v := range metadata {
		kv = append(kv, k, v)
	}
	s.logger.Info(ctx, "audit", kv...)
}

// Log discards the record.
func (Noop) Log(context.Context, string, Category, string, map[string]any) {}
