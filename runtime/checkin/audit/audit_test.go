package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	msgs    []string
	keyvals [][]any
}

func (l *recordingLogger) Debug(context.Context, string, ...any) {}
func (l *recordingLogger) Warn(context.Context, string, ...any) {}
func (l *recordingLogger) Error(context.Context, string, ...any) {}
func (l *recordingLogger) Info(_ context.Context, msg string, kv ...any) {
	l.msgs = append(l.msgs, msg)
	l.keyvals = append(l.keyvals, kv)
}

func TestLogSink(t *testing.T) {
	logger := &recordingLogger{}
	NewLogSink(logger).Log(context.Background(), "checkin_created", CategoryCheckIn, "created step nudge", map[string]any{"rule": "step_nudge_afternoon"})
	require.Equal(t, []string{"audit"}, logger.msgs)
	require.Equal(t, []any{
		"audit_action", "checkin_created",
		"audit_category", "checkin",
		"description", "created step nudge",
		"rule", "step_nudge_afternoon",
	}, logger.keyvals[0])
}
