package main

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/checkin/runtime/checkin/signal"
	"goa.design/checkin/runtime/checkin/telemetry"
)

var signalsNow = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

func TestParseSignals(t *testing.T) {
	sigs, err := parseSignals([]byte(`
signals:
  - type: steps
    steps: {current: 1500, goal: 8000}
  - type: weather
    timestamp: 2025-03-10T14:00:00Z
    weather: {temperature: 21, condition: sunny}
`), signalsNow)
	require.NoError(t, err)
	require.Len(t, sigs, 2)

	require.Equal(t, signal.KindSteps, sigs[0].Kind)
	require.Equal(t, signalsNow, sigs[0].Timestamp)
	require.InDelta(t, 18, sigs[0].Steps.Percentage, 0.001)

	require.Equal(t, signal.KindWeather, sigs[1].Kind)
	require.Equal(t, 14, sigs[1].Timestamp.Hour())
	require.Equal(t, "sunny", sigs[1].Weather.Condition)
}

func TestParseSignalsRejectsUnknownKind(t *testing.T) {
	_, err := parseSignals([]byte("signals:\n  - type: heartbeat\n"), signalsNow)
	require.EqualError(t, err, `signal 0: unknown type "heartbeat"`)
}

func TestSignalsFileReloads(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, "signals.yaml", "signals:\n  - type: inactivity\n    inactivity: {minutesSinceActivity: 30}\n")
	now := func() time.Time { return signalsNow }
	f, err := newSignalsFile(ctx, path, now, telemetry.NewNoopLogger())
	require.NoError(t, err)

	sigs, err := f.All(ctx)
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	require.InDelta(t, 30, sigs[0].Inactivity.MinutesSinceActivity, 0.001)

	require.NoError(t, os.WriteFile(path, []byte("signals:\n  - type: inactivity\n    inactivity: {minutesSinceActivity: 240}\n"), 0o600))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))
	sigs, err = f.All(ctx)
	require.NoError(t, err)
	require.InDelta(t, 240, sigs[0].Inactivity.MinutesSinceActivity, 0.001)

	// A broken file keeps the last good signals.
	require.NoError(t, os.WriteFile(path, []byte("signals: ["), 0o600))
	latest := later.Add(time.Minute)
	require.NoError(t, os.Chtimes(path, latest, latest))
	sigs, err = f.All(ctx)
	require.NoError(t, err)
	require.InDelta(t, 240, sigs[0].Inactivity.MinutesSinceActivity, 0.001)
}

func TestNewSignalsFileMissing(t *testing.T) {
	_, err := newSignalsFile(context.Background(), "/nonexistent/signals.yaml", time.Now, telemetry.NewNoopLogger())
	require.ErrorContains(t, err, "stat signals")
}
