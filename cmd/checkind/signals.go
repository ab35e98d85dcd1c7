package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"goa.design/checkin/runtime/checkin/signal"
	"goa.design/checkin/runtime/checkin/telemetry"
)

// signalsFile serves signals read from a YAML file and re-reads the file
// when its modification time changes. A file that fails to parse keeps the
// previous signals.
type signalsFile struct {
	*signal.StaticSource
	path   string
	now    func() time.Time
	logger telemetry.Logger

	mu      sync.Mutex
	modTime time.Time
}

type signalsDocument struct {
	Signals []signal.Signal `yaml:"signals"`
}

func newSignalsFile(ctx context.Context, path string, now func() time.Time, logger telemetry.Logger) (*signalsFile, error) {
	f := &signalsFile{StaticSource: signal.NewStaticSource(now), path: path, now: now, logger: logger}
	if err := f.reload(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

// All implements signal.Source.
func (f *signalsFile) All(ctx context.Context) ([]signal.Signal, error) {
	if err := f.reload(ctx); err != nil {
		f.logger.Warn(ctx, "signals file reload failed", "path", f.path, "err", err)
	}
	return f.StaticSource.All(ctx)
}

func (f *signalsFile) reload(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, err := os.Stat(f.path)
	if err != nil {
		return fmt.Errorf("stat signals: %w", err)
	}
	if info.ModTime().Equal(f.modTime) {
		return nil
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read signals: %w", err)
	}
	sigs, err := parseSignals(data, f.now())
	if err != nil {
		return err
	}
	f.StaticSource.Set(sigs...)
	f.modTime = info.ModTime()
	f.logger.Debug(ctx, "signals loaded", "path", f.path, "count", len(sigs))
	return nil
}

// parseSignals decodes a signals document. Missing timestamps default to
// now and step percentages are derived from the goal when absent.
func parseSignals(data []byte, now time.Time) ([]signal.Signal, error) {
	var doc signalsDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse signals: %w", err)
	}
	out := make([]signal.Signal, 0, len(doc.Signals))
	for i, s := range doc.Signals {
		if !s.Kind.Valid() {
			return nil, fmt.Errorf("signal %d: unknown type %q", i, s.Kind)
		}
		if s.Timestamp.IsZero() {
			s.Timestamp = now
		}
		if s.Kind == signal.KindSteps && s.Steps != nil && s.Steps.Percentage == 0 {
			s = signal.NewSteps(s.Timestamp, s.Steps.Current, s.Steps.Goal)
		}
		out = append(out, s)
	}
	return out, nil
}
