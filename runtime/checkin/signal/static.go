package signal

import (
	"context"
	"sync"
	"time"
)

// StaticSource serves a fixed set of signals. It is used by tests and by the
// daemon when signals are supplied from a file. Concerning patterns are
// derived from the inactivity and medication signals it holds.
type StaticSource struct {
	mu           sync.RWMutex
	signals      []Signal
	now          func() time.Time
	lastActivity time.Time
	patterns     *Patterns
}

// NewStaticSource returns a source serving signals. now defaults to
// time.Now.
func NewStaticSource(now func() time.Time, signals ...Signal) *StaticSource {
	if now == nil {
		now = time.Now
	}
	return &StaticSource{signals: append([]Signal(nil), signals...), now: now}
}

// Set replaces the served signals.
func (s *StaticSource) Set(signals ...Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append([]Signal(nil), signals...)
}

// SetPatterns overrides the concerning pattern report. Passing nil restores
// the derived behavior.
func (s *StaticSource) SetPatterns(p *Patterns) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns = p
}

// All returns a copy of the served signals.
func (s *StaticSource) All(context.Context) ([]Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Signal(nil), s.signals...), nil
}

// RecordActivity stores the activity time and resets any inactivity signal.
func (s *StaticSource) RecordActivity(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = s.now()
	for i, sig := range s.signals {
		if sig.Kind == KindInactivity && sig.Inactivity != nil {
			s.signals[i] = NewInactivity(s.lastActivity, 0)
		}
	}
	return nil
}

// LastActivity returns the time of the last RecordActivity call.
func (s *StaticSource) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// TimeOfDay buckets the source clock.
func (s *StaticSource) TimeOfDay(context.Context) TimeOfDay {
	return TimeOfDayAt(s.now())
}

// ConcerningPatterns flags more than eight hours of inactivity during the
// day, or three or more missed doses.
func (s *StaticSource) ConcerningPatterns(context.Context) (Patterns, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.patterns != nil {
		p := *s.patterns
		p.Reasons = append([]string(nil), p.Reasons...)
		return p, nil
	}
	set := NewSet(s.signals)
	var p Patterns
	if sig, ok := set.Find(KindInactivity); ok && sig.Inactivity != nil {
		if sig.Inactivity.MinutesSinceActivity >= 8*60 && TimeOfDayAt(s.now()) != Night {
			p.Concerning = true
			p.SuggestCaregiverCall = true
			p.Reasons = append(p.Reasons, "no activity for more than eight hours")
		}
	}
	if sig, ok := set.Find(KindMedication); ok && sig.Medication != nil {
		if sig.Medication.MissedDoses >= 3 {
			p.Concerning = true
			p.Reasons = append(p.Reasons, "several medication doses missed")
		}
	}
	return p, nil
}
