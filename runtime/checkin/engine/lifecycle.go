package engine

import (
	"context"
	"fmt"
	"time"

	"goa.design/checkin/runtime/checkin"
	"goa.design/checkin/runtime/checkin/audit"
	"goa.design/checkin/runtime/checkin/hooks"
)

// tickerKey marks contexts handed out by the ticker goroutine. The value is
// the goroutine's done channel.
type tickerKey struct{}

// Start loads the persisted state and, when the engine is enabled, arms the
// periodic ticker and runs one tick. Calling Start on a running engine is a
// no-op.
func (e *Engine) Start(ctx context.Context) error {
	if e.ensureLoaded(ctx) {
		e.publish(ctx, hooks.CheckInsLoaded, "")
	}
	if !e.Preferences().Enabled {
		e.logger.Info(ctx, "check-in engine disabled")
		return nil
	}
	if !e.startTicker(ctx, false) {
		return nil
	}
	if _, err := e.RunCheck(ctx, TriggerPeriodic); err != nil {
		e.logger.Warn(ctx, "initial check-in tick failed", "err", err)
	}
	return nil
}

// Stop stops the periodic ticker and waits for its goroutine to exit. It is
// safe to call Stop on a stopped engine.
func (e *Engine) Stop() {
	e.stop(context.Background())
}

// stop cancels the ticker. It waits for the ticker goroutine unless ctx was
// issued by that goroutine, which happens when an observer reacting to a
// periodic tick disables the engine.
func (e *Engine) stop(ctx context.Context) {
	e.lifeMu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.running.Store(false)
	e.lifeMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if own, _ := ctx.Value(tickerKey{}).(chan struct{}); own == done {
		return
	}
	<-done
}

// Running reports whether the periodic ticker is armed.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// startTicker arms the ticker goroutine and reports whether it was stopped
// before. With immediate set the goroutine ticks once right away, so callers
// running inside a tick (observers) never wait on the tick lock.
func (e *Engine) startTicker(ctx context.Context, immediate bool) bool {
	e.lifeMu.Lock()
	if e.cancel != nil {
		e.lifeMu.Unlock()
		return false
	}
	done := make(chan struct{})
	tctx, cancel := context.WithCancel(context.WithValue(context.WithoutCancel(ctx), tickerKey{}, done))
	e.cancel, e.done = cancel, done
	e.running.Store(true)
	e.lifeMu.Unlock()

	go e.loop(tctx, done, immediate)
	e.logger.Info(ctx, "check-in engine started", "interval", e.tickInterval.String())
	return true
}

func (e *Engine) loop(ctx context.Context, done chan struct{}, immediate bool) {
	defer close(done)
	if immediate {
		e.periodicTick(ctx)
	}
	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.periodicTick(ctx)
		}
	}
}

func (e *Engine) periodicTick(ctx context.Context) {
	if _, err := e.RunCheck(ctx, TriggerPeriodic); err != nil && ctx.Err() == nil {
		e.logger.Warn(ctx, "periodic check-in tick failed", "err", err)
	}
}

// Preferences returns the current preferences.
func (e *Engine) Preferences() checkin.Preferences {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prefs.Clone()
}

// UpdatePreferences applies patch, persists the result and starts or stops
// the engine when Enabled flips. Invalid patches are rejected without any
// change.
func (e *Engine) UpdatePreferences(ctx context.Context, patch checkin.PreferencesPatch) (checkin.Preferences, error) {
	if err := validatePatch(patch); err != nil {
		return e.Preferences(), err
	}
	e.ensureLoaded(ctx)
	e.mu.Lock()
	old := e.prefs
	updated := old.Apply(patch)
	e.prefs = updated
	e.mu.Unlock()

	e.savePreferences(ctx)
	e.audit.Log(ctx, "preferences_updated", audit.CategoryPreferences, "preferences updated", map[string]any{
		"enabled":            updated.Enabled,
		"max_nudges_per_day": updated.MaxNudgesPerDay,
	})

	switch {
	case !old.Enabled && updated.Enabled:
		e.startTicker(ctx, true)
	case old.Enabled && !updated.Enabled:
		e.stop(ctx)
		if err := e.notifier.CancelAll(ctx); err != nil {
			e.logger.Warn(ctx, "cancel scheduled notifications failed", "err", err)
		}
	}
	return updated.Clone(), nil
}

// Foreground records that the app came to the foreground. A tick runs only on
// a background to foreground transition.
func (e *Engine) Foreground(ctx context.Context) ([]checkin.CheckIn, error) {
	e.mu.Lock()
	wasBackground := e.background
	e.background = false
	e.mu.Unlock()
	if !wasBackground {
		return nil, nil
	}
	return e.RunCheck(ctx, TriggerForeground)
}

// Background records that the app left the foreground.
func (e *Engine) Background() {
	e.mu.Lock()
	e.background = true
	e.mu.Unlock()
}

// RegisterBackground asks s for a periodic wake that runs a background tick.
func (e *Engine) RegisterBackground(ctx context.Context, s Scheduler) (Registration, error) {
	reg, err := s.Register(ctx, "checkin.background", e.backgroundMinInterval, func(ctx context.Context) error {
		_, err := e.RunCheck(ctx, TriggerBackground)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("register background check-in: %w", err)
	}
	e.logger.Info(ctx, "background check-ins registered", "min_interval", e.backgroundMinInterval.String())
	return reg, nil
}

func validatePatch(p checkin.PreferencesPatch) error {
	if q := p.QuietHours; q != nil {
		if q.StartHour < 0 || q.StartHour > 23 || q.EndHour < 0 || q.EndHour > 23 {
			return fmt.Errorf("quiet hours must be within 0..23, got %d..%d", q.StartHour, q.EndHour)
		}
	}
	if p.MaxNudgesPerDay != nil && *p.MaxNudgesPerDay < 0 {
		return fmt.Errorf("max nudges per day must not be negative, got %d", *p.MaxNudgesPerDay)
	}
	return nil
}
