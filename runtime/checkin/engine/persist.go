package engine

import (
	"context"

	"goa.design/checkin/runtime/checkin"
	"goa.design/checkin/runtime/checkin/rule"
	"goa.design/checkin/runtime/checkin/store"
)

// ensureLoaded restores persisted state once. Read failures are logged and
// leave the defaults in place.
func (e *Engine) ensureLoaded(ctx context.Context) bool {
	e.mu.Lock()
	if e.loaded {
		e.mu.Unlock()
		return false
	}
	e.mu.Unlock()

	prefs := checkin.DefaultPreferences()
	if _, err := store.GetJSON(ctx, e.store, store.KeyPreferences, &prefs); err != nil {
		e.logger.Error(ctx, "load preferences", "err", err)
		prefs = checkin.DefaultPreferences()
	}
	var all []checkin.CheckIn
	if _, err := store.GetJSON(ctx, e.store, store.KeyCheckIns, &all); err != nil {
		e.logger.Error(ctx, "load check-ins", "err", err)
		all = nil
	}
	history := rule.History{}
	if _, err := store.GetJSON(ctx, e.store, store.KeyRuleTriggers, &history); err != nil {
		e.logger.Error(ctx, "load rule triggers", "err", err)
		history = rule.History{}
	}
	if history == nil {
		history = rule.History{}
	}
	var daily checkin.DailyCount
	if _, err := store.GetJSON(ctx, e.store, store.KeyDailyCount, &daily); err != nil {
		e.logger.Error(ctx, "load daily count", "err", err)
		daily = checkin.DailyCount{}
	}
	var state checkin.EngineState
	if _, err := store.GetJSON(ctx, e.store, store.KeyEngineState, &state); err != nil {
		e.logger.Warn(ctx, "load engine state", "err", err)
		state = checkin.EngineState{}
	}

	now := e.now()
	expired := 0
	for _, c := range all {
		if !c.Dismissed && !c.Pending(now) {
			expired++
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded {
		return false
	}
	e.prefs = prefs
	e.live = all
	e.history = history
	e.daily = daily.Rollover(checkin.DateKey(e.local(now)))
	e.state = state
	e.loaded = true
	e.logger.Info(ctx, "check-in engine state loaded",
		"checkins", len(all), "expired", expired, "today", e.daily.Count, "enabled", prefs.Enabled)
	return true
}

// saveCheckIns writes the full check-in list, expired entries included.
func (e *Engine) saveCheckIns(ctx context.Context) {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()
	e.mu.Lock()
	all := make([]checkin.CheckIn, 0, len(e.live))
	for _, c := range e.live {
		all = append(all, c.Clone())
	}
	e.mu.Unlock()
	e.save(ctx, store.KeyCheckIns, all)
}

func (e *Engine) saveHistory(ctx context.Context) {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()
	e.mu.Lock()
	h := e.history.Clone()
	e.mu.Unlock()
	e.save(ctx, store.KeyRuleTriggers, h)
}

func (e *Engine) saveDailyCount(ctx context.Context) {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()
	e.mu.Lock()
	d := e.daily
	e.mu.Unlock()
	e.save(ctx, store.KeyDailyCount, d)
}

func (e *Engine) savePreferences(ctx context.Context) {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()
	e.mu.Lock()
	p := e.prefs.Clone()
	e.mu.Unlock()
	e.save(ctx, store.KeyPreferences, p)
}

func (e *Engine) saveState(ctx context.Context) {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()
	e.mu.Lock()
	s := e.copyStateLocked()
	e.mu.Unlock()
	e.save(ctx, store.KeyEngineState, s)
}

// save logs persistence failures. The in-memory state is kept either way.
func (e *Engine) save(ctx context.Context, key string, v any) {
	if err := store.SetJSON(ctx, e.store, key, v); err != nil {
		e.logger.Error(ctx, "persist check-in state", "key", key, "err", err)
		e.metrics.IncCounter("checkin.persist_errors", 1, "key", key)
	}
}
