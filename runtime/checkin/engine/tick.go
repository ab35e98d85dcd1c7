package engine

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"goa.design/checkin/runtime/checkin"
	"goa.design/checkin/runtime/checkin/audit"
	"goa.design/checkin/runtime/checkin/hooks"
	"goa.design/checkin/runtime/checkin/message"
	"goa.design/checkin/runtime/checkin/notify"
	"goa.design/checkin/runtime/checkin/rule"
	"goa.design/checkin/runtime/checkin/signal"
	"goa.design/checkin/runtime/checkin/telemetry"
)

// RunCheck runs one tick. It is a no-op when the engine is disabled or the
// local hour is inside quiet hours. Otherwise it evaluates the rule catalog
// against the current signals, creates a check-in for every fired rule, then
// runs the concerning-pattern check. Overlapping calls wait for the running
// tick. Collaborator failures are logged and never returned; the only error
// is a context cancelled before the tick starts, including while waiting.
func (e *Engine) RunCheck(ctx context.Context, trigger Trigger) ([]checkin.CheckIn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case e.tickSem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-e.tickSem }()
	if e.ensureLoaded(ctx) {
		e.publish(ctx, hooks.CheckInsLoaded, "")
	}

	ctx, span := e.tracer.Start(ctx, "checkin.tick")
	defer span.End()
	start := time.Now()
	defer func() {
		e.metrics.RecordTimer("checkin.tick.duration", time.Since(start), "trigger", string(trigger))
	}()
	e.metrics.IncCounter("checkin.ticks", 1, "trigger", string(trigger))

	now := e.now()
	local := e.local(now)
	prefs := e.Preferences()
	if !prefs.Enabled {
		e.suppressed(ctx, span, trigger, "disabled")
		return nil, nil
	}
	if prefs.QuietHours.Contains(local.Hour()) {
		e.suppressed(ctx, span, trigger, "quiet_hours")
		return nil, nil
	}

	signals, err := e.source.All(ctx)
	if err != nil {
		e.logger.Warn(ctx, "signals unavailable", "trigger", string(trigger), "err", err)
		span.RecordError(err)
		signals = nil
	}

	drafts := e.evaluate(now, local, prefs, signals)
	if len(drafts) > 0 {
		e.saveHistory(ctx)
	}

	created := make([]checkin.CheckIn, 0, len(drafts)+1)
	for _, d := range drafts {
		c := e.fromDraft(ctx, d, signals, now)
		e.commit(ctx, c, true)
		created = append(created, c)
	}
	if c, ok := e.checkConcerningPatterns(ctx, prefs, signals, now); ok {
		created = append(created, c)
	}

	e.mu.Lock()
	e.state = checkin.EngineState{
		LastCheck:        now,
		TodayCount:       e.daily.Count,
		RecentSignals:    append([]signal.Signal(nil), signals...),
		LastRuleTriggers: e.history.LastTriggers(),
	}
	e.mu.Unlock()
	e.saveState(ctx)

	span.AddEvent("checkin.tick.done", "trigger", string(trigger), "created", len(created), "signals", len(signals))
	e.logger.Debug(ctx, "check-in tick", "trigger", string(trigger), "created", len(created), "signals", len(signals))
	return created, nil
}

// evaluate runs the rule evaluator on the enabled categories and records the
// fires in the trigger history.
func (e *Engine) evaluate(now, local time.Time, prefs checkin.Preferences, signals []signal.Signal) []rule.Draft {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.daily = e.daily.Rollover(checkin.DateKey(local))
	catalog := make(rule.Catalog, 0, len(e.catalog))
	for _, r := range e.catalog {
		if prefs.CategoryEnabled(r.Category) {
			catalog = append(catalog, r)
		}
	}
	limit := e.globalMaxPerDay
	if prefs.MaxNudgesPerDay < limit {
		limit = prefs.MaxNudgesPerDay
	}
	history := e.history.Clone()
	drafts := rule.Evaluate(rule.Input{
		Signals:    signals,
		Catalog:    catalog,
		History:    history,
		DailyCount: e.daily.Count,
		GlobalCap:  limit,
		Now:        now,
		Location:   e.loc,
	})
	e.history = history
	return drafts
}

// fromDraft builds the check-in for a fired rule. The templated message is
// only replaced when the crafter is confident enough, so a fallback pool
// message never overrides a rendered template.
func (e *Engine) fromDraft(ctx context.Context, d rule.Draft, signals []signal.Signal, now time.Time) checkin.CheckIn {
	text := d.Message
	var confidence float64
	res := e.crafter.Craft(ctx, message.Request{
		Kind:    d.Rule.Type,
		Signals: signals,
		User:    e.userContext(ctx),
	})
	if res.Confidence > e.enhanceThreshold {
		text = res.Message
		confidence = res.Confidence
	} else if res.Reason != "" && !e.crafter.Offline() {
		e.logger.Debug(ctx, "generated message not used", "rule", d.Rule.ID, "reason", res.Reason)
	}
	expires := now.Add(e.checkInTTL)
	return checkin.CheckIn{
		ID:         e.newID(),
		RuleID:     d.Rule.ID,
		Type:       d.Rule.Type,
		Priority:   d.Rule.Priority,
		Title:      d.Title,
		Message:    text,
		CreatedAt:  now,
		ExpiresAt:  &expires,
		Signals:    d.Signals,
		Actions:    append([]checkin.Action(nil), d.Rule.Actions...),
		Origin:     checkin.OriginRule,
		Confidence: confidence,
	}
}

// commit stores c, persists it, dispatches its notification, audits it and
// publishes the new pending list. counted check-ins increment the daily
// count.
func (e *Engine) commit(ctx context.Context, c checkin.CheckIn, counted bool) {
	e.mu.Lock()
	e.live = append(e.live, c.Clone())
	if counted {
		e.daily.Count++
	}
	e.mu.Unlock()
	e.saveCheckIns(ctx)
	if counted {
		e.saveDailyCount(ctx)
	}

	if err := e.notifier.SendNow(ctx, notify.FromCheckIn(c)); err != nil {
		e.logger.Warn(ctx, "notification dispatch failed", "checkin_id", c.ID, "err", err)
		e.metrics.IncCounter("checkin.notify_errors", 1)
	}
	category := audit.CategoryCheckIn
	if c.Origin == checkin.OriginConcerningPattern {
		category = audit.CategorySafety
	}
	e.audit.Log(ctx, "checkin_created", category, c.Title, map[string]any{
		"checkin_id": c.ID,
		"rule_id":    c.RuleID,
		"type":       string(c.Type),
		"priority":   string(c.Priority),
	})
	e.metrics.IncCounter("checkin.created", 1, "type", string(c.Type), "origin", string(c.Origin))
	e.logger.Info(ctx, "check-in created", "checkin_id", c.ID, "rule", c.RuleID, "type", string(c.Type))
	e.publish(ctx, hooks.CheckInCreated, c.ID)
}

// checkConcerningPatterns escalates with an urgent check-in when the source
// reports a concerning pattern. Escalations bypass the catalog and the daily
// cap, are not counted, and are not repeated while one is still pending.
func (e *Engine) checkConcerningPatterns(ctx context.Context, prefs checkin.Preferences, signals []signal.Signal, now time.Time) (checkin.CheckIn, bool) {
	if !prefs.ConcerningPatternAlerts {
		return checkin.CheckIn{}, false
	}
	p, err := e.source.ConcerningPatterns(ctx)
	if err != nil {
		e.logger.Warn(ctx, "concerning pattern check failed", "err", err)
		return checkin.CheckIn{}, false
	}
	if !p.Concerning {
		return checkin.CheckIn{}, false
	}
	if e.escalationPending(now) {
		e.metrics.IncCounter("checkin.suppressed", 1, "reason", "escalation_pending")
		return checkin.CheckIn{}, false
	}

	res := e.crafter.Craft(ctx, message.Request{
		Kind:    checkin.KindInactivityCheck,
		Signals: signals,
		User:    e.userContext(ctx),
	})
	actions := []checkin.Action{
		{ID: "im_ok", Label: "I'm OK", Type: checkin.ActionPositive},
		{ID: "need_help", Label: "I need help", Type: checkin.ActionNegative},
	}
	if p.SuggestCaregiverCall {
		actions = append(actions, checkin.Action{ID: "call_caregiver", Label: "Call my caregiver", Type: checkin.ActionCallCaregiver})
	}
	expires := now.Add(e.checkInTTL)
	c := checkin.CheckIn{
		ID:         e.newID(),
		Type:       checkin.KindInactivityCheck,
		Priority:   checkin.PriorityUrgent,
		Title:      "Are you okay?",
		Message:    res.Message,
		CreatedAt:  now,
		ExpiresAt:  &expires,
		Signals:    signal.NewSet(signals).Kinds(),
		Actions:    actions,
		Origin:     checkin.OriginConcerningPattern,
		Confidence: res.Confidence,
	}
	e.logger.Warn(ctx, "concerning pattern detected", "reasons", strings.Join(p.Reasons, "; "), "caregiver", p.SuggestCaregiverCall)
	e.commit(ctx, c, false)
	return c, true
}

func (e *Engine) escalationPending(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.live {
		if c.Origin == checkin.OriginConcerningPattern && c.Pending(now) {
			return true
		}
	}
	return false
}

func (e *Engine) suppressed(ctx context.Context, span telemetry.Span, trigger Trigger, reason string) {
	e.metrics.IncCounter("checkin.suppressed", 1, "reason", reason)
	span.SetStatus(codes.Ok, reason)
	e.logger.Debug(ctx, "check-in tick suppressed", "trigger", string(trigger), "reason", reason)
}
