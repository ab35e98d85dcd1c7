package engine

import (
	"context"
	"time"

	"goa.design/checkin/runtime/checkin"
	"goa.design/checkin/runtime/checkin/audit"
	"goa.design/checkin/runtime/checkin/hooks"
	"goa.design/checkin/runtime/checkin/notify"
)

// Reasons reported by Respond when it rejects a response.
const (
	ReasonUnknownCheckIn   = "unknown check-in"
	ReasonAlreadyResponded = "already responded"
	ReasonNotPending       = "check-in is no longer pending"
	ReasonUnknownAction    = "unknown action"
)

// Pending returns the check-ins awaiting the user, oldest first.
func (e *Engine) Pending() []checkin.CheckIn {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	return checkin.FilterPending(e.live, now)
}

// CheckIn returns the check-in with the given id, pending or not.
func (e *Engine) CheckIn(id string) (checkin.CheckIn, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i := e.indexLocked(id); i >= 0 {
		return e.live[i].Clone(), true
	}
	return checkin.CheckIn{}, false
}

// State returns a snapshot of the engine state.
func (e *Engine) State() checkin.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.copyStateLocked()
	if e.daily.Date == checkin.DateKey(e.local(e.now())) {
		s.TodayCount = e.daily.Count
	} else {
		s.TodayCount = 0
	}
	return s
}

// Respond records the user's answer to a pending check-in, dismisses it and
// returns a follow-up message. A check-in accepts a single response; unknown
// ids, unknown actions and check-ins that are no longer pending are rejected
// without any change.
func (e *Engine) Respond(ctx context.Context, id, actionID string) RespondResult {
	e.ensureLoaded(ctx)
	now := e.now()
	e.mu.Lock()
	i := e.indexLocked(id)
	if i < 0 {
		e.mu.Unlock()
		return RespondResult{Reason: ReasonUnknownCheckIn}
	}
	c := &e.live[i]
	if c.Response != nil {
		e.mu.Unlock()
		return RespondResult{Reason: ReasonAlreadyResponded}
	}
	if !c.Pending(now) {
		e.mu.Unlock()
		return RespondResult{Reason: ReasonNotPending}
	}
	action, ok := c.Action(actionID)
	if !ok {
		e.mu.Unlock()
		return RespondResult{Reason: ReasonUnknownAction}
	}
	c.Response = &checkin.Response{ActionID: actionID, At: now}
	c.Dismissed = true
	c.DismissedAt = &now
	snapshot := c.Clone()
	e.mu.Unlock()

	e.saveCheckIns(ctx)
	e.publish(ctx, hooks.CheckInResponded, id)

	if err := e.source.RecordActivity(ctx); err != nil {
		e.logger.Warn(ctx, "record activity failed", "err", err)
	}
	if action.Type == checkin.ActionCallCaregiver {
		if err := e.caregiver.Notify(ctx, snapshot, action); err != nil {
			e.logger.Error(ctx, "caregiver notification failed", "checkin_id", id, "err", err)
		}
	}
	category := audit.CategoryCheckIn
	if action.Type == checkin.ActionCallCaregiver || snapshot.Origin == checkin.OriginConcerningPattern {
		category = audit.CategorySafety
	}
	sentiment := action.Sentiment()
	e.audit.Log(ctx, "checkin_responded", category, action.Label, map[string]any{
		"checkin_id": id,
		"action_id":  actionID,
		"sentiment":  string(sentiment),
	})
	e.metrics.IncCounter("checkin.responses", 1, "sentiment", string(sentiment), "type", string(snapshot.Type))
	e.logger.Info(ctx, "check-in responded", "checkin_id", id, "action", actionID)

	return RespondResult{
		Success:  true,
		FollowUp: e.crafter.FollowUp(snapshot.Type, sentiment, e.userContext(ctx)),
	}
}

// Dismiss closes a pending check-in without a response. It reports false when
// the check-in is unknown or no longer pending.
func (e *Engine) Dismiss(ctx context.Context, id string) bool {
	e.ensureLoaded(ctx)
	now := e.now()
	e.mu.Lock()
	i := e.indexLocked(id)
	if i < 0 || !e.live[i].Pending(now) {
		e.mu.Unlock()
		return false
	}
	e.live[i].Dismissed = true
	e.live[i].DismissedAt = &now
	e.mu.Unlock()

	e.saveCheckIns(ctx)
	e.publish(ctx, hooks.CheckInDismissed, id)
	e.audit.Log(ctx, "checkin_dismissed", audit.CategoryCheckIn, "dismissed", map[string]any{"checkin_id": id})
	e.metrics.IncCounter("checkin.dismissals", 1)
	return true
}

// Snooze pushes the expiry of a pending check-in to now plus minutes plus the
// snooze buffer and schedules a reminder notification after minutes. It
// reports false for unknown or non-pending check-ins and non-positive
// durations.
func (e *Engine) Snooze(ctx context.Context, id string, minutes int) bool {
	if minutes <= 0 {
		return false
	}
	e.ensureLoaded(ctx)
	now := e.now()
	delay := time.Duration(minutes) * time.Minute
	e.mu.Lock()
	i := e.indexLocked(id)
	if i < 0 || !e.live[i].Pending(now) {
		e.mu.Unlock()
		return false
	}
	expires := now.Add(delay + e.snoozeBuffer)
	e.live[i].ExpiresAt = &expires
	e.live[i].Snoozed++
	snapshot := e.live[i].Clone()
	e.mu.Unlock()

	e.saveCheckIns(ctx)
	if err := e.notifier.ScheduleAfter(ctx, delay, notify.FromCheckIn(snapshot)); err != nil {
		e.logger.Warn(ctx, "snooze reminder scheduling failed", "checkin_id", id, "err", err)
	}
	e.publish(ctx, hooks.CheckInSnoozed, id)
	e.audit.Log(ctx, "checkin_snoozed", audit.CategoryCheckIn, "snoozed", map[string]any{"checkin_id": id, "minutes": minutes})
	return true
}

func (e *Engine) indexLocked(id string) int {
	for i := range e.live {
		if e.live[i].ID == id {
			return i
		}
	}
	return -1
}

func (e *Engine) copyStateLocked() checkin.EngineState {
	s := e.state
	s.Running = e.running.Load()
	s.RecentSignals = append(s.RecentSignals[:0:0], s.RecentSignals...)
	if s.LastRuleTriggers != nil {
		triggers := make(map[string]time.Time, len(s.LastRuleTriggers))
		for k, v := range s.LastRuleTriggers {
			triggers[k] = v
		}
		s.LastRuleTriggers = triggers
	}
	return s
}
