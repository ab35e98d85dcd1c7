// Package checkin defines the core records of the proactive check-in engine:
// check-ins and their response actions, user preferences, daily counters and
// the engine state snapshot. Behavior lives in the sibling packages (rule,
// message, engine); this package only carries data and its invariants.
package checkin

import (
	"time"

	"goa.design/checkin/runtime/checkin/signal"
)

type (
	// Priority ranks check-ins for presentation.
	Priority string

	// Category groups rules so users can toggle whole families of check-ins.
	Category string

	// Kind is the check-in type, shared by the rules that produce it and the
	// message pools used to phrase it (e.g. "step_nudge").
	Kind string

	// ActionType is the semantic meaning of a response action.
	ActionType string

	// Sentiment is the coarse reading of a response used to pick follow-ups.
	Sentiment string

	// Origin records what produced a check-in.
	Origin string

	// Action is a response the user can give to a check-in.
	Action struct {
		ID    string     `json:"id" yaml:"id"`
		Label string     `json:"label" yaml:"label"`
		Type  ActionType `json:"type" yaml:"type"`
	}

	// Response records the action the user picked.
	Response struct {
		ActionID string    `json:"actionId"`
		At       time.Time `json:"timestamp"`
	}

	// CheckIn is a persisted, user-facing proactive prompt. A check-in is
	// pending until it is dismissed (which responding implies) or its expiry
	// passes. Records are never deleted by the engine.
	CheckIn struct {
		ID          string        `json:"id"`
		RuleID      string        `json:"ruleId,omitempty"`
		Type        Kind          `json:"type"`
		Priority    Priority      `json:"priority"`
		Title       string        `json:"title"`
		Message     string        `json:"message"`
		CreatedAt   time.Time     `json:"createdAt"`
		ExpiresAt   *time.Time    `json:"expiresAt,omitempty"`
		Signals     []signal.Kind `json:"triggeringSignals,omitempty"`
		Actions     []Action      `json:"actions"`
		Dismissed   bool          `json:"dismissed"`
		Response    *Response     `json:"response,omitempty"`
		DismissedAt *time.Time    `json:"dismissedAt,omitempty"`
		Snoozed     int           `json:"snoozed,omitempty"`
		Origin      Origin        `json:"origin,omitempty"`
		Confidence  float64       `json:"confidence,omitempty"`
	}

	// DailyCount counts check-ins created on Date (YYYY-MM-DD).
	DailyCount struct {
		Date  string `json:"date"`
		Count int    `json:"count"`
	}

	// EngineState is a derived snapshot for introspection. The authoritative
	// state is the trigger history, the daily count and the check-in list.
	EngineState struct {
		Running          bool                 `json:"isRunning"`
		LastCheck        time.Time            `json:"lastCheckTime"`
		TodayCount       int                  `json:"todayCheckInCount"`
		RecentSignals    []signal.Signal      `json:"recentSignals,omitempty"`
		LastRuleTriggers map[string]time.Time `json:"lastRuleTriggers,omitempty"`
	}
)

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

const (
	CategoryActivity   Category = "activity"
	CategoryWeather    Category = "weather"
	CategoryMedication Category = "medication"
	CategoryCalendar   Category = "calendar"
	CategoryWellbeing  Category = "wellbeing"
	CategorySafety     Category = "safety"
)

const (
	KindStepNudge          Kind = "step_nudge"
	KindCelebration        Kind = "celebration"
	KindWeatherActivity    Kind = "weather_activity"
	KindWeatherAlert       Kind = "weather_alert"
	KindMedicationReminder Kind = "medication_reminder"
	KindCalendarPrep       Kind = "calendar_prep"
	KindInactivityCheck    Kind = "inactivity_check"
	KindWellbeingCheck     Kind = "wellbeing_check"
)

const (
	ActionPositive      ActionType = "positive"
	ActionNegative      ActionType = "negative"
	ActionNeutral       ActionType = "neutral"
	ActionAction        ActionType = "action"
	ActionCallCaregiver ActionType = "call_caregiver"
)

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

const (
	OriginRule              Origin = "rule"
	OriginConcerningPattern Origin = "concerning_pattern"
)

// Priorities lists the valid priorities from lowest to highest.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}

// Categories lists the known rule categories.
var Categories = []Category{CategoryActivity, CategoryWeather, CategoryMedication, CategoryCalendar, CategoryWellbeing, CategorySafety}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	for _, known := range Priorities {
		if p == known {
			return true
		}
	}
	return false
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	switch t {
	case ActionPositive, ActionNegative, ActionNeutral, ActionAction, ActionCallCaregiver:
		return true
	}
	return false
}

// Sentiment maps the action type onto the follow-up sentiment. Only explicit
// positive and negative actions carry a sentiment; everything else is
// neutral.
func (a Action) Sentiment() Sentiment {
	switch a.Type {
	case ActionPositive:
		return SentimentPositive
	case ActionNegative:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// Pending reports whether the check-in still awaits the user at now.
func (c CheckIn) Pending(now time.Time) bool {
	if c.Dismissed {
		return false
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return false
	}
	return true
}

// Action returns the action with the given id.
func (c CheckIn) Action(id string) (Action, bool) {
	for _, a := range c.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return Action{}, false
}

// Clone returns a deep copy of c.
func (c CheckIn) Clone() CheckIn {
	out := c
	if c.ExpiresAt != nil {
		t := *c.ExpiresAt
		out.ExpiresAt = &t
	}
	if c.DismissedAt != nil {
		t := *c.DismissedAt
		out.DismissedAt = &t
	}
	if c.Response != nil {
		r := *c.Response
		out.Response = &r
	}
	out.Signals = append([]signal.Kind(nil), c.Signals...)
	out.Actions = append([]Action(nil), c.Actions...)
	return out
}

// FilterPending returns copies of the check-ins pending at now, preserving
// order.
func FilterPending(list []CheckIn, now time.Time) []CheckIn {
	out := make([]CheckIn, 0, len(list))
	for _, c := range list {
		if c.Pending(now) {
			out = append(out, c.Clone())
		}
	}
	return out
}

// DateKey formats t as the calendar date used for daily accounting.
func DateKey(t time.Time) string {
	return t.Format(time.DateOnly)
}

// Rollover returns the counter for today, resetting it when the stored date
// is different.
func (d DailyCount) Rollover(today string) DailyCount {
	if d.Date != today {
		return DailyCount{Date: today}
	}
	return d
}
