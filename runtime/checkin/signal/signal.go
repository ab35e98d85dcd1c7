// Package signal defines the observations the check-in engine reasons about.
// Signals are produced by external providers (step counters, weather
// services, calendar and medication stores) once per evaluation, are
// immutable, and are never persisted by the engine.
package signal

import (
	"context"
	"strings"
	"time"
)

// Kind identifies the type of observation carried by a Signal.
type Kind string

const (
	// KindSteps reports step progress toward the daily goal.
	KindSteps Kind = "steps"
	// KindWeather reports current local weather.
	KindWeather Kind = "weather"
	// KindCalendar reports today's calendar load.
	KindCalendar Kind = "calendar"
	// KindMedication reports medication adherence.
	KindMedication Kind = "medication"
	// KindInactivity reports time since the last observed user activity.
	KindInactivity Kind = "inactivity"
)

type (
	// Signal is a typed, timestamped observation. Exactly one payload pointer
	// matching Kind is populated.
	Signal struct {
		Kind       Kind        `json:"type" yaml:"type"`
		Timestamp  time.Time   `json:"timestamp" yaml:"timestamp"`
		Steps      *Steps      `json:"steps,omitempty" yaml:"steps,omitempty"`
		Weather    *Weather    `json:"weather,omitempty" yaml:"weather,omitempty"`
		Calendar   *Calendar   `json:"calendar,omitempty" yaml:"calendar,omitempty"`
		Medication *Medication `json:"medication,omitempty" yaml:"medication,omitempty"`
		Inactivity *Inactivity `json:"inactivity,omitempty" yaml:"inactivity,omitempty"`
	}

	// Steps is the payload of a KindSteps signal.
	Steps struct {
		Current    float64 `json:"current" yaml:"current"`
		Goal       float64 `json:"goal" yaml:"goal"`
		Percentage float64 `json:"percentage" yaml:"percentage"`
	}

	// Weather is the payload of a KindWeather signal. Temperature is in
	// degrees Celsius.
	Weather struct {
		Temperature float64 `json:"temperature" yaml:"temperature"`
		Condition   string  `json:"condition" yaml:"condition"`
	}

	// Calendar is the payload of a KindCalendar signal.
	Calendar struct {
		TodayEventCount float64 `json:"todayEventCount" yaml:"todayEventCount"`
		NextEvent       string  `json:"nextEvent,omitempty" yaml:"nextEvent,omitempty"`
	}

	// Medication is the payload of a KindMedication signal.
	Medication struct {
		MissedDoses float64 `json:"missedDoses" yaml:"missedDoses"`
		NextDose    string  `json:"nextDose,omitempty" yaml:"nextDose,omitempty"`
	}

	// Inactivity is the payload of a KindInactivity signal.
	Inactivity struct {
		MinutesSinceActivity float64 `json:"minutesSinceActivity" yaml:"minutesSinceActivity"`
	}

	// TimeOfDay is a coarse bucket of the local wall clock used to shape
	// generated messages.
	TimeOfDay string

	// Patterns summarizes signal trends that warrant an escalation outside of
	// the regular rule catalog.
	Patterns struct {
		Concerning           bool
		Reasons              []string
		SuggestCaregiverCall bool
	}

	// Source is the contract of the external signal provider.
	Source interface {
		// All returns the signals observed right now.
		All(ctx context.Context) ([]Signal, error)
		// RecordActivity notes that the user interacted with the system.
		RecordActivity(ctx context.Context) error
		// TimeOfDay returns the current time-of-day bucket.
		TimeOfDay(ctx context.Context) TimeOfDay
		// ConcerningPatterns reports whether recent signals look worrying.
		ConcerningPatterns(ctx context.Context) (Patterns, error)
	}
)

const (
	Morning   TimeOfDay = "morning"
	Afternoon TimeOfDay = "afternoon"
	Evening   TimeOfDay = "evening"
	Night     TimeOfDay = "night"
)

// Kinds lists every known signal kind.
var Kinds = []Kind{KindSteps, KindWeather, KindCalendar, KindMedication, KindInactivity}

// Valid reports whether k is a known signal kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// TimeOfDayAt returns the time-of-day bucket for t.
func TimeOfDayAt(t time.Time) TimeOfDay {
	h := t.Hour()
	switch {
	case h >= 5 && h < 12:
		return Morning
	case h >= 12 && h < 17:
		return Afternoon
	case h >= 17 && h < 21:
		return Evening
	default:
		return Night
	}
}

// NewSteps builds a steps signal. The percentage is derived from current and
// goal when goal is positive.
func NewSteps(at time.Time, current, goal float64) Signal {
	pct := 0.0
	if goal > 0 {
		pct = float64(int(current / goal * 100))
	}
	return Signal{Kind: KindSteps, Timestamp: at, Steps: &Steps{Current: current, Goal: goal, Percentage: pct}}
}

// NewWeather builds a weather signal.
func NewWeather(at time.Time, temperature float64, condition string) Signal {
	return Signal{Kind: KindWeather, Timestamp: at, Weather: &Weather{Temperature: temperature, Condition: condition}}
}

// NewCalendar builds a calendar signal.
func NewCalendar(at time.Time, count float64, next string) Signal {
	return Signal{Kind: KindCalendar, Timestamp: at, Calendar: &Calendar{TodayEventCount: count, NextEvent: next}}
}

// NewMedication builds a medication signal.
func NewMedication(at time.Time, missed float64, next string) Signal {
	return Signal{Kind: KindMedication, Timestamp: at, Medication: &Medication{MissedDoses: missed, NextDose: next}}
}

// NewInactivity builds an inactivity signal.
func NewInactivity(at time.Time, minutes float64) Signal {
	return Signal{Kind: KindInactivity, Timestamp: at, Inactivity: &Inactivity{MinutesSinceActivity: minutes}}
}

// PrimaryNumber is the field read by numeric conditions that do not name a
// field explicitly.
func (k Kind) PrimaryNumber() string {
	switch k {
	case KindSteps:
		return "current"
	case KindWeather:
		return "temperature"
	case KindCalendar:
		return "todayEventCount"
	case KindMedication:
		return "missedDoses"
	case KindInactivity:
		return "minutesSinceActivity"
	}
	return ""
}

// PrimaryText is the field read by text conditions that do not name a field
// explicitly. It is empty for kinds without a text field.
func (k Kind) PrimaryText() string {
	switch k {
	case KindWeather:
		return "condition"
	case KindCalendar:
		return "nextEvent"
	case KindMedication:
		return "nextDose"
	}
	return ""
}

var aliases = map[string]string{
	"steps":      "current",
	"eventCount": "todayEventCount",
	"events":     "todayEventCount",
	"minutes":    "minutesSinceActivity",
	"missed":     "missedDoses",
	"temp":       "temperature",
}

func canonical(field string) string {
	if c, ok := aliases[field]; ok {
		return c
	}
	return field
}

// Number returns the numeric payload field with the given name. Field names
// follow the JSON names of the payload ("current", "temperature", ...) and a
// few aliases ("steps", "minutes", "eventCount").
func (s Signal) Number(field string) (float64, bool) {
	field = canonical(field)
	switch {
	case s.Steps != nil && s.Kind == KindSteps:
		switch field {
		case "current":
			return s.Steps.Current, true
		case "goal":
			return s.Steps.Goal, true
		case "percentage":
			return s.Steps.Percentage, true
		}
	case s.Weather != nil && s.Kind == KindWeather:
		if field == "temperature" {
			return s.Weather.Temperature, true
		}
	case s.Calendar != nil && s.Kind == KindCalendar:
		if field == "todayEventCount" {
			return s.Calendar.TodayEventCount, true
		}
	case s.Medication != nil && s.Kind == KindMedication:
		if field == "missedDoses" {
			return s.Medication.MissedDoses, true
		}
	case s.Inactivity != nil && s.Kind == KindInactivity:
		if field == "minutesSinceActivity" {
			return s.Inactivity.MinutesSinceActivity, true
		}
	}
	return 0, false
}

// Text returns the text payload field with the given name.
func (s Signal) Text(field string) (string, bool) {
	switch {
	case s.Weather != nil && s.Kind == KindWeather && field == "condition":
		return s.Weather.Condition, true
	case s.Calendar != nil && s.Kind == KindCalendar && field == "nextEvent":
		return s.Calendar.NextEvent, true
	case s.Medication != nil && s.Kind == KindMedication && field == "nextDose":
		return s.Medication.NextDose, true
	}
	return "", false
}

// Describe renders the signal as a plain sentence for prompts.
func (s Signal) Describe() string {
	var b strings.Builder
	switch {
	case s.Steps != nil:
		b.WriteString("They have walked ")
		b.WriteString(formatNumber(s.Steps.Current))
		b.WriteString(" steps today")
		if s.Steps.Goal > 0 {
			b.WriteString(" out of a goal of ")
			b.WriteString(formatNumber(s.Steps.Goal))
		}
		b.WriteString(".")
	case s.Weather != nil:
		b.WriteString("The weather is ")
		if s.Weather.Condition != "" {
			b.WriteString(s.Weather.Condition)
			b.WriteString(" at ")
		}
		b.WriteString(formatNumber(s.Weather.Temperature))
		b.WriteString(" degrees.")
	case s.Calendar != nil:
		b.WriteString("They have ")
		b.WriteString(formatNumber(s.Calendar.TodayEventCount))
		b.WriteString(" events on the calendar today")
		if s.Calendar.NextEvent != "" {
			b.WriteString(", next up is ")
			b.WriteString(s.Calendar.NextEvent)
		}
		b.WriteString(".")
	case s.Medication != nil:
		if s.Medication.MissedDoses > 0 {
			b.WriteString("A scheduled medication has not been logged yet today.")
		} else {
			b.WriteString("Medications are on track today.")
		}
	case s.Inactivity != nil:
		b.WriteString("There has been no activity for about ")
		b.WriteString(formatNumber(s.Inactivity.MinutesSinceActivity))
		b.WriteString(" minutes.")
	}
	return b.String()
}
