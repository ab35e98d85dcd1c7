package rule

import (
	"time"

	"goa.design/checkin/runtime/checkin"
	"goa.design/checkin/runtime/checkin/signal"
)

var (
	actionsNudge = []checkin.Action{
		{ID: "going_now", Label: "I'll go now", Type: checkin.ActionPositive},
		{ID: "maybe_later", Label: "Maybe later", Type: checkin.ActionNeutral},
		{ID: "not_today", Label: "Not today", Type: checkin.ActionNegative},
	}
	actionsFeeling = []checkin.Action{
		{ID: "feeling_good", Label: "Feeling good", Type: checkin.ActionPositive},
		{ID: "okay", Label: "I'm okay", Type: checkin.ActionNeutral},
		{ID: "not_great", Label: "Not great", Type: checkin.ActionNegative},
	}
	actionsMedication = []checkin.Action{
		{ID: "taken", Label: "Already taken", Type: checkin.ActionPositive},
		{ID: "taking_now", Label: "Taking it now", Type: checkin.ActionAction},
		{ID: "skip", Label: "Skip today", Type: checkin.ActionNegative},
	}
	actionsInactivity = []checkin.Action{
		{ID: "im_ok", Label: "I'm OK", Type: checkin.ActionPositive},
		{ID: "need_help", Label: "I could use help", Type: checkin.ActionNegative},
		{ID: "call_caregiver", Label: "Call my caregiver", Type: checkin.ActionCallCaregiver},
	}
	actionsThanks = []checkin.Action{
		{ID: "thanks", Label: "Thanks!", Type: checkin.ActionPositive},
		{ID: "dismiss", Label: "Dismiss", Type: checkin.ActionNeutral},
	}
)

// DefaultCatalog returns the built-in rules. Each call returns a fresh copy
// that callers may modify.
func DefaultCatalog() Catalog {
	c := Catalog{
		{
			ID:         "medication_missed",
			Name:       "Missed medication",
			Type:       checkin.KindMedicationReminder,
			Category:   checkin.CategoryMedication,
			Priority:   checkin.PriorityHigh,
			Enabled:    true,
			Conditions: []Condition{{Signal: signal.KindMedication, Op: OpGreaterOrEqual, Value: Num(1)}},
			Cooldown:   120 * time.Minute,
			MaxPerDay:  3,
			Template:   "It looks like a dose hasn't been logged yet today. Is everything on track?",
			Title:      "Medication check",
			Actions:    actionsMedication,
		},
		{
			ID:         "inactivity_long",
			Name:       "Long inactivity",
			Type:       checkin.KindInactivityCheck,
			Category:   checkin.CategorySafety,
			Priority:   checkin.PriorityHigh,
			Enabled:    true,
			Conditions: []Condition{{Signal: signal.KindInactivity, Op: OpGreaterOrEqual, Value: Num(240)}},
			Cooldown:   180 * time.Minute,
			MaxPerDay:  2,
			Window:     &Window{StartHour: 8, EndHour: 21},
			Template:   "We haven't heard from you in a while. Just checking that all is well.",
			Title:      "Just checking in",
			Actions:    actionsInactivity,
		},
		{
			ID:        "morning_checkin",
			Name:      "Morning check-in",
			Type:      checkin.KindWellbeingCheck,
			Category:  checkin.CategoryWellbeing,
			Priority:  checkin.PriorityLow,
			Enabled:   true,
			Cooldown:  24 * time.Hour,
			MaxPerDay: 1,
			Window:    &Window{StartHour: 8, EndHour: 10},
			Template:  "Good morning! How are you feeling today?",
			Title:     "Good morning",
			Actions:   actionsFeeling,
		},
		{
			ID:         "step_nudge_morning",
			Name:       "Morning movement",
			Type:       checkin.KindStepNudge,
			Category:   checkin.CategoryActivity,
			Priority:   checkin.PriorityLow,
			Enabled:    true,
			Conditions: []Condition{{Signal: signal.KindSteps, Op: OpLessThan, Value: Num(1000)}},
			Cooldown:   180 * time.Minute,
			MaxPerDay:  1,
			Window:     &Window{StartHour: 9, EndHour: 12},
			Template:   "A gentle stretch or a stroll around the house is a lovely way to start the day.",
			Title:      "Morning stretch",
			Actions:    actionsNudge,
		},
		{
			ID:         "step_nudge_afternoon",
			Name:       "Afternoon walk",
			Type:       checkin.KindStepNudge,
			Category:   checkin.CategoryActivity,
			Priority:   checkin.PriorityMedium,
			Enabled:    true,
			Conditions: []Condition{{Signal: signal.KindSteps, Op: OpLessThan, Value: Num(3000)}},
			Cooldown:   180 * time.Minute,
			MaxPerDay:  2,
			Window:     &Window{StartHour: 14, EndHour: 17},
			Template:   "You've taken {{steps}} steps today. A short walk could feel good right now.",
			Title:      "Time for a walk?",
			Actions:    actionsNudge,
		},
		{
			ID:         "step_goal_reached",
			Name:       "Step goal reached",
			Type:       checkin.KindCelebration,
			Category:   checkin.CategoryActivity,
			Priority:   checkin.PriorityLow,
			Enabled:    true,
			Conditions: []Condition{{Signal: signal.KindSteps, Field: "percentage", Op: OpGreaterOrEqual, Value: Num(100)}},
			Cooldown:   24 * time.Hour,
			MaxPerDay:  1,
			Template:   "You reached your step goal today with {{steps}} steps. Wonderful!",
			Title:      "Goal reached",
			Actions:    actionsThanks,
		},
		{
			ID:       "weather_nice_walk",
			Name:     "Nice weather",
			Type:     checkin.KindWeatherActivity,
			Category: checkin.CategoryWeather,
			Priority: checkin.PriorityLow,
			Enabled:  true,
			Conditions: []Condition{
				{Signal: signal.KindWeather, Op: OpEqual, Text: "sunny"},
				{Signal: signal.KindWeather, Op: OpBetween, Value: Num(15), Upper: Num(26)},
			},
			Cooldown:  240 * time.Minute,
			MaxPerDay: 1,
			Window:    &Window{StartHour: 10, EndHour: 18},
			Template:  "It's {{condition}} and {{temperature}} degrees outside. A nice time for some fresh air.",
			Title:     "Lovely weather",
			Actions:   actionsNudge,
		},
		{
			ID:         "weather_cold",
			Name:       "Cold weather",
			Type:       checkin.KindWeatherAlert,
			Category:   checkin.CategoryWeather,
			Priority:   checkin.PriorityMedium,
			Enabled:    true,
			Conditions: []Condition{{Signal: signal.KindWeather, Op: OpLessThan, Value: Num(2)}},
			Cooldown:   12 * time.Hour,
			MaxPerDay:  1,
			Window:     &Window{StartHour: 7, EndHour: 20},
			Template:   "It's {{temperature}} degrees today. A warm coat and good shoes will help if you head out.",
			Title:      "Chilly day",
			Actions:    actionsThanks,
		},
		{
			ID:         "calendar_busy_day",
			Name:       "Busy day ahead",
			Type:       checkin.KindCalendarPrep,
			Category:   checkin.CategoryCalendar,
			Priority:   checkin.PriorityLow,
			Enabled:    true,
			Conditions: []Condition{{Signal: signal.KindCalendar, Op: OpGreaterOrEqual, Value: Num(4)}},
			Cooldown:   24 * time.Hour,
			MaxPerDay:  1,
			Window:     &Window{StartHour: 7, EndHour: 10},
			Template:   "You have {{todayEventCount}} things planned today. Pace yourself and take breaks.",
			Title:      "Busy day ahead",
			Actions:    actionsThanks,
		},
		{
			ID:        "evening_reflection",
			Name:      "Evening reflection",
			Type:      checkin.KindWellbeingCheck,
			Category:  checkin.CategoryWellbeing,
			Priority:  checkin.PriorityLow,
			Enabled:   true,
			Cooldown:  24 * time.Hour,
			MaxPerDay: 1,
			Window:    &Window{StartHour: 19, EndHour: 21},
			Template:  "How was your day today?",
			Title:     "Evening check-in",
			Actions:   actionsFeeling,
		},
	}
	return c.Clone()
}
