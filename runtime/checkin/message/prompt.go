package message

import (
	"fmt"
	"strings"

	"goa.design/checkin/runtime/checkin"
	"goa.design/checkin/runtime/checkin/signal"
)

// kindFocus tells the model what a check-in of each kind is about.
var kindFocus = map[checkin.Kind]string{
	checkin.KindStepNudge:          "Encourage a little gentle movement, like a short walk.",
	checkin.KindCelebration:        "Celebrate reaching the daily step goal.",
	checkin.KindWeatherActivity:    "Suggest enjoying the pleasant weather outdoors.",
	checkin.KindWeatherAlert:       "Offer a caring heads-up about the weather.",
	checkin.KindMedicationReminder: "Gently ask whether today's medication has been taken.",
	checkin.KindCalendarPrep:       "Help them feel prepared for a busy day.",
	checkin.KindInactivityCheck:    "Check that they are doing all right after a quiet stretch.",
	checkin.KindWellbeingCheck:     "Ask warmly how they are feeling.",
}

// SystemPrompt returns the guardrail instructions sent with every generation.
func SystemPrompt(c Constraints) string {
	c = c.withDefaults()
	tone := c.Tone
	if tone == "" {
		tone = "warm, friendly and respectful"
	}
	var b strings.Builder
	b.WriteString("You write short check-in messages for an older adult on behalf of a caring companion app.\n")
	fmt.Fprintf(&b, "Tone: %s. Speak like a thoughtful friend, never like a clinician or an authority.\n", tone)
	fmt.Fprintf(&b, "Length: one or two sentences, between %d and %d characters.\n", c.MinLength, c.MaxLength)
	b.WriteString("Never mention: ")
	b.WriteString(strings.Join(ForbiddenTopics, ", "))
	b.WriteString(".\n")
	b.WriteString("Never use directive phrasing such as: ")
	b.WriteString(strings.Join(DiscouragedPhrases, ", "))
	b.WriteString(". Invite, do not instruct.\n")
	b.WriteString("Avoid medical vocabulary such as: ")
	b.WriteString(strings.Join(ClinicalWords, ", "))
	b.WriteString(".\n")
	b.WriteString("No emojis, no lists, no quotation marks. Reply with the message text only.")
	return b.String()
}

// UserPrompt summarizes the context of a check-in in plain sentences.
func UserPrompt(req Request) string {
	var b strings.Builder
	if focus, ok := kindFocus[req.Kind]; ok {
		b.WriteString(focus)
	} else {
		b.WriteString(kindFocus[checkin.KindWellbeingCheck])
	}
	b.WriteString("\n")
	if req.User.Name != "" {
		fmt.Fprintf(&b, "Their name is %s.\n", req.User.Name)
	}
	if req.User.TimeOfDay != "" {
		fmt.Fprintf(&b, "It is %s.\n", req.User.TimeOfDay)
	}
	for _, sig := range relevantSignals(req.Kind, req.Signals) {
		if d := sig.Describe(); d != "" {
			b.WriteString(d)
			b.WriteString("\n")
		}
	}
	if req.User.Preferences != "" {
		fmt.Fprintf(&b, "They have told us: %s\n", req.User.Preferences)
	}
	b.WriteString("Write the check-in message.")
	return b.String()
}

// relevantSignals keeps the signals that matter for a kind. Kinds without a
// specific mapping keep every signal.
func relevantSignals(kind checkin.Kind, signals []signal.Signal) []signal.Signal {
	var want []signal.Kind
	switch kind {
	case checkin.KindStepNudge, checkin.KindCelebration:
		want = []signal.Kind{signal.KindSteps, signal.KindWeather}
	case checkin.KindWeatherActivity, checkin.KindWeatherAlert:
		want = []signal.Kind{signal.KindWeather}
	case checkin.KindMedicationReminder:
		want = []signal.Kind{signal.KindMedication}
	case checkin.KindCalendarPrep:
		want = []signal.Kind{signal.KindCalendar}
	case checkin.KindInactivityCheck:
		want = []signal.Kind{signal.KindInactivity}
	default:
		return signals
	}
	out := make([]signal.Signal, 0, len(want))
	for _, sig := range signals {
		for _, k := range want {
			if sig.Kind == k {
				out = append(out, sig)
				break
			}
		}
	}
	return out
}
