package message

import (
	"strings"

	"goa.design/checkin/runtime/checkin"
)

// defaultKind keys the follow-up row used when a kind has no entry.
const defaultKind checkin.Kind = "default"

// fallbackPools hold pre-approved messages per check-in kind.
var fallbackPools = map[checkin.Kind][]string{
	checkin.KindStepNudge: {
		"A short walk could feel lovely right now. How about a few minutes outside?",
		"Stretching your legs for a bit might feel nice. Up for a little stroll?",
		"How about a gentle walk around the block? Even a few minutes counts.",
	},
	checkin.KindCelebration: {
		"What a day! You reached your step goal. That is something to feel proud of.",
		"Goal reached! All those steps really add up. Well done today.",
		"You did it! Your step goal is complete for today.",
	},
	checkin.KindWeatherActivity: {
		"It's lovely outside right now. A few minutes of fresh air could feel wonderful.",
		"The weather looks pleasant. Maybe a good moment to sit outside or take a stroll?",
		"Nice weather today! A little time outdoors might brighten the afternoon.",
	},
	checkin.KindWeatherAlert: {
		"It's quite chilly today. A warm coat and a hot drink sound like a good plan.",
		"The weather is rough today. Staying cosy indoors is a fine choice.",
		"Bundle up if you head out today. It's a cold one.",
	},
	checkin.KindMedicationReminder: {
		"Just a gentle check: has today's medication been taken yet?",
		"Checking in on your medication for today. All on track?",
		"A quick nudge about your medication. Let us know once it's taken.",
	},
	checkin.KindCalendarPrep: {
		"You have a full day ahead. Pace yourself and take little breaks.",
		"Busy day today! A glass of water and a short pause between plans can help.",
		"Lots planned today. Take it one thing at a time.",
	},
	checkin.KindInactivityCheck: {
		"We haven't heard from you in a little while. Is everything all right?",
		"Just checking in to see how you're doing. Tap to let us know you're okay.",
		"It has been quiet for a while. How are you feeling?",
	},
	checkin.KindWellbeingCheck: {
		"Just checking in. How are you feeling today?",
		"Thinking of you. How is your day going so far?",
		"Hello! How are things with you right now?",
	},
}

// followUps hold short replies keyed by sentiment then kind. Every sentiment
// has a default row.
var followUps = map[checkin.Sentiment]map[checkin.Kind][]string{
	checkin.SentimentPositive: {
		checkin.KindStepNudge: {
			"Wonderful! Enjoy your walk, {{name}}.",
			"Great choice! A little movement goes a long way.",
		},
		checkin.KindMedicationReminder: {
			"Thank you for letting us know, {{name}}.",
			"Great, that's all taken care of then.",
		},
		checkin.KindInactivityCheck: {
			"So glad to hear you're okay, {{name}}!",
			"Good to hear from you. Have a lovely rest of the day.",
		},
		checkin.KindCelebration: {
			"Keep up the great work, {{name}}!",
		},
		defaultKind: {
			"That's great to hear, {{name}}!",
			"Wonderful! Thanks for letting us know.",
			"Lovely. Have a great rest of your day.",
		},
	},
	checkin.SentimentNegative: {
		checkin.KindStepNudge: {
			"That's okay. Rest is important too.",
			"No problem at all. Maybe later if you feel like it.",
		},
		checkin.KindInactivityCheck: {
			"Thanks for telling us. We're letting someone know so they can reach out.",
			"We're here for you. Someone will be in touch soon.",
		},
		checkin.KindWellbeingCheck: {
			"Sorry to hear that, {{name}}. Take things gently today.",
			"Thanks for sharing. It's okay to have a slower day.",
		},
		defaultKind: {
			"That's okay. Take it easy today.",
			"Thanks for letting us know, {{name}}.",
			"No worries. We'll check in again later.",
		},
	},
	checkin.SentimentNeutral: {
		defaultKind: {
			"Got it. We'll check in again later.",
			"Okay, thanks for letting us know.",
			"Sounds good, {{name}}.",
		},
	},
}

// FallbackPool returns the pre-approved messages for kind. Unknown kinds use
// the wellbeing pool.
func FallbackPool(kind checkin.Kind) []string {
	pool, ok := fallbackPools[kind]
	if !ok {
		pool = fallbackPools[checkin.KindWellbeingCheck]
	}
	return append([]string(nil), pool...)
}

// FollowUpPool returns the follow-up candidates for sentiment and kind with
// the {{name}} token still in place.
func FollowUpPool(kind checkin.Kind, sentiment checkin.Sentiment) []string {
	rows, ok := followUps[sentiment]
	if !ok {
		rows = followUps[checkin.SentimentNeutral]
	}
	pool, ok := rows[kind]
	if !ok {
		pool = rows[defaultKind]
	}
	return append([]string(nil), pool...)
}

// personalize fills the {{name}} token, dropping it cleanly when the name is
// unknown.
func personalize(msg, name string) string {
	if name == "" {
		msg = strings.ReplaceAll(msg, ", {{name}}", "")
		return strings.ReplaceAll(msg, " {{name}}", "")
	}
	return strings.ReplaceAll(msg, "{{name}}", name)
}
