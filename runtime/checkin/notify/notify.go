// Package notify defines how the engine hands check-ins to a delivery channel
// and how it alerts caregivers. Delivery itself is out of scope: backends
// publish to a stream (features/notify/pulse) or write log lines.
package notify

import (
	"context"
	"time"

	"goa.design/checkin/runtime/checkin"
	"goa.design/checkin/runtime/checkin/telemetry"
)

type (
	// Notification is a user-facing alert for a check-in.
	Notification struct {
		CheckInID string           `json:"checkin_id"`
		Title     string           `json:"title"`
		Body      string           `json:"body"`
		Priority  checkin.Priority `json:"priority"`
		Actions   []checkin.Action `json:"actions,omitempty"`
	}

	// Notifier dispatches notifications. Failures are reported to the caller
	// but never retried by the engine.
	Notifier interface {
		// SendNow delivers n immediately.
		SendNow(ctx context.Context, n Notification) error
		// ScheduleAfter delivers n once delay has elapsed.
		ScheduleAfter(ctx context.Context, delay time.Duration, n Notification) error
		// CancelAll cancels every scheduled notification.
		CancelAll(ctx context.Context) error
	}

	// Caregiver alerts the user's caregiver when they ask for help.
	Caregiver interface {
		Notify(ctx context.Context, c checkin.CheckIn, action checkin.Action) error
	}

	// LogNotifier writes notifications as log lines.
	LogNotifier struct {
		logger telemetry.Logger
	}

	// LogCaregiver writes caregiver alerts as log lines.
	LogCaregiver struct {
		logger telemetry.Logger
	}
)

// FromCheckIn builds the notification announcing c.
func FromCheckIn(c checkin.CheckIn) Notification {
	return Notification{
		CheckInID: c.ID,
		Title:     c.Title,
		Body:      c.Message,
		Priority:  c.Priority,
		Actions:   append([]checkin.Action(nil), c.Actions...),
	}
}

// NewLogNotifier returns a Notifier that logs through logger.
func NewLogNotifier(logger telemetry.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendNow(ctx context.Context, note Notification) error {
	n.logger.Info(ctx, "notification", "checkin_id", note.CheckInID, "title", note.Title, "priority", string(note.Priority))
	return nil
}

func (n *LogNotifier) ScheduleAfter(ctx context.Context, delay time.Duration, note Notification) error {
	n.logger.Info(ctx, "notification scheduled", "checkin_id", note.CheckInID, "delay", delay.String())
	return nil
}

func (n *LogNotifier) CancelAll(ctx context.Context) error {
	n.logger.Info(ctx, "notifications cancelled")
	return nil
}

// NewLogCaregiver returns a Caregiver that logs through logger.
func NewLogCaregiver(logger telemetry.Logger) *LogCaregiver {
	return &LogCaregiver{logger: logger}
}

func (c *LogCaregiver) Notify(ctx context.Context, ci checkin.CheckIn, action checkin.Action) error {
	c.logger.Warn(ctx, "caregiver alert", "checkin_id", ci.ID, "type", string(ci.Type), "action", action.ID)
	return nil
}
