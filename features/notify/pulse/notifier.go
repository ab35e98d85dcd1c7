// Package pulse publishes check-in notifications and engine events to
// goa.design/pulse streams. A device gateway consumes the notification stream
// with a Subscriber and performs the actual delivery.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"goa.design/checkin/features/notify/pulse/clients/pulse"
	"goa.design/checkin/runtime/checkin/notify"
)

// Event names written to the notification stream.
const (
	EventSendNow   = "send_now"
	EventSchedule  = "schedule"
	EventCancelAll = "cancel_all"
)

type (
	// Options configures the Notifier.
	Options struct {
		// Client is the Pulse client. Required.
		Client pulse.Client
		// UserID scopes the streams. Required.
		UserID string
		// Clock defaults to time.Now.
		Clock func() time.Time
	}

	// Notifier implements notify.Notifier on a Pulse stream named
	// checkin/<user>/notifications.
	Notifier struct {
		client pulse.Client
		userID string
		clock  func() time.Time
	}

	// Envelope is the JSON document stored in each stream entry.
	Envelope struct {
		Type      string    `json:"type"`
		UserID    string    `json:"user_id"`
		Timestamp time.Time `json:"timestamp"`
		// DeliverAt is set for scheduled notifications.
		DeliverAt *time.Time `json:"deliver_at,omitempty"`
		// Notification is absent for cancel_all.
		Notification *notify.Notification `json:"notification,omitempty"`
		// Payload carries engine events on the events stream.
		Payload json.RawMessage `json:"payload,omitempty"`
	}
)

var _ notify.Notifier = (*Notifier)(nil)

// NewNotifier returns a Pulse-backed notifier.
func NewNotifier(opts Options) (*Notifier, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	if opts.UserID == "" {
		return nil, errors.New("user id is required")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Notifier{client: opts.Client, userID: opts.UserID, clock: clock}, nil
}

// NotificationStream returns the stream name notifications for userID are
// published to.
func NotificationStream(userID string) string {
	return fmt.Sprintf("checkin/%s/notifications", userID)
}

func (n *Notifier) SendNow(ctx context.Context, note notify.Notification) error {
	return n.publish(ctx, Envelope{Type: EventSendNow, Notification: &note})
}

func (n *Notifier) ScheduleAfter(ctx context.Context, delay time.Duration, note notify.Notification) error {
	at := n.clock().Add(delay).UTC()
	return n.publish(ctx, Envelope{Type: EventSchedule, DeliverAt: &at, Notification: &note})
}

func (n *Notifier) CancelAll(ctx context.Context) error {
	return n.publish(ctx, Envelope{Type: EventCancelAll})
}

func (n *Notifier) publish(ctx context.Context, env Envelope) error {
	env.UserID = n.userID
	env.Timestamp = n.clock().UTC()
	return publish(ctx, n.client, NotificationStream(n.userID), env)
}

func publish(ctx context.Context, client pulse.Client, streamID string, env Envelope) error {
	str, err := client.Stream(streamID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", env.Type, err)
	}
	if _, err := str.Add(ctx, env.Type, payload); err != nil {
		return fmt.Errorf("publish %s: %w", env.Type, err)
	}
	return nil
}
