package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"goa.design/checkin/features/notify/pulse/clients/pulse"
	"goa.design/checkin/runtime/checkin/hooks"
)

type (
	// EventSink mirrors engine events onto the checkin/<user>/events stream
	// so remote views can follow the pending list.
	EventSink struct {
		client pulse.Client
		userID string
	}

	eventPayload struct {
		CheckInID string `json:"checkin_id,omitempty"`
		Pending   any    `json:"pending"`
	}
)

var _ hooks.Subscriber = (*EventSink)(nil)

// NewEventSink returns a hooks subscriber publishing to Pulse.
func NewEventSink(client pulse.Client, userID string) (*EventSink, error) {
	if client == nil {
		return nil, errors.New("pulse client is required")
	}
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	return &EventSink{client: client, userID: userID}, nil
}

// EventStream returns the stream name engine events for userID are
// published to.
func EventStream(userID string) string {
	return fmt.Sprintf("checkin/%s/events", userID)
}

// HandleEvent implements hooks.Subscriber.
func (s *EventSink) HandleEvent(ctx context.Context, event hooks.Event) error {
	body, err := json.Marshal(eventPayload{CheckInID: event.CheckInID, Pending: event.Pending})
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event.Type, err)
	}
	at := event.At
	if at.IsZero() {
		at = time.Now()
	}
	return publish(ctx, s.client, EventStream(s.userID), Envelope{
		Type:      string(event.Type),
		UserID:    s.userID,
		Timestamp: at.UTC(),
		Payload:   body,
	})
}
