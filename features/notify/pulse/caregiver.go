package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"goa.design/checkin/features/notify/pulse/clients/pulse"
	"goa.design/checkin/runtime/checkin"
	"goa.design/checkin/runtime/checkin/notify"
)

// EventCaregiverAlert is the event name of caregiver alerts.
const EventCaregiverAlert = "caregiver.alert"

type (
	// Caregiver implements notify.Caregiver by publishing alerts to the
	// checkin/<user>/caregiver stream.
	Caregiver struct {
		client pulse.Client
		userID string
		clock  func() time.Time
	}

	// CaregiverAlert is the payload of a caregiver alert.
	CaregiverAlert struct {
		CheckInID string         `json:"checkin_id"`
		Type      checkin.Kind   `json:"type"`
		Title     string         `json:"title"`
		Message   string         `json:"message"`
		Action    checkin.Action `json:"action"`
	}
)

var _ notify.Caregiver = (*Caregiver)(nil)

// NewCaregiver returns a Pulse-backed caregiver alerter.
func NewCaregiver(opts Options) (*Caregiver, error) {
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
	return &Caregiver{client: opts.Client, userID: opts.UserID, clock: clock}, nil
}

// CaregiverStream returns the stream name caregiver alerts for userID are
// published to.
func CaregiverStream(userID string) string {
	return fmt.Sprintf("checkin/%s/caregiver", userID)
}

// Notify implements notify.Caregiver.
func (c *Caregiver) Notify(ctx context.Context, ci checkin.CheckIn, action checkin.Action) error {
	body, err := json.Marshal(CaregiverAlert{
		CheckInID: ci.ID,
		Type:      ci.Type,
		Title:     ci.Title,
		Message:   ci.Message,
		Action:    action,
	})
	if err != nil {
		return fmt.Errorf("encode caregiver alert: %w", err)
	}
	return publish(ctx, c.client, CaregiverStream(c.userID), Envelope{
		Type:      EventCaregiverAlert,
		UserID:    c.userID,
		Timestamp: c.clock().UTC(),
		Payload:   body,
	})
}
