package hooks

import (
	"time"

	"goa.design/checkin/runtime/checkin"
)

// EventType identifies the mutation that triggered an event.
type EventType string

const (
	// CheckInsLoaded fires once the engine has restored persisted check-ins.
	CheckInsLoaded EventType = "checkins_loaded"
	// CheckInCreated fires after a new check-in is persisted.
	CheckInCreated EventType = "checkin_created"
	// CheckInResponded fires after a response is recorded.
	CheckInResponded EventType = "checkin_responded"
	// CheckInDismissed fires after a dismissal.
	CheckInDismissed EventType = "checkin_dismissed"
	// CheckInSnoozed fires after a snooze.
	CheckInSnoozed EventType = "checkin_snoozed"
)

// Event carries the pending check-ins after a mutation.
type Event struct {
	Type EventType
	// CheckInID is the check-in the mutation applied to, when there is one.
	CheckInID string
	// Pending is the pending list after the mutation. Subscribers own the
	// slice.
	Pending []checkin.CheckIn
	At      time.Time
}
