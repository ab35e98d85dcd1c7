package rule

import (
	"encoding/json"
	"fmt"
	"time"
)

type (
	// History records the last fire of each rule together with the number of
	// fires on that calendar day. It is keyed by rule id.
	History map[string]Trigger

	// Trigger is the per-rule fire record.
	Trigger struct {
		// Last is the time of the most recent fire.
		Last time.Time `json:"last"`
		// Day is the calendar date (YYYY-MM-DD) Count refers to.
		Day string `json:"day"`
		// Count is the number of fires on Day.
		Count int `json:"count"`
	}
)

// FiredOn returns how many times the rule fired on day.
func (h History) FiredOn(id, day string) int {
	t, ok := h[id]
	if !ok || t.Day != day {
		return 0
	}
	return t.Count
}

// Record registers a fire of rule id at now. day is the calendar date of now
// in the evaluation location.
func (h History) Record(id string, now time.Time, day string) {
	t := h[id]
	if t.Day != day {
		t = Trigger{Day: day}
	}
	t.Last = now
	t.Count++
	h[id] = t
}

// LastTriggers returns the last fire time per rule.
func (h History) LastTriggers() map[string]time.Time {
	out := make(map[string]time.Time, len(h))
	for id, t := range h {
		out[id] = t.Last
	}
	return out
}

// Clone returns a copy of h.
func (h History) Clone() History {
	out := make(History, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// UnmarshalJSON accepts both the current record format and the legacy format
// that stored only the last fire timestamp per rule. Legacy entries decode as
// a single fire on the timestamp's date.
func (t *Trigger) UnmarshalJSON(data []byte) error {
	var ts time.Time
	if err := json.Unmarshal(data, &ts); err == nil {
		*t = Trigger{Last: ts, Day: ts.Format(time.DateOnly), Count: 1}
		return nil
	}
	var millis int64
	if err := json.Unmarshal(data, &millis); err == nil {
		ts := time.UnixMilli(millis)
		*t = Trigger{Last: ts, Day: ts.Format(time.DateOnly), Count: 1}
		return nil
	}
	type record Trigger
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("decode rule trigger: %w", err)
	}
	*t = Trigger(r)
	return nil
}
