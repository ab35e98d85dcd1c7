// Package rule defines the check-in rule catalog and the evaluator that decides
// which rules fire for a batch of signals. Evaluation is pure: it reads the
// catalog, the trigger history and the daily count, and returns drafts for the
// orchestrator to turn into check-ins.
package rule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"goa.design/checkin/runtime/checkin"
	"goa.design/checkin/runtime/checkin/signal"
)

type (
	// Rule declares when a check-in should be created and how it reads.
	Rule struct {
		// ID identifies the rule in the catalog and in the trigger history.
		ID string
		// Name is a human readable label.
		Name string
		// Type is the kind of check-in the rule produces. It also selects the
		// message pool used when phrasing the check-in.
		Type checkin.Kind
		// Category groups the rule for user preferences.
		Category checkin.Category
		// Priority is copied onto the created check-in.
		Priority checkin.Priority
		// Enabled rules take part in evaluation.
		Enabled bool
		// Conditions must all hold for the rule to fire. A rule without
		// conditions is gated by its window only.
		Conditions []Condition
		// Cooldown is the minimum time between two fires.
		Cooldown time.Duration
		// MaxPerDay caps fires per calendar day. Zero means unlimited.
		MaxPerDay int
		// Window restricts the local hours during which the rule may fire.
		Window *Window
		// Template is the message text; {{field}} tokens are replaced with
		// signal values.
		Template string
		// Title is the check-in title.
		Title string
		// Actions are the responses offered with the check-in.
		Actions []checkin.Action
	}

	// Condition compares one field of one signal against a value.
	Condition struct {
		// Signal is the kind of signal the condition reads.
		Signal signal.Kind
		// Field overrides the kind's primary field.
		Field string
		// Op is the comparison operator.
		Op Operator
		// Value is the numeric operand, and the lower bound for between.
		Value *float64
		// Upper is the upper bound for between.
		Upper *float64
		// Text is the operand of text comparisons.
		Text string
	}

	// Window is a [StartHour, EndHour) range of local hours. When StartHour
	// is greater than EndHour the window wraps midnight.
	Window struct {
		StartHour int
		EndHour   int
	}

	// Operator is a condition comparison.
	Operator string
)

const (
	OpLessThan       Operator = "lt"
	OpGreaterThan    Operator = "gt"
	OpLessOrEqual    Operator = "lte"
	OpGreaterOrEqual Operator = "gte"
	OpEqual          Operator = "eq"
	OpBetween        Operator = "between"
	OpContains       Operator = "contains"
)

// ErrUnknownRule is returned when a rule id is not in the catalog.
var ErrUnknownRule = errors.New("unknown rule")

// Operators lists the supported condition operators.
var Operators = []Operator{OpLessThan, OpGreaterThan, OpLessOrEqual, OpGreaterOrEqual, OpEqual, OpBetween, OpContains}

// Valid reports whether op is supported.
func (op Operator) Valid() bool {
	for _, known := range Operators {
		if op == known {
			return true
		}
	}
	return false
}

// Contains reports whether hour is inside the window. Equal bounds cover the
// whole day.
func (w Window) Contains(hour int) bool {
	if w.StartHour == w.EndHour {
		return true
	}
	if w.StartHour > w.EndHour {
		return hour >= w.StartHour || hour < w.EndHour
	}
	return hour >= w.StartHour && hour < w.EndHour
}

// Num returns a pointer to v for building conditions.
func Num(v float64) *float64 { return &v }

// IsText reports whether the condition compares text rather than numbers.
func (c Condition) IsText() bool {
	return c.Op == OpContains || (c.Value == nil && c.Text != "")
}

// field returns the payload field the condition reads.
func (c Condition) field() string {
	if c.Field != "" {
		return c.Field
	}
	if c.IsText() {
		return c.Signal.PrimaryText()
	}
	return c.Signal.PrimaryNumber()
}

// Match evaluates the condition against the signal set. A missing signal or
// field fails the condition.
func (c Condition) Match(set signal.Set) bool {
	sig, ok := set.Find(c.Signal)
	if !ok {
		return false
	}
	field := c.field()
	if c.IsText() {
		got, ok := sig.Text(field)
		if !ok {
			return false
		}
		switch c.Op {
		case OpContains:
			return strings.Contains(strings.ToLower(got), strings.ToLower(c.Text))
		case OpEqual:
			return strings.EqualFold(got, c.Text)
		}
		return false
	}
	got, ok := sig.Number(field)
	if !ok || c.Value == nil {
		return false
	}
	want := *c.Value
	switch c.Op {
	case OpLessThan:
		return got < want
	case OpGreaterThan:
		return got > want
	case OpLessOrEqual:
		return got <= want
	case OpGreaterOrEqual:
		return got >= want
	case OpEqual:
		return got == want
	case OpBetween:
		if c.Upper == nil {
			return false
		}
		return got >= want && got <= *c.Upper
	}
	return false
}

// String renders the condition for logs and catalog listings.
func (c Condition) String() string {
	switch {
	case c.IsText():
		return fmt.Sprintf("%s.%s %s %q", c.Signal, c.field(), c.Op, c.Text)
	case c.Op == OpBetween && c.Value != nil && c.Upper != nil:
		return fmt.Sprintf("%s.%s between %g and %g", c.Signal, c.field(), *c.Value, *c.Upper)
	case c.Value != nil:
		return fmt.Sprintf("%s.%s %s %g", c.Signal, c.field(), c.Op, *c.Value)
	}
	return fmt.Sprintf("%s.%s %s", c.Signal, c.field(), c.Op)
}

// Kinds returns the distinct signal kinds referenced by the rule conditions in
// declaration order.
func (r Rule) Kinds() []signal.Kind {
	var out []signal.Kind
	seen := make(map[signal.Kind]struct{}, len(r.Conditions))
	for _, c := range r.Conditions {
		if _, ok := seen[c.Signal]; ok {
			continue
		}
		seen[c.Signal] = struct{}{}
		out = append(out, c.Signal)
	}
	return out
}

// Clone returns a deep copy of r.
func (r Rule) Clone() Rule {
	out := r
	if r.Window != nil {
		w := *r.Window
		out.Window = &w
	}
	out.Conditions = make([]Condition, len(r.Conditions))
	for i, c := range r.Conditions {
		if c.Value != nil {
			c.Value = Num(*c.Value)
		}
		if c.Upper != nil {
			c.Upper = Num(*c.Upper)
		}
		out.Conditions[i] = c
	}
	out.Actions = append([]checkin.Action(nil), r.Actions...)
	return out
}
