package rule

import (
	"errors"
	"fmt"
)

// Catalog is the ordered list of rules. Order is the evaluation order and
// therefore decides which rules win when the daily cap is close.
type Catalog []Rule

// Lookup returns the rule with the given id.
func (c Catalog) Lookup(id string) (Rule, bool) {
	for _, r := range c {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}

// Enable toggles the rule with the given id in place.
func (c Catalog) Enable(id string, enabled bool) error {
	for i := range c {
		if c[i].ID == id {
			c[i].Enabled = enabled
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownRule, id)
}

// Clone returns a deep copy of the catalog.
func (c Catalog) Clone() Catalog {
	if c == nil {
		return nil
	}
	out := make(Catalog, len(c))
	for i, r := range c {
		out[i] = r.Clone()
	}
	return out
}

// Enabled returns the enabled rules in catalog order.
func (c Catalog) Enabled() Catalog {
	out := make(Catalog, 0, len(c))
	for _, r := range c {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

// Validate checks the catalog for structural errors. All problems are
// reported together.
func (c Catalog) Validate() error {
	var errs []error
	seen := make(map[string]struct{}, len(c))
	for i, r := range c {
		if r.ID == "" {
			errs = append(errs, fmt.Errorf("rule %d: id is required", i))
			continue
		}
		if _, ok := seen[r.ID]; ok {
			errs = append(errs, fmt.Errorf("rule %q: duplicate id", r.ID))
		}
		seen[r.ID] = struct{}{}
		if err := r.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Validate checks a single rule.
func (r Rule) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("rule %q: "+format, append([]any{r.ID}, args...)...))
	}
	if r.Type == "" {
		fail("type is required")
	}
	if r.Template == "" {
		fail("template is required")
	}
	if !r.Priority.Valid() {
		fail("invalid priority %q", r.Priority)
	}
	if r.Cooldown < 0 {
		fail("cooldown must not be negative")
	}
	if r.MaxPerDay < 0 {
		fail("maxPerDay must not be negative")
	}
	if w := r.Window; w != nil {
		if w.StartHour < 0 || w.StartHour > 23 {
			fail("window start hour %d out of range", w.StartHour)
		}
		if w.EndHour < 0 || w.EndHour > 24 {
			fail("window end hour %d out of range", w.EndHour)
		}
	}
	for i, cond := range r.Conditions {
		if !cond.Signal.Valid() {
			fail("condition %d: unknown signal %q", i, cond.Signal)
		}
		if !cond.Op.Valid() {
			fail("condition %d: unknown operator %q", i, cond.Op)
			continue
		}
		switch {
		case cond.Op == OpContains:
			if cond.Text == "" {
				fail("condition %d: contains requires a text value", i)
			}
		case cond.Op == OpBetween:
			if cond.Value == nil || cond.Upper == nil {
				fail("condition %d: between requires lower and upper values", i)
			} else if *cond.Value > *cond.Upper {
				fail("condition %d: between lower bound exceeds upper bound", i)
			}
		case cond.Value == nil && cond.Text == "":
			fail("condition %d: value is required", i)
		case cond.Value == nil && cond.Op != OpEqual:
			fail("condition %d: operator %q requires a numeric value", i, cond.Op)
		}
		if cond.IsText() && cond.field() == "" {
			fail("condition %d: signal %q has no text field", i, cond.Signal)
		}
	}
	actions := make(map[string]struct{}, len(r.Actions))
	for _, a := range r.Actions {
		if a.ID == "" {
			fail("action id is required")
			continue
		}
		if _, ok := actions[a.ID]; ok {
			fail("duplicate action %q", a.ID)
		}
		actions[a.ID] = struct{}{}
		if !a.Type.Valid() {
			fail("action %q: invalid type %q", a.ID, a.Type)
		}
	}
	return errors.Join(errs...)
}
