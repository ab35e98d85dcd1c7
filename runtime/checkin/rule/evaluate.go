package rule

import (
	"time"

	"goa.design/checkin/runtime/checkin"
	"goa.design/checkin/runtime/checkin/signal"
)

type (
	// Input carries everything an evaluation reads.
	Input struct {
		// Signals is the current signal batch.
		Signals []signal.Signal
		// Catalog is evaluated in order.
		Catalog Catalog
		// History is updated in place for every rule that fires.
		History History
		// DailyCount is the number of check-ins already created today.
		DailyCount int
		// GlobalCap bounds DailyCount plus the number of drafts returned.
		GlobalCap int
		// Now is the evaluation time.
		Now time.Time
		// Location is used for windows and calendar days. Defaults to
		// Now's location.
		Location *time.Location
	}

	// Draft is a fired rule with its rendered text.
	Draft struct {
		Rule    Rule
		Title   string
		Message string
		Signals []signal.Kind
		Now     time.Time
	}
)

// Evaluate returns a draft for every rule that fires, in catalog order, and
// records each fire in in.History. A rule fires when it is enabled, the local
// hour is in its window, its cooldown has elapsed, it has fired fewer than
// MaxPerDay times today and all its conditions hold. Evaluation stops once
// DailyCount plus the drafts returned reaches GlobalCap.
func Evaluate(in Input) []Draft {
	if in.DailyCount >= in.GlobalCap {
		return nil
	}
	if in.History == nil {
		in.History = History{}
	}
	now := in.Now
	if in.Location != nil {
		now = now.In(in.Location)
	}
	day := checkin.DateKey(now)
	set := signal.NewSet(in.Signals)

	var drafts []Draft
	for _, r := range in.Catalog {
		if in.DailyCount+len(drafts) >= in.GlobalCap {
			break
		}
		if !fires(r, set, in.History, now, day) {
			continue
		}
		in.History.Record(r.ID, in.Now, day)
		kinds := r.Kinds()
		drafts = append(drafts, Draft{
			Rule:    r.Clone(),
			Title:   Render(r.Title, set, kinds...),
			Message: Render(r.Template, set, kinds...),
			Signals: presentKinds(set, kinds),
			Now:     in.Now,
		})
	}
	return drafts
}

func fires(r Rule, set signal.Set, h History, now time.Time, day string) bool {
	if !r.Enabled {
		return false
	}
	if r.Window != nil && !r.Window.Contains(now.Hour()) {
		return false
	}
	if t, ok := h[r.ID]; ok && r.Cooldown > 0 && !t.Last.IsZero() {
		if now.Sub(t.Last) < r.Cooldown {
			return false
		}
	}
	if r.MaxPerDay > 0 && h.FiredOn(r.ID, day) >= r.MaxPerDay {
		return false
	}
	for _, c := range r.Conditions {
		if !c.Match(set) {
			return false
		}
	}
	return true
}

// presentKinds returns the kinds referenced by the rule that are present in
// the set.
func presentKinds(set signal.Set, kinds []signal.Kind) []signal.Kind {
	out := make([]signal.Kind, 0, len(kinds))
	for _, k := range kinds {
		if _, ok := set.Find(k); ok {
			out = append(out, k)
		}
	}
	return out
}
