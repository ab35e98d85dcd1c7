package checkin

type (
	// Preferences are the user-controlled settings of the engine.
	Preferences struct {
		// Enabled turns the engine on or off as a whole.
		Enabled bool `json:"enabled" yaml:"enabled"`
		// Categories toggles rule categories. Missing entries are enabled.
		Categories map[Category]bool `json:"categories,omitempty" yaml:"categories,omitempty"`
		// QuietHours suppresses check-ins during a daily window.
		QuietHours QuietHours `json:"quietHours" yaml:"quietHours"`
		// MaxNudgesPerDay caps check-ins created per calendar day.
		MaxNudgesPerDay int `json:"maxNudgesPerDay" yaml:"maxNudgesPerDay"`
		// ConcerningPatternAlerts enables urgent escalations outside the
		// rule catalog.
		ConcerningPatternAlerts bool `json:"concerningPatternAlerts" yaml:"concerningPatternAlerts"`
	}

	// QuietHours is a [StartHour, EndHour) window of local hours. A window
	// with StartHour > EndHour spans midnight.
	QuietHours struct {
		Enabled   bool `json:"enabled" yaml:"enabled"`
		StartHour int  `json:"startHour" yaml:"startHour"`
		EndHour   int  `json:"endHour" yaml:"endHour"`
	}

	// PreferencesPatch is a partial update; nil fields are left unchanged.
	// Categories entries are merged into the existing map.
	PreferencesPatch struct {
		Enabled                 *bool             `json:"enabled,omitempty"`
		Categories              map[Category]bool `json:"categories,omitempty"`
		QuietHours              *QuietHours       `json:"quietHours,omitempty"`
		MaxNudgesPerDay         *int              `json:"maxNudgesPerDay,omitempty"`
		ConcerningPatternAlerts *bool             `json:"concerningPatternAlerts,omitempty"`
	}
)

// DefaultPreferences returns the settings used before the user changes
// anything.
func DefaultPreferences() Preferences {
	return Preferences{
		Enabled:                 true,
		QuietHours:              QuietHours{Enabled: true, StartHour: 22, EndHour: 7},
		MaxNudgesPerDay:         3,
		ConcerningPatternAlerts: true,
	}
}

// CategoryEnabled reports whether check-ins of category c may be created.
func (p Preferences) CategoryEnabled(c Category) bool {
	if p.Categories == nil {
		return true
	}
	enabled, ok := p.Categories[c]
	return !ok || enabled
}

// Contains reports whether hour falls within the quiet window.
func (q QuietHours) Contains(hour int) bool {
	if !q.Enabled || q.StartHour == q.EndHour {
		return false
	}
	if q.StartHour > q.EndHour {
		return hour >= q.StartHour || hour < q.EndHour
	}
	return hour >= q.StartHour && hour < q.EndHour
}

// Apply returns p updated with the non-nil fields of patch.
func (p Preferences) Apply(patch PreferencesPatch) Preferences {
	out := p.Clone()
	if patch.Enabled != nil {
		out.Enabled = *patch.Enabled
	}
	if len(patch.Categories) > 0 {
		if out.Categories == nil {
			out.Categories = make(map[Category]bool, len(patch.Categories))
		}
		for k, v := range patch.Categories {
			out.Categories[k] = v
		}
	}
	if patch.QuietHours != nil {
		out.QuietHours = *patch.QuietHours
	}
	if patch.MaxNudgesPerDay != nil {
		out.MaxNudgesPerDay = *patch.MaxNudgesPerDay
	}
	if patch.ConcerningPatternAlerts != nil {
		out.ConcerningPatternAlerts = *patch.ConcerningPatternAlerts
	}
	return out
}

// Clone returns a deep copy of p.
func (p Preferences) Clone() Preferences {
	out := p
	if p.Categories != nil {
		out.Categories = make(map[Category]bool, len(p.Categories))
		for k, v := range p.Categories {
			out.Categories[k] = v
		}
	}
	return out
}
