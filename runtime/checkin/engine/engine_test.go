package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"goa.design/checkin/runtime/checkin"
	"goa.design/checkin/runtime/checkin/message"
	"goa.design/checkin/runtime/checkin/notify"
	"goa.design/checkin/runtime/checkin/rule"
	"goa.design/checkin/runtime/checkin/signal"
	"goa.design/checkin/runtime/checkin/store"
	"goa.design/checkin/runtime/checkin/store/inmem"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type (
	fakeClock struct {
		mu  sync.Mutex
		now time.Time
	}

	fakeNotifier struct {
		mu        sync.Mutex
		sent      []notify.Notification
		scheduled []time.Duration
		cancelled int
		err       error
	}

	fakeCaregiver struct {
		mu    sync.Mutex
		calls []string
	}

	fakeScheduler struct {
		name        string
		minInterval time.Duration
		fn          func(context.Context) error
	}

	fakeRegistration struct{ cancelled bool }

	fixture struct {
		engine    *Engine
		clock     *fakeClock
		store     *inmem.Store
		source    *signal.StaticSource
		notifier  *fakeNotifier
		caregiver *fakeCaregiver
	}
)

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (n *fakeNotifier) SendNow(_ context.Context, note notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return n.err
}

func (n *fakeNotifier) ScheduleAfter(_ context.Context, delay time.Duration, _ notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.scheduled = append(n.scheduled, delay)
	return nil
}

func (n *fakeNotifier) CancelAll(context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled++
	return nil
}

func (n *fakeNotifier) sentCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func (c *fakeCaregiver) Notify(_ context.Context, ci checkin.CheckIn, _ checkin.Action) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, ci.ID)
	return nil
}

func (s *fakeScheduler) Register(_ context.Context, name string, minInterval time.Duration, fn func(context.Context) error) (Registration, error) {
	s.name, s.minInterval, s.fn = name, minInterval, fn
	return &fakeRegistration{}, nil
}

func (r *fakeRegistration) Cancel(context.Context) error {
	r.cancelled = true
	return nil
}

func at(hour, minute int) time.Time {
	return time.Date(2025, 3, 10, hour, minute, 0, 0, time.UTC)
}

func stepRuleCatalog() rule.Catalog {
	r, _ := rule.DefaultCatalog().Lookup("step_nudge_afternoon")
	return rule.Catalog{r}
}

func newFixture(t *testing.T, catalog rule.Catalog, signals ...signal.Signal) *fixture {
	t.Helper()
	return newCraftingFixture(t, catalog, nil, signals...)
}

// newCraftingFixture is newFixture with the given crafter. A nil crafter
// keeps the engine offline.
func newCraftingFixture(t *testing.T, catalog rule.Catalog, crafter *message.Crafter, signals ...signal.Signal) *fixture {
	t.Helper()
	f := &fixture{
		clock:     &fakeClock{now: at(15, 0)},
		store:     inmem.New(),
		notifier:  &fakeNotifier{},
		caregiver: &fakeCaregiver{},
	}
	f.source = signal.NewStaticSource(f.clock.Now, signals...)
	seq := 0
	e, err := New(Options{
		Store:        f.store,
		Source:       f.source,
		Notifier:     f.notifier,
		Caregiver:    f.caregiver,
		Crafter:      crafter,
		Catalog:      catalog,
		Clock:        f.clock.Now,
		Location:     time.UTC,
		TickInterval: time.Hour,
		User:         message.UserContext{Name: "Ada"},
		NewID: func() string {
			seq++
			return fmt.Sprintf("c%d", seq)
		},
	})
	require.NoError(t, err)
	f.engine = e
	t.Cleanup(e.Stop)
	return f
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{Source: signal.NewStaticSource(nil)})
	require.EqualError(t, err, "store is required")
	_, err = New(Options{Store: inmem.New()})
	require.EqualError(t, err, "signal source is required")
	_, err = New(Options{Store: inmem.New(), Source: signal.NewStaticSource(nil), Catalog: rule.Catalog{{ID: "x"}}})
	require.Error(t, err)
}

func TestRunCheckCreatesStepNudge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, stepRuleCatalog(), signal.NewSteps(at(15, 0), 1500, 8000))

	created, err := f.engine.RunCheck(ctx, TriggerManual)
	require.NoError(t, err)
	require.Len(t, created, 1)
	c := created[0]
	require.Equal(t, checkin.KindStepNudge, c.Type)
	require.Equal(t, "step_nudge_afternoon", c.RuleID)
	require.Equal(t, checkin.OriginRule, c.Origin)
	require.Equal(t, "You've taken 1500 steps today. A short walk could feel good right now.", c.Message)
	require.Equal(t, []signal.Kind{signal.KindSteps}, c.Signals)
	require.NotNil(t, c.ExpiresAt)
	require.Equal(t, at(15, 0).Add(DefaultCheckInTTL), *c.ExpiresAt)
	require.Equal(t, 1, f.engine.State().TodayCount)
	require.Len(t, f.engine.Pending(), 1)
	require.Equal(t, 1, f.notifier.sentCount())

	f.clock.Advance(time.Minute)
	created, err = f.engine.RunCheck(ctx, TriggerManual)
	require.NoError(t, err)
	require.Empty(t, created, "cooldown must suppress the second fire")
	require.Equal(t, 1, f.engine.State().TodayCount)

	var stored []checkin.CheckIn
	ok, err := store.GetJSON(ctx, f.store, store.KeyCheckIns, &stored)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, stored, 1)
}

func TestRunCheckHonorsQuietHours(t *testing.T) {
	ctx := context.Background()
	r := stepRuleCatalog()
	r[0].Window = nil
	f := newFixture(t, r, signal.NewSteps(at(15, 0), 100, 8000))

	for _, hour := range []int{23, 3} {
		f.clock.Set(at(hour, 0))
		created, err := f.engine.RunCheck(ctx, TriggerPeriodic)
		require.NoError(t, err)
		require.Empty(t, created, "hour %d is quiet", hour)
	}
	require.Zero(t, f.notifier.sentCount())

	f.clock.Set(at(10, 0))
	created, err := f.engine.RunCheck(ctx, TriggerPeriodic)
	require.NoError(t, err)
	require.Len(t, created, 1)
}

func TestRunCheckDisabled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, stepRuleCatalog(), signal.NewSteps(at(15, 0), 100, 8000))
	_, err := f.engine.UpdatePreferences(ctx, checkin.PreferencesPatch{Enabled: ptr(false)})
	require.NoError(t, err)
	created, err := f.engine.RunCheck(ctx, TriggerManual)
	require.NoError(t, err)
	require.Empty(t, created)
}

func TestRunCheckCancelledContext(t *testing.T) {
	f := newFixture(t, stepRuleCatalog())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.engine.RunCheck(ctx, TriggerManual)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunCheckDailyCap(t *testing.T) {
	ctx := context.Background()
	var catalog rule.Catalog
	for _, id := range []string{"a", "b", "c", "d"} {
		catalog = append(catalog, rule.Rule{
			ID:       id,
			Type:     checkin.KindWellbeingCheck,
			Category: checkin.CategoryWellbeing,
			Priority: checkin.PriorityLow,
			Enabled:  true,
			Template: "How are you feeling, " + id + "?",
			Title:    "Hello",
			Actions:  []checkin.Action{{ID: "ok", Label: "OK", Type: checkin.ActionPositive}},
		})
	}
	f := newFixture(t, catalog)
	created, err := f.engine.RunCheck(ctx, TriggerManual)
	require.NoError(t, err)
	require.Len(t, created, 3, "default preferences allow three nudges per day")
	require.Equal(t, "a", created[0].RuleID)

	f.clock.Advance(time.Hour)
	created, err = f.engine.RunCheck(ctx, TriggerManual)
	require.NoError(t, err)
	require.Empty(t, created)

	f.clock.Set(at(15, 0).Add(24 * time.Hour))
	created, err = f.engine.RunCheck(ctx, TriggerManual)
	require.NoError(t, err)
	require.Len(t, created, 3, "the count resets on a new day")
}

func TestRunCheckDisabledCategory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, stepRuleCatalog(), signal.NewSteps(at(15, 0), 100, 8000))
	_, err := f.engine.UpdatePreferences(ctx, checkin.PreferencesPatch{
		Categories: map[checkin.Category]bool{checkin.CategoryActivity: false},
	})
	require.NoError(t, err)
	created, err := f.engine.RunCheck(ctx, TriggerManual)
	require.NoError(t, err)
	require.Empty(t, created)
	require.Empty(t, f.engine.State().LastRuleTriggers, "disabled categories do not consume cooldown")
}

func TestPendingFiltersExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, stepRuleCatalog(), signal.NewSteps(at(15, 0), 100, 8000))
	_, err := f.engine.RunCheck(ctx, TriggerManual)
	require.NoError(t, err)
	require.Len(t, f.engine.Pending(), 1)

	f.clock.Advance(DefaultCheckInTTL)
	require.Empty(t, f.engine.Pending())
}

func TestRespond(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, stepRuleCatalog(), signal.NewSteps(at(15, 0), 100, 8000))
	created, err := f.engine.RunCheck(ctx, TriggerManual)
	require.NoError(t, err)
	id := created[0].ID

	require.Equal(t, ReasonUnknownCheckIn, f.engine.Respond(ctx, "nope", "going_now").Reason)
	require.Equal(t, ReasonUnknownAction, f.engine.Respond(ctx, id, "nope").Reason)

	res := f.engine.Respond(ctx, id, "going_now")
	require.True(t, res.Success)
	require.NotEmpty(t, res.FollowUp)
	require.Empty(t, f.engine.Pending())
	require.Equal(t, at(15, 0), f.source.LastActivity())

	c, ok := f.engine.CheckIn(id)
	require.True(t, ok)
	require.True(t, c.Dismissed)
	require.NotNil(t, c.Response)
	require.Equal(t, "going_now", c.Response.ActionID)

	again := f.engine.Respond(ctx, id, "not_today")
	require.False(t, again.Success)
	require.Equal(t, ReasonAlreadyResponded, again.Reason)
	c, _ = f.engine.CheckIn(id)
	require.Equal(t, "going_now", c.Response.ActionID)
}

func TestRespondExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, stepRuleCatalog(), signal.NewSteps(at(15, 0), 100, 8000))
	created, err := f.engine.RunCheck(ctx, TriggerManual)
	require.NoError(t, err)
	f.clock.Advance(DefaultCheckInTTL + time.Minute)
	res := f.engine.Respond(ctx, created[0].ID, "going_now")
	require.False(t, res.Success)
	require.Equal(t, ReasonNotPending, res.Reason)
}

func TestDismiss(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, stepRuleCatalog(), signal.NewSteps(at(15, 0), 100, 8000))
	created, err := f.engine.RunCheck(ctx, TriggerManual)
	require.NoError(t, err)
	require.True(t, f.engine.Dismiss(ctx, created[0].ID))
	require.False(t, f.engine.Dismiss(ctx, created[0].ID))
	require.False(t, f.engine.Dismiss(ctx, "nope"))
	require.Empty(t, f.engine.Pending())
}

func TestSnooze(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, stepRuleCatalog(), signal.NewSteps(at(15, 0), 100, 8000))
	created, err := f.engine.RunCheck(ctx, TriggerManual)
	require.NoError(t, err)
	id := created[0].ID

	require.False(t, f.engine.Snooze(ctx, id, 0))
	require.True(t, f.engine.Snooze(ctx, id, 30))
	c, _ := f.engine.CheckIn(id)
	require.Equal(t, 1, c.Snoozed)
	require.Equal(t, at(15, 30).Add(DefaultSnoozeBuffer), *c.ExpiresAt)
	require.Equal(t, []time.Duration{30 * time.Minute}, f.notifier.scheduled)

	f.clock.Advance(DefaultCheckInTTL)
	require.Len(t, f.engine.Pending(), 0)
}

func TestConcerningPatternEscalation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, rule.Catalog{})
	f.source.SetPatterns(&signal.Patterns{Concerning: true, Reasons: []string{"quiet day"}, SuggestCaregiverCall: true})

	created, err := f.engine.RunCheck(ctx, TriggerManual)
	require.NoError(t, err)
	require.Len(t, created, 1)
	c := created[0]
	require.Equal(t, checkin.OriginConcerningPattern, c.Origin)
	require.Equal(t, checkin.PriorityUrgent, c.Priority)
	require.Equal(t, checkin.KindInactivityCheck, c.Type)
	require.NotEmpty(t, c.Message)
	_, ok := c.Action("call_caregiver")
	require.True(t, ok)
	require.Zero(t, f.engine.State().TodayCount, "escalations are not counted")

	f.clock.Advance(15 * time.Minute)
	created, err = f.engine.RunCheck(ctx, TriggerManual)
	require.NoError(t, err)
	require.Empty(t, created, "no new escalation while one is pending")

	res := f.engine.Respond(ctx, c.ID, "call_caregiver")
	require.True(t, res.Success)
	require.Equal(t, []string{c.ID}, f.caregiver.calls)

	f.clock.Advance(15 * time.Minute)
	created, err = f.engine.RunCheck(ctx, TriggerManual)
	require.NoError(t, err)
	require.Len(t, created, 1)
}

func TestConcerningPatternAlertsDisabled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, rule.Catalog{})
	f.source.SetPatterns(&signal.Patterns{Concerning: true})
	_, err := f.engine.UpdatePreferences(ctx, checkin.PreferencesPatch{ConcerningPatternAlerts: ptr(false)})
	require.NoError(t, err)
	created, err := f.engine.RunCheck(ctx, TriggerManual)
	require.NoError(t, err)
	require.Empty(t, created)
}

func TestPersistenceFailureKeepsMemoryState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, stepRuleCatalog(), signal.NewSteps(at(15, 0), 100, 8000))
	f.store.FailOn(store.KeyCheckIns, errors.New("disk full"))

	created, err := f.engine.RunCheck(ctx, TriggerManual)
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.Len(t, f.engine.Pending(), 1)
	require.Equal(t, 1, f.notifier.sentCount(), "notifications go out even when persistence fails")

	f.clock.Advance(time.Hour)
	f.engine.Background()
	created, err = f.engine.Foreground(ctx)
	require.NoError(t, err)
	require.Empty(t, created, "cooldown still applies")
	require.Len(t, f.engine.Pending(), 1)
}

func TestLoadPersistedState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, stepRuleCatalog(), signal.NewSteps(at(15, 0), 100, 8000))
	expired := at(14, 0)
	live := at(18, 0)
	list := []checkin.CheckIn{
		{ID: "old", Type: checkin.KindStepNudge, CreatedAt: at(9, 0), ExpiresAt: &expired},
		{ID: "live", Type: checkin.KindWellbeingCheck, CreatedAt: at(14, 30), ExpiresAt: &live,
			Actions: []checkin.Action{{ID: "ok", Label: "OK", Type: checkin.ActionPositive}}},
	}
	require.NoError(t, store.SetJSON(ctx, f.store, store.KeyCheckIns, list))
	legacy := map[string]any{"step_nudge_afternoon": at(14, 30).UnixMilli()}
	raw, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, f.store.Set(ctx, store.KeyRuleTriggers, raw))
	require.NoError(t, store.SetJSON(ctx, f.store, store.KeyDailyCount, checkin.DailyCount{Date: "2025-03-09", Count: 3}))

	created, err := f.engine.RunCheck(ctx, TriggerManual)
	require.NoError(t, err)
	require.Empty(t, created, "the legacy trigger is still cooling down")
	require.Zero(t, f.engine.State().TodayCount)

	pending := f.engine.Pending()
	require.Len(t, pending, 1)
	require.Equal(t, "live", pending[0].ID)

	require.True(t, f.engine.Respond(ctx, "live", "ok").Success)
	var stored []checkin.CheckIn
	_, err = store.GetJSON(ctx, f.store, store.KeyCheckIns, &stored)
	require.NoError(t, err)
	require.Len(t, stored, 2, "expired check-ins stay in storage")
}

func TestExpiredAtLoadIsNotPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, stepRuleCatalog())
	expired := at(14, 0)
	list := []checkin.CheckIn{
		{ID: "old", Type: checkin.KindStepNudge, CreatedAt: at(9, 0), ExpiresAt: &expired,
			Actions: []checkin.Action{{ID: "ok", Label: "OK", Type: checkin.ActionPositive}}},
	}
	require.NoError(t, store.SetJSON(ctx, f.store, store.KeyCheckIns, list))

	require.Empty(t, f.engine.Pending())
	res := f.engine.Respond(ctx, "old", "ok")
	require.False(t, res.Success)
	require.Equal(t, ReasonNotPending, res.Reason)
	require.False(t, f.engine.Dismiss(ctx, "old"))
	require.False(t, f.engine.Snooze(ctx, "old", 10))

	c, ok := f.engine.CheckIn("old")
	require.True(t, ok)
	require.Nil(t, c.Response)
	require.Equal(t, ReasonUnknownCheckIn, f.engine.Respond(ctx, "missing", "ok").Reason)
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, stepRuleCatalog(), signal.NewSteps(at(15, 0), 100, 8000))
	var mu sync.Mutex
	var seen []int
	unsubscribe := f.engine.Subscribe(func(_ context.Context, pending []checkin.CheckIn) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, len(pending))
	})
	created, err := f.engine.RunCheck(ctx, TriggerManual)
	require.NoError(t, err)
	require.True(t, f.engine.Dismiss(ctx, created[0].ID))
	unsubscribe()
	unsubscribe()
	f.clock.Advance(24 * time.Hour)
	_, err = f.engine.RunCheck(ctx, TriggerManual)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{0, 1, 0}, seen)
}

func TestPreferencesStartStop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, stepRuleCatalog(), signal.NewSteps(at(15, 0), 100, 8000))
	require.NoError(t, f.engine.Start(ctx))
	require.True(t, f.engine.Running())
	require.True(t, f.engine.State().Running)
	require.Len(t, f.engine.Pending(), 1, "Start runs an immediate tick")
	require.NoError(t, f.engine.Start(ctx))

	prefs, err := f.engine.UpdatePreferences(ctx, checkin.PreferencesPatch{Enabled: ptr(false)})
	require.NoError(t, err)
	require.False(t, prefs.Enabled)
	require.False(t, f.engine.Running())
	require.Equal(t, 1, f.notifier.cancelled)

	_, err = f.engine.UpdatePreferences(ctx, checkin.PreferencesPatch{Enabled: ptr(true)})
	require.NoError(t, err)
	require.True(t, f.engine.Running())

	var stored checkin.Preferences
	ok, err := store.GetJSON(ctx, f.store, store.KeyPreferences, &stored)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, stored.Enabled)
}

func TestUpdatePreferencesValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, stepRuleCatalog())
	_, err := f.engine.UpdatePreferences(ctx, checkin.PreferencesPatch{
		QuietHours: &checkin.QuietHours{Enabled: true, StartHour: 24, EndHour: 7},
	})
	require.Error(t, err)
	_, err = f.engine.UpdatePreferences(ctx, checkin.PreferencesPatch{MaxNudgesPerDay: ptr(-1)})
	require.Error(t, err)
	require.Equal(t, checkin.DefaultPreferences(), f.engine.Preferences())
}

func TestForegroundOnlyAfterBackground(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, stepRuleCatalog(), signal.NewSteps(at(15, 0), 100, 8000))
	created, err := f.engine.Foreground(ctx)
	require.NoError(t, err)
	require.Empty(t, created)

	f.engine.Background()
	created, err = f.engine.Foreground(ctx)
	require.NoError(t, err)
	require.Len(t, created, 1)
}

func TestRegisterBackground(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, stepRuleCatalog(), signal.NewSteps(at(15, 0), 100, 8000))
	s := &fakeScheduler{}
	reg, err := f.engine.RegisterBackground(ctx, s)
	require.NoError(t, err)
	require.NotNil(t, reg)
	require.Equal(t, "checkin.background", s.name)
	require.Equal(t, DefaultBackgroundMinInterval, s.minInterval)
	require.NoError(t, s.fn(ctx))
	require.Len(t, f.engine.Pending(), 1)
}

func TestEnableRule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, stepRuleCatalog(), signal.NewSteps(at(15, 0), 100, 8000))
	require.NoError(t, f.engine.EnableRule("step_nudge_afternoon", false))
	require.ErrorIs(t, f.engine.EnableRule("nope", false), rule.ErrUnknownRule)
	created, err := f.engine.RunCheck(ctx, TriggerManual)
	require.NoError(t, err)
	require.Empty(t, created)
}

func ptr[T any](v T) *T { return &v }
