// Package engine implements the check-in orchestrator. The Engine owns the
// check-in list, the rule trigger history and the daily counter; it runs the
// rule evaluator on every tick, phrases fired rules through the message
// crafter, persists and announces the resulting check-ins, and handles user
// responses.
//
// All tick entry points (the periodic ticker, foreground transitions,
// background wakes and manual calls) funnel into RunCheck, which is
// serialized. Observers and collaborators are always called without holding
// the engine state lock.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"goa.design/checkin/runtime/checkin"
	"goa.design/checkin/runtime/checkin/audit"
	"goa.design/checkin/runtime/checkin/hooks"
	"goa.design/checkin/runtime/checkin/message"
	"goa.design/checkin/runtime/checkin/notify"
	"goa.design/checkin/runtime/checkin/rule"
	"goa.design/checkin/runtime/checkin/signal"
	"goa.design/checkin/runtime/checkin/store"
	"goa.design/checkin/runtime/checkin/telemetry"
)

// Defaults applied by New to zero-valued tunables.
const (
	DefaultTickInterval          = 15 * time.Minute
	DefaultGlobalMaxPerDay       = 6
	DefaultCheckInTTL            = 4 * time.Hour
	DefaultEnhanceThreshold      = 0.8
	DefaultSnoozeBuffer          = time.Hour
	DefaultBackgroundMinInterval = 15 * time.Minute
)

// Trigger names what started a tick.
type Trigger string

const (
	TriggerPeriodic   Trigger = "periodic"
	TriggerForeground Trigger = "foreground"
	TriggerBackground Trigger = "background"
	TriggerManual     Trigger = "manual"
)

type (
	// Options configures an Engine. Store and Source are required; every
	// other collaborator has a default.
	Options struct {
		Store     store.Store
		Source    signal.Source
		Crafter   *message.Crafter
		Notifier  notify.Notifier
		Caregiver notify.Caregiver
		Audit     audit.Sink
		Logger    telemetry.Logger
		Metrics   telemetry.Metrics
		Tracer    telemetry.Tracer
		Bus       hooks.Bus
		// Catalog defaults to rule.DefaultCatalog.
		Catalog rule.Catalog
		// Clock defaults to time.Now.
		Clock func() time.Time
		// Location is used for quiet hours, rule windows and calendar days.
		// Defaults to time.Local.
		Location *time.Location
		// User personalizes generated messages and follow-ups.
		User message.UserContext
		// NewID generates check-in ids. Defaults to uuid.NewString.
		NewID func() string

		// TickInterval is the periodic tick cadence.
		TickInterval time.Duration
		// GlobalMaxPerDay caps rule check-ins per day on top of the user
		// preference.
		GlobalMaxPerDay int
		// CheckInTTL is how long a check-in stays pending.
		CheckInTTL time.Duration
		// EnhanceThreshold is the crafter confidence above which a crafted
		// message replaces the rule template.
		EnhanceThreshold float64
		// SnoozeBuffer is added to the snooze delay when re-arming the
		// expiry. A negative value disables it.
		SnoozeBuffer time.Duration
		// BackgroundMinInterval is requested from background schedulers.
		BackgroundMinInterval time.Duration
	}

	// RespondResult reports the outcome of Respond.
	RespondResult struct {
		Success  bool   `json:"success"`
		FollowUp string `json:"followUp,omitempty"`
		Reason   string `json:"reason,omitempty"`
	}

	// Scheduler registers a periodic background wake. Platforms only honor a
	// minimum interval.
	Scheduler interface {
		Register(ctx context.Context, name string, minInterval time.Duration, fn func(context.Context) error) (Registration, error)
	}

	// Registration is an active background wake.
	Registration interface {
		Cancel(ctx context.Context) error
	}

	// Engine is the check-in orchestrator.
	Engine struct {
		store     store.Store
		source    signal.Source
		crafter   *message.Crafter
		notifier  notify.Notifier
		caregiver notify.Caregiver
		audit     audit.Sink
		logger    telemetry.Logger
		metrics   telemetry.Metrics
		tracer    telemetry.Tracer
		bus       hooks.Bus
		catalog   rule.Catalog
		clock     func() time.Time
		loc       *time.Location
		user      message.UserContext
		newID     func() string

		tickInterval          time.Duration
		globalMaxPerDay       int
		checkInTTL            time.Duration
		enhanceThreshold      float64
		snoozeBuffer          time.Duration
		backgroundMinInterval time.Duration

		// tickSem serializes RunCheck; waiters give up when their context
		// ends.
		tickSem chan struct{}
		// persistMu orders writes so the last write holds the latest state.
		persistMu sync.Mutex
		// lifeMu guards the ticker goroutine.
		lifeMu  sync.Mutex
		cancel  context.CancelFunc
		done    chan struct{}
		running atomic.Bool

		mu         sync.Mutex
		loaded     bool
		prefs      checkin.Preferences
		live       []checkin.CheckIn
		history    rule.History
		daily      checkin.DailyCount
		state      checkin.EngineState
		background bool
	}
)

// New validates opts and returns an Engine. The engine loads its persisted
// state lazily on Start or on the first RunCheck.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Source == nil {
		return nil, errors.New("signal source is required")
	}
	e := &Engine{
		store:                 opts.Store,
		source:                opts.Source,
		crafter:               opts.Crafter,
		notifier:              opts.Notifier,
		caregiver:             opts.Caregiver,
		audit:                 opts.Audit,
		logger:                opts.Logger,
		metrics:               opts.Metrics,
		tracer:                opts.Tracer,
		bus:                   opts.Bus,
		catalog:               opts.Catalog.Clone(),
		clock:                 opts.Clock,
		loc:                   opts.Location,
		user:                  opts.User,
		newID:                 opts.NewID,
		tickInterval:          opts.TickInterval,
		globalMaxPerDay:       opts.GlobalMaxPerDay,
		checkInTTL:            opts.CheckInTTL,
		enhanceThreshold:      opts.EnhanceThreshold,
		snoozeBuffer:          opts.SnoozeBuffer,
		backgroundMinInterval: opts.BackgroundMinInterval,
		prefs:                 checkin.DefaultPreferences(),
		history:               rule.History{},
		tickSem:               make(chan struct{}, 1),
	}
	if e.logger == nil {
		e.logger = telemetry.NewNoopLogger()
	}
	if e.metrics == nil {
		e.metrics = telemetry.NewNoopMetrics()
	}
	if e.tracer == nil {
		e.tracer = telemetry.NewNoopTracer()
	}
	if e.crafter == nil {
		e.crafter = message.New(message.Options{})
	}
	if e.notifier == nil {
		e.notifier = notify.NewLogNotifier(e.logger)
	}
	if e.caregiver == nil {
		e.caregiver = notify.NewLogCaregiver(e.logger)
	}
	if e.audit == nil {
		e.audit = audit.Noop{}
	}
	if e.bus == nil {
		e.bus = hooks.NewBus()
	}
	if e.catalog == nil {
		e.catalog = rule.DefaultCatalog()
	}
	if err := e.catalog.Validate(); err != nil {
		return nil, err
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.loc == nil {
		e.loc = time.Local
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	if e.tickInterval <= 0 {
		e.tickInterval = DefaultTickInterval
	}
	if e.globalMaxPerDay <= 0 {
		e.globalMaxPerDay = DefaultGlobalMaxPerDay
	}
	if e.checkInTTL <= 0 {
		e.checkInTTL = DefaultCheckInTTL
	}
	if e.enhanceThreshold <= 0 {
		e.enhanceThreshold = DefaultEnhanceThreshold
	}
	if e.snoozeBuffer < 0 {
		e.snoozeBuffer = 0
	} else if e.snoozeBuffer == 0 {
		e.snoozeBuffer = DefaultSnoozeBuffer
	}
	if e.backgroundMinInterval <= 0 {
		e.backgroundMinInterval = DefaultBackgroundMinInterval
	}
	return e, nil
}

// Catalog returns a copy of the rule catalog.
func (e *Engine) Catalog() rule.Catalog {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.catalog.Clone()
}

// EnableRule toggles a catalog rule for the lifetime of the engine.
func (e *Engine) EnableRule(id string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.catalog.Enable(id, enabled)
}

// Subscribe registers fn to receive the pending check-ins after every
// mutation. fn runs synchronously after persistence. An fn that calls back
// into the engine must pass along the ctx it receives. The returned function
// unsubscribes; calling it more than once is safe.
func (e *Engine) Subscribe(fn func(ctx context.Context, pending []checkin.CheckIn)) (unsubscribe func()) {
	sub, err := e.bus.Register(hooks.SubscriberFunc(func(ctx context.Context, ev hooks.Event) error {
		fn(ctx, ev.Pending)
		return nil
	}))
	if err != nil {
		return func() {}
	}
	return func() { _ = sub.Close() }
}

func (e *Engine) now() time.Time {
	return e.clock()
}

func (e *Engine) local(t time.Time) time.Time {
	return t.In(e.loc)
}

func (e *Engine) publish(ctx context.Context, typ hooks.EventType, id string) {
	ev := hooks.Event{Type: typ, CheckInID: id, Pending: e.Pending(), At: e.now()}
	e.metrics.RecordGauge("checkin.pending", float64(len(ev.Pending)))
	if err := e.bus.Publish(ctx, ev); err != nil {
		e.logger.Warn(ctx, "check-in observer failed", "event", string(typ), "err", err)
	}
}

func (e *Engine) userContext(ctx context.Context) message.UserContext {
	u := e.user
	u.TimeOfDay = e.source.TimeOfDay(ctx)
	return u
}
