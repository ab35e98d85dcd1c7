// Package temporal runs background check-in wakes as Temporal schedules. Each
// registration creates a schedule that starts the wake workflow at the
// requested interval; the workflow runs a single activity which invokes the
// registered callback in this process. Overlapping wakes are skipped so a slow
// tick never queues up behind itself.
package temporal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"goa.design/checkin/runtime/checkin/engine"
	"goa.design/checkin/runtime/checkin/telemetry"
)

const (
	// WakeWorkflowName is the registered name of the wake workflow.
	WakeWorkflowName = "checkin.wake"
	// WakeActivityName is the registered name of the wake activity.
	WakeActivityName = "checkin.wake.run"

	defaultWakeTimeout = 5 * time.Minute
)

type (
	// Options configures the Scheduler. Either Client or ClientOptions must
	// be set.
	Options struct {
		// Client is a pre-configured Temporal client. The scheduler does not
		// close it.
		Client client.Client
		// ClientOptions dials a client owned by the scheduler when Client is
		// nil. The tracing interceptor is added unless DisableTracing is set.
		ClientOptions *client.Options
		// TaskQueue hosts the wake workflow and activity. Required.
		TaskQueue string
		// WorkerOptions are forwarded to worker.New.
		WorkerOptions worker.Options
		// WakeTimeout bounds a single wake. Defaults to five minutes.
		WakeTimeout time.Duration
		// DisableTracing skips the OpenTelemetry interceptor.
		DisableTracing bool
		// TracerOptions customize the tracing interceptor.
		TracerOptions temporalotel.TracerOptions
		Logger        telemetry.Logger
	}

	// Scheduler implements engine.Scheduler on Temporal schedules.
	Scheduler struct {
		client      client.Client
		closeClient bool
		worker      worker.Worker
		queue       string
		timeout     time.Duration
		logger      telemetry.Logger
		wakes       *Wakes
	}

	// Wakes holds the callbacks run by the wake activity, keyed by
	// registration name.
	Wakes struct {
		mu  sync.RWMutex
		fns map[string]func(context.Context) error
	}

	// WakeInput is the wake workflow argument.
	WakeInput struct {
		Name    string
		Timeout time.Duration
	}

	registration struct {
		scheduler *Scheduler
		name      string
		handle    client.ScheduleHandle
		once      sync.Once
	}
)

var _ engine.Scheduler = (*Scheduler)(nil)

// New connects to Temporal if needed, registers the wake workflow and
// activity on TaskQueue and starts the worker.
func New(opts Options) (*Scheduler, error) {
	if opts.TaskQueue == "" {
		return nil, errors.New("task queue is required")
	}
	var tracer interceptor.Interceptor
	if !opts.DisableTracing {
		t, err := temporalotel.NewTracingInterceptor(opts.TracerOptions)
		if err != nil {
			return nil, fmt.Errorf("configure tracing interceptor: %w", err)
		}
		tracer = t
	}
	c := opts.Client
	closeClient := false
	if c == nil {
		if opts.ClientOptions == nil {
			return nil, errors.New("temporal client or client options are required")
		}
		co := *opts.ClientOptions
		if tracer != nil {
			co.Interceptors = append(co.Interceptors, tracer)
		}
		dialed, err := client.Dial(co)
		if err != nil {
			return nil, fmt.Errorf("dial temporal: %w", err)
		}
		c = dialed
		closeClient = true
	}
	s := newScheduler(c, opts.TaskQueue, opts.WakeTimeout, opts.Logger)
	s.closeClient = closeClient

	wo := opts.WorkerOptions
	if tracer != nil {
		wo.Interceptors = append(wo.Interceptors, tracer)
	}
	w := worker.New(c, opts.TaskQueue, wo)
	w.RegisterWorkflowWithOptions(WakeWorkflow, workflow.RegisterOptions{Name: WakeWorkflowName})
	w.RegisterActivityWithOptions(s.wakes.Run, activity.RegisterOptions{Name: WakeActivityName})
	if err := w.Start(); err != nil {
		if closeClient {
			c.Close()
		}
		return nil, fmt.Errorf("start temporal worker: %w", err)
	}
	s.worker = w
	return s, nil
}

func newScheduler(c client.Client, queue string, timeout time.Duration, logger telemetry.Logger) *Scheduler {
	if timeout <= 0 {
		timeout = defaultWakeTimeout
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Scheduler{
		client:  c,
		queue:   queue,
		timeout: timeout,
		logger:  logger,
		wakes:   NewWakes(),
	}
}

// Register creates (or updates) the schedule named name so fn runs every
// minInterval.
func (s *Scheduler) Register(ctx context.Context, name string, minInterval time.Duration, fn func(context.Context) error) (engine.Registration, error) {
	if name == "" {
		return nil, errors.New("registration name is required")
	}
	if minInterval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if fn == nil {
		return nil, errors.New("wake function is required")
	}
	s.wakes.Set(name, fn)

	spec := client.ScheduleSpec{Intervals: []client.ScheduleIntervalSpec{{Every: minInterval}}}
	sc := s.client.ScheduleClient()
	handle, err := sc.Create(ctx, client.ScheduleOptions{
		ID:      name,
		Spec:    spec,
		Overlap: enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
		Action: &client.ScheduleWorkflowAction{
			ID:        name + "-wake",
			Workflow:  WakeWorkflowName,
			Args:      []any{WakeInput{Name: name, Timeout: s.timeout}},
			TaskQueue: s.queue,
		},
	})
	if errors.Is(err, temporal.ErrScheduleAlreadyRunning) {
		handle = sc.GetHandle(ctx, name)
		err = handle.Update(ctx, client.ScheduleUpdateOptions{
			DoUpdate: func(in client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
				sched := in.Description.Schedule
				sched.Spec = &spec
				return &client.ScheduleUpdate{Schedule: &sched}, nil
			},
		})
	}
	if err != nil {
		s.wakes.Delete(name)
		return nil, fmt.Errorf("create schedule %s: %w", name, err)
	}
	s.logger.Info(ctx, "background wake scheduled", "name", name, "every", minInterval.String())
	return &registration{scheduler: s, name: name, handle: handle}, nil
}

// Close stops the worker and closes the client when the scheduler owns it.
// Schedules are left in place so wakes resume on the next start.
func (s *Scheduler) Close() {
	if s.worker != nil {
		s.worker.Stop()
	}
	if s.closeClient {
		s.client.Close()
	}
}

// Cancel deletes the schedule. It is idempotent.
func (r *registration) Cancel(ctx context.Context) error {
	var err error
	r.once.Do(func() {
		r.scheduler.wakes.Delete(r.name)
		if derr := r.handle.Delete(ctx); derr != nil {
			err = fmt.Errorf("delete schedule %s: %w", r.name, derr)
		}
	})
	return err
}

// NewWakes returns an empty callback table.
func NewWakes() *Wakes {
	return &Wakes{fns: make(map[string]func(context.Context) error)}
}

// Set registers fn under name, replacing any previous callback.
func (w *Wakes) Set(name string, fn func(context.Context) error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fns[name] = fn
}

// Delete removes the callback registered under name.
func (w *Wakes) Delete(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.fns, name)
}

// Run is the wake activity. A wake whose callback is not registered in this
// process fails without retry.
func (w *Wakes) Run(ctx context.Context, name string) error {
	w.mu.RLock()
	fn, ok := w.fns[name]
	w.mu.RUnlock()
	if !ok {
		return temporal.NewNonRetryableApplicationError(fmt.Sprintf("no wake registered for %q", name), "UnknownWake", nil)
	}
	return fn(ctx)
}

// WakeWorkflow runs the wake activity once. Failed wakes are not retried:
// the next scheduled wake runs a fresh tick anyway.
func WakeWorkflow(ctx workflow.Context, in WakeInput) error {
	timeout := in.Timeout
	if timeout <= 0 {
		timeout = defaultWakeTimeout
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	return workflow.ExecuteActivity(ctx, WakeActivityName, in.Name).Get(ctx, nil)
}
