package temporal

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"
)

func newWakeEnv(wakes *Wakes) *testsuite.TestWorkflowEnvironment {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflowWithOptions(WakeWorkflow, workflow.RegisterOptions{Name: WakeWorkflowName})
	env.RegisterActivityWithOptions(wakes.Run, activity.RegisterOptions{Name: WakeActivityName})
	return env
}

func TestWakeWorkflowRunsCallback(t *testing.T) {
	wakes := NewWakes()
	var calls atomic.Int32
	wakes.Set("checkin.background", func(context.Context) error {
		calls.Add(1)
		return nil
	})
	env := newWakeEnv(wakes)
	env.ExecuteWorkflow(WakeWorkflowName, WakeInput{Name: "checkin.background", Timeout: time.Minute})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	require.EqualValues(t, 1, calls.Load())
}

func TestWakeWorkflowUnknownName(t *testing.T) {
	env := newWakeEnv(NewWakes())
	env.ExecuteWorkflow(WakeWorkflowName, WakeInput{Name: "missing"})
	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, "UnknownWake", appErr.Type())
	require.True(t, appErr.NonRetryable())
}

func TestWakeWorkflowDoesNotRetry(t *testing.T) {
	wakes := NewWakes()
	var calls atomic.Int32
	wakes.Set("w", func(context.Context) error {
		calls.Add(1)
		return errors.New("store unavailable")
	})
	env := newWakeEnv(wakes)
	env.ExecuteWorkflow(WakeWorkflowName, WakeInput{Name: "w"})
	require.Error(t, env.GetWorkflowError())
	require.EqualValues(t, 1, calls.Load())
}

func TestRegisterValidatesArguments(t *testing.T) {
	s := newScheduler(&mocks.Client{}, "checkin", 0, nil)
	ctx := context.Background()
	noop := func(context.Context) error { return nil }
	_, err := s.Register(ctx, "", time.Minute, noop)
	require.EqualError(t, err, "registration name is required")
	_, err = s.Register(ctx, "w", 0, noop)
	require.EqualError(t, err, "interval must be positive")
	_, err = s.Register(ctx, "w", time.Minute, nil)
	require.EqualError(t, err, "wake function is required")
}

func TestRegisterCreatesSkippingSchedule(t *testing.T) {
	c := &mocks.Client{}
	sc := &mocks.ScheduleClient{}
	handle := &mocks.ScheduleHandle{}
	c.On("ScheduleClient").Return(sc)
	sc.On("Create", mock.Anything, mock.MatchedBy(func(o client.ScheduleOptions) bool {
		action, ok := o.Action.(*client.ScheduleWorkflowAction)
		return o.ID == "checkin.background" &&
			o.Overlap == enumspb.SCHEDULE_OVERLAP_POLICY_SKIP &&
			len(o.Spec.Intervals) == 1 && o.Spec.Intervals[0].Every == 15*time.Minute &&
			ok && action.Workflow == WakeWorkflowName && action.TaskQueue == "checkin"
	})).Return(handle, nil).Once()
	handle.On("Delete", mock.Anything).Return(nil).Once()

	s := newScheduler(c, "checkin", 0, nil)
	reg, err := s.Register(context.Background(), "checkin.background", 15*time.Minute, func(context.Context) error { return nil })
	require.NoError(t, err)
	require.NoError(t, s.wakes.Run(context.Background(), "checkin.background"))

	require.NoError(t, reg.Cancel(context.Background()))
	require.NoError(t, reg.Cancel(context.Background()))
	require.Error(t, s.wakes.Run(context.Background(), "checkin.background"))
	c.AssertExpectations(t)
	sc.AssertExpectations(t)
	handle.AssertExpectations(t)
}

func TestRegisterUpdatesExistingSchedule(t *testing.T) {
	c := &mocks.Client{}
	sc := &mocks.ScheduleClient{}
	handle := &mocks.ScheduleHandle{}
	c.On("ScheduleClient").Return(sc)
	sc.On("Create", mock.Anything, mock.Anything).Return(nil, temporal.ErrScheduleAlreadyRunning)
	sc.On("GetHandle", mock.Anything, "w").Return(handle)
	handle.On("Update", mock.Anything, mock.MatchedBy(func(o client.ScheduleUpdateOptions) bool {
		upd, err := o.DoUpdate(client.ScheduleUpdateInput{})
		return err == nil && upd.Schedule.Spec.Intervals[0].Every == time.Hour
	})).Return(nil)

	s := newScheduler(c, "checkin", 0, nil)
	_, err := s.Register(context.Background(), "w", time.Hour, func(context.Context) error { return nil })
	require.NoError(t, err)
	handle.AssertExpectations(t)
}

func TestRegisterFailureForgetsCallback(t *testing.T) {
	c := &mocks.Client{}
	sc := &mocks.ScheduleClient{}
	c.On("ScheduleClient").Return(sc)
	sc.On("Create", mock.Anything, mock.Anything).Return(nil, errors.New("unavailable"))

	s := newScheduler(c, "checkin", 0, nil)
	_, err := s.Register(context.Background(), "w", time.Hour, func(context.Context) error { return nil })
	require.EqualError(t, err, "create schedule w: unavailable")
	require.Error(t, s.wakes.Run(context.Background(), "w"))
}

func TestNewRequiresTaskQueue(t *testing.T) {
	_, err := New(Options{})
	require.EqualError(t, err, "task queue is required")
	_, err = New(Options{TaskQueue: "q", DisableTracing: true})
	require.EqualError(t, err, "temporal client or client options are required")
}
