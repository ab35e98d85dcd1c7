package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/checkin/runtime/checkin/model"
)

type fakeClient struct {
	completeErr   error
	completeCalls int
}

func (f *fakeClient) Complete(_ context.Context, _ *model.Request) (*model.Response, error) {
	f.completeCalls++
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	return &model.Response{Text: "ok", Usage: model.TokenUsage{TotalTokens: 3}}, nil
}

func TestAdaptiveRateLimiter_BackoffOnRateLimited(t *testing.T) {
	limiter := newLocalLimiter(60000, 60000)
	wrapped := limiter.Middleware()(&fakeClient{completeErr: model.ErrRateLimited})

	_, err := wrapped.Complete(context.Background(), model.UserPrompt("", "hello"))
	require.ErrorIs(t, err, model.ErrRateLimited)
	require.Equal(t, 30000.0, limiter.TPM())
}

func TestAdaptiveRateLimiter_BackoffStopsAtFloor(t *testing.T) {
	limiter := newLocalLimiter(1000, 1000)
	wrapped := limiter.Middleware()(&fakeClient{completeErr: model.ErrRateLimited})
	for range 10 {
		_, _ = wrapped.Complete(context.Background(), &model.Request{})
	}
	require.Equal(t, 100.0, limiter.TPM())
}

func TestAdaptiveRateLimiter_ProbeOnSuccess(t *testing.T) {
	limiter := newLocalLimiter(60000, 62000)
	wrapped := limiter.Middleware()(&fakeClient{})

	_, err := wrapped.Complete(context.Background(), model.UserPrompt("", "hello"))
	require.NoError(t, err)
	require.Equal(t, 62000.0, limiter.TPM(), "growth is capped at the ceiling")
}

func TestAdaptiveRateLimiter_OtherErrorsLeaveBudget(t *testing.T) {
	limiter := newLocalLimiter(60000, 60000)
	wrapped := limiter.Middleware()(&fakeClient{completeErr: errors.New("boom")})
	_, err := wrapped.Complete(context.Background(), model.UserPrompt("", "hello"))
	require.Error(t, err)
	require.Equal(t, 60000.0, limiter.TPM())
}

func TestAdaptiveRateLimiter_WaitHonorsContext(t *testing.T) {
	limiter := newLocalLimiter(600, 600)
	client := &fakeClient{}
	wrapped := limiter.Middleware()(client)
	req := &model.Request{MaxTokens: 400}

	_, err := wrapped.Complete(context.Background(), req)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = wrapped.Complete(ctx, req)
	require.Error(t, err, "the bucket is drained and refills at ten tokens per second")
	require.Equal(t, 1, client.completeCalls)
}

func TestCostIsCappedAtBurst(t *testing.T) {
	limiter := newLocalLimiter(300, 300)
	require.Equal(t, 300, limiter.cost(&model.Request{MaxTokens: 10000}))
	require.Equal(t, requestOverhead+2, limiter.cost(model.UserPrompt("", "abcdef")))
}

func TestMiddlewareNilClient(t *testing.T) {
	require.Nil(t, newLocalLimiter(0, 0).Middleware()(nil))
}
