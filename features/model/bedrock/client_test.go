package bedrock

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"

	"goa.design/checkin/runtime/checkin/model"
)

type stubRuntimeClient struct {
	input *bedrockruntime.ConverseInput
	out   *bedrockruntime.ConverseOutput
	err   error
}

func (s *stubRuntimeClient) Converse(_ context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	s.input = in
	return s.out, s.err
}

func TestComplete(t *testing.T) {
	rt := &stubRuntimeClient{out: &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{Value: types.Message{
			Role:    types.ConversationRoleAssistant,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: "Good morning! Ready for the day?"}},
		}},
		StopReason: types.StopReasonEndTurn,
		Usage:      &types.TokenUsage{InputTokens: aws.Int32(12), OutputTokens: aws.Int32(8), TotalTokens: aws.Int32(20)},
	}}
	client, err := New(Options{Runtime: rt, DefaultModel: "anthropic.claude-haiku", MaxTokens: 64, Temperature: 0.6})
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), model.UserPrompt("system", "hello"))
	require.NoError(t, err)
	require.Equal(t, "Good morning! Ready for the day?", resp.Text)
	require.Equal(t, 20, resp.Usage.TotalTokens)
	require.Equal(t, "end_turn", resp.StopReason)

	require.Equal(t, "anthropic.claude-haiku", aws.ToString(rt.input.ModelId))
	require.Len(t, rt.input.System, 1)
	require.Len(t, rt.input.Messages, 1)
	require.Equal(t, int32(64), aws.ToInt32(rt.input.InferenceConfig.MaxTokens))
	require.InDelta(t, 0.6, aws.ToFloat32(rt.input.InferenceConfig.Temperature), 0.001)
}

func TestCompleteEmptyOutput(t *testing.T) {
	client, err := New(Options{Runtime: &stubRuntimeClient{out: &bedrockruntime.ConverseOutput{}}, DefaultModel: "m"})
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), model.UserPrompt("", "hello"))
	require.ErrorIs(t, err, model.ErrEmptyResponse)
}

func TestIsRateLimited_IdempotentOnSentinel(t *testing.T) {
	require.True(t, isRateLimited(model.ErrRateLimited))
	require.True(t, isRateLimited(fmt.Errorf("provider: %w", model.ErrRateLimited)))
	require.False(t, isRateLimited(nil))
}

func TestComplete_WrapsThrottling(t *testing.T) {
	rt := &stubRuntimeClient{err: &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}}
	client, err := New(Options{Runtime: rt, DefaultModel: "m"})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), model.UserPrompt("", "hello"))
	require.ErrorIs(t, err, model.ErrRateLimited)
	pe, ok := model.AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, "bedrock", pe.Provider())
	require.True(t, pe.Retryable())
}

func TestComplete_UnclassifiedError(t *testing.T) {
	rt := &stubRuntimeClient{err: &smithy.GenericAPIError{Code: "ValidationException", Message: "bad model"}}
	client, err := New(Options{Runtime: rt, DefaultModel: "m"})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), model.UserPrompt("", "hello"))
	pe, ok := model.AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, "ValidationException", pe.Code())
	require.False(t, pe.Retryable())
	require.NotErrorIs(t, err, model.ErrRateLimited)
}
