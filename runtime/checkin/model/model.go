// Package model provides the provider-agnostic text generation contract used
// by the message crafter. Implementations live under features/model and wrap
// provider SDKs (Anthropic, OpenAI, Bedrock) behind Client.
package model

import (
	"context"
	"errors"
	"strings"
)

type (
	// Client generates a single completion. Implementations must be safe for
	// concurrent use and honor ctx cancellation and deadlines.
	Client interface {
		// Complete sends the request to the provider and returns the generated
		// text. Errors indicate the provider is unavailable, throttling, or
		// rejected the request; callers treat all of them as "no generation".
		Complete(ctx context.Context, req *Request) (*Response, error)
	}

	// Request captures the normalized parameters of a generation.
	Request struct {
		// Model is the provider-specific model identifier. Empty selects the
		// client default.
		Model string
		// System is the system prompt.
		System string
		// Messages is the ordered conversation sent after the system prompt.
		Messages []Message
		// Temperature controls sampling. Zero uses the provider default.
		Temperature float32
		// MaxTokens caps the completion length. Zero uses the client default.
		MaxTokens int
	}

	// Message is one chat turn.
	Message struct {
		Role ConversationRole
		Text string
	}

	// Response is the generated completion.
	Response struct {
		// Text is the concatenated text of the completion.
		Text string
		// Usage reports token usage when the provider returns it.
		Usage TokenUsage
		// StopReason is the provider stop reason, when known.
		StopReason string
	}

	// TokenUsage records prompt and completion token counts.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
		TotalTokens  int
	}

	// ConversationRole is the role of a chat message.
	ConversationRole string
)

const (
	ConversationRoleUser      ConversationRole = "user"
	ConversationRoleAssistant ConversationRole = "assistant"
)

var (
	// ErrRateLimited is returned (possibly wrapped) when the provider or a
	// local limiter throttles the request.
	ErrRateLimited = errors.New("model: rate limited")

	// ErrEmptyResponse is returned when the provider answers without text.
	ErrEmptyResponse = errors.New("model: empty response")
)

// UserPrompt builds a request with a system prompt and a single user message.
func UserPrompt(system, user string) *Request {
	return &Request{
		System:   system,
		Messages: []Message{{Role: ConversationRoleUser, Text: user}},
	}
}

// TextLen returns the number of characters in the system prompt and messages.
func (r *Request) TextLen() int {
	n := len(r.System)
	for _, m := range r.Messages {
		n += len(m.Text)
	}
	return n
}

// JoinText concatenates non-empty text fragments with no separator and trims
// the result. Adapters use it to flatten multi-block completions.
func JoinText(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p)
	}
	return strings.TrimSpace(b.String())
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req *Request) (*Response, error)

// Complete calls f.
func (f ClientFunc) Complete(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
