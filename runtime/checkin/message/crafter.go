// Package message phrases check-ins. The Crafter asks a text generation model
// for a short message under strict guardrails and falls back to a fixed pool
// of pre-approved messages whenever generation fails or is rejected.
// Follow-ups to user responses never call the model.
package message

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"goa.design/checkin/runtime/checkin"
	"goa.design/checkin/runtime/checkin/model"
	"goa.design/checkin/runtime/checkin/signal"
)

const (
	// ConfidenceGenerated is reported for validated generated messages.
	ConfidenceGenerated = 0.9
	// ConfidenceFallback is reported for messages drawn from a pool.
	ConfidenceFallback = 0.7

	// DefaultMaxLength is the target message length.
	DefaultMaxLength = 160
	// DefaultMinLength is the shortest accepted message.
	DefaultMinLength = 15
	// DefaultTimeout bounds a single generation call.
	DefaultTimeout = 8 * time.Second
	// DefaultMaxTokens caps the completion length requested from providers.
	DefaultMaxTokens = 120
)

type (
	// Request describes the check-in to phrase.
	Request struct {
		Kind        checkin.Kind
		Signals     []signal.Signal
		User        UserContext
		Constraints Constraints
	}

	// UserContext personalizes prompts and follow-ups.
	UserContext struct {
		Name        string
		TimeOfDay   signal.TimeOfDay
		Preferences string
	}

	// Constraints bound the generated text. Zero values use the defaults.
	Constraints struct {
		MaxLength int
		MinLength int
		Tone      string
	}

	// Result is a phrased message.
	Result struct {
		Message    string
		Confidence float64
		// Generated is true when Message came from the model.
		Generated bool
		// Reason explains why the fallback pool was used.
		Reason string
	}

	// Options configures a Crafter.
	Options struct {
		// Client generates messages. Nil puts the crafter in offline mode where
		// every message comes from the fallback pool.
		Client model.Client
		// Model is passed to the client. Empty uses the client default.
		Model string
		// Timeout bounds each generation call. Defaults to DefaultTimeout.
		Timeout time.Duration
		// MaxTokens caps completions. Defaults to DefaultMaxTokens.
		MaxTokens int
		// Intn returns a uniform integer in [0, n). Defaults to math/rand/v2.
		Intn func(n int) int
	}

	// Crafter produces check-in and follow-up messages. It holds no mutable
	// state and is safe for concurrent use.
	Crafter struct {
		client    model.Client
		model     string
		timeout   time.Duration
		maxTokens int
		intn      func(n int) int
	}
)

// New returns a Crafter configured with opts.
func New(opts Options) *Crafter {
	c := &Crafter{
		client:    opts.Client,
		model:     opts.Model,
		timeout:   opts.Timeout,
		maxTokens: opts.MaxTokens,
		intn:      opts.Intn,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.maxTokens <= 0 {
		c.maxTokens = DefaultMaxTokens
	}
	if c.intn == nil {
		c.intn = rand.IntN
	}
	return c
}

// Offline reports whether the crafter has no model client.
func (c *Crafter) Offline() bool { return c.client == nil }

// Craft phrases a check-in. It never fails: generation errors, timeouts and
// guardrail rejections all resolve to a fallback pool message. Craft returns
// once the timeout elapses even if the client keeps running.
func (c *Crafter) Craft(ctx context.Context, req Request) Result {
	if c.client == nil {
		return c.fallback(req.Kind, "offline")
	}
	cons := req.Constraints.withDefaults()
	gctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	mreq := model.UserPrompt(SystemPrompt(cons), UserPrompt(req))
	mreq.Model = c.model
	mreq.MaxTokens = c.maxTokens
	type completion struct {
		resp *model.Response
		err  error
	}
	out := make(chan completion, 1)
	go func() {
		resp, err := c.client.Complete(gctx, mreq)
		out <- completion{resp, err}
	}()
	var done completion
	select {
	case done = <-out:
	case <-gctx.Done():
		if errors.Is(gctx.Err(), context.DeadlineExceeded) {
			return c.fallback(req.Kind, "generation timed out")
		}
		return c.fallback(req.Kind, "generation cancelled")
	}
	if err := done.err; err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return c.fallback(req.Kind, "generation timed out")
		}
		if pe, ok := model.AsProviderError(err); ok {
			return c.fallback(req.Kind, pe.Reason())
		}
		return c.fallback(req.Kind, fmt.Sprintf("generation failed: %v", err))
	}
	if done.resp == nil {
		return c.fallback(req.Kind, model.ErrEmptyResponse.Error())
	}
	text := clean(done.resp.Text)
	if text == "" {
		return c.fallback(req.Kind, model.ErrEmptyResponse.Error())
	}
	if err := Validate(text, cons); err != nil {
		return c.fallback(req.Kind, err.Error())
	}
	return Result{Message: text, Confidence: ConfidenceGenerated, Generated: true}
}

// FollowUp picks a reply to a user response from the fixed follow-up table.
func (c *Crafter) FollowUp(kind checkin.Kind, sentiment checkin.Sentiment, user UserContext) string {
	pool := FollowUpPool(kind, sentiment)
	return personalize(pool[c.intn(len(pool))], user.Name)
}

func (c *Crafter) fallback(kind checkin.Kind, reason string) Result {
	pool := FallbackPool(kind)
	return Result{
		Message:    pool[c.intn(len(pool))],
		Confidence: ConfidenceFallback,
		Reason:     reason,
	}
}

func (c Constraints) withDefaults() Constraints {
	if c.MaxLength <= 0 {
		c.MaxLength = DefaultMaxLength
	}
	if c.MinLength <= 0 {
		c.MinLength = DefaultMinLength
	}
	return c
}
