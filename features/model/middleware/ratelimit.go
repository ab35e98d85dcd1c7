// Package middleware provides model.Client middlewares used in front of the
// message crafter: an adaptive token budget that may be shared across
// daemons, and call instrumentation.
package middleware

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"goa.design/checkin/runtime/checkin/model"
	"goa.design/pulse/rmap"
)

// Minimum token cost charged per request on top of the prompt estimate.
const requestOverhead = 200

type (
	// AdaptiveRateLimiter applies an AIMD token bucket on top of a
	// model.Client. It estimates the token cost of each request, blocks
	// callers until capacity is available or ctx ends, halves its
	// tokens-per-minute budget when the provider throttles, and grows it back
	// linearly on success.
	AdaptiveRateLimiter struct {
		mu      sync.Mutex
		limiter *rate.Limiter
		tpm     float64
		floor   float64
		ceiling float64
		step    float64
		// changed runs after every local budget change, outside mu.
		changed func(tpm float64, grew bool)
	}

	limitedClient struct {
		next    model.Client
		limiter *AdaptiveRateLimiter
	}

	// budgetMap is the subset of rmap.Map used to share the budget.
	budgetMap interface {
		Get(key string) (string, bool)
		SetIfNotExists(ctx context.Context, key, value string) (bool, error)
		TestAndSet(ctx context.Context, key, test, value string) (string, error)
		Subscribe() <-chan rmap.EventKind
	}
)

// NewAdaptiveRateLimiter returns a limiter starting at initialTPM tokens per
// minute and never exceeding maxTPM. When m is not nil and key is set, the
// budget is shared with every daemon using the same Pulse replicated map key;
// the watcher goroutine stops when ctx is done.
func NewAdaptiveRateLimiter(ctx context.Context, m *rmap.Map, key string, initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if m == nil {
		return newLocalLimiter(initialTPM, maxTPM)
	}
	return newSharedLimiter(ctx, m, key, initialTPM, maxTPM)
}

func newLocalLimiter(initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if initialTPM <= 0 {
		initialTPM = 20000
	}
	if maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	return &AdaptiveRateLimiter{
		limiter: rate.NewLimiter(rate.Limit(initialTPM/60), int(initialTPM)),
		tpm:     initialTPM,
		floor:   max(initialTPM/10, 1),
		ceiling: maxTPM,
		step:    max(initialTPM/20, 1),
	}
}

// Middleware wraps a client with the limiter.
func (l *AdaptiveRateLimiter) Middleware() func(model.Client) model.Client {
	return func(next model.Client) model.Client {
		if next == nil {
			return nil
		}
		return &limitedClient{next: next, limiter: l}
	}
}

// TPM returns the current tokens-per-minute budget.
func (l *AdaptiveRateLimiter) TPM() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tpm
}

func (c *limitedClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	if err := c.limiter.limiter.WaitN(ctx, c.limiter.cost(req)); err != nil {
		return nil, err
	}
	resp, err := c.next.Complete(ctx, req)
	switch {
	case err == nil:
		c.limiter.adjust(c.limiter.step)
	case errors.Is(err, model.ErrRateLimited):
		c.limiter.halve()
	}
	return resp, err
}

// cost estimates the tokens a request consumes: about one token per three
// characters of prompt, the requested completion length and a fixed overhead.
// The result never exceeds the bucket size so WaitN cannot fail on burst.
func (l *AdaptiveRateLimiter) cost(req *model.Request) int {
	n := requestOverhead
	if req != nil {
		n += req.TextLen()/3 + req.MaxTokens
	}
	if burst := l.limiter.Burst(); n > burst {
		n = burst
	}
	return n
}

func (l *AdaptiveRateLimiter) halve() {
	l.mu.Lock()
	delta := l.tpm/2 - l.tpm
	l.mu.Unlock()
	l.adjust(delta)
}

func (l *AdaptiveRateLimiter) adjust(delta float64) {
	l.mu.Lock()
	next := min(max(l.tpm+delta, l.floor), l.ceiling)
	if next == l.tpm {
		l.mu.Unlock()
		return
	}
	grew := next > l.tpm
	l.setLocked(next)
	cb := l.changed
	l.mu.Unlock()
	if cb != nil {
		cb(next, grew)
	}
}

// replace adopts a budget published by another daemon without notifying the
// shared map back.
func (l *AdaptiveRateLimiter) replace(tpm float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tpm = min(max(tpm, l.floor), l.ceiling)
	if tpm != l.tpm {
		l.setLocked(tpm)
	}
}

func (l *AdaptiveRateLimiter) setLocked(tpm float64) {
	l.tpm = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60))
	l.limiter.SetBurst(int(tpm))
}

func newSharedLimiter(ctx context.Context, m budgetMap, key string, initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if m == nil || key == "" {
		return newLocalLimiter(initialTPM, maxTPM)
	}
	if _, ok := m.Get(key); !ok {
		if _, err := m.SetIfNotExists(ctx, key, strconv.Itoa(int(initialTPM))); err != nil {
			return newLocalLimiter(initialTPM, maxTPM)
		}
	}
	shared := initialTPM
	if v, ok := readBudget(m, key); ok {
		shared = v
	}
	l := newLocalLimiter(shared, maxTPM)
	floor, ceiling, step := l.floor, l.ceiling, l.step
	l.changed = func(_ float64, grew bool) {
		if grew {
			go publishBudget(m, key, func(cur float64) float64 { return min(cur+step, ceiling) })
			return
		}
		go publishBudget(m, key, func(cur float64) float64 { return max(cur/2, floor) })
	}

	events := m.Subscribe()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				if v, ok := readBudget(m, key); ok {
					l.replace(v)
				}
			}
		}
	}()
	return l
}

func readBudget(m budgetMap, key string) (float64, bool) {
	s, ok := m.Get(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// publishBudget applies next to the shared budget with compare-and-swap,
// retrying a few times when another daemon wins the race.
func publishBudget(m budgetMap, key string, next func(float64) float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for range 3 {
		curStr, ok := m.Get(key)
		if !ok {
			return
		}
		cur, err := strconv.ParseFloat(curStr, 64)
		if err != nil || cur <= 0 {
			return
		}
		updated := strconv.Itoa(int(next(cur)))
		if updated == curStr {
			return
		}
		prev, err := m.TestAndSet(ctx, key, curStr, updated)
		if err != nil || prev == curStr {
			return
		}
	}
}
