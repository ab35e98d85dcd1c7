package middleware

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/checkin/runtime/checkin/model"
	"goa.design/pulse/rmap"
)

type fakeBudgetMap struct {
	mu     sync.Mutex
	values map[string]string
	ch     chan rmap.EventKind
}

func newFakeBudgetMap() *fakeBudgetMap {
	return &fakeBudgetMap{
		values: make(map[string]string),
		ch:     make(chan rmap.EventKind, 1),
	}
}

func (m *fakeBudgetMap) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *fakeBudgetMap) SetIfNotExists(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value
	m.notify()
	return true, nil
}

func (m *fakeBudgetMap) TestAndSet(_ context.Context, key, test, value string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.values[key]
	if !ok || cur != test {
		return cur, nil
	}
	m.values[key] = value
	m.notify()
	return cur, nil
}

func (m *fakeBudgetMap) Subscribe() <-chan rmap.EventKind {
	return m.ch
}

func (m *fakeBudgetMap) set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	m.notify()
}

func (m *fakeBudgetMap) notify() {
	select {
	case m.ch <- rmap.EventChange:
	default:
	}
}

func TestSharedLimiter_SeedsMap(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := newFakeBudgetMap()
	lim := newSharedLimiter(ctx, m, "crafter", 40000, 40000)
	v, ok := m.Get("crafter")
	require.True(t, ok)
	require.Equal(t, "40000", v)
	require.Equal(t, 40000.0, lim.TPM())
}

func TestSharedLimiter_BackoffUpdatesSharedMap(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := newFakeBudgetMap()
	const key = "crafter"
	m.values[key] = strconv.Itoa(80000)

	lim := newSharedLimiter(ctx, m, key, 80000, 80000)
	wrapped := lim.Middleware()(&fakeClient{completeErr: model.ErrRateLimited})
	_, _ = wrapped.Complete(context.Background(), model.UserPrompt("", "hello"))

	require.Eventually(t, func() bool {
		v, ok := m.Get(key)
		if !ok {
			return false
		}
		cur, err := strconv.Atoi(v)
		return err == nil && cur < 80000
	}, time.Second, 5*time.Millisecond)
}

func TestSharedLimiter_AdoptsRemoteBudget(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := newFakeBudgetMap()
	const key = "crafter"
	lim := newSharedLimiter(ctx, m, key, 50000, 50000)

	m.set(key, "20000")
	require.Eventually(t, func() bool { return lim.TPM() == 20000 }, time.Second, 5*time.Millisecond)
}

func TestSharedLimiter_NoKeyIsLocal(t *testing.T) {
	lim := newSharedLimiter(context.Background(), newFakeBudgetMap(), "", 1000, 1000)
	require.Nil(t, lim.changed)
}
