// Package hooks fans out check-in engine events to observers. Delivery is
// synchronous in the publisher's goroutine and follows registration order.
package hooks

import (
	"context"
	"errors"
	"sync"
)

type (
	// Bus publishes engine events to registered subscribers.
	Bus interface {
		// Publish delivers event to every registered subscriber in
		// registration order. Delivery continues past failing subscribers;
		// their errors are joined and returned.
		Publish(ctx context.Context, event Event) error

		// Register adds sub and returns a Subscription that unregisters it
		// when closed. It returns an error if sub is nil.
		Register(sub Subscriber) (Subscription, error)
	}

	// Subscriber reacts to published events.
	Subscriber interface {
		HandleEvent(ctx context.Context, event Event) error
	}

	// SubscriberFunc adapts a function to Subscriber.
	SubscriberFunc func(ctx context.Context, event Event) error

	// Subscription is an active registration. Close is idempotent and safe
	// for concurrent use; it always returns nil.
	Subscription interface {
		Close() error
	}

	bus struct {
		mu   sync.RWMutex
		seq  uint64
		subs []*subscription
	}

	subscription struct {
		bus  *bus
		id   uint64
		sub  Subscriber
		once sync.Once
	}
)

// NewBus returns an empty bus.
func NewBus() Bus {
	return &bus{}
}

// HandleEvent calls f.
func (f SubscriberFunc) HandleEvent(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Publish snapshots the subscribers before delivering, so registrations and
// closes during delivery take effect on the next event.
func (b *bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	subs := make([]*subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()
	var errs []error
	for _, s := range subs {
		if err := s.sub.HandleEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *bus) Register(sub Subscriber) (Subscription, error) {
	if sub == nil {
		return nil, errors.New("subscriber is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	s := &subscription{bus: b, id: b.seq, sub: sub}
	b.subs = append(b.subs, s)
	return s, nil
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		for i, other := range s.bus.subs {
			if other.id == s.id {
				s.bus.subs = append(s.bus.subs[:i:i], s.bus.subs[i+1:]...)
				break
			}
		}
	})
	return nil
}
