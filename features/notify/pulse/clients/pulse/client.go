// Package pulse opens the Redis backed Pulse streams that carry check-in
// notifications, caregiver alerts and engine events. Stream handles are
// created once per stream name and reused by every publish.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"
)

type (
	// Options configures New.
	Options struct {
		// Redis is the connection shared by all streams. Required.
		Redis *redis.Client
		// StreamMaxLen caps each stream. Zero keeps the Pulse default.
		StreamMaxLen int
		// OperationTimeout applies to each Add. Zero disables it.
		OperationTimeout time.Duration
	}

	// Client hands out stream handles by name.
	Client interface {
		Stream(name string) (Stream, error)
	}

	// Stream is a single check-in stream.
	Stream interface {
		// Add appends payload as an event and returns the entry id.
		Add(ctx context.Context, event string, payload []byte) (string, error)
		// NewSink joins the consumer group name.
		NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error)
	}

	// Sink reads a stream as part of a consumer group.
	Sink interface {
		Subscribe() <-chan *streaming.Event
		Ack(context.Context, *streaming.Event) error
		Close(context.Context)
	}

	streams struct {
		rdb     *redis.Client
		opts    []streamopts.Stream
		timeout time.Duration

		mu      sync.Mutex
		handles map[string]*stream
	}

	stream struct {
		*streaming.Stream
		name    string
		timeout time.Duration
	}

	consumer struct {
		*streaming.Sink
	}
)

// New returns a Client that shares opts.Redis across streams.
func New(opts Options) (Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("pulse: redis client is required")
	}
	c := &streams{
		rdb:     opts.Redis,
		timeout: opts.OperationTimeout,
		handles: make(map[string]*stream),
	}
	if opts.StreamMaxLen > 0 {
		c.opts = append(c.opts, streamopts.WithStreamMaxLen(opts.StreamMaxLen))
	}
	return c, nil
}

// Stream returns the cached handle for name, opening it on first use.
func (c *streams) Stream(name string) (Stream, error) {
	if name == "" {
		return nil, errors.New("pulse: stream name is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.handles[name]; ok {
		return s, nil
	}
	str, err := streaming.NewStream(name, c.rdb, c.opts...)
	if err != nil {
		return nil, fmt.Errorf("pulse: open stream %s: %w", name, err)
	}
	s := &stream{Stream: str, name: name, timeout: c.timeout}
	c.handles[name] = s
	return s, nil
}

func (s *stream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if event == "" {
		return "", errors.New("pulse: event name is required")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	id, err := s.Stream.Add(ctx, event, payload)
	if err != nil {
		return "", fmt.Errorf("pulse: add %s to %s: %w", event, s.name, err)
	}
	return id, nil
}

func (s *stream) NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error) {
	sink, err := s.Stream.NewSink(ctx, name, opts...)
	if err != nil {
		return nil, fmt.Errorf("pulse: join %s on %s: %w", name, s.name, err)
	}
	return consumer{Sink: sink}, nil
}

func (c consumer) Close(ctx context.Context) {
	c.Sink.Close(ctx)
}
