package pulse

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	streamopts "goa.design/pulse/streaming/options"
)

var (
	testRedis     *redis.Client
	testContainer testcontainers.Container
)

func TestMain(m *testing.M) {
	startRedis()
	code := m.Run()
	if testRedis != nil {
		_ = testRedis.Close()
	}
	if testContainer != nil {
		_ = testContainer.Terminate(context.Background())
	}
	os.Exit(code)
}

func startRedis() {
	ctx := context.Background()
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("docker not available: %v", r)
			}
		}()
		testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "redis:7-alpine",
				ExposedPorts: []string{"6379/tcp"},
				WaitingFor:   wait.ForLog("Ready to accept connections"),
			},
			Started: true,
		})
	}()
	if err != nil {
		fmt.Printf("Docker not available, Pulse tests will be skipped: %v\n", err)
		return
	}
	host, err := testContainer.Host(ctx)
	if err != nil {
		return
	}
	port, err := testContainer.MappedPort(ctx, "6379")
	if err != nil {
		return
	}
	rdb := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return
	}
	testRedis = rdb
}

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	if testRedis == nil {
		t.Skip("Docker not available, skipping Pulse test")
	}
	return testRedis
}

func TestNewRequiresRedis(t *testing.T) {
	_, err := New(Options{})
	require.EqualError(t, err, "pulse: redis client is required")
}

func TestStreamRequiresName(t *testing.T) {
	c, err := New(Options{Redis: redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})})
	require.NoError(t, err)
	_, err = c.Stream("")
	require.EqualError(t, err, "pulse: stream name is required")
}

func TestStreamHandlesAreReused(t *testing.T) {
	c, err := New(Options{Redis: redisClient(t), StreamMaxLen: 100})
	require.NoError(t, err)
	a, err := c.Stream("checkin:test:reuse")
	require.NoError(t, err)
	b, err := c.Stream("checkin:test:reuse")
	require.NoError(t, err)
	require.Same(t, a, b)
	other, err := c.Stream("checkin:test:other")
	require.NoError(t, err)
	require.NotSame(t, a, other)
}

func TestAddAndConsume(t *testing.T) {
	ctx := context.Background()
	c, err := New(Options{Redis: redisClient(t), OperationTimeout: 5 * time.Second})
	require.NoError(t, err)
	str, err := c.Stream("checkin:test:roundtrip")
	require.NoError(t, err)

	_, err = str.Add(ctx, "", []byte("{}"))
	require.EqualError(t, err, "pulse: event name is required")
	id, err := str.Add(ctx, "checkin.created", []byte(`{"id":"c1"}`))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	sink, err := str.NewSink(ctx, "checkin_test", streamopts.WithSinkStartAtOldest())
	require.NoError(t, err)
	defer sink.Close(ctx)
	select {
	case ev := <-sink.Subscribe():
		require.Equal(t, "checkin.created", ev.EventName)
		require.JSONEq(t, `{"id":"c1"}`, string(ev.Payload))
		require.NoError(t, sink.Ack(ctx, ev))
	case <-time.After(10 * time.Second):
		t.Fatal("no event received")
	}
}
