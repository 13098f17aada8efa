package bus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		received := make(chan *domain.Message, 1)

		_, err := bus.Subscribe(ctx, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			received <- msg
			return nil
		})
		require.NoError(t, err)

		require.NoError(t, bus.Publish(ctx, domain.TopicAlert, []byte("hello")))

		select {
		case msg := <-received:
			assert.Equal(t, "hello", string(msg.Payload))
			assert.Equal(t, domain.TopicAlert, msg.Topic)
			assert.NotEmpty(t, msg.ID)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		var submitted, completed atomic.Int32

		_, err := bus.Subscribe(ctx, "isolation.submitted", func(ctx context.Context, msg *domain.Message) error {
			submitted.Add(1)
			return nil
		})
		require.NoError(t, err)
		_, err = bus.Subscribe(ctx, "isolation.completed", func(ctx context.Context, msg *domain.Message) error {
			completed.Add(1)
			return nil
		})
		require.NoError(t, err)

		require.NoError(t, bus.Publish(ctx, "isolation.submitted", []byte("msg1")))

		assert.Eventually(t, func() bool { return submitted.Load() == 1 }, time.Second, 5*time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, int32(0), completed.Load())
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32

		sub, err := bus.Subscribe(ctx, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})
		require.NoError(t, err)

		require.NoError(t, bus.Publish(ctx, "unsub.topic", []byte("msg1")))
		assert.Eventually(t, func() bool { return count.Load() == 1 }, time.Second, 5*time.Millisecond)

		require.NoError(t, sub.Unsubscribe())

		require.NoError(t, bus.Publish(ctx, "unsub.topic", []byte("msg2")))
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, int32(1), count.Load())
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		var count1, count2 atomic.Int32

		_, err := bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count1.Add(1)
			return nil
		})
		require.NoError(t, err)
		_, err = bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count2.Add(1)
			return nil
		})
		require.NoError(t, err)

		require.NoError(t, bus.Publish(ctx, "multi.topic", []byte("broadcast")))

		assert.Eventually(t, func() bool {
			return count1.Load() == 1 && count2.Load() == 1
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, bus.Ping(ctx))
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, err := bus.Subscribe(ctx, "my.topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, "my.topic", sub.Topic())
	})
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)
	ctx := context.Background()

	_, err := bus.Subscribe(ctx, "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close(), "close is idempotent")

	assert.ErrorIs(t, bus.Publish(ctx, "close.topic", []byte("data")), ErrClosed)
	assert.ErrorIs(t, bus.Ping(ctx), ErrClosed)

	_, err = bus.Subscribe(ctx, "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPublishJSON(t *testing.T) {
	bus := NewChannelBus(10)
	defer bus.Close()
	ctx := context.Background()

	received := make(chan domain.BatchCompletion, 1)
	_, err := bus.Subscribe(ctx, domain.TopicBatchCompleted, func(ctx context.Context, msg *domain.Message) error {
		var c domain.BatchCompletion
		if err := Decode(msg, &c); err != nil {
			return err
		}
		received <- c
		return nil
	})
	require.NoError(t, err)

	sent := domain.BatchCompletion{BatchSummary: domain.BatchSummary{BatchID: "b-1", Count: 3, FraudCount: 1}}
	require.NoError(t, PublishJSON(ctx, bus, domain.TopicBatchCompleted, sent))

	select {
	case got := <-received:
		assert.Equal(t, sent, got)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for completion")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	var c domain.BatchCompletion
	err := Decode(&domain.Message{Topic: "x", Payload: []byte("{not json")}, &c)
	assert.Error(t, err)
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		require.NoError(t, err)
		defer bus.Close()

		assert.IsType(t, &ChannelBus{}, bus)
	})

	t.Run("DefaultsToChannel", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{})
		require.NoError(t, err)
		defer bus.Close()

		assert.IsType(t, &ChannelBus{}, bus)
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		_, err := New(domain.EventBusConfig{Type: "kafka"})
		assert.Error(t, err)
	})
}

func TestChannelBusReportsFullBuffer(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()

	ctx := context.Background()
	const topic = "full.topic"

	var delivered atomic.Int32
	release := make(chan struct{})
	defer close(release)

	_, err := bus.Subscribe(ctx, topic, func(ctx context.Context, msg *domain.Message) error {
		delivered.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	require.NoError(t, err)

	// One message is held by the handler, the next waits in the buffer.
	require.NoError(t, bus.Publish(ctx, topic, []byte("first")))
	require.Eventually(t, func() bool { return delivered.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, bus.Publish(ctx, topic, []byte("second")))

	err = bus.Publish(ctx, topic, []byte("third"))
	assert.ErrorIs(t, err, ErrBufferFull)
	assert.ErrorIs(t, PublishJSON(ctx, bus, topic, map[string]string{"n": "fourth"}), ErrBufferFull)

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rr.Body.String(), `harrier_bus_dropped_total{topic="full.topic"} 2`)

	t.Run("NoSubscribers", func(t *testing.T) {
		assert.NoError(t, bus.Publish(ctx, "nobody.topic", []byte("x")))
	})
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()

	var received atomic.Int32
	const messageCount = 100

	var wg sync.WaitGroup
	wg.Add(messageCount)

	_, err := bus.Subscribe(ctx, "load.topic", func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		wg.Done()
		return nil
	})
	require.NoError(t, err)

	for i := 0; i < messageCount; i++ {
		require.NoError(t, bus.Publish(ctx, "load.topic", []byte("msg")))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		assert.Equal(t, int32(messageCount), received.Load())
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout: received %d/%d messages", received.Load(), messageCount)
	}
}
