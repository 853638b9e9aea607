package mq

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"orderflow/internal/pkg/config"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTopology() Topology {
	return NewTopology(config.Default().Broker)
}

func newTestManager(b *fakeBroker, attempts int) *Manager {
	return NewManager("amqp://test", testTopology(),
		WithDialer(b.dial),
		WithBackoff(time.Millisecond, 5*time.Millisecond, attempts),
	)
}

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestBackoff(t *testing.T) {
	base, max := 5*time.Second, 30*time.Second
	cases := map[int]time.Duration{
		0:  5 * time.Second,
		1:  5 * time.Second,
		2:  10 * time.Second,
		5:  25 * time.Second,
		6:  30 * time.Second,
		10: 30 * time.Second,
	}
	for attempt, want := range cases {
		assert.Equal(t, want, Backoff(base, max, attempt), "attempt %d", attempt)
	}
}

func TestWaitForChannel_BeforeConnect(t *testing.T) {
	m := newTestManager(newFakeBroker(), 3)
	_, err := m.WaitForChannel(waitCtx(t))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConnect_DeclaresFanoutTopology(t *testing.T) {
	b := newFakeBroker()
	m := newTestManager(b, 3)
	defer m.Close()

	m.Connect()
	_, err := m.WaitForChannel(waitCtx(t))
	require.NoError(t, err)
	assert.True(t, m.Ready())

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, key := range []string{
		"exchange:orders",
		"queue:orders",
		"queue:orders.notifications",
		"queue:products",
		"queue:order-status",
		"queue:orders.dead-letter",
		"queue:products.dead-letter",
		"bind:orders->orders",
		"bind:orders->orders.notifications",
	} {
		assert.True(t, b.declared[key], key)
	}
}

func TestConnect_InitialFailureIsTerminalButManualConnectRecovers(t *testing.T) {
	b := newFakeBroker()
	b.failDials.Store(-1)
	m := newTestManager(b, 4)
	defer m.Close()

	m.Connect()
	_, err := m.WaitForChannel(waitCtx(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 4 attempts")
	assert.EqualValues(t, 4, b.dials.Load())

	// 首轮放弃后不会自行继续重试
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 4, b.dials.Load())

	b.failDials.Store(0)
	m.Connect()
	_, err = m.WaitForChannel(waitCtx(t))
	require.NoError(t, err)
}

func TestConnect_SucceedsWithinRetryBudget(t *testing.T) {
	b := newFakeBroker()
	b.failDials.Store(2)
	m := newTestManager(b, 3)
	defer m.Close()

	m.Connect()
	_, err := m.WaitForChannel(waitCtx(t))
	require.NoError(t, err)
	assert.EqualValues(t, 3, b.dials.Load())
}

func TestPublish_WaitsForReadiness(t *testing.T) {
	b := newFakeBroker()
	b.failDials.Store(2)
	m := newTestManager(b, 5)
	defer m.Close()

	m.Connect()
	err := m.PublishJSON(waitCtx(t), "orders", "", "corr-1", map[string]string{"hello": "world"})
	require.NoError(t, err)

	pubs := b.publishes()
	require.Len(t, pubs, 1)
	assert.Equal(t, "orders", pubs[0].Exchange)
	assert.Equal(t, "corr-1", pubs[0].Msg.CorrelationId)
	assert.Equal(t, uint8(2), pubs[0].Msg.DeliveryMode)
	assert.JSONEq(t, `{"hello":"world"}`, string(pubs[0].Msg.Body))
	assert.NotEmpty(t, pubs[0].Msg.MessageId)
}

func TestPublish_RecoversAfterPublishChannelException(t *testing.T) {
	b := newFakeBroker()
	m := newTestManager(b, 3)
	defer m.Close()

	m.Connect()
	first, err := m.WaitForChannel(waitCtx(t))
	require.NoError(t, err)
	require.True(t, first.(*fakeChannel).inConfirmMode())

	// broker 以 channel 级异常关闭发布 channel，连接保持打开
	first.(*fakeChannel).closeWith(&amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no exchange 'missing'"})

	require.Eventually(t, func() bool {
		ch, err := m.WaitForChannel(waitCtx(t))
		return err == nil && ch != first
	}, time.Second, time.Millisecond)
	assert.True(t, m.Ready())

	for i := 0; i < 3; i++ {
		require.NoError(t, m.PublishJSON(waitCtx(t), "orders", "", "corr-1", map[string]int{"n": i}))
	}
	assert.Len(t, b.publishes(), 3)
	assert.EqualValues(t, 1, b.dials.Load(), "the connection is reused")

	second, err := m.WaitForChannel(waitCtx(t))
	require.NoError(t, err)
	assert.True(t, second.(*fakeChannel).inConfirmMode())
}

func TestPublish_FailsAfterClose(t *testing.T) {
	m := newTestManager(newFakeBroker(), 3)
	m.Connect()
	require.NoError(t, m.Close())

	err := m.Publish(waitCtx(t), Message{RoutingKey: "products"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConsume_ResubscribesAfterDrop(t *testing.T) {
	b := newFakeBroker()
	m := newTestManager(b, 3)
	defer m.Close()

	var received atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := m.Consume(ctx, "products", func(ctx context.Context, d *Delivery) {
		received.Add(1)
		_ = d.Ack()
	})
	require.NoError(t, err)

	m.Connect()
	require.Eventually(t, func() bool { return b.hasConsumer("products") }, time.Second, time.Millisecond)
	require.True(t, b.deliver("products", []byte(`{}`)))
	require.Eventually(t, func() bool { return received.Load() == 1 }, time.Second, time.Millisecond)

	b.dropLatest()
	require.Eventually(t, func() bool { return b.dials.Load() == 2 && b.hasConsumer("products") }, time.Second, time.Millisecond)

	require.True(t, b.deliver("products", []byte(`{}`)))
	require.Eventually(t, func() bool { return received.Load() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, 2, b.acks.ackCount())

	cancel()
	sub.Wait()
}

func TestReconnect_KeepsCyclingAfterSuccess(t *testing.T) {
	b := newFakeBroker()
	m := newTestManager(b, 2)
	defer m.Close()

	m.Connect()
	_, err := m.WaitForChannel(waitCtx(t))
	require.NoError(t, err)

	// 断开后连续失败的次数超过单轮上限，仍然会继续重连
	b.failDials.Store(5)
	b.dropLatest()

	require.Eventually(t, func() bool {
		return b.dials.Load() == 7 && m.Ready()
	}, 2*time.Second, time.Millisecond)
}

func TestWaitForChannel_RespectsContext(t *testing.T) {
	b := newFakeBroker()
	b.failDials.Store(-1)
	m := NewManager("amqp://test", testTopology(),
		WithDialer(b.dial),
		WithBackoff(time.Hour, time.Hour, 10),
	)
	defer m.Close()

	m.Connect()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.WaitForChannel(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
