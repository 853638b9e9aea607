package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"orderflow/internal/pkg/mq"
	"orderflow/internal/service/deadletter/application"

	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestQueueConsumer_ReportsAndSucceeds(t *testing.T) {
	monitor := application.NewMonitor(10)
	c := NewQueueConsumer(monitor)

	d := mq.NewDelivery("orders.dead-letter", amqp.Delivery{
		CorrelationId: "corr-1",
		Headers: amqp.Table{
			mq.HeaderOriginalQueue:    "orders",
			mq.HeaderExceptionMessage: "invalid order",
		},
	})
	require.NoError(t, c.Handle(context.Background(), d))

	recent := monitor.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, "amqp", recent[0].Source)
	assert.Equal(t, "orders", recent[0].Queue)
	assert.Equal(t, "invalid order", recent[0].Reason)
}

// fakeReader 依次返回预置消息，耗尽后阻塞到 ctx 取消
type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []kafka.Message
	closed    bool
	failOnce  bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if r.failOnce {
		r.failOnce = false
		r.mu.Unlock()
		return kafka.Message{}, errors.New("coordinator not available")
	}
	if len(r.pending) > 0 {
		msg := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) Config() kafka.ReaderConfig {
	return kafka.ReaderConfig{Topic: "orderflow.dead-letter"}
}

func (r *fakeReader) commitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

func TestTopicConsumer_ReportsAndCommits(t *testing.T) {
	reader := &fakeReader{
		failOnce: true,
		pending: []kafka.Message{
			{Key: []byte("corr-1"), Value: []byte(`{}`), Headers: []kafka.Header{{Key: mq.HeaderOriginalQueue, Value: []byte("products")}}},
			{Key: []byte("corr-2"), Value: []byte(`{}`), Headers: []kafka.Header{{Key: mq.HeaderOriginalQueue, Value: []byte("order-status")}}},
		},
	}
	monitor := application.NewMonitor(10)
	c := NewTopicConsumer(reader, monitor)

	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool { return reader.commitCount() == 2 }, time.Second, time.Millisecond)

	c.Stop(context.Background())
	assert.True(t, reader.closed)

	recent := monitor.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, "kafka", recent[0].Source)
	assert.Equal(t, "order-status", recent[0].Queue)
	assert.Equal(t, "corr-1", recent[1].CorrelationID)
}

func TestDeadLetterHandler_List(t *testing.T) {
	monitor := application.NewMonitor(10)
	monitor.Report(context.Background(), "amqp", mq.DeadLetter{Queue: "orders", CorrelationID: "a"})
	monitor.Report(context.Background(), "amqp", mq.DeadLetter{Queue: "products", CorrelationID: "b"})
	monitor.Report(context.Background(), "amqp", mq.DeadLetter{Queue: "orders", CorrelationID: "c"})

	r := gin.New()
	NewDeadLetterHandler(monitor).RegisterRoutes(r)

	get := func(url string) (*httptest.ResponseRecorder, map[string]any) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, url, nil))
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		return w, body
	}

	w, body := get("/dead-letters")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, body["count"])

	_, body = get("/dead-letters?queue=orders&limit=1")
	assert.EqualValues(t, 1, body["count"])
	letters := body["deadLetters"].([]any)
	assert.Equal(t, "c", letters[0].(map[string]any)["correlationId"])

	w, _ = get("/dead-letters?limit=-1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
