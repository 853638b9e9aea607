// internal/service/deadletter/application/monitor.go
package application

import (
	"context"
	"strconv"
	"sync"
	"time"

	"orderflow/internal/pkg/logger"
	"orderflow/internal/pkg/metrics"
	"orderflow/internal/pkg/mq"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
)

const defaultHistory = 100

// Record 是一条被上报的死信
type Record struct {
	Source        string    `json:"source"`
	Queue         string    `json:"queue"`
	CorrelationID string    `json:"correlationId"`
	RetryCount    int       `json:"retryCount"`
	Reason        string    `json:"reason"`
	FailedAt      time.Time `json:"failedAt"`
	ReceivedAt    time.Time `json:"receivedAt"`
	Body          string    `json:"body"`
}

// Monitor 把死信记录为 CRITICAL 日志并保留最近的若干条供查询
type Monitor struct {
	mu      sync.Mutex
	recent  []Record
	history int
	now     func() time.Time
}

func NewMonitor(history int) *Monitor {
	if history <= 0 {
		history = defaultHistory
	}
	return &Monitor{history: history, now: time.Now}
}

// Report 记录死信详情，使用结构化日志便于后续分析
func (m *Monitor) Report(ctx context.Context, source string, dl mq.DeadLetter) Record {
	rec := Record{
		Source:        source,
		Queue:         dl.Queue,
		CorrelationID: dl.CorrelationID,
		RetryCount:    dl.RetryCount,
		Reason:        dl.Reason,
		FailedAt:      dl.FailedAt,
		ReceivedAt:    m.now().UTC(),
		Body:          string(dl.Body),
	}

	logger.Ctx(ctx).Error().
		Str("reason", "dead_letter_message_received").
		Str("source", source).
		Str("original_queue", rec.Queue).
		Str("correlation_id", rec.CorrelationID).
		Int("retry_count", rec.RetryCount).
		Str("exception_message", rec.Reason).
		Time("failed_at", rec.FailedAt).
		Str("value", rec.Body).
		Msg("🚨 CRITICAL: Dead letter message received")

	metrics.DeadLettersObserved.WithLabelValues(rec.Queue, source).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.recent = append(m.recent, rec)
	if over := len(m.recent) - m.history; over > 0 {
		m.recent = append([]Record(nil), m.recent[over:]...)
	}
	return rec
}

// Send 实现 mq.DeadLetterSink，用于监控进程自身无法处理的消息
func (m *Monitor) Send(ctx context.Context, dl mq.DeadLetter) error {
	m.Report(ctx, "monitor", dl)
	return nil
}

// Recent 按到达顺序倒序返回最近的死信
func (m *Monitor) Recent() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.recent))
	for i := len(m.recent) - 1; i >= 0; i-- {
		out = append(out, m.recent[i])
	}
	return out
}

// FromAMQP 从死信队列中的消息还原 DeadLetter
func FromAMQP(queue string, d *mq.Delivery) mq.DeadLetter {
	headers := mq.AMQPHeaderCarrier(d.Headers())
	dl := mq.DeadLetter{
		Queue:         headers.Get(mq.HeaderOriginalQueue),
		Body:          d.Body(),
		Headers:       amqp.Table(headers),
		CorrelationID: d.CorrelationID(),
		RetryCount:    d.RetryCount(),
		Reason:        headers.Get(mq.HeaderExceptionMessage),
		FailedAt:      parseTime(headers.Get(mq.HeaderFailedAt)),
	}
	if dl.Queue == "" {
		dl.Queue = queue
	}
	return dl
}

// FromKafka 从死信主题中的消息还原 DeadLetter
func FromKafka(msg kafka.Message) mq.DeadLetter {
	headers := mq.KafkaHeaderCarrier(msg.Headers)
	retries, _ := strconv.Atoi(headers.Get(mq.HeaderRetryCount))
	correlationID := headers.Get(mq.HeaderCorrelationID)
	if correlationID == "" {
		correlationID = string(msg.Key)
	}
	failedAt := parseTime(headers.Get(mq.HeaderFailedAt))
	if failedAt.IsZero() {
		failedAt = msg.Time
	}
	return mq.DeadLetter{
		Queue:         headers.Get(mq.HeaderOriginalQueue),
		Body:          msg.Value,
		CorrelationID: correlationID,
		RetryCount:    retries,
		Reason:        headers.Get(mq.HeaderExceptionMessage),
		FailedAt:      failedAt,
	}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
