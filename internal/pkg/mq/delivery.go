// internal/pkg/mq/delivery.go
package mq

import (
	"strconv"
	"sync"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// 消息头常量，重试与死信流程共用
const (
	HeaderRetryCount       = "x-retry-count"
	HeaderLastError        = "x-last-error"
	HeaderOriginalQueue    = "x-original-queue"
	HeaderExceptionMessage = "x-exception-message"
	HeaderFailedAt         = "x-failed-at"
	HeaderCorrelationID    = "x-correlation-id"
)

// Delivery 包装 amqp.Delivery，保证一条消息只会被确认（ack/reject）一次。
// 处理器可以提前自行 Ack，消费者随后不会重复确认。
type Delivery struct {
	Queue string

	raw     amqp.Delivery
	mu      sync.Mutex
	settled bool
}

func NewDelivery(queue string, raw amqp.Delivery) *Delivery {
	return &Delivery{Queue: queue, raw: raw}
}

func (d *Delivery) Body() []byte          { return d.raw.Body }
func (d *Delivery) Headers() amqp.Table   { return d.raw.Headers }
func (d *Delivery) CorrelationID() string { return d.raw.CorrelationId }
func (d *Delivery) MessageID() string     { return d.raw.MessageId }

// RetryCount 读取 x-retry-count，缺失或无法解析时为 0
func (d *Delivery) RetryCount() int {
	if d.raw.Headers == nil {
		return 0
	}
	switch v := d.raw.Headers[HeaderRetryCount].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

func (d *Delivery) Ack() error {
	return d.settle(func() error { return d.raw.Ack(false) })
}

func (d *Delivery) Reject(requeue bool) error {
	return d.settle(func() error { return d.raw.Reject(requeue) })
}

func (d *Delivery) Settled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settled
}

func (d *Delivery) settle(fn func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return nil
	}
	if d.raw.Acknowledger == nil {
		return errors.New("mq: delivery has no acknowledger")
	}
	d.settled = true
	return fn()
}
