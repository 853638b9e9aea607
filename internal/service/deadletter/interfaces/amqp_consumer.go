// internal/service/deadletter/interfaces/amqp_consumer.go
package interfaces

import (
	"context"

	"orderflow/internal/pkg/mq"
	"orderflow/internal/service/deadletter/application"
)

// QueueConsumer 消费 <queue>.dead-letter 队列，每条消息记录后直接确认
type QueueConsumer struct {
	monitor *application.Monitor
}

func NewQueueConsumer(monitor *application.Monitor) *QueueConsumer {
	return &QueueConsumer{monitor: monitor}
}

// Handle 永远返回 nil：死信已经是终态，记录即视为处理完成
func (c *QueueConsumer) Handle(ctx context.Context, d *mq.Delivery) error {
	c.monitor.Report(ctx, "amqp", application.FromAMQP(d.Queue, d))
	return nil
}
