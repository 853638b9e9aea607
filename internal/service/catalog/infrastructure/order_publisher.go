// internal/service/catalog/infrastructure/order_publisher.go
package infrastructure

import (
	"context"

	"orderflow/internal/pkg/events"
)

// JSONPublisher 由 mq.Manager 实现
type JSONPublisher interface {
	PublishJSON(ctx context.Context, exchange, routingKey, correlationID string, v any) error
}

// AMQPOrderPublisher 把 order-created 事件发布到 fanout exchange，由它分发给持久化与通知两个队列
type AMQPOrderPublisher struct {
	publisher JSONPublisher
	exchange  string
}

func NewAMQPOrderPublisher(publisher JSONPublisher, exchange string) *AMQPOrderPublisher {
	return &AMQPOrderPublisher{publisher: publisher, exchange: exchange}
}

func (p *AMQPOrderPublisher) PublishOrderCreated(ctx context.Context, evt events.OrderCreated) error {
	return p.publisher.PublishJSON(ctx, p.exchange, "", evt.CorrelationID, evt)
}
