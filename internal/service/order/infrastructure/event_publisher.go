// internal/service/order/infrastructure/event_publisher.go
package infrastructure

import (
	"context"

	"orderflow/internal/pkg/events"
)

// JSONPublisher 由 mq.Manager 实现
type JSONPublisher interface {
	PublishJSON(ctx context.Context, exchange, routingKey, correlationID string, v any) error
}

// AMQPEventPublisher 通过默认 exchange 把事件直接路由到目标队列
type AMQPEventPublisher struct {
	publisher     JSONPublisher
	productsQueue string
	statusQueue   string
}

func NewAMQPEventPublisher(publisher JSONPublisher, productsQueue, statusQueue string) *AMQPEventPublisher {
	return &AMQPEventPublisher{publisher: publisher, productsQueue: productsQueue, statusQueue: statusQueue}
}

func (p *AMQPEventPublisher) PublishFulfillment(ctx context.Context, evt events.OrderFulfilled) error {
	return p.publisher.PublishJSON(ctx, "", p.productsQueue, evt.CorrelationID, evt)
}

func (p *AMQPEventPublisher) PublishStatusChanged(ctx context.Context, evt events.StatusChanged) error {
	return p.publisher.PublishJSON(ctx, "", p.statusQueue, evt.CorrelationID, evt)
}
