// internal/pkg/mq/consumer.go
package mq

import (
	"context"
	"fmt"

	"orderflow/internal/pkg/logger"
	"orderflow/internal/pkg/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Handler 处理一条消息的业务逻辑。
// 返回 nil 表示成功；Permanent 错误直接进入死信；其他错误交给 FailureHandler 重试。
type Handler func(ctx context.Context, d *Delivery) error

// Subscriber 由 Manager 实现
type Subscriber interface {
	Consume(ctx context.Context, queue string, fn DeliveryFunc) (*Subscription, error)
}

// Consumer 是一个驱动适配器：订阅队列，调用 Handler，并按结果决定 ack / 重试 / 死信
type Consumer struct {
	subscriber Subscriber
	queue      string
	handler    Handler
	failures   *FailureHandler
	tracer     trace.Tracer

	cancel context.CancelFunc
	sub    *Subscription
}

func NewConsumer(subscriber Subscriber, queue string, handler Handler, failures *FailureHandler) *Consumer {
	return &Consumer{
		subscriber: subscriber,
		queue:      queue,
		handler:    handler,
		failures:   failures,
		tracer:     otel.Tracer("orderflow/mq"),
	}
}

// Start 注册订阅后立即返回，消息在连接就绪后开始投递
func (c *Consumer) Start(ctx context.Context) error {
	cctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub, err := c.subscriber.Consume(cctx, c.queue, c.Handle)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe to %s: %w", c.queue, err)
	}
	c.cancel, c.sub = cancel, sub
	logger.Ctx(ctx).Info().Str("queue", c.queue).Msg("✅ Consumer registered")
	return nil
}

// Stop 取消订阅并等待正在处理的消息结束
func (c *Consumer) Stop(ctx context.Context) {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.sub.Wait()
	logger.Ctx(ctx).Info().Str("queue", c.queue).Msg("✅ Consumer stopped.")
}

// Handle 处理单条投递，永远不会把错误或 panic 抛出消费循环
func (c *Consumer) Handle(ctx context.Context, d *Delivery) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, AMQPHeaderCarrier(d.Headers()))
	ctx, span := c.tracer.Start(ctx, "mq.Consume "+c.queue,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.source", c.queue),
			attribute.String("messaging.message.conversation_id", d.CorrelationID()),
			attribute.Int("messaging.retry_count", d.RetryCount()),
		),
	)
	defer span.End()

	err := c.invoke(ctx, d)

	switch {
	case d.Settled():
		if err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("queue", c.queue).Msg("Handler failed after settling the message")
		}
		metrics.Messages.WithLabelValues(c.queue, metrics.OutcomeAck).Inc()
	case err == nil:
		if ackErr := d.Ack(); ackErr != nil {
			logger.Ctx(ctx).Error().Err(ackErr).Str("queue", c.queue).Msg("Failed to ack message")
		}
		metrics.Messages.WithLabelValues(c.queue, metrics.OutcomeAck).Inc()
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.failures.Handle(ctx, d, err)
	}
}

func (c *Consumer) invoke(ctx context.Context, d *Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return c.handler(ctx, d)
}
