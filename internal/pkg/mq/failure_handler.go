// internal/pkg/mq/failure_handler.go
package mq

import (
	"context"
	"time"

	"orderflow/internal/pkg/logger"
	"orderflow/internal/pkg/metrics"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher 由 Manager 实现
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// FailureHandler 决定失败消息的去向：
// 未超过重试上限的临时错误 -> 计数加一后重新投递到原队列；
// Permanent 错误或超过上限 -> 死信。
// 两种情况下原消息都会被 ack；若重投或死信本身失败，则 reject 并 requeue 交给 broker 重投。
type FailureHandler struct {
	publisher  Publisher
	sink       DeadLetterSink
	maxRetries int
	retryDelay time.Duration
}

func NewFailureHandler(publisher Publisher, sink DeadLetterSink, maxRetries int, retryDelay time.Duration) *FailureHandler {
	return &FailureHandler{
		publisher:  publisher,
		sink:       sink,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

func (h *FailureHandler) Handle(ctx context.Context, d *Delivery, cause error) {
	log := logger.Ctx(ctx).With().
		Str("queue", d.Queue).
		Str("correlation_id", d.CorrelationID()).
		Int("retry_count", d.RetryCount()).
		Logger()

	if !IsPermanent(cause) && d.RetryCount() < h.maxRetries {
		if err := h.retry(ctx, d, cause); err != nil {
			log.Error().Err(err).AnErr("cause", cause).Msg("Failed to schedule retry, requeueing")
			h.requeue(ctx, d)
			return
		}
		log.Warn().Err(cause).Msg("Message processing failed, retry scheduled")
		metrics.Messages.WithLabelValues(d.Queue, metrics.OutcomeRetry).Inc()
		h.ack(ctx, d)
		return
	}

	dl := DeadLetter{
		Queue:         d.Queue,
		Body:          d.Body(),
		Headers:       d.Headers(),
		CorrelationID: d.CorrelationID(),
		RetryCount:    d.RetryCount(),
		Reason:        cause.Error(),
		FailedAt:      time.Now().UTC(),
	}
	if err := h.sink.Send(ctx, dl); err != nil {
		log.Error().Err(err).AnErr("cause", cause).Msg("Failed to dead-letter message, requeueing")
		h.requeue(ctx, d)
		return
	}
	log.Error().Err(cause).Bool("permanent", IsPermanent(cause)).Msg("Message moved to dead letter sink")
	metrics.Messages.WithLabelValues(d.Queue, metrics.OutcomeDeadLetter).Inc()
	metrics.DeadLetters.WithLabelValues(d.Queue).Inc()
	h.ack(ctx, d)
}

func (h *FailureHandler) retry(ctx context.Context, d *Delivery, cause error) error {
	if h.retryDelay > 0 {
		t := time.NewTimer(h.retryDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}

	headers := amqp.Table{}
	for k, v := range d.Headers() {
		headers[k] = v
	}
	headers[HeaderRetryCount] = int32(d.RetryCount() + 1)
	headers[HeaderLastError] = cause.Error()

	// 走默认 exchange 直接回到本队列，不会再扇出给其他消费者
	return h.publisher.Publish(ctx, Message{
		RoutingKey:    d.Queue,
		CorrelationID: d.CorrelationID(),
		Headers:       headers,
		Body:          d.Body(),
	})
}

func (h *FailureHandler) ack(ctx context.Context, d *Delivery) {
	if err := d.Ack(); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("queue", d.Queue).Msg("Failed to ack message")
	}
}

func (h *FailureHandler) requeue(ctx context.Context, d *Delivery) {
	if err := d.Reject(true); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("queue", d.Queue).Msg("Failed to reject message")
	}
}
