// internal/service/notification/application/dispatcher.go
package application

import (
	"context"
	"fmt"
	"time"

	"orderflow/internal/pkg/events"
	"orderflow/internal/pkg/logger"
	"orderflow/internal/pkg/metrics"
	"orderflow/internal/pkg/mq"
	"orderflow/internal/service/notification/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	kindConfirmation = "confirmation"
	kindStatus       = "status"
)

// Dispatcher 负责查询用户邮箱、渲染并发送通知邮件。
// 返回的错误中，mq.Permanent 包装的直接进入死信，其余错误会被重试。
type Dispatcher struct {
	directory domain.UserDirectory
	mailer    domain.Mailer
	ledger    domain.SentLedger
	tracer    trace.Tracer
	now       func() time.Time
}

func NewDispatcher(directory domain.UserDirectory, mailer domain.Mailer, ledger domain.SentLedger, tracer trace.Tracer) *Dispatcher {
	return &Dispatcher{
		directory: directory,
		mailer:    mailer,
		ledger:    ledger,
		tracer:    tracer,
		now:       time.Now,
	}
}

// HandleOrderCreated 发送下单确认邮件
func (d *Dispatcher) HandleOrderCreated(ctx context.Context, evt events.OrderCreated) error {
	ctx, span := d.tracer.Start(ctx, "app.NotifyOrderCreated", trace.WithAttributes(
		attribute.String("order.correlation_id", evt.CorrelationID),
		attribute.String("user.id", evt.PurchaserID),
	))
	defer span.End()

	err := d.dispatch(ctx, kindConfirmation, evt.PurchaserID, domain.ConfirmationKey(evt.CorrelationID),
		func(to string) (domain.Email, error) { return RenderConfirmation(to, evt, d.now()) })
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// NotifyStatusChange 发送状态变更邮件
func (d *Dispatcher) NotifyStatusChange(ctx context.Context, order domain.StatusOrder, newStatus string) error {
	ctx, span := d.tracer.Start(ctx, "app.NotifyStatusChange", trace.WithAttributes(
		attribute.String("order.id", order.OrderID),
		attribute.String("order.new_status", newStatus),
		attribute.String("user.id", order.PurchaserID),
	))
	defer span.End()

	err := d.dispatch(ctx, kindStatus, order.PurchaserID, domain.StatusKey(order.OrderID, newStatus),
		func(to string) (domain.Email, error) { return RenderStatusUpdate(to, order, newStatus) })
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (d *Dispatcher) dispatch(ctx context.Context, kind, purchaserID, key string, render func(to string) (domain.Email, error)) error {
	log := logger.Ctx(ctx).With().Str("kind", kind).Str("key", key).Str("user_id", purchaserID).Logger()

	if purchaserID == "" {
		metrics.Notifications.WithLabelValues(kind, "invalid").Inc()
		return mq.Permanent(domain.ErrMissingPurchaser)
	}

	// 账本不可用时宁可重复发送，也不丢通知
	seen, err := d.ledger.Seen(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("Sent ledger unavailable, continuing without idempotency check")
	} else if seen {
		log.Info().Msg("Notification already sent, skipping")
		metrics.Notifications.WithLabelValues(kind, "duplicate").Inc()
		return nil
	}

	user, err := d.directory.Lookup(ctx, purchaserID)
	if err != nil {
		metrics.Notifications.WithLabelValues(kind, "lookup_failed").Inc()
		return fmt.Errorf("lookup user %s: %w", purchaserID, err)
	}
	if user.Email == "" {
		metrics.Notifications.WithLabelValues(kind, "lookup_failed").Inc()
		return fmt.Errorf("lookup user %s: %w", purchaserID, domain.ErrMissingEmail)
	}

	email, err := render(user.Email)
	if err != nil {
		metrics.Notifications.WithLabelValues(kind, "render_failed").Inc()
		return fmt.Errorf("render %s email: %w", kind, err)
	}
	if err := d.mailer.Send(ctx, email); err != nil {
		metrics.Notifications.WithLabelValues(kind, "send_failed").Inc()
		return fmt.Errorf("send %s email: %w", kind, err)
	}

	if err := d.ledger.Record(ctx, key); err != nil {
		log.Warn().Err(err).Msg("Failed to record sent notification")
	}
	metrics.Notifications.WithLabelValues(kind, "sent").Inc()
	log.Info().Msg("📧 Notification sent")
	return nil
}
