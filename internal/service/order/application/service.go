// internal/service/order/application/service.go
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"orderflow/internal/pkg/events"
	"orderflow/internal/pkg/logger"
	"orderflow/internal/service/order/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OrderApplicationService 负责订单的持久化、回执与状态流转
type OrderApplicationService struct {
	repo      domain.OrderRepository
	publisher domain.EventPublisher
	tracer    trace.Tracer
	now       func() time.Time
}

func NewOrderApplicationService(repo domain.OrderRepository, publisher domain.EventPublisher, tracer trace.Tracer) *OrderApplicationService {
	return &OrderApplicationService{
		repo:      repo,
		publisher: publisher,
		tracer:    tracer,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Persist 把 order-created 事件写入存储。
// 校验失败返回 ErrInvalidOrder；重复投递返回已有订单，不会产生第二条记录。
func (s *OrderApplicationService) Persist(ctx context.Context, evt events.OrderCreated) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.PersistOrder",
		trace.WithAttributes(attribute.String("order.correlation_id", evt.CorrelationID)))
	defer span.End()

	order, err := domain.NewOrder(evt, s.now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid order")
		return nil, err
	}

	saved, created, err := s.repo.Save(ctx, order)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save order")
		return nil, fmt.Errorf("save order: %w", err)
	}

	log := logger.Ctx(ctx).With().Str("correlation_id", saved.CorrelationID).Str("order_id", saved.ID).Logger()
	if created {
		span.AddEvent("order persisted")
		log.Info().Str("total", saved.Total.StringFixed(2)).Int("items", len(saved.Items)).Msg("💾 Order persisted")
	} else {
		span.AddEvent("duplicate delivery, existing order reused")
		log.Info().Msg("Order already persisted, reusing existing record")
	}
	return saved, nil
}

// PublishFulfillment 通知编排器订单已落库
func (s *OrderApplicationService) PublishFulfillment(ctx context.Context, order *domain.Order) error {
	if err := s.publisher.PublishFulfillment(ctx, order.Fulfillment()); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("correlation_id", order.CorrelationID).Msg("Failed to publish fulfillment event")
		return fmt.Errorf("publish fulfillment: %w", err)
	}
	return nil
}

// ListOrders 返回用户的全部订单，按创建时间倒序
func (s *OrderApplicationService) ListOrders(ctx context.Context, purchaserID string) ([]OrderView, error) {
	orders, err := s.repo.FindByPurchaser(ctx, purchaserID)
	if err != nil {
		return nil, err
	}
	views := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, toOrderView(o))
	}
	return views, nil
}

// GetStatus 只对订单所有者可见
func (s *OrderApplicationService) GetStatus(ctx context.Context, orderID, purchaserID string) (*StatusView, error) {
	order, err := s.findOwned(ctx, orderID, purchaserID)
	if err != nil {
		return nil, err
	}
	return &StatusView{OrderID: order.ID, Status: string(order.Status), UpdatedAt: order.UpdatedAt}, nil
}

// UpdateStatus 校验所有权与状态机，持久化后发布 status-changed 事件
func (s *OrderApplicationService) UpdateStatus(ctx context.Context, orderID, purchaserID, newStatus string) (*OrderView, error) {
	ctx, span := s.tracer.Start(ctx, "app.UpdateOrderStatus", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.new_status", newStatus),
	))
	defer span.End()

	next, err := domain.ParseStatus(newStatus)
	if err != nil {
		return nil, err
	}
	order, err := s.findOwned(ctx, orderID, purchaserID)
	if err != nil {
		return nil, err
	}

	old := order.Status
	if err := order.TransitionTo(next, s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateStatus(ctx, order.ID, old, next, order.UpdatedAt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to update status")
		return nil, err
	}

	log := logger.Ctx(ctx).With().Str("order_id", order.ID).Str("correlation_id", order.CorrelationID).Logger()
	log.Info().Str("old_status", string(old)).Str("new_status", string(next)).Msg("Order status updated")

	// 状态已经落库，通知失败不回滚
	if err := s.publisher.PublishStatusChanged(ctx, order.StatusChanged(old)); err != nil {
		span.RecordError(err)
		log.Error().Err(err).Msg("Failed to publish status-changed event")
	}

	view := toOrderView(order)
	return &view, nil
}

func (s *OrderApplicationService) findOwned(ctx context.Context, orderID, purchaserID string) (*domain.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("find order: %w", err)
	}
	if !order.OwnedBy(purchaserID) {
		return nil, domain.ErrForbidden
	}
	return order, nil
}
