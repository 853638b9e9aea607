// internal/service/catalog/application/service.go
package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"orderflow/internal/pkg/events"
	"orderflow/internal/pkg/logger"
	"orderflow/internal/pkg/metrics"
	"orderflow/internal/service/catalog/domain"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PlacementService 把异步的 order-created / fulfillment 往返折叠成一次同步的 HTTP 响应
type PlacementService struct {
	products  domain.ProductRepository
	publisher domain.OrderPublisher
	pending   *PendingStore
	tracer    trace.Tracer
	maxWait   time.Duration

	newID func() string
	now   func() time.Time
}

func NewPlacementService(products domain.ProductRepository, publisher domain.OrderPublisher, pending *PendingStore, tracer trace.Tracer, pollInterval time.Duration, maxPolls int) *PlacementService {
	return &PlacementService{
		products:  products,
		publisher: publisher,
		pending:   pending,
		tracer:    tracer,
		maxWait:   pollInterval * time.Duration(maxPolls),
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// PlaceOrder 解析商品、登记待完成记录、发布事件，并在有限时间内等待订单服务回执。
// 超时后照常返回 pending 状态的记录。
func (s *PlacementService) PlaceOrder(ctx context.Context, itemIDs []string, purchaserID string) (*PlacedOrder, error) {
	ctx, span := s.tracer.Start(ctx, "app.PlaceOrder")
	defer span.End()

	if purchaserID == "" {
		return nil, domain.ErrMissingPurchaser
	}
	items, err := s.resolve(ctx, normalizeIDs(itemIDs))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "catalog lookup failed")
		return nil, err
	}

	correlationID := s.newID()
	span.SetAttributes(
		attribute.String("order.correlation_id", correlationID),
		attribute.String("order.purchaser_id", purchaserID),
		attribute.Int("order.items", len(items)),
	)
	log := logger.Ctx(ctx).With().Str("correlation_id", correlationID).Logger()

	s.pending.Add(domain.PendingOrder{
		CorrelationID: correlationID,
		Status:        domain.StatusPending,
		Items:         items,
		PurchaserID:   purchaserID,
		CreatedAt:     s.now().UTC(),
	})

	evt := events.OrderCreated{Items: items, PurchaserID: purchaserID, CorrelationID: correlationID}
	if err := s.publisher.PublishOrderCreated(ctx, evt); err != nil {
		// 待完成记录保留，等待 TTL 清理
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish order-created failed")
		log.Error().Err(err).Msg("Failed to publish order-created event")
		return nil, fmt.Errorf("publish order-created: %w", err)
	}
	log.Info().Int("items", len(items)).Msg("📤 Order-created event published, waiting for fulfillment")

	start := time.Now()
	order, ok := s.pending.Wait(ctx, correlationID, s.maxWait)
	if !ok {
		// 等待期间记录被清理，只在 TTL 小于等待时长时发生
		order = domain.PendingOrder{
			CorrelationID: correlationID,
			Status:        domain.StatusPending,
			Items:         items,
			PurchaserID:   purchaserID,
			CreatedAt:     start.UTC(),
		}
	}
	metrics.PlacementWait.WithLabelValues(string(order.Status)).Observe(time.Since(start).Seconds())

	if order.Status == domain.StatusCompleted {
		log.Info().Str("order_id", order.OrderID).Msg("✅ Order fulfilled")
	} else {
		span.AddEvent("fulfillment wait elapsed, responding with pending order")
		log.Warn().Dur("waited", time.Since(start)).Msg("Fulfillment not received in time, responding with pending order")
	}
	return toPlacedOrder(order), nil
}

// HandleFulfillment 把订单服务的回执合并进待完成记录
func (s *PlacementService) HandleFulfillment(ctx context.Context, evt events.OrderFulfilled) error {
	ctx, span := s.tracer.Start(ctx, "app.HandleFulfillment",
		trace.WithAttributes(attribute.String("order.correlation_id", evt.CorrelationID)))
	defer span.End()

	if evt.CorrelationID == "" {
		return domain.ErrMissingCorrelationID
	}

	log := logger.Ctx(ctx).With().Str("correlation_id", evt.CorrelationID).Logger()
	found, applied := s.pending.Complete(evt)
	switch {
	case !found:
		log.Debug().Msg("Fulfillment for unknown correlation id ignored")
	case !applied:
		log.Debug().Msg("Duplicate fulfillment ignored")
	default:
		span.AddEvent("pending order completed")
		log.Info().Str("order_id", evt.OrderID).Msg("Pending order completed")
	}
	return nil
}

// GetOrder 返回待完成或已完成的记录
func (s *PlacementService) GetOrder(ctx context.Context, correlationID string) (*PlacedOrder, string, error) {
	order, ok := s.pending.Get(correlationID)
	if !ok {
		return nil, "", domain.ErrOrderNotFound
	}
	return toPlacedOrder(order), order.PurchaserID, nil
}

// resolve 按请求顺序返回能解析到的商品，重复 id 只保留一次。
// 解析不到的 id 直接丢弃，一个都解析不到时返回空列表，订单照常发布。
func (s *PlacementService) resolve(ctx context.Context, ids []string) ([]events.LineItem, error) {
	items := make([]events.LineItem, 0, len(ids))
	if len(ids) == 0 {
		return items, nil
	}
	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Strs("item_ids", ids).Msg("Catalog lookup failed")
		return nil, fmt.Errorf("%w: %v", domain.ErrCatalogLookup, err)
	}

	byID := make(map[string]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			items = append(items, p.LineItem())
		}
	}
	if len(items) < len(ids) {
		logger.Ctx(ctx).Debug().Int("requested", len(ids)).Int("resolved", len(items)).Msg("Unknown item ids dropped")
	}
	return items, nil
}

func normalizeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
