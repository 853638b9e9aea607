// internal/service/order/domain/order.go
package domain

import (
	"errors"
	"fmt"
	"time"

	"orderflow/internal/pkg/events"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidOrder      = errors.New("invalid order")
	ErrInvalidStatus     = errors.New("invalid order status")
	ErrInvalidTransition = errors.New("order status transition not allowed")
	ErrNotFound          = errors.New("order not found")
	ErrForbidden         = errors.New("order belongs to another user")
	ErrConcurrentUpdate  = errors.New("order was modified concurrently")
)

// Order 是订单聚合的根实体
type Order struct {
	ID            string
	CorrelationID string // 唯一索引，也是幂等键
	PurchaserID   string
	Items         []events.LineItem
	Total         decimal.Decimal
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewOrder 用 order-created 事件创建一个新的订单实例。空商品列表是合法的，总价为 0。
func NewOrder(evt events.OrderCreated, now time.Time) (*Order, error) {
	if evt.CorrelationID == "" {
		return nil, fmt.Errorf("%w: correlation id is required", ErrInvalidOrder)
	}
	if evt.PurchaserID == "" {
		return nil, fmt.Errorf("%w: purchaser id is required", ErrInvalidOrder)
	}
	if err := events.ValidateItems(evt.Items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}

	items := append([]events.LineItem{}, evt.Items...)
	return &Order{
		ID:            uuid.NewString(),
		CorrelationID: evt.CorrelationID,
		PurchaserID:   evt.PurchaserID,
		Items:         items,
		Total:         events.SumPrices(items),
		Status:        StatusCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// TransitionTo 按状态机推进订单状态
func (o *Order) TransitionTo(next Status, now time.Time) error {
	if !o.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, next)
	}
	o.Status = next
	o.UpdatedAt = now
	return nil
}

// OwnedBy 判断订单是否属于该用户
func (o *Order) OwnedBy(purchaserID string) bool {
	return purchaserID != "" && o.PurchaserID == purchaserID
}

// Fulfillment 构造发往 products 队列的回执
func (o *Order) Fulfillment() events.OrderFulfilled {
	return events.OrderFulfilled{
		CorrelationID: o.CorrelationID,
		PurchaserID:   o.PurchaserID,
		Items:         o.Items,
		Total:         o.Total.InexactFloat64(),
		OrderID:       o.ID,
		Status:        string(o.Status),
		CreatedAt:     o.CreatedAt,
	}
}

// StatusChanged 构造发往 order-status 队列的事件
func (o *Order) StatusChanged(old Status) events.StatusChanged {
	return events.StatusChanged{
		OrderID:       o.ID,
		CorrelationID: o.CorrelationID,
		PurchaserID:   o.PurchaserID,
		Items:         o.Items,
		Total:         o.Total.InexactFloat64(),
		OldStatus:     string(old),
		NewStatus:     string(o.Status),
		OccurredAt:    o.UpdatedAt,
	}
}
