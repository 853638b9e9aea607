// internal/service/catalog/domain/pending_order.go
package domain

import (
	"context"
	"errors"
	"time"

	"orderflow/internal/pkg/events"
)

// PendingStatus 是编排器本地记录的状态，只会从 pending 变为 completed 一次
type PendingStatus string

const (
	StatusPending   PendingStatus = "pending"
	StatusCompleted PendingStatus = "completed"
)

var (
	ErrMissingPurchaser     = errors.New("purchaser id is required")
	ErrCatalogLookup        = errors.New("catalog lookup failed")
	ErrOrderNotFound        = errors.New("order not found")
	ErrMissingCorrelationID = errors.New("fulfillment event without correlation id")
)

// PendingOrder 是下单请求在内存中的记录，以 correlation id 为键
type PendingOrder struct {
	CorrelationID string
	Status        PendingStatus
	Items         []events.LineItem
	PurchaserID   string
	CreatedAt     time.Time

	// 以下字段在收到 fulfillment 事件后填充
	OrderID     string
	StoredTotal float64
}

// Total 总是根据当前商品重新计算，不信任事件中的 total
func (o PendingOrder) Total() float64 {
	return events.Total(o.Items)
}

// Clone 返回一份不与原记录共享切片的拷贝
func (o PendingOrder) Clone() PendingOrder {
	o.Items = append([]events.LineItem(nil), o.Items...)
	return o
}

// OrderPublisher 是发布 order-created 事件的出站端口
type OrderPublisher interface {
	PublishOrderCreated(ctx context.Context, evt events.OrderCreated) error
}
