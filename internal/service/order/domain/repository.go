// internal/service/order/domain/repository.go
package domain

import (
	"context"
	"time"

	"orderflow/internal/pkg/events"
)

// OrderRepository 定义了订单持久化的接口，由基础设施层实现
type OrderRepository interface {
	// Save 插入订单及其商品行。correlation id 已存在时返回已有订单，created 为 false。
	Save(ctx context.Context, order *Order) (saved *Order, created bool, err error)
	FindByID(ctx context.Context, id string) (*Order, error)
	FindByPurchaser(ctx context.Context, purchaserID string) ([]*Order, error)
	// UpdateStatus 仅在当前状态仍为 from 时更新，否则返回 ErrConcurrentUpdate
	UpdateStatus(ctx context.Context, id string, from, to Status, updatedAt time.Time) error
}

// EventPublisher 是订单服务的出站消息端口
type EventPublisher interface {
	PublishFulfillment(ctx context.Context, evt events.OrderFulfilled) error
	PublishStatusChanged(ctx context.Context, evt events.StatusChanged) error
}
