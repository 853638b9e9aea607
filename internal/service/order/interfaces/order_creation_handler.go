// internal/service/order/interfaces/order_creation_handler.go
package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"orderflow/internal/pkg/events"
	"orderflow/internal/pkg/logger"
	"orderflow/internal/pkg/mq"
	"orderflow/internal/service/order/application"
	"orderflow/internal/service/order/domain"
)

// OrderCreatedConsumer 是一个驱动适配器，它把 orders 队列上的 order-created 事件交给应用服务持久化。
type OrderCreatedConsumer struct {
	appSvc *application.OrderApplicationService
}

func NewOrderCreatedConsumer(appSvc *application.OrderApplicationService) *OrderCreatedConsumer {
	return &OrderCreatedConsumer{appSvc: appSvc}
}

// Handle 实现 mq.Handler。ack 严格发生在写库之后、发布回执之前。
func (a *OrderCreatedConsumer) Handle(ctx context.Context, d *mq.Delivery) error {
	var event events.OrderCreated
	if err := json.Unmarshal(d.Body(), &event); err != nil {
		return mq.Permanent(fmt.Errorf("decode order-created event: %w", err))
	}

	order, err := a.appSvc.Persist(ctx, event)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidOrder) {
			return mq.Permanent(err)
		}
		return err
	}

	if err := d.Ack(); err != nil {
		// 连接已断开，消息会被重新投递，唯一索引保证不会重复落库
		logger.Ctx(ctx).Error().Err(err).Str("correlation_id", order.CorrelationID).Msg("Failed to ack persisted order")
		return nil
	}

	return a.appSvc.PublishFulfillment(ctx, order)
}
