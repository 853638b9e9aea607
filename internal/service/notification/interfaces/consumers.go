// internal/service/notification/interfaces/consumers.go
package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"orderflow/internal/pkg/events"
	"orderflow/internal/pkg/mq"
	"orderflow/internal/service/notification/application"
	"orderflow/internal/service/notification/domain"
)

// OrderCreatedConsumer 消费 orders.notifications 队列，与持久化消费者互不影响
type OrderCreatedConsumer struct {
	dispatcher *application.Dispatcher
}

func NewOrderCreatedConsumer(dispatcher *application.Dispatcher) *OrderCreatedConsumer {
	return &OrderCreatedConsumer{dispatcher: dispatcher}
}

func (c *OrderCreatedConsumer) Handle(ctx context.Context, d *mq.Delivery) error {
	var evt events.OrderCreated
	if err := json.Unmarshal(d.Body(), &evt); err != nil {
		return mq.Permanent(fmt.Errorf("decode order-created event: %w", err))
	}
	if evt.CorrelationID == "" {
		evt.CorrelationID = d.CorrelationID()
	}
	return c.dispatcher.HandleOrderCreated(ctx, evt)
}

// StatusChangedConsumer 消费 order-status 队列
type StatusChangedConsumer struct {
	dispatcher *application.Dispatcher
}

func NewStatusChangedConsumer(dispatcher *application.Dispatcher) *StatusChangedConsumer {
	return &StatusChangedConsumer{dispatcher: dispatcher}
}

func (c *StatusChangedConsumer) Handle(ctx context.Context, d *mq.Delivery) error {
	var evt events.StatusChanged
	if err := json.Unmarshal(d.Body(), &evt); err != nil {
		return mq.Permanent(fmt.Errorf("decode status-changed event: %w", err))
	}
	if evt.OrderID == "" || evt.NewStatus == "" {
		return mq.Permanent(errors.New("status-changed event missing order id or status"))
	}
	order := domain.StatusOrder{
		OrderID:       evt.OrderID,
		CorrelationID: evt.CorrelationID,
		PurchaserID:   evt.PurchaserID,
		Items:         evt.Items,
		Total:         evt.Total,
	}
	return c.dispatcher.NotifyStatusChange(ctx, order, evt.NewStatus)
}
