// internal/service/catalog/interfaces/fulfillment_consumer.go
package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"orderflow/internal/pkg/events"
	"orderflow/internal/pkg/mq"
	"orderflow/internal/service/catalog/application"
	"orderflow/internal/service/catalog/domain"
)

// FulfillmentConsumer 把 products 队列上的回执交给编排器。进程启动时只注册一次。
type FulfillmentConsumer struct {
	service *application.PlacementService
}

func NewFulfillmentConsumer(service *application.PlacementService) *FulfillmentConsumer {
	return &FulfillmentConsumer{service: service}
}

// Handle 实现 mq.Handler
func (c *FulfillmentConsumer) Handle(ctx context.Context, d *mq.Delivery) error {
	var evt events.OrderFulfilled
	if err := json.Unmarshal(d.Body(), &evt); err != nil {
		return mq.Permanent(fmt.Errorf("decode fulfillment event: %w", err))
	}
	if evt.CorrelationID == "" {
		evt.CorrelationID = d.CorrelationID()
	}

	err := c.service.HandleFulfillment(ctx, evt)
	if errors.Is(err, domain.ErrMissingCorrelationID) {
		return mq.Permanent(err)
	}
	return err
}
