// internal/service/catalog/application/dto.go
package application

import (
	"time"

	"orderflow/internal/pkg/events"
	"orderflow/internal/service/catalog/domain"
)

// PlacedOrder 是 POST /orders 与 GET /orders/:correlationId 的响应体
type PlacedOrder struct {
	CorrelationID string            `json:"correlationId"`
	Status        string            `json:"status"`
	Items         []events.LineItem `json:"items"`
	Total         float64           `json:"total"`
	CreatedAt     time.Time         `json:"createdAt"`
	OrderID       string            `json:"orderId,omitempty"`
}

func toPlacedOrder(o domain.PendingOrder) *PlacedOrder {
	items := o.Items
	if items == nil {
		items = []events.LineItem{}
	}
	return &PlacedOrder{
		CorrelationID: o.CorrelationID,
		Status:        string(o.Status),
		Items:         items,
		Total:         o.Total(),
		CreatedAt:     o.CreatedAt,
		OrderID:       o.OrderID,
	}
}
