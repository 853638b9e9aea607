// internal/service/order/application/dto.go
package application

import (
	"time"

	"orderflow/internal/pkg/events"
	"orderflow/internal/service/order/domain"
)

// OrderView 是订单读接口的响应体
type OrderView struct {
	ID            string            `json:"id"`
	CorrelationID string            `json:"correlationId"`
	PurchaserID   string            `json:"purchaserId"`
	Items         []events.LineItem `json:"items"`
	Total         float64           `json:"total"`
	Status        string            `json:"status"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// StatusView 是 GET /orders/:id/status 的响应体
type StatusView struct {
	OrderID   string    `json:"orderId"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UpdateStatusRequest 是 PATCH /orders/:id/status 的请求体
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func toOrderView(o *domain.Order) OrderView {
	items := o.Items
	if items == nil {
		items = []events.LineItem{}
	}
	return OrderView{
		ID:            o.ID,
		CorrelationID: o.CorrelationID,
		PurchaserID:   o.PurchaserID,
		Items:         items,
		Total:         o.Total.InexactFloat64(),
		Status:        string(o.Status),
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}
