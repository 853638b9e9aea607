// internal/service/order/infrastructure/mapper.go
package infrastructure

import (
	"sort"

	"orderflow/internal/pkg/events"
	"orderflow/internal/service/order/domain"

	"github.com/shopspring/decimal"
)

// ToDomainOrder 将数据库模型转换为领域模型
func ToDomainOrder(model *OrderModel) *domain.Order {
	if model == nil {
		return nil
	}
	items := append([]OrderItemModel(nil), model.Items...)
	sort.Slice(items, func(i, j int) bool { return items[i].Position < items[j].Position })

	lineItems := make([]events.LineItem, 0, len(items))
	for _, it := range items {
		lineItems = append(lineItems, events.LineItem{ID: it.ProductID, Name: it.Name, Price: it.Price.InexactFloat64()})
	}
	return &domain.Order{
		ID:            model.ID,
		CorrelationID: model.CorrelationID,
		PurchaserID:   model.PurchaserID,
		Items:         lineItems,
		Total:         model.TotalPrice,
		Status:        domain.Status(model.Status),
		CreatedAt:     model.CreatedAt,
		UpdatedAt:     model.UpdatedAt,
	}
}

// FromDomainOrder 将领域模型转换为数据库模型 (用于插入)
func FromDomainOrder(o *domain.Order) *OrderModel {
	if o == nil {
		return nil
	}
	items := make([]OrderItemModel, 0, len(o.Items))
	for i, it := range o.Items {
		items = append(items, OrderItemModel{
			OrderID:   o.ID,
			Position:  i,
			ProductID: it.ID,
			Name:      it.Name,
			Price:     decimal.NewFromFloat(it.Price),
		})
	}
	return &OrderModel{
		ID:            o.ID,
		CorrelationID: o.CorrelationID,
		PurchaserID:   o.PurchaserID,
		Status:        string(o.Status),
		TotalPrice:    o.Total,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
		Items:         items,
	}
}
