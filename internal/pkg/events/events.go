// internal/pkg/events/events.go
// Package events 定义服务之间在 broker 上交换的消息体
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNegativePrice = errors.New("line item price must not be negative")

// LineItem 是下单时刻的商品价格快照
type LineItem struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// OrderCreated 由下单编排器发布到 orders exchange
type OrderCreated struct {
	Items         []LineItem `json:"items"`
	PurchaserID   string     `json:"purchaserId"`
	CorrelationID string     `json:"correlationId"`
}

// OrderFulfilled 由订单服务在持久化成功后发布到 products 队列
type OrderFulfilled struct {
	CorrelationID string     `json:"correlationId"`
	PurchaserID   string     `json:"purchaserId"`
	Items         []LineItem `json:"items"`
	Total         float64    `json:"total"`
	OrderID       string     `json:"orderId"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// StatusChanged 在订单状态变更后发布到 order-status 队列
type StatusChanged struct {
	OrderID       string     `json:"orderId"`
	CorrelationID string     `json:"correlationId"`
	PurchaserID   string     `json:"purchaserId"`
	Items         []LineItem `json:"items"`
	Total         float64    `json:"total"`
	OldStatus     string     `json:"oldStatus"`
	NewStatus     string     `json:"newStatus"`
	OccurredAt    time.Time  `json:"occurredAt"`
}

// SumPrices 用十进制累加价格，结果保留两位小数
func SumPrices(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(decimal.NewFromFloat(it.Price))
	}
	return total.Round(2)
}

// Total 是 SumPrices 的 float64 形式，用于 JSON 输出
func Total(items []LineItem) float64 {
	return SumPrices(items).InexactFloat64()
}

// ValidateItems 检查每个商品价格非负
func ValidateItems(items []LineItem) error {
	for _, it := range items {
		if it.Price < 0 {
			return fmt.Errorf("%w: item %s has price %v", ErrNegativePrice, it.ID, it.Price)
		}
	}
	return nil
}
