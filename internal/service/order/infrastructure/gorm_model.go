// internal/service/order/infrastructure/gorm_model.go
package infrastructure

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderModel 对应数据库中的 orders 表
type OrderModel struct {
	ID            string          `gorm:"primaryKey;type:char(36)"`
	CorrelationID string          `gorm:"type:varchar(64);uniqueIndex;not null"`
	PurchaserID   string          `gorm:"type:varchar(128);index;not null"`
	Status        string          `gorm:"type:varchar(16);not null"`
	TotalPrice    decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Items []OrderItemModel `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

// TableName 指定 GORM 应该使用的表名
func (OrderModel) TableName() string {
	return "orders"
}

// OrderItemModel 对应数据库中的 order_items 表，保存下单时刻的价格快照
type OrderItemModel struct {
	ID        uint            `gorm:"primaryKey"`
	OrderID   string          `gorm:"type:char(36);index;not null"`
	Position  int             `gorm:"not null"`
	ProductID string          `gorm:"type:varchar(128);not null"`
	Name      string          `gorm:"type:varchar(255)"`
	Price     decimal.Decimal `gorm:"type:decimal(10,2);not null"`
}

func (OrderItemModel) TableName() string {
	return "order_items"
}
