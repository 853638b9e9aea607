// internal/service/catalog/domain/product.go
package domain

import (
	"context"

	"orderflow/internal/pkg/events"
)

// Product 是目录中的商品
type Product struct {
	ID    string
	Name  string
	Price float64
}

// LineItem 生成下单时刻的价格快照
func (p Product) LineItem() events.LineItem {
	return events.LineItem{ID: p.ID, Name: p.Name, Price: p.Price}
}

// ProductRepository 定义了商品的只读查询接口，由基础设施层实现
type ProductRepository interface {
	// FindByIDs 返回能解析到的商品，未知 id 直接忽略，返回顺序不做保证
	FindByIDs(ctx context.Context, ids []string) ([]Product, error)
}
