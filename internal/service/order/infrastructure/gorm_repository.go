// internal/service/order/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"errors"
	"time"

	"orderflow/internal/service/order/domain"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

const mysqlDuplicateEntry = 1062

// GormOrderRepository 是 OrderRepository 的 GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository 创建一个新的 GORM 仓储实例
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// Save 在一个事务中写入订单和商品行。唯一索引冲突说明是重复投递，返回已有订单。
func (r *GormOrderRepository) Save(ctx context.Context, order *domain.Order) (*domain.Order, bool, error) {
	model := FromDomainOrder(order)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(model).Error
	})
	if err == nil {
		return order, true, nil
	}
	if !isDuplicateKey(err) {
		return nil, false, err
	}

	existing, findErr := r.findBy(ctx, "correlation_id = ?", order.CorrelationID)
	if findErr != nil {
		return nil, false, findErr
	}
	return existing, false, nil
}

// FindByID 预加载商品行
func (r *GormOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.findBy(ctx, "id = ?", id)
}

// FindByPurchaser 按创建时间倒序返回
func (r *GormOrderRepository) FindByPurchaser(ctx context.Context, purchaserID string) ([]*domain.Order, error) {
	var models []OrderModel
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("purchaser_id = ?", purchaserID).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	orders := make([]*domain.Order, len(models))
	for i := range models {
		orders[i] = ToDomainOrder(&models[i])
	}
	return orders, nil
}

// UpdateStatus 使用当前状态作为条件，避免覆盖并发的状态变更
func (r *GormOrderRepository) UpdateStatus(ctx context.Context, id string, from, to domain.Status, updatedAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&OrderModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(map[string]interface{}{"status": string(to), "updated_at": updatedAt})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	if _, err := r.FindByID(ctx, id); err != nil {
		return err
	}
	return domain.ErrConcurrentUpdate
}

func (r *GormOrderRepository) findBy(ctx context.Context, query string, arg string) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).Preload("Items").Where(query, arg).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return ToDomainOrder(&model), nil
}

// isDuplicateKey 兼容开启与未开启 TranslateError 两种情况
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
