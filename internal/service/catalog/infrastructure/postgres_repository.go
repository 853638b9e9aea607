// internal/service/catalog/infrastructure/postgres_repository.go
package infrastructure

import (
	"context"
	"fmt"

	"orderflow/internal/service/catalog/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const productsSchema = `
CREATE TABLE IF NOT EXISTS products (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	price      NUMERIC(10,2) NOT NULL CHECK (price >= 0),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresProductRepository 是 ProductRepository 的 PostgreSQL 实现
type PostgresProductRepository struct {
	db *pgxpool.Pool
}

func NewPostgresProductRepository(db *pgxpool.Pool) *PostgresProductRepository {
	return &PostgresProductRepository{db: db}
}

// NewPool 创建连接池并确认数据库可达
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// EnsureSchema 创建 products 表（如果不存在）
func (r *PostgresProductRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, productsSchema)
	return err
}

// FindByIDs 一次查询取回所有能匹配的商品
func (r *PostgresProductRepository) FindByIDs(ctx context.Context, ids []string) ([]domain.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT id, name, price::float8 FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Product, error) {
		var p domain.Product
		err := row.Scan(&p.ID, &p.Name, &p.Price)
		return p, err
	})
}

// Upsert 写入或更新一个商品，用于初始化目录数据
func (r *PostgresProductRepository) Upsert(ctx context.Context, p domain.Product) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO products (id, name, price)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price
	`, p.ID, p.Name, p.Price)
	return err
}

// Seed 在表为空时写入一组示例商品
func (r *PostgresProductRepository) Seed(ctx context.Context, products []domain.Product) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM products`).Scan(&count); err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}
	for _, p := range products {
		if err := r.Upsert(ctx, p); err != nil {
			return 0, fmt.Errorf("seed product %s: %w", p.ID, err)
		}
	}
	return len(products), nil
}

// SampleProducts 是本地开发使用的示例目录
func SampleProducts() []domain.Product {
	return []domain.Product{
		{ID: "prod-keyboard", Name: "Mechanical Keyboard", Price: 89.99},
		{ID: "prod-mouse", Name: "Wireless Mouse", Price: 24.5},
		{ID: "prod-monitor", Name: "27\" Monitor", Price: 229},
		{ID: "prod-cable", Name: "USB-C Cable", Price: 9.99},
	}
}
