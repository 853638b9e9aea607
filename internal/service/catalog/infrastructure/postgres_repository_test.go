package infrastructure

import (
	"context"
	"testing"
	"time"

	"orderflow/internal/service/catalog/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func newTestRepository(t *testing.T) *PostgresProductRepository {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("catalog"),
		postgres.WithUsername("catalog"),
		postgres.WithPassword("catalog"),
		postgres.BasicWaitStrategies(),
	)
	t.Cleanup(func() {
		if ctr != nil {
			require.NoError(t, ctr.Terminate(context.Background()))
		}
	})
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	repo := NewPostgresProductRepository(pool)
	require.NoError(t, repo.EnsureSchema(ctx))
	return repo
}

func TestPostgresProductRepository_FindByIDs(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	n, err := repo.Seed(ctx, SampleProducts())
	require.NoError(t, err)
	assert.Equal(t, len(SampleProducts()), n)

	// 非空表不会重复初始化
	n, err = repo.Seed(ctx, SampleProducts())
	require.NoError(t, err)
	assert.Zero(t, n)

	products, err := repo.FindByIDs(ctx, []string{"prod-mouse", "missing", "prod-cable"})
	require.NoError(t, err)
	require.Len(t, products, 2)

	byID := map[string]domain.Product{}
	for _, p := range products {
		byID[p.ID] = p
	}
	assert.Equal(t, 24.5, byID["prod-mouse"].Price)
	assert.Equal(t, 9.99, byID["prod-cable"].Price)
	assert.Equal(t, "USB-C Cable", byID["prod-cable"].Name)
}

func TestPostgresProductRepository_UpsertUpdatesPrice(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, domain.Product{ID: "p1", Name: "Lamp", Price: 10}))
	require.NoError(t, repo.Upsert(ctx, domain.Product{ID: "p1", Name: "Desk Lamp", Price: 12.25}))

	products, err := repo.FindByIDs(ctx, []string{"p1"})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Desk Lamp", products[0].Name)
	assert.Equal(t, 12.25, products[0].Price)

	empty, err := repo.FindByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
