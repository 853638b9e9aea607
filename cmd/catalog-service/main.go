// cmd/catalog-service/main.go
package main

import (
	"context"
	"flag"
	"os"

	"orderflow/internal/pkg/bootstrap"
	"orderflow/internal/pkg/config"
	"orderflow/internal/pkg/logger"
	"orderflow/internal/service/catalog/application"
	"orderflow/internal/service/catalog/infrastructure"
	"orderflow/internal/service/catalog/interfaces"
)

const (
	serviceName = "catalog-service"
	defaultPort = 3002
)

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	seed := flag.Bool("seed", false, "insert the sample products before serving")
	flag.Parse()

	cfg, err := config.Load(getEnv("CONFIG_PATH", "configs/config.yaml"))
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to load config")
	}
	app, err := bootstrap.NewApp(serviceName, cfg)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to initialize app")
	}

	// 1. 基础设施
	ctx := context.Background()
	pool, err := infrastructure.NewPool(ctx, cfg.Infra.Postgres.DSN)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to connect to postgres")
	}
	app.OnShutdown("postgres", func(context.Context) error { pool.Close(); return nil })

	products := infrastructure.NewPostgresProductRepository(pool)
	if err := products.EnsureSchema(ctx); err != nil {
		logger.L().Fatal().Err(err).Msg("failed to ensure product schema")
	}
	if *seed {
		n, err := products.Seed(ctx, infrastructure.SampleProducts())
		if err != nil {
			logger.L().Fatal().Err(err).Msg("failed to seed products")
		}
		logger.L().Info().Int("products", n).Msg("🌱 Sample products seeded")
	}

	broker, err := app.NewBroker()
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to initialize broker")
	}

	// 2. 应用层
	pending := application.NewPendingStore(cfg.Placement.PendingTTL)
	placement := application.NewPlacementService(
		products,
		infrastructure.NewAMQPOrderPublisher(broker.Manager, cfg.Broker.Exchange),
		pending,
		app.Tracer(),
		cfg.Placement.PollInterval,
		cfg.Placement.MaxPolls,
	)

	// 3. 驱动适配器
	fulfillment := broker.Consumer(cfg.Broker.Queues.Products, interfaces.NewFulfillmentConsumer(placement).Handle)

	err = app.StartService(bootstrap.AppInfo{
		Port: cfg.ListenPort(defaultPort),
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			interfaces.NewOrderHandler(placement).RegisterRoutes(appCtx.Engine)
		},
		Runners: []bootstrap.Runner{pending, fulfillment},
		Ready:   broker.Manager.Ready,
	})
	if err != nil {
		logger.L().Fatal().Err(err).Msg("service exited with error")
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
