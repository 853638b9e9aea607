// cmd/order-service/main.go
package main

import (
	"context"
	"os"

	"orderflow/internal/pkg/bootstrap"
	"orderflow/internal/pkg/config"
	"orderflow/internal/pkg/logger"
	"orderflow/internal/service/order/application"
	"orderflow/internal/service/order/infrastructure"
	"orderflow/internal/service/order/interfaces"
)

const (
	serviceName = "order-service"
	defaultPort = 3001
)

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	cfg, err := config.Load(getEnv("CONFIG_PATH", "configs/config.yaml"))
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to load config")
	}
	app, err := bootstrap.NewApp(serviceName, cfg)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to initialize app")
	}

	// 1. 基础设施
	db, err := infrastructure.NewMySQL(context.Background(), cfg.Infra.MySQL.DSN)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to connect to mysql")
	}
	if err := infrastructure.AutoMigrate(db); err != nil {
		logger.L().Fatal().Err(err).Msg("failed to migrate order tables")
	}
	app.OnShutdown("mysql", func(context.Context) error { return infrastructure.Close(db) })

	broker, err := app.NewBroker()
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to initialize broker")
	}

	// 2. 应用层
	orders := application.NewOrderApplicationService(
		infrastructure.NewGormOrderRepository(db),
		infrastructure.NewAMQPEventPublisher(broker.Manager, cfg.Broker.Queues.Products, cfg.Broker.Queues.Status),
		app.Tracer(),
	)

	// 3. 驱动适配器
	creation := broker.Consumer(cfg.Broker.Queues.Orders, interfaces.NewOrderCreatedConsumer(orders).Handle)

	err = app.StartService(bootstrap.AppInfo{
		Port: cfg.ListenPort(defaultPort),
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			interfaces.NewOrderHandler(orders).RegisterRoutes(appCtx.Engine)
		},
		Runners: []bootstrap.Runner{creation},
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
