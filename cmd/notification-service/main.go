// cmd/notification-service/main.go
package main

import (
	"context"
	"os"

	"orderflow/internal/pkg/bootstrap"
	"orderflow/internal/pkg/config"
	"orderflow/internal/pkg/httpclient"
	"orderflow/internal/pkg/logger"
	"orderflow/internal/pkg/redis"
	"orderflow/internal/service/notification/application"
	"orderflow/internal/service/notification/infrastructure"
	"orderflow/internal/service/notification/interfaces"
)

const (
	serviceName = "notification-service"
	defaultPort = 3003
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
	ctx := context.Background()

	// 1. 基础设施
	redisClient, err := redis.NewClient(ctx, cfg.Infra.Redis.Addrs, cfg.Infra.Redis.Password, cfg.Infra.Redis.DB)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to initialize redis client")
	}
	app.OnShutdown("redis", func(context.Context) error { return redisClient.Close() })

	mailer, err := infrastructure.NewMailer(ctx, cfg.Mail)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to initialize mailer")
	}

	directory := infrastructure.NewHTTPUserDirectory(
		httpclient.NewClient(app.Tracer(), cfg.UserDirectory.Timeout),
		cfg.UserDirectory.BaseURL,
	)
	if nc := app.Nacos(); nc != nil && cfg.UserDirectory.ServiceName != "" {
		directory = directory.WithDiscovery(nc, cfg.UserDirectory.ServiceName)
	}

	broker, err := app.NewBroker()
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to initialize broker")
	}

	// 2. 应用层
	dispatcher := application.NewDispatcher(
		directory,
		mailer,
		infrastructure.NewRedisSentLedger(redisClient, infrastructure.DefaultLedgerTTL),
		app.Tracer(),
	)

	// 3. 驱动适配器
	created := broker.Consumer(cfg.Broker.Queues.Notifications, interfaces.NewOrderCreatedConsumer(dispatcher).Handle)
	statusChanged := broker.Consumer(cfg.Broker.Queues.Status, interfaces.NewStatusChangedConsumer(dispatcher).Handle)

	err = app.StartService(bootstrap.AppInfo{
		Port:    cfg.ListenPort(defaultPort),
		Runners: []bootstrap.Runner{created, statusChanged},
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
