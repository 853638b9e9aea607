// cmd/dead-letter-monitor/main.go
package main

import (
	"os"

	"orderflow/internal/pkg/bootstrap"
	"orderflow/internal/pkg/config"
	"orderflow/internal/pkg/logger"
	"orderflow/internal/pkg/mq"
	"orderflow/internal/service/deadletter/application"
	"orderflow/internal/service/deadletter/interfaces"
)

const (
	serviceName     = "dead-letter-monitor"
	defaultPort     = 3004
	consumerGroupID = "dead-letter-monitor-group"
)

func main() {
	cfg, err := config.Load(getEnv("CONFIG_PATH", "configs/config.yaml"))
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to load config")
	}
	app, err := bootstrap.NewApp(serviceName, cfg)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to initialize app")
	}

	monitor := application.NewMonitor(0)

	// 监控进程自身处理失败的消息也只记录，不再转投死信
	broker := app.NewBrokerWithSink(monitor)
	handler := interfaces.NewQueueConsumer(monitor).Handle

	q := cfg.Broker.Queues
	var runners []bootstrap.Runner
	for _, queue := range []string{q.Orders, q.Notifications, q.Products, q.Status} {
		runners = append(runners, broker.Consumer(cfg.DeadLetterQueue(queue), handler))
	}

	// Kafka 死信主题只有在 sink 为 kafka 时才会有数据
	if cfg.Broker.DeadLetter.Sink == "kafka" {
		reader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, cfg.Broker.DeadLetter.KafkaTopic, consumerGroupID)
		runners = append(runners, interfaces.NewTopicConsumer(reader, monitor))
	}

	err = app.StartService(bootstrap.AppInfo{
		Port: cfg.ListenPort(defaultPort),
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			interfaces.NewDeadLetterHandler(monitor).RegisterRoutes(appCtx.Engine)
		},
		Runners: runners,
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
