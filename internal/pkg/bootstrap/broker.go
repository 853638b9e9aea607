// internal/pkg/bootstrap/broker.go
package bootstrap

import (
	"context"

	"orderflow/internal/pkg/logger"
	"orderflow/internal/pkg/mq"

	"github.com/pkg/errors"
)

// Broker 是一个服务进程内唯一的 RabbitMQ 连接，以及它的失败处理策略
type Broker struct {
	Manager  *mq.Manager
	Failures *mq.FailureHandler
}

// NewBroker 创建连接管理器与配置中的死信 sink，并立即在后台发起连接。
// 连接与 Kafka writer 都会在服务关停时关闭。
func (a *App) NewBroker() (*Broker, error) {
	mgr := a.newManager()
	sink, err := a.deadLetterSink(mgr)
	if err != nil {
		return nil, err
	}
	return a.connect(mgr, sink, a.Config.Broker.MaxRetries), nil
}

// NewBrokerWithSink 使用调用方提供的 sink 且不做重试，失败的消息直接交给 sink
func (a *App) NewBrokerWithSink(sink mq.DeadLetterSink) *Broker {
	return a.connect(a.newManager(), sink, 0)
}

func (a *App) newManager() *mq.Manager {
	b := a.Config.Broker
	return mq.NewManager(b.URL, mq.NewTopology(b),
		mq.WithBackoff(b.BaseDelay, b.MaxDelay, b.MaxAttempts),
		mq.WithPrefetch(b.Prefetch),
	)
}

func (a *App) connect(mgr *mq.Manager, sink mq.DeadLetterSink, maxRetries int) *Broker {
	a.OnShutdown("rabbitmq", func(ctx context.Context) error { return mgr.Close() })
	mgr.Connect()
	return &Broker{
		Manager:  mgr,
		Failures: mq.NewFailureHandler(mgr, sink, maxRetries, a.Config.Broker.RetryDelay),
	}
}

func (a *App) deadLetterSink(mgr *mq.Manager) (mq.DeadLetterSink, error) {
	dl := a.Config.Broker.DeadLetter
	switch dl.Sink {
	case "amqp":
		return mq.NewAMQPDeadLetterSink(mgr, dl.Suffix), nil
	case "kafka":
		writer := mq.NewKafkaWriter(a.Config.Infra.Kafka.Brokers, dl.KafkaTopic)
		a.OnShutdown("kafka-writer", func(ctx context.Context) error { return writer.Close() })
		logger.L().Info().Str("topic", dl.KafkaTopic).Msg("Dead letters go to kafka")
		return mq.NewKafkaDeadLetterSink(writer), nil
	default:
		return nil, errors.Errorf("unknown dead letter sink %q", dl.Sink)
	}
}

// Consumer 创建一个共享失败处理策略的队列消费者
func (b *Broker) Consumer(queue string, handler mq.Handler) *mq.Consumer {
	return mq.NewConsumer(b.Manager, queue, handler, b.Failures)
}
