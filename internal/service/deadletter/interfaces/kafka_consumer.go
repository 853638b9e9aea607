// internal/service/deadletter/interfaces/kafka_consumer.go
package interfaces

import (
	"context"
	"sync"

	"orderflow/internal/pkg/logger"
	"orderflow/internal/pkg/mq"
	"orderflow/internal/service/deadletter/application"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// KafkaReader 是 *kafka.Reader 的子集
type KafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
	Config() kafka.ReaderConfig
}

// TopicConsumer 监听死信主题并记录日志
type TopicConsumer struct {
	reader  KafkaReader
	monitor *application.Monitor

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTopicConsumer(reader KafkaReader, monitor *application.Monitor) *TopicConsumer {
	return &TopicConsumer{reader: reader, monitor: monitor}
}

func (a *TopicConsumer) Start(ctx context.Context) error {
	cctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	topic := a.reader.Config().Topic

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(cctx).Info().Str("topic", topic).Msg("✅ Dead letter topic consumer started.")
		for {
			msg, err := a.reader.FetchMessage(cctx)
			if err != nil {
				if cctx.Err() != nil {
					logger.Ctx(cctx).Info().Msg("🛑 Dead letter topic consumer shutting down.")
					return
				}
				logger.Ctx(cctx).Warn().Err(err).Str("topic", topic).Msg("fetch dead letter failed")
				continue
			}

			carrier := mq.KafkaHeaderCarrier(msg.Headers)
			mctx := otel.GetTextMapPropagator().Extract(cctx, &carrier)
			a.monitor.Report(mctx, "kafka", application.FromKafka(msg))

			// 死信主题中的消息总是直接提交，因为它们已经被“处理”了（即记录日志）
			if err := a.reader.CommitMessages(cctx, msg); err != nil && cctx.Err() == nil {
				logger.Ctx(mctx).Error().Err(err).Int64("offset", msg.Offset).Msg("commit dead letter failed")
			}
		}
	}()
	return nil
}

func (a *TopicConsumer) Stop(ctx context.Context) {
	if a.cancel == nil {
		return
	}
	a.cancel()
	a.wg.Wait()
	if err := a.reader.Close(); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("close dead letter reader failed")
	}
	logger.Ctx(ctx).Info().Str("topic", a.reader.Config().Topic).Msg("✅ Dead letter topic consumer stopped.")
}
