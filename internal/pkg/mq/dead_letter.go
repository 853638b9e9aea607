// internal/pkg/mq/dead_letter.go
package mq

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// DeadLetter 是一条终态失败的消息
type DeadLetter struct {
	Queue         string
	Body          []byte
	Headers       amqp.Table
	CorrelationID string
	RetryCount    int
	Reason        string
	FailedAt      time.Time
}

// DeadLetterSink 是终态失败消息的去处
type DeadLetterSink interface {
	Send(ctx context.Context, dl DeadLetter) error
}

// AMQPDeadLetterSink 把消息投递到 <queue><suffix> 队列
type AMQPDeadLetterSink struct {
	publisher Publisher
	suffix    string
}

func NewAMQPDeadLetterSink(publisher Publisher, suffix string) *AMQPDeadLetterSink {
	return &AMQPDeadLetterSink{publisher: publisher, suffix: suffix}
}

func (s *AMQPDeadLetterSink) Send(ctx context.Context, dl DeadLetter) error {
	headers := amqp.Table{}
	for k, v := range dl.Headers {
		headers[k] = v
	}
	headers[HeaderOriginalQueue] = dl.Queue
	headers[HeaderExceptionMessage] = dl.Reason
	headers[HeaderRetryCount] = int32(dl.RetryCount)
	headers[HeaderFailedAt] = dl.FailedAt.Format(time.RFC3339Nano)

	return s.publisher.Publish(ctx, Message{
		RoutingKey:    dl.Queue + s.suffix,
		CorrelationID: dl.CorrelationID,
		Headers:       headers,
		Body:          dl.Body,
	})
}

// KafkaWriter 是 *kafka.Writer 的最小接口
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaDeadLetterSink 把死信写入一个 Kafka 主题，便于离线分析与重放
type KafkaDeadLetterSink struct {
	writer KafkaWriter
}

func NewKafkaDeadLetterSink(writer KafkaWriter) *KafkaDeadLetterSink {
	return &KafkaDeadLetterSink{writer: writer}
}

func (s *KafkaDeadLetterSink) Send(ctx context.Context, dl DeadLetter) error {
	headers := KafkaHeaderCarrier{
		{Key: HeaderOriginalQueue, Value: []byte(dl.Queue)},
		{Key: HeaderExceptionMessage, Value: []byte(dl.Reason)},
		{Key: HeaderRetryCount, Value: []byte(strconv.Itoa(dl.RetryCount))},
		{Key: HeaderFailedAt, Value: []byte(dl.FailedAt.Format(time.RFC3339Nano))},
		{Key: HeaderCorrelationID, Value: []byte(dl.CorrelationID)},
	}
	otel.GetTextMapPropagator().Inject(ctx, &headers)

	msg := kafka.Message{
		Key:     []byte(dl.CorrelationID),
		Value:   dl.Body,
		Headers: headers,
		Time:    dl.FailedAt,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(err, "write dead letter to kafka")
	}
	return nil
}
