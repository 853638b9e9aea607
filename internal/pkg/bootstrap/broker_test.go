package bootstrap

import (
	"testing"

	"orderflow/internal/pkg/config"
	"orderflow/internal/pkg/mq"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeadLetterSink_Selection(t *testing.T) {
	cfg := config.Default()
	mgr := mq.NewManager(cfg.Broker.URL, mq.NewTopology(cfg.Broker))
	defer mgr.Close()

	app := &App{ServiceName: "test-service", Config: cfg}

	cfg.Broker.DeadLetter.Sink = "amqp"
	sink, err := app.deadLetterSink(mgr)
	require.NoError(t, err)
	assert.IsType(t, &mq.AMQPDeadLetterSink{}, sink)
	assert.Empty(t, app.closers)

	cfg.Broker.DeadLetter.Sink = "kafka"
	sink, err = app.deadLetterSink(mgr)
	require.NoError(t, err)
	assert.IsType(t, &mq.KafkaDeadLetterSink{}, sink)
	require.Len(t, app.closers, 1)
	assert.Equal(t, "kafka-writer", app.closers[0].name)

	cfg.Broker.DeadLetter.Sink = "s3"
	_, err = app.deadLetterSink(mgr)
	assert.Error(t, err)
}
