// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BrokerConnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_broker_connect_attempts_total",
		Help: "Broker connection attempts by result.",
	}, []string{"result"})

	Messages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_messages_total",
		Help: "Consumed messages by queue and settlement outcome.",
	}, []string{"queue", "outcome"})

	DeadLetters = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_dead_letters_total",
		Help: "Messages that reached a dead letter sink, by original queue.",
	}, []string{"queue"})

	DeadLettersObserved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_dead_letters_observed_total",
		Help: "Dead letters read back by the monitor, by original queue and sink.",
	}, []string{"queue", "source"})

	PlacementWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orderflow_placement_wait_seconds",
		Help:    "Time POST /orders spent waiting for the fulfillment event.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
	}, []string{"status"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderflow_notifications_total",
		Help: "Notification dispatch results by kind.",
	}, []string{"kind", "result"})
)

// 消息结算结果
const (
	OutcomeAck        = "ack"
	OutcomeRetry      = "retry"
	OutcomeDeadLetter = "dead_letter"
)
