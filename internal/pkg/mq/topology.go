// internal/pkg/mq/topology.go
package mq

import (
	"orderflow/internal/pkg/config"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

type Exchange struct {
	Name string
	Kind string
}

// Queue 是一个持久化队列，Bindings 列出需要绑定到的 exchange
type Queue struct {
	Name     string
	Bindings []string
}

// Topology 描述每次（重新）连接后需要声明的 exchange 与队列
type Topology struct {
	Exchanges []Exchange
	Queues    []Queue
}

// NewTopology 根据配置生成整条订单流水线的拓扑。
// orders exchange 为 fanout，orders 与 orders.notifications 两个队列都绑定在上面，
// 一次发布即可让持久化消费者与通知消费者各自收到一份。
// 每个业务队列都有一个对应的死信队列。
func NewTopology(cfg config.BrokerConfig) Topology {
	q := cfg.Queues
	business := []Queue{
		{Name: q.Orders, Bindings: []string{cfg.Exchange}},
		{Name: q.Notifications, Bindings: []string{cfg.Exchange}},
		{Name: q.Products},
		{Name: q.Status},
	}

	t := Topology{Exchanges: []Exchange{{Name: cfg.Exchange, Kind: amqp.ExchangeFanout}}}
	t.Queues = append(t.Queues, business...)
	for _, b := range business {
		t.Queues = append(t.Queues, Queue{Name: b.Name + cfg.DeadLetter.Suffix})
	}
	return t
}

// QueueNames 返回拓扑中的全部队列名
func (t Topology) QueueNames() []string {
	names := make([]string, 0, len(t.Queues))
	for _, q := range t.Queues {
		names = append(names, q.Name)
	}
	return names
}

// Declare 幂等地声明所有 exchange、队列和绑定
func (t Topology) Declare(ch Channel) error {
	for _, ex := range t.Exchanges {
		if err := ch.ExchangeDeclare(ex.Name, ex.Kind, true, false, false, false, nil); err != nil {
			return errors.Wrapf(err, "declare exchange %s", ex.Name)
		}
	}
	for _, q := range t.Queues {
		if _, err := ch.QueueDeclare(q.Name, true, false, false, false, nil); err != nil {
			return errors.Wrapf(err, "declare queue %s", q.Name)
		}
		for _, ex := range q.Bindings {
			if err := ch.QueueBind(q.Name, "", ex, false, nil); err != nil {
				return errors.Wrapf(err, "bind queue %s to %s", q.Name, ex)
			}
		}
	}
	return nil
}
