package mq

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"
)

// fakeBroker 模拟 RabbitMQ：记录声明与发布，把投递转发给最新的消费者
type fakeBroker struct {
	mu        sync.Mutex
	failDials atomic.Int32 // 剩余需要失败的拨号次数，<0 表示一直失败
	dials     atomic.Int32
	declared  map[string]bool
	published []fakePublish
	consumers map[string][]chan amqp.Delivery
	conns     []*fakeConnection
	acks      *fakeAcknowledger
	nextTag   uint64
}

type fakePublish struct {
	Exchange   string
	RoutingKey string
	Msg        amqp.Publishing
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		declared:  map[string]bool{},
		consumers: map[string][]chan amqp.Delivery{},
		acks:      &fakeAcknowledger{},
	}
}

func (b *fakeBroker) dial(string) (Connection, error) {
	b.dials.Add(1)
	if n := b.failDials.Load(); n != 0 {
		if n > 0 {
			b.failDials.Add(-1)
		}
		return nil, errors.New("connection refused")
	}
	conn := &fakeConnection{broker: b}
	b.mu.Lock()
	b.conns = append(b.conns, conn)
	b.mu.Unlock()
	return conn, nil
}

// dropLatest 模拟 broker 主动断开最近的一条连接
func (b *fakeBroker) dropLatest() {
	b.mu.Lock()
	conn := b.conns[len(b.conns)-1]
	b.mu.Unlock()
	conn.drop(&amqp.Error{Code: amqp.ConnectionForced, Reason: "forced"})
}

func (b *fakeBroker) deliver(queue string, body []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.consumers[queue]
	if len(subs) == 0 {
		return false
	}
	b.nextTag++
	subs[len(subs)-1] <- amqp.Delivery{
		Acknowledger: b.acks,
		DeliveryTag:  b.nextTag,
		Body:         body,
	}
	return true
}

func (b *fakeBroker) hasConsumer(queue string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.consumers[queue]) > 0
}

func (b *fakeBroker) publishes() []fakePublish {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]fakePublish(nil), b.published...)
}

type fakeConnection struct {
	broker *fakeBroker

	mu       sync.Mutex
	closed   bool
	notify   []chan *amqp.Error
	channels []*fakeChannel
}

func (c *fakeConnection) Channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}
	ch := &fakeChannel{conn: c}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *fakeConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = append(c.notify, receiver)
	return receiver
}

func (c *fakeConnection) Close() error {
	c.drop(nil)
	return nil
}

func (c *fakeConnection) drop(reason *amqp.Error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	channels := c.channels
	notify := c.notify
	c.mu.Unlock()

	for _, ch := range channels {
		_ = ch.Close()
	}
	for _, n := range notify {
		if reason != nil {
			n <- reason
		}
		close(n)
	}
}

type fakeChannel struct {
	conn *fakeConnection

	mu         sync.Mutex
	closed     bool
	confirming bool
	deliveries []chan amqp.Delivery
	notify     []chan *amqp.Error
}

func (ch *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	ch.conn.broker.mu.Lock()
	defer ch.conn.broker.mu.Unlock()
	ch.conn.broker.declared["exchange:"+name] = true
	return nil
}

func (ch *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	ch.conn.broker.mu.Lock()
	defer ch.conn.broker.mu.Unlock()
	ch.conn.broker.declared["queue:"+name] = true
	return amqp.Queue{Name: name}, nil
}

func (ch *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	ch.conn.broker.mu.Lock()
	defer ch.conn.broker.mu.Unlock()
	ch.conn.broker.declared["bind:"+exchange+"->"+name] = true
	return nil
}

func (ch *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error { return nil }

// PublishWithDeferredConfirmWithContext 立即“确认”：返回 nil 的 DeferredConfirmation
func (ch *fakeChannel) PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error) {
	ch.mu.Lock()
	closed := ch.closed
	ch.mu.Unlock()
	if closed {
		return nil, amqp.ErrClosed
	}
	b := ch.conn.broker
	b.mu.Lock()
	b.published = append(b.published, fakePublish{Exchange: exchange, RoutingKey: key, Msg: msg})
	b.mu.Unlock()
	return nil, nil
}

func (ch *fakeChannel) Confirm(noWait bool) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	ch.confirming = true
	return nil
}

func (ch *fakeChannel) inConfirmMode() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.confirming
}

func (ch *fakeChannel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		close(receiver)
		return receiver
	}
	ch.notify = append(ch.notify, receiver)
	return receiver
}

func (ch *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	out := make(chan amqp.Delivery, 16)
	ch.mu.Lock()
	ch.deliveries = append(ch.deliveries, out)
	ch.mu.Unlock()

	b := ch.conn.broker
	b.mu.Lock()
	b.consumers[queue] = append(b.consumers[queue], out)
	b.mu.Unlock()
	return out, nil
}

func (ch *fakeChannel) Close() error {
	ch.closeWith(nil)
	return nil
}

// closeWith 模拟 broker 以 channel 级异常关闭 channel，连接保持打开
func (ch *fakeChannel) closeWith(reason *amqp.Error) {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	deliveries := ch.deliveries
	notify := ch.notify
	ch.mu.Unlock()

	b := ch.conn.broker
	b.mu.Lock()
	for queue, subs := range b.consumers {
		kept := subs[:0]
		for _, s := range subs {
			if !containsChan(deliveries, s) {
				kept = append(kept, s)
			}
		}
		b.consumers[queue] = kept
	}
	b.mu.Unlock()

	for _, d := range deliveries {
		close(d)
	}
	for _, n := range notify {
		if reason != nil {
			n <- reason
		}
		close(n)
	}
}

func containsChan(list []chan amqp.Delivery, c chan amqp.Delivery) bool {
	for _, l := range list {
		if l == c {
			return true
		}
	}
	return false
}

// fakeAcknowledger 记录 ack / reject 调用
type fakeAcknowledger struct {
	mu       sync.Mutex
	acks     []uint64
	rejects  []uint64
	requeued []bool
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks = append(a.acks, tag)
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	return a.Reject(tag, requeue)
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejects = append(a.rejects, tag)
	a.requeued = append(a.requeued, requeue)
	return nil
}

func (a *fakeAcknowledger) ackCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.acks)
}

func (a *fakeAcknowledger) rejectCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rejects)
}

// recordingPublisher 记录 FailureHandler / 死信 sink 的发布
type recordingPublisher struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (p *recordingPublisher) Publish(ctx context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.msgs...)
}

type recordingSink struct {
	mu      sync.Mutex
	letters []DeadLetter
}

func (s *recordingSink) Send(ctx context.Context, dl DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.letters = append(s.letters, dl)
	return nil
}

func (s *recordingSink) all() []DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeadLetter(nil), s.letters...)
}
