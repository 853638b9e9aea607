// internal/pkg/mq/manager.go
package mq

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"orderflow/internal/pkg/logger"
	"orderflow/internal/pkg/metrics"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultBaseDelay   = 5 * time.Second
	defaultMaxDelay    = 30 * time.Second
	defaultMaxAttempts = 10
)

type Option func(*Manager)

// WithBackoff 覆盖重连退避参数: delay = min(base*attempt, max)
func WithBackoff(base, max time.Duration, attempts int) Option {
	return func(m *Manager) {
		m.baseDelay, m.maxDelay, m.maxAttempts = base, max, attempts
	}
}

func WithPrefetch(n int) Option {
	return func(m *Manager) { m.prefetch = n }
}

func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dial = d }
}

// Message 是一次发布的内容
type Message struct {
	Exchange      string
	RoutingKey    string
	CorrelationID string
	Headers       amqp.Table
	Body          []byte
}

// DeliveryFunc 处理一条投递，负责自行 ack/reject
type DeliveryFunc func(ctx context.Context, d *Delivery)

// Manager 持有进程内唯一的一条 broker 逻辑连接。
//
// Connect 立即返回并在后台建立连接；首次连接最多尝试 maxAttempts 次，
// 耗尽后记录终态错误并停止（之后可以再次手动 Connect）。
// 连接成功后若断开，则在后台无限地开始新一轮 maxAttempts 次重试。
// 每次连上都会重新声明拓扑并恢复所有已注册的订阅。
type Manager struct {
	url      string
	topology Topology
	dial     Dialer
	tracer   trace.Tracer

	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	prefetch    int

	mu         sync.Mutex
	conn       Connection
	ch         Channel
	connecting bool
	lastErr    error
	closed     bool
	changed    chan struct{}
	subs       []*Subscription

	pubMu sync.Mutex
	done  chan struct{}
}

func NewManager(url string, topology Topology, opts ...Option) *Manager {
	m := &Manager{
		url:         url,
		topology:    topology,
		dial:        DialAMQP,
		tracer:      otel.Tracer("orderflow/mq"),
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
		maxAttempts: defaultMaxAttempts,
		prefetch:    1,
		changed:     make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect 触发后台连接，已连接或正在连接时什么都不做
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.connecting || m.conn != nil {
		return
	}
	m.connecting = true
	m.lastErr = nil
	m.notifyLocked()
	go m.connectInitial()
}

// WaitForChannel 阻塞直到有可用的 channel。
// 首轮重试耗尽时返回终态错误；从未调用 Connect 时返回 ErrNotConnected。
func (m *Manager) WaitForChannel(ctx context.Context) (Channel, error) {
	for {
		m.mu.Lock()
		switch {
		case m.closed:
			m.mu.Unlock()
			return nil, ErrClosed
		case m.ch != nil:
			ch := m.ch
			m.mu.Unlock()
			return ch, nil
		case m.conn != nil:
			// 连接仍在，发布 channel 正在重建
		case !m.connecting && m.lastErr != nil:
			err := m.lastErr
			m.mu.Unlock()
			return nil, err
		case !m.connecting:
			m.mu.Unlock()
			return nil, ErrNotConnected
		}
		changed := m.changed
		m.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Ready 报告当前是否持有可用连接
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ch != nil
}

// Publish 等待连接就绪后发布一条持久化消息，并注入追踪上下文
func (m *Manager) Publish(ctx context.Context, msg Message) error {
	dest := msg.RoutingKey
	if msg.Exchange != "" {
		dest = msg.Exchange
	}
	ctx, span := m.tracer.Start(ctx, "mq.Publish "+dest,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination", dest),
			attribute.String("messaging.message.conversation_id", msg.CorrelationID),
		),
	)
	defer span.End()

	ch, err := m.WaitForChannel(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "broker not ready")
		return errors.Wrap(err, "wait for broker channel")
	}

	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	otel.GetTextMapPropagator().Inject(ctx, AMQPHeaderCarrier(headers))

	publishing := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: msg.CorrelationID,
		MessageId:     uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		Headers:       headers,
		Body:          msg.Body,
	}

	// amqp091 的 channel 不保证并发安全，发布操作串行化
	m.pubMu.Lock()
	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, msg.Exchange, msg.RoutingKey, false, false, publishing)
	m.pubMu.Unlock()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return errors.Wrapf(err, "publish to %s", dest)
	}

	// 发布 channel 处于 confirm 模式，等待 broker 确认后才算发布成功
	if confirm != nil {
		acked, err := confirm.WaitContext(ctx)
		if err == nil && !acked {
			err = ErrNotConfirmed
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "publish not confirmed")
			return errors.Wrapf(err, "confirm publish to %s", dest)
		}
	}
	return nil
}

// PublishJSON 序列化 v 后发布
func (m *Manager) PublishJSON(ctx context.Context, exchange, routingKey, correlationID string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal message")
	}
	return m.Publish(ctx, Message{
		Exchange:      exchange,
		RoutingKey:    routingKey,
		CorrelationID: correlationID,
		Body:          body,
	})
}

// Consume 注册一个在重连后自动恢复的订阅。
// 注册本身不阻塞：连接就绪后订阅才真正开始投递，ctx 结束时订阅被注销。
func (m *Manager) Consume(ctx context.Context, queue string, fn DeliveryFunc) (*Subscription, error) {
	sub := &Subscription{ctx: ctx, queue: queue, fn: fn}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.subs = append(m.subs, sub)
	conn := m.conn
	m.mu.Unlock()

	if conn != nil {
		m.startSubscription(conn, sub)
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-m.done:
		}
		m.removeSubscription(sub)
	}()
	return sub, nil
}

// Close 停止所有重连循环并关闭连接
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.done)
	conn := m.conn
	m.conn, m.ch = nil, nil
	m.connecting = false
	m.notifyLocked()
	m.mu.Unlock()

	logger.L().Info().Msg("🛑 Broker connection manager closed.")
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (m *Manager) connectInitial() {
	err := m.cycle()
	if err == nil || errors.Is(err, ErrClosed) {
		return
	}

	m.mu.Lock()
	m.connecting = false
	m.lastErr = err
	m.notifyLocked()
	m.mu.Unlock()

	logger.L().Error().Err(err).Int("attempts", m.maxAttempts).
		Msg("🚨 CRITICAL: could not connect to broker, giving up initial connection")
}

// reconnect 在连接断开后运行，直到重新连上或 Manager 被关闭
func (m *Manager) reconnect() {
	delay := m.baseDelay
	for {
		if !m.sleep(delay) {
			return
		}
		err := m.cycle()
		if err == nil || errors.Is(err, ErrClosed) {
			return
		}
		logger.L().Warn().Err(err).Dur("next_cycle_in", m.maxDelay).
			Msg("⚠️ Reconnect cycle exhausted, starting a fresh one")
		delay = m.maxDelay
	}
}

func (m *Manager) cycle() error {
	var lastErr error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		logger.L().Info().Int("attempt", attempt).Int("max_attempts", m.maxAttempts).Msg("Connecting to broker...")

		err := m.establish()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrClosed) {
			return err
		}
		lastErr = err
		metrics.BrokerConnectAttempts.WithLabelValues("failure").Inc()

		if attempt == m.maxAttempts {
			break
		}
		delay := Backoff(m.baseDelay, m.maxDelay, attempt)
		logger.L().Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("Broker connection failed")
		if !m.sleep(delay) {
			return ErrClosed
		}
	}
	return errors.Wrapf(lastErr, "broker unreachable after %d attempts", m.maxAttempts)
}

func (m *Manager) establish() error {
	conn, err := m.dial(m.url)
	if err != nil {
		return errors.Wrap(err, "dial broker")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "open channel")
	}
	if err := m.topology.Declare(ch); err != nil {
		_ = conn.Close()
		return err
	}
	chClosed, err := preparePublishChannel(ch)
	if err != nil {
		_ = conn.Close()
		return err
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	m.conn, m.ch = conn, ch
	m.connecting = false
	m.lastErr = nil
	subs := append([]*Subscription(nil), m.subs...)
	m.notifyLocked()
	m.mu.Unlock()

	metrics.BrokerConnectAttempts.WithLabelValues("success").Inc()
	logger.L().Info().Strs("queues", m.topology.QueueNames()).Msg("✅ Connected to broker, topology declared")

	for _, sub := range subs {
		m.startSubscription(conn, sub)
	}
	go m.watch(conn, closed)
	go m.watchChannel(conn, ch, chClosed)
	return nil
}

// preparePublishChannel 打开 publisher confirm 并监听 channel 关闭
func preparePublishChannel(ch Channel) (<-chan *amqp.Error, error) {
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, errors.Wrap(err, "enable publisher confirms")
	}
	return ch.NotifyClose(make(chan *amqp.Error, 1)), nil
}

// watchChannel 处理连接仍在、但发布 channel 被 broker 关闭的情况（例如 404、PRECONDITION_FAILED），
// 在同一条连接上重新打开发布 channel。连接本身断开时交给 watch 处理。
func (m *Manager) watchChannel(conn Connection, ch Channel, closed <-chan *amqp.Error) {
	var reason *amqp.Error
	select {
	case reason = <-closed:
	case <-m.done:
		return
	}

	m.mu.Lock()
	if m.closed || m.conn != conn || m.ch != ch {
		m.mu.Unlock()
		return
	}
	m.ch = nil
	m.notifyLocked()
	m.mu.Unlock()

	evt := logger.L().Warn()
	if reason != nil {
		evt = evt.Str("reason", reason.Reason).Int("code", reason.Code)
	}
	evt.Msg("⚠️ Publish channel closed, reopening")

	for {
		next, nextClosed, err := m.openPublishChannel(conn)
		if err == nil {
			m.mu.Lock()
			if m.closed || m.conn != conn {
				m.mu.Unlock()
				_ = next.Close()
				return
			}
			m.ch = next
			m.notifyLocked()
			m.mu.Unlock()

			logger.L().Info().Msg("✅ Publish channel reopened")
			go m.watchChannel(conn, next, nextClosed)
			return
		}
		if !m.isCurrent(conn) {
			return
		}
		logger.L().Warn().Err(err).Dur("retry_in", m.baseDelay).Msg("Failed to reopen publish channel")
		if !m.sleep(m.baseDelay) {
			return
		}
	}
}

func (m *Manager) openPublishChannel(conn Connection) (Channel, <-chan *amqp.Error, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, errors.Wrap(err, "open channel")
	}
	closed, err := preparePublishChannel(ch)
	if err != nil {
		return nil, nil, err
	}
	return ch, closed, nil
}

func (m *Manager) watch(conn Connection, closed <-chan *amqp.Error) {
	var reason *amqp.Error
	select {
	case reason = <-closed:
	case <-m.done:
		return
	}

	m.mu.Lock()
	if m.closed || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn, m.ch = nil, nil
	m.connecting = true
	m.notifyLocked()
	m.mu.Unlock()

	evt := logger.L().Warn()
	if reason != nil {
		evt = evt.Str("reason", reason.Reason).Int("code", reason.Code)
	}
	evt.Dur("retry_in", m.baseDelay).Msg("⚠️ Broker connection lost, reconnecting")

	m.reconnect()
}

func (m *Manager) startSubscription(conn Connection, sub *Subscription) {
	if !sub.begin() {
		return
	}
	go func() {
		defer sub.wg.Done()
		for {
			err := sub.run(conn, m.prefetch)
			if sub.ctx.Err() != nil || !m.isCurrent(conn) {
				return
			}
			// 连接仍在但消费 channel 被关闭（例如 channel 级错误），在同一连接上重新订阅
			logger.L().Warn().Err(err).Str("queue", sub.queue).Msg("Consumer channel closed, reopening")
			if !m.sleep(m.baseDelay) {
				return
			}
		}
	}()
}

func (m *Manager) removeSubscription(sub *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.subs {
		if s == sub {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return
		}
	}
}

func (m *Manager) isCurrent(conn Connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && m.conn == conn
}

func (m *Manager) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-m.done:
		return false
	}
}

// notifyLocked 唤醒所有 WaitForChannel 的等待者，调用方需持有 m.mu
func (m *Manager) notifyLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

// Subscription 是一个在重连后自动恢复的队列订阅
type Subscription struct {
	ctx   context.Context
	queue string
	fn    DeliveryFunc

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// Wait 阻塞直到订阅的消费循环全部退出，调用前应先取消注册时的 ctx
func (s *Subscription) Wait() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Subscription) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.ctx.Err() != nil {
		return false
	}
	s.wg.Add(1)
	return true
}

// run 在一条独立 channel 上消费，直到投递通道关闭或 ctx 结束
func (s *Subscription) run(conn Connection, prefetch int) error {
	ch, err := conn.Channel()
	if err != nil {
		return errors.Wrap(err, "open consumer channel")
	}
	defer ch.Close()

	if err := ch.Qos(prefetch, 0, false); err != nil {
		return errors.Wrap(err, "set qos")
	}
	deliveries, err := ch.Consume(s.queue, "", false, false, false, false, nil)
	if err != nil {
		return errors.Wrapf(err, "consume %s", s.queue)
	}
	logger.L().Info().Str("queue", s.queue).Int("prefetch", prefetch).Msg("✅ Consumer started")

	for {
		select {
		case <-s.ctx.Done():
			logger.L().Info().Str("queue", s.queue).Msg("🛑 Consumer shutting down.")
			return s.ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.Errorf("delivery channel for %s closed", s.queue)
			}
			s.fn(s.ctx, NewDelivery(s.queue, d))
		}
	}
}
