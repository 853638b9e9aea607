// internal/service/catalog/application/pending_store.go
package application

import (
	"context"
	"sync"
	"time"

	"orderflow/internal/pkg/events"
	"orderflow/internal/pkg/logger"
	"orderflow/internal/service/catalog/domain"
)

const defaultJanitorInterval = time.Minute

type pendingEntry struct {
	order domain.PendingOrder
	done  chan struct{}
}

// PendingStore 保存进程内的待完成订单，供 HTTP 处理协程和 fulfillment 消费协程并发访问。
// 超过 TTL 的记录会被后台清理任务移除。
type PendingStore struct {
	mu      sync.RWMutex
	entries map[string]*pendingEntry
	ttl     time.Duration
	now     func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func NewPendingStore(ttl time.Duration) *PendingStore {
	return &PendingStore{
		entries: make(map[string]*pendingEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Add 在发布 order-created 之前登记记录
func (s *PendingStore) Add(order domain.PendingOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[order.CorrelationID] = &pendingEntry{order: order.Clone(), done: make(chan struct{})}
}

// Get 返回记录的一份快照
func (s *PendingStore) Get(correlationID string) (domain.PendingOrder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[correlationID]
	if !ok {
		return domain.PendingOrder{}, false
	}
	return e.order.Clone(), true
}

// Complete 用 fulfillment 事件更新记录。
// found 表示记录存在；applied 表示本次调用完成了 pending -> completed 的转换，重复事件返回 false。
func (s *PendingStore) Complete(evt events.OrderFulfilled) (found, applied bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[evt.CorrelationID]
	if !ok {
		return false, false
	}
	if e.order.Status == domain.StatusCompleted {
		return true, false
	}

	e.order.Status = domain.StatusCompleted
	e.order.Items = append([]events.LineItem(nil), evt.Items...)
	if evt.PurchaserID != "" {
		e.order.PurchaserID = evt.PurchaserID
	}
	e.order.OrderID = evt.OrderID
	e.order.StoredTotal = evt.Total
	close(e.done)
	return true, true
}

// Wait 阻塞直到记录完成、超时或 ctx 取消，然后返回当时的快照
func (s *PendingStore) Wait(ctx context.Context, correlationID string, timeout time.Duration) (domain.PendingOrder, bool) {
	s.mu.RLock()
	e, ok := s.entries[correlationID]
	s.mu.RUnlock()
	if !ok {
		return domain.PendingOrder{}, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-e.done:
	case <-timer.C:
	case <-ctx.Done():
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return e.order.Clone(), true
}

// Evict 移除创建时间早于 TTL 的记录，返回移除的数量
func (s *PendingStore) Evict() int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.entries {
		if e.order.CreatedAt.Before(cutoff) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

func (s *PendingStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Start 启动后台清理任务
func (s *PendingStore) Start(ctx context.Context) error {
	if s.ttl <= 0 {
		return nil
	}
	interval := defaultJanitorInterval
	if s.ttl < interval {
		interval = s.ttl
	}
	jctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel, s.done = cancel, make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-jctx.Done():
				return
			case <-ticker.C:
				if n := s.Evict(); n > 0 {
					logger.Ctx(jctx).Info().Int("evicted", n).Msg("🧹 Evicted expired pending orders")
				}
			}
		}
	}()
	logger.Ctx(ctx).Info().Dur("ttl", s.ttl).Msg("✅ Pending order janitor started")
	return nil
}

func (s *PendingStore) Stop(ctx context.Context) {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	logger.Ctx(ctx).Info().Msg("✅ Pending order janitor stopped.")
}
