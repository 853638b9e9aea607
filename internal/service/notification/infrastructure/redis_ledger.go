// internal/service/notification/infrastructure/redis_ledger.go
package infrastructure

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultLedgerTTL 覆盖消息在重试与死信之间可能停留的时间
const DefaultLedgerTTL = 7 * 24 * time.Hour

// RedisSentLedger 用 Redis key 记录已发送的通知
type RedisSentLedger struct {
	rdb goredis.UniversalClient
	ttl time.Duration
}

func NewRedisSentLedger(rdb goredis.UniversalClient, ttl time.Duration) *RedisSentLedger {
	if ttl <= 0 {
		ttl = DefaultLedgerTTL
	}
	return &RedisSentLedger{rdb: rdb, ttl: ttl}
}

func (l *RedisSentLedger) Seen(ctx context.Context, key string) (bool, error) {
	n, err := l.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Record 只在 key 不存在时写入，保留第一次发送的时间
func (l *RedisSentLedger) Record(ctx context.Context, key string) error {
	return l.rdb.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), l.ttl).Err()
}
