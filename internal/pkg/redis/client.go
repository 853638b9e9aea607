// internal/pkg/redis/client.go
package redis

import (
	"context"
	"fmt"
	"time"

	"orderflow/internal/pkg/logger"

	goredis "github.com/redis/go-redis/v9"
)

// NewClient 根据地址数量创建单机或集群客户端，并确认连通
func NewClient(ctx context.Context, addrs []string, password string, db int) (goredis.UniversalClient, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis: no address configured")
	}
	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:        addrs,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %v: %w", addrs, err)
	}
	logger.Ctx(ctx).Info().Strs("addrs", addrs).Msg("✅ Successfully connected to Redis.")
	return client, nil
}
