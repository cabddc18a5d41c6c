package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"custody-chain/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript 只删除仍由本持有者持有的锁。
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig 描述 Redis 锁的连接信息。
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
	Retry    time.Duration
}

// RedisLocker 使用 SET NX PX 实现跨副本互斥。
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
	owns   bool
}

// NewRedisLocker 创建 Redis 锁并检查连通性。
func NewRedisLocker(ctx context.Context, cfg RedisConfig) (*RedisLocker, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis 地址不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	l := NewRedisLockerWithClient(client, cfg)
	l.owns = true
	return l, nil
}

// NewRedisLockerWithClient 复用已有客户端。
func NewRedisLockerWithClient(client redis.UniversalClient, cfg RedisConfig) *RedisLocker {
	if cfg.Prefix == "" {
		cfg.Prefix = "custody:lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}
	if cfg.Retry <= 0 {
		cfg.Retry = 100 * time.Millisecond
	}
	return &RedisLocker{client: client, prefix: cfg.Prefix, ttl: cfg.TTL, retry: cfg.Retry}
}

// Acquire 轮询直到 SET NX 成功或上下文结束。锁在 TTL 后自动过期，防止持有者崩溃后死锁。
func (r *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	fullKey := r.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, fullKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("获取 Redis 锁失败: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.client, []string{fullKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				logger.L().Warn("释放 Redis 锁失败", slog.String("key", fullKey), slog.Any("error", err))
			}
		})
	}, nil
}

// Close 关闭自建的 Redis 连接。
func (r *RedisLocker) Close() error {
	if r == nil || !r.owns {
		return nil
	}
	return r.client.Close()
}

var _ Locker = (*RedisLocker)(nil)
