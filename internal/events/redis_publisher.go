package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis list 投递参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Key      string
	// MaxLen 大于 0 时裁剪 list，只保留最新的事件。
	MaxLen int64
}

// RedisPublisher 使用 LPUSH 将事件写入 Redis list。
type RedisPublisher struct {
	client redis.UniversalClient
	key    string
	maxLen int64
	owns   bool
}

// NewRedisPublisher 创建 Redis 投递器并检查连通性。
func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	p := NewRedisPublisherWithClient(client, cfg)
	p.owns = true
	return p, nil
}

// NewRedisPublisherWithClient 复用已有客户端。
func NewRedisPublisherWithClient(client redis.UniversalClient, cfg RedisConfig) *RedisPublisher {
	key := cfg.Key
	if key == "" {
		key = "custody:transfers"
	}
	return &RedisPublisher{client: client, key: key, maxLen: cfg.MaxLen}
}

// Publish 实现 Publisher 接口。
func (p *RedisPublisher) Publish(ctx context.Context, event TransferEvent) error {
	body, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("编码事件失败: %w", err)
	}
	pipe := p.client.TxPipeline()
	pipe.LPush(ctx, p.key, body)
	if p.maxLen > 0 {
		pipe.LTrim(ctx, p.key, 0, p.maxLen-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("Redis 投递事件失败: %w", err)
	}
	return nil
}

// Close 关闭自建的 Redis 连接。
func (p *RedisPublisher) Close() error {
	if p == nil || !p.owns {
		return nil
	}
	return p.client.Close()
}

var _ Publisher = (*RedisPublisher)(nil)
