package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/feed"
)

// RedisConfig 描述 Redis Stream 镜像的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
}

// RedisRelay 把事件追加到 Redis Stream，按 MaxLen 近似裁剪历史。
type RedisRelay struct {
	client *redis.Client
	stream string
	maxLen int64
}

var _ Relay = (*RedisRelay)(nil)

// NewRedisRelay 创建 Redis Stream 镜像实例。
func NewRedisRelay(cfg RedisConfig) (*RedisRelay, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	stream := cfg.Stream
	if stream == "" {
		stream = "council:feed"
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisRelay{client: client, stream: stream, maxLen: maxLen}, nil
}

// Publish 把事件序列化后写入 Stream。
func (r *RedisRelay) Publish(ctx context.Context, event feed.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]any{
			"seq":     event.Seq,
			"type":    string(event.Type),
			"payload": payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("Redis 镜像事件失败: %w", err)
	}
	return nil
}

// Close 关闭 Redis 连接。
func (r *RedisRelay) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
