package mode

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStoreConfig 描述 Redis 模式存储的连接参数。
type RedisStoreConfig struct {
	Address  string
	Password string
	DB       int
	Key      string
}

// RedisStore 使用 Redis 保存模式选择，便于多实例共享同一份配置。
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore 创建 Redis 模式存储实例。
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	key := cfg.Key
	if key == "" {
		key = "agentfi:" + StorageKey
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisStore{client: client, key: key}, nil
}

// Load 读取持久化的模式。键不存在或内容非法时视为未选择。
func (s *RedisStore) Load(ctx context.Context) (Name, bool, error) {
	value, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("读取模式失败: %w", err)
	}
	name, ok := Parse(value)
	if !ok {
		return "", false, nil
	}
	return name, true, nil
}

// Save 持久化模式选择。
func (s *RedisStore) Save(ctx context.Context, name Name) error {
	if err := s.client.Set(ctx, s.key, string(name), 0).Err(); err != nil {
		return fmt.Errorf("保存模式失败: %w", err)
	}
	return nil
}

// Clear 删除持久化的模式选择。
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("删除模式失败: %w", err)
	}
	return nil
}

// Close 关闭 Redis 连接。
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
