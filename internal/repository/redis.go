package repository

import (
	"context"
	"fmt"

	"transfit/internal/config"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisQueueKey = "transfit:sync:retry_queue"

// RedisQueueRepository keeps the retry queue blob under a single redis key.
type RedisQueueRepository struct {
	client *redis.Client
	key    string
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisQueueRepository(client *redis.Client, key string) *RedisQueueRepository {
	if key == "" {
		key = DefaultRedisQueueKey
	}
	return &RedisQueueRepository{
		client: client,
		key:    key,
	}
}

func (r *RedisQueueRepository) LoadQueue(ctx context.Context) ([]byte, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, r.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get retry queue from redis: %w", err)
	}
	return val, nil
}

func (r *RedisQueueRepository) SaveQueue(ctx context.Context, data []byte) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	// Очередь хранится без TTL: потеря данных недопустима
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set retry queue in redis: %w", err)
	}
	return nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
