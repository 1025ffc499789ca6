package local

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// BlobStore is a flat string-keyed string store.
type BlobStore interface {
	// Get returns the value of key; ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// RedisBlobs keeps blobs in Redis under a common key prefix.
type RedisBlobs struct {
	client *redis.Client
	prefix string
}

// NewRedisBlobs connects to addr, given either as a redis:// URL or as host:port.
func NewRedisBlobs(ctx context.Context, addr, prefix string) (*RedisBlobs, error) {
	if !strings.Contains(addr, "://") {
		addr = "redis://" + addr
	}
	opt, err := redis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisBlobs{client: client, prefix: prefix}, nil
}

func (r *RedisBlobs) key(k string) string {
	return r.prefix + k
}

func (r *RedisBlobs) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

func (r *RedisBlobs) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisBlobs) Close() error {
	return r.client.Close()
}

// MemoryBlobs is a BlobStore held in process memory.
type MemoryBlobs struct {
	mu   sync.Mutex
	data map[string]string
}

func NewMemoryBlobs() *MemoryBlobs {
	return &MemoryBlobs{data: map[string]string{}}
}

func (m *MemoryBlobs) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryBlobs) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}
