package quizstudio

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
)

// Backend is durable key-value storage for whole-collection snapshots
type Backend interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
	Close() error
}

// OpenBackend opens the backend selected by cfg.
func OpenBackend(cfg StoreConfig) (Backend, error) {
	switch cfg.Driver {
	case "sqlite":
		return OpenDB(cfg.SQLitePath)
	case "redis":
		return OpenRedisBackend(cfg)
	case "memory":
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// MemoryBackend keeps snapshots in process memory
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (m *MemoryBackend) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (m *MemoryBackend) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryBackend) Close() error { return nil }

// RedisBackend stores each collection under prefix+key
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
}

// OpenRedisBackend connects to redis and pings it
func OpenRedisBackend(cfg StoreConfig) (*RedisBackend, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddr},
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	return NewRedisBackend(client, cfg.RedisPrefix), nil
}

// NewRedisBackend wraps an existing client
func NewRedisBackend(client redis.UniversalClient, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

func (r *RedisBackend) Get(key string) ([]byte, bool, error) {
	value, err := r.client.Get(context.Background(), r.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get collection %s: %w", key, err)
	}
	return value, true, nil
}

// Put relies on SET being atomic: readers see either the old or the new snapshot.
func (r *RedisBackend) Put(key string, value []byte) error {
	if err := r.client.Set(context.Background(), r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to write collection %s: %w", key, err)
	}
	return nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
