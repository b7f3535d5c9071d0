package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheStore is the generic key-value store the session services persist
// into. The storage layer guarantees single get/set/delete atomicity; no
// additional locking happens above it.
type CacheStore interface {
	Get(key string) ([]byte, error) // nil, nil when the key is absent
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
}

// RedisCacheStore is the redis-backed CacheStore implementation
type RedisCacheStore struct {
	client *redis.Client
}

// NewRedisCacheStore wraps an existing redis client
func NewRedisCacheStore(client *redis.Client) *RedisCacheStore {
	return &RedisCacheStore{client: client}
}

// ConnectRedis creates and pings a redis client
func ConnectRedis(addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	log.Printf("Redis connection verified at %s (db %d)", addr, db)
	return client, nil
}

// Get returns the value for key, or nil when the key is absent
func (s *RedisCacheStore) Get(key string) ([]byte, error) {
	ctx, cancel := opContext()
	defer cancel()

	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}
	return data, nil
}

// Set stores value under key with the given TTL
func (s *RedisCacheStore) Set(key string, value []byte, ttl time.Duration) error {
	ctx, cancel := opContext()
	defer cancel()

	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *RedisCacheStore) Delete(key string) error {
	ctx, cancel := opContext()
	defer cancel()

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}

func opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 3*time.Second)
}
