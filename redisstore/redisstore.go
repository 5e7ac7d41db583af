// Package redisstore provides a Redis-backed cache metadata store for
// deployments that share one metadata view across processes. The default
// on-disk layout uses leveldbstore; this store is an opt-in alternate.
// Bodies stay in the local body store regardless.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sandrolain/httpclient/cache"
)

// DefaultKeyPrefix namespaces metadata records inside Redis.
const DefaultKeyPrefix = "httpclient:meta:"

// Config holds the configuration for creating a Redis metadata store.
type Config struct {
	// Address is the Redis server address (e.g. "localhost:6379").
	// Required.
	Address string

	// Password is the Redis password. Optional.
	Password string

	// DB is the Redis database number. Optional, defaults to 0.
	DB int

	// KeyPrefix namespaces the records. Optional, defaults to
	// DefaultKeyPrefix.
	KeyPrefix string

	// DialTimeout, ReadTimeout and WriteTimeout bound the corresponding
	// Redis operations. Optional, default 5 seconds each.
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Store is a cache.MetadataStore over a Redis server.
type Store struct {
	client *redis.Client
	prefix string
}

// New connects to Redis and verifies the connection with a ping.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redisstore: address is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisstore: connect to %s: %w", cfg.Address, err)
	}
	return &Store{client: client, prefix: cfg.KeyPrefix}, nil
}

// NewWithClient wraps an existing go-redis client.
func NewWithClient(client *redis.Client, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &Store{client: client, prefix: keyPrefix}
}

func (s *Store) key(key string) string {
	return s.prefix + key
}

// Get returns the metadata record for key.
func (s *Store) Get(ctx context.Context, key string) (*cache.Metadata, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: get %q: %w", key, err)
	}
	return cache.DecodeMetadata(data)
}

// Put upserts the metadata record.
func (s *Store) Put(ctx context.Context, m *cache.Metadata) error {
	data, err := cache.EncodeMetadata(m)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(m.Key), data, 0).Err(); err != nil {
		return fmt.Errorf("redisstore: put %q: %w", m.Key, err)
	}
	return nil
}

// Delete removes the record for key. Missing keys are a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redisstore: delete %q: %w", key, err)
	}
	return nil
}

// TouchLastAccessed updates the last-accessed epoch of key.
func (s *Store) TouchLastAccessed(ctx context.Context, key string, epoch int64) error {
	m, err := s.Get(ctx, key)
	if errors.Is(err, cache.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	m.LastAccessedAtEpoch = epoch
	return s.Put(ctx, m)
}

// Enumerate walks every record via SCAN.
func (s *Store) Enumerate(ctx context.Context, fn func(m *cache.Metadata) bool) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("redisstore: enumerate get %q: %w", iter.Val(), err)
		}
		m, err := cache.DecodeMetadata(data)
		if err != nil {
			return err
		}
		if !fn(m) {
			return nil
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redisstore: enumerate: %w", err)
	}
	return nil
}

// Purge removes every record under the key prefix.
func (s *Store) Purge(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redisstore: purge %q: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redisstore: purge: %w", err)
	}
	return nil
}

// Reset is Purge for a remote store; the server owns the physical files.
func (s *Store) Reset(ctx context.Context) error {
	return s.Purge(ctx)
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
