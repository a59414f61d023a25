// Package apq stores queries for automatic persisted queries, keyed by the
// lower-case hex SHA-256 of the query text.
package apq

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"shelf/pkg/cache"
	"shelf/pkg/monitoring"
)

const (
	DefaultTTL        = 24 * time.Hour
	DefaultMaxEntries = 1000
	redisKeyPrefix    = "shelf:apq:"
	// Queries are content-addressed, so a local copy never goes stale; the
	// local TTL only bounds how long an idle entry holds memory.
	localTTL = 10 * time.Minute
)

// Store persists query text by hash. Get reports ok=false on a miss.
type Store interface {
	Get(ctx context.Context, hash string) (query string, ok bool, err error)
	Put(ctx context.Context, hash, query string) error
}

// Hash returns the persisted-query key for query.
func Hash(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])
}

// MemoryStore keeps queries in a bounded in-process LRU.
type MemoryStore struct {
	cache *cache.Cache[string]
	ttl   time.Duration
}

// NewMemoryStore creates an in-memory store. Non-positive arguments take the
// package defaults.
func NewMemoryStore(ttl time.Duration, maxEntries int, metrics *monitoring.GraphQLMetrics) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	hooks := cache.MetricsHooks{
		OnEvict: func(string) { metrics.IncAPQ("evicted") },
	}
	return &MemoryStore{
		cache: cache.New[string](cache.Options{TTL: ttl, MaxEntries: maxEntries}, hooks),
		ttl:   ttl,
	}
}

func (s *MemoryStore) Get(_ context.Context, hash string) (string, bool, error) {
	query, ok := s.cache.Peek(hash)
	return query, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, hash, query string) error {
	s.cache.Set(hash, query, s.ttl)
	return nil
}

// Len reports the number of stored queries.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

// RedisStore shares persisted queries between replicas.
type RedisStore struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

func NewRedisStore(client goredis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, hash string) (string, bool, error) {
	query, err := s.client.Get(ctx, redisKeyPrefix+hash).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("apq get: %w", err)
	}
	return query, true, nil
}

func (s *RedisStore) Put(ctx context.Context, hash, query string) error {
	if err := s.client.Set(ctx, redisKeyPrefix+hash, query, s.ttl).Err(); err != nil {
		return fmt.Errorf("apq put: %w", err)
	}
	return nil
}

// CachedStore fronts a shared backend with a local LRU. Concurrent lookups of
// one hash share a single backend load.
type CachedStore struct {
	backend Store
	local   *cache.Cache[string]
}

func NewCachedStore(backend Store, maxEntries int, metrics *monitoring.GraphQLMetrics) *CachedStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	hooks := cache.MetricsHooks{
		OnEvict: func(string) { metrics.IncAPQ("evicted") },
	}
	return &CachedStore{
		backend: backend,
		local:   cache.New[string](cache.Options{TTL: localTTL, MaxEntries: maxEntries}, hooks),
	}
}

func (s *CachedStore) Get(ctx context.Context, hash string) (string, bool, error) {
	return s.local.Get(ctx, hash, s.backend.Get)
}

func (s *CachedStore) Put(ctx context.Context, hash, query string) error {
	if err := s.backend.Put(ctx, hash, query); err != nil {
		return err
	}
	s.local.Set(hash, query, localTTL)
	return nil
}
