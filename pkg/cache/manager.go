package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/sdsc-collector/pkg/model"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested listing is not cached
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Manager is the Redis-backed raw listing cache.
type Manager struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewManager creates a cache manager. ttl <= 0 stores entries without expiry.
func NewManager(redisClient *redis.Client, ttl time.Duration) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Manager{
		redis: redisClient,
		ttl:   ttl,
	}
}

// Exists reports whether a listing is cached for (top, sub).
func (m *Manager) Exists(ctx context.Context, top, sub string) (bool, error) {
	n, err := m.redis.Exists(ctx, CacheKey{TopLevel: top, SubLevel: sub}.String()).Result()
	if err != nil {
		CacheErrors.WithLabelValues("exists").Inc()
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Load returns the cached listing for (top, sub).
// Returns ErrCacheMiss if the key doesn't exist or the entry is expired.
func (m *Manager) Load(ctx context.Context, top, sub string) ([]model.RawRecord, error) {
	key := CacheKey{TopLevel: top, SubLevel: sub}

	data, err := m.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("load").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("load").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		_ = m.Delete(ctx, top, sub)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues("redis").Inc()
	CacheSize.WithLabelValues("redis").Add(float64(len(data)))

	return entry.Records, nil
}

// Save stores records as the listing of (top, sub), replacing any previous
// entry.
func (m *Manager) Save(ctx context.Context, records []model.RawRecord, top, sub string) error {
	key := CacheKey{TopLevel: top, SubLevel: sub}

	now := time.Now()
	entry := CacheEntry{
		Records:  records,
		CachedAt: now,
	}
	if m.ttl > 0 {
		entry.Expires = now.Add(m.ttl)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("save").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	// A negative TTL means no expiry, which Redis spells as zero.
	expiration := max(entry.TTL(), 0)
	if err := m.redis.Set(ctx, key.String(), data, expiration).Err(); err != nil {
		CacheErrors.WithLabelValues("save").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	CacheSize.WithLabelValues("redis").Add(float64(len(data)))
	return nil
}

// Delete removes the listing of (top, sub).
func (m *Manager) Delete(ctx context.Context, top, sub string) error {
	if err := m.redis.Del(ctx, CacheKey{TopLevel: top, SubLevel: sub}.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
