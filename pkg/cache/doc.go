// Package cache stores raw sub-region listings in Redis so a re-run can skip
// the API entirely.
//
// One entry holds every raw record of one (top-level, sub-level) pair. The
// batch driver only saves complete, non-empty fetch results, so a cached
// entry is always a full listing.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient, 24*time.Hour)
//
//	records, err := manager.Load(ctx, "서울특별시", "강남구")
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the API, then
//		err = manager.Save(ctx, records, "서울특별시", "강남구")
//	}
//
// # Metrics
//
//   - sdsc_cache_hits_total{layer="redis"} - Cache hits
//   - sdsc_cache_misses_total - Cache misses
//   - sdsc_cache_size_bytes{layer="redis"} - Bytes written and read
//   - sdsc_cache_errors_total{operation} - Cache operation errors
//
// A TTL of zero keeps entries until they are deleted.
package cache
