package cache

import (
	"time"

	"github.com/Sternrassler/sdsc-collector/pkg/model"
)

// CacheEntry is one cached raw listing.
type CacheEntry struct {
	// Records are the raw listing items in fetch order.
	Records []model.RawRecord `json:"records"`

	// Expires is when the entry becomes stale. Zero means never.
	Expires time.Time `json:"expires"`

	// CachedAt is when the listing was stored.
	CachedAt time.Time `json:"cached_at"`
}

// IsExpired returns true if the cache entry has expired.
func (e *CacheEntry) IsExpired() bool {
	return !e.Expires.IsZero() && time.Now().After(e.Expires)
}

// TTL returns the time until expiration, 0 if already expired, and -1 when
// the entry never expires.
func (e *CacheEntry) TTL() time.Duration {
	if e.Expires.IsZero() {
		return -1
	}
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
