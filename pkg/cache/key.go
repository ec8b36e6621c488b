package cache

import (
	"strings"
)

// CacheKey identifies the raw listing of one sub-region.
type CacheKey struct {
	TopLevel string
	SubLevel string
}

// String generates a deterministic cache key string.
// Format: sdsc:raw:<top>:<sub>
//
// Example:
//
//	sdsc:raw:서울특별시:강남구
func (k CacheKey) String() string {
	parts := []string{"sdsc", "raw", normalize(k.TopLevel), normalize(k.SubLevel)}
	return strings.Join(parts, ":")
}

// normalize keeps key segments free of separators and surrounding space.
func normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ":", "_")
	return strings.ReplaceAll(s, " ", "_")
}
