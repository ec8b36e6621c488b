// Package ratelimit paces outgoing API requests and tracks the upstream's
// rate-limit (HTTP 429) signals.
package ratelimit

import (
	"time"
)

// Thresholds for rate-limit decisions.
const (
	// ConsecutiveThresholdWarning marks the state unhealthy once this many
	// 429 responses arrive without a success in between.
	ConsecutiveThresholdWarning = 3

	// RecentWindow is how long a 429 keeps the state marked as recently limited.
	RecentWindow = 30 * time.Second
)

// State is a snapshot of observed rate-limit signals.
type State struct {
	// RateLimited is the total number of 429 responses seen by this limiter.
	RateLimited int `json:"rate_limited"`

	// Consecutive counts 429 responses since the last successful request.
	Consecutive int `json:"consecutive"`

	// LastRateLimitedAt is when the most recent 429 arrived.
	LastRateLimitedAt time.Time `json:"last_rate_limited_at"`

	// IsHealthy is false while Consecutive is at or above the warning threshold.
	IsHealthy bool `json:"is_healthy"`
}

// RecentlyLimited reports whether a 429 arrived within RecentWindow of now.
func (s State) RecentlyLimited(now time.Time) bool {
	if s.LastRateLimitedAt.IsZero() {
		return false
	}
	return now.Sub(s.LastRateLimitedAt) < RecentWindow
}

// updateHealth recomputes IsHealthy from Consecutive.
func (s *State) updateHealth() {
	s.IsHealthy = s.Consecutive < ConsecutiveThresholdWarning
}
