package stream

import "time"

const (
	defaultBaseDelay = time.Second
	defaultMaxDelay  = 60 * time.Second
)

// Backoff returns base * 2^retry capped at limit. A negative retry yields base.
func Backoff(retry int, base, limit time.Duration) time.Duration {
	if base <= 0 {
		base = defaultBaseDelay
	}
	if limit <= 0 {
		limit = defaultMaxDelay
	}
	if retry < 0 {
		return base
	}
	// 2^30 seconds is far past any useful cap
	if retry > 30 {
		return limit
	}
	d := base * time.Duration(1<<retry)
	if d > limit || d <= 0 {
		return limit
	}
	return d
}
