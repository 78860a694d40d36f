package models

import "time"

// KeyPrefix namespaces rate limit buckets in shared stores.
const KeyPrefix = "ratelimit:ip:"

// RateLimitResult is the outcome of one check against a bucket.
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds, only set when not allowed
}

// IPKey returns the bucket key for a client address.
func IPKey(ip string) string {
	return KeyPrefix + ip
}

// retryAfter rounds up so clients never retry a second early.
func retryAfter(now, resetAt time.Time) int {
	d := resetAt.Sub(now)
	if d <= 0 {
		return 1
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

// Denied builds the result for a rejected request.
func Denied(limit int, now, resetAt time.Time) *RateLimitResult {
	return &RateLimitResult{
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: retryAfter(now, resetAt),
	}
}
