// Package ratelimit provides a pluggable rate limiting interface.
//
// The decision oracle consults a Limiter before every external generator
// call; a denied call is served by the rule-based fallback instead of
// waiting. MemoryLimiter is the in-process token bucket.
package ratelimit

import "context"

// Limiter decides whether a call identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the call should proceed.
	// The key is opaque; callers construct it (e.g. "oracle:gemini-2.0-flash").
	// Returning an error signals a limiter malfunction; callers should
	// treat errors as fail-open.
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases resources.
	Close() error
}

// NoopLimiter permits every call. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
