// Package cache provides the shared key/value store behind the role cache,
// OTP codes and verification tokens.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Cache is a string key/value store with per-key TTL. Take and
// CompareAndDelete are single atomic operations so that one-time values
// cannot be consumed twice by concurrent callers.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Take returns the value and removes the key in one step.
	Take(ctx context.Context, key string) (string, error)
	// CompareAndDelete removes the key only when its value equals expected.
	// It reports whether the key was removed.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	// Incr adds one to the counter at key and returns the new value. The
	// ttl applies when the counter is created and is not extended later.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}
