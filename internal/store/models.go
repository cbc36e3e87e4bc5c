// models.go -- Shared domain types for the store package.
// Used by the Postgres and SQLite stores and the Redis rate limiter.
package store

import (
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ErrNotFound is returned when a session (or user) row does not exist or has expired.
// Callers use errors.Is to distinguish a true miss from an infrastructure failure.
var ErrNotFound = errors.New("not found")

// ErrRateLimitExceeded is returned by Allow when the caller is over the window limit.
// Callers use errors.Is to distinguish rate limit rejections from Redis failures.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// ErrCacheDisabled is returned by NoopRateLimiter.CheckHealth when Redis is not configured.
// Callers use errors.Is to distinguish "not configured" from a real infrastructure failure.
var ErrCacheDisabled = errors.New("cache disabled")

// User represents a row in the users table.
// Identity is the canonical provider identity (email or synthesized pseudo-email).
type User struct {
	ID        uuid.UUID
	Identity  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Session represents a row in the sessions table.
// At most one row exists per user; a new login replaces token hash and expiry.
// Identity is joined from users on lookup so the gate needs a single query.
type Session struct {
	UserID    uuid.UUID
	Identity  string
	TokenHash []byte
	ExpiresAt time.Time
	CreatedAt time.Time
}

// RateLimit defines the policy for a rate-limited action.
type RateLimit struct {
	MaxAttempts int           // attempts allowed within Window
	Window      time.Duration // fixed window for attempt counting
}
