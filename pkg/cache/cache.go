// Package cache provides an expiring key/value cache that prefers an
// accelerated native backend when one can be loaded and degrades
// permanently to a pure-Go in-process store when it cannot.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// Backend defines the interface both cache storage backends implement.
type Backend interface {
	// Get retrieves a value from the cache
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value in the cache with a TTL; ttl 0 means no expiry
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value and reports whether a live entry existed
	Delete(ctx context.Context, key string) (bool, error)

	// Clear removes all values from the cache
	Clear(ctx context.Context) error

	// Stats returns a cache statistics snapshot
	Stats() (Stats, error)

	// Close releases backend resources
	Close() error
}

// Stats holds cache statistics. The JSON keys are the wire names used by
// the native backend's stats payload and by every downstream consumer;
// unknown extra keys in a payload are ignored.
type Stats struct {
	Hits            uint64 `json:"l1_hits"`
	Misses          uint64 `json:"l1_misses"`
	Evictions       uint64 `json:"evictions"`
	TotalOperations uint64 `json:"total_operations"`
	Size            int    `json:"l1_size"`
}

// HitRate returns the fraction of lookups served from the cache, in
// [0.0, 1.0]. Zero lookups yield 0.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Entry represents a cached entry
type Entry struct {
	Value      []byte    // Cached value
	ExpiresAt  time.Time // Expiration time; zero means never expires
	CreatedAt  time.Time // Creation time
	AccessedAt time.Time // Last access time
}

// ExpiredAt reports whether the entry is expired as of t.
func (e *Entry) ExpiredAt(t time.Time) bool {
	if e.ExpiresAt.IsZero() {
		return false
	}
	return t.After(e.ExpiresAt)
}

// IsExpired checks if the entry has expired
func (e *Entry) IsExpired() bool {
	return e.ExpiredAt(time.Now())
}

// Misuse errors. Backend selection and native call failures are never
// surfaced through these; an operation returns a non-nil error only when
// the caller handed it something the contract rejects.
var (
	// ErrInvalidKey means the key is empty, not valid UTF-8, or contains
	// a NUL byte, none of which can cross the native string boundary.
	ErrInvalidKey = errors.New("cache: invalid key")

	// ErrEmptyValue means the value is empty. The native ABI cannot
	// distinguish an empty write from a failed one, so empty values are
	// rejected on both paths.
	ErrEmptyValue = errors.New("cache: empty value")

	// ErrInvalidTTL means the TTL is negative.
	ErrInvalidTTL = errors.New("cache: invalid ttl")

	// ErrClosed means the instance has been closed.
	ErrClosed = errors.New("cache: closed")
)

// validateKey enforces the key rules shared by both backends so behavior
// is identical regardless of which one is bound.
func validateKey(key string) error {
	if key == "" || !utf8.ValidString(key) || strings.IndexByte(key, 0) >= 0 {
		return ErrInvalidKey
	}
	return nil
}
