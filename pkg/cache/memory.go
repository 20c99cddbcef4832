package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend is the in-process cache store. It is the permanent
// fallback when no accelerated backend can be bound, and a complete
// cache in its own right: per-entry TTL with lazy purge on lookup, an
// optional least-recently-accessed bound, and an optional background
// sweep for expired entries.
//
// The store itself accepts any key and value; contract validation
// (key encoding, empty values) happens in Cache so both backends see
// identical inputs. No operation here ever fails.
type MemoryBackend struct {
	mu    sync.Mutex
	data  map[string]*Entry
	stats Stats
	now   func() time.Time

	maxEntries      int
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	closeOnce       sync.Once
}

// MemoryConfig holds configuration for the in-process store
type MemoryConfig struct {
	// MaxEntries bounds the number of entries; 0 means unbounded. When
	// full, inserting a new key evicts the least recently accessed entry.
	MaxEntries int

	// CleanupInterval is how often the background sweep removes expired
	// entries; 0 disables the sweep (expired entries are still purged
	// lazily on lookup).
	CleanupInterval time.Duration
}

// DefaultMemoryConfig returns the default in-process store configuration
func DefaultMemoryConfig() *MemoryConfig {
	return &MemoryConfig{
		MaxEntries:      0,
		CleanupInterval: 1 * time.Minute,
	}
}

// NewMemoryBackend creates a new in-process cache store
func NewMemoryBackend(config *MemoryConfig) *MemoryBackend {
	if config == nil {
		config = DefaultMemoryConfig()
	}

	mb := &MemoryBackend{
		data:            make(map[string]*Entry),
		now:             time.Now,
		maxEntries:      config.MaxEntries,
		cleanupInterval: config.CleanupInterval,
		stopCleanup:     make(chan struct{}),
	}

	if mb.cleanupInterval > 0 {
		go mb.startCleanup()
	}

	return mb
}

// Get retrieves a value from the cache. Expired entries are treated as
// absent, purged on the spot, and counted as misses and evictions.
func (m *MemoryBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.TotalOperations++

	entry, exists := m.data[key]
	if !exists {
		m.stats.Misses++
		return nil, false, nil
	}

	now := m.now()
	if entry.ExpiredAt(now) {
		delete(m.data, key)
		m.stats.Evictions++
		m.stats.Misses++
		m.stats.Size = len(m.data)
		return nil, false, nil
	}

	entry.AccessedAt = now
	m.stats.Hits++

	// Copy so callers cannot mutate the stored value.
	value := make([]byte, len(entry.Value))
	copy(value, entry.Value)
	return value, true, nil
}

// Set stores a value in the cache. A ttl of 0 means the entry never
// expires; setting an existing key replaces the value and refreshes the
// TTL. Set always succeeds.
func (m *MemoryBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.TotalOperations++

	_, exists := m.data[key]
	if !exists && m.maxEntries > 0 && len(m.data) >= m.maxEntries {
		m.evictOldest()
	}

	now := m.now()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	m.data[key] = &Entry{
		Value:      stored,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
		AccessedAt: now,
	}

	m.stats.Size = len(m.data)
	return nil
}

// Delete removes a value from the cache and reports whether a live entry
// was removed. An expired entry counts as absent; it is purged but Delete
// still reports false.
func (m *MemoryBackend) Delete(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.TotalOperations++

	entry, exists := m.data[key]
	if !exists {
		return false, nil
	}

	expired := entry.ExpiredAt(m.now())
	delete(m.data, key)
	if expired {
		m.stats.Evictions++
	}
	m.stats.Size = len(m.data)
	return !expired, nil
}

// Clear removes all values from the cache. Hit, miss and eviction
// counters survive a Clear; only the entries and the size reset.
func (m *MemoryBackend) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.TotalOperations++
	m.data = make(map[string]*Entry)
	m.stats.Size = 0

	return nil
}

// Stats returns a cache statistics snapshot. The snapshot is a copy and
// never reflects mutation after return. Size is the physical entry count,
// including expired entries the sweep has not reached yet.
func (m *MemoryBackend) Stats() (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	statsCopy := m.stats
	statsCopy.Size = len(m.data)
	return statsCopy, nil
}

// Close stops the background sweep. Safe to call more than once.
func (m *MemoryBackend) Close() error {
	m.closeOnce.Do(func() {
		close(m.stopCleanup)
	})
	return nil
}

// evictOldest removes the least recently accessed entry. Caller holds mu.
func (m *MemoryBackend) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range m.data {
		if oldestKey == "" || entry.AccessedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.AccessedAt
		}
	}

	if oldestKey != "" {
		delete(m.data, oldestKey)
		m.stats.Evictions++
	}
}

// startCleanup runs the background sweep until Close.
func (m *MemoryBackend) startCleanup() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stopCleanup:
			return
		}
	}
}

// cleanup removes expired entries
func (m *MemoryBackend) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, entry := range m.data {
		if entry.ExpiredAt(now) {
			delete(m.data, key)
			m.stats.Evictions++
		}
	}

	m.stats.Size = len(m.data)
}
