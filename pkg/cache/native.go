package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hotpath-io/hotpath/internal/native"
)

// nativeBackend adapts a loaded accelerated engine handle to the Backend
// interface. Every boundary convention is translated here and nowhere
// else: recovered panics, rejecting booleans from operations that have no
// legitimate false outcome, and undecodable stats payloads all become
// ordinary errors, which the owning Cache treats as the signal to
// downgrade. The engine handle is responsible for its own thread safety.
type nativeBackend struct {
	engine native.CacheEngine
}

func newNativeBackend(engine native.CacheEngine) *nativeBackend {
	return &nativeBackend{engine: engine}
}

func (n *nativeBackend) Get(ctx context.Context, key string) (value []byte, found bool, err error) {
	defer recoverBoundary("get", &err)
	value, found = n.engine.Get(key)
	return value, found, nil
}

func (n *nativeBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) (err error) {
	defer recoverBoundary("set", &err)
	if !n.engine.Set(key, value, ttlSeconds(ttl)) {
		return fmt.Errorf("native set rejected key %q", key)
	}
	return nil
}

func (n *nativeBackend) Delete(ctx context.Context, key string) (removed bool, err error) {
	defer recoverBoundary("delete", &err)
	// A false here means the key was absent, not a failure.
	removed = n.engine.Delete(key)
	return removed, nil
}

func (n *nativeBackend) Clear(ctx context.Context) (err error) {
	defer recoverBoundary("clear", &err)
	if !n.engine.Clear() {
		return fmt.Errorf("native clear rejected")
	}
	return nil
}

func (n *nativeBackend) Stats() (stats Stats, err error) {
	defer recoverBoundary("stats", &err)
	payload := n.engine.Stats()
	if payload == "" {
		return Stats{}, fmt.Errorf("native stats returned an empty payload")
	}
	if err := json.Unmarshal([]byte(payload), &stats); err != nil {
		return Stats{}, fmt.Errorf("decode native stats: %w", err)
	}
	return stats, nil
}

func (n *nativeBackend) Close() (err error) {
	defer recoverBoundary("close", &err)
	n.engine.Close()
	return nil
}

// ttlSeconds converts a TTL to the whole seconds the native ABI takes.
// Sub-second TTLs round up so a short expiry never silently becomes
// "never expires" (0).
func ttlSeconds(ttl time.Duration) uint64 {
	if ttl <= 0 {
		return 0
	}
	secs := uint64(ttl / time.Second)
	if ttl%time.Second != 0 {
		secs++
	}
	return secs
}

// recoverBoundary converts a panic escaping a native call into an error.
func recoverBoundary(op string, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("native %s panicked: %v", op, r)
	}
}
