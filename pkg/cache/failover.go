package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hotpath-io/hotpath/internal/native"
)

// Backend binding states. The zero value is bindingUnbound, which only
// exists while New runs; construction leaves the instance native- or
// fallback-bound, and the only transition after that is the one-way
// downgrade to fallback.
const (
	bindingUnbound int32 = iota
	bindingNative
	bindingFallback
)

// Config holds configuration for a Cache
type Config struct {
	// Memory tunes the in-process store (always constructed; it is the
	// fallback when a native backend is bound and the primary otherwise).
	Memory *MemoryConfig

	// LibraryPaths is the ordered native probe list.
	LibraryPaths []string

	// DisableNative skips probing entirely and binds the in-process
	// store from the start.
	DisableNative bool

	// Logger receives selection and downgrade events. Defaults to a
	// no-op logger.
	Logger *zap.Logger

	// OnDowngrade, if set, is called exactly once when the instance
	// abandons the native backend, with the error that caused it.
	OnDowngrade func(error)
}

// DefaultConfig returns the default Cache configuration
func DefaultConfig() *Config {
	return &Config{
		Memory:       DefaultMemoryConfig(),
		LibraryPaths: native.DefaultCachePaths(),
	}
}

// Option is a functional option for cache configuration
type Option func(*Config)

// WithMemoryConfig tunes the in-process store
func WithMemoryConfig(mc *MemoryConfig) Option {
	return func(c *Config) {
		c.Memory = mc
	}
}

// WithLibraryPaths overrides the native probe order
func WithLibraryPaths(paths ...string) Option {
	return func(c *Config) {
		c.LibraryPaths = paths
	}
}

// WithoutNative disables native probing; the instance runs on the
// in-process store for its lifetime
func WithoutNative() Option {
	return func(c *Config) {
		c.DisableNative = true
	}
}

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

// WithOnDowngrade registers a callback for the native-to-fallback
// transition
func WithOnDowngrade(fn func(error)) Option {
	return func(c *Config) {
		c.OnDowngrade = fn
	}
}

// Cache is the caller-facing cache handle. It binds a backend once at
// construction: the accelerated native engine when one loads, the
// in-process store otherwise. A native failure at any later point logs
// one warning, permanently rebinds the instance to the in-process store,
// and retries the failing operation there, so callers always get a
// result; the only errors a Cache returns are for programmer misuse.
//
// All methods are safe for concurrent use.
type Cache struct {
	log         *zap.Logger
	fallback    *MemoryBackend
	native      Backend
	nativePath  string
	binding     atomic.Int32
	closed      atomic.Bool
	onDowngrade func(error)
}

// New constructs a Cache and runs backend selection once. Selection
// failure is not an error: the instance silently binds the in-process
// store. New fails only on invalid configuration.
func New(opts ...Option) (*Cache, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Memory == nil {
		cfg.Memory = DefaultMemoryConfig()
	}
	if cfg.Memory.MaxEntries < 0 {
		return nil, fmt.Errorf("cache: negative MaxEntries %d", cfg.Memory.MaxEntries)
	}
	if cfg.Memory.CleanupInterval < 0 {
		return nil, fmt.Errorf("cache: negative CleanupInterval %s", cfg.Memory.CleanupInterval)
	}

	c := &Cache{
		log:         cfg.Logger,
		fallback:    NewMemoryBackend(cfg.Memory),
		onDowngrade: cfg.OnDowngrade,
	}

	if cfg.DisableNative {
		c.binding.Store(bindingFallback)
		c.log.Debug("native cache probing disabled")
		return c, nil
	}

	engine, path, err := native.LoadCacheEngine(cfg.LibraryPaths, c.log)
	if err != nil {
		c.binding.Store(bindingFallback)
		c.log.Info("using in-process cache store", zap.Error(err))
		return c, nil
	}

	c.native = newNativeBackend(engine)
	c.nativePath = path
	c.binding.Store(bindingNative)
	c.log.Info("accelerated cache backend bound", zap.String("path", path))
	return c, nil
}

// Get retrieves a value. The second return reports whether the key was
// present and unexpired.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if c.closed.Load() {
		return nil, false, ErrClosed
	}
	if err := validateKey(key); err != nil {
		return nil, false, err
	}

	if c.binding.Load() == bindingNative {
		value, found, err := c.native.Get(ctx, key)
		if err == nil {
			return value, found, nil
		}
		c.downgrade("get", err)
	}
	return c.fallback.Get(ctx, key)
}

// Set stores a value with a TTL; ttl 0 means the entry never expires.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := validateKey(key); err != nil {
		return err
	}
	if len(value) == 0 {
		return ErrEmptyValue
	}
	if ttl < 0 {
		return ErrInvalidTTL
	}

	if c.binding.Load() == bindingNative {
		err := c.native.Set(ctx, key, value, ttl)
		if err == nil {
			return nil
		}
		c.downgrade("set", err)
	}
	return c.fallback.Set(ctx, key, value, ttl)
}

// Delete removes a key and reports whether a live entry was removed.
func (c *Cache) Delete(ctx context.Context, key string) (bool, error) {
	if c.closed.Load() {
		return false, ErrClosed
	}
	if err := validateKey(key); err != nil {
		return false, err
	}

	if c.binding.Load() == bindingNative {
		removed, err := c.native.Delete(ctx, key)
		if err == nil {
			return removed, nil
		}
		c.downgrade("delete", err)
	}
	return c.fallback.Delete(ctx, key)
}

// Clear removes every entry. Hit, miss and eviction statistics survive.
func (c *Cache) Clear(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}

	if c.binding.Load() == bindingNative {
		err := c.native.Clear(ctx)
		if err == nil {
			return nil
		}
		c.downgrade("clear", err)
	}
	return c.fallback.Clear(ctx)
}

// Stats returns a statistics snapshot from the bound backend.
func (c *Cache) Stats() (Stats, error) {
	if c.closed.Load() {
		return Stats{}, ErrClosed
	}

	if c.binding.Load() == bindingNative {
		stats, err := c.native.Stats()
		if err == nil {
			return stats, nil
		}
		c.downgrade("stats", err)
	}
	return c.fallback.Stats()
}

// NativeActive reports whether the accelerated backend is currently
// bound. Diagnostic only; callers must not base correctness on it.
func (c *Cache) NativeActive() bool {
	return !c.closed.Load() && c.binding.Load() == bindingNative
}

// Close releases the native handle, stops the in-process store's sweep,
// and marks the instance closed. Subsequent operations return ErrClosed.
func (c *Cache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if c.native != nil {
		err = c.native.Close()
	}
	if ferr := c.fallback.Close(); err == nil {
		err = ferr
	}
	return err
}

// downgrade performs the one-way native-to-fallback transition. The
// compare-and-swap makes it idempotent: when concurrent calls fail at
// the same time only the winner logs and fires the callback. The native
// handle is not closed here, in case another call is still inside it;
// Close releases it.
func (c *Cache) downgrade(op string, cause error) {
	if !c.binding.CompareAndSwap(bindingNative, bindingFallback) {
		return
	}
	c.log.Warn("accelerated cache backend failed, falling back to in-process store",
		zap.String("op", op),
		zap.String("path", c.nativePath),
		zap.Error(cause))
	if c.onDowngrade != nil {
		c.onDowngrade(cause)
	}
}
