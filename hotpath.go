// Package hotpath provides an in-process key/value cache and metrics
// collector that prefer an accelerated native backend and fall back to
// pure Go stores transparently.
package hotpath

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hotpath-io/hotpath/pkg/cache"
	"github.com/hotpath-io/hotpath/pkg/metrics"
)

// Runtime owns one Cache and one Collector built from shared
// configuration and a shared logger. Construct it once at startup and
// pass it down; there is no package-level instance.
type Runtime struct {
	cfg     *Config
	log     *zap.Logger
	ownsLog bool
	cache   *cache.Cache
	metrics *metrics.Collector
}

// New builds a Runtime. Configuration resolves in three layers:
// defaults, then the optional YAML file, then options.
func New(opts ...Option) (*Runtime, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfg := DefaultConfig()
	if o.configFile != "" {
		loaded, err := LoadFile(o.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if o.config != nil {
		if err := validate(o.config); err != nil {
			return nil, err
		}
		cfg = o.config
	}

	log := o.logger
	ownsLog := false
	if log == nil {
		built, err := buildLogger(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
		log = built
		ownsLog = true
	}

	store, err := newCacheStore(cfg, &o, log)
	if err != nil {
		if ownsLog {
			_ = log.Sync()
		}
		return nil, fmt.Errorf("init cache: %w", err)
	}

	collector, err := newCollector(cfg, &o, log)
	if err != nil {
		_ = store.Close()
		if ownsLog {
			_ = log.Sync()
		}
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return &Runtime{
		cfg:     cfg,
		log:     log,
		ownsLog: ownsLog,
		cache:   store,
		metrics: collector,
	}, nil
}

func newCacheStore(cfg *Config, o *options, log *zap.Logger) (*cache.Cache, error) {
	mc := cache.DefaultMemoryConfig()
	mc.MaxEntries = cfg.Cache.MaxEntries
	mc.CleanupInterval = cfg.Cache.cleanupInterval()

	copts := []cache.Option{
		cache.WithLogger(log.Named("cache")),
		cache.WithMemoryConfig(mc),
	}
	if len(cfg.Cache.LibraryPaths) > 0 {
		copts = append(copts, cache.WithLibraryPaths(cfg.Cache.LibraryPaths...))
	}
	if cfg.Cache.DisableNative || o.disableNative {
		copts = append(copts, cache.WithoutNative())
	}
	if o.onDowngrade != nil {
		fn := o.onDowngrade
		copts = append(copts, cache.WithOnDowngrade(func(cause error) {
			fn("cache", cause)
		}))
	}
	return cache.New(copts...)
}

func newCollector(cfg *Config, o *options, log *zap.Logger) (*metrics.Collector, error) {
	mopts := []metrics.Option{
		metrics.WithLogger(log.Named("metrics")),
	}
	if len(cfg.Metrics.LibraryPaths) > 0 {
		mopts = append(mopts, metrics.WithLibraryPaths(cfg.Metrics.LibraryPaths...))
	}
	if cfg.Metrics.DisableNative || o.disableNative {
		mopts = append(mopts, metrics.WithoutNative())
	}
	if o.onDowngrade != nil {
		fn := o.onDowngrade
		mopts = append(mopts, metrics.WithOnDowngrade(func(cause error) {
			fn("metrics", cause)
		}))
	}
	return metrics.New(mopts...)
}

// Cache returns the key/value store.
func (r *Runtime) Cache() *cache.Cache {
	return r.cache
}

// Metrics returns the metrics collector.
func (r *Runtime) Metrics() *metrics.Collector {
	return r.metrics
}

// Logger returns the shared logger.
func (r *Runtime) Logger() *zap.Logger {
	return r.log
}

// Close releases both stores. The Runtime must not be used afterwards.
func (r *Runtime) Close() error {
	var firstErr error
	if err := r.cache.Close(); err != nil {
		firstErr = err
	}
	if err := r.metrics.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if r.ownsLog {
		_ = r.log.Sync()
	}
	return firstErr
}

func buildLogger(cfg LoggingConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	if cfg.Level != "" {
		lvl, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zc.Build()
}
