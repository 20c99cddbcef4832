package native

import (
	"fmt"
	"os"
	"path/filepath"
	"plugin"

	"go.uber.org/zap"
)

// DefaultCachePaths returns the locations probed for the accelerated
// cache plugin, in order. First existing, loadable candidate wins.
func DefaultCachePaths() []string {
	return defaultPaths("cache_engine.so")
}

// DefaultCollectorPaths returns the locations probed for the accelerated
// metrics plugin, in order.
func DefaultCollectorPaths() []string {
	return defaultPaths("metrics_collector.so")
}

func defaultPaths(name string) []string {
	paths := make([]string, 0, 4)
	if exe, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(exe), name))
	}
	return append(paths,
		name,
		filepath.Join("lib", name),
		filepath.Join("/usr/local/lib/hotpath", name),
	)
}

// LoadCacheEngine probes the candidate paths and returns the first cache
// engine handle that loads and satisfies the contract, along with the
// path it came from. A nil logger is replaced with a no-op logger.
func LoadCacheEngine(paths []string, log *zap.Logger) (CacheEngine, string, error) {
	v, path, err := load(paths, CacheSymbol, log)
	if err != nil {
		return nil, "", err
	}
	engine, ok := v.(CacheEngine)
	if !ok {
		return nil, "", fmt.Errorf("native: %s: %s returned a handle that does not satisfy the cache contract", path, CacheSymbol)
	}
	return engine, path, nil
}

// LoadCollector probes the candidate paths and returns the first metrics
// collector handle that loads and satisfies the contract, along with the
// path it came from.
func LoadCollector(paths []string, log *zap.Logger) (Collector, string, error) {
	v, path, err := load(paths, CollectorSymbol, log)
	if err != nil {
		return nil, "", err
	}
	collector, ok := v.(Collector)
	if !ok {
		return nil, "", fmt.Errorf("native: %s: %s returned a handle that does not satisfy the collector contract", path, CollectorSymbol)
	}
	return collector, path, nil
}

// load walks the candidates in order and returns the value produced by
// the constructor symbol of the first loadable plugin. Every per-candidate
// failure is logged at debug level and probing moves on; only when the
// whole list is exhausted does load report ErrUnavailable.
func load(paths []string, symbol string, log *zap.Logger) (interface{}, string, error) {
	if log == nil {
		log = zap.NewNop()
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			log.Debug("native candidate missing", zap.String("path", path))
			continue
		}
		v, err := open(path, symbol)
		if err != nil {
			log.Debug("native candidate rejected", zap.String("path", path), zap.Error(err))
			continue
		}
		return v, path, nil
	}
	return nil, "", ErrUnavailable
}

// open loads a single plugin and invokes its constructor symbol. A panic
// inside a hostile or mismatched constructor is contained here and
// reported as an ordinary load failure.
func open(path, symbol string) (v interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			v = nil
			err = fmt.Errorf("constructor panicked: %v", r)
		}
	}()

	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plugin: %w", err)
	}
	sym, err := p.Lookup(symbol)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", symbol, err)
	}
	ctor, ok := sym.(func() interface{})
	if !ok {
		return nil, fmt.Errorf("%s has type %T, want func() interface{}", symbol, sym)
	}
	v = ctor()
	if v == nil {
		return nil, fmt.Errorf("%s returned a nil handle", symbol)
	}
	return v, nil
}
