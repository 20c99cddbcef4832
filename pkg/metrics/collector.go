package metrics

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hotpath-io/hotpath/internal/native"
)

// Backend binding states. The zero value is bindingUnbound, which only
// exists while New runs; the only transition after construction is the
// one-way downgrade to fallback.
const (
	bindingUnbound int32 = iota
	bindingNative
	bindingFallback
)

// Config holds configuration for a Collector
type Config struct {
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

// DefaultConfig returns the default Collector configuration
func DefaultConfig() *Config {
	return &Config{
		LibraryPaths: native.DefaultCollectorPaths(),
	}
}

// Option is a functional option for collector configuration
type Option func(*Config)

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

// Collector is the caller-facing metrics handle. It binds a backend once
// at construction: the accelerated native collector when one loads, the
// in-process store otherwise. A native failure at any later point logs
// one warning, permanently rebinds the instance to the in-process store,
// and retries the failing operation there; the only errors a Collector
// returns are for programmer misuse.
//
// All methods are safe for concurrent use.
type Collector struct {
	log         *zap.Logger
	fallback    *MemoryBackend
	native      Backend
	nativePath  string
	binding     atomic.Int32
	closed      atomic.Bool
	onDowngrade func(error)
}

// New constructs a Collector and runs backend selection once. Selection
// failure is not an error: the instance silently binds the in-process
// store.
func New(opts ...Option) (*Collector, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	c := &Collector{
		log:         cfg.Logger,
		fallback:    NewMemoryBackend(),
		onDowngrade: cfg.OnDowngrade,
	}

	if cfg.DisableNative {
		c.binding.Store(bindingFallback)
		c.log.Debug("native metrics probing disabled")
		return c, nil
	}

	collector, path, err := native.LoadCollector(cfg.LibraryPaths, c.log)
	if err != nil {
		c.binding.Store(bindingFallback)
		c.log.Info("using in-process metrics store", zap.Error(err))
		return c, nil
	}

	c.native = newNativeBackend(collector)
	c.nativePath = path
	c.binding.Store(bindingNative)
	c.log.Info("accelerated metrics backend bound", zap.String("path", path))
	return c, nil
}

// IncrementCounter adds 1 to the named counter.
func (c *Collector) IncrementCounter(name string) error {
	return c.AddCounter(name, 1)
}

// AddCounter creates the counter at 0 if unseen, then adds delta.
func (c *Collector) AddCounter(name string, delta uint64) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := validateName(name); err != nil {
		return err
	}
	if delta > MaxValue {
		return ErrValueRange
	}

	if c.binding.Load() == bindingNative {
		err := c.native.AddCounter(name, delta)
		if err == nil {
			return nil
		}
		c.downgrade("add_counter", err)
	}
	return c.fallback.AddCounter(name, delta)
}

// GetCounter returns the accumulated value; found reports whether the
// counter has ever been written, distinguishing absence from zero.
func (c *Collector) GetCounter(name string) (uint64, bool, error) {
	if c.closed.Load() {
		return 0, false, ErrClosed
	}
	if err := validateName(name); err != nil {
		return 0, false, err
	}

	if c.binding.Load() == bindingNative {
		value, found, err := c.native.GetCounter(name)
		if err == nil {
			return value, found, nil
		}
		c.downgrade("get_counter", err)
	}
	return c.fallback.GetCounter(name)
}

// SetGauge unconditionally overwrites the named gauge.
func (c *Collector) SetGauge(name string, value uint64) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := validateName(name); err != nil {
		return err
	}
	if value > MaxValue {
		return ErrValueRange
	}

	if c.binding.Load() == bindingNative {
		err := c.native.SetGauge(name, value)
		if err == nil {
			return nil
		}
		c.downgrade("set_gauge", err)
	}
	return c.fallback.SetGauge(name, value)
}

// GetGauge returns the last written value; found reports whether the
// gauge has ever been written.
func (c *Collector) GetGauge(name string) (uint64, bool, error) {
	if c.closed.Load() {
		return 0, false, ErrClosed
	}
	if err := validateName(name); err != nil {
		return 0, false, err
	}

	if c.binding.Load() == bindingNative {
		value, found, err := c.native.GetGauge(name)
		if err == nil {
			return value, found, nil
		}
		c.downgrade("get_gauge", err)
	}
	return c.fallback.GetGauge(name)
}

// RecordHistogram appends a sample to the named distribution.
func (c *Collector) RecordHistogram(name string, value uint64) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := validateName(name); err != nil {
		return err
	}
	if value > MaxValue {
		return ErrValueRange
	}

	if c.binding.Load() == bindingNative {
		err := c.native.RecordHistogram(name, value)
		if err == nil {
			return nil
		}
		c.downgrade("record_histogram", err)
	}
	return c.fallback.RecordHistogram(name, value)
}

// RecordTiming converts the duration to whole milliseconds (truncated)
// and records it into the "<name>_ms" histogram. Negative durations are
// misuse.
func (c *Collector) RecordTiming(name string, d time.Duration) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := validateName(name); err != nil {
		return err
	}
	if d < 0 {
		return ErrValueRange
	}
	millis := uint64(d.Milliseconds())

	if c.binding.Load() == bindingNative {
		err := c.native.RecordTiming(name, millis)
		if err == nil {
			return nil
		}
		c.downgrade("record_timing", err)
	}
	return c.fallback.RecordTiming(name, millis)
}

// Counters returns a snapshot copy of every counter.
func (c *Collector) Counters() (map[string]uint64, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	if c.binding.Load() == bindingNative {
		values, err := c.native.Counters()
		if err == nil {
			return values, nil
		}
		c.downgrade("counters", err)
	}
	return c.fallback.Counters()
}

// Gauges returns a snapshot copy of every gauge.
func (c *Collector) Gauges() (map[string]uint64, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	if c.binding.Load() == bindingNative {
		values, err := c.native.Gauges()
		if err == nil {
			return values, nil
		}
		c.downgrade("gauges", err)
	}
	return c.fallback.Gauges()
}

// Histogram returns a snapshot of one distribution. The native ABI has
// no histogram read-back, so while the accelerated backend is bound this
// reports not-found for every name; snapshots come from the in-process
// store only.
func (c *Collector) Histogram(name string) (HistogramSnapshot, bool, error) {
	if c.closed.Load() {
		return HistogramSnapshot{}, false, ErrClosed
	}
	if err := validateName(name); err != nil {
		return HistogramSnapshot{}, false, err
	}
	if c.binding.Load() == bindingNative {
		return HistogramSnapshot{}, false, nil
	}
	snap, ok := c.fallback.Histogram(name)
	return snap, ok, nil
}

// Histograms returns snapshots of every distribution in the in-process
// store; empty while the accelerated backend is bound.
func (c *Collector) Histograms() (map[string]HistogramSnapshot, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if c.binding.Load() == bindingNative {
		return map[string]HistogramSnapshot{}, nil
	}
	return c.fallback.Histograms(), nil
}

// Reset clears counters, gauges and histograms on the bound backend in
// one atomic step with respect to readers.
func (c *Collector) Reset() error {
	if c.closed.Load() {
		return ErrClosed
	}

	if c.binding.Load() == bindingNative {
		err := c.native.Reset()
		if err == nil {
			return nil
		}
		c.downgrade("reset", err)
	}
	return c.fallback.Reset()
}

// NativeActive reports whether the accelerated backend is currently
// bound. Diagnostic only; callers must not base correctness on it.
func (c *Collector) NativeActive() bool {
	return !c.closed.Load() && c.binding.Load() == bindingNative
}

// Close releases the native handle and marks the instance closed.
// Subsequent operations return ErrClosed.
func (c *Collector) Close() error {
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
// compare-and-swap makes it idempotent: concurrent failures produce one
// state change, one warning, one callback. The native handle stays open
// until Close in case another call is still inside it.
func (c *Collector) downgrade(op string, cause error) {
	if !c.binding.CompareAndSwap(bindingNative, bindingFallback) {
		return
	}
	c.log.Warn("accelerated metrics backend failed, falling back to in-process store",
		zap.String("op", op),
		zap.String("path", c.nativePath),
		zap.Error(cause))
	if c.onDowngrade != nil {
		c.onDowngrade(cause)
	}
}
