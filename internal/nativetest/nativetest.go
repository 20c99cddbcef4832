// Package nativetest provides in-memory fakes of the native backend
// contracts with deterministic fault injection, so the downgrade
// machinery can be exercised without building plugins. A fake behaves as
// a correct accelerated backend until told to fail: operations that can
// signal failure through the boundary convention (rejecting booleans,
// unparseable payloads) do so, everything else panics the way a broken
// plugin would.
package nativetest

import (
	"encoding/json"
	"math"
	"sync"
	"time"
)

// CacheEngine is a fake accelerated cache backend. It satisfies the
// native cache contract structurally.
type CacheEngine struct {
	mu     sync.Mutex
	data   map[string]cacheEntry
	hits   uint64
	misses uint64
	ops    uint64

	fail   map[string]bool
	panics map[string]bool
	calls  map[string]int
	closed bool
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewCacheEngine returns a working fake cache engine.
func NewCacheEngine() *CacheEngine {
	return &CacheEngine{
		data:   make(map[string]cacheEntry),
		fail:   make(map[string]bool),
		panics: make(map[string]bool),
		calls:  make(map[string]int),
	}
}

// FailOps makes the named operations report failure through the boundary
// convention: set and clear return false, stats returns an unparseable
// payload. Operations with no failure channel ignore this; use PanicOps.
func (e *CacheEngine) FailOps(ops ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, op := range ops {
		e.fail[op] = true
	}
}

// PanicOps makes the named operations panic, the way a mismatched or
// broken plugin would.
func (e *CacheEngine) PanicOps(ops ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, op := range ops {
		e.panics[op] = true
	}
}

// Calls reports how many times the named operation ran.
func (e *CacheEngine) Calls(op string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[op]
}

// Closed reports whether Close was called.
func (e *CacheEngine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *CacheEngine) enter(op string) (failing bool) {
	e.mu.Lock()
	e.calls[op]++
	failing = e.fail[op]
	panicking := e.panics[op]
	e.mu.Unlock()
	if panicking {
		panic("nativetest: injected " + op + " fault")
	}
	return failing
}

func (e *CacheEngine) Get(key string) ([]byte, bool) {
	e.enter("get")
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ops++
	entry, ok := e.data[key]
	if !ok || (!entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt)) {
		delete(e.data, key)
		e.misses++
		return nil, false
	}
	e.hits++
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, true
}

func (e *CacheEngine) Set(key string, value []byte, ttlSeconds uint64) bool {
	if e.enter("set") {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ops++
	var expiresAt time.Time
	if ttlSeconds > 0 {
		expiresAt = time.Now().Add(time.Duration(ttlSeconds) * time.Second)
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	e.data[key] = cacheEntry{value: stored, expiresAt: expiresAt}
	return true
}

func (e *CacheEngine) Delete(key string) bool {
	e.enter("delete")
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ops++
	_, ok := e.data[key]
	delete(e.data, key)
	return ok
}

func (e *CacheEngine) Clear() bool {
	if e.enter("clear") {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ops++
	e.data = make(map[string]cacheEntry)
	return true
}

func (e *CacheEngine) Stats() string {
	if e.enter("stats") {
		return "{not json"
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	payload, _ := json.Marshal(map[string]interface{}{
		"l1_hits":          e.hits,
		"l1_misses":        e.misses,
		"evictions":        0,
		"total_operations": e.ops,
		"l1_size":          len(e.data),
		// Consumers must tolerate keys they do not know.
		"engine": "nativetest",
	})
	return string(payload)
}

func (e *CacheEngine) Close() {
	e.enter("close")
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
}

// Collector is a fake accelerated metrics backend satisfying the native
// collector contract structurally.
type Collector struct {
	mu         sync.Mutex
	counters   map[string]uint64
	gauges     map[string]uint64
	histograms map[string][]uint64

	fail   map[string]bool
	panics map[string]bool
	calls  map[string]int
	closed bool
}

// NewCollector returns a working fake metrics collector.
func NewCollector() *Collector {
	return &Collector{
		counters:   make(map[string]uint64),
		gauges:     make(map[string]uint64),
		histograms: make(map[string][]uint64),
		fail:       make(map[string]bool),
		panics:     make(map[string]bool),
		calls:      make(map[string]int),
	}
}

// FailOps makes the named operations report failure through the boundary
// convention: counters and gauges return unparseable payloads. Operations
// with no failure channel ignore this; use PanicOps.
func (c *Collector) FailOps(ops ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, op := range ops {
		c.fail[op] = true
	}
}

// PanicOps makes the named operations panic.
func (c *Collector) PanicOps(ops ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, op := range ops {
		c.panics[op] = true
	}
}

// Calls reports how many times the named operation ran.
func (c *Collector) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// Closed reports whether Close was called.
func (c *Collector) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Recorded returns the histogram samples recorded under name.
func (c *Collector) Recorded(name string) []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.histograms[name]...)
}

func (c *Collector) enter(op string) (failing bool) {
	c.mu.Lock()
	c.calls[op]++
	failing = c.fail[op]
	panicking := c.panics[op]
	c.mu.Unlock()
	if panicking {
		panic("nativetest: injected " + op + " fault")
	}
	return failing
}

func (c *Collector) AddCounter(name string, delta uint64) {
	c.enter("add_counter")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[name] += delta
}

func (c *Collector) GetCounter(name string) uint64 {
	c.enter("get_counter")
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.counters[name]
	if !ok {
		return math.MaxUint64
	}
	return v
}

func (c *Collector) SetGauge(name string, value uint64) {
	c.enter("set_gauge")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[name] = value
}

func (c *Collector) GetGauge(name string) uint64 {
	c.enter("get_gauge")
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.gauges[name]
	if !ok {
		return math.MaxUint64
	}
	return v
}

func (c *Collector) RecordHistogram(name string, value uint64) {
	c.enter("record_histogram")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.histograms[name] = append(c.histograms[name], value)
}

func (c *Collector) RecordTiming(name string, millis uint64) {
	c.enter("record_timing")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.histograms[name+"_ms"] = append(c.histograms[name+"_ms"], millis)
}

func (c *Collector) Counters() string {
	if c.enter("counters") {
		return "{not json"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, _ := json.Marshal(c.counters)
	return string(payload)
}

func (c *Collector) Gauges() string {
	if c.enter("gauges") {
		return "{not json"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, _ := json.Marshal(c.gauges)
	return string(payload)
}

func (c *Collector) Reset() {
	c.enter("reset")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters = make(map[string]uint64)
	c.gauges = make(map[string]uint64)
	c.histograms = make(map[string][]uint64)
}

func (c *Collector) Close() {
	c.enter("close")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}
