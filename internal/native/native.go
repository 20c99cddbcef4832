// Package native defines the contract an accelerated backend plugin must
// satisfy and locates, loads and validates such plugins at runtime.
//
// The contract deliberately uses only builtin types (string, []byte,
// uint64, bool) so a plugin never has to import this module: Go interface
// satisfaction is structural, and a handle built in a separately compiled
// plugin type-asserts cleanly against these interfaces as long as the
// method sets line up.
package native

import "errors"

// SentinelBase is the first value of the reserved error range on the
// numeric read path. Counter and gauge reads at or above this value mean
// "not found"; the valid value range for every numeric write is therefore
// [0, SentinelBase). The boundary cannot propagate structured errors, so
// this range is the only error channel numeric reads have.
const SentinelBase = uint64(1) << 63

// IsSentinel reports whether a value read across the boundary encodes
// not-found/error rather than data.
func IsSentinel(v uint64) bool {
	return v >= SentinelBase
}

// CacheEngine is the method set an accelerated cache plugin handle must
// provide.
//
// Get reports (value, found); a false from Delete means the key was
// absent, which is a legitimate result. Set and Clear have no legitimate
// false outcome, so a false from either is a failure signal. Stats returns
// a JSON object keyed l1_hits, l1_misses, evictions, total_operations,
// l1_size; extra keys are tolerated. Close releases the handle; the
// handle must not be used afterwards.
type CacheEngine interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttlSeconds uint64) bool
	Delete(key string) bool
	Clear() bool
	Stats() string
	Close()
}

// Collector is the method set an accelerated metrics plugin handle must
// provide.
//
// GetCounter and GetGauge return values in [0, SentinelBase); anything
// at or above SentinelBase means the name was never written. Counters and
// Gauges return JSON objects of name to value. RecordTiming records
// millis into the histogram named "<name>_ms". There is no histogram
// read-back: histograms and timings are write-only across this boundary.
type Collector interface {
	AddCounter(name string, delta uint64)
	GetCounter(name string) uint64
	SetGauge(name string, value uint64)
	GetGauge(name string) uint64
	RecordHistogram(name string, value uint64)
	RecordTiming(name string, millis uint64)
	Counters() string
	Gauges() string
	Reset()
	Close()
}

// Constructor symbols the loader looks up in a plugin.
const (
	CacheSymbol     = "NewCacheEngine"
	CollectorSymbol = "NewCollector"
)

// ErrUnavailable means no candidate produced a usable backend handle.
var ErrUnavailable = errors.New("native: no accelerated backend available")
