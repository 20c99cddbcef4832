// Package metrics provides an in-process metrics collector with
// counters, gauges, histograms and timings, served by an optional
// accelerated native backend with a transparent, permanent fallback to a
// pure-Go store.
package metrics

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// MaxValue is the largest counter delta, gauge value or histogram sample
// the collector accepts. Values with the top bit set are reserved as
// not-found/error sentinels on the native read path, so the valid range
// is [0, 1<<63).
const MaxValue = uint64(1)<<63 - 1

// Backend defines the interface both metrics backends implement.
type Backend interface {
	// AddCounter creates the counter at 0 if unseen, then adds delta
	AddCounter(name string, delta uint64) error

	// GetCounter returns the accumulated value and whether the counter
	// has ever been written; a never-written name is distinguished from
	// a legitimate zero
	GetCounter(name string) (uint64, bool, error)

	// SetGauge unconditionally overwrites the gauge
	SetGauge(name string, value uint64) error

	// GetGauge returns the last written value and whether the gauge has
	// ever been written
	GetGauge(name string) (uint64, bool, error)

	// RecordHistogram appends a sample to the named distribution
	RecordHistogram(name string, value uint64) error

	// RecordTiming records whole milliseconds into the "<name>_ms"
	// histogram
	RecordTiming(name string, millis uint64) error

	// Counters returns a snapshot copy of every counter
	Counters() (map[string]uint64, error)

	// Gauges returns a snapshot copy of every gauge
	Gauges() (map[string]uint64, error)

	// Reset clears counters, gauges and histograms in one exclusive
	// section; no reader observes a partially cleared state
	Reset() error

	// Close releases backend resources
	Close() error
}

// HistogramSnapshot is a point-in-time summary of one histogram.
// Count, Sum, Min and Max cover every sample ever recorded; Mean and the
// percentiles are computed over the retained ring of the most recent
// samples (capacity 1000), and Retained is that ring's current length.
type HistogramSnapshot struct {
	Count    uint64  `json:"count"`
	Sum      uint64  `json:"sum"`
	Min      uint64  `json:"min"`
	Max      uint64  `json:"max"`
	Mean     float64 `json:"mean"`
	P50      uint64  `json:"p50"`
	P95      uint64  `json:"p95"`
	P99      uint64  `json:"p99"`
	Retained int     `json:"retained"`
}

// Misuse errors, the only errors collector operations return. Native
// backend failures are recovered internally and never surface.
var (
	// ErrInvalidName means the metric name is empty, not valid UTF-8,
	// or contains a NUL byte.
	ErrInvalidName = errors.New("metrics: invalid name")

	// ErrValueRange means a write was outside [0, MaxValue], or a
	// timing duration was negative.
	ErrValueRange = errors.New("metrics: value out of range")

	// ErrClosed means the instance has been closed.
	ErrClosed = errors.New("metrics: closed")
)

// validateName enforces the naming rules shared by both backends.
func validateName(name string) error {
	if name == "" || !utf8.ValidString(name) || strings.IndexByte(name, 0) >= 0 {
		return ErrInvalidName
	}
	return nil
}
