package metrics

import (
	"sort"
	"sync"
)

// maxSamples is the histogram ring capacity. Past this many samples the
// ring recycles its oldest slot, so memory stays bounded no matter the
// call volume; count/sum/min/max still cover every sample.
const maxSamples = 1000

// histogram is one named distribution. Owned by MemoryBackend; all
// access happens under the store lock.
type histogram struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
	ring  []uint64
	next  int
}

func (h *histogram) record(v uint64) {
	if h.count == 0 {
		h.min, h.max = v, v
	} else {
		if v < h.min {
			h.min = v
		}
		if v > h.max {
			h.max = v
		}
	}
	h.count++
	h.sum += v

	if len(h.ring) < maxSamples {
		h.ring = append(h.ring, v)
		return
	}
	h.ring[h.next] = v
	h.next = (h.next + 1) % maxSamples
}

func (h *histogram) snapshot() HistogramSnapshot {
	s := HistogramSnapshot{
		Count:    h.count,
		Sum:      h.sum,
		Min:      h.min,
		Max:      h.max,
		Retained: len(h.ring),
	}
	if h.count > 0 {
		s.Mean = float64(h.sum) / float64(h.count)
	}
	if len(h.ring) > 0 {
		sorted := append([]uint64(nil), h.ring...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		s.P50 = percentile(sorted, 0.50)
		s.P95 = percentile(sorted, 0.95)
		s.P99 = percentile(sorted, 0.99)
	}
	return s
}

// percentile picks from a sorted sample slice, using the same index
// convention as the accelerated engine.
func percentile(sorted []uint64, p float64) uint64 {
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// MemoryBackend is the in-process metrics store. One mutex guards the
// three maps; reads take it too, so every returned value and snapshot is
// a consistent point in time. The store accepts any name and value;
// contract validation happens in Collector. No operation here ever
// fails.
type MemoryBackend struct {
	mu         sync.Mutex
	counters   map[string]uint64
	gauges     map[string]uint64
	histograms map[string]*histogram
}

// NewMemoryBackend creates a new in-process metrics store
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		counters:   make(map[string]uint64),
		gauges:     make(map[string]uint64),
		histograms: make(map[string]*histogram),
	}
}

// AddCounter creates the counter at 0 if unseen, then adds delta.
func (m *MemoryBackend) AddCounter(name string, delta uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += delta
	return nil
}

// GetCounter returns the accumulated value, distinguishing a
// never-written name from a legitimate zero.
func (m *MemoryBackend) GetCounter(name string) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.counters[name]
	return v, ok, nil
}

// SetGauge unconditionally overwrites the gauge.
func (m *MemoryBackend) SetGauge(name string, value uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = value
	return nil
}

// GetGauge returns the last written value.
func (m *MemoryBackend) GetGauge(name string) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.gauges[name]
	return v, ok, nil
}

// RecordHistogram appends a sample to the named distribution.
func (m *MemoryBackend) RecordHistogram(name string, value uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordLocked(name, value)
	return nil
}

// RecordTiming records whole milliseconds into the derived "<name>_ms"
// histogram.
func (m *MemoryBackend) RecordTiming(name string, millis uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordLocked(name+"_ms", millis)
	return nil
}

func (m *MemoryBackend) recordLocked(name string, value uint64) {
	h, ok := m.histograms[name]
	if !ok {
		h = &histogram{}
		m.histograms[name] = h
	}
	h.record(value)
}

// Counters returns a snapshot copy of every counter.
func (m *MemoryBackend) Counters() (map[string]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyValues(m.counters), nil
}

// Gauges returns a snapshot copy of every gauge.
func (m *MemoryBackend) Gauges() (map[string]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyValues(m.gauges), nil
}

// Histogram returns a snapshot of one distribution.
func (m *MemoryBackend) Histogram(name string) (HistogramSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.histograms[name]
	if !ok {
		return HistogramSnapshot{}, false
	}
	return h.snapshot(), true
}

// Histograms returns snapshots of every distribution.
func (m *MemoryBackend) Histograms() map[string]HistogramSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]HistogramSnapshot, len(m.histograms))
	for name, h := range m.histograms {
		out[name] = h.snapshot()
	}
	return out
}

// Reset clears counters, gauges and histograms in one exclusive section,
// so no concurrent reader observes a partially cleared store.
func (m *MemoryBackend) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = make(map[string]uint64)
	m.gauges = make(map[string]uint64)
	m.histograms = make(map[string]*histogram)
	return nil
}

// Close is a no-op; the store holds no external resources.
func (m *MemoryBackend) Close() error {
	return nil
}

func copyValues(src map[string]uint64) map[string]uint64 {
	dst := make(map[string]uint64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
