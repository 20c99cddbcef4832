package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend_CounterAccumulation(t *testing.T) {
	m := NewMemoryBackend()

	require.NoError(t, m.AddCounter("x", 5))
	require.NoError(t, m.AddCounter("x", 7))

	value, found, err := m.GetCounter("x")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(12), value)
}

func TestMemoryBackend_CounterNotFoundVsZero(t *testing.T) {
	m := NewMemoryBackend()

	_, found, err := m.GetCounter("never_written")
	require.NoError(t, err)
	assert.False(t, found, "An unseen counter must be not-found, not zero")

	require.NoError(t, m.AddCounter("zero", 0))
	value, found, err := m.GetCounter("zero")
	require.NoError(t, err)
	assert.True(t, found, "A counter written with 0 must exist")
	assert.Equal(t, uint64(0), value)
}

func TestMemoryBackend_GaugeLastWriteWins(t *testing.T) {
	m := NewMemoryBackend()

	require.NoError(t, m.SetGauge("g", 3))
	require.NoError(t, m.SetGauge("g", 9))

	value, found, err := m.GetGauge("g")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(9), value)
}

func TestMemoryBackend_ConcurrentCounterAdds(t *testing.T) {
	m := NewMemoryBackend()

	const workers = 10
	const perWorker = 1000

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_ = m.AddCounter("concurrent", 1)
			}
		}()
	}
	wg.Wait()

	value, found, err := m.GetCounter("concurrent")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(workers*perWorker), value, "No add may be lost under concurrency")
}

func TestMemoryBackend_HistogramAggregates(t *testing.T) {
	m := NewMemoryBackend()

	for v := uint64(1); v <= 5; v++ {
		require.NoError(t, m.RecordHistogram("latency", v))
	}

	snap, ok := m.Histogram("latency")
	require.True(t, ok)
	assert.Equal(t, uint64(5), snap.Count)
	assert.Equal(t, uint64(15), snap.Sum)
	assert.Equal(t, uint64(1), snap.Min)
	assert.Equal(t, uint64(5), snap.Max)
	assert.Equal(t, 3.0, snap.Mean)
	assert.Equal(t, 5, snap.Retained)
	assert.Equal(t, uint64(3), snap.P50)
	assert.Equal(t, uint64(5), snap.P95)
	assert.Equal(t, uint64(5), snap.P99)
}

func TestMemoryBackend_HistogramRingStaysBounded(t *testing.T) {
	m := NewMemoryBackend()

	const total = 1500
	var sum uint64
	for v := uint64(1); v <= total; v++ {
		require.NoError(t, m.RecordHistogram("h", v))
		sum += v
	}

	snap, ok := m.Histogram("h")
	require.True(t, ok)
	assert.Equal(t, maxSamples, snap.Retained, "Retained samples must never exceed the ring capacity")
	assert.Equal(t, uint64(total), snap.Count, "Count must cover every sample")
	assert.Equal(t, sum, snap.Sum, "Sum must cover every sample")
	assert.Equal(t, uint64(1), snap.Min, "Min must cover samples the ring dropped")
	assert.Equal(t, uint64(total), snap.Max)

	// The ring holds the most recent 1000 samples: 501..1500.
	assert.Equal(t, uint64(1001), snap.P50)
}

func TestMemoryBackend_TimingDerivesSuffixedName(t *testing.T) {
	m := NewMemoryBackend()

	require.NoError(t, m.RecordTiming("op", 25))

	_, ok := m.Histogram("op")
	assert.False(t, ok, "Timings must not land under the bare name")

	snap, ok := m.Histogram("op_ms")
	require.True(t, ok)
	assert.Equal(t, uint64(1), snap.Count)
	assert.Equal(t, uint64(25), snap.Max)
}

func TestMemoryBackend_ResetClearsEverything(t *testing.T) {
	m := NewMemoryBackend()

	require.NoError(t, m.AddCounter("c", 1))
	require.NoError(t, m.SetGauge("g", 2))
	require.NoError(t, m.RecordHistogram("h", 3))

	require.NoError(t, m.Reset())

	_, found, _ := m.GetCounter("c")
	assert.False(t, found, "Counters must be gone after reset")
	_, found, _ = m.GetGauge("g")
	assert.False(t, found, "Gauges must be gone after reset")
	_, ok := m.Histogram("h")
	assert.False(t, ok, "Histograms must be gone after reset")

	counters, err := m.Counters()
	require.NoError(t, err)
	assert.Empty(t, counters)
	gauges, err := m.Gauges()
	require.NoError(t, err)
	assert.Empty(t, gauges)
}

func TestMemoryBackend_SnapshotsAreCopies(t *testing.T) {
	m := NewMemoryBackend()

	require.NoError(t, m.AddCounter("c", 1))

	snapshot, err := m.Counters()
	require.NoError(t, err)
	snapshot["c"] = 999
	snapshot["injected"] = 1

	value, found, err := m.GetCounter("c")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(1), value, "Mutating a snapshot must not affect the store")

	_, found, _ = m.GetCounter("injected")
	assert.False(t, found)
}

func TestMemoryBackend_ConcurrentMixedOperations(t *testing.T) {
	m := NewMemoryBackend()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = m.AddCounter("ops", 1)
				_ = m.SetGauge("depth", uint64(i))
				_ = m.RecordHistogram("dist", uint64(i))
				_, _ = m.Counters()
				_, _ = m.Gauges()
			}
		}(w)
	}
	wg.Wait()

	value, found, err := m.GetCounter("ops")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(8*200), value)

	snap, ok := m.Histogram("dist")
	require.True(t, ok)
	assert.Equal(t, uint64(8*200), snap.Count)
}
