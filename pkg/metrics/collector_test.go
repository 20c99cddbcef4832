package metrics

import (
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hotpath-io/hotpath/internal/native"
	"github.com/hotpath-io/hotpath/internal/nativetest"
)

// newNativeCollector wires a Collector directly to a fake backend, as if
// selection had succeeded against it.
func newNativeCollector(t *testing.T, backend native.Collector) *Collector {
	t.Helper()
	c := &Collector{
		log:        zap.NewNop(),
		fallback:   NewMemoryBackend(),
		native:     newNativeBackend(backend),
		nativePath: "nativetest",
	}
	c.binding.Store(bindingNative)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCollectorBindsFallbackWhenNoCandidateExists(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "metrics_collector.so")
	c, err := New(WithLibraryPaths(missing))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	if c.NativeActive() {
		t.Error("Expected fallback binding when no candidate exists")
	}

	if err := c.AddCounter("x", 5); err != nil {
		t.Fatalf("AddCounter on fallback failed: %v", err)
	}
	value, found, err := c.GetCounter("x")
	if err != nil || !found || value != 5 {
		t.Errorf("GetCounter = (%d, %v, %v), want (5, true, nil)", value, found, err)
	}
}

func TestCollectorWithoutNative(t *testing.T) {
	c, err := New(WithoutNative())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	if c.NativeActive() {
		t.Error("WithoutNative must bind the in-process store")
	}
}

func TestCollectorNativePathServesCalls(t *testing.T) {
	backend := nativetest.NewCollector()
	c := newNativeCollector(t, backend)

	if !c.NativeActive() {
		t.Fatal("Expected native binding")
	}
	if err := c.AddCounter("reqs", 3); err != nil {
		t.Fatalf("AddCounter failed: %v", err)
	}
	value, found, err := c.GetCounter("reqs")
	if err != nil || !found || value != 3 {
		t.Fatalf("GetCounter = (%d, %v, %v), want (3, true, nil)", value, found, err)
	}

	if got := backend.Calls("add_counter"); got != 1 {
		t.Errorf("Expected 1 native add_counter call, got %d", got)
	}
	if got := backend.Calls("get_counter"); got != 1 {
		t.Errorf("Expected 1 native get_counter call, got %d", got)
	}
}

func TestCollectorTranslatesNotFoundSentinel(t *testing.T) {
	backend := nativetest.NewCollector()
	c := newNativeCollector(t, backend)

	// The fake returns the reserved sentinel for unseen names; the
	// Collector must hand back a typed not-found, never the raw value.
	value, found, err := c.GetCounter("never_written")
	if err != nil {
		t.Fatalf("GetCounter failed: %v", err)
	}
	if found {
		t.Error("Expected not-found for an unseen counter")
	}
	if value != 0 {
		t.Errorf("Not-found must carry value 0, got %d", value)
	}
	if !c.NativeActive() {
		t.Error("A not-found read is a legitimate result, not a failure")
	}

	_, found, err = c.GetGauge("never_written")
	if err != nil || found {
		t.Errorf("GetGauge = (found=%v, err=%v), want typed not-found", found, err)
	}
}

func TestCollectorDowngradeOnPanic(t *testing.T) {
	backend := nativetest.NewCollector()
	backend.PanicOps("add_counter")
	c := newNativeCollector(t, backend)

	// The failing call must still land, served by the fallback.
	if err := c.AddCounter("x", 5); err != nil {
		t.Fatalf("AddCounter should be retried on the fallback, got: %v", err)
	}
	if c.NativeActive() {
		t.Error("Expected permanent downgrade after native panic")
	}

	value, found, err := c.GetCounter("x")
	if err != nil || !found || value != 5 {
		t.Errorf("GetCounter = (%d, %v, %v), want the retried value from fallback", value, found, err)
	}

	// Nothing dispatches to the native backend after the downgrade.
	if got := backend.Calls("get_counter"); got != 0 {
		t.Errorf("Native backend saw %d get_counter calls after downgrade, want 0", got)
	}
}

func TestCollectorDowngradeOnUndecodableSnapshot(t *testing.T) {
	backend := nativetest.NewCollector()
	backend.FailOps("counters")
	c := newNativeCollector(t, backend)

	counters, err := c.Counters()
	if err != nil {
		t.Fatalf("Counters must recover onto the fallback: %v", err)
	}
	if len(counters) != 0 {
		t.Errorf("Expected pristine fallback snapshot, got %v", counters)
	}
	if c.NativeActive() {
		t.Error("Expected downgrade after snapshot decode failure")
	}
}

func TestCollectorDowngradeIsIdempotentUnderConcurrency(t *testing.T) {
	backend := nativetest.NewCollector()
	backend.PanicOps("add_counter")

	var downgrades atomic.Int32
	c := newNativeCollector(t, backend)
	c.onDowngrade = func(error) { downgrades.Add(1) }

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.AddCounter("x", 1)
		}()
	}
	wg.Wait()

	if got := downgrades.Load(); got != 1 {
		t.Errorf("Expected exactly one downgrade, got %d", got)
	}
	if c.NativeActive() {
		t.Error("Expected fallback binding after concurrent failures")
	}

	// Every add must have landed exactly once on the fallback.
	value, found, err := c.GetCounter("x")
	if err != nil || !found || value != 16 {
		t.Errorf("GetCounter = (%d, %v, %v), want (16, true, nil)", value, found, err)
	}
}

func TestCollectorHistogramsUnavailableWhileNative(t *testing.T) {
	backend := nativetest.NewCollector()
	c := newNativeCollector(t, backend)

	if err := c.RecordHistogram("dist", 7); err != nil {
		t.Fatalf("RecordHistogram failed: %v", err)
	}

	// The native ABI is write-only for histograms.
	_, found, err := c.Histogram("dist")
	if err != nil {
		t.Fatalf("Histogram failed: %v", err)
	}
	if found {
		t.Error("Histogram snapshots must be unavailable while native-bound")
	}
	snaps, err := c.Histograms()
	if err != nil || len(snaps) != 0 {
		t.Errorf("Histograms = (%v, %v), want empty map while native-bound", snaps, err)
	}
	if got := backend.Recorded("dist"); len(got) != 1 || got[0] != 7 {
		t.Errorf("Native backend recorded %v, want [7]", got)
	}
}

func TestCollectorRecordTimingTruncatesToMillis(t *testing.T) {
	backend := nativetest.NewCollector()
	c := newNativeCollector(t, backend)

	if err := c.RecordTiming("op", 25*time.Millisecond+700*time.Microsecond); err != nil {
		t.Fatalf("RecordTiming failed: %v", err)
	}

	if got := backend.Recorded("op_ms"); len(got) != 1 || got[0] != 25 {
		t.Errorf("Native backend recorded %v under op_ms, want [25]", got)
	}
}

func TestCollectorMisuseErrors(t *testing.T) {
	backend := nativetest.NewCollector()
	c := newNativeCollector(t, backend)

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"empty name", func() error { return c.AddCounter("", 1) }, ErrInvalidName},
		{"nul in name", func() error { return c.AddCounter("a\x00b", 1) }, ErrInvalidName},
		{"invalid utf8 name", func() error { return c.SetGauge(string([]byte{0xff, 0xfe}), 1) }, ErrInvalidName},
		{"counter delta too large", func() error { return c.AddCounter("x", MaxValue+1) }, ErrValueRange},
		{"gauge value too large", func() error { return c.SetGauge("g", MaxValue+1) }, ErrValueRange},
		{"histogram sample too large", func() error { return c.RecordHistogram("h", MaxValue+1) }, ErrValueRange},
		{"negative timing", func() error { return c.RecordTiming("op", -time.Second) }, ErrValueRange},
		{"empty name on get", func() error { _, _, err := c.GetCounter(""); return err }, ErrInvalidName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}

	// Misuse is rejected before dispatch and must never cost the binding.
	if !c.NativeActive() {
		t.Error("Misuse errors must not trigger a downgrade")
	}
	if got := backend.Calls("add_counter"); got != 0 {
		t.Errorf("Misuse must not reach the native backend, saw %d calls", got)
	}
}

func TestCollectorResetOnNativePath(t *testing.T) {
	backend := nativetest.NewCollector()
	c := newNativeCollector(t, backend)

	if err := c.AddCounter("x", 5); err != nil {
		t.Fatalf("AddCounter failed: %v", err)
	}
	if err := c.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	_, found, err := c.GetCounter("x")
	if err != nil {
		t.Fatalf("GetCounter failed: %v", err)
	}
	if found {
		t.Error("Expected not-found after reset")
	}
}

func TestCollectorClose(t *testing.T) {
	backend := nativetest.NewCollector()
	c := newNativeCollector(t, backend)

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !backend.Closed() {
		t.Error("Close must release the native handle")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got: %v", err)
	}

	if err := c.AddCounter("x", 1); !errors.Is(err, ErrClosed) {
		t.Errorf("AddCounter after Close = %v, want ErrClosed", err)
	}
	if _, _, err := c.GetCounter("x"); !errors.Is(err, ErrClosed) {
		t.Errorf("GetCounter after Close = %v, want ErrClosed", err)
	}
	if c.NativeActive() {
		t.Error("A closed instance must not report the native backend active")
	}
}

func TestCollectorScenario(t *testing.T) {
	c, err := New(WithoutNative())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	if err := c.AddCounter("x", 5); err != nil {
		t.Fatalf("AddCounter failed: %v", err)
	}
	if err := c.AddCounter("x", 7); err != nil {
		t.Fatalf("AddCounter failed: %v", err)
	}
	value, found, err := c.GetCounter("x")
	if err != nil || !found || value != 12 {
		t.Errorf("GetCounter = (%d, %v, %v), want (12, true, nil)", value, found, err)
	}

	if err := c.SetGauge("g", 3); err != nil {
		t.Fatalf("SetGauge failed: %v", err)
	}
	if err := c.SetGauge("g", 9); err != nil {
		t.Fatalf("SetGauge failed: %v", err)
	}
	value, found, err = c.GetGauge("g")
	if err != nil || !found || value != 9 {
		t.Errorf("GetGauge = (%d, %v, %v), want (9, true, nil)", value, found, err)
	}

	if err := c.IncrementCounter("x"); err != nil {
		t.Fatalf("IncrementCounter failed: %v", err)
	}
	value, _, _ = c.GetCounter("x")
	if value != 13 {
		t.Errorf("IncrementCounter must add exactly 1, got %d", value)
	}
}
