package metrics

import (
	"encoding/json"
	"fmt"

	"github.com/hotpath-io/hotpath/internal/native"
)

// nativeBackend adapts a loaded accelerated collector handle to the
// Backend interface. Sentinel values and recovered panics are translated
// into typed results and ordinary errors right here, so nothing past
// this file ever sees a sentinel. The handle is responsible for its own
// thread safety.
type nativeBackend struct {
	collector native.Collector
}

func newNativeBackend(collector native.Collector) *nativeBackend {
	return &nativeBackend{collector: collector}
}

func (n *nativeBackend) AddCounter(name string, delta uint64) (err error) {
	defer recoverBoundary("add_counter", &err)
	n.collector.AddCounter(name, delta)
	return nil
}

func (n *nativeBackend) GetCounter(name string) (value uint64, found bool, err error) {
	defer recoverBoundary("get_counter", &err)
	v := n.collector.GetCounter(name)
	if native.IsSentinel(v) {
		return 0, false, nil
	}
	return v, true, nil
}

func (n *nativeBackend) SetGauge(name string, value uint64) (err error) {
	defer recoverBoundary("set_gauge", &err)
	n.collector.SetGauge(name, value)
	return nil
}

func (n *nativeBackend) GetGauge(name string) (value uint64, found bool, err error) {
	defer recoverBoundary("get_gauge", &err)
	v := n.collector.GetGauge(name)
	if native.IsSentinel(v) {
		return 0, false, nil
	}
	return v, true, nil
}

func (n *nativeBackend) RecordHistogram(name string, value uint64) (err error) {
	defer recoverBoundary("record_histogram", &err)
	n.collector.RecordHistogram(name, value)
	return nil
}

func (n *nativeBackend) RecordTiming(name string, millis uint64) (err error) {
	defer recoverBoundary("record_timing", &err)
	n.collector.RecordTiming(name, millis)
	return nil
}

func (n *nativeBackend) Counters() (values map[string]uint64, err error) {
	defer recoverBoundary("counters", &err)
	return decodeValues("counters", n.collector.Counters())
}

func (n *nativeBackend) Gauges() (values map[string]uint64, err error) {
	defer recoverBoundary("gauges", &err)
	return decodeValues("gauges", n.collector.Gauges())
}

func (n *nativeBackend) Reset() (err error) {
	defer recoverBoundary("reset", &err)
	n.collector.Reset()
	return nil
}

func (n *nativeBackend) Close() (err error) {
	defer recoverBoundary("close", &err)
	n.collector.Close()
	return nil
}

func decodeValues(op, payload string) (map[string]uint64, error) {
	if payload == "" {
		return nil, fmt.Errorf("native %s returned an empty payload", op)
	}
	values := make(map[string]uint64)
	if err := json.Unmarshal([]byte(payload), &values); err != nil {
		return nil, fmt.Errorf("decode native %s: %w", op, err)
	}
	return values, nil
}

// recoverBoundary converts a panic escaping a native call into an error.
func recoverBoundary(op string, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("native %s panicked: %v", op, r)
	}
}
