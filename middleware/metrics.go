package middleware

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hotpath-io/hotpath/pkg/metrics"
)

// MetricsConfig holds configuration for the metrics middleware.
type MetricsConfig struct {
	// Prefix namespaces every series the middleware writes. Defaults
	// to "grpc".
	Prefix string
}

// MetricsOption is a functional option for metrics configuration.
type MetricsOption func(*MetricsConfig)

// WithMetricsPrefix sets the series name prefix.
func WithMetricsPrefix(prefix string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Prefix = prefix
	}
}

// Metrics records request metrics into collector: a total-request
// counter, per-status-code response counters, an error counter, an
// in-flight gauge and a per-method latency timing.
func Metrics(collector *metrics.Collector, opts ...MetricsOption) Middleware {
	config := &MetricsConfig{Prefix: "grpc"}
	for _, opt := range opts {
		opt(config)
	}

	var inflight atomic.Int64
	gauge := config.Prefix + "_active_requests"

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()

		_ = collector.SetGauge(gauge, uint64(inflight.Add(1)))
		defer func() {
			n := inflight.Add(-1)
			if n < 0 {
				n = 0
			}
			_ = collector.SetGauge(gauge, uint64(n))
		}()

		resp, err := handler(ctx, req)
		duration := time.Since(start)

		code := codes.OK
		if err != nil {
			if st, ok := status.FromError(err); ok {
				code = st.Code()
			} else {
				code = codes.Unknown
			}
			_ = collector.IncrementCounter(config.Prefix + "_errors")
		}

		_ = collector.IncrementCounter(config.Prefix + "_requests")
		_ = collector.IncrementCounter(config.Prefix + "_responses_" + strings.ToLower(code.String()))
		_ = collector.RecordTiming(methodSeries(config.Prefix, info.FullMethod), duration)

		return resp, err
	}
}

// methodSeries maps "/pkg.Service/Method" onto a flat series name under
// the prefix.
func methodSeries(prefix, fullMethod string) string {
	var b strings.Builder
	b.Grow(len(prefix) + len(fullMethod))
	b.WriteString(prefix)
	for _, r := range fullMethod {
		switch r {
		case '/', '.':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
