package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// TracingConfig holds configuration for the tracing middleware.
type TracingConfig struct {
	Tracer     trace.Tracer
	TracerName string
	Propagator propagation.TextMapPropagator

	// RecordErrors attaches handler errors to the span.
	RecordErrors bool

	// ExtraAttrs are set on every span.
	ExtraAttrs []attribute.KeyValue
}

// TracingOption is a functional option for tracing configuration.
type TracingOption func(*TracingConfig)

// WithTracer sets the tracer.
func WithTracer(tracer trace.Tracer) TracingOption {
	return func(c *TracingConfig) {
		c.Tracer = tracer
	}
}

// WithTracerName names the tracer obtained from the global provider.
func WithTracerName(name string) TracingOption {
	return func(c *TracingConfig) {
		c.TracerName = name
	}
}

// WithPropagator sets the context propagator.
func WithPropagator(propagator propagation.TextMapPropagator) TracingOption {
	return func(c *TracingConfig) {
		c.Propagator = propagator
	}
}

// WithRecordErrors records handler errors on spans.
func WithRecordErrors() TracingOption {
	return func(c *TracingConfig) {
		c.RecordErrors = true
	}
}

// WithExtraAttributes sets attributes on every span.
func WithExtraAttributes(attrs ...attribute.KeyValue) TracingOption {
	return func(c *TracingConfig) {
		c.ExtraAttrs = append(c.ExtraAttrs, attrs...)
	}
}

// Tracing opens a server span per request, continuing any trace context
// carried in the incoming metadata, and marks the span with the RPC
// outcome.
func Tracing(opts ...TracingOption) Middleware {
	config := &TracingConfig{
		TracerName:   "hotpath",
		Propagator:   otel.GetTextMapPropagator(),
		RecordErrors: true,
	}
	for _, opt := range opts {
		opt(config)
	}
	if config.Tracer == nil {
		config.Tracer = otel.Tracer(config.TracerName)
	}

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			ctx = config.Propagator.Extract(ctx, &metadataCarrier{md: md})
		}

		ctx, span := config.Tracer.Start(ctx, info.FullMethod,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(config.ExtraAttrs...),
		)
		defer span.End()

		span.SetAttributes(
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.service", serviceName(info.FullMethod)),
			attribute.String("rpc.method", methodName(info.FullMethod)),
		)

		resp, err := handler(ctx, req)

		if err != nil {
			st := status.Convert(err)
			span.SetStatus(otelcodes.Error, st.Message())
			span.SetAttributes(attribute.String("rpc.grpc.status_code", st.Code().String()))
			if config.RecordErrors {
				span.RecordError(err)
			}
		} else {
			span.SetStatus(otelcodes.Ok, "")
			span.SetAttributes(attribute.String("rpc.grpc.status_code", "OK"))
		}

		return resp, err
	}
}

// metadataCarrier adapts grpc metadata to the otel TextMapCarrier.
type metadataCarrier struct {
	md metadata.MD
}

func (mc *metadataCarrier) Get(key string) string {
	values := mc.md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func (mc *metadataCarrier) Set(key, value string) {
	mc.md.Set(key, value)
}

func (mc *metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(mc.md))
	for k := range mc.md {
		keys = append(keys, k)
	}
	return keys
}

// serviceName extracts the service from "/pkg.Service/Method".
func serviceName(fullMethod string) string {
	for i := 1; i < len(fullMethod); i++ {
		if fullMethod[i] == '/' {
			return fullMethod[1:i]
		}
	}
	return fullMethod
}

// methodName extracts the bare method from "/pkg.Service/Method".
func methodName(fullMethod string) string {
	for i := len(fullMethod) - 1; i >= 0; i-- {
		if fullMethod[i] == '/' {
			return fullMethod[i+1:]
		}
	}
	return fullMethod
}

// InjectTraceContext copies the current trace context into outgoing
// gRPC metadata for client calls.
func InjectTraceContext(ctx context.Context) context.Context {
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		md = metadata.New(nil)
	}
	otel.GetTextMapPropagator().Inject(ctx, &metadataCarrier{md: md})
	return metadata.NewOutgoingContext(ctx, md)
}

// StartSpan opens a child span inside a handler.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer("hotpath").Start(ctx, name, opts...)
}
