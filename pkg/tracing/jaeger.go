// Package tracing wires up OpenTelemetry with a Jaeger exporter for
// services embedding the hotpath runtime.
package tracing

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Config holds configuration for the Jaeger pipeline.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// AgentEndpoint is the Jaeger agent host (UDP). Used when no
	// collector endpoint is set.
	AgentEndpoint string

	// CollectorEndpoint is the Jaeger collector URL (HTTP). Takes
	// precedence over the agent endpoint.
	CollectorEndpoint string

	// SamplingRate is the fraction of traces to sample, 0.0 to 1.0.
	SamplingRate float64

	// ExtraAttributes are added to the service resource.
	ExtraAttributes map[string]string
}

// Option is a functional option for tracing configuration.
type Option func(*Config)

// WithServiceName sets the service name.
func WithServiceName(name string) Option {
	return func(c *Config) {
		c.ServiceName = name
	}
}

// WithServiceVersion sets the service version.
func WithServiceVersion(version string) Option {
	return func(c *Config) {
		c.ServiceVersion = version
	}
}

// WithEnvironment sets the deployment environment.
func WithEnvironment(env string) Option {
	return func(c *Config) {
		c.Environment = env
	}
}

// WithAgentEndpoint sets the Jaeger agent host.
func WithAgentEndpoint(endpoint string) Option {
	return func(c *Config) {
		c.AgentEndpoint = endpoint
	}
}

// WithCollectorEndpoint sets the Jaeger collector URL.
func WithCollectorEndpoint(endpoint string) Option {
	return func(c *Config) {
		c.CollectorEndpoint = endpoint
	}
}

// WithSamplingRate sets the trace sampling rate.
func WithSamplingRate(rate float64) Option {
	return func(c *Config) {
		c.SamplingRate = rate
	}
}

// WithAttribute adds a resource attribute.
func WithAttribute(key, value string) Option {
	return func(c *Config) {
		if c.ExtraAttributes == nil {
			c.ExtraAttributes = make(map[string]string)
		}
		c.ExtraAttributes[key] = value
	}
}

// Init builds the Jaeger export pipeline, installs it as the global
// tracer provider and sets W3C trace context propagation. The returned
// provider must be shut down on exit to flush pending spans.
func Init(opts ...Option) (*sdktrace.TracerProvider, error) {
	config := &Config{
		ServiceName:    "hotpath",
		ServiceVersion: "1.0.0",
		Environment:    getEnvOrDefault("ENVIRONMENT", "development"),
		AgentEndpoint:  getEnvOrDefault("JAEGER_AGENT_HOST", "localhost"),
		SamplingRate:   1.0,
	}
	for _, opt := range opts {
		opt(config)
	}

	var exporter *jaeger.Exporter
	var err error
	if config.CollectorEndpoint != "" {
		exporter, err = jaeger.New(
			jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(config.CollectorEndpoint)),
		)
	} else {
		exporter, err = jaeger.New(
			jaeger.WithAgentEndpoint(jaeger.WithAgentHost(config.AgentEndpoint)),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("creating jaeger exporter: %w", err)
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
		semconv.DeploymentEnvironment(config.Environment),
	}
	for key, value := range config.ExtraAttributes {
		attrs = append(attrs, attribute.String(key, value))
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(attrs...),
		resource.WithHost(),
		resource.WithProcess(),
		resource.WithOS(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case config.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case config.SamplingRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.SamplingRate))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	return tp, nil
}

// Shutdown flushes and stops the provider. A nil provider is a no-op.
func Shutdown(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// ForceFlush exports all pending spans without stopping the provider.
func ForceFlush(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}
	return tp.ForceFlush(ctx)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
