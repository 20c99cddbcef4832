package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ExporterConfig holds configuration for the Prometheus bridge
type ExporterConfig struct {
	// Namespace is prefixed to every exported metric name.
	Namespace string

	// ConstLabels are attached to every exported metric.
	ConstLabels prometheus.Labels

	// Registry receives the bridge; a fresh private registry is created
	// when nil.
	Registry *prometheus.Registry

	// RuntimeMetrics also registers the standard Go runtime and process
	// collectors.
	RuntimeMetrics bool
}

// ExporterOption is a functional option for exporter configuration
type ExporterOption func(*ExporterConfig)

// WithNamespace sets the metric name prefix
func WithNamespace(ns string) ExporterOption {
	return func(c *ExporterConfig) {
		c.Namespace = ns
	}
}

// WithConstLabels attaches labels to every exported metric
func WithConstLabels(labels prometheus.Labels) ExporterOption {
	return func(c *ExporterConfig) {
		c.ConstLabels = labels
	}
}

// WithRegistry exports into an existing registry
func WithRegistry(reg *prometheus.Registry) ExporterOption {
	return func(c *ExporterConfig) {
		c.Registry = reg
	}
}

// WithRuntimeMetrics also exports Go runtime and process metrics
func WithRuntimeMetrics() ExporterOption {
	return func(c *ExporterConfig) {
		c.RuntimeMetrics = true
	}
}

// Exporter bridges Collector snapshots into a Prometheus registry.
// Counters export as prometheus counters named "<name>_total", gauges
// keep their name, and histograms export as summaries carrying the
// p50/p95/p99 quantiles of the retained ring. Histogram summaries are
// only available while the collector runs on the in-process store; the
// native ABI has no histogram read-back.
type Exporter struct {
	collector *Collector
	registry  *prometheus.Registry
	namespace string
	labels    prometheus.Labels
}

// NewExporter registers a bridge for the collector and returns it.
func NewExporter(c *Collector, opts ...ExporterOption) (*Exporter, error) {
	cfg := &ExporterConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	e := &Exporter{
		collector: c,
		registry:  cfg.Registry,
		namespace: cfg.Namespace,
		labels:    cfg.ConstLabels,
	}
	if err := cfg.Registry.Register(e); err != nil {
		return nil, err
	}
	if cfg.RuntimeMetrics {
		cfg.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return e, nil
}

// GetRegistry returns the registry the bridge is registered with.
func (e *Exporter) GetRegistry() *prometheus.Registry {
	return e.registry
}

// Handler returns an http.Handler serving the scrape endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Describe implements prometheus.Collector. Sending no descriptors marks
// the bridge as unchecked, which it has to be: the metric set is only
// known at scrape time.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	counters, err := e.collector.Counters()
	if err != nil {
		return
	}
	for name, value := range counters {
		desc := prometheus.NewDesc(e.fqName(name)+"_total", "Accumulated counter "+name, nil, e.labels)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(value))
	}

	gauges, err := e.collector.Gauges()
	if err != nil {
		return
	}
	for name, value := range gauges {
		desc := prometheus.NewDesc(e.fqName(name), "Gauge "+name, nil, e.labels)
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(value))
	}

	histograms, err := e.collector.Histograms()
	if err != nil {
		return
	}
	for name, snap := range histograms {
		desc := prometheus.NewDesc(e.fqName(name), "Distribution "+name, nil, e.labels)
		ch <- prometheus.MustNewConstSummary(desc, snap.Count, float64(snap.Sum), map[float64]float64{
			0.5:  float64(snap.P50),
			0.95: float64(snap.P95),
			0.99: float64(snap.P99),
		})
	}
}

func (e *Exporter) fqName(name string) string {
	name = sanitizeName(name)
	if e.namespace == "" {
		return name
	}
	return e.namespace + "_" + name
}

// sanitizeName maps an arbitrary collector metric name onto the
// character set Prometheus accepts.
func sanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == ':':
			b.WriteRune(r)
		case r >= '0' && r <= '9' && i > 0:
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
