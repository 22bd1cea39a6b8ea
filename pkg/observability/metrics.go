package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// MetricsProvider manages OpenTelemetry metrics and Prometheus integration
type MetricsProvider struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	registry      *prometheus.Registry

	// Application metrics
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	ordersSubmittedTotal metric.Int64Counter
	ordersByStatusTotal  metric.Int64Counter
	orderPipelineLatency metric.Float64Histogram
	routerQuoteLatency   metric.Float64Histogram
	routerVenueFailures  metric.Int64Counter
	executorSlippagePct  metric.Float64Histogram
	breakerStateChanges  metric.Int64Counter
	queueDepth           metric.Int64UpDownCounter
	errorRate            metric.Float64Gauge
	systemResourceUsage  metric.Float64Gauge
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	ServiceName    string
	ServiceVersion string
	Namespace      string
	Port           int
	Enabled        bool
}

// NewMetricsProvider creates a new metrics provider
func NewMetricsProvider(cfg MetricsConfig) (*MetricsProvider, error) {
	if !cfg.Enabled {
		return &MetricsProvider{}, nil
	}

	// Create Prometheus registry
	registry := prometheus.NewRegistry()

	// Create Prometheus exporter
	exporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
		otelprom.WithNamespace(cfg.Namespace),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	// Create resource
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// Create meter provider
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	// Set global meter provider
	otel.SetMeterProvider(meterProvider)

	// Create meter
	meter := meterProvider.Meter(cfg.ServiceName)

	// Initialize metrics
	mp := &MetricsProvider{
		meterProvider: meterProvider,
		meter:         meter,
		registry:      registry,
	}

	if err := mp.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return mp, nil
}

// initializeMetrics creates all application metrics
func (mp *MetricsProvider) initializeMetrics() error {
	var err error

	// HTTP metrics
	mp.httpRequestsTotal, err = mp.meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	mp.httpRequestDuration, err = mp.meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_request_duration histogram: %w", err)
	}

	// Order pipeline metrics
	mp.ordersSubmittedTotal, err = mp.meter.Int64Counter(
		"orders_submitted_total",
		metric.WithDescription("Total number of orders submitted"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create orders_submitted_total counter: %w", err)
	}

	mp.ordersByStatusTotal, err = mp.meter.Int64Counter(
		"orders_by_status_total",
		metric.WithDescription("Total number of orders reaching each status"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create orders_by_status_total counter: %w", err)
	}

	mp.orderPipelineLatency, err = mp.meter.Float64Histogram(
		"order_pipeline_duration_seconds",
		metric.WithDescription("Time from pending to a terminal status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2, 5, 10, 20, 30, 60),
	)
	if err != nil {
		return fmt.Errorf("failed to create order_pipeline_duration histogram: %w", err)
	}

	// Router metrics
	mp.routerQuoteLatency, err = mp.meter.Float64Histogram(
		"router_quote_duration_seconds",
		metric.WithDescription("Time to collect quotes from all venues"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return fmt.Errorf("failed to create router_quote_duration histogram: %w", err)
	}

	mp.routerVenueFailures, err = mp.meter.Int64Counter(
		"router_venue_failures_total",
		metric.WithDescription("Total number of venue quote failures"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create router_venue_failures_total counter: %w", err)
	}

	// Executor metrics
	mp.executorSlippagePct, err = mp.meter.Float64Histogram(
		"executor_realized_slippage_ratio",
		metric.WithDescription("(estimated - realized) / estimated output ratio"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create executor_realized_slippage_ratio histogram: %w", err)
	}

	// Circuit breaker metrics
	mp.breakerStateChanges, err = mp.meter.Int64Counter(
		"breaker_state_changes_total",
		metric.WithDescription("Total number of circuit breaker state transitions"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create breaker_state_changes_total counter: %w", err)
	}

	// Queue metrics
	mp.queueDepth, err = mp.meter.Int64UpDownCounter(
		"queue_depth",
		metric.WithDescription("Number of jobs waiting or active in the work queue"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create queue_depth gauge: %w", err)
	}

	// Error rate gauge
	mp.errorRate, err = mp.meter.Float64Gauge(
		"error_rate",
		metric.WithDescription("Current error rate percentage"),
		metric.WithUnit("%"),
	)
	if err != nil {
		return fmt.Errorf("failed to create error_rate gauge: %w", err)
	}

	// System resource usage
	mp.systemResourceUsage, err = mp.meter.Float64Gauge(
		"system_resource_usage",
		metric.WithDescription("System resource usage percentage"),
		metric.WithUnit("%"),
	)
	if err != nil {
		return fmt.Errorf("failed to create system_resource_usage gauge: %w", err)
	}

	return nil
}

// HTTP Metrics Methods

// RecordHTTPRequest records an HTTP request metric
func (mp *MetricsProvider) RecordHTTPRequest(ctx context.Context, method, path, status string, duration time.Duration) {
	if mp.httpRequestsTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	}

	mp.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	mp.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// Order Pipeline Metrics Methods

// RecordOrderSubmitted records a newly accepted order.
func (mp *MetricsProvider) RecordOrderSubmitted(ctx context.Context) {
	if mp.ordersSubmittedTotal == nil {
		return
	}
	mp.ordersSubmittedTotal.Add(ctx, 1)
}

// RecordOrderStatus records an order reaching a given status, and for
// terminal statuses the total time spent since pending.
func (mp *MetricsProvider) RecordOrderStatus(ctx context.Context, status string, sincePending time.Duration) {
	if mp.ordersByStatusTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{attribute.String("status", status)}
	mp.ordersByStatusTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	if status == "confirmed" || status == "failed" {
		mp.orderPipelineLatency.Record(ctx, sincePending.Seconds(), metric.WithAttributes(attrs...))
	}
}

// Router Metrics Methods

// RecordRouterQuote records the time taken to collect quotes from all venues.
func (mp *MetricsProvider) RecordRouterQuote(ctx context.Context, duration time.Duration, winner string) {
	if mp.routerQuoteLatency == nil {
		return
	}
	mp.routerQuoteLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("winner", winner)))
}

// RecordVenueFailure records a venue failing to produce a quote or swap.
func (mp *MetricsProvider) RecordVenueFailure(ctx context.Context, venue, reason string) {
	if mp.routerVenueFailures == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("venue", venue),
		attribute.String("reason", reason),
	}
	mp.routerVenueFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// Executor Metrics Methods

// RecordRealizedSlippage records (estimated-realized)/estimated for a confirmed swap.
func (mp *MetricsProvider) RecordRealizedSlippage(ctx context.Context, venue string, ratio float64) {
	if mp.executorSlippagePct == nil {
		return
	}
	mp.executorSlippagePct.Record(ctx, ratio, metric.WithAttributes(attribute.String("venue", venue)))
}

// Circuit Breaker Metrics Methods

// RecordBreakerStateChange records a circuit breaker transition.
func (mp *MetricsProvider) RecordBreakerStateChange(ctx context.Context, venue, from, to string) {
	if mp.breakerStateChanges == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("venue", venue),
		attribute.String("from", from),
		attribute.String("to", to),
	}
	mp.breakerStateChanges.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// Queue Metrics Methods

// SetQueueDepth adds delta (positive or negative) to the waiting+active
// job count.
func (mp *MetricsProvider) SetQueueDepth(ctx context.Context, delta int64) {
	if mp.queueDepth == nil {
		return
	}
	mp.queueDepth.Add(ctx, delta)
}

// System Metrics Methods

// UpdateErrorRate updates the current error rate
func (mp *MetricsProvider) UpdateErrorRate(ctx context.Context, rate float64) {
	if mp.errorRate == nil {
		return
	}
	mp.errorRate.Record(ctx, rate)
}

// UpdateSystemResourceUsage updates system resource usage
func (mp *MetricsProvider) UpdateSystemResourceUsage(ctx context.Context, resourceType string, usage float64) {
	if mp.systemResourceUsage == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("resource", resourceType),
	}

	mp.systemResourceUsage.Record(ctx, usage, metric.WithAttributes(attrs...))
}

// StartMetricsServer starts the Prometheus metrics HTTP server
func (mp *MetricsProvider) StartMetricsServer(port int) error {
	if mp.registry == nil {
		return fmt.Errorf("metrics not enabled")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(mp.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	return server.ListenAndServe()
}

// Shutdown gracefully shuts down the metrics provider
func (mp *MetricsProvider) Shutdown(ctx context.Context) error {
	if mp.meterProvider == nil {
		return nil
	}
	return mp.meterProvider.Shutdown(ctx)
}
