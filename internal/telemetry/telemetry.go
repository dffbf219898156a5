package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	goruntime "runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds all telemetry instruments and providers.
type Telemetry struct {
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	meter          metric.Meter
	exporter       *prometheus.Exporter

	// RED Metrics (Rate, Errors, Duration)
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// Pipeline
	clientOperationsTotal metric.Int64Counter
	clientErrors          metric.Int64Counter
	transfersTotal        metric.Int64Counter
	transfersActive       metric.Int64UpDownCounter
	transferDuration      metric.Float64Histogram
	transferBytes         metric.Int64Counter
	curationsTotal        metric.Int64Counter
	curationRemoved       metric.Int64Counter
	playbackSessions      metric.Int64Counter
	playbackPosition      metric.Float64Histogram

	// System health
	systemErrors   metric.Int64Counter
	systemUptime   metric.Float64Gauge
	goroutineCount metric.Int64Gauge
	memoryUsage    metric.Int64Gauge
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	// OTLPEndpoint, when set, pushes metrics over OTLP/gRPC next to the Prometheus pull endpoint.
	OTLPEndpoint string
}

// New creates a new telemetry instance. A disabled config yields a no-op Telemetry.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	}

	if cfg.OTLPEndpoint != "" {
		otlp, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp metric exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(otlp)))
	}

	meterProvider := sdkmetric.NewMeterProvider(opts...)
	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithResource(res))

	otel.SetMeterProvider(meterProvider)
	otel.SetTracerProvider(tracerProvider)

	if err := runtime.Start(runtime.WithMeterProvider(meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	t := &Telemetry{
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		tracer:         tracerProvider.Tracer(cfg.ServiceName),
		meter:          meterProvider.Meter(cfg.ServiceName),
		exporter:       exporter,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	go t.collectSystemMetrics(ctx)

	return t, nil
}

// Tracer returns the OpenTelemetry tracer, or a no-op one when telemetry is disabled.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil || t.tracer == nil {
		return otel.Tracer("noop")
	}

	return t.tracer
}

// Meter returns the OpenTelemetry meter.
func (t *Telemetry) Meter() metric.Meter {
	return t.meter
}

// RecordHTTPRequest records a status API request under its route pattern.
func (t *Telemetry) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", status),
	)

	if t.httpRequestsTotal != nil {
		t.httpRequestsTotal.Add(context.Background(), 1, attrs)
	}

	if t.httpRequestDuration != nil {
		t.httpRequestDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

func (t *Telemetry) IncrementHTTPInFlight() {
	if t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), 1)
	}
}

func (t *Telemetry) DecrementHTTPInFlight() {
	if t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), -1)
	}
}

// RecordClientOperation records a call against an external collaborator (catalog, engine, player).
func (t *Telemetry) RecordClientOperation(client, operation, status string) {
	if t.clientOperationsTotal != nil {
		t.clientOperationsTotal.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("client", client),
				attribute.String("operation", operation),
				attribute.String("status", status),
			),
		)
	}

	if status == "error" && t.clientErrors != nil {
		t.clientErrors.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("client", client),
				attribute.String("operation", operation),
			),
		)
	}
}

// RecordTransfer records the outcome of one transfer.
func (t *Telemetry) RecordTransfer(engine, status string, duration time.Duration, bytes int64) {
	attrs := metric.WithAttributes(
		attribute.String("engine", engine),
		attribute.String("status", status),
	)

	if t.transfersTotal != nil {
		t.transfersTotal.Add(context.Background(), 1, attrs)
	}

	if t.transferDuration != nil {
		t.transferDuration.Record(context.Background(), duration.Seconds(), attrs)
	}

	if t.transferBytes != nil && bytes > 0 {
		t.transferBytes.Add(context.Background(), bytes, metric.WithAttributes(attribute.String("engine", engine)))
	}
}

func (t *Telemetry) IncrementActiveTransfers() {
	if t.transfersActive != nil {
		t.transfersActive.Add(context.Background(), 1)
	}
}

func (t *Telemetry) DecrementActiveTransfers() {
	if t.transfersActive != nil {
		t.transfersActive.Add(context.Background(), -1)
	}
}

// RecordCuration records a curation run and how many entries it removed, by kind ("dir" or "file").
func (t *Telemetry) RecordCuration(status string, removed map[string]int) {
	if t.curationsTotal != nil {
		t.curationsTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("status", status)),
		)
	}

	if t.curationRemoved == nil {
		return
	}

	for kind, n := range removed {
		t.curationRemoved.Add(context.Background(), int64(n),
			metric.WithAttributes(attribute.String("kind", kind)),
		)
	}
}

// RecordPlayback records a finished playback session.
func (t *Telemetry) RecordPlayback(outcome string, position float64) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))

	if t.playbackSessions != nil {
		t.playbackSessions.Add(context.Background(), 1, attrs)
	}

	if t.playbackPosition != nil {
		t.playbackPosition.Record(context.Background(), position, attrs)
	}
}

// RecordSystemError records system error metrics.
func (t *Telemetry) RecordSystemError(component, errorType string) {
	if t.systemErrors != nil {
		t.systemErrors.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("component", component),
				attribute.String("error_type", errorType),
			),
		)
	}
}

// Handler returns the HTTP handler for metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t.exporter == nil {
		return http.NotFoundHandler()
	}

	return promhttp.Handler()
}

// Shutdown flushes and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error

	if t.meterProvider != nil {
		errs = append(errs, t.meterProvider.Shutdown(ctx))
	}

	if t.tracerProvider != nil {
		errs = append(errs, t.tracerProvider.Shutdown(ctx))
	}

	return errors.Join(errs...)
}

// instruments collects creation errors so initializeMetrics reads as a plain list.
type instruments struct {
	meter metric.Meter
	errs  []error
}

// counter and upDown take UCUM annotation units such as "{transfer}", which add no suffix to the exported name.
func (in *instruments) counter(name, desc, unit string) metric.Int64Counter {
	c, err := in.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil {
		in.errs = append(in.errs, fmt.Errorf("failed to create %s counter: %w", name, err))
	}

	return c
}

func (in *instruments) upDown(name, desc, unit string) metric.Int64UpDownCounter {
	c, err := in.meter.Int64UpDownCounter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil {
		in.errs = append(in.errs, fmt.Errorf("failed to create %s counter: %w", name, err))
	}

	return c
}

func (in *instruments) histogram(name, desc, unit string) metric.Float64Histogram {
	h, err := in.meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil {
		in.errs = append(in.errs, fmt.Errorf("failed to create %s histogram: %w", name, err))
	}

	return h
}

func (in *instruments) floatGauge(name, desc, unit string) metric.Float64Gauge {
	g, err := in.meter.Float64Gauge(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil {
		in.errs = append(in.errs, fmt.Errorf("failed to create %s gauge: %w", name, err))
	}

	return g
}

func (in *instruments) intGauge(name, desc, unit string) metric.Int64Gauge {
	g, err := in.meter.Int64Gauge(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil {
		in.errs = append(in.errs, fmt.Errorf("failed to create %s gauge: %w", name, err))
	}

	return g
}

func (t *Telemetry) initializeMetrics() error {
	in := &instruments{meter: t.meter}

	t.httpRequestsTotal = in.counter("http_requests_total", "Total number of HTTP requests", "{request}")
	t.httpRequestDuration = in.histogram("http_request_duration_seconds", "HTTP request duration in seconds", "s")
	t.httpRequestsInFlight = in.upDown("http_requests_in_flight", "Number of HTTP requests currently being processed", "{request}")

	t.clientOperationsTotal = in.counter("client_operations_total", "Total number of external client operations", "{operation}")
	t.clientErrors = in.counter("client_errors_total", "Total number of external client errors", "{error}")
	t.transfersTotal = in.counter("transfers_total", "Total number of transfers", "{transfer}")
	t.transfersActive = in.upDown("transfers_active", "Number of active transfers", "{transfer}")
	t.transferDuration = in.histogram("transfer_duration_seconds", "Transfer duration in seconds", "s")
	t.transferBytes = in.counter("transfer_bytes_total", "Bytes acquired by completed transfers", "By")
	t.curationsTotal = in.counter("curations_total", "Total number of folder curations", "{curation}")
	t.curationRemoved = in.counter("curation_removed_entries_total", "Entries removed while curating", "{entry}")
	t.playbackSessions = in.counter("playback_sessions_total", "Total number of playback sessions", "{session}")
	t.playbackPosition = in.histogram("playback_position_seconds", "Last playback position when a session ended", "s")

	t.systemErrors = in.counter("system_errors_total", "Total number of system errors", "{error}")
	t.systemUptime = in.floatGauge("system_uptime_seconds", "System uptime in seconds", "s")
	t.goroutineCount = in.intGauge("goroutine_count", "Number of goroutines", "{goroutine}")
	t.memoryUsage = in.intGauge("memory_usage_bytes", "Memory usage in bytes", "By")

	return errors.Join(in.errs...)
}

func (t *Telemetry) collectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.updateSystemMetrics(startTime)
		}
	}
}

func (t *Telemetry) updateSystemMetrics(startTime time.Time) {
	var m goruntime.MemStats

	goruntime.ReadMemStats(&m)

	if t.memoryUsage != nil {
		t.memoryUsage.Record(context.Background(), int64(m.Alloc))
	}

	if t.goroutineCount != nil {
		t.goroutineCount.Record(context.Background(), int64(goruntime.NumGoroutine()))
	}

	if t.systemUptime != nil {
		t.systemUptime.Record(context.Background(), time.Since(startTime).Seconds())
	}
}
