package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"

	"edustat/internal/config"
)

const (
	ServiceVersion = "1.0.0"
	MeterName      = "edustat"
)

// OTelProviders holds the OpenTelemetry providers
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	PrometheusHTTP http.Handler
	Logger         *slog.Logger
}

// InitializeOTel initializes tracing and metrics from the telemetry configuration.
// Exporters set to "none" leave the corresponding provider nil and fall back to no-op.
func InitializeOTel(cfg config.TelemetryConfig, logger *slog.Logger) (*OTelProviders, error) {
	if logger == nil {
		logger = GetLogger()
	}
	ctx := context.Background()

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(ServiceVersion),
		semconv.DeploymentEnvironmentName(cfg.Environment),
		attribute.String("service.instance.id", generateInstanceID()),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	providers := &OTelProviders{Logger: logger}

	switch cfg.TraceExporter {
	case "stdout":
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRatio)),
		)
		providers.TracerProvider = tp
		otel.SetTracerProvider(tp)
	case "none", "":
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.TraceExporter)
	}
	providers.Tracer = otel.Tracer(MeterName, trace.WithInstrumentationVersion(ServiceVersion))

	switch cfg.MetricExporter {
	case "prometheus":
		exporter, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		)
		providers.MeterProvider = mp
		providers.Meter = mp.Meter(MeterName, metric.WithInstrumentationVersion(ServiceVersion))
		providers.PrometheusHTTP = promhttp.Handler()
		otel.SetMeterProvider(mp)
	case "none", "":
		providers.Meter = noop.NewMeterProvider().Meter(MeterName)
	default:
		return nil, fmt.Errorf("unsupported metric exporter: %s", cfg.MetricExporter)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.InfoContext(ctx, "otel_initialized",
		slog.String("trace_exporter", cfg.TraceExporter),
		slog.String("metric_exporter", cfg.MetricExporter))

	return providers, nil
}

// Shutdown gracefully shuts down OpenTelemetry providers
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	var errs []error

	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("opentelemetry shutdown errors: %v", errs)
	}
	return nil
}

// BusinessMetrics holds all application-specific metrics
type BusinessMetrics struct {
	// Cleaning
	CleaningRecordsRaw       metric.Int64Counter
	CleaningRecordsCleaned   metric.Int64Counter
	CleaningRecordsAnomalous metric.Int64Counter
	CleaningSubjectFailures  metric.Int64Counter

	// Statistics engine
	StrategyExecutions metric.Int64Counter
	StrategyDuration   metric.Float64Histogram
	StrategyRows       metric.Int64Counter

	// Tasks
	TaskExecutions    metric.Int64Counter
	TaskDuration      metric.Float64Histogram
	TaskStageDuration metric.Float64Histogram
	TaskCancellations metric.Int64Counter
	TasksActive       metric.Int64UpDownCounter
	SchoolFanOut      metric.Int64Counter

	// Ops HTTP server
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
}

// CreateBusinessMetrics creates application-specific metrics
func CreateBusinessMetrics(meter metric.Meter) (*BusinessMetrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(MeterName)
	}

	m := &BusinessMetrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.CleaningRecordsRaw, "cleaning_records_raw_total", "Raw response rows read by cleaning runs"},
		{&m.CleaningRecordsCleaned, "cleaning_records_cleaned_total", "Cleaned records written"},
		{&m.CleaningRecordsAnomalous, "cleaning_records_anomalous_total", "Cleaned records flagged out of range"},
		{&m.CleaningSubjectFailures, "cleaning_subject_failures_total", "Subjects that failed during cleaning"},
		{&m.StrategyExecutions, "statistics_strategy_executions_total", "Statistics strategy executions"},
		{&m.StrategyRows, "statistics_strategy_rows_total", "Rows processed by statistics strategies"},
		{&m.TaskExecutions, "task_executions_total", "Finished task executions"},
		{&m.TaskCancellations, "task_cancellations_total", "Cancelled tasks"},
		{&m.SchoolFanOut, "task_school_computations_total", "School-level sub-computations"},
		{&m.HTTPRequestsTotal, "http_requests_total", "HTTP requests served"},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&m.StrategyDuration, "statistics_strategy_duration_seconds", "Statistics strategy duration in seconds"},
		{&m.TaskDuration, "task_duration_seconds", "Task duration in seconds"},
		{&m.TaskStageDuration, "task_stage_duration_seconds", "Task stage duration in seconds"},
		{&m.HTTPRequestDuration, "http_request_duration_seconds", "HTTP request duration in seconds"},
	}
	for _, h := range histograms {
		if *h.dst, err = meter.Float64Histogram(h.name, metric.WithDescription(h.desc), metric.WithUnit("s")); err != nil {
			return nil, err
		}
	}

	if m.TasksActive, err = meter.Int64UpDownCounter("tasks_active", metric.WithDescription("Currently running tasks")); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordStrategy records one statistics strategy execution
func (m *BusinessMetrics) RecordStrategy(ctx context.Context, strategy string, rows int, duration time.Duration, chunked bool, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	attrs := metric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.Bool("chunked", chunked),
		attribute.String("status", status),
	)
	m.StrategyExecutions.Add(ctx, 1, attrs)
	m.StrategyDuration.Record(ctx, duration.Seconds(), attrs)
	m.StrategyRows.Add(ctx, int64(rows), metric.WithAttributes(attribute.String("strategy", strategy)))
}

// RecordCleaning records the counts of one subject's cleaning
func (m *BusinessMetrics) RecordCleaning(ctx context.Context, subject string, raw, cleaned, anomalous int, failed bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("subject", subject))
	m.CleaningRecordsRaw.Add(ctx, int64(raw), attrs)
	m.CleaningRecordsCleaned.Add(ctx, int64(cleaned), attrs)
	m.CleaningRecordsAnomalous.Add(ctx, int64(anomalous), attrs)
	if failed {
		m.CleaningSubjectFailures.Add(ctx, 1, attrs)
	}
}

// RecordTask records a finished task
func (m *BusinessMetrics) RecordTask(ctx context.Context, kind, status string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("task.kind", kind),
		attribute.String("status", status),
	)
	m.TaskExecutions.Add(ctx, 1, attrs)
	m.TaskDuration.Record(ctx, duration.Seconds(), attrs)
	if status == "cancelled" {
		m.TaskCancellations.Add(ctx, 1, metric.WithAttributes(attribute.String("task.kind", kind)))
	}
}

// RecordStage records one stage duration
func (m *BusinessMetrics) RecordStage(ctx context.Context, kind, stage string, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	m.TaskStageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("task.kind", kind),
		attribute.String("stage", stage),
		attribute.Bool("success", success),
	))
}

// RecordActiveTask tracks the number of running tasks
func (m *BusinessMetrics) RecordActiveTask(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.TasksActive.Add(ctx, delta)
}

// RecordSchool records one school-level sub-computation outcome
func (m *BusinessMetrics) RecordSchool(ctx context.Context, success bool) {
	if m == nil {
		return
	}
	m.SchoolFanOut.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}

// RecordHTTPRequest records one served request
func (m *BusinessMetrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status_code", status),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// generateInstanceID generates a unique instance identifier
func generateInstanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, time.Now().Unix())
}

// StartSpan starts a span on the global tracer
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(MeterName).Start(ctx, name, trace.WithAttributes(attrs...))
}
