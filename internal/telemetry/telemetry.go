// Package telemetry initializes OpenTelemetry tracing and metrics exporters.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Shutdown combines multiple shutdown functions.
type Shutdown func(ctx context.Context) error

// Init configures the global OpenTelemetry tracer and meter providers.
// If endpoint is empty, OTEL is disabled and no-op providers are used.
// Returns a shutdown function that must be called during graceful shutdown.
func Init(ctx context.Context, endpoint, serviceName, version string, insecure bool) (Shutdown, error) {
	if endpoint == "" {
		return func(ctx context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	// Trace exporter.
	traceOpts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(endpoint),
	}
	if insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
	}
	traceExp, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp,
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	// Register W3C Trace Context and Baggage propagators so incoming
	// webhook requests keep their traceparent/tracestate/baggage headers.
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	// Metric exporter.
	metricOpts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(endpoint),
	}
	if insecure {
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}
	metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metricExp,
				sdkmetric.WithInterval(15*time.Second),
			),
		),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	shutdown := func(ctx context.Context) error {
		var firstErr error
		if err := tp.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := mp.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		return firstErr
	}

	return shutdown, nil
}

// Meter returns the global meter for the given instrumentation scope.
func Meter(name string) metric.Meter {
	return otel.GetMeterProvider().Meter(name)
}

// Metrics holds the pipeline's domain instruments. All counters are
// backed by the global meter provider, so with OTEL disabled they are
// no-ops.
type Metrics struct {
	SignalsIngested  metric.Int64Counter
	PatternsDetected metric.Int64Counter
	PoliciesInferred metric.Int64Counter
	PoliciesRefined  metric.Int64Counter
}

// NewMetrics registers the pipeline counters on the given scope.
func NewMetrics(scope string) (*Metrics, error) {
	meter := Meter(scope)

	ingested, err := meter.Int64Counter("kizuki.signals.ingested",
		metric.WithDescription("Signals normalized and stored"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create ingested counter: %w", err)
	}
	detected, err := meter.Int64Counter("kizuki.patterns.detected",
		metric.WithDescription("Patterns emitted by aggregation runs"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create detected counter: %w", err)
	}
	inferred, err := meter.Int64Counter("kizuki.policies.inferred",
		metric.WithDescription("Policies produced by inference runs"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create inferred counter: %w", err)
	}
	refined, err := meter.Int64Counter("kizuki.policies.refined",
		metric.WithDescription("Policy refinement passes applied"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create refined counter: %w", err)
	}

	return &Metrics{
		SignalsIngested:  ingested,
		PatternsDetected: detected,
		PoliciesInferred: inferred,
		PoliciesRefined:  refined,
	}, nil
}
