// Package telemetry wires OpenTelemetry tracing and the ledger metrics.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const instrumentationName = "github.com/fundstack/fundstack"

// Setup initialises OpenTelemetry tracing for the given service.
//
// Tracing is opt-in: when endpoint is empty Setup returns a no-op shutdown
// function and no global provider is registered. The returned shutdown
// function flushes pending spans and should be deferred by the caller.
func Setup(ctx context.Context, serviceName, endpoint string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	if endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return noop, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}

// LedgerMetrics records ledger health counters.
type LedgerMetrics struct {
	partial metric.Int64Counter
}

// NewLedgerMetrics registers the ledger instruments on meter. A nil meter
// uses the global provider.
func NewLedgerMetrics(meter metric.Meter) (*LedgerMetrics, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	partial, err := meter.Int64Counter("ledger.partial_consistency",
		metric.WithDescription("Multi-step ledger writes that committed only partially"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}
	return &LedgerMetrics{partial: partial}, nil
}

// PartialConsistency counts one partially committed operation.
func (m *LedgerMetrics) PartialConsistency(ctx context.Context, op, stage string) {
	if m == nil {
		return
	}
	m.partial.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("stage", stage),
	))
}
