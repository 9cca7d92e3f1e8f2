package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"
)

func TestSetupNoopWhenEndpointEmpty(t *testing.T) {
	shutdown, err := Setup(context.Background(), "test-service", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetupCreatesProviderWhenEndpointSet(t *testing.T) {
	// Non-routable address so nothing is exported.
	shutdown, err := Setup(context.Background(), "test-service", "http://192.0.2.1:4318")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestLedgerMetrics(t *testing.T) {
	m, err := NewLedgerMetrics(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.PartialConsistency(context.Background(), "deposit", "append")

	var nilMetrics *LedgerMetrics
	nilMetrics.PartialConsistency(context.Background(), "deposit", "append")
}
