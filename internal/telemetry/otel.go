// Package telemetry wires the OpenTelemetry tracing pipeline used across
// the orchestrator and plan executor (SPEC_FULL.md §11 "tracing spans per
// stage and per step"). Grounded on the OTLP/HTTP exporter pattern the rest
// of the pack uses for its own agent telemetry (itsneelabh-gomind's
// telemetry package), trimmed to tracing only: this core has no metrics
// surface of its own to export alongside it.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Provider owns the process-wide TracerProvider lifecycle. Shutdown flushes
// and closes the exporter; callers should defer it from main.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// Setup installs a global TracerProvider for serviceName. When endpoint is
// empty, it installs a TracerProvider with no exporter: spans are still
// created (so downstream code never needs to branch on whether tracing is
// configured) but are dropped instead of sent anywhere, satisfying
// SPEC_FULL.md §11's "skipped gracefully if no exporter is configured."
func Setup(ctx context.Context, serviceName, endpoint string) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("building telemetry resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	if endpoint != "" {
		exporter, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("creating OTLP/HTTP trace exporter for %s: %w", endpoint, err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &Provider{tp: tp}, nil
}

// Shutdown flushes pending spans and releases the exporter, bounded by ctx.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.tp.Shutdown(shutdownCtx)
}
