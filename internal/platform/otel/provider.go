// Package otel wires OpenTelemetry tracing for command binaries.
package otel

import (
	"context"
	"fmt"
	"strings"

	"github.com/louisbranch/metis/internal/platform/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Settings holds the tracing knobs read from the environment.
type Settings struct {
	Endpoint    string  `env:"METIS_OTEL_ENDPOINT"`
	Enabled     string  `env:"METIS_OTEL_ENABLED"`
	SampleRatio float64 `env:"METIS_OTEL_SAMPLE_RATIO" envDefault:"1"`
}

// Disabled reports whether tracing should be skipped.
func (s Settings) Disabled() bool {
	return strings.EqualFold(s.Enabled, "false") || strings.TrimSpace(s.Endpoint) == ""
}

func (s Settings) sampler() sdktrace.Sampler {
	switch {
	case s.SampleRatio >= 1:
		return sdktrace.AlwaysSample()
	case s.SampleRatio <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(s.SampleRatio))
	}
}

// Setup initialises OpenTelemetry tracing for the given service.
//
// Tracing is opt-in: when METIS_OTEL_ENDPOINT is empty or
// METIS_OTEL_ENABLED is "false", Setup returns a no-op shutdown
// function and no global provider is registered. Spans opened by the
// effect dispatcher then go to the global no-op tracer.
//
// The returned shutdown function flushes pending spans and should be deferred
// by the caller.
func Setup(ctx context.Context, serviceName string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	var settings Settings
	if err := config.ParseEnv(&settings); err != nil {
		return noop, fmt.Errorf("otel settings: %w", err)
	}
	if settings.Disabled() {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(settings.Endpoint),
	)
	if err != nil {
		return noop, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(settings.sampler()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}
