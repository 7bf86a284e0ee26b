package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/petal-labs/sequential/catalog"
	"github.com/petal-labs/sequential/config"
	seqotel "github.com/petal-labs/sequential/otel"
)

const instrumentationName = "github.com/petal-labs/sequential/catalog"

// setupTelemetry installs the catalog observer. When an OTLP endpoint is
// configured, spans are exported over HTTP through a batching tracer
// provider. The returned function restores the previous observer and
// flushes pending spans.
func setupTelemetry(ctx context.Context, cfg config.Telemetry) (func(context.Context) error, error) {
	tracerProvider := otelapi.GetTracerProvider()
	var sdkProvider *sdktrace.TracerProvider

	if endpoint := strings.TrimSpace(cfg.OTLPEndpoint); endpoint != "" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("creating otlp trace exporter: %w", err)
		}
		res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))
		sdkProvider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
		tracerProvider = sdkProvider
	}

	observer, err := seqotel.NewCatalogObserver(
		otelapi.GetMeterProvider().Meter(instrumentationName),
		tracerProvider.Tracer(instrumentationName),
	)
	if err != nil {
		if sdkProvider != nil {
			_ = sdkProvider.Shutdown(ctx)
		}
		return nil, fmt.Errorf("initializing catalog observability: %w", err)
	}
	catalog.SetObserver(observer)

	return func(ctx context.Context) error {
		catalog.SetObserver(nil)
		if sdkProvider == nil {
			return nil
		}
		return errors.Join(sdkProvider.ForceFlush(ctx), sdkProvider.Shutdown(ctx))
	}, nil
}
