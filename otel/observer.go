// Package otel records catalog activity into OpenTelemetry metrics and
// traces.
package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/sequential/catalog"
)

// CatalogObserver implements catalog.Observer on top of a meter and tracer.
type CatalogObserver struct {
	tracer trace.Tracer

	operations   metric.Int64Counter
	produced     metric.Int64Counter
	passivations metric.Int64Counter
	latency      metric.Float64Histogram
}

// NewCatalogObserver creates an observer bound to the provided meter/tracer.
// A nil tracer disables spans.
func NewCatalogObserver(meter metric.Meter, tracer trace.Tracer) (*CatalogObserver, error) {
	operations, err := meter.Int64Counter(
		"sequential.operations",
		metric.WithDescription("Number of catalog operations"),
	)
	if err != nil {
		return nil, err
	}
	produced, err := meter.Int64Counter(
		"sequential.values.produced",
		metric.WithDescription("Number of sequence values handed out"),
	)
	if err != nil {
		return nil, err
	}
	passivations, err := meter.Int64Counter(
		"sequential.passivations",
		metric.WithDescription("Number of sequences that stopped producing values"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(
		"sequential.operation.latency",
		metric.WithDescription("Catalog operation latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &CatalogObserver{
		tracer:       tracer,
		operations:   operations,
		produced:     produced,
		passivations: passivations,
		latency:      latency,
	}, nil
}

// ObserveOperation records one catalog operation.
func (o *CatalogObserver) ObserveOperation(observation catalog.OperationObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("op", observation.Op),
		attribute.Bool("success", observation.Err == nil),
	}
	if observation.Kind != "" {
		attrs = append(attrs, attribute.String("kind", observation.Kind))
	}

	ctx := context.Background()
	options := metric.WithAttributes(attrs...)
	o.operations.Add(ctx, 1, options)
	o.latency.Record(ctx, float64(observation.Duration)/float64(time.Second), options)
	if observation.Op == catalog.OpNext && observation.Count > 0 {
		o.produced.Add(ctx, int64(observation.Count), metric.WithAttributes(attribute.String("kind", observation.Kind)))
	}

	if o.tracer == nil {
		return
	}
	spanAttrs := append(attrs[:len(attrs):len(attrs)], attribute.Int("count", observation.Count))
	if observation.Name != "" {
		spanAttrs = append(spanAttrs, attribute.String("sequence", observation.Name))
	}
	_, span := o.tracer.Start(ctx, "sequence."+observation.Op, trace.WithAttributes(spanAttrs...))
	if observation.Err != nil {
		span.RecordError(observation.Err)
		span.SetStatus(codes.Error, observation.Err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// ObservePassivation records a sequence becoming passive.
func (o *CatalogObserver) ObservePassivation(observation catalog.PassivationObservation) {
	if o == nil {
		return
	}

	o.passivations.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("kind", observation.Kind),
		attribute.String("cause", observation.Cause),
	))
}

var _ catalog.Observer = (*CatalogObserver)(nil)
