package memory

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/stellarlinkco/ctxwindow/internal/memory"

// otelRecorder mirrors controller activity into OpenTelemetry instruments.
// The global provider is a no-op until the host installs one.
type otelRecorder struct {
	added   metric.Int64Counter
	removed metric.Int64Counter
	demoted metric.Int64Counter
	latency metric.Float64Histogram
}

func newOtelRecorder(meter metric.Meter) (*otelRecorder, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	added, err := meter.Int64Counter("ctxwindow.segments.added",
		metric.WithDescription("Segments ingested into the active tier"))
	if err != nil {
		return nil, fmt.Errorf("create added counter: %w", err)
	}
	removed, err := meter.Int64Counter("ctxwindow.segments.removed",
		metric.WithDescription("Segments removed explicitly or by expiry"))
	if err != nil {
		return nil, fmt.Errorf("create removed counter: %w", err)
	}
	demoted, err := meter.Int64Counter("ctxwindow.segments.demoted",
		metric.WithDescription("Segments moved to a lower tier"))
	if err != nil {
		return nil, fmt.Errorf("create demoted counter: %w", err)
	}
	latency, err := meter.Float64Histogram("ctxwindow.retrieval.duration",
		metric.WithDescription("Retrieval latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("create latency histogram: %w", err)
	}

	return &otelRecorder{
		added:   added,
		removed: removed,
		demoted: demoted,
		latency: latency,
	}, nil
}

func (r *otelRecorder) segmentAdded() {
	r.added.Add(context.Background(), 1)
}

func (r *otelRecorder) segmentRemoved(reason string) {
	r.removed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (r *otelRecorder) segmentsDemoted(n int, from, to Tier) {
	r.demoted.Add(context.Background(), int64(n), metric.WithAttributes(
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
}

func (r *otelRecorder) retrievalLatency(ms float64) {
	r.latency.Record(context.Background(), ms)
}
