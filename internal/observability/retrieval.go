package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RetrievalMetrics records similarity search requests and tenant isolation violations.
type RetrievalMetrics interface {
	RecordRetrieval(ctx context.Context, status, shape string, duration time.Duration)
	RecordIsolationViolation(ctx context.Context, backend string)
}

type retrievalMetrics struct {
	requests   metric.Int64Counter
	duration   metric.Float64Histogram
	violations metric.Int64Counter
}

// NewRetrievalMetrics creates RetrievalMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewRetrievalMetrics(meter metric.Meter) (RetrievalMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	requests, err := meter.Int64Counter(
		MetricNameRetrievalRequests,
		metric.WithDescription("Retrieval requests by status (ok, empty, unavailable, invalid) and query shape"),
	)
	if err != nil {
		return nil, fmt.Errorf("create retrieval requests counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		MetricNameRetrievalDuration,
		metric.WithDescription("Retrieval duration including query embedding (seconds)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create retrieval duration histogram: %w", err)
	}

	violations, err := meter.Int64Counter(
		MetricNameIsolationViolation,
		metric.WithDescription("Search results discarded because a row belonged to another tenant"),
	)
	if err != nil {
		return nil, fmt.Errorf("create isolation violations counter: %w", err)
	}

	return &retrievalMetrics{requests: requests, duration: duration, violations: violations}, nil
}

func (r *retrievalMetrics) RecordRetrieval(ctx context.Context, status, shape string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(AttrStatus, NormalizeReason(status, AllowedRetrievalStatuses)),
		attribute.String(AttrShape, NormalizeReason(shape, AllowedRetrievalShapes)),
	)
	r.requests.Add(ctx, 1, attrs)
	r.duration.Record(ctx, duration.Seconds(), attrs)
}

func (r *retrievalMetrics) RecordIsolationViolation(ctx context.Context, backend string) {
	backend = NormalizeReason(backend, AllowedBackends)
	r.violations.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrBackend, backend)))
}
