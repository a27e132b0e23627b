package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// APIMetrics records API-level rejections.
type APIMetrics interface {
	RecordRequestBodyTooLarge(ctx context.Context)
	RecordUnauthorized(ctx context.Context)
}

type apiMetrics struct {
	requestBodyTooLarge metric.Int64Counter
	unauthorized        metric.Int64Counter
}

// NewAPIMetrics creates APIMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewAPIMetrics(meter metric.Meter) (APIMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	tooLarge, err := meter.Int64Counter(
		MetricNameRequestBodyTooLarge,
		metric.WithDescription("Requests rejected because the body exceeded the configured limit (413)"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create request body too large counter: %w", err)
	}

	unauthorized, err := meter.Int64Counter(
		MetricNameUnauthorized,
		metric.WithDescription("Requests to /v1/ rejected for a missing or wrong API key (401)"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create unauthorized counter: %w", err)
	}

	return &apiMetrics{requestBodyTooLarge: tooLarge, unauthorized: unauthorized}, nil
}

func (a *apiMetrics) RecordRequestBodyTooLarge(ctx context.Context) {
	a.requestBodyTooLarge.Add(ctx, 1)
}

func (a *apiMetrics) RecordUnauthorized(ctx context.Context) {
	a.unauthorized.Add(ctx, 1)
}
