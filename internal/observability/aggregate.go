package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all hub metric collectors. When metrics are disabled, all fields are nil.
// Components accept the individual interfaces and already handle nil.
type Metrics struct {
	Indexing  IndexingMetrics
	Queue     QueueMetrics
	Retrieval RetrievalMetrics
	Cache     CacheMetrics
	API       APIMetrics
}

// NewMetrics creates every collector from the given meter.
// Returns (nil, nil) when meter is nil (metrics disabled).
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	indexing, err := NewIndexingMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("indexing metrics: %w", err)
	}

	queue, err := NewQueueMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("queue metrics: %w", err)
	}

	retrieval, err := NewRetrievalMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("retrieval metrics: %w", err)
	}

	cache, err := NewCacheMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("cache metrics: %w", err)
	}

	api, err := NewAPIMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("api metrics: %w", err)
	}

	return &Metrics{
		Indexing:  indexing,
		Queue:     queue,
		Retrieval: retrieval,
		Cache:     cache,
		API:       api,
	}, nil
}
