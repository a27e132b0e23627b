package observability

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// QueueMetrics exposes the indexing queue gauges. The stats poller calls SetQueueStats;
// the observable gauges report the last values on each collection.
type QueueMetrics interface {
	SetQueueStats(depth, leased, dead int, oldestUnackedAge time.Duration)
}

type queueMetrics struct {
	depth     atomic.Int64
	leased    atomic.Int64
	dead      atomic.Int64
	oldestAge atomic.Uint64 // float64 bits, seconds
}

// NewQueueMetrics registers the queue gauges. Returns (nil, nil) when meter is nil (metrics disabled).
func NewQueueMetrics(meter metric.Meter) (QueueMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	q := &queueMetrics{}

	gauges := []struct {
		name string
		desc string
		unit string
		load func() float64
	}{
		{MetricNameQueueDepth, "Jobs in the live indexing queue (leased or not)", "1",
			func() float64 { return float64(q.depth.Load()) }},
		{MetricNameQueueLeased, "Jobs currently under a lease", "1",
			func() float64 { return float64(q.leased.Load()) }},
		{MetricNameQueueDead, "Jobs in the dead-letter table", "1",
			func() float64 { return float64(q.dead.Load()) }},
		{MetricNameQueueOldestUnackedAge, "Age of the oldest unacknowledged job (seconds)", "s",
			func() float64 { return math.Float64frombits(q.oldestAge.Load()) }},
	}

	for _, g := range gauges {
		load := g.load

		_, err := meter.Float64ObservableGauge(
			g.name,
			metric.WithDescription(g.desc),
			metric.WithUnit(g.unit),
			metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
				o.Observe(load())

				return nil
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("create %s gauge: %w", g.name, err)
		}
	}

	return q, nil
}

func (q *queueMetrics) SetQueueStats(depth, leased, dead int, oldestUnackedAge time.Duration) {
	q.depth.Store(int64(depth))
	q.leased.Store(int64(leased))
	q.dead.Store(int64(dead))
	q.oldestAge.Store(math.Float64bits(oldestUnackedAge.Seconds()))
}
