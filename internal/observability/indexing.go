package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// IndexingMetrics records change capture, worker and tenant purge metrics.
// Methods accept ctx for future exemplar support.
type IndexingMetrics interface {
	RecordJobEnqueued(ctx context.Context, entityType string)
	RecordEnqueueError(ctx context.Context, reason string)
	RecordJobPoisoned(ctx context.Context, entityType string)
	RecordOutcome(ctx context.Context, status string)
	RecordWorkerError(ctx context.Context, reason string)
	RecordJobDuration(ctx context.Context, duration time.Duration, status string)
	RecordDrainRun(ctx context.Context, trigger string)
	RecordTenantPurge(ctx context.Context, recordsRemoved int)
}

type indexingMetrics struct {
	jobsEnqueued  metric.Int64Counter
	enqueueErrors metric.Int64Counter
	jobsPoisoned  metric.Int64Counter
	outcomes      metric.Int64Counter
	workerErrors  metric.Int64Counter
	duration      metric.Float64Histogram
	drainRuns     metric.Int64Counter
	purges        metric.Int64Counter
	purged        metric.Int64Counter
}

// NewIndexingMetrics creates IndexingMetrics. Returns (nil, nil) when meter is nil (metrics disabled).
func NewIndexingMetrics(meter metric.Meter) (IndexingMetrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	m := &indexingMetrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.jobsEnqueued, MetricNameJobsEnqueued, "Total embedding jobs enqueued by change capture"},
		{&m.enqueueErrors, MetricNameEnqueueErrors, "Change events that could not be enqueued"},
		{&m.jobsPoisoned, MetricNameJobsPoisoned, "Jobs moved to the dead-letter table after exceeding max attempts"},
		{&m.outcomes, MetricNameOutcomes, "Indexing job outcomes by status"},
		{&m.workerErrors, MetricNameWorkerErrors, "Indexing worker errors by reason"},
		{&m.drainRuns, MetricNameDrainRuns, "ProcessAvailable passes by trigger (ticker, api, cli)"},
		{&m.purges, MetricNameTenantPurges, "Tenant embedding purges completed"},
		{&m.purged, MetricNameRecordsPurged, "Embedding records removed by tenant purges"},
	}

	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("create %s counter: %w", c.name, err)
		}

		*c.dst = counter
	}

	duration, err := meter.Float64Histogram(
		MetricNameJobDuration,
		metric.WithDescription("Indexing job duration (seconds)"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create indexing duration histogram: %w", err)
	}

	m.duration = duration

	return m, nil
}

func (m *indexingMetrics) RecordJobEnqueued(ctx context.Context, entityType string) {
	m.jobsEnqueued.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrEntity, NormalizeEntityType(entityType))))
}

func (m *indexingMetrics) RecordEnqueueError(ctx context.Context, reason string) {
	reason = NormalizeReason(reason, AllowedEnqueueReasons)
	m.enqueueErrors.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrReason, reason)))
}

func (m *indexingMetrics) RecordJobPoisoned(ctx context.Context, entityType string) {
	m.jobsPoisoned.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrEntity, NormalizeEntityType(entityType))))
}

func (m *indexingMetrics) RecordOutcome(ctx context.Context, status string) {
	status = NormalizeReason(status, AllowedOutcomeStatuses)
	m.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrStatus, status)))
}

func (m *indexingMetrics) RecordWorkerError(ctx context.Context, reason string) {
	reason = NormalizeReason(reason, AllowedWorkerReasons)
	m.workerErrors.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrReason, reason)))
}

func (m *indexingMetrics) RecordJobDuration(ctx context.Context, duration time.Duration, status string) {
	status = NormalizeReason(status, AllowedOutcomeStatuses)
	m.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String(AttrStatus, status)))
}

func (m *indexingMetrics) RecordDrainRun(ctx context.Context, trigger string) {
	trigger = NormalizeReason(trigger, AllowedDrainTriggers)
	m.drainRuns.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrTrigger, trigger)))
}

func (m *indexingMetrics) RecordTenantPurge(ctx context.Context, recordsRemoved int) {
	m.purges.Add(ctx, 1)
	m.purged.Add(ctx, int64(recordsRemoved))
}
