// Package observability provides OpenTelemetry metrics and tracing for the hub API and indexer.
package observability

// Metric names (Prometheus / OpenTelemetry).
const (
	MetricNameQueueDepth            = "hub_indexing_queue_depth"
	MetricNameQueueOldestUnackedAge = "hub_indexing_queue_oldest_unacked_age_seconds"
	MetricNameQueueLeased           = "hub_indexing_queue_leased"
	MetricNameQueueDead             = "hub_indexing_queue_dead"

	MetricNameJobsEnqueued  = "hub_indexing_jobs_enqueued_total"
	MetricNameJobsPoisoned  = "hub_indexing_jobs_poisoned_total"
	MetricNameOutcomes      = "hub_indexing_outcomes_total"
	MetricNameWorkerErrors  = "hub_indexing_worker_errors_total"
	MetricNameJobDuration   = "hub_indexing_job_duration_seconds"
	MetricNameDrainRuns     = "hub_indexing_drain_runs_total"
	MetricNameEnqueueErrors = "hub_indexing_enqueue_errors_total"
	MetricNameTenantPurges  = "hub_tenant_purges_total"
	MetricNameRecordsPurged = "hub_tenant_records_purged_total"

	MetricNameRetrievalRequests  = "hub_retrieval_requests_total"
	MetricNameRetrievalDuration  = "hub_retrieval_duration_seconds"
	MetricNameIsolationViolation = "hub_tenant_isolation_violations_total"

	MetricNameCacheLookups        = "hub_cache_lookups_total"
	MetricNameRequestBodyTooLarge = "hub_request_body_too_large_total"
	MetricNameUnauthorized        = "hub_unauthorized_requests_total"
)

// Attribute keys.
const (
	AttrReason  = "reason"
	AttrStatus  = "status"
	AttrShape   = "shape"
	AttrTrigger = "trigger"
	AttrBackend = "backend"
	AttrEntity  = "entity_type"
)

// AllowedOutcomeStatuses for hub_indexing_outcomes_total and hub_indexing_job_duration_seconds.
var AllowedOutcomeStatuses = map[string]bool{
	"indexed":  true,
	"skipped":  true,
	"cleared":  true,
	"retry":    true,
	"poisoned": true,
	"lost":     true,
}

// AllowedWorkerReasons for hub_indexing_worker_errors_total.
var AllowedWorkerReasons = map[string]bool{
	"lease_failed":       true,
	"hash_lookup_failed": true,
	"provider_failed":    true,
	"rate_limited":       true,
	"store_failed":       true,
	"ack_failed":         true,
	"release_failed":     true,
	"dead_letter_failed": true,
	"invalid_payload":    true,
}

// AllowedEnqueueReasons for hub_indexing_enqueue_errors_total.
var AllowedEnqueueReasons = map[string]bool{
	"invalid_event":   true,
	"enqueue_failed":  true,
	"normalize_empty": true,
}

// AllowedDrainTriggers for hub_indexing_drain_runs_total.
var AllowedDrainTriggers = map[string]bool{
	"ticker": true,
	"api":    true,
	"cli":    true,
}

// AllowedRetrievalStatuses for hub_retrieval_requests_total.
var AllowedRetrievalStatuses = map[string]bool{
	"ok":          true,
	"empty":       true,
	"unavailable": true,
	"invalid":     true,
}

// AllowedRetrievalShapes for hub_retrieval_requests_total.
var AllowedRetrievalShapes = map[string]bool{
	"enumeration": true,
	"lookup":      true,
	"none":        true,
}

// AllowedBackends for hub_tenant_isolation_violations_total.
var AllowedBackends = map[string]bool{
	"postgres": true,
	"chromem":  true,
}

// AllowedCacheNames for hub_cache_lookups_total.
var AllowedCacheNames = map[string]bool{
	"query_embedding": true,
	"indexing_stats":  true,
}

// AllowedEntityTypes for per-entity counters.
var AllowedEntityTypes = map[string]bool{
	"feature": true,
	"release": true,
	"page":    true,
}

// NormalizeReason returns reason if in allowed, otherwise "other".
func NormalizeReason(reason string, allowed map[string]bool) string {
	if allowed[reason] {
		return reason
	}

	return "other"
}

// NormalizeCacheName returns name if it is a known cache, otherwise "other".
func NormalizeCacheName(name string) string {
	return NormalizeReason(name, AllowedCacheNames)
}

// NormalizeEntityType returns entityType if known, otherwise "unknown".
func NormalizeEntityType(entityType string) string {
	if AllowedEntityTypes[entityType] {
		return entityType
	}

	return "unknown"
}
