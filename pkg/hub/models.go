package hub

import "time"

// Entity types accepted by the hub.
const (
	EntityTypeFeature = "feature"
	EntityTypeRelease = "release"
	EntityTypePage    = "page"
)

// Change operations.
const (
	OperationUpsert = "upsert"
	OperationClear  = "clear"
)

// ChangeEvent is the body of POST /v1/changes.
type ChangeEvent struct {
	TenantID   string          `json:"tenantId"`   //nolint:tagliatelle // API contract
	EntityType string          `json:"entityType"` //nolint:tagliatelle // API contract
	EntityID   string          `json:"entityId"`   //nolint:tagliatelle // API contract
	Operation  string          `json:"operation"`
	Content    *string         `json:"content,omitempty"`
	Metadata   *ChangeMetadata `json:"metadata,omitempty"`
}

// ChangeMetadata carries the display fields returned with search hits.
type ChangeMetadata struct {
	Name string `json:"name,omitempty"`
	Kind string `json:"kind,omitempty"`
}

// SearchRequest is the body of POST /v1/retrieval/search. TopK 0 lets the server choose.
type SearchRequest struct {
	TenantID string `json:"tenantId"` //nolint:tagliatelle // API contract
	Query    string `json:"query"`
	TopK     int    `json:"topK,omitempty"` //nolint:tagliatelle // API contract
}

// SearchResult is one hit.
type SearchResult struct {
	EntityType string  `json:"entityType"` //nolint:tagliatelle // API contract
	EntityID   string  `json:"entityId"`   //nolint:tagliatelle // API contract
	Similarity float64 `json:"similarity"`
	Name       string  `json:"name"`
	Kind       string  `json:"kind,omitempty"`
	Snippet    string  `json:"snippet,omitempty"`
}

// SearchResponse is the search result. An empty Results slice means nothing matched.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	TopK    int            `json:"topK"` //nolint:tagliatelle // API contract
	Shape   string         `json:"shape,omitempty"`
}

// DrainStats summarizes a drain run.
type DrainStats struct {
	Passes     int   `json:"passes"`
	Leased     int   `json:"leased"`
	Indexed    int   `json:"indexed"`
	Skipped    int   `json:"skipped"`
	Cleared    int   `json:"cleared"`
	Retried    int   `json:"retried"`
	Poisoned   int   `json:"poisoned"`
	Lost       int   `json:"lost"`
	DurationMs int64 `json:"durationMs"` //nolint:tagliatelle // API contract
}

// QueueStats is the indexing queue snapshot.
type QueueStats struct {
	Depth               int     `json:"depth"`
	Leased              int     `json:"leased"`
	Dead                int     `json:"dead"`
	OldestUnackedAgeSec float64 `json:"oldest_unacked_age_seconds"`
}

// OldestUnackedAge returns the age of the oldest pending job.
func (s QueueStats) OldestUnackedAge() time.Duration {
	return time.Duration(s.OldestUnackedAgeSec * float64(time.Second))
}

// PurgeResult reports what an inline tenant purge removed.
type PurgeResult struct {
	RecordsRemoved int `json:"recordsRemoved"` //nolint:tagliatelle // API contract
	JobsRemoved    int `json:"jobsRemoved"`    //nolint:tagliatelle // API contract
}

// PurgeRequest is the response of DELETE /v1/tenants/{tenant_id}/embeddings. Result is set when
// the server purged inline; otherwise the purge was queued.
type PurgeRequest struct {
	Queued    bool         `json:"queued"`
	Duplicate bool         `json:"duplicate,omitempty"`
	Result    *PurgeResult `json:"result,omitempty"`
}

// DeadJob is a dead-lettered indexing job.
type DeadJob struct {
	ID           string    `json:"id"`
	Payload      Payload   `json:"payload"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
	AttemptCount int       `json:"attempt_count"`
	Reason       string    `json:"reason"`
	DeadAt       time.Time `json:"dead_at"`
}

// Payload identifies the entity a dead job was indexing.
type Payload struct {
	EntityType string `json:"entityType"` //nolint:tagliatelle // API contract
	EntityID   string `json:"entityId"`   //nolint:tagliatelle // API contract
	TenantID   string `json:"tenantId"`   //nolint:tagliatelle // API contract
	Operation  string `json:"operation"`
}
