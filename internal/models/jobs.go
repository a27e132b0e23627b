package models

import (
	"errors"
	"fmt"
	"time"
)

// EntityType identifies the kind of source entity an embedding job refers to.
type EntityType string

// Indexable entity types.
const (
	EntityTypeFeature EntityType = "feature"
	EntityTypeRelease EntityType = "release"
	EntityTypePage    EntityType = "page"
)

// ErrInvalidEntityType is returned by ParseEntityType for unknown values.
var ErrInvalidEntityType = errors.New("invalid entity type")

// IsValid reports whether t is one of the indexable entity types.
func (t EntityType) IsValid() bool {
	switch t {
	case EntityTypeFeature, EntityTypeRelease, EntityTypePage:
		return true
	default:
		return false
	}
}

// ParseEntityType converts s to an EntityType.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidEntityType, s)
	}

	return t, nil
}

// Operation is what an embedding job asks the worker to do.
type Operation string

// Job operations.
const (
	OperationUpsert Operation = "upsert"
	OperationClear  Operation = "clear"
)

// IsValid reports whether o is upsert or clear.
func (o Operation) IsValid() bool {
	return o == OperationUpsert || o == OperationClear
}

// JobPayload is the queue message body. Delivery metadata (id, attempts, visibility)
// is owned by the queue and kept out of the payload.
type JobPayload struct {
	EntityType EntityType     `json:"entityType"` //nolint:tagliatelle // wire contract
	EntityID   string         `json:"entityId"`   //nolint:tagliatelle // wire contract
	TenantID   string         `json:"tenantId"`   //nolint:tagliatelle // wire contract
	Operation  Operation      `json:"operation"`
	Content    string         `json:"content,omitempty"`
	Metadata   RecordMetadata `json:"metadata"`
}

// EmbeddingJob is a queued unit of work together with its delivery metadata.
type EmbeddingJob struct {
	ID           string     `json:"id"`
	Payload      JobPayload `json:"payload"`
	EnqueuedAt   time.Time  `json:"enqueued_at"`
	AttemptCount int        `json:"attempt_count"`
}

// DeadJob is a poisoned job kept for operator attention.
type DeadJob struct {
	ID           string     `json:"id"`
	Payload      JobPayload `json:"payload"`
	EnqueuedAt   time.Time  `json:"enqueued_at"`
	AttemptCount int        `json:"attempt_count"`
	Reason       string     `json:"reason"`
	DeadAt       time.Time  `json:"dead_at"`
}

// ListDeadJobsFilters are the query parameters for listing dead-lettered jobs.
type ListDeadJobsFilters struct {
	TenantID string `form:"tenantId" validate:"omitempty,max=255,no_null_bytes"`
	Limit    int    `form:"limit"    validate:"omitempty,min=1,max=500"`
}
