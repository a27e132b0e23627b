package models

// ChangeEvent is emitted by the entity mutation path after a successful write.
// Content and Metadata are ignored for clear operations.
type ChangeEvent struct {
	TenantID   string          `json:"tenantId"   validate:"required,min=1,max=255,no_null_bytes"`              //nolint:tagliatelle // API contract
	EntityType string          `json:"entityType" validate:"required,entity_type"`                              //nolint:tagliatelle // API contract
	EntityID   string          `json:"entityId"   validate:"required,min=1,max=255,no_null_bytes"`              //nolint:tagliatelle // API contract
	Operation  string          `json:"operation"  validate:"required,oneof=upsert clear"`
	Content    *string         `json:"content,omitempty"  validate:"omitempty,max=200000,no_null_bytes"`
	Metadata   *ChangeMetadata `json:"metadata,omitempty"`
}

// ChangeMetadata is the optional display metadata of a change event.
type ChangeMetadata struct {
	Name string `json:"name" validate:"omitempty,max=500,no_null_bytes"`
	Kind string `json:"kind" validate:"omitempty,max=100,no_null_bytes"`
}
