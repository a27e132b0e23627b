// Package jobs holds the River job definitions used for maintenance work that runs
// outside the embedding queue (tenant deprovisioning).
package jobs

import "github.com/riverqueue/river"

const (
	purgeTenantKind = "purge_tenant_embeddings"
	// MaintenanceQueueName is the River queue for tenant purge jobs.
	MaintenanceQueueName = "maintenance"
	// PurgeMaxAttempts bounds River retries for one purge.
	PurgeMaxAttempts = 10
)

// PurgeTenantArgs asks a worker to remove every embedding record and live indexing job of a tenant.
// Uniqueness is by TenantID so repeated deprovisioning requests collapse into one job.
type PurgeTenantArgs struct {
	TenantID string `json:"tenant_id" river:"unique"`
}

// Kind returns the River job kind.
func (PurgeTenantArgs) Kind() string { return purgeTenantKind }

// InsertOpts routes purge jobs to the maintenance queue.
func (PurgeTenantArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       MaintenanceQueueName,
		MaxAttempts: PurgeMaxAttempts,
	}
}

var (
	_ river.JobArgs               = PurgeTenantArgs{}
	_ river.JobArgsWithInsertOpts = PurgeTenantArgs{}
)
