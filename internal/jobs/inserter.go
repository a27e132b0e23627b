package jobs

import (
	"context"
)

// JobInserter enqueues maintenance jobs without exposing the River client to services.
type JobInserter interface {
	// InsertPurgeTenant enqueues a tenant purge. A purge already pending for the same
	// tenant is reused and reported through the returned duplicate flag.
	InsertPurgeTenant(ctx context.Context, args PurgeTenantArgs) (duplicate bool, err error)
}
