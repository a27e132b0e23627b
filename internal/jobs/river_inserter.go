package jobs

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// RiverClient is the subset of *river.Client used for inserts.
type RiverClient interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// RiverJobInserter implements JobInserter using the River client.
type RiverJobInserter struct {
	client RiverClient
}

// NewRiverJobInserter creates a new River-based job inserter.
func NewRiverJobInserter(client RiverClient) *RiverJobInserter {
	return &RiverJobInserter{client: client}
}

// InsertPurgeTenant enqueues a purge job with uniqueness on the tenant id.
func (r *RiverJobInserter) InsertPurgeTenant(ctx context.Context, args PurgeTenantArgs) (bool, error) {
	res, err := r.client.Insert(ctx, args, &river.InsertOpts{
		UniqueOpts: river.UniqueOpts{
			ByArgs: true,
			// JobStatePending is required by River when using ByState
			ByState: []rivertype.JobState{
				rivertype.JobStatePending,
				rivertype.JobStateAvailable,
				rivertype.JobStateRunning,
				rivertype.JobStateRetryable,
				rivertype.JobStateScheduled,
			},
		},
	})
	if err != nil {
		return false, fmt.Errorf("insert purge job: %w", err)
	}

	return res != nil && res.UniqueSkippedAsDuplicate, nil
}

var _ JobInserter = (*RiverJobInserter)(nil)
