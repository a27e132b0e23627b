package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRiverClient struct {
	insertFn func(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
	lastOpts *river.InsertOpts
}

func (f *fakeRiverClient) Insert(
	ctx context.Context, args river.JobArgs, opts *river.InsertOpts,
) (*rivertype.JobInsertResult, error) {
	f.lastOpts = opts

	return f.insertFn(ctx, args, opts)
}

func TestPurgeTenantArgs(t *testing.T) {
	args := PurgeTenantArgs{TenantID: "acme"}

	assert.Equal(t, "purge_tenant_embeddings", args.Kind())

	opts := args.InsertOpts()
	assert.Equal(t, MaintenanceQueueName, opts.Queue)
	assert.Equal(t, PurgeMaxAttempts, opts.MaxAttempts)
}

func TestRiverJobInserter_InsertPurgeTenant(t *testing.T) {
	t.Run("new job", func(t *testing.T) {
		client := &fakeRiverClient{insertFn: func(_ context.Context, args river.JobArgs, _ *river.InsertOpts) (*rivertype.JobInsertResult, error) {
			got, ok := args.(PurgeTenantArgs)
			assert.True(t, ok)
			assert.Equal(t, "acme", got.TenantID)

			return &rivertype.JobInsertResult{Job: &rivertype.JobRow{ID: 1}}, nil
		}}

		duplicate, err := NewRiverJobInserter(client).InsertPurgeTenant(context.Background(), PurgeTenantArgs{TenantID: "acme"})
		require.NoError(t, err)
		assert.False(t, duplicate)

		require.NotNil(t, client.lastOpts)
		assert.True(t, client.lastOpts.UniqueOpts.ByArgs)
		assert.Contains(t, client.lastOpts.UniqueOpts.ByState, rivertype.JobStatePending)
		assert.Contains(t, client.lastOpts.UniqueOpts.ByState, rivertype.JobStateRunning)
	})

	t.Run("duplicate skipped", func(t *testing.T) {
		client := &fakeRiverClient{insertFn: func(context.Context, river.JobArgs, *river.InsertOpts) (*rivertype.JobInsertResult, error) {
			return &rivertype.JobInsertResult{Job: &rivertype.JobRow{ID: 1}, UniqueSkippedAsDuplicate: true}, nil
		}}

		duplicate, err := NewRiverJobInserter(client).InsertPurgeTenant(context.Background(), PurgeTenantArgs{TenantID: "acme"})
		require.NoError(t, err)
		assert.True(t, duplicate)
	})

	t.Run("insert error is wrapped", func(t *testing.T) {
		errDown := errors.New("connection refused")
		client := &fakeRiverClient{insertFn: func(context.Context, river.JobArgs, *river.InsertOpts) (*rivertype.JobInsertResult, error) {
			return nil, errDown
		}}

		_, err := NewRiverJobInserter(client).InsertPurgeTenant(context.Background(), PurgeTenantArgs{TenantID: "acme"})
		require.ErrorIs(t, err, errDown)
	})
}

func TestErrorHandler(t *testing.T) {
	h := &ErrorHandler{}
	job := &rivertype.JobRow{ID: 7, Kind: "purge_tenant_embeddings", Queue: MaintenanceQueueName, Attempt: 1, MaxAttempts: 10}

	assert.Nil(t, h.HandleError(context.Background(), job, errors.New("boom")), "errors keep the retry schedule")

	res := h.HandlePanic(context.Background(), job, "nil map", "stack")
	require.NotNil(t, res)
	assert.True(t, res.SetCancelled)
}
