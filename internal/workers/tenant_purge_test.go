package workers

import (
	"context"
	"errors"
	"testing"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagewise/hub/internal/jobs"
	"github.com/pagewise/hub/internal/service"
)

type mockPurger struct {
	purgeFn func(ctx context.Context, tenantID string) (service.PurgeResult, error)
	calls   []string
}

func (m *mockPurger) Purge(ctx context.Context, tenantID string) (service.PurgeResult, error) {
	m.calls = append(m.calls, tenantID)

	return m.purgeFn(ctx, tenantID)
}

func purgeJob(tenantID string, attempt, maxAttempts int) *river.Job[jobs.PurgeTenantArgs] {
	return &river.Job[jobs.PurgeTenantArgs]{
		JobRow: &rivertype.JobRow{ID: 7, Attempt: attempt, MaxAttempts: maxAttempts},
		Args:   jobs.PurgeTenantArgs{TenantID: tenantID},
	}
}

func TestTenantPurgeWorker_Work(t *testing.T) {
	ctx := context.Background()

	t.Run("returns nil on success", func(t *testing.T) {
		purger := &mockPurger{purgeFn: func(context.Context, string) (service.PurgeResult, error) {
			return service.PurgeResult{RecordsRemoved: 3}, nil
		}}
		w := NewTenantPurgeWorker(purger)

		require.NoError(t, w.Work(ctx, purgeJob("t1", 1, 10)))
		assert.Equal(t, []string{"t1"}, purger.calls)
	})

	t.Run("returns error so River retries", func(t *testing.T) {
		storeErr := errors.New("store down")
		purger := &mockPurger{purgeFn: func(context.Context, string) (service.PurgeResult, error) {
			return service.PurgeResult{}, storeErr
		}}
		w := NewTenantPurgeWorker(purger)

		err := w.Work(ctx, purgeJob("t1", 1, 10))
		require.ErrorIs(t, err, storeErr)

		err = w.Work(ctx, purgeJob("t1", 10, 10))
		require.ErrorIs(t, err, storeErr)
	})

	t.Run("cancels job without tenant", func(t *testing.T) {
		purger := &mockPurger{purgeFn: func(context.Context, string) (service.PurgeResult, error) {
			return service.PurgeResult{}, service.ErrMissingTenantID
		}}
		w := NewTenantPurgeWorker(purger)

		err := w.Work(ctx, purgeJob("", 1, 10))
		require.Error(t, err)
		require.ErrorIs(t, err, service.ErrMissingTenantID)
	})
}

func TestTenantPurgeWorker_Timeout(t *testing.T) {
	w := NewTenantPurgeWorker(&mockPurger{})
	assert.Equal(t, tenantPurgeTimeout, w.Timeout(purgeJob("t1", 1, 1)))
}
