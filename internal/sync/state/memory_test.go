package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campuskit/lms-sync-server/internal/snapshot"
	"github.com/campuskit/lms-sync-server/internal/status"
)

func TestMemoryStateService(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc := NewMemoryStateService()
	scopes := []snapshot.Scope{snapshot.AllScope(), snapshot.CourseScope("501")}
	require.NoError(t, svc.Initialize(ctx, scopes))

	st, err := svc.GetSyncStatus(ctx, snapshot.AllScope())
	require.NoError(t, err)
	require.Equal(t, status.SyncPhaseFailed, st.Phase)
	require.Equal(t, "no previous sync", st.Message)

	_, err = svc.GetSyncStatus(ctx, snapshot.CourseScope("999"))
	require.ErrorIs(t, err, ErrScopeNotFound)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, svc.UpdateSyncStatus(ctx, snapshot.AllScope(), &status.SyncStatus{
		Phase:        status.SyncPhaseComplete,
		LastSyncTime: &now,
		LastSyncHash: "abc",
	}))

	statuses, err := svc.ListSyncStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	require.Equal(t, status.SyncPhaseComplete, statuses["all"].Phase)

	// Re-initializing keeps known scopes and prunes dropped ones.
	require.NoError(t, svc.Initialize(ctx, scopes[:1]))
	statuses, err = svc.ListSyncStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	require.Equal(t, "abc", statuses["all"].LastSyncHash)
}

func TestMemoryStateServiceAtomicUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	svc := NewMemoryStateService()
	require.NoError(t, svc.Initialize(ctx, []snapshot.Scope{snapshot.AllScope()}))

	updated, err := svc.UpdateStatusAtomically(ctx, snapshot.AllScope(), func(st *status.SyncStatus) bool {
		if st.Phase == status.SyncPhaseSyncing {
			return false
		}
		st.Phase = status.SyncPhaseSyncing
		st.AttemptCount++
		return true
	})
	require.NoError(t, err)
	require.True(t, updated)

	// Second attempt observes the in-progress phase and declines.
	updated, err = svc.UpdateStatusAtomically(ctx, snapshot.AllScope(), func(st *status.SyncStatus) bool {
		return st.Phase != status.SyncPhaseSyncing
	})
	require.NoError(t, err)
	require.False(t, updated)

	st, err := svc.GetSyncStatus(ctx, snapshot.AllScope())
	require.NoError(t, err)
	require.Equal(t, status.SyncPhaseSyncing, st.Phase)
	require.Equal(t, 1, st.AttemptCount)
}
