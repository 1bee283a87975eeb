package review

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campuskit/lms-sync-server/internal/lifecycle"
	"github.com/campuskit/lms-sync-server/internal/snapshot"
	"github.com/campuskit/lms-sync-server/internal/storage"
)

var (
	t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	t1 = t0.Add(24 * time.Hour)
)

func seededStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := storage.NewMemoryStore()

	pass, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = pass.UpsertStudent(ctx, snapshot.Student{ExternalID: "9001", FullName: "Ada Martin"})
	require.NoError(t, err)
	require.NoError(t, pass.PutObjectLifecycle(ctx, lifecycle.NewObjectRecord(lifecycle.ObjectTypeStudent, "9001", t0)))
	require.NoError(t, pass.PutEnrollmentLifecycle(ctx, lifecycle.NewEnrollmentRecord(
		lifecycle.EnrollmentKey{StudentID: "9001", CourseID: "501"}, t0)))
	require.NoError(t, pass.Commit(ctx))

	// The student went missing with grade history behind it.
	require.NoError(t, s.UpdateObjectLifecycle(ctx, lifecycle.ObjectTypeStudent, "9001", func(rec *lifecycle.ObjectRecord) error {
		rec.UpdateDependencyStatus(false, true)
		return rec.MarkRemoved(t1, "not observed in sync")
	}))
	return s
}

func newService(t *testing.T, store storage.Store) *Service {
	t.Helper()
	svc, err := NewService(store, WithClock(func() time.Time { return t1.Add(time.Hour) }))
	require.NoError(t, err)
	return svc
}

func TestApprove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := seededStore(t)
	svc := newService(t, store)

	require.NoError(t, svc.Approve(ctx, "student", "9001"))

	students, err := store.ListStudents(ctx, storage.Visibility{IncludeInactive: true})
	require.NoError(t, err)
	require.Len(t, students, 1)
	require.False(t, students[0].Lifecycle.Active)
	require.False(t, students[0].Lifecycle.PendingDeletion)
	// RemovedAt keeps the first-missing timestamp.
	require.Equal(t, t1, students[0].Lifecycle.RemovedAt.UTC())

	// Idempotent.
	require.NoError(t, svc.Approve(ctx, "student", "9001"))
}

func TestCancel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := seededStore(t)
	svc := newService(t, store)

	require.NoError(t, svc.Cancel(ctx, "student", "9001"))

	students, err := store.ListStudents(ctx, storage.Visibility{})
	require.NoError(t, err)
	require.Len(t, students, 1)
	require.True(t, students[0].Lifecycle.Active)
	require.False(t, students[0].Lifecycle.PendingDeletion)
	// The record is still missing upstream; the timestamp survives.
	require.Equal(t, t1, students[0].Lifecycle.RemovedAt.UTC())
}

func TestFlag(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := seededStore(t)
	svc := newService(t, store)

	require.NoError(t, svc.Flag(ctx, "enrollment", "9001/501", "student transferred"))

	pending, err := store.ListPendingDeletions(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	var found bool
	for _, pd := range pending {
		if pd.Kind == KindEnrollment {
			found = true
			require.Equal(t, "9001/501", pd.ID)
			require.Equal(t, "student transferred", pd.Reason)
		}
	}
	require.True(t, found)

	// Flagging a retired record is rejected.
	require.NoError(t, svc.Approve(ctx, "student", "9001"))
	err = svc.Flag(ctx, "student", "9001", "again")
	require.ErrorIs(t, err, lifecycle.ErrNotActive)
}

func TestInvalidTargets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newService(t, seededStore(t))

	require.Error(t, svc.Approve(ctx, "teacher", "1"))
	require.Error(t, svc.Approve(ctx, "enrollment", "no-slash"))
	require.ErrorIs(t, svc.Approve(ctx, "course", "missing"), storage.ErrNotFound)
}
