package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campuskit/lms-sync-server/database"
	"github.com/campuskit/lms-sync-server/internal/lifecycle"
	"github.com/campuskit/lms-sync-server/internal/snapshot"
	"github.com/campuskit/lms-sync-server/internal/storage"
)

func TestPostgresStore(t *testing.T) {
	t.Parallel()

	pool, cleanupFunc := database.SetupTestDB(t)
	t.Cleanup(cleanupFunc)

	ctx := context.Background()
	store, err := storage.NewPostgresStore(pool)
	require.NoError(t, err)

	observedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("upsert outcomes", func(t *testing.T) {
		pass, err := store.Begin(ctx)
		require.NoError(t, err)
		defer func() { _ = pass.Rollback(ctx) }()

		outcome, err := pass.UpsertCourse(ctx, snapshot.Course{ExternalID: "501", Name: "Biology"})
		require.NoError(t, err)
		require.Equal(t, storage.OutcomeInserted, outcome)

		outcome, err = pass.UpsertCourse(ctx, snapshot.Course{ExternalID: "501", Name: "Biology II"})
		require.NoError(t, err)
		require.Equal(t, storage.OutcomeUpdated, outcome)

		require.NoError(t, pass.PutObjectLifecycle(ctx, lifecycle.NewObjectRecord(lifecycle.ObjectTypeCourse, "501", observedAt)))

		outcome, err = pass.UpsertStudent(ctx, snapshot.Student{ExternalID: "9001", FullName: "Ada Martin"})
		require.NoError(t, err)
		require.Equal(t, storage.OutcomeInserted, outcome)
		require.NoError(t, pass.PutObjectLifecycle(ctx, lifecycle.NewObjectRecord(lifecycle.ObjectTypeStudent, "9001", observedAt)))

		outcome, err = pass.UpsertAssignment(ctx, snapshot.Assignment{ExternalID: "2001", CourseID: "501", Title: "Lab 1"})
		require.NoError(t, err)
		require.Equal(t, storage.OutcomeInserted, outcome)
		require.NoError(t, pass.PutObjectLifecycle(ctx, lifecycle.NewObjectRecord(lifecycle.ObjectTypeAssignment, "2001", observedAt)))

		outcome, err = pass.UpsertEnrollment(ctx, snapshot.Enrollment{StudentID: "9001", CourseID: "501", Role: "student"})
		require.NoError(t, err)
		require.Equal(t, storage.OutcomeInserted, outcome)
		require.NoError(t, pass.PutEnrollmentLifecycle(ctx, lifecycle.NewEnrollmentRecord(
			lifecycle.EnrollmentKey{StudentID: "9001", CourseID: "501"}, observedAt)))

		require.NoError(t, pass.Commit(ctx))
	})

	t.Run("lifecycle round trip and scoping", func(t *testing.T) {
		pass, err := store.Begin(ctx)
		require.NoError(t, err)
		defer func() { _ = pass.Rollback(ctx) }()

		rec, err := pass.GetObjectLifecycle(ctx, lifecycle.ObjectTypeCourse, "501")
		require.NoError(t, err)
		require.True(t, rec.Active)
		require.NotNil(t, rec.LastSeenAt)
		require.Equal(t, observedAt, rec.LastSeenAt.UTC())

		_, err = pass.GetObjectLifecycle(ctx, lifecycle.ObjectTypeCourse, "missing")
		require.ErrorIs(t, err, storage.ErrNotFound)

		ids, err := pass.ActiveObjectIDs(ctx, lifecycle.ObjectTypeAssignment, snapshot.CourseScope("501"))
		require.NoError(t, err)
		require.Equal(t, []string{"2001"}, ids)

		ids, err = pass.ActiveObjectIDs(ctx, lifecycle.ObjectTypeStudent, snapshot.CourseScope("501"))
		require.NoError(t, err)
		require.Empty(t, ids)

		keys, err := pass.ActiveEnrollmentKeys(ctx, snapshot.AllScope())
		require.NoError(t, err)
		require.Equal(t, []lifecycle.EnrollmentKey{{StudentID: "9001", CourseID: "501"}}, keys)

		require.NoError(t, pass.Rollback(ctx))
	})

	t.Run("review queue and visibility", func(t *testing.T) {
		err := store.UpdateObjectLifecycle(ctx, lifecycle.ObjectTypeAssignment, "2001", func(rec *lifecycle.ObjectRecord) error {
			rec.UpdateDependencyStatus(false, true)
			return rec.MarkRemoved(observedAt.Add(24*time.Hour), "not observed in sync")
		})
		require.NoError(t, err)

		assignments, err := store.ListAssignments(ctx, "501", storage.Visibility{})
		require.NoError(t, err)
		require.Empty(t, assignments)

		assignments, err = store.ListAssignments(ctx, "501", storage.Visibility{IncludePendingDeletion: true})
		require.NoError(t, err)
		require.Len(t, assignments, 1)
		require.True(t, assignments[0].Lifecycle.PendingDeletion)

		pending, err := store.ListPendingDeletions(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		require.Equal(t, "assignment", pending[0].Kind)
		require.Equal(t, "2001", pending[0].ID)
		require.Equal(t, "Lab 1", pending[0].Display)
		require.True(t, pending[0].HistoricalDataExists)
	})

	t.Run("removal candidates", func(t *testing.T) {
		err := store.UpdateObjectLifecycle(ctx, lifecycle.ObjectTypeAssignment, "2001", func(rec *lifecycle.ObjectRecord) error {
			rec.ApproveDeletion(observedAt.Add(24 * time.Hour))
			return nil
		})
		require.NoError(t, err)

		candidates, err := store.ListRemovalCandidates(ctx, observedAt.Add(40*24*time.Hour), 30)
		require.NoError(t, err)
		require.Len(t, candidates, 1)
		require.Equal(t, "2001", candidates[0].ID)

		candidates, err = store.ListRemovalCandidates(ctx, observedAt.Add(10*24*time.Hour), 30)
		require.NoError(t, err)
		require.Empty(t, candidates)
	})

	t.Run("update on missing record", func(t *testing.T) {
		err := store.UpdateObjectLifecycle(ctx, lifecycle.ObjectTypeCourse, "missing", func(*lifecycle.ObjectRecord) error { return nil })
		require.ErrorIs(t, err, storage.ErrNotFound)

		err = store.UpdateEnrollmentLifecycle(ctx, lifecycle.EnrollmentKey{StudentID: "x", CourseID: "y"}, func(*lifecycle.EnrollmentRecord) error { return nil })
		require.ErrorIs(t, err, storage.ErrNotFound)
	})
}
