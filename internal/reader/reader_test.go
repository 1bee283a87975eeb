package reader

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campuskit/lms-sync-server/internal/lifecycle"
	"github.com/campuskit/lms-sync-server/internal/snapshot"
	"github.com/campuskit/lms-sync-server/internal/storage"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seededStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := storage.NewMemoryStore()

	pass, err := s.Begin(ctx)
	require.NoError(t, err)

	for _, c := range []snapshot.Course{
		{ExternalID: "501", Name: "Biology"},
		{ExternalID: "502", Name: "Chemistry"},
		{ExternalID: "503", Name: "Physics"},
	} {
		_, err = pass.UpsertCourse(ctx, c)
		require.NoError(t, err)
		require.NoError(t, pass.PutObjectLifecycle(ctx, lifecycle.NewObjectRecord(lifecycle.ObjectTypeCourse, c.ExternalID, t0)))
	}
	require.NoError(t, pass.Commit(ctx))

	// 502 is flagged for review, 503 retired.
	require.NoError(t, s.UpdateObjectLifecycle(ctx, lifecycle.ObjectTypeCourse, "502", func(rec *lifecycle.ObjectRecord) error {
		rec.UpdateDependencyStatus(true, false)
		return rec.MarkRemoved(t0.Add(time.Hour), "not observed in sync")
	}))
	require.NoError(t, s.UpdateObjectLifecycle(ctx, lifecycle.ObjectTypeCourse, "503", func(rec *lifecycle.ObjectRecord) error {
		return rec.MarkRemoved(t0.Add(2*time.Hour), "not observed in sync")
	}))
	return s
}

func TestReaderDefaultFilter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r, err := New(seededStore(t))
	require.NoError(t, err)

	courses, err := r.Courses(ctx)
	require.NoError(t, err)
	require.Len(t, courses, 1)
	require.Equal(t, "501", courses[0].ExternalID)
}

func TestReaderWidening(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r, err := New(seededStore(t))
	require.NoError(t, err)

	courses, err := r.Courses(ctx, IncludePendingDeletion())
	require.NoError(t, err)
	require.Len(t, courses, 2)

	courses, err = r.Courses(ctx, IncludeInactive())
	require.NoError(t, err)
	require.Len(t, courses, 2)

	courses, err = r.Courses(ctx, IncludeInactive(), IncludePendingDeletion())
	require.NoError(t, err)
	require.Len(t, courses, 3)
}

func TestReaderPendingDeletions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r, err := New(seededStore(t))
	require.NoError(t, err)

	pending, err := r.PendingDeletions(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "502", pending[0].ID)
	require.Equal(t, "Chemistry", pending[0].Display)
}

func TestReaderRemovalCandidates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r, err := New(seededStore(t), WithClock(func() time.Time { return t0.Add(45 * 24 * time.Hour) }))
	require.NoError(t, err)

	candidates, err := r.RemovalCandidates(ctx, 30)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, "503", candidates[0].ID)

	_, err = r.RemovalCandidates(ctx, -1)
	require.Error(t, err)
}
