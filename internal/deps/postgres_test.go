package deps_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/campuskit/lms-sync-server/database"
	"github.com/campuskit/lms-sync-server/internal/deps"
	"github.com/campuskit/lms-sync-server/internal/lifecycle"
)

func TestPostgresResolver(t *testing.T) {
	t.Parallel()

	pool, cleanupFunc := database.SetupTestDB(t)
	t.Cleanup(cleanupFunc)

	ctx := context.Background()
	resolver, err := deps.NewPostgresResolver(pool)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `
		INSERT INTO annotation (object_type, object_id, author, body)
		VALUES ('course', '501', 'prof', 'archived syllabus kept for reference')`)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `
		INSERT INTO grade_history (student_id, course_id, assignment_id, score)
		VALUES ('9001', '501', '2001', 87.5)`)
	require.NoError(t, err)

	t.Run("user data", func(t *testing.T) {
		exists, err := resolver.HasUserData(ctx, lifecycle.ObjectTypeCourse, "501")
		require.NoError(t, err)
		require.True(t, exists)

		exists, err = resolver.HasUserData(ctx, lifecycle.ObjectTypeCourse, "502")
		require.NoError(t, err)
		require.False(t, exists)

		exists, err = resolver.HasUserData(ctx, lifecycle.ObjectTypeStudent, "501")
		require.NoError(t, err)
		require.False(t, exists)
	})

	t.Run("historical data per object type", func(t *testing.T) {
		for _, tc := range []struct {
			typ    lifecycle.ObjectType
			id     string
			exists bool
		}{
			{lifecycle.ObjectTypeCourse, "501", true},
			{lifecycle.ObjectTypeStudent, "9001", true},
			{lifecycle.ObjectTypeAssignment, "2001", true},
			{lifecycle.ObjectTypeCourse, "999", false},
		} {
			exists, err := resolver.HasHistoricalData(ctx, tc.typ, tc.id)
			require.NoError(t, err)
			require.Equal(t, tc.exists, exists, "%s %s", tc.typ, tc.id)
		}

		_, err := resolver.HasHistoricalData(ctx, lifecycle.ObjectType("teacher"), "1")
		require.Error(t, err)
	})

	t.Run("enrollment history", func(t *testing.T) {
		exists, err := resolver.HasEnrollmentHistory(ctx, lifecycle.EnrollmentKey{StudentID: "9001", CourseID: "501"})
		require.NoError(t, err)
		require.True(t, exists)

		exists, err = resolver.HasEnrollmentHistory(ctx, lifecycle.EnrollmentKey{StudentID: "9001", CourseID: "502"})
		require.NoError(t, err)
		require.False(t, exists)
	})
}

func TestNewPostgresResolverRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := deps.NewPostgresResolver(nil)
	require.Error(t, err)
}
