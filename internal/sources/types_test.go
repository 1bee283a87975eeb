package sources

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuskit/lms-sync-server/internal/snapshot"
)

const validExportJSON = `{
	"export_version": "1.1.0",
	"courses": [
		{"id": "501", "name": "Intro Biology", "code": "BIO-101"},
		{"id": "502", "name": "Organic Chemistry", "code": "CHEM-201"}
	],
	"students": [
		{"id": "9001", "name": "Ada Lovelace"},
		{"id": "9002", "name": "Alan Turing"}
	],
	"assignments": [
		{"id": "2001", "course_id": "501", "title": "Lab Report"},
		{"id": "2002", "course_id": "502", "title": "Problem Set"}
	],
	"enrollments": [
		{"student_id": "9001", "course_id": "501"},
		{"student_id": "9002", "course_id": "502"}
	]
}`

func TestValidateData(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		data        string
		expectError string
	}{
		{
			name: "valid document",
			data: validExportJSON,
		},
		{
			name:        "empty data",
			data:        "",
			expectError: "data cannot be empty",
		},
		{
			name:        "invalid json",
			data:        "{not json",
			expectError: "failed to parse export document",
		},
		{
			name:        "missing export version",
			data:        `{"courses": []}`,
			expectError: "missing export_version",
		},
		{
			name:        "malformed export version",
			data:        `{"export_version": "banana"}`,
			expectError: "invalid export_version",
		},
		{
			name:        "incompatible major version",
			data:        `{"export_version": "2.0.0"}`,
			expectError: "unsupported export_version 2.0.0",
		},
		{
			name:        "version below supported range",
			data:        `{"export_version": "0.9.0"}`,
			expectError: "unsupported export_version 0.9.0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			validator := NewSourceDataValidator()
			doc, err := validator.ValidateData([]byte(tt.data))

			if tt.expectError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectError)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, doc)
			assert.Equal(t, "1.1.0", doc.ExportVersion)
			assert.Len(t, doc.Courses, 2)
			assert.Len(t, doc.Students, 2)
		})
	}
}

func TestToSnapshot(t *testing.T) {
	t.Parallel()

	validator := NewSourceDataValidator()
	doc, err := validator.ValidateData([]byte(validExportJSON))
	require.NoError(t, err)

	fetchedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("all scope keeps everything", func(t *testing.T) {
		t.Parallel()

		snap := doc.ToSnapshot(snapshot.AllScope(), fetchedAt)
		assert.Equal(t, fetchedAt, snap.FetchedAt)
		assert.True(t, snap.Scope.IsAll())
		assert.Equal(t, snapshot.Counts{Courses: 2, Students: 2, Assignments: 2, Enrollments: 2}, snap.Counts())
	})

	t.Run("course scope narrows to the course", func(t *testing.T) {
		t.Parallel()

		snap := doc.ToSnapshot(snapshot.CourseScope("501"), fetchedAt)
		require.Len(t, snap.Courses, 1)
		assert.Equal(t, "501", snap.Courses[0].ExternalID)
		require.Len(t, snap.Assignments, 1)
		assert.Equal(t, "2001", snap.Assignments[0].ExternalID)
		require.Len(t, snap.Enrollments, 1)
		// Only students enrolled in the scoped course are kept.
		require.Len(t, snap.Students, 1)
		assert.Equal(t, "9001", snap.Students[0].ExternalID)
	})

	t.Run("unknown course scope is empty", func(t *testing.T) {
		t.Parallel()

		snap := doc.ToSnapshot(snapshot.CourseScope("999"), fetchedAt)
		assert.Equal(t, 0, snap.Counts().Total())
	})
}

func TestNewFetchResult(t *testing.T) {
	t.Parallel()

	snap := &snapshot.Snapshot{
		Courses: []snapshot.Course{{ExternalID: "501", Name: "Intro Biology"}},
	}

	result := NewFetchResult(snap, "abc123")
	assert.Equal(t, snap, result.Snapshot)
	assert.Equal(t, "abc123", result.Hash)
	assert.Equal(t, 1, result.Counts.Courses)

	nilResult := NewFetchResult(nil, "")
	assert.Equal(t, 0, nilResult.Counts.Total())
}
