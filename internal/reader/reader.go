// Package reader is the query surface consumers use. Every read filters
// to active records by default; callers widen the view explicitly, so
// removed data can never leak into a listing by accident.
package reader

import (
	"context"
	"fmt"
	"time"

	"github.com/campuskit/lms-sync-server/internal/snapshot"
	"github.com/campuskit/lms-sync-server/internal/storage"
)

// ListOption widens the default active-only view of a single call.
type ListOption func(*storage.Visibility)

// IncludeInactive admits retired records.
func IncludeInactive() ListOption {
	return func(v *storage.Visibility) {
		v.IncludeInactive = true
	}
}

// IncludePendingDeletion admits records flagged for deletion review.
func IncludePendingDeletion() ListOption {
	return func(v *storage.Visibility) {
		v.IncludePendingDeletion = true
	}
}

// Reader reads synced entities through the lifecycle filter.
type Reader struct {
	store storage.Reader
	now   func() time.Time
}

// Option configures a Reader.
type Option func(*Reader)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(r *Reader) {
		r.now = now
	}
}

// New creates a reader over the given store.
func New(store storage.Reader, opts ...Option) (*Reader, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	r := &Reader{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func visibility(opts []ListOption) storage.Visibility {
	var v storage.Visibility
	for _, opt := range opts {
		opt(&v)
	}
	return v
}

// Courses lists courses.
func (r *Reader) Courses(ctx context.Context, opts ...ListOption) ([]storage.CourseView, error) {
	return r.store.ListCourses(ctx, visibility(opts))
}

// Students lists students.
func (r *Reader) Students(ctx context.Context, opts ...ListOption) ([]storage.StudentView, error) {
	return r.store.ListStudents(ctx, visibility(opts))
}

// Assignments lists assignments, limited to one course when courseID is
// non-empty.
func (r *Reader) Assignments(ctx context.Context, courseID string, opts ...ListOption) ([]storage.AssignmentView, error) {
	return r.store.ListAssignments(ctx, courseID, visibility(opts))
}

// Enrollments lists enrollments within the scope.
func (r *Reader) Enrollments(ctx context.Context, scope snapshot.Scope, opts ...ListOption) ([]storage.EnrollmentView, error) {
	return r.store.ListEnrollments(ctx, scope, visibility(opts))
}

// PendingDeletions returns the review queue, newest removal first.
func (r *Reader) PendingDeletions(ctx context.Context) ([]storage.PendingDeletion, error) {
	return r.store.ListPendingDeletions(ctx)
}

// RemovalCandidates returns retired records old enough for physical
// purging by an external retention job.
func (r *Reader) RemovalCandidates(ctx context.Context, thresholdDays int) ([]storage.RemovalCandidate, error) {
	if thresholdDays < 0 {
		return nil, fmt.Errorf("threshold days must not be negative")
	}
	return r.store.ListRemovalCandidates(ctx, r.now().UTC(), thresholdDays)
}
