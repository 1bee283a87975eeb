// Package storage defines the persistence contract for synced entities
// and their lifecycle records, plus the read side used by the API.
// Implementations exist for PostgreSQL and for in-memory use in tests and
// database-less deployments.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/campuskit/lms-sync-server/internal/lifecycle"
	"github.com/campuskit/lms-sync-server/internal/snapshot"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("storage: not found")

// UpsertOutcome reports whether an upsert created a new row or updated an
// existing one. Callers branch on the outcome instead of probing for the
// row first.
type UpsertOutcome int

// Upsert outcomes.
const (
	OutcomeInserted UpsertOutcome = iota
	OutcomeUpdated
)

func (o UpsertOutcome) String() string {
	if o == OutcomeInserted {
		return "inserted"
	}
	return "updated"
}

// Pass is a single reconciliation transaction. All writes of one sync
// pass go through one Pass and become visible atomically on Commit;
// Rollback discards everything. A Pass is not safe for concurrent use.
type Pass interface {
	UpsertCourse(ctx context.Context, c snapshot.Course) (UpsertOutcome, error)
	UpsertStudent(ctx context.Context, s snapshot.Student) (UpsertOutcome, error)
	UpsertAssignment(ctx context.Context, a snapshot.Assignment) (UpsertOutcome, error)
	UpsertEnrollment(ctx context.Context, e snapshot.Enrollment) (UpsertOutcome, error)

	// GetObjectLifecycle returns ErrNotFound for objects never synced.
	GetObjectLifecycle(ctx context.Context, typ lifecycle.ObjectType, id string) (*lifecycle.ObjectRecord, error)
	PutObjectLifecycle(ctx context.Context, rec *lifecycle.ObjectRecord) error
	GetEnrollmentLifecycle(ctx context.Context, key lifecycle.EnrollmentKey) (*lifecycle.EnrollmentRecord, error)
	PutEnrollmentLifecycle(ctx context.Context, rec *lifecycle.EnrollmentRecord) error

	// ActiveObjectIDs returns the ids of records that are active and not
	// pending deletion, limited to the scope. These are the records a sync
	// pass expects to observe; anything absent becomes a removal candidate.
	ActiveObjectIDs(ctx context.Context, typ lifecycle.ObjectType, scope snapshot.Scope) ([]string, error)
	ActiveEnrollmentKeys(ctx context.Context, scope snapshot.Scope) ([]lifecycle.EnrollmentKey, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Visibility selects which lifecycle states a read returns. The zero
// value is the default filter: active records that are not pending
// deletion.
type Visibility struct {
	IncludeInactive        bool
	IncludePendingDeletion bool
}

// Admits reports whether a record in the given state passes the filter.
func (v Visibility) Admits(name lifecycle.StateName) bool {
	switch name {
	case lifecycle.StateInactive:
		return v.IncludeInactive
	case lifecycle.StatePendingDeletion:
		return v.IncludePendingDeletion
	default:
		return true
	}
}

// CourseView is a course joined with its lifecycle state.
type CourseView struct {
	snapshot.Course
	Lifecycle lifecycle.State
}

// StudentView is a student joined with its lifecycle state.
type StudentView struct {
	snapshot.Student
	Lifecycle lifecycle.State
}

// AssignmentView is an assignment joined with its lifecycle state.
type AssignmentView struct {
	snapshot.Assignment
	Lifecycle lifecycle.State
}

// EnrollmentView is an enrollment joined with its lifecycle state.
type EnrollmentView struct {
	snapshot.Enrollment
	Lifecycle lifecycle.State
}

// PendingDeletion is one entry of the review queue: a record flagged for
// removal that is waiting on an approve or cancel decision.
type PendingDeletion struct {
	// Kind is an object type, or "enrollment".
	Kind string `json:"kind"`

	// ID is the external id, or "<student>/<course>" for enrollments.
	ID string `json:"id"`

	// Display is a human-readable label for the record.
	Display string `json:"display,omitempty"`

	RemovedAt            *time.Time `json:"removed_at,omitempty"`
	Reason               string     `json:"reason,omitempty"`
	UserDataExists       bool       `json:"user_data_exists"`
	HistoricalDataExists bool       `json:"historical_data_exists"`
}

// RemovalCandidate is one inactive record old enough for physical
// purging by an external retention job.
type RemovalCandidate struct {
	Kind      string    `json:"kind"`
	ID        string    `json:"id"`
	RemovedAt time.Time `json:"removed_at"`
}

// Reader is the query side. All list methods apply the Visibility filter
// and return results in a stable order.
type Reader interface {
	ListCourses(ctx context.Context, vis Visibility) ([]CourseView, error)
	ListStudents(ctx context.Context, vis Visibility) ([]StudentView, error)
	// ListAssignments limits to one course when courseID is non-empty.
	ListAssignments(ctx context.Context, courseID string, vis Visibility) ([]AssignmentView, error)
	ListEnrollments(ctx context.Context, scope snapshot.Scope, vis Visibility) ([]EnrollmentView, error)

	// ListPendingDeletions returns the review queue ordered by RemovedAt
	// descending, entries without a timestamp last.
	ListPendingDeletions(ctx context.Context) ([]PendingDeletion, error)

	// ListRemovalCandidates returns inactive records removed at least
	// thresholdDays before now.
	ListRemovalCandidates(ctx context.Context, now time.Time, thresholdDays int) ([]RemovalCandidate, error)
}

// Store is the full persistence contract.
type Store interface {
	Reader

	// Begin opens the transaction for one reconciliation pass.
	Begin(ctx context.Context) (Pass, error)

	// UpdateObjectLifecycle loads one lifecycle record, applies mutate and
	// persists the result atomically. Returns ErrNotFound for unknown
	// records and propagates errors from mutate without persisting.
	UpdateObjectLifecycle(ctx context.Context, typ lifecycle.ObjectType, id string, mutate func(*lifecycle.ObjectRecord) error) error
	UpdateEnrollmentLifecycle(ctx context.Context, key lifecycle.EnrollmentKey, mutate func(*lifecycle.EnrollmentRecord) error) error
}
