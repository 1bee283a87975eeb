// Package lifecycle implements the existence state machine for synced
// objects and enrollments. A record tracks whether an object is still
// observed upstream, has been flagged for removal pending human review,
// or has been retired. Records are never physically deleted here; retired
// records remain as tombstones for audit.
package lifecycle

import (
	"errors"
	"fmt"
	"time"
)

// ObjectType identifies the kind of synced object a record tracks.
type ObjectType string

// Supported object types.
const (
	ObjectTypeCourse     ObjectType = "course"
	ObjectTypeStudent    ObjectType = "student"
	ObjectTypeAssignment ObjectType = "assignment"
)

// ObjectTypes lists all supported object types in reconciliation order:
// courses are reconciled before the types that reference them.
var ObjectTypes = []ObjectType{ObjectTypeCourse, ObjectTypeStudent, ObjectTypeAssignment}

// Valid reports whether t is a known object type.
func (t ObjectType) Valid() bool {
	switch t {
	case ObjectTypeCourse, ObjectTypeStudent, ObjectTypeAssignment:
		return true
	default:
		return false
	}
}

// ParseObjectType converts a string to an ObjectType.
func ParseObjectType(s string) (ObjectType, error) {
	t := ObjectType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown object type: %s", s)
	}
	return t, nil
}

// StateName is the coarse state a record is in.
type StateName string

// Record states. PendingDeletion is a sub-state of active: the record is
// still visible while a human decides whether to retire it.
const (
	StateActive          StateName = "active"
	StatePendingDeletion StateName = "pending_deletion"
	StateInactive        StateName = "inactive"
)

// Transition errors. The reconciliation engine treats these as invariant
// violations and aborts the pass.
var (
	// ErrNotActive is returned when a removal or flag transition is
	// attempted on a record that is already inactive.
	ErrNotActive = errors.New("lifecycle: record is not active")

	// ErrAlreadyPending is returned when a removal transition is attempted
	// on a record already flagged for deletion. Re-marking would reset the
	// removed timestamp the review queue is ordered by.
	ErrAlreadyPending = errors.New("lifecycle: record is already pending deletion")

	// ErrNeverObserved is returned when a removal transition is attempted
	// on a record that was never observed in any snapshot.
	ErrNeverObserved = errors.New("lifecycle: record was never observed")
)

// State is the existence bookkeeping shared by object and enrollment
// records. It is embedded by value; transitions mutate the receiver and
// the caller persists the enclosing record.
type State struct {
	// Active reports whether the object is currently visible/usable.
	Active bool

	// PendingDeletion flags the object for removal pending approval.
	// PendingDeletion implies Active.
	PendingDeletion bool

	// RemovedAt is when the object was first observed missing upstream.
	// Cleared on reactivation.
	RemovedAt *time.Time

	// LastSeenAt is the sync pass in which the object was last observed.
	LastSeenAt *time.Time

	// RemovalReason records why the object was removed or flagged.
	RemovalReason string
}

// NewState returns the state of a record observed for the first time.
func NewState(observedAt time.Time) State {
	ts := observedAt
	return State{Active: true, LastSeenAt: &ts}
}

// Name returns the coarse state name.
func (s *State) Name() StateName {
	switch {
	case !s.Active:
		return StateInactive
	case s.PendingDeletion:
		return StatePendingDeletion
	default:
		return StateActive
	}
}

// MarkActive transitions the record to active from any state and reverses
// all removal bookkeeping. Called for every record observed in a snapshot,
// so it also reactivates records that were pending deletion or inactive.
func (s *State) MarkActive(syncedAt time.Time) {
	ts := syncedAt
	s.Active = true
	s.PendingDeletion = false
	s.RemovedAt = nil
	s.RemovalReason = ""
	s.LastSeenAt = &ts
}

// markRemoved transitions a currently active record that was expected but
// absent from a snapshot. Records with dependent data stay visible and are
// flagged for review; records without are retired immediately.
func (s *State) markRemoved(syncedAt time.Time, reason string, hasDependencies bool) error {
	if s.LastSeenAt == nil {
		return ErrNeverObserved
	}
	if !s.Active {
		return ErrNotActive
	}
	if s.PendingDeletion {
		return ErrAlreadyPending
	}

	ts := syncedAt
	s.RemovedAt = &ts
	s.RemovalReason = reason
	if hasDependencies {
		s.PendingDeletion = true
	} else {
		s.Active = false
	}
	return nil
}

// MarkForDeletion flags an active record for removal outside of a sync
// pass, e.g. by an operator. Flagging an already-inactive record is
// rejected: it has nothing left to gate.
func (s *State) MarkForDeletion(reason string) error {
	if !s.Active {
		return ErrNotActive
	}
	s.PendingDeletion = true
	s.RemovalReason = reason
	return nil
}

// ApproveDeletion finalizes a removal: the record becomes inactive and the
// pending flag is cleared. Idempotent; approving an already-inactive
// record only re-confirms RemovedAt.
func (s *State) ApproveDeletion(now time.Time) {
	s.PendingDeletion = false
	s.Active = false
	if s.RemovedAt == nil {
		ts := now
		s.RemovedAt = &ts
	}
}

// CancelDeletion clears the pending flag and reason. The record stays
// active (it was visible while pending). RemovedAt is kept: the object is
// still missing upstream, and only re-observation clears it.
func (s *State) CancelDeletion() {
	s.PendingDeletion = false
	s.RemovalReason = ""
}

// IsRemovalCandidate reports whether the record is inactive and has been
// so for at least thresholdDays, making it eligible for physical purging
// by an external retention job.
func (s *State) IsRemovalCandidate(now time.Time, thresholdDays int) bool {
	if s.Active || s.RemovedAt == nil {
		return false
	}
	return now.Sub(*s.RemovedAt) >= time.Duration(thresholdDays)*24*time.Hour
}

// DependencyFlags caches the last dependency evaluation for a record.
// The flags are refreshed from the DependencyResolver immediately before
// each removal decision; between syncs they may be stale and are only
// informational (shown in the review queue).
type DependencyFlags struct {
	// UserDataExists is true when user annotations reference the object.
	UserDataExists bool

	// HistoricalDataExists is true when historical grade records
	// reference the object.
	HistoricalDataExists bool
}

// ObjectRecord tracks the lifecycle of one synced object.
type ObjectRecord struct {
	Type ObjectType
	ID   string
	State
	DependencyFlags
}

// NewObjectRecord creates the lifecycle record for an object observed for
// the first time.
func NewObjectRecord(typ ObjectType, id string, observedAt time.Time) *ObjectRecord {
	return &ObjectRecord{Type: typ, ID: id, State: NewState(observedAt)}
}

// HasDependencies reports whether any dependent data blocks automatic
// removal of the object.
func (r *ObjectRecord) HasDependencies() bool {
	return r.UserDataExists || r.HistoricalDataExists
}

// UpdateDependencyStatus stores the latest resolver evaluation.
func (r *ObjectRecord) UpdateDependencyStatus(userData, historicalData bool) {
	r.UserDataExists = userData
	r.HistoricalDataExists = historicalData
}

// MarkRemoved transitions the record after the object was expected but
// absent from a snapshot. The branch on dependencies decides between
// pending deletion and immediate retirement.
func (r *ObjectRecord) MarkRemoved(syncedAt time.Time, reason string) error {
	return r.markRemoved(syncedAt, reason, r.HasDependencies())
}

// EnrollmentKey identifies one student/course relationship.
type EnrollmentKey struct {
	StudentID string
	CourseID  string
}

func (k EnrollmentKey) String() string {
	return k.StudentID + "/" + k.CourseID
}

// EnrollmentRecord tracks the lifecycle of one enrollment. Enrollments
// carry only the historical-data flag; annotations attach to objects, not
// relationships.
type EnrollmentRecord struct {
	EnrollmentKey
	State
	HistoricalDataExists bool
}

// NewEnrollmentRecord creates the lifecycle record for an enrollment
// observed for the first time.
func NewEnrollmentRecord(key EnrollmentKey, observedAt time.Time) *EnrollmentRecord {
	return &EnrollmentRecord{EnrollmentKey: key, State: NewState(observedAt)}
}

// HasDependencies reports whether historical data blocks automatic
// removal of the enrollment.
func (r *EnrollmentRecord) HasDependencies() bool {
	return r.HistoricalDataExists
}

// UpdateDependencyStatus stores the latest resolver evaluation.
func (r *EnrollmentRecord) UpdateDependencyStatus(historicalData bool) {
	r.HistoricalDataExists = historicalData
}

// MarkRemoved transitions the record after the enrollment was expected
// but absent from a snapshot.
func (r *EnrollmentRecord) MarkRemoved(syncedAt time.Time, reason string) error {
	return r.markRemoved(syncedAt, reason, r.HasDependencies())
}
