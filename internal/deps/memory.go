package deps

import (
	"context"
	"sync"

	"github.com/campuskit/lms-sync-server/internal/lifecycle"
)

type memObjectKey struct {
	typ lifecycle.ObjectType
	id  string
}

// MemoryResolver is an in-memory Resolver for tests and database-less
// deployments.
type MemoryResolver struct {
	mu          sync.RWMutex
	annotations map[memObjectKey]bool
	history     map[memObjectKey]bool
	enrollments map[lifecycle.EnrollmentKey]bool
}

var _ Resolver = (*MemoryResolver)(nil)

// NewMemoryResolver creates a resolver with no recorded dependencies.
func NewMemoryResolver() *MemoryResolver {
	return &MemoryResolver{
		annotations: make(map[memObjectKey]bool),
		history:     make(map[memObjectKey]bool),
		enrollments: make(map[lifecycle.EnrollmentKey]bool),
	}
}

// AddAnnotation records a user annotation on an object.
func (r *MemoryResolver) AddAnnotation(typ lifecycle.ObjectType, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.annotations[memObjectKey{typ: typ, id: id}] = true
}

// AddGradeRecord records one grade history entry. Empty ids are skipped.
func (r *MemoryResolver) AddGradeRecord(studentID, courseID, assignmentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if studentID != "" {
		r.history[memObjectKey{typ: lifecycle.ObjectTypeStudent, id: studentID}] = true
	}
	if courseID != "" {
		r.history[memObjectKey{typ: lifecycle.ObjectTypeCourse, id: courseID}] = true
	}
	if assignmentID != "" {
		r.history[memObjectKey{typ: lifecycle.ObjectTypeAssignment, id: assignmentID}] = true
	}
	if studentID != "" && courseID != "" {
		r.enrollments[lifecycle.EnrollmentKey{StudentID: studentID, CourseID: courseID}] = true
	}
}

func (r *MemoryResolver) HasUserData(_ context.Context, typ lifecycle.ObjectType, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.annotations[memObjectKey{typ: typ, id: id}], nil
}

func (r *MemoryResolver) HasHistoricalData(_ context.Context, typ lifecycle.ObjectType, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.history[memObjectKey{typ: typ, id: id}], nil
}

func (r *MemoryResolver) HasEnrollmentHistory(_ context.Context, key lifecycle.EnrollmentKey) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enrollments[key], nil
}
