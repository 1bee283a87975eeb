// Package snapshot defines the typed snapshot a source produces for one
// scope: the full set of externally-observed courses, students,
// assignments and enrollments at a point in time. The reconciliation
// engine diffs a snapshot against prior tracked state; it never sees the
// upstream wire format directly.
package snapshot

import (
	"fmt"
	"strings"
	"time"
)

// ScopeAll is the string form of the scope covering every course.
const ScopeAll = "all"

// Scope is the unit of a sync pass: a single course, or all courses.
// The zero value is the all-courses scope.
type Scope struct {
	// CourseID restricts the pass to one course when non-empty.
	CourseID string
}

// AllScope returns the scope covering every course.
func AllScope() Scope { return Scope{} }

// CourseScope returns the scope covering a single course.
func CourseScope(courseID string) Scope { return Scope{CourseID: courseID} }

// IsAll reports whether the scope covers every course.
func (s Scope) IsAll() bool { return s.CourseID == "" }

func (s Scope) String() string {
	if s.IsAll() {
		return ScopeAll
	}
	return "course:" + s.CourseID
}

// ParseScope parses "all" or "course:<id>".
func ParseScope(raw string) (Scope, error) {
	if raw == "" || raw == ScopeAll {
		return AllScope(), nil
	}
	if id, ok := strings.CutPrefix(raw, "course:"); ok && id != "" {
		return CourseScope(id), nil
	}
	return Scope{}, fmt.Errorf("invalid scope %q: expected %q or \"course:<id>\"", raw, ScopeAll)
}

// Course is one course as observed upstream.
type Course struct {
	ExternalID string `json:"id"`
	Name       string `json:"name"`
	Code       string `json:"code,omitempty"`
	Term       string `json:"term,omitempty"`
}

// Student is one student as observed upstream.
type Student struct {
	ExternalID string `json:"id"`
	FullName   string `json:"name"`
	Email      string `json:"email,omitempty"`
	SISID      string `json:"sis_id,omitempty"`
}

// Assignment is one assignment as observed upstream.
type Assignment struct {
	ExternalID     string     `json:"id"`
	CourseID       string     `json:"course_id"`
	Title          string     `json:"title"`
	DueAt          *time.Time `json:"due_at,omitempty"`
	PointsPossible float64    `json:"points_possible,omitempty"`
}

// Enrollment is one student/course relationship as observed upstream.
type Enrollment struct {
	StudentID string `json:"student_id"`
	CourseID  string `json:"course_id"`
	Role      string `json:"role,omitempty"`
}

// Snapshot is the complete observation for one scope at one point in
// time. A snapshot is always fully materialized before reconciliation
// begins; the engine never sees a partial or streaming snapshot.
type Snapshot struct {
	Scope     Scope
	FetchedAt time.Time

	Courses     []Course
	Students    []Student
	Assignments []Assignment
	Enrollments []Enrollment
}

// Counts holds per-type item counts for logging and sync status.
type Counts struct {
	Courses     int `json:"courses"`
	Students    int `json:"students"`
	Assignments int `json:"assignments"`
	Enrollments int `json:"enrollments"`
}

// Total returns the sum of all item counts.
func (c Counts) Total() int {
	return c.Courses + c.Students + c.Assignments + c.Enrollments
}

// Counts returns the per-type item counts of the snapshot.
func (s *Snapshot) Counts() Counts {
	return Counts{
		Courses:     len(s.Courses),
		Students:    len(s.Students),
		Assignments: len(s.Assignments),
		Enrollments: len(s.Enrollments),
	}
}
