package filtering

import (
	"context"
	"log/slog"

	"github.com/campuskit/lms-sync-server/internal/config"
	"github.com/campuskit/lms-sync-server/internal/snapshot"
)

// FilterService applies course filters to a snapshot before reconciliation
type FilterService interface {
	// ApplyFilters filters the snapshot based on filter configuration
	ApplyFilters(
		ctx context.Context,
		snap *snapshot.Snapshot,
		filter *config.FilterConfig,
	) (*snapshot.Snapshot, error)
}

// defaultFilterService implements filtering using the glob name filter
type defaultFilterService struct {
	nameFilter NameFilter
}

// NewDefaultFilterService creates a new defaultFilterService with the default name filter
func NewDefaultFilterService() FilterService {
	return &defaultFilterService{
		nameFilter: NewDefaultNameFilter(),
	}
}

// NewFilterService creates a new defaultFilterService with a custom name filter
func NewFilterService(nameFilter NameFilter) FilterService {
	return &defaultFilterService{
		nameFilter: nameFilter,
	}
}

// ApplyFilters filters the snapshot based on filter configuration
//
// The filtering process:
// 1. If no filter is specified, return the original snapshot unchanged
// 2. Match each course against the include/exclude patterns
// 3. Drop assignments and enrollments that belong to excluded courses
// 4. Students are kept regardless: they may be enrolled in other courses
//
// Patterns match the course code when present, otherwise the course name.
// An excluded course is simply absent from the filtered snapshot, so the
// reconciliation pass treats it like any other missing record.
func (s *defaultFilterService) ApplyFilters(
	_ context.Context,
	snap *snapshot.Snapshot,
	filter *config.FilterConfig) (*snapshot.Snapshot, error) {
	// If no filter is specified, return the original snapshot
	if filter == nil || filter.Courses == nil {
		slog.Debug("No course filter specified, returning original snapshot")
		return snap, nil
	}

	include := filter.Courses.Include
	exclude := filter.Courses.Exclude

	slog.Info("Applying course filters",
		"scope", snap.Scope.String(),
		"originalCourseCount", len(snap.Courses))

	filtered := &snapshot.Snapshot{
		Scope:     snap.Scope,
		FetchedAt: snap.FetchedAt,
		Students:  snap.Students,
	}

	keptCourses := make(map[string]bool, len(snap.Courses))
	excludedCount := 0

	for _, course := range snap.Courses {
		name := course.Code
		if name == "" {
			name = course.Name
		}
		included, reason := s.nameFilter.ShouldInclude(name, include, exclude)
		if included {
			filtered.Courses = append(filtered.Courses, course)
			keptCourses[course.ExternalID] = true
			slog.Debug("Including course",
				"course", course.ExternalID,
				"name", name,
				"reason", reason)
		} else {
			excludedCount++
			slog.Info("Excluding course",
				"course", course.ExternalID,
				"name", name,
				"reason", reason)
		}
	}

	// Assignments and enrollments follow their course.
	for _, assignment := range snap.Assignments {
		if keptCourses[assignment.CourseID] {
			filtered.Assignments = append(filtered.Assignments, assignment)
		}
	}
	for _, enrollment := range snap.Enrollments {
		if keptCourses[enrollment.CourseID] {
			filtered.Enrollments = append(filtered.Enrollments, enrollment)
		}
	}

	slog.Info("Course filtering completed",
		"includedCourses", len(filtered.Courses),
		"excludedCourses", excludedCount,
		"assignments", len(filtered.Assignments),
		"enrollments", len(filtered.Enrollments))

	return filtered, nil
}
