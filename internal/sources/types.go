package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/campuskit/lms-sync-server/internal/config"
	"github.com/campuskit/lms-sync-server/internal/snapshot"
)

// ExportVersionConstraint is the range of LMS export schema versions this
// server understands. A major version bump upstream means the document
// layout changed incompatibly.
const ExportVersionConstraint = ">= 1.0.0, < 2.0.0"

// LatestTestedExportVersion is the newest export schema version this
// server was developed against. Newer compatible versions are accepted
// with a warning.
const LatestTestedExportVersion = "1.2.0"

// ExportDocument is the wire format of a full LMS export.
type ExportDocument struct {
	// ExportVersion is the semver of the export schema
	ExportVersion string `json:"export_version"`

	// GeneratedAt is when the LMS produced the export
	GeneratedAt *time.Time `json:"generated_at,omitempty"`

	Courses     []snapshot.Course     `json:"courses"`
	Students    []snapshot.Student    `json:"students"`
	Assignments []snapshot.Assignment `json:"assignments"`
	Enrollments []snapshot.Enrollment `json:"enrollments"`
}

// ToSnapshot converts the document into a snapshot for the given scope.
// For a course scope only that course, its assignments, its enrollments
// and the students enrolled in it are kept.
func (d *ExportDocument) ToSnapshot(scope snapshot.Scope, fetchedAt time.Time) *snapshot.Snapshot {
	snap := &snapshot.Snapshot{
		Scope:     scope,
		FetchedAt: fetchedAt,
	}

	if scope.IsAll() {
		snap.Courses = d.Courses
		snap.Students = d.Students
		snap.Assignments = d.Assignments
		snap.Enrollments = d.Enrollments
		return snap
	}

	for _, course := range d.Courses {
		if course.ExternalID == scope.CourseID {
			snap.Courses = append(snap.Courses, course)
		}
	}
	for _, assignment := range d.Assignments {
		if assignment.CourseID == scope.CourseID {
			snap.Assignments = append(snap.Assignments, assignment)
		}
	}

	enrolled := make(map[string]bool)
	for _, enrollment := range d.Enrollments {
		if enrollment.CourseID == scope.CourseID {
			snap.Enrollments = append(snap.Enrollments, enrollment)
			enrolled[enrollment.StudentID] = true
		}
	}
	for _, student := range d.Students {
		if enrolled[student.ExternalID] {
			snap.Students = append(snap.Students, student)
		}
	}

	return snap
}

// SourceDataValidator validates raw export data and parses it into an
// ExportDocument
type SourceDataValidator interface {
	// ValidateData validates raw data and returns a parsed ExportDocument
	ValidateData(data []byte) (*ExportDocument, error)
}

// SourceHandler is an interface with methods to fetch snapshots from
// external data sources
type SourceHandler interface {
	// FetchSnapshot retrieves data from the source and returns the
	// snapshot for one scope
	FetchSnapshot(ctx context.Context, cfg *config.Config, scope snapshot.Scope) (*FetchResult, error)

	// Validate validates the source configuration
	Validate(source *config.SourceConfig) error

	// CurrentHash returns the current hash of the source data without
	// converting it into a snapshot
	CurrentHash(ctx context.Context, cfg *config.Config, scope snapshot.Scope) (string, error)
}

// FetchResult contains the result of a fetch operation
type FetchResult struct {
	// Snapshot is the parsed snapshot for the requested scope
	Snapshot *snapshot.Snapshot

	// Hash is the SHA256 hash of the serialized data for change detection
	Hash string

	// Counts are the per-type item counts of the snapshot
	Counts snapshot.Counts
}

// NewFetchResult creates a new FetchResult from a snapshot and a
// pre-calculated hash. The hash should be calculated by the source
// handler to ensure consistency with CurrentHash.
func NewFetchResult(snap *snapshot.Snapshot, hash string) *FetchResult {
	result := &FetchResult{
		Snapshot: snap,
		Hash:     hash,
	}
	if snap != nil {
		result.Counts = snap.Counts()
	}
	return result
}

// SourceHandlerFactory creates source handlers based on source type
type SourceHandlerFactory interface {
	// CreateHandler creates a source handler for the given source type
	CreateHandler(sourceType string) (SourceHandler, error)
}

// DefaultSourceDataValidator is the default implementation of SourceDataValidator
type DefaultSourceDataValidator struct {
	constraint *semver.Constraints
}

// NewSourceDataValidator creates a new default source validator
func NewSourceDataValidator() SourceDataValidator {
	// The constraint is a package constant, parsing cannot fail.
	constraint, err := semver.NewConstraint(ExportVersionConstraint)
	if err != nil {
		panic(fmt.Sprintf("invalid export version constraint: %v", err))
	}
	return &DefaultSourceDataValidator{constraint: constraint}
}

// ValidateData validates raw export data and returns a parsed ExportDocument
func (v *DefaultSourceDataValidator) ValidateData(data []byte) (*ExportDocument, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("data cannot be empty")
	}

	var doc ExportDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse export document: %w", err)
	}

	if doc.ExportVersion == "" {
		return nil, fmt.Errorf("export document is missing export_version")
	}
	version, err := semver.NewVersion(doc.ExportVersion)
	if err != nil {
		return nil, fmt.Errorf("invalid export_version %q: %w", doc.ExportVersion, err)
	}
	if !v.constraint.Check(version) {
		return nil, fmt.Errorf("unsupported export_version %s: this server requires %s",
			doc.ExportVersion, ExportVersionConstraint)
	}

	return &doc, nil
}
