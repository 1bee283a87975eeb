// Package v0 provides the REST API handlers for synced LMS data.
package v0

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/campuskit/lms-sync-server/internal/config"
	"github.com/campuskit/lms-sync-server/internal/lifecycle"
	"github.com/campuskit/lms-sync-server/internal/reader"
	"github.com/campuskit/lms-sync-server/internal/review"
	"github.com/campuskit/lms-sync-server/internal/snapshot"
	"github.com/campuskit/lms-sync-server/internal/storage"
	"github.com/campuskit/lms-sync-server/internal/sync/state"
)

// SyncTrigger requests an immediate sync of one scope. Implemented by
// the sync coordinator.
type SyncTrigger interface {
	TriggerSync(ctx context.Context, scope snapshot.Scope) (bool, string, error)
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// LifecycleInfo is the wire form of a record's lifecycle state
type LifecycleInfo struct {
	State         string     `json:"state"`
	RemovedAt     *time.Time `json:"removed_at,omitempty"`
	LastSeenAt    *time.Time `json:"last_seen_at,omitempty"`
	RemovalReason string     `json:"removal_reason,omitempty"`
}

func lifecycleInfo(s lifecycle.State) LifecycleInfo {
	return LifecycleInfo{
		State:         string(s.Name()),
		RemovedAt:     s.RemovedAt,
		LastSeenAt:    s.LastSeenAt,
		RemovalReason: s.RemovalReason,
	}
}

// CourseResponse is one course with its lifecycle state
type CourseResponse struct {
	snapshot.Course
	Lifecycle LifecycleInfo `json:"lifecycle"`
}

// StudentResponse is one student with its lifecycle state
type StudentResponse struct {
	snapshot.Student
	Lifecycle LifecycleInfo `json:"lifecycle"`
}

// AssignmentResponse is one assignment with its lifecycle state
type AssignmentResponse struct {
	snapshot.Assignment
	Lifecycle LifecycleInfo `json:"lifecycle"`
}

// EnrollmentResponse is one enrollment with its lifecycle state
type EnrollmentResponse struct {
	snapshot.Enrollment
	Lifecycle LifecycleInfo `json:"lifecycle"`
}

// ReviewRequest identifies the record a review decision applies to.
// Enrollment IDs take the form "<student>/<course>", which is why the
// record is addressed in the body rather than the URL path.
type ReviewRequest struct {
	Kind   string `json:"kind"`
	ID     string `json:"id"`
	Reason string `json:"reason,omitempty"`
}

// TriggerSyncResponse reports the outcome of a manual sync request
type TriggerSyncResponse struct {
	Started bool   `json:"started"`
	Reason  string `json:"reason"`
}

// Routes defines the routes for the sync server API with dependency injection
type Routes struct {
	reader    *reader.Reader
	review    *review.Service
	stateSvc  state.Service
	trigger   SyncTrigger
	retention int
}

// RouteOption configures the Routes
type RouteOption func(*Routes)

// WithRetentionThresholdDays sets the default removal candidate threshold
func WithRetentionThresholdDays(days int) RouteOption {
	return func(rr *Routes) {
		rr.retention = days
	}
}

// NewRoutes creates a new Routes instance with the provided services
func NewRoutes(
	rdr *reader.Reader,
	reviewSvc *review.Service,
	stateSvc state.Service,
	trigger SyncTrigger,
	opts ...RouteOption,
) *Routes {
	rr := &Routes{
		reader:    rdr,
		review:    reviewSvc,
		stateSvc:  stateSvc,
		trigger:   trigger,
		retention: config.DefaultRetentionThresholdDays,
	}
	for _, opt := range opts {
		opt(rr)
	}
	return rr
}

// Router creates a new router for the sync server API
func Router(
	rdr *reader.Reader,
	reviewSvc *review.Service,
	stateSvc state.Service,
	trigger SyncTrigger,
	opts ...RouteOption,
) http.Handler {
	routes := NewRoutes(rdr, reviewSvc, stateSvc, trigger, opts...)

	r := chi.NewRouter()

	// Synced entities
	r.Get("/courses", routes.listCourses)
	r.Get("/students", routes.listStudents)
	r.Get("/assignments", routes.listAssignments)
	r.Get("/enrollments", routes.listEnrollments)

	// Deletion review workflow
	r.Get("/lifecycle/pending", routes.listPendingDeletions)
	r.Get("/lifecycle/candidates", routes.listRemovalCandidates)
	r.Post("/lifecycle/approve", routes.approveDeletion)
	r.Post("/lifecycle/cancel", routes.cancelDeletion)
	r.Post("/lifecycle/flag", routes.flagForDeletion)

	// Sync state
	r.Get("/sync/status", routes.getSyncStatuses)
	r.Post("/sync/trigger", routes.triggerSync)

	return r
}

// listOptions translates visibility query parameters into reader options
//
// By default every listing is active-only; removed data must be asked
// for explicitly.
func listOptions(r *http.Request) []reader.ListOption {
	var opts []reader.ListOption
	if r.URL.Query().Get("include_inactive") == "true" {
		opts = append(opts, reader.IncludeInactive())
	}
	if r.URL.Query().Get("include_pending_deletion") == "true" {
		opts = append(opts, reader.IncludePendingDeletion())
	}
	return opts
}

// listCourses handles GET /v0/courses
func (rr *Routes) listCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := rr.reader.Courses(r.Context(), listOptions(r)...)
	if err != nil {
		slog.Error("Failed to list courses", "error", err)
		rr.writeErrorResponse(w, "Failed to list courses", http.StatusInternalServerError)
		return
	}

	response := make([]CourseResponse, 0, len(courses))
	for _, c := range courses {
		response = append(response, CourseResponse{Course: c.Course, Lifecycle: lifecycleInfo(c.Lifecycle)})
	}
	rr.writeJSONResponse(w, response)
}

// listStudents handles GET /v0/students
func (rr *Routes) listStudents(w http.ResponseWriter, r *http.Request) {
	students, err := rr.reader.Students(r.Context(), listOptions(r)...)
	if err != nil {
		slog.Error("Failed to list students", "error", err)
		rr.writeErrorResponse(w, "Failed to list students", http.StatusInternalServerError)
		return
	}

	response := make([]StudentResponse, 0, len(students))
	for _, s := range students {
		response = append(response, StudentResponse{Student: s.Student, Lifecycle: lifecycleInfo(s.Lifecycle)})
	}
	rr.writeJSONResponse(w, response)
}

// listAssignments handles GET /v0/assignments with an optional course filter
func (rr *Routes) listAssignments(w http.ResponseWriter, r *http.Request) {
	courseID := r.URL.Query().Get("course")

	assignments, err := rr.reader.Assignments(r.Context(), courseID, listOptions(r)...)
	if err != nil {
		slog.Error("Failed to list assignments", "error", err)
		rr.writeErrorResponse(w, "Failed to list assignments", http.StatusInternalServerError)
		return
	}

	response := make([]AssignmentResponse, 0, len(assignments))
	for _, a := range assignments {
		response = append(response, AssignmentResponse{Assignment: a.Assignment, Lifecycle: lifecycleInfo(a.Lifecycle)})
	}
	rr.writeJSONResponse(w, response)
}

// listEnrollments handles GET /v0/enrollments with an optional course filter
func (rr *Routes) listEnrollments(w http.ResponseWriter, r *http.Request) {
	scope := snapshot.AllScope()
	if courseID := r.URL.Query().Get("course"); courseID != "" {
		scope = snapshot.CourseScope(courseID)
	}

	enrollments, err := rr.reader.Enrollments(r.Context(), scope, listOptions(r)...)
	if err != nil {
		slog.Error("Failed to list enrollments", "error", err)
		rr.writeErrorResponse(w, "Failed to list enrollments", http.StatusInternalServerError)
		return
	}

	response := make([]EnrollmentResponse, 0, len(enrollments))
	for _, e := range enrollments {
		response = append(response, EnrollmentResponse{Enrollment: e.Enrollment, Lifecycle: lifecycleInfo(e.Lifecycle)})
	}
	rr.writeJSONResponse(w, response)
}

// listPendingDeletions handles GET /v0/lifecycle/pending
func (rr *Routes) listPendingDeletions(w http.ResponseWriter, r *http.Request) {
	pending, err := rr.reader.PendingDeletions(r.Context())
	if err != nil {
		slog.Error("Failed to list pending deletions", "error", err)
		rr.writeErrorResponse(w, "Failed to list pending deletions", http.StatusInternalServerError)
		return
	}
	if pending == nil {
		pending = []storage.PendingDeletion{}
	}
	rr.writeJSONResponse(w, pending)
}

// listRemovalCandidates handles GET /v0/lifecycle/candidates
func (rr *Routes) listRemovalCandidates(w http.ResponseWriter, r *http.Request) {
	thresholdDays := rr.retention
	if raw := r.URL.Query().Get("threshold_days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			rr.writeErrorResponse(w, "threshold_days must be an integer", http.StatusBadRequest)
			return
		}
		thresholdDays = parsed
	}

	candidates, err := rr.reader.RemovalCandidates(r.Context(), thresholdDays)
	if err != nil {
		if thresholdDays < 0 {
			rr.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("Failed to list removal candidates", "error", err)
		rr.writeErrorResponse(w, "Failed to list removal candidates", http.StatusInternalServerError)
		return
	}
	if candidates == nil {
		candidates = []storage.RemovalCandidate{}
	}
	rr.writeJSONResponse(w, candidates)
}

// approveDeletion handles POST /v0/lifecycle/approve
func (rr *Routes) approveDeletion(w http.ResponseWriter, r *http.Request) {
	rr.handleReviewDecision(w, r, func(ctx context.Context, req ReviewRequest) error {
		return rr.review.Approve(ctx, req.Kind, req.ID)
	})
}

// cancelDeletion handles POST /v0/lifecycle/cancel
func (rr *Routes) cancelDeletion(w http.ResponseWriter, r *http.Request) {
	rr.handleReviewDecision(w, r, func(ctx context.Context, req ReviewRequest) error {
		return rr.review.Cancel(ctx, req.Kind, req.ID)
	})
}

// flagForDeletion handles POST /v0/lifecycle/flag
func (rr *Routes) flagForDeletion(w http.ResponseWriter, r *http.Request) {
	rr.handleReviewDecision(w, r, func(ctx context.Context, req ReviewRequest) error {
		return rr.review.Flag(ctx, req.Kind, req.ID, req.Reason)
	})
}

// handleReviewDecision decodes the request and maps service errors to
// HTTP statuses
func (rr *Routes) handleReviewDecision(
	w http.ResponseWriter,
	r *http.Request,
	decide func(ctx context.Context, req ReviewRequest) error,
) {
	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rr.writeErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Kind == "" || req.ID == "" {
		rr.writeErrorResponse(w, "kind and id are required", http.StatusBadRequest)
		return
	}

	err := decide(r.Context(), req)
	switch {
	case err == nil:
		rr.writeJSONResponse(w, map[string]string{"status": "ok"})
	case errors.Is(err, storage.ErrNotFound):
		rr.writeErrorResponse(w, "Record not found", http.StatusNotFound)
	case errors.Is(err, lifecycle.ErrNotActive):
		rr.writeErrorResponse(w, "Record is not active", http.StatusConflict)
	default:
		rr.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
	}
}

// getSyncStatuses handles GET /v0/sync/status
func (rr *Routes) getSyncStatuses(w http.ResponseWriter, r *http.Request) {
	statuses, err := rr.stateSvc.ListSyncStatuses(r.Context())
	if err != nil {
		slog.Error("Failed to list sync statuses", "error", err)
		rr.writeErrorResponse(w, "Failed to list sync statuses", http.StatusInternalServerError)
		return
	}
	rr.writeJSONResponse(w, statuses)
}

// triggerSync handles POST /v0/sync/trigger with an optional scope parameter
func (rr *Routes) triggerSync(w http.ResponseWriter, r *http.Request) {
	if rr.trigger == nil {
		rr.writeErrorResponse(w, "Manual sync is not enabled", http.StatusNotImplemented)
		return
	}

	scope, err := snapshot.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		rr.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	started, reason, err := rr.trigger.TriggerSync(r.Context(), scope)
	switch {
	case err == nil:
		rr.writeJSONResponse(w, TriggerSyncResponse{Started: started, Reason: reason})
	case errors.Is(err, state.ErrScopeNotFound):
		rr.writeErrorResponse(w, "Unknown sync scope", http.StatusNotFound)
	default:
		slog.Error("Failed to trigger sync", "scope", scope.String(), "error", err)
		rr.writeErrorResponse(w, "Failed to trigger sync", http.StatusInternalServerError)
	}
}

// writeJSONResponse writes a JSON response with the given data
func (*Routes) writeJSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// writeErrorResponse writes a standardized error response
func (*Routes) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: message}); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}
