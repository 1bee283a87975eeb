// Package review implements the human side of the deletion workflow:
// approving, cancelling and manually flagging removals.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/campuskit/lms-sync-server/internal/lifecycle"
	"github.com/campuskit/lms-sync-server/internal/storage"
)

// KindEnrollment addresses enrollment records in review operations; the
// other kinds are the object types.
const KindEnrollment = "enrollment"

// Service applies review decisions to lifecycle records.
type Service struct {
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a review service on the given store.
func NewService(store storage.Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	s := &Service{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Approve finalizes a removal: the record becomes inactive. Approving is
// idempotent, so re-approving an already retired record succeeds.
func (s *Service) Approve(ctx context.Context, kind, id string) error {
	err := s.update(ctx, kind, id,
		func(rec *lifecycle.ObjectRecord) error {
			rec.ApproveDeletion(s.now().UTC())
			return nil
		},
		func(rec *lifecycle.EnrollmentRecord) error {
			rec.ApproveDeletion(s.now().UTC())
			return nil
		})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "deletion approved", "kind", kind, "id", id)
	return nil
}

// Cancel clears the pending flag; the record stays active until a later
// sync pass or flag decides otherwise.
func (s *Service) Cancel(ctx context.Context, kind, id string) error {
	err := s.update(ctx, kind, id,
		func(rec *lifecycle.ObjectRecord) error {
			rec.CancelDeletion()
			return nil
		},
		func(rec *lifecycle.EnrollmentRecord) error {
			rec.CancelDeletion()
			return nil
		})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "deletion cancelled", "kind", kind, "id", id)
	return nil
}

// Flag marks an active record for deletion review outside of a sync
// pass.
func (s *Service) Flag(ctx context.Context, kind, id, reason string) error {
	if reason == "" {
		reason = "flagged by operator"
	}
	err := s.update(ctx, kind, id,
		func(rec *lifecycle.ObjectRecord) error {
			return rec.MarkForDeletion(reason)
		},
		func(rec *lifecycle.EnrollmentRecord) error {
			return rec.MarkForDeletion(reason)
		})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "record flagged for deletion", "kind", kind, "id", id, "reason", reason)
	return nil
}

func (s *Service) update(ctx context.Context, kind, id string,
	objectFn func(*lifecycle.ObjectRecord) error,
	enrollmentFn func(*lifecycle.EnrollmentRecord) error,
) error {
	if kind == KindEnrollment {
		key, err := parseEnrollmentID(id)
		if err != nil {
			return err
		}
		return s.store.UpdateEnrollmentLifecycle(ctx, key, enrollmentFn)
	}

	typ, err := lifecycle.ParseObjectType(kind)
	if err != nil {
		return err
	}
	return s.store.UpdateObjectLifecycle(ctx, typ, id, objectFn)
}

func parseEnrollmentID(id string) (lifecycle.EnrollmentKey, error) {
	studentID, courseID, ok := strings.Cut(id, "/")
	if !ok || studentID == "" || courseID == "" {
		return lifecycle.EnrollmentKey{}, fmt.Errorf("invalid enrollment id %q: expected \"<student>/<course>\"", id)
	}
	return lifecycle.EnrollmentKey{StudentID: studentID, CourseID: courseID}, nil
}
