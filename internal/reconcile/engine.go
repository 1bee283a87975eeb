// Package reconcile implements the snapshot diff at the heart of the
// server. A pass takes one fully-materialized snapshot, upserts every
// observed entity, and walks the previously-active records that went
// missing, retiring them or flagging them for review depending on their
// dependencies. Everything happens inside one storage transaction.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/campuskit/lms-sync-server/internal/deps"
	"github.com/campuskit/lms-sync-server/internal/lifecycle"
	otelutil "github.com/campuskit/lms-sync-server/internal/otel"
	"github.com/campuskit/lms-sync-server/internal/snapshot"
	"github.com/campuskit/lms-sync-server/internal/storage"
)

// removalReasonNotObserved is recorded on every record a sync pass marks
// as missing.
const removalReasonNotObserved = "not observed in sync"

// Engine reconciles snapshots against tracked state.
type Engine struct {
	store    storage.Store
	resolver deps.Resolver
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithTracer enables tracing of reconciliation passes.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an engine on the given store and resolver.
func NewEngine(store storage.Store, resolver deps.Resolver, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	e := &Engine{
		store:    store,
		resolver: resolver,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Result summarizes one committed reconciliation pass.
type Result struct {
	Scope    string          `json:"scope"`
	SyncedAt time.Time       `json:"synced_at"`
	Observed snapshot.Counts `json:"observed"`

	Inserted    int `json:"inserted"`
	Updated     int `json:"updated"`
	Reactivated int `json:"reactivated"`
	Retired     int `json:"retired"`
	Flagged     int `json:"flagged"`

	// Warnings lists snapshot items skipped by validation. Skipped items
	// are treated as not observed.
	Warnings []snapshot.Warning `json:"warnings,omitempty"`
}

// Reconcile runs one pass for the snapshot's scope. On any error the
// transaction is rolled back and tracked state is unchanged; the same
// snapshot can then be reconciled again. Reconciling the same snapshot
// twice is a no-op beyond updated timestamps.
func (e *Engine) Reconcile(ctx context.Context, snap *snapshot.Snapshot) (*Result, error) {
	clean, warnings := snapshot.Validate(snap)
	syncedAt := e.now().UTC()

	ctx, span := otelutil.StartSpan(ctx, e.tracer, "reconcile.pass",
		trace.WithAttributes(
			otelutil.AttrSyncScope.String(clean.Scope.String()),
			otelutil.AttrObservedCount.Int(clean.Counts().Total()),
		))
	defer span.End()

	res := &Result{
		Scope:    clean.Scope.String(),
		SyncedAt: syncedAt,
		Observed: clean.Counts(),
		Warnings: warnings,
	}
	for _, w := range warnings {
		e.logger.WarnContext(ctx, "skipping malformed snapshot item",
			"scope", res.Scope, "kind", w.Kind, "key", w.Key, "reason", w.Reason)
	}

	pass, err := e.store.Begin(ctx)
	if err != nil {
		perr := &PersistenceError{Op: "begin pass", Err: err}
		otelutil.RecordError(span, perr)
		return nil, perr
	}
	committed := false
	defer func() {
		if !committed {
			_ = pass.Rollback(ctx)
		}
	}()

	if err := e.observe(ctx, pass, clean, syncedAt, res); err != nil {
		otelutil.RecordError(span, err)
		return nil, err
	}
	if err := e.retireMissing(ctx, pass, clean, syncedAt, res); err != nil {
		otelutil.RecordError(span, err)
		return nil, err
	}

	if err := pass.Commit(ctx); err != nil {
		perr := &PersistenceError{Op: "commit pass", Err: err}
		otelutil.RecordError(span, perr)
		return nil, perr
	}
	committed = true

	span.SetAttributes(
		otelutil.AttrRetiredCount.Int(res.Retired),
		otelutil.AttrFlaggedCount.Int(res.Flagged),
	)
	e.logger.InfoContext(ctx, "reconciliation pass complete",
		"scope", res.Scope,
		"observed", res.Observed.Total(),
		"inserted", res.Inserted,
		"updated", res.Updated,
		"reactivated", res.Reactivated,
		"retired", res.Retired,
		"flagged", res.Flagged,
		"skipped", len(res.Warnings))
	return res, nil
}

// observe upserts every snapshot item and marks its lifecycle record
// active. Courses go first so assignments and enrollments can reference
// them.
func (e *Engine) observe(ctx context.Context, pass storage.Pass, snap *snapshot.Snapshot, syncedAt time.Time, res *Result) error {
	for _, c := range snap.Courses {
		outcome, err := pass.UpsertCourse(ctx, c)
		if err != nil {
			return &PersistenceError{Op: "upsert course", Err: err}
		}
		if err := e.markObserved(ctx, pass, lifecycle.ObjectTypeCourse, c.ExternalID, outcome, syncedAt, res); err != nil {
			return err
		}
	}
	for _, st := range snap.Students {
		outcome, err := pass.UpsertStudent(ctx, st)
		if err != nil {
			return &PersistenceError{Op: "upsert student", Err: err}
		}
		if err := e.markObserved(ctx, pass, lifecycle.ObjectTypeStudent, st.ExternalID, outcome, syncedAt, res); err != nil {
			return err
		}
	}
	for _, a := range snap.Assignments {
		outcome, err := pass.UpsertAssignment(ctx, a)
		if err != nil {
			return &PersistenceError{Op: "upsert assignment", Err: err}
		}
		if err := e.markObserved(ctx, pass, lifecycle.ObjectTypeAssignment, a.ExternalID, outcome, syncedAt, res); err != nil {
			return err
		}
	}
	for _, en := range snap.Enrollments {
		outcome, err := pass.UpsertEnrollment(ctx, en)
		if err != nil {
			return &PersistenceError{Op: "upsert enrollment", Err: err}
		}
		if err := e.markEnrollmentObserved(ctx, pass, en, outcome, syncedAt, res); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) markObserved(ctx context.Context, pass storage.Pass, typ lifecycle.ObjectType, id string, outcome storage.UpsertOutcome, syncedAt time.Time, res *Result) error {
	res.countOutcome(outcome)

	rec, err := pass.GetObjectLifecycle(ctx, typ, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		rec = lifecycle.NewObjectRecord(typ, id, syncedAt)
	case err != nil:
		return &PersistenceError{Op: "get lifecycle", Err: err}
	default:
		if rec.Name() != lifecycle.StateActive {
			res.Reactivated++
			e.logger.InfoContext(ctx, "reactivating record",
				"type", typ, "id", id, "previous_state", rec.Name())
		}
		rec.MarkActive(syncedAt)
	}
	if err := pass.PutObjectLifecycle(ctx, rec); err != nil {
		return &PersistenceError{Op: "put lifecycle", Err: err}
	}
	return nil
}

func (e *Engine) markEnrollmentObserved(ctx context.Context, pass storage.Pass, en snapshot.Enrollment, outcome storage.UpsertOutcome, syncedAt time.Time, res *Result) error {
	res.countOutcome(outcome)

	key := lifecycle.EnrollmentKey{StudentID: en.StudentID, CourseID: en.CourseID}
	rec, err := pass.GetEnrollmentLifecycle(ctx, key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		rec = lifecycle.NewEnrollmentRecord(key, syncedAt)
	case err != nil:
		return &PersistenceError{Op: "get lifecycle", Err: err}
	default:
		if rec.Name() != lifecycle.StateActive {
			res.Reactivated++
			e.logger.InfoContext(ctx, "reactivating record",
				"type", "enrollment", "id", key, "previous_state", rec.Name())
		}
		rec.MarkActive(syncedAt)
	}
	if err := pass.PutEnrollmentLifecycle(ctx, rec); err != nil {
		return &PersistenceError{Op: "put lifecycle", Err: err}
	}
	return nil
}

func (r *Result) countOutcome(outcome storage.UpsertOutcome) {
	if outcome == storage.OutcomeInserted {
		r.Inserted++
	} else {
		r.Updated++
	}
}

// retireMissing walks previously-active records absent from the snapshot
// and transitions each one, refreshing its dependency flags from the
// resolver at decision time. For single-course scopes the store limits
// the walk to that course, and student absence is never judged.
func (e *Engine) retireMissing(ctx context.Context, pass storage.Pass, snap *snapshot.Snapshot, syncedAt time.Time, res *Result) error {
	observed := map[lifecycle.ObjectType]map[string]bool{
		lifecycle.ObjectTypeCourse:     make(map[string]bool, len(snap.Courses)),
		lifecycle.ObjectTypeStudent:    make(map[string]bool, len(snap.Students)),
		lifecycle.ObjectTypeAssignment: make(map[string]bool, len(snap.Assignments)),
	}
	for _, c := range snap.Courses {
		observed[lifecycle.ObjectTypeCourse][c.ExternalID] = true
	}
	for _, st := range snap.Students {
		observed[lifecycle.ObjectTypeStudent][st.ExternalID] = true
	}
	for _, a := range snap.Assignments {
		observed[lifecycle.ObjectTypeAssignment][a.ExternalID] = true
	}

	for _, typ := range lifecycle.ObjectTypes {
		ids, err := pass.ActiveObjectIDs(ctx, typ, snap.Scope)
		if err != nil {
			return &PersistenceError{Op: "list active ids", Err: err}
		}
		for _, id := range ids {
			if observed[typ][id] {
				continue
			}
			if err := e.retireObject(ctx, pass, typ, id, snap.Scope, syncedAt, res); err != nil {
				return err
			}
		}
	}

	observedEnrollments := make(map[lifecycle.EnrollmentKey]bool, len(snap.Enrollments))
	for _, en := range snap.Enrollments {
		observedEnrollments[lifecycle.EnrollmentKey{StudentID: en.StudentID, CourseID: en.CourseID}] = true
	}
	keys, err := pass.ActiveEnrollmentKeys(ctx, snap.Scope)
	if err != nil {
		return &PersistenceError{Op: "list active enrollment keys", Err: err}
	}
	for _, key := range keys {
		if observedEnrollments[key] {
			continue
		}
		if err := e.retireEnrollment(ctx, pass, key, snap.Scope, syncedAt, res); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) retireObject(ctx context.Context, pass storage.Pass, typ lifecycle.ObjectType, id string, scope snapshot.Scope, syncedAt time.Time, res *Result) error {
	rec, err := pass.GetObjectLifecycle(ctx, typ, id)
	if err != nil {
		return &PersistenceError{Op: "get lifecycle", Err: err}
	}

	userData, err := e.resolver.HasUserData(ctx, typ, id)
	if err != nil {
		return &ReconciliationError{Scope: scope, Step: "dependency check", Err: err}
	}
	historicalData, err := e.resolver.HasHistoricalData(ctx, typ, id)
	if err != nil {
		return &ReconciliationError{Scope: scope, Step: "dependency check", Err: err}
	}
	rec.UpdateDependencyStatus(userData, historicalData)

	if err := rec.MarkRemoved(syncedAt, removalReasonNotObserved); err != nil {
		return &ReconciliationError{Scope: scope, Step: "mark removed", Err: err}
	}
	if err := pass.PutObjectLifecycle(ctx, rec); err != nil {
		return &PersistenceError{Op: "put lifecycle", Err: err}
	}

	if rec.PendingDeletion {
		res.Flagged++
		e.logger.InfoContext(ctx, "flagging record for deletion review",
			"type", typ, "id", id, "user_data", userData, "historical_data", historicalData)
	} else {
		res.Retired++
		e.logger.InfoContext(ctx, "retiring record", "type", typ, "id", id)
	}
	return nil
}

func (e *Engine) retireEnrollment(ctx context.Context, pass storage.Pass, key lifecycle.EnrollmentKey, scope snapshot.Scope, syncedAt time.Time, res *Result) error {
	rec, err := pass.GetEnrollmentLifecycle(ctx, key)
	if err != nil {
		return &PersistenceError{Op: "get lifecycle", Err: err}
	}

	historicalData, err := e.resolver.HasEnrollmentHistory(ctx, key)
	if err != nil {
		return &ReconciliationError{Scope: scope, Step: "dependency check", Err: err}
	}
	rec.UpdateDependencyStatus(historicalData)

	if err := rec.MarkRemoved(syncedAt, removalReasonNotObserved); err != nil {
		return &ReconciliationError{Scope: scope, Step: "mark removed", Err: err}
	}
	if err := pass.PutEnrollmentLifecycle(ctx, rec); err != nil {
		return &PersistenceError{Op: "put lifecycle", Err: err}
	}

	if rec.PendingDeletion {
		res.Flagged++
		e.logger.InfoContext(ctx, "flagging record for deletion review",
			"type", "enrollment", "id", key, "historical_data", historicalData)
	} else {
		res.Retired++
		e.logger.InfoContext(ctx, "retiring record", "type", "enrollment", "id", key)
	}
	return nil
}
