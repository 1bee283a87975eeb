package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campuskit/lms-sync-server/internal/lifecycle"
	"github.com/campuskit/lms-sync-server/internal/snapshot"
)

// PostgresStore is the production Store backed by PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store on the given connection pool. The
// caller is responsible for closing the pool when done.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgx pool is required")
	}
	return &PostgresStore{pool: pool}, nil
}

// Begin starts the transaction for one reconciliation pass with
// serializable isolation so concurrent passes cannot interleave.
func (s *PostgresStore) Begin(ctx context.Context) (Pass, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &postgresPass{tx: tx}, nil
}

type postgresPass struct {
	tx pgx.Tx
}

func (p *postgresPass) Commit(ctx context.Context) error {
	if err := p.tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (p *postgresPass) Rollback(ctx context.Context) error {
	if err := p.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("failed to roll back transaction: %w", err)
	}
	return nil
}

// The xmax = 0 check distinguishes a fresh insert from a conflict update
// within the same statement.
func (p *postgresPass) UpsertCourse(ctx context.Context, c snapshot.Course) (UpsertOutcome, error) {
	row := p.tx.QueryRow(ctx, `
		INSERT INTO course (external_id, name, code, term, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (external_id) DO UPDATE
		SET name = EXCLUDED.name, code = EXCLUDED.code, term = EXCLUDED.term, updated_at = now()
		RETURNING (xmax = 0)`,
		c.ExternalID, c.Name, c.Code, c.Term)
	return scanOutcome(row, "course", c.ExternalID)
}

func (p *postgresPass) UpsertStudent(ctx context.Context, st snapshot.Student) (UpsertOutcome, error) {
	row := p.tx.QueryRow(ctx, `
		INSERT INTO student (external_id, full_name, email, sis_id, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (external_id) DO UPDATE
		SET full_name = EXCLUDED.full_name, email = EXCLUDED.email, sis_id = EXCLUDED.sis_id, updated_at = now()
		RETURNING (xmax = 0)`,
		st.ExternalID, st.FullName, st.Email, st.SISID)
	return scanOutcome(row, "student", st.ExternalID)
}

func (p *postgresPass) UpsertAssignment(ctx context.Context, a snapshot.Assignment) (UpsertOutcome, error) {
	row := p.tx.QueryRow(ctx, `
		INSERT INTO assignment (external_id, course_id, title, due_at, points_possible, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (external_id) DO UPDATE
		SET course_id = EXCLUDED.course_id, title = EXCLUDED.title, due_at = EXCLUDED.due_at,
		    points_possible = EXCLUDED.points_possible, updated_at = now()
		RETURNING (xmax = 0)`,
		a.ExternalID, a.CourseID, a.Title, a.DueAt, a.PointsPossible)
	return scanOutcome(row, "assignment", a.ExternalID)
}

func (p *postgresPass) UpsertEnrollment(ctx context.Context, e snapshot.Enrollment) (UpsertOutcome, error) {
	row := p.tx.QueryRow(ctx, `
		INSERT INTO enrollment (student_id, course_id, role, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (student_id, course_id) DO UPDATE
		SET role = EXCLUDED.role, updated_at = now()
		RETURNING (xmax = 0)`,
		e.StudentID, e.CourseID, e.Role)
	return scanOutcome(row, "enrollment", e.StudentID+"/"+e.CourseID)
}

func scanOutcome(row pgx.Row, kind, id string) (UpsertOutcome, error) {
	var inserted bool
	if err := row.Scan(&inserted); err != nil {
		return 0, fmt.Errorf("failed to upsert %s %s: %w", kind, id, err)
	}
	if inserted {
		return OutcomeInserted, nil
	}
	return OutcomeUpdated, nil
}

const objectLifecycleColumns = `active, pending_deletion, removed_at, last_seen_at, removal_reason, user_data_exists, historical_data_exists`

func (p *postgresPass) GetObjectLifecycle(ctx context.Context, typ lifecycle.ObjectType, id string) (*lifecycle.ObjectRecord, error) {
	return getObjectLifecycle(ctx, p.tx, typ, id)
}

func getObjectLifecycle(ctx context.Context, q querier, typ lifecycle.ObjectType, id string) (*lifecycle.ObjectRecord, error) {
	rec := &lifecycle.ObjectRecord{Type: typ, ID: id}
	err := q.QueryRow(ctx,
		`SELECT `+objectLifecycleColumns+` FROM object_lifecycle WHERE object_type = $1 AND external_id = $2`,
		string(typ), id).Scan(
		&rec.Active, &rec.PendingDeletion, &rec.RemovedAt, &rec.LastSeenAt,
		&rec.RemovalReason, &rec.UserDataExists, &rec.HistoricalDataExists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get lifecycle for %s %s: %w", typ, id, err)
	}
	return rec, nil
}

func (p *postgresPass) PutObjectLifecycle(ctx context.Context, rec *lifecycle.ObjectRecord) error {
	return putObjectLifecycle(ctx, p.tx, rec)
}

func putObjectLifecycle(ctx context.Context, q querier, rec *lifecycle.ObjectRecord) error {
	_, err := q.Exec(ctx, `
		INSERT INTO object_lifecycle
			(object_type, external_id, active, pending_deletion, removed_at, last_seen_at,
			 removal_reason, user_data_exists, historical_data_exists, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (object_type, external_id) DO UPDATE
		SET active = EXCLUDED.active, pending_deletion = EXCLUDED.pending_deletion,
		    removed_at = EXCLUDED.removed_at, last_seen_at = EXCLUDED.last_seen_at,
		    removal_reason = EXCLUDED.removal_reason, user_data_exists = EXCLUDED.user_data_exists,
		    historical_data_exists = EXCLUDED.historical_data_exists, updated_at = now()`,
		string(rec.Type), rec.ID, rec.Active, rec.PendingDeletion, rec.RemovedAt, rec.LastSeenAt,
		rec.RemovalReason, rec.UserDataExists, rec.HistoricalDataExists)
	if err != nil {
		return fmt.Errorf("failed to put lifecycle for %s %s: %w", rec.Type, rec.ID, err)
	}
	return nil
}

const enrollmentLifecycleColumns = `active, pending_deletion, removed_at, last_seen_at, removal_reason, historical_data_exists`

func (p *postgresPass) GetEnrollmentLifecycle(ctx context.Context, key lifecycle.EnrollmentKey) (*lifecycle.EnrollmentRecord, error) {
	return getEnrollmentLifecycle(ctx, p.tx, key)
}

func getEnrollmentLifecycle(ctx context.Context, q querier, key lifecycle.EnrollmentKey) (*lifecycle.EnrollmentRecord, error) {
	rec := &lifecycle.EnrollmentRecord{EnrollmentKey: key}
	err := q.QueryRow(ctx,
		`SELECT `+enrollmentLifecycleColumns+` FROM enrollment_lifecycle WHERE student_id = $1 AND course_id = $2`,
		key.StudentID, key.CourseID).Scan(
		&rec.Active, &rec.PendingDeletion, &rec.RemovedAt, &rec.LastSeenAt,
		&rec.RemovalReason, &rec.HistoricalDataExists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get lifecycle for enrollment %s: %w", key, err)
	}
	return rec, nil
}

func (p *postgresPass) PutEnrollmentLifecycle(ctx context.Context, rec *lifecycle.EnrollmentRecord) error {
	return putEnrollmentLifecycle(ctx, p.tx, rec)
}

func putEnrollmentLifecycle(ctx context.Context, q querier, rec *lifecycle.EnrollmentRecord) error {
	_, err := q.Exec(ctx, `
		INSERT INTO enrollment_lifecycle
			(student_id, course_id, active, pending_deletion, removed_at, last_seen_at,
			 removal_reason, historical_data_exists, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (student_id, course_id) DO UPDATE
		SET active = EXCLUDED.active, pending_deletion = EXCLUDED.pending_deletion,
		    removed_at = EXCLUDED.removed_at, last_seen_at = EXCLUDED.last_seen_at,
		    removal_reason = EXCLUDED.removal_reason,
		    historical_data_exists = EXCLUDED.historical_data_exists, updated_at = now()`,
		rec.StudentID, rec.CourseID, rec.Active, rec.PendingDeletion, rec.RemovedAt, rec.LastSeenAt,
		rec.RemovalReason, rec.HistoricalDataExists)
	if err != nil {
		return fmt.Errorf("failed to put lifecycle for enrollment %s: %w", rec.EnrollmentKey, err)
	}
	return nil
}

func (p *postgresPass) ActiveObjectIDs(ctx context.Context, typ lifecycle.ObjectType, scope snapshot.Scope) ([]string, error) {
	query := `SELECT external_id FROM object_lifecycle
		WHERE object_type = $1 AND active AND NOT pending_deletion ORDER BY external_id`
	args := []any{string(typ)}

	if !scope.IsAll() {
		switch typ {
		case lifecycle.ObjectTypeCourse:
			query = `SELECT external_id FROM object_lifecycle
				WHERE object_type = $1 AND external_id = $2 AND active AND NOT pending_deletion`
			args = append(args, scope.CourseID)
		case lifecycle.ObjectTypeAssignment:
			query = `SELECT l.external_id FROM object_lifecycle l
				JOIN assignment a ON a.external_id = l.external_id
				WHERE l.object_type = $1 AND a.course_id = $2 AND l.active AND NOT l.pending_deletion
				ORDER BY l.external_id`
			args = append(args, scope.CourseID)
		default:
			// A single-course pass cannot judge a student absent.
			return nil, nil
		}
	}

	rows, err := p.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list active %s ids: %w", typ, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan %s id: %w", typ, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *postgresPass) ActiveEnrollmentKeys(ctx context.Context, scope snapshot.Scope) ([]lifecycle.EnrollmentKey, error) {
	query := `SELECT student_id, course_id FROM enrollment_lifecycle
		WHERE active AND NOT pending_deletion`
	args := []any{}
	if !scope.IsAll() {
		query += ` AND course_id = $1`
		args = append(args, scope.CourseID)
	}
	query += ` ORDER BY student_id, course_id`

	rows, err := p.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list active enrollment keys: %w", err)
	}
	defer rows.Close()

	var keys []lifecycle.EnrollmentKey
	for rows.Next() {
		var key lifecycle.EnrollmentKey
		if err := rows.Scan(&key.StudentID, &key.CourseID); err != nil {
			return nil, fmt.Errorf("failed to scan enrollment key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// querier is the subset of pgx shared by pool and transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// UpdateObjectLifecycle applies mutate under a row lock so concurrent
// review decisions and sync passes serialize.
func (s *PostgresStore) UpdateObjectLifecycle(ctx context.Context, typ lifecycle.ObjectType, id string, mutate func(*lifecycle.ObjectRecord) error) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		rec := &lifecycle.ObjectRecord{Type: typ, ID: id}
		err := tx.QueryRow(ctx,
			`SELECT `+objectLifecycleColumns+` FROM object_lifecycle
			 WHERE object_type = $1 AND external_id = $2 FOR UPDATE`,
			string(typ), id).Scan(
			&rec.Active, &rec.PendingDeletion, &rec.RemovedAt, &rec.LastSeenAt,
			&rec.RemovalReason, &rec.UserDataExists, &rec.HistoricalDataExists)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%s %s: %w", typ, id, ErrNotFound)
			}
			return fmt.Errorf("failed to lock lifecycle for %s %s: %w", typ, id, err)
		}
		if err := mutate(rec); err != nil {
			return err
		}
		return putObjectLifecycle(ctx, tx, rec)
	})
}

// UpdateEnrollmentLifecycle is the enrollment counterpart of
// UpdateObjectLifecycle.
func (s *PostgresStore) UpdateEnrollmentLifecycle(ctx context.Context, key lifecycle.EnrollmentKey, mutate func(*lifecycle.EnrollmentRecord) error) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		rec := &lifecycle.EnrollmentRecord{EnrollmentKey: key}
		err := tx.QueryRow(ctx,
			`SELECT `+enrollmentLifecycleColumns+` FROM enrollment_lifecycle
			 WHERE student_id = $1 AND course_id = $2 FOR UPDATE`,
			key.StudentID, key.CourseID).Scan(
			&rec.Active, &rec.PendingDeletion, &rec.RemovedAt, &rec.LastSeenAt,
			&rec.RemovalReason, &rec.HistoricalDataExists)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("enrollment %s: %w", key, ErrNotFound)
			}
			return fmt.Errorf("failed to lock lifecycle for enrollment %s: %w", key, err)
		}
		if err := mutate(rec); err != nil {
			return err
		}
		return putEnrollmentLifecycle(ctx, tx, rec)
	})
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCourses(ctx context.Context, vis Visibility) ([]CourseView, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.external_id, c.name, c.code, c.term, `+prefixedObjectLifecycleColumns+`
		FROM course c
		JOIN object_lifecycle l ON l.object_type = 'course' AND l.external_id = c.external_id
		WHERE ((l.active AND NOT l.pending_deletion) OR (l.pending_deletion AND $1) OR (NOT l.active AND $2))
		ORDER BY c.external_id`,
		vis.IncludePendingDeletion, vis.IncludeInactive)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	defer rows.Close()

	var out []CourseView
	for rows.Next() {
		var v CourseView
		if err := rows.Scan(&v.ExternalID, &v.Name, &v.Code, &v.Term,
			&v.Lifecycle.Active, &v.Lifecycle.PendingDeletion, &v.Lifecycle.RemovedAt,
			&v.Lifecycle.LastSeenAt, &v.Lifecycle.RemovalReason); err != nil {
			return nil, fmt.Errorf("failed to scan course: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

const prefixedObjectLifecycleColumns = `l.active, l.pending_deletion, l.removed_at, l.last_seen_at, l.removal_reason`

func (s *PostgresStore) ListStudents(ctx context.Context, vis Visibility) ([]StudentView, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT st.external_id, st.full_name, st.email, st.sis_id, `+prefixedObjectLifecycleColumns+`
		FROM student st
		JOIN object_lifecycle l ON l.object_type = 'student' AND l.external_id = st.external_id
		WHERE ((l.active AND NOT l.pending_deletion) OR (l.pending_deletion AND $1) OR (NOT l.active AND $2))
		ORDER BY st.external_id`,
		vis.IncludePendingDeletion, vis.IncludeInactive)
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	defer rows.Close()

	var out []StudentView
	for rows.Next() {
		var v StudentView
		if err := rows.Scan(&v.ExternalID, &v.FullName, &v.Email, &v.SISID,
			&v.Lifecycle.Active, &v.Lifecycle.PendingDeletion, &v.Lifecycle.RemovedAt,
			&v.Lifecycle.LastSeenAt, &v.Lifecycle.RemovalReason); err != nil {
			return nil, fmt.Errorf("failed to scan student: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListAssignments(ctx context.Context, courseID string, vis Visibility) ([]AssignmentView, error) {
	query := `
		SELECT a.external_id, a.course_id, a.title, a.due_at, a.points_possible, ` + prefixedObjectLifecycleColumns + `
		FROM assignment a
		JOIN object_lifecycle l ON l.object_type = 'assignment' AND l.external_id = a.external_id
		WHERE ((l.active AND NOT l.pending_deletion) OR (l.pending_deletion AND $1) OR (NOT l.active AND $2))`
	args := []any{vis.IncludePendingDeletion, vis.IncludeInactive}
	if courseID != "" {
		query += ` AND a.course_id = $3`
		args = append(args, courseID)
	}
	query += ` ORDER BY a.external_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var out []AssignmentView
	for rows.Next() {
		var v AssignmentView
		if err := rows.Scan(&v.ExternalID, &v.CourseID, &v.Title, &v.DueAt, &v.PointsPossible,
			&v.Lifecycle.Active, &v.Lifecycle.PendingDeletion, &v.Lifecycle.RemovedAt,
			&v.Lifecycle.LastSeenAt, &v.Lifecycle.RemovalReason); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListEnrollments(ctx context.Context, scope snapshot.Scope, vis Visibility) ([]EnrollmentView, error) {
	query := `
		SELECT e.student_id, e.course_id, e.role,
		       l.active, l.pending_deletion, l.removed_at, l.last_seen_at, l.removal_reason
		FROM enrollment e
		JOIN enrollment_lifecycle l ON l.student_id = e.student_id AND l.course_id = e.course_id
		WHERE ((l.active AND NOT l.pending_deletion) OR (l.pending_deletion AND $1) OR (NOT l.active AND $2))`
	args := []any{vis.IncludePendingDeletion, vis.IncludeInactive}
	if !scope.IsAll() {
		query += ` AND e.course_id = $3`
		args = append(args, scope.CourseID)
	}
	query += ` ORDER BY e.student_id, e.course_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	defer rows.Close()

	var out []EnrollmentView
	for rows.Next() {
		var v EnrollmentView
		if err := rows.Scan(&v.StudentID, &v.CourseID, &v.Role,
			&v.Lifecycle.Active, &v.Lifecycle.PendingDeletion, &v.Lifecycle.RemovedAt,
			&v.Lifecycle.LastSeenAt, &v.Lifecycle.RemovalReason); err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListPendingDeletions(ctx context.Context) ([]PendingDeletion, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT l.object_type, l.external_id,
		       COALESCE(c.name, st.full_name, a.title, ''),
		       l.removed_at, l.removal_reason, l.user_data_exists, l.historical_data_exists
		FROM object_lifecycle l
		LEFT JOIN course c ON l.object_type = 'course' AND c.external_id = l.external_id
		LEFT JOIN student st ON l.object_type = 'student' AND st.external_id = l.external_id
		LEFT JOIN assignment a ON l.object_type = 'assignment' AND a.external_id = l.external_id
		WHERE l.pending_deletion
		UNION ALL
		SELECT 'enrollment', el.student_id || '/' || el.course_id, '',
		       el.removed_at, el.removal_reason, false, el.historical_data_exists
		FROM enrollment_lifecycle el
		WHERE el.pending_deletion
		ORDER BY 4 DESC NULLS LAST, 1, 2`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending deletions: %w", err)
	}
	defer rows.Close()

	var out []PendingDeletion
	for rows.Next() {
		var pd PendingDeletion
		if err := rows.Scan(&pd.Kind, &pd.ID, &pd.Display, &pd.RemovedAt, &pd.Reason,
			&pd.UserDataExists, &pd.HistoricalDataExists); err != nil {
			return nil, fmt.Errorf("failed to scan pending deletion: %w", err)
		}
		out = append(out, pd)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListRemovalCandidates(ctx context.Context, now time.Time, thresholdDays int) ([]RemovalCandidate, error) {
	cutoff := now.Add(-time.Duration(thresholdDays) * 24 * time.Hour)
	rows, err := s.pool.Query(ctx, `
		SELECT object_type, external_id, removed_at
		FROM object_lifecycle
		WHERE NOT active AND removed_at IS NOT NULL AND removed_at <= $1
		UNION ALL
		SELECT 'enrollment', student_id || '/' || course_id, removed_at
		FROM enrollment_lifecycle
		WHERE NOT active AND removed_at IS NOT NULL AND removed_at <= $1
		ORDER BY 1, 2`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list removal candidates: %w", err)
	}
	defer rows.Close()

	var out []RemovalCandidate
	for rows.Next() {
		var rc RemovalCandidate
		if err := rows.Scan(&rc.Kind, &rc.ID, &rc.RemovedAt); err != nil {
			return nil, fmt.Errorf("failed to scan removal candidate: %w", err)
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}
