package deps

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campuskit/lms-sync-server/internal/lifecycle"
)

// PostgresResolver answers dependency queries with EXISTS probes against
// the annotation and grade_history tables.
type PostgresResolver struct {
	pool *pgxpool.Pool
}

var _ Resolver = (*PostgresResolver)(nil)

// NewPostgresResolver creates a resolver on the given connection pool.
func NewPostgresResolver(pool *pgxpool.Pool) (*PostgresResolver, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgx pool is required")
	}
	return &PostgresResolver{pool: pool}, nil
}

func (r *PostgresResolver) HasUserData(ctx context.Context, typ lifecycle.ObjectType, id string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM annotation WHERE object_type = $1 AND object_id = $2)`,
		string(typ), id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check annotations for %s %s: %w", typ, id, err)
	}
	return exists, nil
}

func (r *PostgresResolver) HasHistoricalData(ctx context.Context, typ lifecycle.ObjectType, id string) (bool, error) {
	var column string
	switch typ {
	case lifecycle.ObjectTypeCourse:
		column = "course_id"
	case lifecycle.ObjectTypeStudent:
		column = "student_id"
	case lifecycle.ObjectTypeAssignment:
		column = "assignment_id"
	default:
		return false, fmt.Errorf("unknown object type: %s", typ)
	}

	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM grade_history WHERE `+column+` = $1)`,
		id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check grade history for %s %s: %w", typ, id, err)
	}
	return exists, nil
}

func (r *PostgresResolver) HasEnrollmentHistory(ctx context.Context, key lifecycle.EnrollmentKey) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM grade_history WHERE student_id = $1 AND course_id = $2)`,
		key.StudentID, key.CourseID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check grade history for enrollment %s: %w", key, err)
	}
	return exists, nil
}
