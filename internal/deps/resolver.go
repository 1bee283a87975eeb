// Package deps decides whether dependent data still references a synced
// record. The reconciliation engine consults a Resolver immediately
// before each removal decision; a record with dependents is flagged for
// review instead of being retired.
package deps

import (
	"context"

	"github.com/campuskit/lms-sync-server/internal/lifecycle"
)

// Resolver answers dependency queries for removal gating.
type Resolver interface {
	// HasUserData reports whether user annotations reference the object.
	HasUserData(ctx context.Context, typ lifecycle.ObjectType, id string) (bool, error)

	// HasHistoricalData reports whether grade history references the object.
	HasHistoricalData(ctx context.Context, typ lifecycle.ObjectType, id string) (bool, error)

	// HasEnrollmentHistory reports whether grade history references the
	// student/course pair.
	HasEnrollmentHistory(ctx context.Context, key lifecycle.EnrollmentKey) (bool, error)
}
