package reconcile

import (
	"fmt"

	"github.com/campuskit/lms-sync-server/internal/snapshot"
)

// ReconciliationError reports a failure while diffing a snapshot against
// tracked state. The pass it belongs to has been rolled back.
type ReconciliationError struct {
	Scope snapshot.Scope
	Step  string
	Err   error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconciliation failed for scope %s during %s: %v", e.Scope, e.Step, e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}

// PersistenceError reports a storage failure during a pass. The pass it
// belongs to has been rolled back.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
