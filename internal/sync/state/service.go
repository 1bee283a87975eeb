// Package state contains logic for managing per-scope sync state which
// the server persists between passes.
package state

import (
	"context"
	"errors"

	"github.com/campuskit/lms-sync-server/internal/snapshot"
	"github.com/campuskit/lms-sync-server/internal/status"
)

// ErrScopeNotFound is returned when a scope has no tracked sync state.
var ErrScopeNotFound = errors.New("scope not found")

// Service provides methods for inspecting the sync state of each scope.
type Service interface {
	// Initialize populates the state store with the configured scopes.
	// It is intended that this is called at application startup; scopes
	// no longer configured are removed.
	Initialize(ctx context.Context, scopes []snapshot.Scope) error

	// ListSyncStatuses lists all available sync statuses keyed by scope.
	ListSyncStatuses(ctx context.Context) (map[string]*status.SyncStatus, error)

	// GetSyncStatus returns the status of the given scope.
	GetSyncStatus(ctx context.Context, scope snapshot.Scope) (*status.SyncStatus, error)

	// UpdateSyncStatus overrides the value of the given scope with the
	// syncStatus parameter.
	UpdateSyncStatus(ctx context.Context, scope snapshot.Scope, syncStatus *status.SyncStatus) error

	// UpdateStatusAtomically fetches the current state, applies
	// testAndUpdateFn to it, and persists the result if the function
	// reports a modification - all as a single atomic action.
	UpdateStatusAtomically(
		ctx context.Context,
		scope snapshot.Scope,
		testAndUpdateFn func(syncStatus *status.SyncStatus) bool,
	) (bool, error)
}
