package state

import (
	"context"
	"sync"

	"github.com/campuskit/lms-sync-server/internal/snapshot"
	"github.com/campuskit/lms-sync-server/internal/status"
)

type memoryStateService struct {
	mu       sync.Mutex
	statuses map[string]*status.SyncStatus
}

// NewMemoryStateService creates an in-memory sync state service for
// tests and database-less deployments. State does not survive restarts.
func NewMemoryStateService() Service {
	return &memoryStateService{
		statuses: make(map[string]*status.SyncStatus),
	}
}

func (m *memoryStateService) Initialize(_ context.Context, scopes []snapshot.Scope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	configured := make(map[string]bool, len(scopes))
	for _, scope := range scopes {
		name := scope.String()
		configured[name] = true
		if _, ok := m.statuses[name]; !ok {
			m.statuses[name] = &status.SyncStatus{
				Phase:   status.SyncPhaseFailed,
				Message: "no previous sync",
			}
		}
	}
	for name := range m.statuses {
		if !configured[name] {
			delete(m.statuses, name)
		}
	}
	return nil
}

func (m *memoryStateService) ListSyncStatuses(_ context.Context) (map[string]*status.SyncStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make(map[string]*status.SyncStatus, len(m.statuses))
	for name, st := range m.statuses {
		copied := *st
		result[name] = &copied
	}
	return result, nil
}

func (m *memoryStateService) GetSyncStatus(_ context.Context, scope snapshot.Scope) (*status.SyncStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.statuses[scope.String()]
	if !ok {
		return nil, ErrScopeNotFound
	}
	copied := *st
	return &copied, nil
}

func (m *memoryStateService) UpdateSyncStatus(_ context.Context, scope snapshot.Scope, syncStatus *status.SyncStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *syncStatus
	m.statuses[scope.String()] = &copied
	return nil
}

func (m *memoryStateService) UpdateStatusAtomically(
	_ context.Context,
	scope snapshot.Scope,
	testAndUpdateFn func(syncStatus *status.SyncStatus) bool,
) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.statuses[scope.String()]
	if !ok {
		return false, ErrScopeNotFound
	}
	copied := *st
	shouldUpdate := testAndUpdateFn(&copied)
	if shouldUpdate {
		m.statuses[scope.String()] = &copied
	}
	return shouldUpdate, nil
}
