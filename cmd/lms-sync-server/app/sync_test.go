package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuskit/lms-sync-server/internal/config"
	"github.com/campuskit/lms-sync-server/internal/deps"
	"github.com/campuskit/lms-sync-server/internal/reconcile"
	"github.com/campuskit/lms-sync-server/internal/snapshot"
	"github.com/campuskit/lms-sync-server/internal/sources"
	"github.com/campuskit/lms-sync-server/internal/status"
	"github.com/campuskit/lms-sync-server/internal/storage"
	pkgsync "github.com/campuskit/lms-sync-server/internal/sync"
	"github.com/campuskit/lms-sync-server/internal/sync/state"
)

const syncTestExport = `{
	"export_version": "1.0.0",
	"courses": [{"id": "501", "name": "Intro Biology", "code": "BIO-101"}],
	"students": [{"id": "9001", "name": "Ada Lovelace"}],
	"assignments": [],
	"enrollments": [{"student_id": "9001", "course_id": "501"}]
}`

func newSyncTestManager(t *testing.T) (pkgsync.Manager, *config.Config) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, os.WriteFile(path, []byte(syncTestExport), 0o600))

	cfg := &config.Config{
		Source: config.SourceConfig{
			File: &config.FileSourceConfig{Path: path},
		},
	}

	engine, err := reconcile.NewEngine(storage.NewMemoryStore(), deps.NewMemoryResolver())
	require.NoError(t, err)

	return pkgsync.NewDefaultSyncManager(sources.NewSourceHandlerFactory(), engine), cfg
}

func TestRunForcedSync(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	manager, cfg := newSyncTestManager(t)
	stateSvc := state.NewMemoryStateService()
	scopes := []snapshot.Scope{snapshot.AllScope()}
	require.NoError(t, stateSvc.Initialize(ctx, scopes))

	require.NoError(t, runForcedSync(ctx, manager, stateSvc, cfg, scopes))

	st, err := stateSvc.GetSyncStatus(ctx, snapshot.AllScope())
	require.NoError(t, err)
	assert.Equal(t, status.SyncPhaseComplete, st.Phase)
	assert.Equal(t, 3, st.ObservedCount)

	// Forced syncs run even when nothing changed.
	require.NoError(t, runForcedSync(ctx, manager, stateSvc, cfg, scopes))
}

func TestRunForcedSyncSkipsClaimedScope(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	manager, cfg := newSyncTestManager(t)
	stateSvc := state.NewMemoryStateService()
	scopes := []snapshot.Scope{snapshot.AllScope()}
	require.NoError(t, stateSvc.Initialize(ctx, scopes))
	require.NoError(t, stateSvc.UpdateSyncStatus(ctx, snapshot.AllScope(),
		&status.SyncStatus{Phase: status.SyncPhaseSyncing}))

	require.NoError(t, runForcedSync(ctx, manager, stateSvc, cfg, scopes))

	st, err := stateSvc.GetSyncStatus(ctx, snapshot.AllScope())
	require.NoError(t, err)
	assert.Equal(t, status.SyncPhaseSyncing, st.Phase)
}

func TestRunForcedSyncRecordsFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	manager, _ := newSyncTestManager(t)
	cfg := &config.Config{
		Source: config.SourceConfig{
			File: &config.FileSourceConfig{Path: filepath.Join(t.TempDir(), "missing.json")},
		},
	}
	stateSvc := state.NewMemoryStateService()
	scopes := []snapshot.Scope{snapshot.AllScope()}
	require.NoError(t, stateSvc.Initialize(ctx, scopes))

	err := runForcedSync(ctx, manager, stateSvc, cfg, scopes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to sync")

	st, err := stateSvc.GetSyncStatus(ctx, snapshot.AllScope())
	require.NoError(t, err)
	assert.Equal(t, status.SyncPhaseFailed, st.Phase)
	assert.Equal(t, 1, st.AttemptCount)
}
