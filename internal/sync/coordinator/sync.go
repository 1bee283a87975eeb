package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/campuskit/lms-sync-server/internal/snapshot"
	"github.com/campuskit/lms-sync-server/internal/status"
	pkgsync "github.com/campuskit/lms-sync-server/internal/sync"
)

// checkScopeSync performs a sync check for one scope and runs the sync
// when needed. The check and the transition to the Syncing phase happen
// in one atomic status update, so two coordinators (or a manual trigger
// racing the ticker) cannot both start a pass for the same scope.
func (c *defaultCoordinator) checkScopeSync(
	ctx context.Context, scope snapshot.Scope, manual bool,
) (bool, string, error) {
	var reason string
	var claimed status.SyncStatus

	started, err := c.statusSvc.UpdateStatusAtomically(ctx, scope,
		func(syncStatus *status.SyncStatus) bool {
			var shouldSync bool
			shouldSync, reason = c.manager.ShouldSync(ctx, c.config, scope, syncStatus, manual)
			if !shouldSync {
				return false
			}

			now := time.Now()
			syncStatus.Phase = status.SyncPhaseSyncing
			syncStatus.Message = "Sync in progress"
			syncStatus.LastAttempt = &now
			syncStatus.AttemptCount++
			claimed = *syncStatus
			return true
		})
	if err != nil {
		return false, reason, fmt.Errorf("failed to claim scope %s: %w", scope, err)
	}

	slog.Debug("Sync check",
		"scope", scope.String(),
		"manual", manual,
		"shouldSync", started,
		"reason", reason)

	if !started {
		// Skipped manual triggers are operator-visible; the ticker's
		// routine skips stay at debug.
		if pkgsync.IsManualSync(reason) {
			slog.Info("Manual sync skipped",
				"scope", scope.String(),
				"reason", reason)
		}
		return false, reason, nil
	}

	c.performScopeSync(ctx, scope, claimed)
	return true, reason, nil
}

// performScopeSync executes the sync operation for a claimed scope
func (c *defaultCoordinator) performScopeSync(
	ctx context.Context, scope snapshot.Scope, claimed status.SyncStatus,
) {
	startTime := time.Now()
	// Correlates the log lines of one pass across components.
	passID := uuid.NewString()

	// Set up the final status update in a defer block to ensure that we
	// always release the Syncing phase at the end of this function.
	// Set a default error here in case the function is killed by an
	// unexpected error.
	finalStatus := claimed
	finalStatus.Phase = status.SyncPhaseFailed
	finalStatus.Message = fmt.Sprintf("Unexpected failure while syncing scope %s", scope)
	defer func() {
		if err := c.statusSvc.UpdateSyncStatus(ctx, scope, &finalStatus); err != nil {
			slog.Error("Error updating sync status",
				"scope", scope.String(),
				"error", err)
		}
	}()

	slog.Info("Starting sync operation",
		"scope", scope.String(),
		"pass_id", passID,
		"attempt", claimed.AttemptCount)

	result, syncErr := c.manager.PerformSync(ctx, c.config, scope)

	syncDuration := time.Since(startTime)
	now := time.Now()
	if syncErr != nil {
		finalStatus.Phase = status.SyncPhaseFailed
		finalStatus.Message = syncErr.Message
		slog.Error("Sync failed",
			"scope", scope.String(),
			"pass_id", passID,
			"duration", syncDuration,
			"error", syncErr.Message)
		return
	}

	finalStatus.Phase = status.SyncPhaseComplete
	finalStatus.Message = "Sync completed successfully"
	finalStatus.LastSyncTime = &now
	finalStatus.LastSyncHash = result.Hash
	finalStatus.ObservedCount = result.Counts.Total()
	finalStatus.AttemptCount = 0
	hashPreview := result.Hash
	if len(hashPreview) > 8 {
		hashPreview = hashPreview[:8]
	}
	slog.Info("Sync completed successfully",
		"scope", scope.String(),
		"pass_id", passID,
		"observed", result.Counts.Total(),
		"retired", result.Reconcile.Retired,
		"flagged", result.Reconcile.Flagged,
		"duration", syncDuration,
		"hash", hashPreview)
}
