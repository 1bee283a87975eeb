package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/campuskit/lms-sync-server/internal/config"
	"github.com/campuskit/lms-sync-server/internal/reconcile"
	"github.com/campuskit/lms-sync-server/internal/snapshot"
	"github.com/campuskit/lms-sync-server/internal/sources"
	"github.com/campuskit/lms-sync-server/internal/status"
	pkgsync "github.com/campuskit/lms-sync-server/internal/sync"
	"github.com/campuskit/lms-sync-server/internal/sync/coordinator"
	"github.com/campuskit/lms-sync-server/internal/sync/state"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a single sync pass and exit",
	Long: `Run one reconciliation pass for a scope (or every configured scope)
and exit. By default a scope is skipped when the source data has not
changed since its last successful sync; --force runs the pass anyway.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	syncCmd.Flags().String("scope", "", `Scope to sync ("all" or "course:<id>"); defaults to every configured scope`)
	syncCmd.Flags().Bool("force", false, "Sync even when the source data has not changed")

	if err := syncCmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	scopeArg, err := cmd.Flags().GetString("scope")
	if err != nil {
		return fmt.Errorf("failed to get scope flag: %w", err)
	}
	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return fmt.Errorf("failed to get force flag: %w", err)
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	configured, err := cfg.GetScopes()
	if err != nil {
		return err
	}
	scopes := configured
	if scopeArg != "" {
		scope, err := snapshot.ParseScope(scopeArg)
		if err != nil {
			return err
		}
		scopes = []snapshot.Scope{scope}
	}

	be, err := buildBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer be.close()

	engine, err := reconcile.NewEngine(be.store, be.resolver)
	if err != nil {
		return fmt.Errorf("failed to create reconcile engine: %w", err)
	}
	manager := pkgsync.NewDefaultSyncManager(sources.NewSourceHandlerFactory(), engine)

	// Initialize with every configured scope so narrowing to one scope
	// with --scope does not prune the others' persisted state.
	if err := be.stateSvc.Initialize(ctx, configured); err != nil {
		return fmt.Errorf("failed to initialize sync state: %w", err)
	}

	if force {
		return runForcedSync(ctx, manager, be.stateSvc, cfg, scopes)
	}

	syncCoordinator, err := coordinator.New(manager, be.stateSvc, cfg)
	if err != nil {
		return fmt.Errorf("failed to create sync coordinator: %w", err)
	}

	var failed int
	for _, scope := range scopes {
		started, reason, err := syncCoordinator.TriggerSync(ctx, scope)
		if err != nil {
			return fmt.Errorf("failed to sync scope %s: %w", scope, err)
		}
		if !started {
			slog.Info("Scope skipped", "scope", scope.String(), "reason", reason)
			continue
		}
		st, err := be.stateSvc.GetSyncStatus(ctx, scope)
		if err != nil {
			return err
		}
		if st.Phase != status.SyncPhaseComplete {
			failed++
			slog.Error("Scope sync failed", "scope", scope.String(), "message", st.Message)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d scope(s) failed to sync", failed)
	}
	return nil
}

// runForcedSync bypasses the usual sync decision and runs a pass for
// every scope, still claiming each scope so a concurrent server cannot
// start an overlapping pass.
func runForcedSync(
	ctx context.Context,
	manager pkgsync.Manager,
	stateSvc state.Service,
	cfg *config.Config,
	scopes []snapshot.Scope,
) error {
	var failed int
	for _, scope := range scopes {
		var claimed status.SyncStatus
		ok, err := stateSvc.UpdateStatusAtomically(ctx, scope, func(st *status.SyncStatus) bool {
			if st.Phase == status.SyncPhaseSyncing {
				return false
			}
			now := time.Now()
			st.Phase = status.SyncPhaseSyncing
			st.Message = "Sync in progress"
			st.LastAttempt = &now
			st.AttemptCount++
			claimed = *st
			return true
		})
		if err != nil {
			return fmt.Errorf("failed to claim scope %s: %w", scope, err)
		}
		if !ok {
			slog.Info("Scope skipped, sync already in progress", "scope", scope.String())
			continue
		}

		final := claimed
		result, syncErr := manager.PerformSync(ctx, cfg, scope)
		now := time.Now()
		if syncErr != nil {
			failed++
			final.Phase = status.SyncPhaseFailed
			final.Message = syncErr.Message
			slog.Error("Scope sync failed", "scope", scope.String(), "error", syncErr.Message)
		} else {
			final.Phase = status.SyncPhaseComplete
			final.Message = "Sync completed successfully"
			final.LastSyncTime = &now
			final.LastSyncHash = result.Hash
			final.ObservedCount = result.Counts.Total()
			final.AttemptCount = 0
			slog.Info("Scope synced",
				"scope", scope.String(),
				"observed", result.Counts.Total(),
				"retired", result.Reconcile.Retired,
				"flagged", result.Reconcile.Flagged)
		}
		if err := stateSvc.UpdateSyncStatus(ctx, scope, &final); err != nil {
			return fmt.Errorf("failed to update sync status for scope %s: %w", scope, err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d scope(s) failed to sync", failed)
	}
	return nil
}
