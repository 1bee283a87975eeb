package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/campuskit/lms-sync-server/internal/config"
	"github.com/campuskit/lms-sync-server/internal/filtering"
	"github.com/campuskit/lms-sync-server/internal/reconcile"
	"github.com/campuskit/lms-sync-server/internal/snapshot"
	"github.com/campuskit/lms-sync-server/internal/sources"
	"github.com/campuskit/lms-sync-server/internal/status"
)

// Result contains the result of a successful sync operation
type Result struct {
	// Hash is the content hash of the source data that was synced
	Hash string

	// Counts are the per-type item counts of the snapshot after filtering
	Counts snapshot.Counts

	// Reconcile carries the detailed outcome of the reconciliation pass
	Reconcile *reconcile.Result
}

// Sync reason constants
const (
	// Scope state related reasons
	ReasonAlreadyInProgress = "sync-already-in-progress"
	ReasonScopeNotReady     = "scope-not-ready"

	// Data change related reasons
	ReasonSourceDataChanged    = "source-data-changed"
	ReasonErrorCheckingChanges = "error-checking-data-changes"

	// Manual sync related reasons
	ReasonManualWithChanges = "manual-sync-with-data-changes"
	ReasonManualNoChanges   = "manual-sync-no-data-changes"

	// Automatic sync related reasons
	ReasonIntervalElapsed       = "sync-interval-elapsed"
	ReasonErrorCheckingSyncNeed = "error-checking-sync-need"

	// Up-to-date reason
	ReasonUpToDate = "up-to-date"
)

// Condition reasons for status conditions
const (
	conditionReasonHandlerCreationFailed = "HandlerCreationFailed"
	conditionReasonValidationFailed      = "ValidationFailed"
	conditionReasonFetchFailed           = "FetchFailed"
	conditionReasonFilteringFailed       = "FilteringFailed"
	conditionReasonReconcileFailed       = "ReconcileFailed"
)

// Condition types for sync status reporting
const (
	// ConditionSourceAvailable indicates whether the source is available and accessible
	ConditionSourceAvailable = "SourceAvailable"

	// ConditionDataValid indicates whether the export data is valid
	ConditionDataValid = "DataValid"

	// ConditionSyncSuccessful indicates whether the last sync was successful
	ConditionSyncSuccessful = "SyncSuccessful"
)

// Error represents a structured error with condition information
type Error struct {
	Err             error
	Message         string
	ConditionType   string
	ConditionReason string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Manager manages synchronization operations for sync scopes
type Manager interface {
	// ShouldSync determines if a sync operation is needed for a specific scope
	ShouldSync(
		ctx context.Context, cfg *config.Config, scope snapshot.Scope,
		syncStatus *status.SyncStatus, manualSyncRequested bool,
	) (bool, string)

	// PerformSync executes the complete sync operation for a specific scope
	PerformSync(ctx context.Context, cfg *config.Config, scope snapshot.Scope) (*Result, *Error)
}

// DataChangeDetector detects changes in source data
type DataChangeDetector interface {
	// IsDataChanged checks if source data has changed by comparing hashes for a specific scope
	IsDataChanged(
		ctx context.Context, cfg *config.Config, scope snapshot.Scope, syncStatus *status.SyncStatus,
	) (bool, error)
}

// AutomaticSyncChecker handles automatic sync timing logic
type AutomaticSyncChecker interface {
	// IsIntervalSyncNeeded checks if sync is needed based on the configured interval
	IsIntervalSyncNeeded(cfg *config.Config, syncStatus *status.SyncStatus) bool
}

// defaultSyncManager is the default implementation of Manager
type defaultSyncManager struct {
	sourceHandlerFactory sources.SourceHandlerFactory
	filterService        filtering.FilterService
	engine               *reconcile.Engine
	dataChangeDetector   DataChangeDetector
	automaticSyncChecker AutomaticSyncChecker
}

// NewDefaultSyncManager creates a new defaultSyncManager
func NewDefaultSyncManager(
	sourceHandlerFactory sources.SourceHandlerFactory,
	engine *reconcile.Engine,
) Manager {
	return &defaultSyncManager{
		sourceHandlerFactory: sourceHandlerFactory,
		filterService:        filtering.NewDefaultFilterService(),
		engine:               engine,
		dataChangeDetector:   &DefaultDataChangeDetector{sourceHandlerFactory: sourceHandlerFactory},
		automaticSyncChecker: &DefaultAutomaticSyncChecker{},
	}
}

// ShouldSync determines if a sync operation is needed for a specific scope
// Returns: (shouldSync bool, reason string)
func (s *defaultSyncManager) ShouldSync(
	ctx context.Context,
	cfg *config.Config,
	scope snapshot.Scope,
	syncStatus *status.SyncStatus,
	manualSyncRequested bool,
) (bool, string) {
	// If the scope is currently syncing, don't start another sync
	if syncStatus != nil && syncStatus.Phase == status.SyncPhaseSyncing {
		return false, ReasonAlreadyInProgress
	}

	syncNeededForState := s.isSyncNeededForState(syncStatus)
	intervalElapsed := s.automaticSyncChecker.IsIntervalSyncNeeded(cfg, syncStatus)

	if !syncNeededForState && !manualSyncRequested && !intervalElapsed {
		return false, ReasonUpToDate
	}

	// Something wants a sync; only do the work if the source data changed.
	dataChanged, err := s.dataChangeDetector.IsDataChanged(ctx, cfg, scope, syncStatus)
	if err != nil {
		// When change detection fails, sync anyway. A full fetch will
		// surface the real error if the source is down.
		slog.Warn("Failed to determine if data has changed, syncing anyway",
			"scope", scope.String(), "error", err)
		return true, ReasonErrorCheckingChanges
	}

	slog.Debug("Sync check",
		"scope", scope.String(),
		"stateNeedsSync", syncNeededForState,
		"manual", manualSyncRequested,
		"intervalElapsed", intervalElapsed,
		"dataChanged", dataChanged)

	if !dataChanged {
		if manualSyncRequested {
			return false, ReasonManualNoChanges
		}
		return false, ReasonUpToDate
	}

	switch {
	case syncNeededForState:
		return true, ReasonScopeNotReady
	case manualSyncRequested:
		return true, ReasonManualWithChanges
	case intervalElapsed:
		return true, ReasonIntervalElapsed
	default:
		return true, ReasonSourceDataChanged
	}
}

// isSyncNeededForState checks if sync is needed based on the scope's current state
func (*defaultSyncManager) isSyncNeededForState(syncStatus *status.SyncStatus) bool {
	if syncStatus == nil {
		return true
	}
	// Anything other than a completed sync means the scope needs one.
	return syncStatus.Phase != status.SyncPhaseComplete
}

// PerformSync performs the complete sync operation for a specific scope
// Returns sync result on success, or error on failure
func (s *defaultSyncManager) PerformSync(
	ctx context.Context, cfg *config.Config, scope snapshot.Scope,
) (*Result, *Error) {
	fetchResult, syncErr := s.fetchAndFilterSnapshot(ctx, cfg, scope)
	if syncErr != nil {
		return nil, syncErr
	}

	reconcileResult, err := s.engine.Reconcile(ctx, fetchResult.Snapshot)
	if err != nil {
		slog.Error("Reconciliation failed", "scope", scope.String(), "error", err)
		return nil, &Error{
			Err:             err,
			Message:         fmt.Sprintf("Reconciliation failed: %v", err),
			ConditionType:   ConditionSyncSuccessful,
			ConditionReason: conditionReasonReconcileFailed,
		}
	}

	return &Result{
		Hash:      fetchResult.Hash,
		Counts:    fetchResult.Counts,
		Reconcile: reconcileResult,
	}, nil
}

// fetchAndFilterSnapshot handles source handler creation, validation, fetch and filtering
func (s *defaultSyncManager) fetchAndFilterSnapshot(
	ctx context.Context,
	cfg *config.Config,
	scope snapshot.Scope,
) (*sources.FetchResult, *Error) {
	sourceHandler, err := s.sourceHandlerFactory.CreateHandler(cfg.Source.GetSourceType())
	if err != nil {
		slog.Error("Failed to create source handler", "error", err)
		return nil, &Error{
			Err:             err,
			Message:         fmt.Sprintf("Failed to create source handler: %v", err),
			ConditionType:   ConditionSourceAvailable,
			ConditionReason: conditionReasonHandlerCreationFailed,
		}
	}

	if err := sourceHandler.Validate(&cfg.Source); err != nil {
		slog.Error("Source validation failed", "error", err)
		return nil, &Error{
			Err:             err,
			Message:         fmt.Sprintf("Source validation failed: %v", err),
			ConditionType:   ConditionSourceAvailable,
			ConditionReason: conditionReasonValidationFailed,
		}
	}

	fetchResult, err := sourceHandler.FetchSnapshot(ctx, cfg, scope)
	if err != nil {
		slog.Error("Fetch operation failed", "scope", scope.String(), "error", err)
		return nil, &Error{
			Err:             err,
			Message:         fmt.Sprintf("Fetch failed: %v", err),
			ConditionType:   ConditionDataValid,
			ConditionReason: conditionReasonFetchFailed,
		}
	}

	slog.Info("Snapshot fetched successfully from source",
		"scope", scope.String(),
		"items", fetchResult.Counts.Total(),
		"hash", fetchResult.Hash)

	if syncErr := s.applyFilteringIfConfigured(ctx, cfg, fetchResult); syncErr != nil {
		return nil, syncErr
	}

	return fetchResult, nil
}

// applyFilteringIfConfigured applies the course filter to the fetch result when configured
func (s *defaultSyncManager) applyFilteringIfConfigured(
	ctx context.Context,
	cfg *config.Config,
	fetchResult *sources.FetchResult) *Error {
	if cfg.Filter == nil {
		return nil
	}

	filtered, err := s.filterService.ApplyFilters(ctx, fetchResult.Snapshot, cfg.Filter)
	if err != nil {
		slog.Error("Snapshot filtering failed", "error", err)
		return &Error{
			Err:             err,
			Message:         fmt.Sprintf("Filtering failed: %v", err),
			ConditionType:   ConditionSyncSuccessful,
			ConditionReason: conditionReasonFilteringFailed,
		}
	}

	originalTotal := fetchResult.Counts.Total()
	fetchResult.Snapshot = filtered
	fetchResult.Counts = filtered.Counts()

	slog.Info("Snapshot filtering completed",
		"originalItems", originalTotal,
		"filteredItems", fetchResult.Counts.Total())

	return nil
}

// DefaultAutomaticSyncChecker implements AutomaticSyncChecker
type DefaultAutomaticSyncChecker struct {
	// Now overrides the clock in tests
	Now func() time.Time
}

// IsIntervalSyncNeeded checks if sync is needed based on the configured interval
func (c *DefaultAutomaticSyncChecker) IsIntervalSyncNeeded(
	cfg *config.Config, syncStatus *status.SyncStatus,
) bool {
	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}

	// If we don't have a last attempt time, sync is needed
	if syncStatus == nil || syncStatus.LastAttempt == nil {
		return true
	}

	nextSyncTime := syncStatus.LastAttempt.Add(cfg.GetSyncInterval())
	return !now.Before(nextSyncTime)
}
