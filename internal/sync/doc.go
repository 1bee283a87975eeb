// Package sync provides synchronization management for LMS sync scopes.
//
// # Core Interfaces
//
//   - Manager: Main interface for orchestrating sync operations (domain logic)
//   - DataChangeDetector: Detects changes in source data using hash comparison
//   - AutomaticSyncChecker: Manages time-based automatic sync scheduling
//
// # Coordinator Package
//
// The sync/coordinator subpackage provides the orchestration layer that
// schedules and executes background sync operations. It handles
// ticker-based periodic syncs, status persistence, and lifecycle
// management.
//
// # Sync Decision Making
//
// The Manager.ShouldSync method evaluates multiple factors to determine
// if a sync is needed, returning a decision (bool) and reason (string):
//
//   - Scope state (failed, never synced, complete)
//   - Source data changes (via hash comparison)
//   - Sync interval elapsed (time-based automatic sync)
//   - Manual sync requests
//
// Sync reasons that indicate sync is NOT needed:
//   - ReasonAlreadyInProgress: Sync already running for the scope
//   - ReasonManualNoChanges: Manual sync requested but no changes detected
//   - ReasonUpToDate: No sync needed, data is current
//
// Sync reasons that indicate sync IS needed:
//   - ReasonScopeNotReady: Initial sync or recovery from failure
//   - ReasonSourceDataChanged: Source data hash changed
//   - ReasonIntervalElapsed: Configured sync interval elapsed
//   - ReasonErrorCheckingChanges: Error during change detection, sync anyway
//   - ReasonManualWithChanges: Manual sync requested with detected changes
//
// # Performing a Sync
//
// PerformSync runs the full pipeline for one scope: create the source
// handler, validate its configuration, fetch the export document, apply
// the course filter, then hand the snapshot to the reconciliation engine.
// Failures are reported as a structured Error naming the condition that
// failed (source availability, data validity, or the sync itself).
package sync
