// Package coordinator provides background synchronization coordination
// for sync scopes.
//
// This package implements the orchestration layer that schedules and
// executes periodic sync operations. It sits on top of internal/sync.Manager
// and handles:
//
//   - Background sync scheduling using time.Ticker with jitter
//   - Initial sync on startup
//   - Atomic claiming of scopes so only one pass runs per scope
//   - Manual sync triggers from the API
//   - Graceful shutdown
//
// # Architecture
//
// The coordinator separates concerns between:
//
//   - internal/sync: Domain logic (what/when to sync, how to detect changes)
//   - internal/sync/coordinator: Orchestration (scheduling, lifecycle, state)
//   - cmd app serve: HTTP server lifecycle (just starts/stops coordinator)
//
// # Claiming
//
// A scope is claimed by atomically flipping its status to the Syncing
// phase via the state service. The claim and the ShouldSync decision
// happen inside one atomic update, so concurrent instances sharing a
// database never run overlapping passes for the same scope. The final
// phase (Complete or Failed) is always written back in a deferred update,
// even when the pass fails unexpectedly.
package coordinator
