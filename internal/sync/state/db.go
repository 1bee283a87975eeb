package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campuskit/lms-sync-server/internal/snapshot"
	"github.com/campuskit/lms-sync-server/internal/status"
)

type dbStateService struct {
	pool *pgxpool.Pool
}

// NewDBStateService creates a new database-backed sync state service
func NewDBStateService(pool *pgxpool.Pool) Service {
	return &dbStateService{
		pool: pool,
	}
}

func (d *dbStateService) Initialize(ctx context.Context, scopes []snapshot.Scope) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	names := make([]string, len(scopes))
	for i, scope := range scopes {
		names[i] = scope.String()
		// Fresh scopes start failed so the coordinator schedules an
		// initial sync; known scopes keep their state.
		_, err := tx.Exec(ctx, `
			INSERT INTO scope_sync (scope, status, message)
			VALUES ($1, $2, 'no previous sync')
			ON CONFLICT (scope) DO NOTHING`,
			names[i], string(status.SyncPhaseFailed))
		if err != nil {
			return fmt.Errorf("failed to initialize scope %s: %w", names[i], err)
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM scope_sync WHERE NOT (scope = ANY($1))`, names); err != nil {
		return fmt.Errorf("failed to prune stale scopes: %w", err)
	}
	return tx.Commit(ctx)
}

func (d *dbStateService) ListSyncStatuses(ctx context.Context) (map[string]*status.SyncStatus, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT scope, status, message, snapshot_hash, attempt_count, observed_count,
		       last_attempt_at, last_success_at
		FROM scope_sync ORDER BY scope`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync statuses: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*status.SyncStatus)
	for rows.Next() {
		var scope string
		st, err := scanStatus(rows, &scope)
		if err != nil {
			return nil, err
		}
		result[scope] = st
	}
	return result, rows.Err()
}

func (d *dbStateService) GetSyncStatus(ctx context.Context, scope snapshot.Scope) (*status.SyncStatus, error) {
	return getStatus(ctx, d.pool, scope, false)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getStatus(ctx context.Context, q rowQuerier, scope snapshot.Scope, forUpdate bool) (*status.SyncStatus, error) {
	query := `
		SELECT status, message, snapshot_hash, attempt_count, observed_count,
		       last_attempt_at, last_success_at
		FROM scope_sync WHERE scope = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		st            status.SyncStatus
		phase         string
		attemptCount  int64
		observedCount int64
	)
	err := q.QueryRow(ctx, query, scope.String()).Scan(
		&phase, &st.Message, &st.LastSyncHash, &attemptCount, &observedCount,
		&st.LastAttempt, &st.LastSyncTime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScopeNotFound
		}
		return nil, fmt.Errorf("failed to get sync status for scope %s: %w", scope, err)
	}
	st.Phase = status.SyncPhase(phase)
	st.AttemptCount = int(attemptCount)
	st.ObservedCount = int(observedCount)
	return &st, nil
}

func (d *dbStateService) UpdateSyncStatus(ctx context.Context, scope snapshot.Scope, syncStatus *status.SyncStatus) error {
	_, err := d.pool.Exec(ctx, upsertStatusQuery, upsertStatusArgs(scope, syncStatus)...)
	if err != nil {
		return fmt.Errorf("failed to update sync status for scope %s: %w", scope, err)
	}
	return nil
}

const upsertStatusQuery = `
	INSERT INTO scope_sync
		(scope, status, message, snapshot_hash, attempt_count, observed_count,
		 last_attempt_at, last_success_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
	ON CONFLICT (scope) DO UPDATE
	SET status = EXCLUDED.status, message = EXCLUDED.message,
	    snapshot_hash = EXCLUDED.snapshot_hash, attempt_count = EXCLUDED.attempt_count,
	    observed_count = EXCLUDED.observed_count, last_attempt_at = EXCLUDED.last_attempt_at,
	    last_success_at = EXCLUDED.last_success_at, updated_at = now()`

func upsertStatusArgs(scope snapshot.Scope, st *status.SyncStatus) []any {
	return []any{
		scope.String(), string(st.Phase), st.Message, st.LastSyncHash,
		int64(st.AttemptCount), int64(st.ObservedCount), st.LastAttempt, st.LastSyncTime,
	}
}

func (d *dbStateService) UpdateStatusAtomically(
	ctx context.Context,
	scope snapshot.Scope,
	testAndUpdateFn func(syncStatus *status.SyncStatus) bool,
) (bool, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	syncStatus, err := getStatus(ctx, tx, scope, true)
	if err != nil {
		return false, err
	}

	shouldUpdate := testAndUpdateFn(syncStatus)
	if shouldUpdate {
		if _, err := tx.Exec(ctx, upsertStatusQuery, upsertStatusArgs(scope, syncStatus)...); err != nil {
			return false, fmt.Errorf("failed to update sync status for scope %s: %w", scope, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return shouldUpdate, nil
}

func scanStatus(rows pgx.Rows, scope *string) (*status.SyncStatus, error) {
	var (
		st            status.SyncStatus
		phase         string
		attemptCount  int64
		observedCount int64
	)
	err := rows.Scan(scope, &phase, &st.Message, &st.LastSyncHash, &attemptCount, &observedCount,
		&st.LastAttempt, &st.LastSyncTime)
	if err != nil {
		return nil, fmt.Errorf("failed to scan sync status: %w", err)
	}
	st.Phase = status.SyncPhase(phase)
	st.AttemptCount = int(attemptCount)
	st.ObservedCount = int(observedCount)
	return &st, nil
}
