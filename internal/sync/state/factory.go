package state

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewStateService creates a Service backed by the database when a pool
// is available, falling back to in-memory state otherwise. In-memory
// state does not survive restarts, which only costs an extra initial
// sync per scope.
func NewStateService(pool *pgxpool.Pool) Service {
	if pool == nil {
		return NewMemoryStateService()
	}
	return NewDBStateService(pool)
}
