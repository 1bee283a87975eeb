package database

import (
	"context"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations(t *testing.T) {
	t.Parallel()

	pool, cleanupFunc := SetupTestDB(t)
	t.Cleanup(cleanupFunc)

	// Start from a clean slate; the setup helper applied the schema
	// without version bookkeeping.
	require.NoError(t, MigrateDown(context.Background(), pool))

	connString := pool.Config().ConnString()

	m, err := NewFromConnectionString(connString)
	require.NoError(t, err)
	defer m.Close()

	// Count the number of logical migrations
	fnames, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	require.NoError(t, err)

	for i := 1; i <= len(fnames); i++ {
		// step up
		err = m.Steps(i)
		assert.NoError(t, err)

		// step down
		err = m.Steps(-i)
		assert.NoError(t, err)

		// step up again
		err = m.Steps(i)
		assert.NoError(t, err)
	}
}
