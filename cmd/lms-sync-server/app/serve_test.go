package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuskit/lms-sync-server/internal/config"
)

func TestBuildBackendsInMemory(t *testing.T) {
	t.Parallel()

	be, err := buildBackends(context.Background(), &config.Config{})
	require.NoError(t, err)
	defer be.close()

	assert.NotNil(t, be.store)
	assert.NotNil(t, be.resolver)
	assert.NotNil(t, be.stateSvc)
	assert.Nil(t, be.pool)
}

func TestBuildBackendsRequiresPassword(t *testing.T) {
	t.Setenv("LMS_SYNC_DATABASE_PASSWORD", "")

	cfg := &config.Config{
		Database: &config.DatabaseConfig{
			Host: "localhost", Port: 5432, User: "sync", Database: "lms",
		},
	}

	_, err := buildBackends(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no database password configured")
}
