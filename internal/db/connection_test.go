package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuskit/lms-sync-server/internal/config"
)

func TestConnectValidation(t *testing.T) {
	t.Setenv("LMS_SYNC_DATABASE_PASSWORD", "secret")

	tests := []struct {
		name        string
		cfg         *config.DatabaseConfig
		expectedErr string
	}{
		{
			name:        "nil config",
			cfg:         nil,
			expectedErr: "database configuration is required",
		},
		{
			name:        "missing host",
			cfg:         &config.DatabaseConfig{Port: 5432, User: "sync", Database: "lms"},
			expectedErr: "database host is required",
		},
		{
			name:        "missing port",
			cfg:         &config.DatabaseConfig{Host: "localhost", User: "sync", Database: "lms"},
			expectedErr: "database port is required",
		},
		{
			name:        "missing user",
			cfg:         &config.DatabaseConfig{Host: "localhost", Port: 5432, Database: "lms"},
			expectedErr: "database user is required",
		},
		{
			name:        "missing database name",
			cfg:         &config.DatabaseConfig{Host: "localhost", Port: 5432, User: "sync"},
			expectedErr: "database name is required",
		},
		{
			name: "invalid connection lifetime",
			cfg: &config.DatabaseConfig{
				Host: "localhost", Port: 5432, User: "sync", Database: "lms",
				ConnMaxLifetime: "soon",
			},
			expectedErr: "invalid connection max lifetime",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Connect(context.Background(), tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectedErr)
		})
	}
}

func TestConnectRequiresPassword(t *testing.T) {
	t.Setenv("LMS_SYNC_DATABASE_PASSWORD", "")

	cfg := &config.DatabaseConfig{Host: "localhost", Port: 5432, User: "sync", Database: "lms"}
	_, err := Connect(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no database password configured")
}
