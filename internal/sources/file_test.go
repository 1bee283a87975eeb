package sources

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuskit/lms-sync-server/internal/config"
	"github.com/campuskit/lms-sync-server/internal/snapshot"
)

func fileConfig(t *testing.T, content string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return &config.Config{
		Source: config.SourceConfig{
			File: &config.FileSourceConfig{Path: path},
		},
	}
}

func TestFileSourceHandlerValidate(t *testing.T) {
	t.Parallel()

	handler := NewFileSourceHandler()

	require.NoError(t, handler.Validate(&config.SourceConfig{
		File: &config.FileSourceConfig{Path: "export.json"},
	}))

	err := handler.Validate(nil)
	require.Error(t, err)

	err = handler.Validate(&config.SourceConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file configuration is required")

	err = handler.Validate(&config.SourceConfig{File: &config.FileSourceConfig{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file path cannot be empty")
}

func TestFileSourceHandlerFetchSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("reads and converts export", func(t *testing.T) {
		t.Parallel()

		handler := NewFileSourceHandler()
		result, err := handler.FetchSnapshot(ctx, fileConfig(t, validExportJSON), snapshot.AllScope())
		require.NoError(t, err)
		assert.Equal(t, 2, result.Counts.Courses)
		assert.NotEmpty(t, result.Hash)
	})

	t.Run("narrows a course scope in-process", func(t *testing.T) {
		t.Parallel()

		handler := NewFileSourceHandler()
		result, err := handler.FetchSnapshot(ctx, fileConfig(t, validExportJSON), snapshot.CourseScope("502"))
		require.NoError(t, err)
		require.Len(t, result.Snapshot.Courses, 1)
		assert.Equal(t, "502", result.Snapshot.Courses[0].ExternalID)
		require.Len(t, result.Snapshot.Students, 1)
		assert.Equal(t, "9002", result.Snapshot.Students[0].ExternalID)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		handler := NewFileSourceHandler()
		cfg := &config.Config{
			Source: config.SourceConfig{
				File: &config.FileSourceConfig{Path: filepath.Join(t.TempDir(), "absent.json")},
			},
		}
		_, err := handler.FetchSnapshot(ctx, cfg, snapshot.AllScope())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "file not found")
	})

	t.Run("invalid document", func(t *testing.T) {
		t.Parallel()

		handler := NewFileSourceHandler()
		_, err := handler.FetchSnapshot(ctx, fileConfig(t, `{"export_version": "0.1.0"}`), snapshot.AllScope())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "validation failed")
	})
}

func TestFileSourceHandlerCurrentHash(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	handler := NewFileSourceHandler()
	cfg := fileConfig(t, validExportJSON)

	hash, err := handler.CurrentHash(ctx, cfg, snapshot.AllScope())
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	// The hash covers the whole file, so every scope sees the same hash.
	scopedHash, err := handler.CurrentHash(ctx, cfg, snapshot.CourseScope("501"))
	require.NoError(t, err)
	assert.Equal(t, hash, scopedHash)

	result, err := handler.FetchSnapshot(ctx, cfg, snapshot.AllScope())
	require.NoError(t, err)
	assert.Equal(t, hash, result.Hash)

	// Rewriting the file changes the hash.
	require.NoError(t, os.WriteFile(cfg.Source.File.Path, []byte(`{"export_version": "1.0.0"}`), 0o600))
	newHash, err := handler.CurrentHash(ctx, cfg, snapshot.AllScope())
	require.NoError(t, err)
	assert.NotEqual(t, hash, newHash)
}

func TestSourceHandlerFactory(t *testing.T) {
	t.Parallel()

	factory := NewSourceHandlerFactory()

	apiHandler, err := factory.CreateHandler(config.SourceTypeAPI)
	require.NoError(t, err)
	assert.IsType(t, &APISourceHandler{}, apiHandler)

	fileHandler, err := factory.CreateHandler(config.SourceTypeFile)
	require.NoError(t, err)
	assert.IsType(t, &fileSourceHandler{}, fileHandler)

	_, err = factory.CreateHandler("git")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported source type")
}
