package sources

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/campuskit/lms-sync-server/internal/config"
	"github.com/campuskit/lms-sync-server/internal/snapshot"
	"github.com/campuskit/lms-sync-server/internal/versions"
)

// fileSourceHandler handles export documents stored in local files
type fileSourceHandler struct {
	validator SourceDataValidator
	now       func() time.Time
}

var _ SourceHandler = (*fileSourceHandler)(nil)

// NewFileSourceHandler creates a new file source handler
func NewFileSourceHandler() SourceHandler {
	return &fileSourceHandler{
		validator: NewSourceDataValidator(),
		now:       time.Now,
	}
}

// Validate validates the file source configuration
func (*fileSourceHandler) Validate(source *config.SourceConfig) error {
	if source == nil {
		return fmt.Errorf("source configuration cannot be nil")
	}

	if source.File == nil {
		return fmt.Errorf("file configuration is required for source type %s",
			config.SourceTypeFile)
	}

	if source.File.Path == "" {
		return fmt.Errorf("file path cannot be empty")
	}

	return nil
}

// FetchSnapshot reads the export document from the local file and
// converts it into a snapshot for the requested scope. Scope narrowing
// happens in-process since a file cannot filter server-side.
func (h *fileSourceHandler) FetchSnapshot(
	ctx context.Context,
	cfg *config.Config,
	scope snapshot.Scope,
) (*FetchResult, error) {
	data, hash, err := h.fetchFileData(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch file data: %w", err)
	}

	doc, err := h.validator.ValidateData(data)
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	if versions.IsNewerVersion(doc.ExportVersion, LatestTestedExportVersion) {
		slog.Warn("LMS export schema is newer than this server was built against",
			"exportVersion", doc.ExportVersion,
			"latestTested", LatestTestedExportVersion)
	}

	return NewFetchResult(doc.ToSnapshot(scope, h.now()), hash), nil
}

// CurrentHash returns the current hash of the file without parsing it
//
// The hash covers the whole file, not the scoped subset. A change
// anywhere in the export re-triggers every scope, which costs an extra
// pass but never misses one.
func (h *fileSourceHandler) CurrentHash(
	ctx context.Context,
	cfg *config.Config,
	_ snapshot.Scope,
) (string, error) {
	_, hash, err := h.fetchFileData(ctx, cfg)
	if err != nil {
		return "", err
	}

	return hash, nil
}

// fetchFileData reads the file and calculates its hash
func (h *fileSourceHandler) fetchFileData(_ context.Context, cfg *config.Config) ([]byte, string, error) {
	if err := h.Validate(&cfg.Source); err != nil {
		return nil, "", fmt.Errorf("source validation failed: %w", err)
	}

	filePath := cfg.Source.File.Path

	// Read the file
	//nolint:gosec // File path comes from user configuration, this is expected behavior
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("file not found: %s", filePath)
		}
		return nil, "", fmt.Errorf("failed to read file %s: %w", filePath, err)
	}

	// Calculate hash
	hash := fmt.Sprintf("%x", sha256.Sum256(data))

	return data, hash, nil
}
