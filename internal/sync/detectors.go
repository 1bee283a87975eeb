package sync

import (
	"context"

	"github.com/campuskit/lms-sync-server/internal/config"
	"github.com/campuskit/lms-sync-server/internal/snapshot"
	"github.com/campuskit/lms-sync-server/internal/sources"
	"github.com/campuskit/lms-sync-server/internal/status"
)

// DefaultDataChangeDetector implements DataChangeDetector
type DefaultDataChangeDetector struct {
	sourceHandlerFactory sources.SourceHandlerFactory
}

// NewDataChangeDetector creates a DefaultDataChangeDetector
func NewDataChangeDetector(factory sources.SourceHandlerFactory) *DefaultDataChangeDetector {
	return &DefaultDataChangeDetector{sourceHandlerFactory: factory}
}

// IsDataChanged checks if source data has changed by comparing hashes
func (d *DefaultDataChangeDetector) IsDataChanged(
	ctx context.Context, cfg *config.Config, scope snapshot.Scope, syncStatus *status.SyncStatus,
) (bool, error) {
	var lastSyncHash string
	if syncStatus != nil {
		lastSyncHash = syncStatus.LastSyncHash
	}

	// If we don't have a last sync hash, consider data changed
	if lastSyncHash == "" {
		return true, nil
	}

	sourceHandler, err := d.sourceHandlerFactory.CreateHandler(cfg.Source.GetSourceType())
	if err != nil {
		return true, err
	}

	currentHash, err := sourceHandler.CurrentHash(ctx, cfg, scope)
	if err != nil {
		return true, err
	}

	// Compare hashes - data changed if different
	return currentHash != lastSyncHash, nil
}
