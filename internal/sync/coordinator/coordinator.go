package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/campuskit/lms-sync-server/internal/config"
	"github.com/campuskit/lms-sync-server/internal/snapshot"
	pkgsync "github.com/campuskit/lms-sync-server/internal/sync"
	"github.com/campuskit/lms-sync-server/internal/sync/state"
)

const (
	// basePollingInterval is the base interval at which the coordinator checks for sync jobs
	basePollingInterval = 2 * time.Minute
	// pollingJitter is the maximum random offset (±30 seconds) applied to the polling interval
	pollingJitter = 30 * time.Second
)

// Coordinator manages background synchronization scheduling and execution for all scopes
type Coordinator interface {
	// Start begins background sync coordination for all scopes
	// Blocks until context is cancelled or an unrecoverable error occurs
	Start(ctx context.Context) error

	// Stop gracefully stops the coordinator
	Stop() error

	// TriggerSync requests an immediate sync of one scope. It returns
	// whether a sync was started and, if not, the reason it was skipped.
	TriggerSync(ctx context.Context, scope snapshot.Scope) (bool, string, error)
}

// defaultCoordinator is the default implementation of Coordinator
type defaultCoordinator struct {
	manager pkgsync.Manager
	config  *config.Config
	scopes  []snapshot.Scope

	// Lifecycle management
	cancelFunc context.CancelFunc
	done       chan struct{}

	statusSvc state.Service

	// pollingInterval overrides the jittered default when non-zero (tests)
	pollingInterval time.Duration
}

// Option is a function that configures the coordinator
type Option func(*defaultCoordinator)

// WithPollingInterval overrides the default jittered polling interval
func WithPollingInterval(interval time.Duration) Option {
	return func(c *defaultCoordinator) {
		c.pollingInterval = interval
	}
}

// New creates a new coordinator with injected dependencies
func New(
	manager pkgsync.Manager,
	statusSvc state.Service,
	cfg *config.Config,
	opts ...Option,
) (Coordinator, error) {
	scopes, err := cfg.GetScopes()
	if err != nil {
		return nil, fmt.Errorf("invalid sync scopes: %w", err)
	}

	c := &defaultCoordinator{
		manager:   manager,
		statusSvc: statusSvc,
		config:    cfg,
		scopes:    scopes,
		done:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// calculatePollingInterval returns the base polling interval with a random jitter applied.
// The jitter is ±30 seconds to prevent all instances from polling the database simultaneously.
func (c *defaultCoordinator) calculatePollingInterval() time.Duration {
	if c.pollingInterval > 0 {
		return c.pollingInterval
	}
	//nolint:gosec // G404: Non-cryptographic randomness is sufficient for polling jitter
	jitterOffset := time.Duration(rand.Int64N(int64(2*pollingJitter))) - pollingJitter
	return basePollingInterval + jitterOffset
}

// Start begins background sync coordination for all scopes
func (c *defaultCoordinator) Start(ctx context.Context) error {
	slog.Info("Starting background sync coordinator", "scope_count", len(c.scopes))

	// Create cancellable context for this coordinator
	coordCtx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel
	defer func() {
		close(c.done)
		slog.Info("Background sync coordinator shutting down")
	}()

	// Load or initialize sync status for all scopes
	if err := c.statusSvc.Initialize(ctx, c.scopes); err != nil {
		return fmt.Errorf("failed to initialize scope sync status: %w", err)
	}

	// Calculate polling interval with jitter to prevent thundering herd
	pollingInterval := c.calculatePollingInterval()
	slog.Info("Configured coordinator polling interval",
		"base_interval", basePollingInterval,
		"actual_interval", pollingInterval)

	// Create ticker for periodic sync checks
	ticker := time.NewTicker(pollingInterval)
	defer ticker.Stop()

	// Perform initial sync check
	c.checkAllScopes(coordCtx)

	// Run the coordinator loop
	for {
		select {
		case <-ticker.C:
			c.checkAllScopes(coordCtx)

			// Recalculate interval with new jitter for next iteration
			ticker.Reset(c.calculatePollingInterval())
		case <-coordCtx.Done():
			slog.Info("Sync coordinator stopping")
			return nil
		}
	}
}

// Stop gracefully stops the coordinator
func (c *defaultCoordinator) Stop() error {
	if c.cancelFunc != nil {
		slog.Info("Stopping sync coordinator")
		c.cancelFunc()
		// Wait for coordinator to finish
		<-c.done
	}
	return nil
}

// TriggerSync requests an immediate sync of one scope
func (c *defaultCoordinator) TriggerSync(ctx context.Context, scope snapshot.Scope) (bool, string, error) {
	return c.checkScopeSync(ctx, scope, true)
}

// checkAllScopes runs a sync check for every configured scope
func (c *defaultCoordinator) checkAllScopes(ctx context.Context) {
	for _, scope := range c.scopes {
		if ctx.Err() != nil {
			return
		}
		if _, _, err := c.checkScopeSync(ctx, scope, false); err != nil {
			slog.Error("Error checking scope sync", "scope", scope.String(), "error", err)
		}
	}
}
