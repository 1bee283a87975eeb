package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/campuskit/lms-sync-server/database"
	"github.com/campuskit/lms-sync-server/internal/api"
	"github.com/campuskit/lms-sync-server/internal/config"
	"github.com/campuskit/lms-sync-server/internal/db"
	"github.com/campuskit/lms-sync-server/internal/deps"
	"github.com/campuskit/lms-sync-server/internal/reader"
	"github.com/campuskit/lms-sync-server/internal/reconcile"
	"github.com/campuskit/lms-sync-server/internal/review"
	"github.com/campuskit/lms-sync-server/internal/sources"
	"github.com/campuskit/lms-sync-server/internal/storage"
	pkgsync "github.com/campuskit/lms-sync-server/internal/sync"
	"github.com/campuskit/lms-sync-server/internal/sync/coordinator"
	"github.com/campuskit/lms-sync-server/internal/sync/state"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync server",
	Long: `Start the sync server to mirror LMS data and serve it over HTTP.

The server requires a configuration file (--config) that specifies:
- The snapshot source (API or file)
- Sync scopes, policy and filtering rules
- Optional database settings for persistent storage

Without a database the server keeps all state in memory.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverRequestTimeout   = 10 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 15 * time.Second // Must be > serverRequestTimeout to let middleware handle timeout
	serverIdleTimeout      = 60 * time.Second
)

func init() {
	serveCmd.Flags().String("address", ":8080", "Address to listen on")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("config", serveCmd.Flags().Lookup("config")); err != nil {
		panic(err)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
}

// backends bundles the storage-dependent pieces of the server, which
// differ between the database and the in-memory deployment.
type backends struct {
	store    storage.Store
	resolver deps.Resolver
	stateSvc state.Service
	pool     *pgxpool.Pool
}

func (b *backends) close() {
	if b.pool != nil {
		slog.Info("Closing database connection pool")
		b.pool.Close()
	}
}

// buildBackends connects to the database when one is configured,
// applying pending migrations first. Without database configuration
// everything is kept in memory.
func buildBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	if cfg.Database == nil {
		slog.Info("No database configured, keeping state in memory")
		return &backends{
			store:    storage.NewMemoryStore(),
			resolver: deps.NewMemoryResolver(),
			stateSvc: state.NewMemoryStateService(),
		}, nil
	}

	connString, err := cfg.Database.GetConnectionString()
	if err != nil {
		return nil, fmt.Errorf("failed to build connection string: %w", err)
	}

	if err := database.Apply(connString); err != nil {
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	pool, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	resolver, err := deps.NewPostgresResolver(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &backends{
		store:    store,
		resolver: resolver,
		stateSvc: state.NewStateService(pool),
		pool:     pool,
	}, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	configPath := viper.GetString("config")
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Info("Loaded configuration",
		"path", configPath,
		"server", cfg.GetServerName(),
		"source", cfg.Source.GetSourceType())

	// The config file address wins unless the flag was set explicitly.
	address := viper.GetString("address")
	if !cmd.Flags().Changed("address") && cfg.API != nil && cfg.API.Address != "" {
		address = cfg.API.Address
	}

	be, err := buildBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer be.close()

	engine, err := reconcile.NewEngine(be.store, be.resolver)
	if err != nil {
		return fmt.Errorf("failed to create reconcile engine: %w", err)
	}

	syncManager := pkgsync.NewDefaultSyncManager(sources.NewSourceHandlerFactory(), engine)
	syncCoordinator, err := coordinator.New(syncManager, be.stateSvc, cfg)
	if err != nil {
		return fmt.Errorf("failed to create sync coordinator: %w", err)
	}

	syncCtx, syncCancel := context.WithCancel(context.Background())
	defer syncCancel()
	go func() {
		if err := syncCoordinator.Start(syncCtx); err != nil {
			slog.Error("Sync coordinator failed", "error", err)
		}
	}()

	rdr, err := reader.New(be.store)
	if err != nil {
		return fmt.Errorf("failed to create reader: %w", err)
	}
	reviewSvc, err := review.NewService(be.store)
	if err != nil {
		return fmt.Errorf("failed to create review service: %w", err)
	}

	router := api.NewServer(rdr, reviewSvc, be.stateSvc,
		api.WithSyncTrigger(syncCoordinator),
		api.WithMiddlewares(
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(serverRequestTimeout),
			api.LoggingMiddleware,
		),
	)

	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		slog.Info("Server listening", "address", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	if err := syncCoordinator.Stop(); err != nil {
		slog.Error("Failed to stop sync coordinator", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}

	slog.Info("Server shutdown complete")
	return nil
}
