// Package server initializes and runs the sync engine server: database,
// migrations, blob storage backend, services, background maintenance and the
// HTTP API, with graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/selfvault/syncengine/internal/logging"
	"github.com/selfvault/syncengine/internal/server/blobstore"
	"github.com/selfvault/syncengine/internal/server/config"
	"github.com/selfvault/syncengine/internal/server/debounce"
	"github.com/selfvault/syncengine/internal/server/httpapi"
	"github.com/selfvault/syncengine/internal/server/repositories/repomanager"
	"github.com/selfvault/syncengine/internal/server/services"
	"github.com/selfvault/syncengine/internal/server/staging"
)

type App struct {
	config *config.Config
	logger logging.Logger

	db       *sql.DB
	store    *blobstore.Store
	debounce *debounce.Cache

	syncService     *services.SyncService
	deviceService   *services.DeviceService
	versionService  *services.VersionService
	transferService *services.TransferService
	quotaService    *services.QuotaService
	maintService    *services.MaintenanceService

	httpServer *http.Server
}

func NewApp(cfg *config.Config) (*App, error) {
	logger := logging.NewJSON(os.Stdout)

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	manager := repomanager.NewPostgresRepositoryManager()
	if err := manager.RunMigrations(context.Background(), db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	backend, err := newBlobBackend(cfg)
	if err != nil {
		return nil, fmt.Errorf("blob backend init error: %w", err)
	}
	store := blobstore.NewStore(manager.Blobs(db), backend, logger)

	chunkStaging, err := staging.NewFilesystemStaging(cfg.StagingRoot)
	if err != nil {
		return nil, fmt.Errorf("staging init error: %w", err)
	}

	deviceService := services.NewDeviceService(db, manager)
	quotaService := services.NewQuotaService(db, manager, store, cfg, logger)
	syncService := services.NewSyncService(db, manager, store, deviceService, quotaService, cfg, logger)
	versionService := services.NewVersionService(db, manager, store, syncService, logger)
	transferService := services.NewTransferService(db, manager, chunkStaging, syncService,
		deviceService, quotaService, cfg, logger)
	maintService := services.NewMaintenanceService(db, manager, store, logger)

	cache := debounce.NewCache(cfg.DebounceWindow, cfg.DebounceCeiling, syncService.FlushEdit, logger)
	syncService.AttachDebounce(cache)

	api := httpapi.NewServer(syncService, deviceService, versionService,
		transferService, quotaService, maintService, logger)

	return &App{
		config:          cfg,
		logger:          logger,
		db:              db,
		store:           store,
		debounce:        cache,
		syncService:     syncService,
		deviceService:   deviceService,
		versionService:  versionService,
		transferService: transferService,
		quotaService:    quotaService,
		maintService:    maintService,
		httpServer: &http.Server{
			Addr:              cfg.EndpointAddr,
			Handler:           api.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func newBlobBackend(cfg *config.Config) (blobstore.Backend, error) {
	switch cfg.BlobBackend {
	case "fs":
		return blobstore.NewFilesystemBackend(cfg.BlobRoot)
	case "s3":
		return blobstore.NewS3Backend(context.Background(), blobstore.S3Config{
			RootUser:     cfg.S3RootUser,
			RootPassword: cfg.S3RootPassword,
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			BaseEndpoint: cfg.S3BaseEndpoint,
		})
	case "memory":
		return blobstore.NewMemoryBackend(), nil
	}
	return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
}

// Run starts the server and blocks until the context is cancelled or a
// termination signal arrives. Shutdown order matters: stop accepting
// requests, then flush pending coalesced edits, then close the database.
func (app *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	app.initSignalHandler(cancel)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		app.logger.Info(ctx, "http server starting", "addr", app.config.EndpointAddr)
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Debounce expiry loop; flushes whatever is pending on shutdown.
	group.Go(func() error {
		app.debounce.Run(ctx)
		return nil
	})

	// Periodic maintenance: transfer expiry, quota eviction, blob GC.
	group.Go(func() error {
		ticker := time.NewTicker(app.config.GCInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				app.runMaintenance(ctx)
			}
		}
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return app.httpServer.Shutdown(shutdownCtx)
	})

	err := group.Wait()

	if dbErr := app.db.Close(); dbErr != nil {
		app.logger.Error(context.Background(), "db close error", "error", dbErr)
	}
	return err
}

func (app *App) runMaintenance(ctx context.Context) {
	if _, err := app.transferService.SweepExpired(ctx); err != nil {
		app.logger.Error(ctx, "transfer sweep failed", "error", err)
	}
	if err := app.quotaService.RunEvictionAll(ctx); err != nil {
		app.logger.Error(ctx, "eviction run failed", "error", err)
	}
	if _, err := app.maintService.RunGarbageCollection(ctx); err != nil {
		app.logger.Error(ctx, "garbage collection failed", "error", err)
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}
