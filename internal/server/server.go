package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"audioanchor/internal/config"
	"audioanchor/internal/database"
	"audioanchor/internal/reconcile"
	"audioanchor/pkg/models"
)

// Store is the catalog surface the API reads and writes
type Store interface {
	ListDirectories(ctx context.Context) ([]models.Directory, error)
	GetDirectory(ctx context.Context, id int64) (models.Directory, error)
	DeleteDirectory(ctx context.Context, id int64) error
	ListAlbumsByDirectory(ctx context.Context, directoryID int64) ([]models.Album, error)
	GetAlbum(ctx context.Context, id int64) (models.Album, error)
	ListAudioFilesByAlbum(ctx context.Context, albumID int64) ([]models.AudioFile, error)
	GetAudioFile(ctx context.Context, id int64) (models.AudioFile, error)
	UpdateCompletedTime(ctx context.Context, id int64, completedMs int64) error
	Stats(ctx context.Context) (database.Stats, error)
	Ping(ctx context.Context) error
}

// Syncer registers directories and runs reconciliation passes
type Syncer interface {
	AddDirectory(ctx context.Context, path string, dirType models.DirectoryType) (models.Directory, *reconcile.Report, error)
	RefreshAll(ctx context.Context) (*reconcile.Report, error)
}

// Trigger schedules a deferred refresh, typically the filesystem watcher
type Trigger interface {
	Trigger()
}

// CatalogServer exposes the catalog and its synchronizer over HTTP
type CatalogServer struct {
	db      Store
	syncer  Syncer
	watcher Trigger
	config  *config.Config
	logger  *logrus.Logger
}

// NewCatalogServer creates a server; watcher may be nil when watching is disabled
func NewCatalogServer(cfg *config.Config, db Store, syncer Syncer, watcher Trigger, logger *logrus.Logger) *CatalogServer {
	return &CatalogServer{
		db:      db,
		syncer:  syncer,
		watcher: watcher,
		config:  cfg,
		logger:  logger,
	}
}

// Handler returns the routed handler wrapped in the middleware chain
func (cs *CatalogServer) Handler() http.Handler {
	mux := http.NewServeMux()
	cs.setupRoutes(mux)

	var h http.Handler = mux
	h = cs.corsMiddleware(h)
	h = cs.requestLoggingMiddleware(h)
	h = cs.panicRecoveryMiddleware(h)
	return h
}

func (cs *CatalogServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", cs.handleHealthCheck)

	mux.HandleFunc("GET /api/directories", cs.handleListDirectories)
	mux.HandleFunc("POST /api/directories", cs.handleAddDirectory)
	mux.HandleFunc("DELETE /api/directories/{id}", cs.handleRemoveDirectory)

	mux.HandleFunc("GET /api/albums", cs.handleListAlbums)
	mux.HandleFunc("GET /api/albums/{id}/tracks", cs.handleListTracks)
	mux.HandleFunc("PUT /api/tracks/{id}/progress", cs.handleUpdateProgress)

	mux.HandleFunc("POST /api/refresh", cs.handleRefresh)
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (cs *CatalogServer) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              cs.config.GetAddress(),
		Handler:           cs.Handler(),
		ReadTimeout:       time.Duration(cs.config.Server.ReadTimeout) * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if stats, err := cs.db.Stats(ctx); err == nil {
		cs.logger.WithFields(logrus.Fields{
			"directories": stats.Directories,
			"albums":      stats.Albums,
			"audio_files": stats.AudioFiles,
		}).Info("Catalog loaded")
	}
	cs.logger.WithField("address", "http://"+srv.Addr).Info("Catalog API listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	cs.logger.Info("Shutting down catalog API...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	cs.logger.Info("Catalog API shutdown complete")
	return nil
}
