package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"audioanchor/internal/cache"
	"audioanchor/internal/collate"
	"audioanchor/internal/config"
	"audioanchor/internal/database"
	"audioanchor/internal/fsprobe"
	"audioanchor/internal/logging"
	"audioanchor/internal/metadata"
	"audioanchor/internal/reconcile"
)

// durationCacheTTL bounds how long a probed duration is trusted for an
// unchanged file
const durationCacheTTL = 6 * time.Hour

// app holds the wired components shared by every command
type app struct {
	cfg       *config.Config
	logger    *logrus.Logger
	db        *database.Database
	syncer    *reconcile.Synchronizer
	durations *cache.DurationCache
	logCloser io.Closer
}

// newApp loads configuration and wires logging, the catalog and the
// synchronizer. Flags given on the command line win over the file.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("show-hidden") {
		cfg.Library.ShowHidden = showHidden
	}
	if cmd.Flags().Changed("keep-deleted") {
		cfg.Library.KeepDeleted = keepDeleted
	}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := database.NewDatabase(cfg.Database.Path, cfg.Database.MaxConnections, logger)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	collator, err := collate.New(collate.Options{
		Locale:  cfg.Library.Locale,
		Numeric: cfg.Library.NumericCollation,
	})
	if err != nil {
		db.Close()
		logCloser.Close()
		return nil, err
	}

	durations := cache.NewDurationCache(durationCacheTTL)
	syncer := reconcile.New(db, fsprobe.NewOS(), metadata.NewExtractor(logger, durations), collator, logger,
		reconcile.Options{
			Policy: reconcile.Policy{
				ShowHidden:  cfg.Library.ShowHidden,
				KeepDeleted: cfg.Library.KeepDeleted,
			},
			AudioExtensions: cfg.Library.SupportedFormats,
		})
	syncer.SetNotifier(logNotifier{logger})

	logger.WithFields(logrus.Fields{
		"database":     cfg.Database.Path,
		"locale":       collator.Locale().String(),
		"show_hidden":  cfg.Library.ShowHidden,
		"keep_deleted": cfg.Library.KeepDeleted,
	}).Debug("Catalog opened")

	return &app{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		syncer:    syncer,
		durations: durations,
		logCloser: logCloser,
	}, nil
}

// Close releases everything newApp opened
func (a *app) Close() error {
	a.durations.Close()
	return multierr.Combine(a.db.Close(), a.logCloser.Close())
}

// logNotifier surfaces advisory messages through the logger
type logNotifier struct {
	logger *logrus.Logger
}

func (n logNotifier) Notify(message string) {
	n.logger.Warn(message)
}

// logListener reports finished passes
type logListener struct {
	logger *logrus.Logger
}

func (l logListener) SynchronizationFinished() {
	l.logger.Debug("Catalog synchronized")
}

// printReport writes a one-line summary of a pass, the failed inserts and
// any other advisory error
func printReport(w io.Writer, r *reconcile.Report) {
	fmt.Fprintf(w, "albums: +%d ~%d -%d  tracks: +%d ~%d -%d\n",
		r.AlbumsCreated, r.AlbumsUpdated, r.AlbumsDeleted,
		r.TracksCreated, r.TracksUpdated, r.TracksDeleted)
	if msg := r.Message(); msg != "" {
		fmt.Fprintln(w, msg)
	}
	for _, err := range r.Errors() {
		var insertErr *reconcile.InsertError
		if errors.As(err, &insertErr) {
			continue
		}
		fmt.Fprintln(w, "warning:", err)
	}
}
