// Package watcher triggers catalog refreshes when registered directories
// change on disk.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"audioanchor/internal/reconcile"
	"audioanchor/pkg/models"
)

// Refresher runs a full reconciliation pass
type Refresher interface {
	RefreshAll(ctx context.Context) (*reconcile.Report, error)
}

// DirectoryLister returns the registered roots to watch
type DirectoryLister interface {
	ListDirectories(ctx context.Context) ([]models.Directory, error)
}

// Options tunes a Watcher
type Options struct {
	// Debounce is the quiet period after the last event before refreshing
	Debounce time.Duration
	// Interval forces a refresh periodically; zero disables it
	Interval time.Duration
	// IgnoreHidden drops events for dot-prefixed names
	IgnoreHidden bool
}

// Watcher watches every registered root and its album folders. Bursts of
// events are coalesced into one RefreshAll after Debounce.
type Watcher struct {
	refresher Refresher
	dirs      DirectoryLister
	opts      Options
	logger    *logrus.Logger

	fsw     *fsnotify.Watcher
	watched map[string]bool
	trigger chan struct{}
}

// New creates a watcher. Run must be called to start it.
func New(refresher Refresher, dirs DirectoryLister, opts Options, logger *logrus.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	return &Watcher{
		refresher: refresher,
		dirs:      dirs,
		opts:      opts,
		logger:    logger,
		fsw:       fsw,
		watched:   map[string]bool{},
		trigger:   make(chan struct{}, 1),
	}, nil
}

// Trigger schedules a refresh as if a filesystem event had arrived
func (w *Watcher) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Run arms the watches and dispatches events until ctx is done
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	if err := w.rearm(ctx); err != nil {
		return err
	}
	w.logger.WithField("watched", len(w.watched)).Info("File watcher started")

	var debounce *time.Timer
	var debounceC <-chan time.Time
	schedule := func() {
		if debounce == nil {
			debounce = time.NewTimer(w.opts.Debounce)
		} else {
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(w.opts.Debounce)
		}
		debounceC = debounce.C
	}

	var tickC <-chan time.Time
	if w.opts.Interval > 0 {
		ticker := time.NewTicker(w.opts.Interval)
		defer ticker.Stop()
		tickC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("File watcher stopped")
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.handleEvent(event) {
				schedule()
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Error("File watcher error")

		case <-w.trigger:
			schedule()

		case <-debounceC:
			debounceC = nil
			w.refresh(ctx)

		case <-tickC:
			w.logger.Debug("Periodic refresh")
			w.refresh(ctx)
		}
	}
}

// handleEvent filters an event and reports whether it warrants a refresh.
// New folders are watched at once so files copied into them are seen.
func (w *Watcher) handleEvent(event fsnotify.Event) bool {
	name := filepath.Base(event.Name)
	if strings.HasSuffix(name, ".tmp") || strings.HasSuffix(name, ".part") {
		return false
	}
	if w.opts.IgnoreHidden && strings.HasPrefix(name, ".") {
		return false
	}
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) {
		return false
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.watch(event.Name)
		}
	}

	w.logger.WithFields(logrus.Fields{
		"path": event.Name,
		"op":   event.Op.String(),
	}).Debug("Filesystem change")
	return true
}

func (w *Watcher) refresh(ctx context.Context) {
	report, err := w.refresher.RefreshAll(ctx)
	if err != nil {
		w.logger.WithError(err).Error("Refresh after filesystem change failed")
		return
	}
	if report != nil && report.Mutations() > 0 {
		w.logger.WithFields(logrus.Fields{
			"pass_id":   report.PassID.String(),
			"mutations": report.Mutations(),
		}).Info("Catalog updated from filesystem changes")
	}
	if err := w.rearm(ctx); err != nil {
		w.logger.WithError(err).Warn("Failed to re-arm watches")
	}
}

// rearm brings the watch set in line with the registered directories: each
// root, plus its album folders for parent directories.
func (w *Watcher) rearm(ctx context.Context) error {
	dirs, err := w.dirs.ListDirectories(ctx)
	if err != nil {
		return err
	}

	want := map[string]bool{}
	for _, d := range dirs {
		want[d.Path] = true
		if d.Type != models.ParentDir {
			continue
		}
		entries, err := os.ReadDir(d.Path)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				want[filepath.Join(d.Path, e.Name())] = true
			}
		}
	}

	for path := range w.watched {
		if !want[path] {
			_ = w.fsw.Remove(path)
			delete(w.watched, path)
		}
	}
	for path := range want {
		if !w.watched[path] {
			w.watch(path)
		}
	}
	return nil
}

func (w *Watcher) watch(path string) {
	if w.watched[path] {
		return
	}
	if err := w.fsw.Add(path); err != nil {
		// missing roots are normal; they are retried on the next re-arm
		w.logger.WithError(err).WithField("directory", path).Debug("Cannot watch directory")
		return
	}
	w.watched[path] = true
}
