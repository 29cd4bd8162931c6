package reconcile

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"audioanchor/internal/fsprobe"
	"audioanchor/internal/lock"
	"audioanchor/pkg/models"
)

// Options configures a Synchronizer
type Options struct {
	Policy Policy
	// AudioExtensions is the allowlist of track extensions, defaulting to
	// fsprobe.DefaultAudioExtensions
	AudioExtensions []string
}

// Synchronizer drives reconciliation passes over registered directories.
// Passes over the same directory are serialized; concurrent RefreshAll
// calls share one pass.
type Synchronizer struct {
	catalog    Catalog
	files      FileLister
	durations  DurationProber
	collator   Comparator
	extensions []string
	logger     *logrus.Logger

	locks lock.Locker
	group singleflight.Group

	flightMu sync.Mutex
	flight   *flight
	flights  int

	mu       sync.RWMutex
	policy   Policy
	listener Listener
	notifier Notifier
}

// New creates a Synchronizer
func New(catalog Catalog, files FileLister, durations DurationProber, collator Comparator, logger *logrus.Logger, opts Options) *Synchronizer {
	exts := opts.AudioExtensions
	if len(exts) == 0 {
		exts = fsprobe.DefaultAudioExtensions
	}
	return &Synchronizer{
		catalog:    catalog,
		files:      files,
		durations:  durations,
		collator:   collator,
		extensions: exts,
		logger:     logger,
		locks:      lock.NewLocker(),
		policy:     opts.Policy,
	}
}

// SetListener registers the single completion listener; nil removes it
func (s *Synchronizer) SetListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

// SetNotifier registers where advisory messages go; nil removes it
func (s *Synchronizer) SetNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

// SetPolicy replaces the retention policy used by subsequent passes
func (s *Synchronizer) SetPolicy(p Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = p
}

// Policy returns the current retention policy
func (s *Synchronizer) Policy() Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// AddDirectory registers a directory and populates it immediately
func (s *Synchronizer) AddDirectory(ctx context.Context, path string, dirType models.DirectoryType) (models.Directory, *Report, error) {
	if strings.TrimSpace(path) == "" {
		return models.Directory{}, nil, fmt.Errorf("%w: empty path", ErrInvalidDirectory)
	}
	if dirType != models.ParentDir && dirType != models.SingleDir {
		return models.Directory{}, nil, fmt.Errorf("%w: unknown type %d", ErrInvalidDirectory, dirType)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return models.Directory{}, nil, fmt.Errorf("%w: %v", ErrInvalidDirectory, err)
	}

	dir := models.Directory{Path: filepath.Clean(abs), Type: dirType}
	dir.ID, err = s.catalog.InsertDirectory(ctx, dir.Path, dir.Type)
	if err != nil {
		return models.Directory{}, nil, fmt.Errorf("register directory %s: %w", dir.Path, err)
	}

	s.logger.WithFields(logrus.Fields{
		"directory_id": dir.ID,
		"path":         dir.Path,
		"type":         dir.Type.String(),
	}).Info("Directory registered")

	report, err := s.run(ctx, []models.Directory{dir})
	return dir, report, err
}

// RefreshAll reconciles every registered directory in catalog order. Calls
// made while a refresh is running wait for it and receive its report.
//
// The shared pass is not bound to any single caller: a caller whose ctx ends
// returns ctx.Err() with an empty report while the others keep waiting. The
// pass itself is cancelled once every waiting caller has gone.
func (s *Synchronizer) RefreshAll(ctx context.Context) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return &Report{PassID: uuid.New()}, err
	}

	f := s.joinFlight(ctx)
	defer s.leaveFlight(f)

	ch := s.group.DoChan(f.key, func() (interface{}, error) {
		dirs, err := s.catalog.ListDirectories(f.ctx)
		if err != nil {
			return nil, fmt.Errorf("list directories: %w", err)
		}
		return s.run(f.ctx, dirs)
	})

	select {
	case res := <-ch:
		if res.Shared {
			s.logger.Debug("Joined a refresh already in progress")
		}
		report, _ := res.Val.(*Report)
		return report, res.Err
	case <-ctx.Done():
		s.logger.Debug("Stopped waiting for a shared refresh")
		return &Report{PassID: uuid.New()}, ctx.Err()
	}
}

// flight is one shared RefreshAll pass and the callers waiting on it
type flight struct {
	key     string
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func (s *Synchronizer) joinFlight(ctx context.Context) *flight {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()

	if s.flight == nil {
		s.flights++
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s.flight = &flight{
			key:    fmt.Sprintf("refresh-all-%d", s.flights),
			ctx:    fctx,
			cancel: cancel,
		}
	}
	s.flight.waiters++
	return s.flight
}

// leaveFlight drops a waiter; the last one out cancels the pass if it is
// still running, and later callers start a fresh one.
func (s *Synchronizer) leaveFlight(f *flight) {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if s.flight == f {
		s.flight = nil
	}
}

// RefreshDirectory reconciles one registered directory
func (s *Synchronizer) RefreshDirectory(ctx context.Context, id int64) (*Report, error) {
	dir, err := s.catalog.GetDirectory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load directory %d: %w", id, err)
	}
	return s.run(ctx, []models.Directory{dir})
}

// run reconciles dirs in order and fires the completion signal once. A
// cancelled context stops between directories or albums; the partial
// report is returned with ctx.Err() and no completion signal.
func (s *Synchronizer) run(ctx context.Context, dirs []models.Directory) (*Report, error) {
	s.mu.RLock()
	p := &pass{
		syncer: s,
		policy: s.policy,
		report: &Report{PassID: uuid.New()},
	}
	listener, notifier := s.listener, s.notifier
	s.mu.RUnlock()

	p.log = s.logger.WithField("pass_id", p.report.PassID.String())
	start := time.Now()
	p.log.WithFields(logrus.Fields{
		"directories":  len(dirs),
		"show_hidden":  p.policy.ShowHidden,
		"keep_deleted": p.policy.KeepDeleted,
	}).Info("Synchronization started")

	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return p.report, err
		}
		if err := s.runDirectory(ctx, p, dir); err != nil {
			p.log.WithError(err).Warn("Synchronization cancelled")
			return p.report, err
		}
	}

	p.log.WithFields(logrus.Fields{
		"mutations":    p.report.Mutations(),
		"failed_paths": len(p.report.FailedPaths),
		"duration":     time.Since(start),
	}).Info("Synchronization finished")

	if msg := p.report.Message(); msg != "" && notifier != nil {
		notifier.Notify(msg)
	}
	if listener != nil {
		listener.SynchronizationFinished()
	}
	return p.report, nil
}

func (s *Synchronizer) runDirectory(ctx context.Context, p *pass, dir models.Directory) error {
	unlock, err := s.locks.ContextLock(ctx, dir.ID)
	if err != nil {
		return err
	}
	defer unlock.Unlock()

	before := p.report.Counts
	if err := p.reconcileDirectory(ctx, dir); err != nil {
		return err
	}
	p.report.Directories++

	delta := p.report.Counts.sub(before)
	p.log.WithFields(logrus.Fields{
		"directory_id":   dir.ID,
		"path":           dir.Path,
		"albums_created": delta.AlbumsCreated,
		"albums_updated": delta.AlbumsUpdated,
		"albums_deleted": delta.AlbumsDeleted,
		"tracks_created": delta.TracksCreated,
		"tracks_updated": delta.TracksUpdated,
		"tracks_deleted": delta.TracksDeleted,
	}).Info("Directory synchronized")
	return nil
}

// pass carries the state of one synchronization call
type pass struct {
	syncer *Synchronizer
	policy Policy
	report *Report
	log    *logrus.Entry
}
