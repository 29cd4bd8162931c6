package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"audioanchor/internal/collate"
	"audioanchor/internal/fsprobe"
	"audioanchor/pkg/models"
)

var errDiskFull = errors.New("database or disk is full")

// fakeCatalog is an in-memory Catalog with failure injection
type fakeCatalog struct {
	mu     sync.Mutex
	nextID int64

	dirs   []models.Directory
	albums map[int64]models.Album
	files  map[int64]models.AudioFile

	// failInserts holds album paths and audio file titles whose insert fails
	failInserts map[string]bool
	writes      int

	// listGate, when set, holds ListDirectories until it is closed;
	// listing is signalled when a call starts waiting on it
	listGate chan struct{}
	listing  chan struct{}
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		albums:      map[int64]models.Album{},
		files:       map[int64]models.AudioFile{},
		failInserts: map[string]bool{},
	}
}

func (c *fakeCatalog) id() int64 {
	c.nextID++
	return c.nextID
}

func (c *fakeCatalog) InsertDirectory(_ context.Context, path string, t models.DirectoryType) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.dirs {
		if d.Path == path {
			return 0, fmt.Errorf("directory %s exists", path)
		}
	}
	d := models.Directory{ID: c.id(), Path: path, Type: t}
	c.dirs = append(c.dirs, d)
	return d.ID, nil
}

func (c *fakeCatalog) ListDirectories(context.Context) ([]models.Directory, error) {
	c.mu.Lock()
	gate, listing := c.listGate, c.listing
	c.mu.Unlock()
	if gate != nil {
		select {
		case listing <- struct{}{}:
		default:
		}
		<-gate
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Directory(nil), c.dirs...), nil
}

func (c *fakeCatalog) GetDirectory(_ context.Context, id int64) (models.Directory, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.dirs {
		if d.ID == id {
			return d, nil
		}
	}
	return models.Directory{}, errors.New("not found")
}

func (c *fakeCatalog) InsertAlbum(_ context.Context, a models.Album) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failInserts[a.Path] {
		return 0, errDiskFull
	}
	for _, existing := range c.albums {
		if existing.DirectoryID == a.DirectoryID && existing.Path == a.Path {
			return 0, fmt.Errorf("album %s exists", a.Path)
		}
	}
	a.ID = c.id()
	c.albums[a.ID] = a
	c.writes++
	return a.ID, nil
}

func (c *fakeCatalog) UpdateAlbum(_ context.Context, a models.Album) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.albums[a.ID]; ok {
		existing.Title = a.Title
		existing.CoverPath = a.CoverPath
		c.albums[a.ID] = existing
	}
	c.writes++
	return nil
}

func (c *fakeCatalog) DeleteAlbum(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.albums, id)
	for fid, f := range c.files {
		if f.AlbumID == id {
			delete(c.files, fid)
		}
	}
	c.writes++
	return nil
}

func (c *fakeCatalog) ListAlbumsByDirectory(_ context.Context, dirID int64) ([]models.Album, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Album
	for _, a := range c.albums {
		if a.DirectoryID == dirID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *fakeCatalog) InsertAudioFile(_ context.Context, f models.AudioFile) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failInserts[f.Title] {
		return 0, errDiskFull
	}
	for _, existing := range c.files {
		if existing.AlbumID == f.AlbumID && existing.Title == f.Title {
			return 0, fmt.Errorf("audio file %s exists", f.Title)
		}
	}
	f.ID = c.id()
	c.files[f.ID] = f
	c.writes++
	return f.ID, nil
}

func (c *fakeCatalog) UpdateAudioFileSortIndex(_ context.Context, id int64, idx int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.files[id]; ok {
		f.SortIndex = idx
		c.files[id] = f
	}
	c.writes++
	return nil
}

func (c *fakeCatalog) DeleteAudioFile(_ context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.files, id)
	c.writes++
	return nil
}

func (c *fakeCatalog) ListAudioFilesByAlbum(_ context.Context, albumID int64) ([]models.AudioFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.AudioFile
	for _, f := range c.files {
		if f.AlbumID == albumID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortIndex != out[j].SortIndex {
			return out[i].SortIndex < out[j].SortIndex
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// albumByTitle returns the album with the given title
func (c *fakeCatalog) albumByTitle(t *testing.T, title string) models.Album {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range c.albums {
		if a.Title == title {
			return a
		}
	}
	t.Fatalf("album %q not in catalog", title)
	return models.Album{}
}

func (c *fakeCatalog) albumTitles() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var titles []string
	for _, a := range c.albums {
		titles = append(titles, a.Title)
	}
	sort.Strings(titles)
	return titles
}

// tracks returns title -> row for one album
func (c *fakeCatalog) tracks(t *testing.T, albumTitle string) map[string]models.AudioFile {
	t.Helper()
	album := c.albumByTitle(t, albumTitle)
	rows, _ := c.ListAudioFilesByAlbum(context.Background(), album.ID)
	out := make(map[string]models.AudioFile, len(rows))
	for _, r := range rows {
		out[r.Title] = r
	}
	return out
}

// orderedTitles returns the titles of an album ordered by sort index
func (c *fakeCatalog) orderedTitles(t *testing.T, albumTitle string) []string {
	t.Helper()
	album := c.albumByTitle(t, albumTitle)
	rows, _ := c.ListAudioFilesByAlbum(context.Background(), album.ID)
	titles := make([]string, len(rows))
	for i, r := range rows {
		titles[i] = r.Title
	}
	return titles
}

func (c *fakeCatalog) setCompleted(id int64, ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.files[id]
	f.CompletedTimeMs = ms
	c.files[id] = f
}

// fakeProber returns a fixed duration per file name; unknown names fail
type fakeProber struct {
	durations map[string]int64
	fallback  int64
}

func (p fakeProber) ProbeDuration(path string) (int64, error) {
	if ms, ok := p.durations[path]; ok {
		if ms < 0 {
			return 0, errors.New("corrupt header")
		}
		return ms, nil
	}
	return p.fallback, nil
}

type countingListener struct {
	mu    sync.Mutex
	calls int
}

func (l *countingListener) SynchronizationFinished() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
}

type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) Notify(msg string) {
	n.messages = append(n.messages, msg)
}

// failingLister wraps a FileLister and fails listings of one path
type failingLister struct {
	FileLister
	path string
}

func (f failingLister) ListEntries(path string, keep fsprobe.Predicate) ([]fsprobe.Entry, error) {
	if path == f.path {
		return nil, errors.New("input/output error")
	}
	return f.FileLister.ListEntries(path, keep)
}

// holdListings makes ListDirectories block until the returned gate is closed
func (c *fakeCatalog) holdListings() (gate chan struct{}, listing chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listGate = make(chan struct{})
	c.listing = make(chan struct{}, 1)
	return c.listGate, c.listing
}

// flightWaiters reports how many callers wait on the current shared refresh
func (s *Synchronizer) flightWaiters() int {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()
	if s.flight == nil {
		return 0
	}
	return s.flight.waiters
}

type harness struct {
	fs       afero.Fs
	catalog  *fakeCatalog
	prober   *fakeProber
	sync     *Synchronizer
	listener *countingListener
	notifier *recordingNotifier
}

func newHarness(t *testing.T, policy Policy, files ...string) *harness {
	t.Helper()
	h := &harness{
		fs:       afero.NewMemMapFs(),
		catalog:  newFakeCatalog(),
		prober:   &fakeProber{durations: map[string]int64{}, fallback: 1000},
		listener: &countingListener{},
		notifier: &recordingNotifier{},
	}
	for _, f := range files {
		h.write(t, f)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	h.sync = New(h.catalog, fsprobe.New(h.fs), h.prober,
		collate.MustNew(collate.Options{Locale: "en", Numeric: true}), logger, Options{Policy: policy})
	h.sync.SetListener(h.listener)
	h.sync.SetNotifier(h.notifier)
	return h
}

func (h *harness) write(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(h.fs, path, []byte("audio"), 0o644))
}

func (h *harness) remove(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, h.fs.RemoveAll(path))
}

func (h *harness) add(t *testing.T, path string, dirType models.DirectoryType) (models.Directory, *Report) {
	t.Helper()
	dir, report, err := h.sync.AddDirectory(context.Background(), path, dirType)
	require.NoError(t, err)
	return dir, report
}

func (h *harness) refresh(t *testing.T) *Report {
	t.Helper()
	report, err := h.sync.RefreshAll(context.Background())
	require.NoError(t, err)
	return report
}
