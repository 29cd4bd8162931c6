package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"audioanchor/internal/fsprobe"
	"audioanchor/pkg/models"
)

// ErrInvalidDirectory is returned when a directory cannot be registered
var ErrInvalidDirectory = errors.New("invalid directory")

// Origin tags where a name was seen during a track merge
type Origin uint8

const (
	OnDiskOnly Origin = 1 << iota
	InCatalogOnly
	Both = OnDiskOnly | InCatalogOnly
)

func (o Origin) String() string {
	switch o {
	case OnDiskOnly:
		return "disk"
	case InCatalogOnly:
		return "catalog"
	case Both:
		return "both"
	default:
		return "none"
	}
}

// Policy holds the retention options read at the start of every pass
type Policy struct {
	// ShowHidden includes dot-prefixed entries
	ShowHidden bool
	// KeepDeleted retains catalog rows whose file or folder vanished
	KeepDeleted bool
}

// shouldDelete decides the fate of a catalog row with no backing entry.
// Hidden names are always dropped while hidden entries are not shown.
func (p Policy) shouldDelete(name string) bool {
	return !p.KeepDeleted || (!p.ShowHidden && fsprobe.IsHidden(name))
}

// Catalog is the persistent store reconciliation reads and writes
type Catalog interface {
	InsertDirectory(ctx context.Context, path string, dirType models.DirectoryType) (int64, error)
	ListDirectories(ctx context.Context) ([]models.Directory, error)
	GetDirectory(ctx context.Context, id int64) (models.Directory, error)

	InsertAlbum(ctx context.Context, album models.Album) (int64, error)
	UpdateAlbum(ctx context.Context, album models.Album) error
	DeleteAlbum(ctx context.Context, id int64) error
	ListAlbumsByDirectory(ctx context.Context, directoryID int64) ([]models.Album, error)

	InsertAudioFile(ctx context.Context, file models.AudioFile) (int64, error)
	UpdateAudioFileSortIndex(ctx context.Context, id int64, sortIndex int) error
	DeleteAudioFile(ctx context.Context, id int64) error
	ListAudioFilesByAlbum(ctx context.Context, albumID int64) ([]models.AudioFile, error)
}

// FileLister lists and inspects the filesystem
type FileLister interface {
	ListEntries(path string, keep fsprobe.Predicate) ([]fsprobe.Entry, error)
	Stat(path string) (fsprobe.Entry, bool, error)
	FindCoverImage(albumPath string, showHidden bool) string
}

// DurationProber looks up track lengths in milliseconds
type DurationProber interface {
	ProbeDuration(path string) (int64, error)
}

// Comparator orders file names. It must be a total order.
type Comparator interface {
	Compare(a, b string) int
}

// Listener is told once when a synchronization call has finished
type Listener interface {
	SynchronizationFinished()
}

// Notifier delivers the human-readable advisory message of a pass
type Notifier interface {
	Notify(message string)
}

// InsertError records one path the catalog refused to insert
type InsertError struct {
	Path string
	Err  error
}

func (e *InsertError) Error() string {
	return fmt.Sprintf("insert %s: %v", e.Path, e.Err)
}

func (e *InsertError) Unwrap() error {
	return e.Err
}

// Counts tallies catalog mutations
type Counts struct {
	AlbumsCreated int `json:"albumsCreated"`
	AlbumsUpdated int `json:"albumsUpdated"`
	AlbumsDeleted int `json:"albumsDeleted"`
	TracksCreated int `json:"tracksCreated"`
	TracksUpdated int `json:"tracksUpdated"`
	TracksDeleted int `json:"tracksDeleted"`
}

// Total sums every mutation
func (c Counts) Total() int {
	return c.AlbumsCreated + c.AlbumsUpdated + c.AlbumsDeleted +
		c.TracksCreated + c.TracksUpdated + c.TracksDeleted
}

func (c Counts) sub(o Counts) Counts {
	return Counts{
		AlbumsCreated: c.AlbumsCreated - o.AlbumsCreated,
		AlbumsUpdated: c.AlbumsUpdated - o.AlbumsUpdated,
		AlbumsDeleted: c.AlbumsDeleted - o.AlbumsDeleted,
		TracksCreated: c.TracksCreated - o.TracksCreated,
		TracksUpdated: c.TracksUpdated - o.TracksUpdated,
		TracksDeleted: c.TracksDeleted - o.TracksDeleted,
	}
}

// Report summarizes one synchronization call
type Report struct {
	PassID      uuid.UUID `json:"passId"`
	Directories int       `json:"directories"`
	Counts
	// FailedPaths lists every path whose insert failed, in walk order
	FailedPaths []string `json:"failedPaths,omitempty"`
	// Err aggregates advisory errors; the pass completed regardless
	Err error `json:"-"`
}

// Mutations returns the number of catalog rows created, updated or deleted
func (r *Report) Mutations() int {
	return r.Counts.Total()
}

// Message returns the advisory text for the user, or "" when every insert
// succeeded.
func (r *Report) Message() string {
	if len(r.FailedPaths) == 0 {
		return ""
	}
	return "Could not add to library: " + strings.Join(r.FailedPaths, ", ")
}

// Errors returns the individual advisory errors
func (r *Report) Errors() []error {
	return multierr.Errors(r.Err)
}

func (r *Report) advise(err error) {
	r.Err = multierr.Append(r.Err, err)
}

func (r *Report) insertFailed(path string, err error) {
	r.FailedPaths = append(r.FailedPaths, path)
	r.advise(&InsertError{Path: path, Err: err})
}
