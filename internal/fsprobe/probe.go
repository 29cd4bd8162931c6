// Package fsprobe lists directory entries for the reconciler. Listings are
// filtered by predicates over readability, entry type and the hidden-name
// rule; a missing path lists as empty rather than failing.
package fsprobe

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// HiddenPrefix marks dotfile-style hidden entries
const HiddenPrefix = "."

// DefaultAudioExtensions is the supported-audio allowlist, without dots
var DefaultAudioExtensions = []string{
	"mp3", "wma", "ogg", "wav", "flac", "m4a", "m4b", "aac", "3gp", "gsm", "mid", "mkv", "opus",
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true, ".webp": true,
}

// coverPrefixes rank preferred cover file names, best first
var coverPrefixes = []string{"cover", "folder", "front", "album"}

// Entry is a single child of a listed directory
type Entry struct {
	Name     string
	Path     string
	IsDir    bool
	Readable bool
}

// Hidden reports whether the entry name carries the hidden marker
func (e Entry) Hidden() bool {
	return IsHidden(e.Name)
}

// Predicate decides whether an entry is kept in a listing
type Predicate func(Entry) bool

// IsHidden reports whether a base name is hidden
func IsHidden(name string) bool {
	return strings.HasPrefix(name, HiddenPrefix)
}

// Probe inspects a filesystem. The zero value is not usable; use New or NewOS.
type Probe struct {
	fs afero.Fs
}

// New wraps an afero filesystem
func New(fsys afero.Fs) *Probe {
	return &Probe{fs: fsys}
}

// NewOS returns a probe over the host filesystem
func NewOS() *Probe {
	return New(afero.NewOsFs())
}

// ListEntries returns the immediate children of path accepted by keep, sorted
// by name. A missing path yields an empty listing and no error; other
// failures (permission denied on path itself, path is a file) are returned.
func (p *Probe) ListEntries(path string, keep Predicate) ([]Entry, error) {
	infos, err := afero.ReadDir(p.fs, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		childPath := filepath.Join(path, info.Name())
		isDir := info.IsDir()
		if info.Mode()&os.ModeSymlink != 0 {
			// follow links so linked album folders and files are seen as their targets
			if target, err := p.fs.Stat(childPath); err == nil {
				isDir = target.IsDir()
			}
		}
		e := Entry{
			Name:     info.Name(),
			Path:     childPath,
			IsDir:    isDir,
			Readable: p.readable(childPath),
		}
		if keep == nil || keep(e) {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// Stat describes a single path. ok is false when the path does not exist.
func (p *Probe) Stat(path string) (entry Entry, ok bool, err error) {
	info, err := p.fs.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	return Entry{
		Name:     filepath.Base(path),
		Path:     path,
		IsDir:    info.IsDir(),
		Readable: p.readable(path),
	}, true, nil
}

// FindCoverImage returns the name of the best cover image directly inside
// albumPath, or "" when there is none.
func (p *Probe) FindCoverImage(albumPath string, showHidden bool) string {
	images, err := p.ListEntries(albumPath, func(e Entry) bool {
		if e.IsDir || !e.Readable {
			return false
		}
		if !showHidden && e.Hidden() {
			return false
		}
		return imageExtensions[strings.ToLower(filepath.Ext(e.Name))]
	})
	if err != nil || len(images) == 0 {
		return ""
	}

	names := make([]string, len(images))
	for i, img := range images {
		names[i] = img.Name
	}
	sort.Strings(names)

	for _, prefix := range coverPrefixes {
		for _, name := range names {
			if strings.HasPrefix(strings.ToLower(name), prefix) {
				return name
			}
		}
	}
	return names[0]
}

func (p *Probe) readable(path string) bool {
	f, err := p.fs.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// AlbumDirs keeps readable directories, honoring the hidden rule
func AlbumDirs(showHidden bool) Predicate {
	return func(e Entry) bool {
		return e.Readable && e.IsDir && (showHidden || !e.Hidden())
	}
}

// AudioFiles keeps readable regular files whose extension is in exts
// (case-insensitive, with or without the leading dot), honoring the hidden rule.
func AudioFiles(showHidden bool, exts []string) Predicate {
	allowed := NormalizeExtensions(exts)
	return func(e Entry) bool {
		if !showHidden && e.Hidden() {
			return false
		}
		if e.IsDir || !e.Readable {
			return false
		}
		return allowed[strings.ToLower(filepath.Ext(e.Name))]
	}
}

// NormalizeExtensions turns "mp3" / ".MP3" style values into a ".mp3" lookup set
func NormalizeExtensions(exts []string) map[string]bool {
	set := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = true
	}
	return set
}

// Names extracts entry names
func Names(entries []Entry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}
