package models

import "path/filepath"

// DirectoryType describes how a registered directory maps to albums
type DirectoryType int

const (
	// ParentDir means every immediate subdirectory is a distinct album
	ParentDir DirectoryType = iota
	// SingleDir means the directory itself is one album
	SingleDir
)

// String returns the lower-case name used in config, CLI output and JSON
func (t DirectoryType) String() string {
	switch t {
	case ParentDir:
		return "parent"
	case SingleDir:
		return "single"
	default:
		return "unknown"
	}
}

// ParseDirectoryType converts "parent" / "single" into a DirectoryType
func ParseDirectoryType(s string) (DirectoryType, bool) {
	switch s {
	case "parent", "":
		return ParentDir, true
	case "single":
		return SingleDir, true
	default:
		return ParentDir, false
	}
}

// Directory is a user-registered filesystem root
type Directory struct {
	ID   int64         `json:"id"`
	Path string        `json:"path"`
	Type DirectoryType `json:"type"`
}

// Album is one on-disk folder containing audio tracks
type Album struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Path        string `json:"path"`
	DirectoryID int64  `json:"directoryId"`
	CoverPath   string `json:"coverPath,omitempty"` // relative to Path
}

// CoverImagePath returns the absolute cover path, or "" when the album has no cover
func (a Album) CoverImagePath() string {
	if a.CoverPath == "" {
		return ""
	}
	return filepath.Join(a.Path, a.CoverPath)
}

// AudioFile is one on-disk audio file within an album
type AudioFile struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"` // file base name, unique per album
	AlbumID         int64  `json:"albumId"`
	DurationMs      int64  `json:"durationMs"`
	CompletedTimeMs int64  `json:"completedTimeMs"`
	SortIndex       int    `json:"sortIndex"`
}

// Path returns the absolute path of the file inside the given album folder
func (f AudioFile) Path(albumPath string) string {
	return filepath.Join(albumPath, f.Title)
}
