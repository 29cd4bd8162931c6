package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirectoryTypeRoundTrip(t *testing.T) {
	tests := []struct {
		in   string
		want DirectoryType
		ok   bool
	}{
		{"parent", ParentDir, true},
		{"", ParentDir, true},
		{"single", SingleDir, true},
		{"flat", ParentDir, false},
		{"Single", ParentDir, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDirectoryType(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "parent", ParentDir.String())
	assert.Equal(t, "single", SingleDir.String())
	assert.Equal(t, "unknown", DirectoryType(7).String())
}

func TestAlbumCoverImagePath(t *testing.T) {
	album := Album{Path: "/books/Dune"}
	assert.Empty(t, album.CoverImagePath())

	album.CoverPath = "cover.jpg"
	assert.Equal(t, "/books/Dune/cover.jpg", album.CoverImagePath())
}

func TestAudioFilePath(t *testing.T) {
	f := AudioFile{Title: "part 1.mp3"}
	assert.Equal(t, "/books/Dune/part 1.mp3", f.Path("/books/Dune"))
	assert.Equal(t, "/books/Dune/part 1.mp3", f.Path("/books/Dune/"))
}
