package reconcile

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audioanchor/internal/cache"
	"audioanchor/internal/collate"
	"audioanchor/internal/database"
	"audioanchor/internal/fsprobe"
	"audioanchor/internal/metadata"
	"audioanchor/pkg/models"
)

func writeSilence(t *testing.T, path string, seconds int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	const rate = 8000
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           make([]int, rate*seconds),
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
}

func TestSynchronizerAgainstSQLite(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	library := filepath.Join(root, "library")

	writeSilence(t, filepath.Join(library, "Album 1", "Track 10.wav"), 1)
	writeSilence(t, filepath.Join(library, "Album 1", "Track 9.wav"), 2)
	writeSilence(t, filepath.Join(library, "Album 2", "intro.wav"), 1)
	require.NoError(t, os.WriteFile(filepath.Join(library, "Album 2", "cover.jpg"), []byte("jpeg"), 0o644))

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db, err := database.NewDatabase(filepath.Join(root, "catalog.db"), 0, logger)
	require.NoError(t, err)
	defer db.Close()

	durations := cache.NewDurationCache(time.Minute)
	defer durations.Close()

	s := New(db, fsprobe.NewOS(), metadata.NewExtractor(logger, durations),
		collate.MustNew(collate.Options{Locale: "en", Numeric: true}), logger, Options{})

	dir, report, err := s.AddDirectory(ctx, library, models.ParentDir)
	require.NoError(t, err)
	assert.Equal(t, 2, report.AlbumsCreated)
	assert.Equal(t, 3, report.TracksCreated)

	albums, err := db.ListAlbumsByDirectory(ctx, dir.ID)
	require.NoError(t, err)
	require.Len(t, albums, 2)
	assert.Equal(t, "Album 1", albums[0].Title)
	assert.Equal(t, "cover.jpg", albums[1].CoverPath)

	files, err := db.ListAudioFilesByAlbum(ctx, albums[0].ID)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "Track 9.wav", files[0].Title)
	assert.Equal(t, 1, files[0].SortIndex)
	assert.InDelta(t, 2000, files[0].DurationMs, 5)
	assert.Equal(t, "Track 10.wav", files[1].Title)
	assert.Equal(t, 2, files[1].SortIndex)

	require.NoError(t, db.UpdateCompletedTime(ctx, files[1].ID, 500))

	again, err := s.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Mutations())

	require.NoError(t, os.Remove(filepath.Join(library, "Album 1", "Track 9.wav")))
	require.NoError(t, os.RemoveAll(filepath.Join(library, "Album 2")))

	final, err := s.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, final.AlbumsDeleted)
	assert.Equal(t, 1, final.TracksDeleted)

	files, err = db.ListAudioFilesByAlbum(ctx, albums[0].ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, 1, files[0].SortIndex)
	assert.Equal(t, int64(500), files[0].CompletedTimeMs)

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, database.Stats{Directories: 1, Albums: 1, AudioFiles: 1}, stats)
}
