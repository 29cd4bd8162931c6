package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"audioanchor/pkg/models"
)

// InsertDirectory registers a root directory and returns its id. Registering
// the same path twice yields ErrDuplicate.
func (db *Database) InsertDirectory(ctx context.Context, path string, dirType models.DirectoryType) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		"INSERT INTO directories (path, type) VALUES (?, ?)", path, int(dirType))
	if err != nil {
		err = translateInsertError(err)
		db.logger.WithError(err).WithField("path", path).Error("Failed to insert directory")
		return 0, err
	}
	return result.LastInsertId()
}

// ListDirectories returns every registered directory in registration order
func (db *Database) ListDirectories(ctx context.Context) ([]models.Directory, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT id, path, type FROM directories ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dirs []models.Directory
	for rows.Next() {
		var d models.Directory
		var dirType int
		if err := rows.Scan(&d.ID, &d.Path, &dirType); err != nil {
			return nil, err
		}
		d.Type = models.DirectoryType(dirType)
		dirs = append(dirs, d)
	}
	return dirs, rows.Err()
}

// GetDirectory returns one directory by id
func (db *Database) GetDirectory(ctx context.Context, id int64) (models.Directory, error) {
	var d models.Directory
	var dirType int
	err := db.conn.QueryRowContext(ctx,
		"SELECT id, path, type FROM directories WHERE id = ?", id).Scan(&d.ID, &d.Path, &dirType)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Directory{}, fmt.Errorf("directory %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Directory{}, err
	}
	d.Type = models.DirectoryType(dirType)
	return d, nil
}

// DeleteDirectory unregisters a directory. Its albums and audio files are
// removed by the foreign key cascade.
func (db *Database) DeleteDirectory(ctx context.Context, id int64) error {
	result, err := db.conn.ExecContext(ctx, "DELETE FROM directories WHERE id = ?", id)
	if err != nil {
		db.logger.WithError(err).WithField("directory_id", id).Error("Failed to delete directory")
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("directory %d: %w", id, ErrNotFound)
	}
	return nil
}

// InsertAlbum stores a new album and returns its id
func (db *Database) InsertAlbum(ctx context.Context, album models.Album) (int64, error) {
	result, err := db.insertAlbumStmt.ExecContext(ctx, album.Title, album.Path, album.DirectoryID, album.CoverPath)
	if err != nil {
		return 0, translateInsertError(err)
	}
	return result.LastInsertId()
}

// UpdateAlbum persists the mutable album fields (title and cover). Updating
// a missing row is not an error.
func (db *Database) UpdateAlbum(ctx context.Context, album models.Album) error {
	_, err := db.updateAlbumStmt.ExecContext(ctx, album.Title, album.CoverPath, album.ID)
	return err
}

// DeleteAlbum removes an album and, through the cascade, its audio files.
// Deleting a missing row is not an error.
func (db *Database) DeleteAlbum(ctx context.Context, id int64) error {
	_, err := db.deleteAlbumStmt.ExecContext(ctx, id)
	return err
}

// ListAlbumsByDirectory returns the albums belonging to a directory
func (db *Database) ListAlbumsByDirectory(ctx context.Context, directoryID int64) ([]models.Album, error) {
	rows, err := db.listAlbumsStmt.QueryContext(ctx, directoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var albums []models.Album
	for rows.Next() {
		var a models.Album
		if err := rows.Scan(&a.ID, &a.Title, &a.Path, &a.DirectoryID, &a.CoverPath); err != nil {
			return nil, err
		}
		albums = append(albums, a)
	}
	return albums, rows.Err()
}

// GetAlbum returns one album by id
func (db *Database) GetAlbum(ctx context.Context, id int64) (models.Album, error) {
	var a models.Album
	err := db.conn.QueryRowContext(ctx,
		"SELECT id, title, path, directory_id, cover_path FROM albums WHERE id = ?", id).
		Scan(&a.ID, &a.Title, &a.Path, &a.DirectoryID, &a.CoverPath)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Album{}, fmt.Errorf("album %d: %w", id, ErrNotFound)
	}
	return a, err
}

// InsertAudioFile stores a new audio file and returns its id
func (db *Database) InsertAudioFile(ctx context.Context, file models.AudioFile) (int64, error) {
	result, err := db.insertAudioFileStmt.ExecContext(ctx,
		file.Title, file.AlbumID, file.DurationMs, file.CompletedTimeMs, file.SortIndex)
	if err != nil {
		return 0, translateInsertError(err)
	}
	return result.LastInsertId()
}

// UpdateAudioFileSortIndex changes only the sort position of a file
func (db *Database) UpdateAudioFileSortIndex(ctx context.Context, id int64, sortIndex int) error {
	_, err := db.updateSortIndexStmt.ExecContext(ctx, sortIndex, id)
	return err
}

// DeleteAudioFile removes one audio file. Deleting a missing row is not an error.
func (db *Database) DeleteAudioFile(ctx context.Context, id int64) error {
	_, err := db.deleteAudioFileStmt.ExecContext(ctx, id)
	return err
}

// ListAudioFilesByAlbum returns the files of an album ordered by sort index
func (db *Database) ListAudioFilesByAlbum(ctx context.Context, albumID int64) ([]models.AudioFile, error) {
	rows, err := db.listAudioFilesStmt.QueryContext(ctx, albumID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAudioFileRows(rows)
}

// GetAudioFile returns one audio file by id
func (db *Database) GetAudioFile(ctx context.Context, id int64) (models.AudioFile, error) {
	var f models.AudioFile
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, title, album_id, duration_ms, completed_time_ms, sort_index
		FROM audio_files WHERE id = ?`, id).
		Scan(&f.ID, &f.Title, &f.AlbumID, &f.DurationMs, &f.CompletedTimeMs, &f.SortIndex)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AudioFile{}, fmt.Errorf("audio file %d: %w", id, ErrNotFound)
	}
	return f, err
}

// UpdateCompletedTime records playback progress for a file. Reconciliation
// never calls this; it belongs to the playback host.
func (db *Database) UpdateCompletedTime(ctx context.Context, id int64, completedMs int64) error {
	result, err := db.updateCompletedStmt.ExecContext(ctx, completedMs, id)
	if err != nil {
		db.logger.WithError(err).WithField("audio_file_id", id).Error("Failed to update completed time")
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("audio file %d: %w", id, ErrNotFound)
	}
	return nil
}

// Stats holds catalog row counts
type Stats struct {
	Directories int `json:"directories"`
	Albums      int `json:"albums"`
	AudioFiles  int `json:"audioFiles"`
}

// Stats counts rows in each catalog table
func (db *Database) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := db.conn.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM directories),
			(SELECT COUNT(*) FROM albums),
			(SELECT COUNT(*) FROM audio_files)`).Scan(&s.Directories, &s.Albums, &s.AudioFiles)
	return s, err
}

// scanAudioFileRows scans audio_files result sets. Callers must have already
// deferred rows.Close().
func scanAudioFileRows(rows *sql.Rows) ([]models.AudioFile, error) {
	var files []models.AudioFile
	for rows.Next() {
		var f models.AudioFile
		if err := rows.Scan(&f.ID, &f.Title, &f.AlbumID, &f.DurationMs, &f.CompletedTimeMs, &f.SortIndex); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}
