package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotFound is returned by single-row lookups and targeted updates when
	// the row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert violates a uniqueness constraint
	ErrDuplicate = errors.New("already exists")
)

// defaultMaxConnections caps the pool when the caller passes no limit
const defaultMaxConnections = 4

// Database wraps a *sql.DB holding the catalog: directories, albums and
// audio files. It is safe for concurrent use because the underlying *sql.DB
// is concurrency-safe.
type Database struct {
	conn   *sql.DB
	logger *logrus.Logger

	// Prepared statements for the reconciliation hot paths
	insertAlbumStmt     *sql.Stmt
	updateAlbumStmt     *sql.Stmt
	deleteAlbumStmt     *sql.Stmt
	listAlbumsStmt      *sql.Stmt
	insertAudioFileStmt *sql.Stmt
	updateSortIndexStmt *sql.Stmt
	deleteAudioFileStmt *sql.Stmt
	listAudioFilesStmt  *sql.Stmt
	updateCompletedStmt *sql.Stmt
}

// NewDatabase opens (or creates) a SQLite catalog at dbPath and ensures all
// tables and indices exist. Foreign keys are enabled on every pooled
// connection through the DSN so album and track rows cascade with their
// parents. maxConnections caps the pool; zero or less means
// defaultMaxConnections. Caller should Close() it when finished.
func NewDatabase(dbPath string, maxConnections int, logger *logrus.Logger) (*Database, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?mode=rwc&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works better with few writers
	if maxConnections <= 0 {
		maxConnections = defaultMaxConnections
	}
	conn.SetMaxOpenConns(maxConnections)
	conn.SetMaxIdleConns(min(2, maxConnections))
	conn.SetConnMaxLifetime(15 * time.Minute)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=memory;",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			logger.WithError(err).WithField("pragma", pragma).Warn("Failed to set pragma")
		}
	}

	db := &Database{
		conn:   conn,
		logger: logger,
	}

	if err := db.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if err := db.prepareStatements(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	logger.WithField("db_path", dbPath).Info("Catalog database initialized")
	return db, nil
}

// createTables creates tables and indices if they do not already exist, then
// executes any migrations. This is idempotent and safe to call multiple times.
func (db *Database) createTables() error {
	directoriesTable := `
	CREATE TABLE IF NOT EXISTS directories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL UNIQUE,
		type INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`

	albumsTable := `
	CREATE TABLE IF NOT EXISTS albums (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		path TEXT NOT NULL,
		directory_id INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (directory_id) REFERENCES directories(id) ON DELETE CASCADE,
		UNIQUE (directory_id, path)
	);`

	audioFilesTable := `
	CREATE TABLE IF NOT EXISTS audio_files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		album_id INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		completed_time_ms INTEGER NOT NULL DEFAULT 0,
		sort_index INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (album_id) REFERENCES albums(id) ON DELETE CASCADE,
		UNIQUE (album_id, title)
	);`

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_albums_directory ON albums(directory_id);",
		"CREATE INDEX IF NOT EXISTS idx_audio_files_album_order ON audio_files(album_id, sort_index);",
	}

	for _, table := range []string{directoriesTable, albumsTable, audioFilesTable} {
		if _, err := db.conn.Exec(table); err != nil {
			return err
		}
	}

	for _, index := range indices {
		if _, err := db.conn.Exec(index); err != nil {
			return err
		}
	}

	return db.runMigrations()
}

// runMigrations performs incremental schema updates in-place. Each migration
// should be idempotent and safe to re-run.
func (db *Database) runMigrations() error {
	// Migration 1: cover_path on albums, added after the first release
	var columnExists bool
	err := db.conn.QueryRow(`
		SELECT COUNT(*) > 0
		FROM pragma_table_info('albums')
		WHERE name = 'cover_path'`).Scan(&columnExists)
	if err != nil {
		return err
	}

	if !columnExists {
		if _, err := db.conn.Exec("ALTER TABLE albums ADD COLUMN cover_path TEXT NOT NULL DEFAULT ''"); err != nil {
			return err
		}
		db.logger.Info("Added cover_path column to albums table")
	}

	return nil
}

// prepareStatements prepares the statements reconciliation runs per entry.
// The order here is relied on by the sqlmock tests.
func (db *Database) prepareStatements() error {
	prepares := []struct {
		dst   **sql.Stmt
		name  string
		query string
	}{
		{&db.insertAlbumStmt, "insert album", `
			INSERT INTO albums (title, path, directory_id, cover_path) VALUES (?, ?, ?, ?)`},
		{&db.updateAlbumStmt, "update album", `
			UPDATE albums SET title = ?, cover_path = ? WHERE id = ?`},
		{&db.deleteAlbumStmt, "delete album", `
			DELETE FROM albums WHERE id = ?`},
		{&db.listAlbumsStmt, "list albums", `
			SELECT id, title, path, directory_id, cover_path FROM albums WHERE directory_id = ? ORDER BY id`},
		{&db.insertAudioFileStmt, "insert audio file", `
			INSERT INTO audio_files (title, album_id, duration_ms, completed_time_ms, sort_index) VALUES (?, ?, ?, ?, ?)`},
		{&db.updateSortIndexStmt, "update sort index", `
			UPDATE audio_files SET sort_index = ? WHERE id = ?`},
		{&db.deleteAudioFileStmt, "delete audio file", `
			DELETE FROM audio_files WHERE id = ?`},
		{&db.listAudioFilesStmt, "list audio files", `
			SELECT id, title, album_id, duration_ms, completed_time_ms, sort_index
			FROM audio_files WHERE album_id = ? ORDER BY sort_index, id`},
		{&db.updateCompletedStmt, "update completed time", `
			UPDATE audio_files SET completed_time_ms = ? WHERE id = ?`},
	}

	for _, p := range prepares {
		stmt, err := db.conn.Prepare(p.query)
		if err != nil {
			return fmt.Errorf("failed to prepare %s statement: %w", p.name, err)
		}
		*p.dst = stmt
	}
	return nil
}

// Ping verifies the connection is alive
func (db *Database) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the underlying database connection and prepared statements.
func (db *Database) Close() error {
	statements := []*sql.Stmt{
		db.insertAlbumStmt,
		db.updateAlbumStmt,
		db.deleteAlbumStmt,
		db.listAlbumsStmt,
		db.insertAudioFileStmt,
		db.updateSortIndexStmt,
		db.deleteAudioFileStmt,
		db.listAudioFilesStmt,
		db.updateCompletedStmt,
	}

	for _, stmt := range statements {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				db.logger.WithError(err).Error("Failed to close prepared statement")
			}
		}
	}

	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// translateInsertError maps SQLite uniqueness violations to ErrDuplicate
func translateInsertError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}
