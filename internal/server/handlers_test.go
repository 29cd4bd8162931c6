package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audioanchor/internal/collate"
	"audioanchor/internal/config"
	"audioanchor/internal/database"
	"audioanchor/internal/fsprobe"
	"audioanchor/internal/reconcile"
	"audioanchor/pkg/models"
)

type fixedProber int64

func (p fixedProber) ProbeDuration(string) (int64, error) {
	return int64(p), nil
}

type countingTrigger struct {
	calls int32
}

func (c *countingTrigger) Trigger() {
	atomic.AddInt32(&c.calls, 1)
}

type testServer struct {
	*httptest.Server
	db      *database.Database
	trigger *countingTrigger
	library string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	root := t.TempDir()
	library := filepath.Join(root, "library")
	for _, f := range []string{"Album A/Track 2.mp3", "Album A/Track 10.mp3", "Album B/intro.mp3"} {
		path := filepath.Join(library, f)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db, err := database.NewDatabase(filepath.Join(root, "catalog.db"), 0, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	syncer := reconcile.New(db, fsprobe.NewOS(), fixedProber(60000),
		collate.MustNew(collate.Options{Locale: "en", Numeric: true}), logger, reconcile.Options{})

	trigger := &countingTrigger{}
	cs := NewCatalogServer(config.DefaultConfig(), db, syncer, trigger, logger)
	srv := httptest.NewServer(cs.Handler())
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, db: db, trigger: trigger, library: library}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func (ts *testServer) addLibrary(t *testing.T) models.Directory {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/api/directories", map[string]string{"path": ts.library})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		Directory models.Directory `json:"directory"`
		Report    reconcile.Report `json:"report"`
	}
	decode(t, resp, &out)
	assert.Equal(t, 2, out.Report.AlbumsCreated)
	assert.Equal(t, 3, out.Report.TracksCreated)
	return out.Directory
}

func TestAddDirectoryPopulatesCatalog(t *testing.T) {
	ts := newTestServer(t)
	dir := ts.addLibrary(t)

	assert.Equal(t, ts.library, dir.Path)
	assert.Equal(t, models.ParentDir, dir.Type)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ts.trigger.calls))

	resp := ts.do(t, http.MethodGet, "/api/directories", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var dirs []models.Directory
	decode(t, resp, &dirs)
	require.Len(t, dirs, 1)
	assert.Equal(t, dir.ID, dirs[0].ID)
}

func TestAddDirectoryTwiceConflicts(t *testing.T) {
	ts := newTestServer(t)
	ts.addLibrary(t)

	resp := ts.do(t, http.MethodPost, "/api/directories", map[string]string{"path": ts.library})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAddDirectoryValidation(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/directories", map[string]string{"path": "", "type": "flat"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var result ValidationResult
	decode(t, resp, &result)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, "MISSING_PATH", result.Errors[0].Code)
	assert.Equal(t, "INVALID_DIRECTORY_TYPE", result.Errors[1].Code)

	resp = ts.do(t, http.MethodPost, "/api/directories", map[string]string{"directory": "/x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListAlbumsAndTracks(t *testing.T) {
	ts := newTestServer(t)
	dir := ts.addLibrary(t)

	resp := ts.do(t, http.MethodGet, fmt.Sprintf("/api/albums?directory=%d", dir.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var albums []models.Album
	decode(t, resp, &albums)
	require.Len(t, albums, 2)
	assert.Equal(t, "Album A", albums[0].Title)

	resp = ts.do(t, http.MethodGet, fmt.Sprintf("/api/albums/%d/tracks", albums[0].ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var files []models.AudioFile
	decode(t, resp, &files)
	require.Len(t, files, 2)
	assert.Equal(t, "Track 2.mp3", files[0].Title)
	assert.Equal(t, 1, files[0].SortIndex)
	assert.Equal(t, "Track 10.mp3", files[1].Title)
	assert.Equal(t, int64(60000), files[1].DurationMs)
}

func TestListAlbumsErrors(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/albums", nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/albums?directory=abc", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/albums?directory=42", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/albums/42/tracks", nil).StatusCode)
}

func TestUpdateProgressSurvivesRefresh(t *testing.T) {
	ts := newTestServer(t)
	dir := ts.addLibrary(t)

	albums, err := ts.db.ListAlbumsByDirectory(context.Background(), dir.ID)
	require.NoError(t, err)
	files, err := ts.db.ListAudioFilesByAlbum(context.Background(), albums[0].ID)
	require.NoError(t, err)
	track := files[1]

	resp := ts.do(t, http.MethodPut, fmt.Sprintf("/api/tracks/%d/progress", track.ID),
		map[string]int64{"completedTimeMs": 30000})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodPut, fmt.Sprintf("/api/tracks/%d/progress", track.ID),
		map[string]int64{"completedTimeMs": 90000})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodPut, "/api/tracks/9999/progress", map[string]int64{"completedTimeMs": 1})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, os.WriteFile(filepath.Join(ts.library, "Album A", "Track 1.mp3"), []byte("audio"), 0o644))

	resp = ts.do(t, http.MethodPost, "/api/refresh", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Report reconcile.Report `json:"report"`
	}
	decode(t, resp, &out)
	assert.Equal(t, 1, out.Report.TracksCreated)

	got, err := ts.db.GetAudioFile(context.Background(), track.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(30000), got.CompletedTimeMs)
	assert.Equal(t, 3, got.SortIndex)
}

func TestRemoveDirectory(t *testing.T) {
	ts := newTestServer(t)
	dir := ts.addLibrary(t)

	resp := ts.do(t, http.MethodDelete, fmt.Sprintf("/api/directories/%d", dir.ID), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/directories/%d", dir.ID), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	stats, err := ts.db.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, database.Stats{}, stats)
}

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)
	ts.addLibrary(t)

	resp := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthStatus
	decode(t, resp, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 1, health.Directories)
	assert.Equal(t, 2, health.Albums)
	assert.Equal(t, 3, health.AudioFiles)
}

func TestMethodNotAllowedAndCORS(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPatch, "/api/refresh", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp = ts.do(t, http.MethodOptions, "/api/directories", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestPanicRecovery(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cs := NewCatalogServer(config.DefaultConfig(), nil, nil, nil, logger)

	h := cs.panicRecoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
