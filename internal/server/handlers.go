package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"audioanchor/internal/database"
	"audioanchor/internal/reconcile"
	"audioanchor/pkg/models"
)

// addDirectoryRequest is the body of POST /api/directories
type addDirectoryRequest struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

// syncResponse wraps a reconciliation report for the client
type syncResponse struct {
	Directory *models.Directory `json:"directory,omitempty"`
	Report    *reconcile.Report `json:"report"`
	Message   string            `json:"message,omitempty"`
}

// progressRequest is the body of PUT /api/tracks/{id}/progress
type progressRequest struct {
	CompletedTimeMs int64 `json:"completedTimeMs"`
}

// handleListDirectories returns every registered directory.
func (cs *CatalogServer) handleListDirectories(w http.ResponseWriter, r *http.Request) {
	dirs, err := cs.db.ListDirectories(r.Context())
	if err != nil {
		cs.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving directories", err)
		return
	}
	if dirs == nil {
		dirs = []models.Directory{}
	}
	cs.respondJSON(w, http.StatusOK, dirs)
}

// handleAddDirectory registers a directory and populates it before replying.
func (cs *CatalogServer) handleAddDirectory(w http.ResponseWriter, r *http.Request) {
	var req addDirectoryRequest
	if verr := decodeJSONBody(w, r, &req); verr != nil {
		cs.respondWithValidationError(w, r, *verr)
		return
	}

	path := sanitizeInput(req.Path)
	var verrs []ValidationError
	if verr := validateDirectoryPath(path); verr != nil {
		verrs = append(verrs, *verr)
	}
	dirType, verr := validateDirectoryType(req.Type)
	if verr != nil {
		verrs = append(verrs, *verr)
	}
	if len(verrs) > 0 {
		cs.respondWithValidationError(w, r, verrs...)
		return
	}

	// the initial pass finishes even if the client goes away
	dir, report, err := cs.syncer.AddDirectory(context.WithoutCancel(r.Context()), path, dirType)
	switch {
	case errors.Is(err, reconcile.ErrInvalidDirectory):
		cs.respondWithValidationError(w, r, ValidationError{Field: "path", Message: err.Error(), Code: "INVALID_DIRECTORY"})
		return
	case errors.Is(err, database.ErrDuplicate):
		cs.respondWithError(w, r, http.StatusConflict, "Directory already registered", err)
		return
	case err != nil && report == nil:
		cs.respondWithError(w, r, http.StatusInternalServerError, "Error registering directory", err)
		return
	}

	// re-arm the watcher so the new root is observed
	if cs.watcher != nil {
		cs.watcher.Trigger()
	}

	cs.respondJSON(w, http.StatusCreated, syncResponse{
		Directory: &dir,
		Report:    report,
		Message:   report.Message(),
	})
}

// handleRemoveDirectory unregisters a directory; its albums and audio files
// are removed with it.
func (cs *CatalogServer) handleRemoveDirectory(w http.ResponseWriter, r *http.Request) {
	id, verr := validateID("directory_id", r.PathValue("id"))
	if verr != nil {
		cs.respondWithValidationError(w, r, *verr)
		return
	}

	if err := cs.db.DeleteDirectory(r.Context(), id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			cs.respondWithError(w, r, http.StatusNotFound, "Directory not found", err)
			return
		}
		cs.respondWithError(w, r, http.StatusInternalServerError, "Error removing directory", err)
		return
	}

	cs.logger.WithField("directory_id", id).Info("Directory removed")
	w.WriteHeader(http.StatusNoContent)
}

// handleListAlbums returns the albums of one directory.
func (cs *CatalogServer) handleListAlbums(w http.ResponseWriter, r *http.Request) {
	id, verr := validateID("directory", r.URL.Query().Get("directory"))
	if verr != nil {
		cs.respondWithValidationError(w, r, *verr)
		return
	}

	if _, err := cs.db.GetDirectory(r.Context(), id); err != nil {
		cs.respondLookupError(w, r, "Directory", err)
		return
	}

	albums, err := cs.db.ListAlbumsByDirectory(r.Context(), id)
	if err != nil {
		cs.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving albums", err)
		return
	}
	if albums == nil {
		albums = []models.Album{}
	}
	cs.respondJSON(w, http.StatusOK, albums)
}

// handleListTracks returns an album's audio files in sort order.
func (cs *CatalogServer) handleListTracks(w http.ResponseWriter, r *http.Request) {
	id, verr := validateID("album_id", r.PathValue("id"))
	if verr != nil {
		cs.respondWithValidationError(w, r, *verr)
		return
	}

	if _, err := cs.db.GetAlbum(r.Context(), id); err != nil {
		cs.respondLookupError(w, r, "Album", err)
		return
	}

	files, err := cs.db.ListAudioFilesByAlbum(r.Context(), id)
	if err != nil {
		cs.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving tracks", err)
		return
	}
	if files == nil {
		files = []models.AudioFile{}
	}
	cs.respondJSON(w, http.StatusOK, files)
}

// handleUpdateProgress records the listening position of one audio file.
func (cs *CatalogServer) handleUpdateProgress(w http.ResponseWriter, r *http.Request) {
	id, verr := validateID("track_id", r.PathValue("id"))
	if verr != nil {
		cs.respondWithValidationError(w, r, *verr)
		return
	}

	var req progressRequest
	if verr := decodeJSONBody(w, r, &req); verr != nil {
		cs.respondWithValidationError(w, r, *verr)
		return
	}

	file, err := cs.db.GetAudioFile(r.Context(), id)
	if err != nil {
		cs.respondLookupError(w, r, "Track", err)
		return
	}
	if verr := validateProgress(req.CompletedTimeMs, file); verr != nil {
		cs.respondWithValidationError(w, r, *verr)
		return
	}

	if err := cs.db.UpdateCompletedTime(r.Context(), id, req.CompletedTimeMs); err != nil {
		cs.respondLookupError(w, r, "Track", err)
		return
	}

	file.CompletedTimeMs = req.CompletedTimeMs
	cs.respondJSON(w, http.StatusOK, file)
}

// handleRefresh runs a full pass and returns its report. Concurrent callers
// share one pass.
func (cs *CatalogServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	report, err := cs.syncer.RefreshAll(context.WithoutCancel(r.Context()))
	if err != nil && report == nil {
		cs.respondWithError(w, r, http.StatusInternalServerError, "Error refreshing catalog", err)
		return
	}
	if err != nil {
		cs.logger.WithError(err).Warn("Refresh ended early")
	}

	cs.logger.WithFields(logrus.Fields{
		"pass_id":   report.PassID.String(),
		"mutations": report.Mutations(),
	}).Info("Refresh requested over API")

	cs.respondJSON(w, http.StatusOK, syncResponse{
		Report:  report,
		Message: report.Message(),
	})
}

// respondLookupError maps ErrNotFound to 404 and anything else to 500
func (cs *CatalogServer) respondLookupError(w http.ResponseWriter, r *http.Request, what string, err error) {
	if errors.Is(err, database.ErrNotFound) {
		cs.respondWithError(w, r, http.StatusNotFound, what+" not found", err)
		return
	}
	cs.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving "+what, err)
}
