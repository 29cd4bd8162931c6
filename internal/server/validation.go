package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"audioanchor/pkg/models"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20

// ValidationError represents a validation error with details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ValidationResult contains validation results
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// respondJSON writes v as JSON with the given status
func (cs *CatalogServer) respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		cs.logger.WithError(err).Warn("Failed to encode response")
	}
}

// respondWithValidationError sends a structured validation error response
func (cs *CatalogServer) respondWithValidationError(w http.ResponseWriter, r *http.Request, errors ...ValidationError) {
	cs.logger.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"errors": errors,
	}).Warn("Validation failed")

	cs.respondJSON(w, http.StatusBadRequest, ValidationResult{Valid: false, Errors: errors})
}

// respondWithError sends a structured error response
func (cs *CatalogServer) respondWithError(w http.ResponseWriter, r *http.Request, statusCode int, message string, err error) {
	logEntry := cs.logger.WithFields(logrus.Fields{
		"method":      r.Method,
		"path":        r.URL.Path,
		"status_code": statusCode,
		"message":     message,
	})

	if err != nil {
		logEntry = logEntry.WithError(err)
	}

	if statusCode >= 500 {
		logEntry.Error("Server error")
	} else {
		logEntry.Warn("Client error")
	}

	cs.respondJSON(w, statusCode, map[string]interface{}{
		"error":   message,
		"code":    statusCode,
		"success": false,
	})
}

// validateID parses a positive integer id. field names the parameter in the
// error, e.g. "album_id".
func validateID(field, raw string) (int64, *ValidationError) {
	code := strings.ToUpper(field)
	label := strings.ReplaceAll(field, "_", " ")

	if raw == "" {
		return 0, &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("%s is required", label),
			Code:    "MISSING_" + code,
		}
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("%s must be a valid integer", label),
			Code:    "INVALID_" + code + "_FORMAT",
		}
	}

	if id <= 0 {
		return 0, &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("%s must be positive", label),
			Code:    "INVALID_" + code + "_VALUE",
		}
	}

	return id, nil
}

// validateDirectoryPath checks a path submitted for registration
func validateDirectoryPath(path string) *ValidationError {
	if path == "" {
		return &ValidationError{
			Field:   "path",
			Message: "Directory path is required",
			Code:    "MISSING_PATH",
		}
	}

	if len(path) > 4096 {
		return &ValidationError{
			Field:   "path",
			Message: "Directory path too long (max 4096 characters)",
			Code:    "PATH_TOO_LONG",
		}
	}

	if strings.ContainsAny(path, "\x00\n\r") {
		return &ValidationError{
			Field:   "path",
			Message: "Directory path contains invalid characters",
			Code:    "INVALID_PATH_CHARACTERS",
		}
	}

	return nil
}

// validateDirectoryType maps "parent" or "single" (empty means parent)
func validateDirectoryType(raw string) (models.DirectoryType, *ValidationError) {
	t, ok := models.ParseDirectoryType(strings.ToLower(raw))
	if !ok {
		return 0, &ValidationError{
			Field:   "type",
			Message: "Directory type must be \"parent\" or \"single\"",
			Code:    "INVALID_DIRECTORY_TYPE",
		}
	}
	return t, nil
}

// validateProgress checks a completed position against the track duration.
// An unknown duration (0) accepts any non-negative position.
func validateProgress(completedMs int64, file models.AudioFile) *ValidationError {
	if completedMs < 0 {
		return &ValidationError{
			Field:   "completedTimeMs",
			Message: "Completed time cannot be negative",
			Code:    "NEGATIVE_COMPLETED_TIME",
		}
	}
	if file.DurationMs > 0 && completedMs > file.DurationMs {
		return &ValidationError{
			Field:   "completedTimeMs",
			Message: fmt.Sprintf("Completed time exceeds track duration (%d ms)", file.DurationMs),
			Code:    "COMPLETED_TIME_OUT_OF_RANGE",
		}
	}
	return nil
}

// decodeJSONBody reads a bounded JSON body into v, rejecting unknown fields
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v interface{}) *ValidationError {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &ValidationError{
			Field:   "body",
			Message: fmt.Sprintf("Invalid JSON body: %v", err),
			Code:    "INVALID_BODY",
		}
	}
	return nil
}

// sanitizeInput sanitizes user input to prevent injection attacks
func sanitizeInput(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}
