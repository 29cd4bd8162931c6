package server

import (
	"net/http"
	"time"
)

// HealthStatus represents operational status for the /health endpoint.
type HealthStatus struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Database    string                 `json:"database"`
	Directories int                    `json:"directoryCount"`
	Albums      int                    `json:"albumCount"`
	AudioFiles  int                    `json:"audioFileCount"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// handleHealthCheck returns liveness plus catalog counts.
func (cs *CatalogServer) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	health := &HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Database:  "ok",
		Details:   make(map[string]interface{}),
	}

	if err := cs.db.Ping(r.Context()); err != nil {
		health.Status = "unhealthy"
		health.Database = "error"
		health.Details["database_error"] = err.Error()
	}

	stats, err := cs.db.Stats(r.Context())
	if err != nil {
		health.Details["stats_error"] = err.Error()
	} else {
		health.Directories = stats.Directories
		health.Albums = stats.Albums
		health.AudioFiles = stats.AudioFiles
	}

	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	cs.respondJSON(w, status, health)
}
