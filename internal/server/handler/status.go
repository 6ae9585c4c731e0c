package handler

import (
	"net/http"
	"time"
)

// StatusHandler reports how this instance is running.
type StatusHandler struct {
	Mode      string
	Version   string
	StartedAt time.Time
	Jobs      []string
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode, version string, startedAt time.Time, jobs []string) *StatusHandler {
	return &StatusHandler{Mode: mode, Version: version, StartedAt: startedAt, Jobs: jobs}
}

// GetStatus responds with the mode, version, uptime and scheduled jobs.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	jobs := h.Jobs
	if jobs == nil {
		jobs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"version":        h.Version,
		"started_at":     h.StartedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
		"jobs":           jobs,
	})
}
