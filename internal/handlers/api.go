package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockpulse/internal/common"
	"github.com/ternarybob/stockpulse/internal/models"
)

// endpoints is the index served at /
var endpoints = []string{
	"GET  /api/health",
	"GET  /api/version",
	"GET  /api/status",
	"GET  /api/sectors",
	"GET  /api/sectors/summary?from=&to=",
	"GET  /api/sectors/{sector}/summary?from=&to=",
	"GET  /api/metrics/sector-summary?period=",
	"GET  /api/data/daily-prices?period=&limit=",
	"GET  /api/companies/{id}/prices?from=&to=",
	"GET  /api/reports/sectors?period=&format=md|html|pdf",
	"POST /api/ingest",
	"POST /api/ingest/run",
	"GET  /api/ingest/runs?limit=",
	"GET  /ws",
}

type APIHandler struct {
	health HealthReporter
	logger arbor.ILogger
}

func NewAPIHandler(health HealthReporter, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		health: health,
		logger: logger,
	}
}

// IndexHandler lists the service endpoints
func (h *APIHandler) IndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		h.NotFoundHandler(w, r)
		return
	}
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"service":   "stockpulse",
		"version":   common.GetVersion(),
		"endpoints": endpoints,
	})
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version":    common.Version,
		"build":      common.Build,
		"git_commit": common.GitCommit,
	})
}

// HealthHandler reports record count and last ingestion time.
// An unreadable store answers 503.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	health := h.health.GetHealth(r.Context())
	code := http.StatusOK
	if health.Status == models.HealthError {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, health)
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"status":  "error",
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
