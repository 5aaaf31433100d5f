package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockpulse/internal/services/scheduler"
	"github.com/ternarybob/stockpulse/internal/services/status"
)

// StatusHandler handles HTTP requests for application status
type StatusHandler struct {
	statusService *status.Service
	scheduler     *scheduler.Service
	logger        arbor.ILogger
}

// NewStatusHandler creates a new StatusHandler. scheduler may be nil.
func NewStatusHandler(statusService *status.Service, scheduler *scheduler.Service, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		statusService: statusService,
		scheduler:     scheduler,
		logger:        logger,
	}
}

// GetStatusHandler handles GET /api/status
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	status := h.statusService.GetStatus()
	if h.scheduler != nil {
		status["scheduler"] = h.scheduler.GetStatus()
	}
	WriteJSON(w, http.StatusOK, status)
}
