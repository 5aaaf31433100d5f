package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockpulse/internal/services/report"
)

// ReportHandler serves the rendered sector report
type ReportHandler struct {
	renderer ReportRenderer
	logger   arbor.ILogger
}

// NewReportHandler creates a new ReportHandler
func NewReportHandler(renderer ReportRenderer, logger arbor.ILogger) *ReportHandler {
	return &ReportHandler{
		renderer: renderer,
		logger:   logger,
	}
}

// SectorReportHandler handles GET /api/reports/sectors?period=&format=
func (h *ReportHandler) SectorReportHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	dr, label, err := ParseDateRange(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	doc, err := h.renderer.Render(r.Context(), dr, label, r.URL.Query().Get("format"))
	if errors.Is(err, report.ErrUnsupportedFormat) {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("period", label).Msg("Failed to render sector report")
		WriteError(w, http.StatusInternalServerError, "Failed to render report")
		return
	}

	disposition := "inline"
	if doc.ContentType == "application/pdf" {
		disposition = "attachment"
	}
	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, doc.Filename))
	w.WriteHeader(http.StatusOK)
	w.Write(doc.Content)
}
