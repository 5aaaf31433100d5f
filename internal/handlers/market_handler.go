package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockpulse/internal/common"
	"github.com/ternarybob/stockpulse/internal/models"
	"github.com/ternarybob/stockpulse/internal/services/aggregation"
	"github.com/ternarybob/stockpulse/internal/services/query"
)

// MarketHandler serves sector summaries, period views and company prices
type MarketHandler struct {
	query  MarketQuerier
	health HealthReporter
	config common.APIConfig
	logger arbor.ILogger
}

// NewMarketHandler creates a new MarketHandler
func NewMarketHandler(q MarketQuerier, health HealthReporter, config common.APIConfig, logger arbor.ILogger) *MarketHandler {
	return &MarketHandler{
		query:  q,
		health: health,
		config: config,
		logger: logger,
	}
}

// SectorsHandler handles GET /api/sectors
func (h *MarketHandler) SectorsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	sectors, err := h.query.Sectors(r.Context())
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	if sectors == nil {
		sectors = []string{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"sectors": sectors})
}

// SectorSummariesHandler handles GET /api/sectors/summary
func (h *MarketHandler) SectorSummariesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	dr, _, err := ParseDateRange(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	summaries, err := h.query.GetSectorSummaries(r.Context(), dr)
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	if summaries == nil {
		summaries = []*models.SectorSummary{}
	}
	WriteJSON(w, http.StatusOK, summaries)
}

// SectorSummaryHandler handles GET /api/sectors/{sector}/summary
func (h *MarketHandler) SectorSummaryHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	sector, ok := PathParam(r.URL.Path, "/api/sectors/", "/summary")
	if !ok {
		WriteError(w, http.StatusNotFound, "Not Found")
		return
	}

	dr, _, err := ParseDateRange(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := h.query.GetSectorSummary(r.Context(), sector, dr)
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, summary)
}

// SectorOverviewHandler handles GET /api/metrics/sector-summary.
// 503 when nothing has been ingested, 404 when the period has no volume.
func (h *MarketHandler) SectorOverviewHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	dr, _, err := ParseDateRange(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.requireData(w, r) {
		return
	}

	overviews, err := h.query.GetSectorOverviews(r.Context(), dr)
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	if len(overviews) == 0 {
		WriteError(w, http.StatusNotFound, "No data for the requested period")
		return
	}
	WriteJSON(w, http.StatusOK, overviews)
}

// PeriodPricesHandler handles GET /api/data/daily-prices
func (h *MarketHandler) PeriodPricesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	dr, label, err := ParseDateRange(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !h.requireData(w, r) {
		return
	}

	limit := ParseLimit(r, h.config.DailyPricesLimit, 0)
	rows, err := h.query.GetCompanyPeriodPrices(r.Context(), dr, label, limit)
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	if len(rows) == 0 {
		WriteError(w, http.StatusNotFound, "No data for the requested period")
		return
	}
	WriteJSON(w, http.StatusOK, rows)
}

// CompanyPricesHandler handles GET /api/companies/{id}/prices
func (h *MarketHandler) CompanyPricesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	companyID, ok := PathParam(r.URL.Path, "/api/companies/", "/prices")
	if !ok {
		WriteError(w, http.StatusNotFound, "Not Found")
		return
	}

	dr, _, err := ParseDateRange(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	prices, err := h.query.GetDailyPrices(r.Context(), companyID, dr)
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, prices)
}

// requireData writes 503 and returns false when the store is empty or unreadable
func (h *MarketHandler) requireData(w http.ResponseWriter, r *http.Request) bool {
	health := h.health.GetHealth(r.Context())
	switch health.Status {
	case models.HealthEmpty:
		WriteError(w, http.StatusServiceUnavailable, "Data not loaded")
		return false
	case models.HealthError:
		WriteError(w, http.StatusServiceUnavailable, health.Error)
		return false
	}
	return true
}

func (h *MarketHandler) writeQueryError(w http.ResponseWriter, r *http.Request, err error) {
	var storageErr *models.StorageError

	switch {
	case errors.Is(err, aggregation.ErrNoData), errors.Is(err, query.ErrCompanyNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.logger.Debug().Str("path", r.URL.Path).Err(err).Msg("Query abandoned")
		WriteError(w, http.StatusServiceUnavailable, "Request cancelled")
	case errors.As(err, &storageErr):
		h.logger.Error().Str("path", r.URL.Path).Err(err).Msg("Store unavailable")
		WriteError(w, http.StatusServiceUnavailable, "Store unavailable")
	default:
		h.logger.Error().Str("path", r.URL.Path).Err(err).Msg("Query failed")
		WriteError(w, http.StatusInternalServerError, "Internal server error")
	}
}
