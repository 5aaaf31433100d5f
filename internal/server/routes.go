package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Index and system
	mux.HandleFunc("/", s.app.APIHandler.IndexHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/status", s.app.StatusHandler.GetStatusHandler)

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Sectors
	mux.HandleFunc("/api/sectors", s.app.MarketHandler.SectorsHandler)
	mux.HandleFunc("/api/sectors/summary", s.app.MarketHandler.SectorSummariesHandler)
	mux.HandleFunc("/api/sectors/", s.handleSectorRoutes) // /api/sectors/{sector}/summary

	// API routes - Period views
	mux.HandleFunc("/api/metrics/sector-summary", s.app.MarketHandler.SectorOverviewHandler)
	mux.HandleFunc("/api/data/daily-prices", s.app.MarketHandler.PeriodPricesHandler)

	// API routes - Companies
	mux.HandleFunc("/api/companies/", s.handleCompanyRoutes) // /api/companies/{id}/prices

	// API routes - Reports
	mux.HandleFunc("/api/reports/sectors", s.app.ReportHandler.SectorReportHandler)

	// API routes - Ingestion
	mux.HandleFunc("/api/ingest", s.app.IngestHandler.UploadHandler)
	mux.HandleFunc("/api/ingest/run", s.app.IngestHandler.RunHandler)
	mux.HandleFunc("/api/ingest/runs", s.app.IngestHandler.RunsHandler)

	return mux
}

// handleSectorRoutes routes /api/sectors/{sector}/...
func (s *Server) handleSectorRoutes(w http.ResponseWriter, r *http.Request) {
	if RouteByPathSuffix(w, r, "/api/sectors/", []PathSuffixRouter{
		{Suffix: "/summary", Handler: s.app.MarketHandler.SectorSummaryHandler},
	}) {
		return
	}
	s.app.APIHandler.NotFoundHandler(w, r)
}

// handleCompanyRoutes routes /api/companies/{id}/...
func (s *Server) handleCompanyRoutes(w http.ResponseWriter, r *http.Request) {
	if RouteByPathSuffix(w, r, "/api/companies/", []PathSuffixRouter{
		{Suffix: "/prices", Handler: s.app.MarketHandler.CompanyPricesHandler},
	}) {
		return
	}
	s.app.APIHandler.NotFoundHandler(w, r)
}
