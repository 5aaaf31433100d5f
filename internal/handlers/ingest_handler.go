package handlers

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockpulse/internal/common"
	"github.com/ternarybob/stockpulse/internal/models"
	"github.com/ternarybob/stockpulse/internal/services/ingestion"
	"github.com/ternarybob/stockpulse/internal/services/scheduler"
)

// IngestHandler accepts CSV uploads and exposes the ingestion run log
type IngestHandler struct {
	ingester ReaderIngester
	trigger  IngestionTrigger
	runs     RunLister
	config   common.APIConfig
	maxRuns  int
	logger   arbor.ILogger
}

// NewIngestHandler creates a new IngestHandler
func NewIngestHandler(ingester ReaderIngester, trigger IngestionTrigger, runs RunLister, config common.APIConfig, maxRuns int, logger arbor.ILogger) *IngestHandler {
	if maxRuns <= 0 {
		maxRuns = 20
	}
	return &IngestHandler{
		ingester: ingester,
		trigger:  trigger,
		runs:     runs,
		config:   config,
		maxRuns:  maxRuns,
		logger:   logger,
	}
}

// UploadHandler handles POST /api/ingest. The CSV is either the multipart
// field "file" or the raw request body.
func (h *IngestHandler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	if h.config.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes)
	}

	body, name, err := h.openUpload(r)
	if err != nil {
		h.writeUploadError(w, err)
		return
	}
	defer body.Close()

	report, err := h.ingester.IngestReader(r.Context(), name, body)
	if err != nil {
		h.writeIngestError(w, report, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

func (h *IngestHandler) openUpload(r *http.Request) (io.ReadCloser, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return r.Body, "upload", nil
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", err
	}
	return file, uploadName(header.Filename), nil
}

func (h *IngestHandler) writeUploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		WriteError(w, http.StatusRequestEntityTooLarge, "Upload exceeds size limit")
	case errors.Is(err, http.ErrMissingFile):
		WriteError(w, http.StatusBadRequest, "Missing multipart field \"file\"")
	default:
		WriteError(w, http.StatusBadRequest, err.Error())
	}
}

// writeIngestError maps a failed run to a status code, keeping the partial report
func (h *IngestHandler) writeIngestError(w http.ResponseWriter, report *models.IngestionReport, err error) {
	var tooLarge *http.MaxBytesError
	var storageErr *models.StorageError

	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, ingestion.ErrMissingColumns):
		code = http.StatusBadRequest
	case errors.As(err, &tooLarge):
		code = http.StatusRequestEntityTooLarge
	case errors.As(err, &storageErr):
		code = http.StatusServiceUnavailable
	}

	if code >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Msg("Ingestion request failed")
	}

	response := map[string]interface{}{
		"status": "error",
		"error":  err.Error(),
	}
	if report != nil {
		response["report"] = report
	}
	WriteJSON(w, code, response)
}

// RunHandler handles POST /api/ingest/run, re-ingesting the configured sources
func (h *IngestHandler) RunHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	report, err := h.trigger.RunNow(r.Context())
	switch {
	case errors.Is(err, scheduler.ErrNoSources):
		WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		WriteError(w, http.StatusConflict, err.Error())
	case err != nil:
		h.writeIngestError(w, report, err)
	default:
		WriteJSON(w, http.StatusOK, report)
	}
}

// RunsHandler handles GET /api/ingest/runs
func (h *IngestHandler) RunsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	runs, err := h.runs.ListRuns(r.Context(), ParseLimit(r, h.maxRuns, 100))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list ingestion runs")
		WriteError(w, http.StatusServiceUnavailable, "Store unavailable")
		return
	}
	if runs == nil {
		runs = []*models.IngestionRun{}
	}
	WriteJSON(w, http.StatusOK, runs)
}

// uploadName trims a client filename down to its base name
func uploadName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return "upload"
	}
	return name
}
