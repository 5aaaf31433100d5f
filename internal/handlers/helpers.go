package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/stockpulse/internal/models"
)

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// ParseDateRange reads either period (YYYY or YYYY-MM) or from/to (YYYY-MM-DD)
// from the query string. The returned label names the range for display.
func ParseDateRange(r *http.Request) (models.DateRange, string, error) {
	q := r.URL.Query()

	if period := strings.TrimSpace(q.Get("period")); period != "" {
		dr, err := models.ParsePeriod(period)
		if err != nil {
			return models.DateRange{}, "", err
		}
		return dr, period, nil
	}

	from, to := strings.TrimSpace(q.Get("from")), strings.TrimSpace(q.Get("to"))
	dr, err := models.NewDateRange(from, to)
	if err != nil {
		return models.DateRange{}, "", err
	}

	label := ""
	if from != "" || to != "" {
		label = from + ".." + to
	}
	return dr, label, nil
}

// ParseLimit reads the limit parameter. Missing or invalid values use def;
// values above max are capped.
func ParseLimit(r *http.Request, def, max int) int {
	limit := def
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	if max > 0 && limit > max {
		limit = max
	}
	return limit
}

// PathParam returns the path segment between prefix and suffix,
// e.g. PathParam("/api/companies/AAA/prices", "/api/companies/", "/prices") = "AAA".
func PathParam(path, prefix, suffix string) (string, bool) {
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return "", false
	}
	value := strings.TrimSuffix(strings.TrimPrefix(path, prefix), suffix)
	if value == "" || strings.Contains(value, "/") {
		return "", false
	}
	return value, true
}
