package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockpulse/internal/app"
	"github.com/ternarybob/stockpulse/internal/common"
	"github.com/ternarybob/stockpulse/internal/models"
)

const scenarioCSV = `company_id,sector,trade_date,open,high,low,close,volume,shares_outstanding,earnings_per_share,dividend_per_share
AAA,Technology,2024-01-01,100,101,99,100,1000,1000,5,0.5
AAA,Technology,2024-01-02,100,103,99,102,1200,1000,5,0.5
AAA,Technology,2024-01-03,102,102,100,101,900,1000,5,0.5
BBB,Technology,2024-01-01,50,51,49,50,500,2000,0,0
BBB,Technology,2024-01-02,50,52,49,51,600,2000,0,0
BBB,Technology,2024-01-03,51,51,50,50.5,400,2000,0,0
`

func newTestServer(t *testing.T, configure func(*common.Config)) *httptest.Server {
	t.Helper()

	cfg := common.NewDefaultConfig()
	cfg.Storage.Badger.Path = t.TempDir()
	cfg.Ingestion.CSVPath = ""
	cfg.Ingestion.RunOnStartup = false
	cfg.API.RateLimit = 0
	if configure != nil {
		configure(cfg)
	}

	application, err := app.New(cfg, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { application.Close() })

	ts := httptest.NewServer(New(application).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestServer_IngestThenQuery(t *testing.T) {
	ts := newTestServer(t, nil)

	var health models.Health
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/health", &health))
	assert.Equal(t, models.HealthEmpty, health.Status)

	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, ts.URL+"/api/metrics/sector-summary", nil))

	resp, err := http.Post(ts.URL+"/api/ingest", "text/csv", strings.NewReader(scenarioCSV))
	require.NoError(t, err)
	var report models.IngestionReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 6, report.Inserted)
	assert.Zero(t, report.Rejected)

	// Re-ingesting the same batch changes nothing
	resp, err = http.Post(ts.URL+"/api/ingest", "text/csv", strings.NewReader(scenarioCSV))
	require.NoError(t, err)
	report = models.IngestionReport{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	resp.Body.Close()
	assert.Zero(t, report.Inserted)
	assert.Equal(t, 6, report.SkippedDuplicate)

	health = models.Health{}
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/health", &health))
	assert.Equal(t, models.HealthOK, health.Status)
	assert.Equal(t, 6, health.RecordCount)
	assert.NotNil(t, health.LastIngestionTimestamp)

	var summary models.SectorSummary
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/sectors/Technology/summary", &summary))
	assert.Equal(t, 2, summary.CompanyCount)
	require.True(t, summary.MeanPERatio.Valid)
	assert.InDelta(t, (100.0/5+102.0/5+101.0/5)/3, summary.MeanPERatio.Float64, 1e-9, "BBB has no earnings and is excluded")

	var prices models.CompanyPrices
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/companies/AAA/prices", &prices))
	require.Len(t, prices.Days, 3)
	assert.Equal(t, 100000.0, prices.Days[0].Metrics.MarketCap.Float64)

	var rows []models.CompanyPeriodPrices
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/data/daily-prices?period=2024-01", &rows))
	assert.Len(t, rows, 2)

	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/data/daily-prices?period=2023", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/sectors/Energy/summary", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/companies/AAA/unknown", nil))

	var runs []models.IngestionRun
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/ingest/runs", &runs))
	assert.Len(t, runs, 2)
}

func TestServer_Report(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/api/ingest", "text/csv", strings.NewReader(scenarioCSV))
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/reports/sectors?period=2024-01&format=pdf")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
}

func TestServer_RateLimit(t *testing.T) {
	ts := newTestServer(t, func(cfg *common.Config) {
		cfg.API.RateLimit = 0.001
		cfg.API.RateBurst = 1
	})

	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/sectors", nil))
	assert.Equal(t, http.StatusTooManyRequests, getJSON(t, ts.URL+"/api/sectors", nil))
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/health", nil), "health is exempt")
}

func TestServer_CORSPreflight(t *testing.T) {
	ts := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/ingest", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
