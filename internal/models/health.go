package models

import "time"

// Health statuses
const (
	HealthOK    = "ok"
	HealthEmpty = "empty"
	HealthError = "error"
)

// Health is the service health snapshot
type Health struct {
	Status                 string     `json:"status"`
	RecordCount            int        `json:"record_count"`
	LastIngestionTimestamp *time.Time `json:"last_ingestion_timestamp"`
	DataLoaded             bool       `json:"data_loaded"`
	AppState               string     `json:"app_state,omitempty"`
	Error                  string     `json:"error,omitempty"`
}
