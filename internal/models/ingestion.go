package models

import "time"

// Row error kinds
const (
	RowErrorValidation = "validation"
	RowErrorConflict   = "conflict"
)

// Ingestion run statuses
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// RowError records why one input row was not stored
type RowError struct {
	Source    string   `json:"source,omitempty"`
	Row       int      `json:"row"` // 1-based data row, header excluded
	CompanyID string   `json:"company_id,omitempty"`
	TradeDate string   `json:"trade_date,omitempty"`
	Kind      string   `json:"kind"`
	Field     string   `json:"field,omitempty"`
	Fields    []string `json:"fields,omitempty"`
	Reason    string   `json:"reason"`
}

// IngestionReport is returned by every ingestion run
type IngestionReport struct {
	RunID            string     `json:"run_id"`
	Source           string     `json:"source"`
	RowsRead         int        `json:"rows_read"`
	Inserted         int        `json:"inserted"`
	SkippedDuplicate int        `json:"skipped_duplicate"`
	Rejected         int        `json:"rejected"`
	Errors           []RowError `json:"errors"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       time.Time  `json:"finished_at"`
}

// Accepted counts rows that passed validation
func (r *IngestionReport) Accepted() int {
	return r.Inserted + r.SkippedDuplicate
}

// Merge folds another report's counts and errors into this one
func (r *IngestionReport) Merge(other *IngestionReport) {
	if other == nil {
		return
	}
	r.RowsRead += other.RowsRead
	r.Inserted += other.Inserted
	r.SkippedDuplicate += other.SkippedDuplicate
	r.Rejected += other.Rejected
	r.Errors = append(r.Errors, other.Errors...)
	if r.StartedAt.IsZero() || (!other.StartedAt.IsZero() && other.StartedAt.Before(r.StartedAt)) {
		r.StartedAt = other.StartedAt
	}
	if other.FinishedAt.After(r.FinishedAt) {
		r.FinishedAt = other.FinishedAt
	}
}

// IngestionRun is the persisted log entry of one ingestion run
type IngestionRun struct {
	ID               string    `json:"id"`
	Source           string    `json:"source"`
	Status           string    `json:"status"`
	RowsRead         int       `json:"rows_read"`
	Inserted         int       `json:"inserted"`
	SkippedDuplicate int       `json:"skipped_duplicate"`
	Rejected         int       `json:"rejected"`
	Error            string    `json:"error,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
}

// NewIngestionRun captures a finished report as a run log entry
func NewIngestionRun(report *IngestionReport, runErr error) *IngestionRun {
	run := &IngestionRun{
		ID:               report.RunID,
		Source:           report.Source,
		Status:           RunStatusCompleted,
		RowsRead:         report.RowsRead,
		Inserted:         report.Inserted,
		SkippedDuplicate: report.SkippedDuplicate,
		Rejected:         report.Rejected,
		StartedAt:        report.StartedAt,
		FinishedAt:       report.FinishedAt,
	}
	if runErr != nil {
		run.Status = RunStatusFailed
		run.Error = runErr.Error()
	}
	return run
}
