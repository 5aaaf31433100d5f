// Package ingestion applies batch sources to the record store.
//
// Each row is validated, then checked against the store by identity key
// (company_id, trade_date). New keys are inserted, identical rows are skipped
// and rows that differ from the stored record are rejected with a ConflictError.
// The storage uniqueness constraint decides races between concurrent runs.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockpulse/internal/interfaces"
	"github.com/ternarybob/stockpulse/internal/models"
	"github.com/ternarybob/stockpulse/internal/services/status"
	"github.com/ternarybob/stockpulse/internal/services/validation"
	"github.com/ternarybob/stockpulse/internal/worker"
)

type outcome int

const (
	outcomeInserted outcome = iota
	outcomeDuplicate
	outcomeConflict
)

// Service is the ingestion engine
type Service struct {
	records      interfaces.RecordStorage
	runs         interfaces.IngestionRunStorage
	validator    *validation.Validator
	eventService interfaces.EventService
	status       *status.Service
	logger       arbor.ILogger
	workers      int
	now          func() time.Time
}

// NewService creates the ingestion engine. runs, eventService and statusService may be nil.
func NewService(
	records interfaces.RecordStorage,
	runs interfaces.IngestionRunStorage,
	validator *validation.Validator,
	eventService interfaces.EventService,
	statusService *status.Service,
	logger arbor.ILogger,
	workers int,
) *Service {
	if workers < 1 {
		workers = 1
	}
	return &Service{
		records:      records,
		runs:         runs,
		validator:    validator,
		eventService: eventService,
		status:       statusService,
		logger:       logger,
		workers:      workers,
		now:          time.Now,
	}
}

// Ingest streams source through the validator into the store and returns the run report.
// Row-level problems are collected in the report. A storage failure or cancellation
// stops the run and is returned together with the partial report; rows already
// inserted stay, and re-running the source completes the batch.
func (s *Service) Ingest(ctx context.Context, source interfaces.RowSource) (*models.IngestionReport, error) {
	report := &models.IngestionReport{
		RunID:     uuid.New().String(),
		Source:    source.Name(),
		Errors:    []models.RowError{},
		StartedAt: s.now().UTC(),
	}

	if s.status != nil {
		s.status.BeginIngestion(report.Source)
		defer s.status.EndIngestion()
	}

	s.logger.Info().
		Str("run_id", report.RunID).
		Str("source", report.Source).
		Msg("Ingestion started")

	runErr := s.process(ctx, source, report)
	report.FinishedAt = s.now().UTC()

	s.finish(ctx, report, runErr)

	return report, runErr
}

func (s *Service) process(ctx context.Context, source interfaces.RowSource, report *models.IngestionReport) error {
	for {
		row, err := source.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}

		var vErr *models.ValidationError
		if errors.As(err, &vErr) {
			report.RowsRead++
			s.reject(report, source.Row(), nil, vErr)
			continue
		}
		if err != nil {
			return err
		}
		report.RowsRead++

		record, err := s.validator.Validate(row)
		if err != nil {
			s.reject(report, source.Row(), row, err)
			continue
		}
		record.RunID = report.RunID
		record.IngestedAt = report.StartedAt

		result, conflict, err := s.store(ctx, record)
		if err != nil {
			return err
		}

		switch result {
		case outcomeInserted:
			report.Inserted++
		case outcomeDuplicate:
			report.SkippedDuplicate++
		case outcomeConflict:
			report.Rejected++
			report.Errors = append(report.Errors, models.RowError{
				Source:    report.Source,
				Row:       source.Row(),
				CompanyID: record.CompanyID,
				TradeDate: record.Day,
				Kind:      models.RowErrorConflict,
				Fields:    conflict.Fields,
				Reason:    conflict.Error(),
			})
		}
	}
}

// store inserts a new key or classifies an existing one against the stored record
func (s *Service) store(ctx context.Context, record *models.StockRecord) (outcome, *models.ConflictError, error) {
	existing, err := s.records.Get(ctx, record.CompanyID, record.Day)
	switch {
	case err == nil:
		return classify(existing, record)
	case !errors.Is(err, interfaces.ErrRecordNotFound):
		return 0, nil, err
	}

	err = s.records.Insert(ctx, record)
	if err == nil {
		return outcomeInserted, nil, nil
	}
	if !errors.Is(err, interfaces.ErrDuplicateKey) {
		return 0, nil, err
	}

	// Lost the race to a concurrent writer: compare with what it stored
	existing, err = s.records.Get(ctx, record.CompanyID, record.Day)
	if err != nil {
		return 0, nil, err
	}
	return classify(existing, record)
}

func classify(existing, incoming *models.StockRecord) (outcome, *models.ConflictError, error) {
	fields := existing.Diff(incoming)
	if len(fields) == 0 {
		return outcomeDuplicate, nil, nil
	}
	return outcomeConflict, &models.ConflictError{
		CompanyID: incoming.CompanyID,
		TradeDate: incoming.Day,
		Fields:    fields,
	}, nil
}

func (s *Service) reject(report *models.IngestionReport, row int, raw models.RawRow, err error) {
	report.Rejected++

	rowErr := models.RowError{
		Source: report.Source,
		Row:    row,
		Kind:   models.RowErrorValidation,
		Reason: err.Error(),
	}
	if raw != nil {
		rowErr.CompanyID = strings.TrimSpace(raw[models.ColCompanyID])
		rowErr.TradeDate = strings.TrimSpace(raw[models.ColTradeDate])
	}

	var vErr *models.ValidationError
	if errors.As(err, &vErr) {
		rowErr.Field = vErr.Field
		rowErr.Reason = vErr.Reason
	}

	report.Errors = append(report.Errors, rowErr)

	s.logger.Debug().
		Str("source", rowErr.Source).
		Int("row", rowErr.Row).
		Str("company_id", rowErr.CompanyID).
		Str("field", rowErr.Field).
		Str("reason", rowErr.Reason).
		Msg("Row rejected")
}

// finish persists the run log entry and publishes the outcome
func (s *Service) finish(ctx context.Context, report *models.IngestionReport, runErr error) {
	run := models.NewIngestionRun(report, runErr)

	// The run log and events must be written even when ctx was cancelled mid-run
	bg := context.WithoutCancel(ctx)

	if s.runs != nil {
		if err := s.runs.SaveRun(bg, run); err != nil {
			s.logger.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to save ingestion run")
		}
	}

	if runErr != nil {
		s.logger.Error().
			Err(runErr).
			Str("run_id", report.RunID).
			Str("source", report.Source).
			Int("rows_read", report.RowsRead).
			Int("inserted", report.Inserted).
			Msg("Ingestion aborted")
		s.publish(bg, interfaces.Event{Type: interfaces.EventIngestionFailed, Payload: run})
		return
	}

	s.logger.Info().
		Str("run_id", report.RunID).
		Str("source", report.Source).
		Int("rows_read", report.RowsRead).
		Int("inserted", report.Inserted).
		Int("skipped_duplicate", report.SkippedDuplicate).
		Int("rejected", report.Rejected).
		Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
		Msg("Ingestion completed")

	s.publish(bg, interfaces.Event{Type: interfaces.EventIngestionCompleted, Payload: report})
}

func (s *Service) publish(ctx context.Context, event interfaces.Event) {
	if s.eventService == nil {
		return
	}
	// Synchronous so the cache is invalidated before Ingest returns
	if err := s.eventService.PublishSync(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("event_type", string(event.Type)).Msg("Event handlers failed")
	}
}

// IngestReader ingests a CSV stream such as an upload
func (s *Service) IngestReader(ctx context.Context, name string, r io.Reader) (*models.IngestionReport, error) {
	source, err := NewCSVSource(name, r)
	if err != nil {
		return nil, err
	}
	defer source.Close()
	return s.Ingest(ctx, source)
}

// IngestFile ingests one CSV file
func (s *Service) IngestFile(ctx context.Context, path string) (*models.IngestionReport, error) {
	source, err := OpenCSVFile(path)
	if err != nil {
		return nil, err
	}
	defer source.Close()
	return s.Ingest(ctx, source)
}

// IngestDirectory ingests every *.csv in dir over the worker pool and merges the reports.
// Each file is its own run. File errors are joined and returned after all files finish.
func (s *Service) IngestDirectory(ctx context.Context, dir string) (*models.IngestionReport, error) {
	paths, err := ListCSVFiles(dir)
	if err != nil {
		return nil, err
	}

	merged := &models.IngestionReport{
		RunID:  uuid.New().String(),
		Source: dir,
		Errors: []models.RowError{},
	}
	if len(paths) == 0 {
		now := s.now().UTC()
		merged.StartedAt, merged.FinishedAt = now, now
		return merged, nil
	}

	reports := make([]*models.IngestionReport, len(paths))
	jobs := make([]worker.Job, len(paths))
	for i, path := range paths {
		i, path := i, path
		jobs[i] = worker.Job{
			ID: path,
			Run: func(ctx context.Context) error {
				report, err := s.IngestFile(ctx, path)
				reports[i] = report
				return err
			},
		}
	}

	s.logger.Info().
		Str("dir", dir).
		Int("files", len(paths)).
		Int("workers", s.workers).
		Msg("Ingesting directory")

	var errs []error
	for i, res := range worker.RunAll(ctx, s.logger, s.workers, jobs) {
		merged.Merge(reports[i])
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(paths[i]), res.Err))
		}
	}

	return merged, errors.Join(errs...)
}

// ListCSVFiles returns the *.csv files directly inside dir, sorted by name
func ListCSVFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read source directory %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".csv") {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
