// Package scheduler re-ingests the configured CSV sources on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockpulse/internal/common"
	"github.com/ternarybob/stockpulse/internal/interfaces"
	"github.com/ternarybob/stockpulse/internal/models"
)

// ErrAlreadyRunning is returned when an ingestion cycle is already in progress
var ErrAlreadyRunning = errors.New("ingestion cycle already running")

// ErrNoSources is returned when neither csv_path nor source_dir is configured
var ErrNoSources = errors.New("no ingestion sources configured")

// Status describes the scheduler for the API
type Status struct {
	Running    bool       `json:"running"`
	Schedule   string     `json:"schedule,omitempty"`
	Processing bool       `json:"processing"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	NextRun    *time.Time `json:"next_run,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// Service runs ingestion cycles over the configured sources
type Service struct {
	ingestion interfaces.IngestionService
	config    common.IngestionConfig
	cron      *cron.Cron
	logger    arbor.ILogger

	mu           sync.Mutex
	running      bool
	isProcessing bool
	entryID      cron.EntryID
	lastRun      *time.Time
	lastError    string
}

// NewService creates a scheduler for the ingestion sources in config
func NewService(ingestion interfaces.IngestionService, config common.IngestionConfig, logger arbor.ILogger) *Service {
	return &Service{
		ingestion: ingestion,
		config:    config,
		cron:      cron.New(),
		logger:    logger,
	}
}

// Start registers the cron entry. An empty schedule leaves the scheduler idle.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if s.config.Schedule == "" {
		s.logger.Info().Msg("Scheduled ingestion disabled (no schedule configured)")
		return nil
	}

	id, err := s.cron.AddFunc(s.config.Schedule, s.runScheduledTask)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	s.entryID = id
	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.config.Schedule).
		Str("csv_path", s.config.CSVPath).
		Str("source_dir", s.config.SourceDir).
		Msg("Scheduler started")
	return nil
}

// Stop halts the scheduler and waits for a running cycle to finish
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

func (s *Service) runScheduledTask() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("PANIC RECOVERED in scheduled ingestion")
		}
	}()

	report, err := s.RunNow(context.Background())
	if errors.Is(err, ErrAlreadyRunning) {
		s.logger.Debug().Msg("Previous ingestion cycle still running, skipping")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("Scheduled ingestion failed")
		return
	}

	s.logger.Info().
		Int("inserted", report.Inserted).
		Int("skipped_duplicate", report.SkippedDuplicate).
		Int("rejected", report.Rejected).
		Msg("Scheduled ingestion completed")
}

// RunNow ingests csv_path and every CSV in source_dir once. Only one cycle
// runs at a time; a second caller gets ErrAlreadyRunning.
func (s *Service) RunNow(ctx context.Context) (*models.IngestionReport, error) {
	if s.config.CSVPath == "" && s.config.SourceDir == "" {
		return nil, ErrNoSources
	}

	s.mu.Lock()
	if s.isProcessing {
		s.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	s.isProcessing = true
	s.mu.Unlock()

	report, err := s.cycle(ctx)

	now := time.Now()
	s.mu.Lock()
	s.isProcessing = false
	s.lastRun = &now
	s.lastError = ""
	if err != nil {
		s.lastError = err.Error()
	}
	s.mu.Unlock()

	return report, err
}

func (s *Service) cycle(ctx context.Context) (*models.IngestionReport, error) {
	merged := &models.IngestionReport{Source: "scheduled", Errors: []models.RowError{}}
	var errs []error

	if s.config.CSVPath != "" {
		if _, statErr := os.Stat(s.config.CSVPath); statErr != nil {
			errs = append(errs, fmt.Errorf("csv_path unavailable: %w", statErr))
		} else {
			report, err := s.ingestion.IngestFile(ctx, s.config.CSVPath)
			merged.Merge(report)
			if err != nil {
				errs = append(errs, err)
			}
		}
	}

	if s.config.SourceDir != "" {
		report, err := s.ingestion.IngestDirectory(ctx, s.config.SourceDir)
		merged.Merge(report)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return merged, errors.Join(errs...)
}

// GetStatus returns the scheduler state
func (s *Service) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Running:    s.running,
		Schedule:   s.config.Schedule,
		Processing: s.isProcessing,
		LastRun:    s.lastRun,
		LastError:  s.lastError,
	}
	if s.running {
		if next := s.cron.Entry(s.entryID).Next; !next.IsZero() {
			status.NextRun = &next
		}
	}
	return status
}
