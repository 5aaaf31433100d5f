package status

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockpulse/internal/interfaces"
	"github.com/ternarybob/stockpulse/internal/models"
)

// AppState represents the application state
type AppState string

const (
	StateIdle      AppState = "idle"
	StateIngesting AppState = "ingesting"
	StateOffline   AppState = "offline"
)

// Service manages application status
type Service struct {
	state        AppState
	active       int
	lastFailure  *models.IngestionRun
	mu           sync.RWMutex
	transitionMu sync.Mutex // serialises state changes with the run counter
	eventService interfaces.EventService
	logger       arbor.ILogger
	metadata     map[string]interface{}
}

// NewService creates a new StatusService
func NewService(eventService interfaces.EventService, logger arbor.ILogger) *Service {
	return &Service{
		state:        StateIdle,
		eventService: eventService,
		logger:       logger,
		metadata:     make(map[string]interface{}),
	}
}

// GetState returns the current application state (thread-safe)
func (s *Service) GetState() AppState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetState updates the application state and broadcasts the change
func (s *Service) SetState(state AppState, metadata map[string]interface{}) {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()
	s.setState(state, metadata)
}

// setState applies a transition. Caller holds transitionMu.
func (s *Service) setState(state AppState, metadata map[string]interface{}) {
	s.mu.Lock()
	oldState := s.state
	s.state = state
	if metadata != nil {
		s.metadata = metadata
	} else {
		s.metadata = make(map[string]interface{})
	}
	s.mu.Unlock()

	if oldState == state {
		return
	}

	s.logger.Info().
		Str("old_state", string(oldState)).
		Str("new_state", string(state)).
		Msg("Application state changed")

	event := interfaces.Event{
		Type: interfaces.EventStatusChanged,
		Payload: map[string]interface{}{
			"state":     string(state),
			"metadata":  metadata,
			"timestamp": time.Now(),
		},
	}
	if err := s.eventService.Publish(context.Background(), event); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish status change")
	}
}

// BeginIngestion marks an ingestion run as active. Concurrent runs are counted.
func (s *Service) BeginIngestion(source string) {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()

	s.mu.Lock()
	s.active++
	s.mu.Unlock()
	s.setState(StateIngesting, map[string]interface{}{"source": source})
}

// EndIngestion returns to idle once the last active run finishes
func (s *Service) EndIngestion() {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()

	s.mu.Lock()
	if s.active > 0 {
		s.active--
	}
	remaining := s.active
	s.mu.Unlock()

	if remaining == 0 {
		s.setState(StateIdle, nil)
	}
}

// ActiveIngestions returns the number of runs in progress
func (s *Service) ActiveIngestions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// GetStatus returns the full status including state, metadata, and timestamp
func (s *Service) GetStatus() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	metadataCopy := make(map[string]interface{})
	for k, v := range s.metadata {
		metadataCopy[k] = v
	}
	if s.lastFailure != nil {
		metadataCopy["last_failure"] = s.lastFailure.Error
		metadataCopy["last_failure_run"] = s.lastFailure.ID
	}

	return map[string]interface{}{
		"state":       string(s.state),
		"active_runs": s.active,
		"metadata":    metadataCopy,
		"timestamp":   time.Now(),
	}
}

// SubscribeToIngestionEvents keeps the last failed run in the status metadata
func (s *Service) SubscribeToIngestionEvents() error {
	if err := s.eventService.Subscribe(interfaces.EventIngestionFailed, func(ctx context.Context, event interfaces.Event) error {
		run, ok := event.Payload.(*models.IngestionRun)
		if !ok {
			return nil
		}
		s.mu.Lock()
		s.lastFailure = run
		s.mu.Unlock()
		return nil
	}); err != nil {
		return err
	}

	s.logger.Debug().Msg("StatusService subscribed to ingestion events")
	return nil
}
