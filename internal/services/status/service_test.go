package status

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockpulse/internal/interfaces"
	"github.com/ternarybob/stockpulse/internal/models"
	"github.com/ternarybob/stockpulse/internal/services/events"
)

func TestService_IngestionLifecycle(t *testing.T) {
	logger := arbor.NewLogger()
	eventService := events.NewService(logger)
	defer eventService.Close()

	var mu sync.Mutex
	var states []string
	require.NoError(t, eventService.Subscribe(interfaces.EventStatusChanged, func(ctx context.Context, event interfaces.Event) error {
		payload := event.Payload.(map[string]interface{})
		mu.Lock()
		states = append(states, payload["state"].(string))
		mu.Unlock()
		return nil
	}))

	svc := NewService(eventService, logger)
	assert.Equal(t, StateIdle, svc.GetState())

	svc.BeginIngestion("a.csv")
	svc.BeginIngestion("b.csv")
	assert.Equal(t, StateIngesting, svc.GetState())

	svc.EndIngestion()
	assert.Equal(t, StateIngesting, svc.GetState(), "one run still active")

	svc.EndIngestion()
	assert.Equal(t, StateIdle, svc.GetState())

	// Flush async handlers before reading
	require.NoError(t, eventService.Close())
	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"ingesting", "idle"}, states)
}

func TestService_OverlappingIngestionsSettleIdle(t *testing.T) {
	logger := arbor.NewLogger()
	eventService := events.NewService(logger)
	defer eventService.Close()

	svc := NewService(eventService, logger)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				svc.BeginIngestion("batch.csv")
				svc.EndIngestion()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, svc.ActiveIngestions())
	assert.Equal(t, StateIdle, svc.GetState())

	// A run that starts while another ends keeps the service ingesting
	svc.BeginIngestion("a.csv")
	var started sync.WaitGroup
	started.Add(1)
	go func() {
		defer started.Done()
		svc.BeginIngestion("b.csv")
	}()
	svc.EndIngestion()
	started.Wait()

	assert.Equal(t, 1, svc.ActiveIngestions())
	assert.Equal(t, StateIngesting, svc.GetState())
}

func TestService_RecordsIngestionFailures(t *testing.T) {
	logger := arbor.NewLogger()
	eventService := events.NewService(logger)
	defer eventService.Close()

	svc := NewService(eventService, logger)
	require.NoError(t, svc.SubscribeToIngestionEvents())

	require.NoError(t, eventService.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventIngestionFailed,
		Payload: &models.IngestionRun{ID: "run-1", Error: "disk full"},
	}))

	metadata := svc.GetStatus()["metadata"].(map[string]interface{})
	assert.Equal(t, "disk full", metadata["last_failure"])
	assert.Equal(t, "run-1", metadata["last_failure_run"])
}
