package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockpulse/internal/interfaces"
	"github.com/ternarybob/stockpulse/internal/models"
)

// NewLoggerSubscriber creates an event handler that logs all events
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		logEvent := logger.Debug().
			Str("event_type", string(event.Type))

		switch payload := event.Payload.(type) {
		case *models.IngestionReport:
			logEvent = logEvent.
				Str("run_id", payload.RunID).
				Str("source", payload.Source).
				Int("inserted", payload.Inserted).
				Int("skipped_duplicate", payload.SkippedDuplicate).
				Int("rejected", payload.Rejected)
		case *models.IngestionRun:
			logEvent = logEvent.
				Str("run_id", payload.ID).
				Str("status", payload.Status)
		case map[string]interface{}:
			if state, ok := payload["state"].(string); ok {
				logEvent = logEvent.Str("state", state)
			}
		}

		logEvent.Msg("Event published")

		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to all known event types
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	eventTypes := []interfaces.EventType{
		interfaces.EventIngestionCompleted,
		interfaces.EventIngestionFailed,
		interfaces.EventStatusChanged,
	}

	for _, eventType := range eventTypes {
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}

	logger.Debug().
		Int("event_type_count", len(eventTypes)).
		Msg("Logger subscribed to all event types")

	return nil
}
