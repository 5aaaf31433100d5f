package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockpulse/internal/common"
	"github.com/ternarybob/stockpulse/internal/interfaces"
	"github.com/ternarybob/stockpulse/internal/models"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// Message types
const (
	MessageHello              = "hello"
	MessageIngestionCompleted = "ingestion_completed"
	MessageIngestionFailed    = "ingestion_failed"
	MessageAppStatus          = "app_status"
)

const (
	writeTimeout = 5 * time.Second
	outboxSize   = 256 // event messages waiting for the dispatcher
)

type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// HelloMessage is sent once per connection. Clients reset state when the
// server instance id changes.
type HelloMessage struct {
	ServerInstanceID string    `json:"server_instance_id"`
	Version          string    `json:"version"`
	Timestamp        time.Time `json:"timestamp"`
}

// IngestionUpdate carries the counts of a finished ingestion run
type IngestionUpdate struct {
	RunID            string    `json:"run_id"`
	Source           string    `json:"source"`
	Status           string    `json:"status"`
	RowsRead         int       `json:"rows_read"`
	Inserted         int       `json:"inserted"`
	SkippedDuplicate int       `json:"skipped_duplicate"`
	Rejected         int       `json:"rejected"`
	Error            string    `json:"error,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

type AppStatusUpdate struct {
	State     string                 `json:"state"`
	Metadata  map[string]interface{} `json:"metadata"`
	Timestamp time.Time              `json:"timestamp"`
}

type WebSocketHandler struct {
	logger           arbor.ILogger
	clients          map[*websocket.Conn]bool
	clientMutex      map[*websocket.Conn]*sync.Mutex
	mu               sync.RWMutex
	eventService     interfaces.EventService
	statusThrottler  *rate.Limiter // Rate limiter for app_status events, nil disables
	serverInstanceID string        // Unique ID generated on startup

	// Event messages are broadcast in order by a single dispatcher goroutine
	outbox    chan WSMessage
	done      chan struct{}
	closeOnce sync.Once
}

func NewWebSocketHandler(eventService interfaces.EventService, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		eventService:     eventService,
		serverInstanceID: uuid.New().String(),
		outbox:           make(chan WSMessage, outboxSize),
		done:             make(chan struct{}),
	}

	if config != nil {
		if interval := config.ThrottleInterval(); interval > 0 {
			h.statusThrottler = rate.NewLimiter(rate.Every(interval), 1)
			logger.Debug().
				Dur("interval", interval).
				Msg("Throttler initialized for app_status events")
		}
	}

	if eventService != nil {
		common.SafeGo(logger, "websocket-dispatch", h.dispatch)
		if err := h.SubscribeToEvents(); err != nil {
			logger.Warn().Err(err).Msg("Failed to subscribe WebSocket handler to events")
		}
	}

	return h
}

// Close stops the event dispatcher. Queued messages are dropped.
func (h *WebSocketHandler) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *WebSocketHandler) dispatch() {
	for {
		select {
		case <-h.done:
			return
		case msg := <-h.outbox:
			h.Broadcast(msg)
		}
	}
}

// enqueue hands msg to the dispatcher without blocking, dropping it when the queue is full
func (h *WebSocketHandler) enqueue(msg WSMessage) {
	select {
	case <-h.done:
		return
	default:
	}

	select {
	case h.outbox <- msg:
	default:
		h.logger.Warn().
			Str("type", msg.Type).
			Int("queued", len(h.outbox)).
			Msg("WebSocket outbox full, message dropped")
	}
}

// HandleWebSocket handles WebSocket connections
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	mutex := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = mutex
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client connected")

	h.send(conn, mutex, WSMessage{
		Type: MessageHello,
		Payload: HelloMessage{
			ServerInstanceID: h.serverInstanceID,
			Version:          common.GetVersion(),
			Timestamp:        time.Now(),
		},
	})

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Int("clients", remaining).Msg("WebSocket client disconnected")
	}()

	// Read messages from client (keep connection alive)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WebSocketHandler) send(conn *websocket.Conn, mutex *sync.Mutex, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	mutex.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = conn.WriteMessage(websocket.TextMessage, data)
	mutex.Unlock()

	if err != nil {
		h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send message to client")
	}
}

// Broadcast sends msg to all connected clients
func (h *WebSocketHandler) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		mutex := mutexes[i]
		mutex.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to broadcast to client")
		}
	}
}

// SubscribeToEvents forwards ingestion outcomes and app state changes to clients.
// Ingestion outcomes are never throttled.
func (h *WebSocketHandler) SubscribeToEvents() error {
	if err := h.eventService.Subscribe(interfaces.EventIngestionCompleted, func(ctx context.Context, event interfaces.Event) error {
		report, ok := event.Payload.(*models.IngestionReport)
		if !ok {
			h.logger.Warn().Msg("Invalid ingestion completed event payload type")
			return nil
		}

		h.enqueue(WSMessage{
			Type: MessageIngestionCompleted,
			Payload: IngestionUpdate{
				RunID:            report.RunID,
				Source:           report.Source,
				Status:           models.RunStatusCompleted,
				RowsRead:         report.RowsRead,
				Inserted:         report.Inserted,
				SkippedDuplicate: report.SkippedDuplicate,
				Rejected:         report.Rejected,
				Timestamp:        report.FinishedAt,
			},
		})
		return nil
	}); err != nil {
		return fmt.Errorf("subscribe %s: %w", interfaces.EventIngestionCompleted, err)
	}

	if err := h.eventService.Subscribe(interfaces.EventIngestionFailed, func(ctx context.Context, event interfaces.Event) error {
		run, ok := event.Payload.(*models.IngestionRun)
		if !ok {
			h.logger.Warn().Msg("Invalid ingestion failed event payload type")
			return nil
		}

		h.enqueue(WSMessage{
			Type: MessageIngestionFailed,
			Payload: IngestionUpdate{
				RunID:            run.ID,
				Source:           run.Source,
				Status:           run.Status,
				RowsRead:         run.RowsRead,
				Inserted:         run.Inserted,
				SkippedDuplicate: run.SkippedDuplicate,
				Rejected:         run.Rejected,
				Error:            run.Error,
				Timestamp:        run.FinishedAt,
			},
		})
		return nil
	}); err != nil {
		return fmt.Errorf("subscribe %s: %w", interfaces.EventIngestionFailed, err)
	}

	if err := h.eventService.Subscribe(interfaces.EventStatusChanged, func(ctx context.Context, event interfaces.Event) error {
		payload, ok := event.Payload.(map[string]interface{})
		if !ok {
			h.logger.Warn().Msg("Invalid status changed event payload type")
			return nil
		}

		if h.statusThrottler != nil && !h.statusThrottler.Allow() {
			return nil
		}

		update := AppStatusUpdate{Timestamp: time.Now()}
		if state, ok := payload["state"].(string); ok {
			update.State = state
		}
		if metadata, ok := payload["metadata"].(map[string]interface{}); ok {
			update.Metadata = metadata
		}
		if ts, ok := payload["timestamp"].(time.Time); ok {
			update.Timestamp = ts
		}

		h.enqueue(WSMessage{Type: MessageAppStatus, Payload: update})
		return nil
	}); err != nil {
		return fmt.Errorf("subscribe %s: %w", interfaces.EventStatusChanged, err)
	}

	return nil
}
