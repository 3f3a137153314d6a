package webserver

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	syncerrors "github.com/sidesync/sidesync/internal/errors"
)

// EventType identifies a live event pushed over /ws.
type EventType string

const (
	// EventSyncUpdate carries the changed payload after a sync.
	EventSyncUpdate EventType = "sync_update"

	// EventSyncError carries a sync failure message and code.
	EventSyncError EventType = "sync_error"

	// EventState is the welcome message sent on connect.
	EventState EventType = "state"
)

// Event is one message pushed to connected clients.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// PublishSyncUpdate broadcasts the changed payload to connected event
// clients. No-op when events are disabled or the server is stopped.
func (s *Server) PublishSyncUpdate(data map[string]any) {
	s.publish(EventSyncUpdate, data)
}

// PublishSyncError broadcasts a sync failure to connected event clients.
// No-op when events are disabled or the server is stopped.
func (s *Server) PublishSyncError(message string, code syncerrors.Code) {
	s.publish(EventSyncError, map[string]any{
		"message": message,
		"code":    string(code),
	})
}

func (s *Server) publish(eventType EventType, payload any) {
	s.mu.Lock()
	h := s.hub
	s.mu.Unlock()
	if h == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Printf("failed to encode %s event: %v", eventType, err)
		return
	}
	h.broadcast(Event{Type: eventType, Timestamp: time.Now(), Data: data})
}

// hub fans events out to the WebSocket clients connected to /ws.
type hub struct {
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	events chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

func newHub(logger *log.Logger) *hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &hub{
		clients: make(map[*websocket.Conn]bool),
		events:  make(chan Event, 100),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
	h.wg.Add(1)
	go h.broadcastLoop()
	return h
}

// broadcast queues an event for delivery. Events are dropped when the
// queue is full rather than blocking the caller.
func (h *hub) broadcast(ev Event) {
	select {
	case h.events <- ev:
	case <-h.ctx.Done():
	default:
		h.logger.Println("event queue full, dropping event")
	}
}

func (h *hub) broadcastLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return

		case ev := <-h.events:
			if ev.Timestamp.IsZero() {
				ev.Timestamp = time.Now()
			}

			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Printf("failed to encode event: %v", err)
				continue
			}

			h.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				clients = append(clients, conn)
			}
			h.clientsMu.RUnlock()

			// Write outside the lock so a slow client cannot block
			// connects and disconnects.
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					h.logger.Printf("failed to send to event client: %v", err)
					h.removeClient(conn)
				}
			}
		}
	}
}

// ServeHTTP upgrades the connection and registers the client.
func (h *hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Printf("websocket upgrade failed: %v", err)
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = true
	total := len(h.clients)
	h.clientsMu.Unlock()

	h.logger.Printf("event client connected (total: %d)", total)

	welcome, _ := json.Marshal(Event{Type: EventState, Timestamp: time.Now()})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = conn.Write(ctx, websocket.MessageText, welcome)
	cancel()

	go h.readLoop(conn)
}

// readLoop drains client frames until disconnect. Client messages are
// not processed.
func (h *hub) readLoop(conn *websocket.Conn) {
	defer h.removeClient(conn)

	for {
		if _, _, err := conn.Read(h.ctx); err != nil {
			return
		}
	}
}

func (h *hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	if _, ok := h.clients[conn]; !ok {
		h.clientsMu.Unlock()
		return
	}
	delete(h.clients, conn)
	total := len(h.clients)
	h.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	h.logger.Printf("event client disconnected (total: %d)", total)
}

func (h *hub) clientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// stop disconnects all clients and ends the broadcast loop.
func (h *hub) stop() {
	h.cancel()

	h.clientsMu.Lock()
	for conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.clients, conn)
	}
	h.clientsMu.Unlock()

	h.wg.Wait()
}
