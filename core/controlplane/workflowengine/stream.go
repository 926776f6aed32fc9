package workflowengine

import (
	"context"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/cordum/flowline/core/infra/logging"
	"github.com/cordum/flowline/core/workflow"
)

const (
	clientBuffer   = 100
	eventsBuffer   = 1024
	wsWriteTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub fans engine events out to connected WebSocket clients. Clients that
// cannot keep up are disconnected.
type Hub struct {
	events chan workflow.Event

	mu      sync.RWMutex
	clients map[*websocket.Conn]chan workflow.Event

	done chan struct{}
	once sync.Once
}

func NewHub() *Hub {
	return &Hub{
		events:  make(chan workflow.Event, eventsBuffer),
		clients: make(map[*websocket.Conn]chan workflow.Event),
		done:    make(chan struct{}),
	}
}

// Emit implements workflow.EventSink. Events are dropped when the hub is
// saturated or closed.
func (h *Hub) Emit(_ context.Context, evt workflow.Event) {
	select {
	case <-h.done:
		return
	default:
	}
	select {
	case h.events <- evt:
	default:
		logging.Debug(logComponent, "event stream saturated, dropping event", "type", evt.Type)
	}
}

// Run broadcasts until ctx is done or Close is called.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.Close()
			return
		case <-h.done:
			return
		case evt := <-h.events:
			h.broadcast(evt)
		}
	}
}

// Close stops the hub and disconnects every client.
func (h *Hub) Close() {
	h.once.Do(func() {
		close(h.done)
		h.mu.Lock()
		for conn := range h.clients {
			_ = conn.Close()
		}
		h.mu.Unlock()
	})
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(evt workflow.Event) {
	var slow []*websocket.Conn
	h.mu.RLock()
	for conn, ch := range h.clients {
		select {
		case ch <- evt:
		default:
			slow = append(slow, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range slow {
		logging.Warn(logComponent, "dropping slow stream client", "remote", conn.RemoteAddr().String())
		_ = conn.Close()
	}
}

// ServeHTTP upgrades the request and streams events as JSON text frames.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error(logComponent, "ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	ch := make(chan workflow.Event, clientBuffer)
	h.mu.Lock()
	h.clients[ws] = ch
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, ws)
		h.mu.Unlock()
	}()
	logging.Info(logComponent, "ws connected", "remote", r.RemoteAddr)

	// The read side only detects the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt := <-ch:
			data, err := json.Marshal(evt)
			if err != nil {
				logging.Error(logComponent, "encode event", "error", err)
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-gone:
			return
		case <-h.done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// fanout delivers each event to every sink.
type fanout []workflow.EventSink

func (f fanout) Emit(ctx context.Context, evt workflow.Event) {
	for _, sink := range f {
		if sink != nil {
			sink.Emit(ctx, evt)
		}
	}
}
