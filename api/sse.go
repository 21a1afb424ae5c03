package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"dsu/inventory"
)

// sseEvent is the JSON payload streamed to /events subscribers, grounded on
// the teacher's api/sse.go eventHub shape, narrowed to the inventory's
// DevLstEvent kinds instead of per-tag value changes.
type sseEvent struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Device    string      `json:"device,omitempty"`
	Cmd       string      `json:"cmd,omitempty"`
	Pack      []byte      `json:"pack,omitempty"`
}

func sseEventOf(e inventory.Event) sseEvent {
	out := sseEvent{Type: e.Type.String(), Timestamp: e.Timestamp, Pack: e.Pack}
	if dev, ok := e.Device.(fmt.Stringer); ok {
		out.Device = dev.String()
	}
	if cmd, ok := e.Cmd.(fmt.Stringer); ok {
		out.Cmd = cmd.String()
	}
	return out
}

type sseClient struct {
	id     string
	events chan sseEvent
	done   chan struct{}
}

// eventHub fans out Broadcast calls to every currently-connected SSE
// client, dropping events for any client whose buffer is full rather than
// blocking the inventory's emitting goroutine (§5's observer-must-not-block
// requirement).
type eventHub struct {
	clients    map[string]*sseClient
	register   chan *sseClient
	unregister chan *sseClient
	broadcast  chan sseEvent
	mu         sync.RWMutex
	done       chan struct{}
}

func newEventHub() *eventHub {
	h := &eventHub{
		clients:    make(map[string]*sseClient),
		register:   make(chan *sseClient),
		unregister: make(chan *sseClient),
		broadcast:  make(chan sseEvent, 256),
		done:       make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *eventHub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.events)
			}
			h.mu.Unlock()
		case e := <-h.broadcast:
			h.mu.RLock()
			for _, c := range h.clients {
				select {
				case c.events <- e:
				default:
				}
			}
			h.mu.RUnlock()
		case <-h.done:
			h.mu.Lock()
			for id, c := range h.clients {
				close(c.events)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *eventHub) Broadcast(e sseEvent) {
	select {
	case h.broadcast <- e:
	default:
	}
}

func (h *eventHub) Stop() {
	close(h.done)
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := &sseClient{
		id:     fmt.Sprintf("%p", r),
		events: make(chan sseEvent, 32),
		done:   make(chan struct{}),
	}
	s.hub.register <- client
	defer func() { s.hub.unregister <- client }()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-client.events:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
			flusher.Flush()
		}
	}
}
