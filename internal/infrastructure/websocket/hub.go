// Package websocket implements the live-dashboard push channel from
// SPEC_FULL.md §C.4 (a supplemental `/ws/executions/{id}` endpoint
// alongside the spec's required SSE `/events`). Grounded on the teacher's
// internal/infrastructure/websocket package (Hub/Client/register-
// unregister-broadcast channel loop, subscription indexing), generalized
// from workflow/user-scoped subscriptions to NoETL's single execution_id
// subscription key.
package websocket

import (
	"sync"

	"github.com/rs/zerolog"
)

// Broadcaster lets an Observer push events without depending on *Hub
// directly, matching the teacher's Broadcaster interface (documented
// there as the seam for a future Redis adapter).
type Broadcaster interface {
	Broadcast(executionID int64, event any)
}

// Subscriber is anything the hub can fan events out to: a websocket Client
// or an SSE connection (SSESubscriber, used by internal/api/sse). Both share the
// same execution_id-scoped delivery, just different wire framing.
type Subscriber interface {
	SubID() string
	SubExecutionID() int64
	SubSend() chan any
}

type broadcastMsg struct {
	executionID int64
	event       any
}

// Hub owns the subscriber registry and the single broadcast goroutine.
type Hub struct {
	clients    map[Subscriber]bool
	register   chan Subscriber
	unregister chan Subscriber
	broadcast  chan *broadcastMsg
	byExec     map[int64]map[Subscriber]bool

	log zerolog.Logger
	mu  sync.RWMutex
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[Subscriber]bool),
		register:   make(chan Subscriber),
		unregister: make(chan Subscriber),
		broadcast:  make(chan *broadcastMsg, 256),
		byExec:     make(map[int64]map[Subscriber]bool),
		log:        log,
	}
}

// Subscribe registers a Subscriber with the hub; used directly by
// non-websocket subscribers (SSE) that have no pump goroutines of their
// own to start.
func (h *Hub) Subscribe(s Subscriber) {
	h.register <- s
}

// Unsubscribe removes a Subscriber from the hub.
func (h *Hub) Unsubscribe(s Subscriber) {
	h.unregister <- s
}

// Run is the hub's single-goroutine event loop; the caller starts it with
// `go hub.Run()`.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.registerClient(c)
		case c := <-h.unregister:
			h.unregisterClient(c)
		case msg := <-h.broadcast:
			h.broadcastEvent(msg)
		}
	}
}

func (h *Hub) registerClient(c Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
	if h.byExec[c.SubExecutionID()] == nil {
		h.byExec[c.SubExecutionID()] = make(map[Subscriber]bool)
	}
	h.byExec[c.SubExecutionID()][c] = true
	h.log.Debug().Str("client_id", c.SubID()).Int64("execution_id", c.SubExecutionID()).Msg("websocket client registered")
}

func (h *Hub) unregisterClient(c Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.SubSend())
	if clients, ok := h.byExec[c.SubExecutionID()]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.byExec, c.SubExecutionID())
		}
	}
	h.log.Debug().Str("client_id", c.SubID()).Int64("execution_id", c.SubExecutionID()).Msg("websocket client unregistered")
}

// Broadcast implements Broadcaster.
func (h *Hub) Broadcast(executionID int64, event any) {
	h.broadcast <- &broadcastMsg{executionID: executionID, event: event}
}

func (h *Hub) broadcastEvent(msg *broadcastMsg) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.byExec[msg.executionID] {
		select {
		case c.SubSend() <- msg.event:
		default:
			h.log.Warn().Str("client_id", c.SubID()).Msg("websocket client buffer full, dropping message")
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
