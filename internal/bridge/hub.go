// Package bridge exposes the cast session to JS runtime clients over a
// websocket: events flow out as JSON frames, commands flow back in.
package bridge

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
	"go2tv.app/castbridge/internal/mediastatus"
	"go2tv.app/castbridge/internal/metrics"
)

// EventCommandResult is the frame type of a command reply.
const EventCommandResult = "GoogleCast:CommandResult"

// Frame is one websocket text message.
type Frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub keeps the set of connected clients and fans events out to them.
type Hub struct {
	mu         sync.Mutex
	clients    map[*Client]struct{}
	lastStatus []byte
	log        zerolog.Logger
}

var _ mediastatus.Emitter = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		log:     logger.With().Str("Component", "bridge").Logger(),
	}
}

// Emit marshals ev into a frame and queues it for every client. It never
// blocks: a client whose buffer is full misses the frame.
func (h *Hub) Emit(ev mediastatus.Event) {
	b, err := json.Marshal(Frame{Type: ev.Name, Payload: ev.Body})
	if err != nil {
		h.log.Error().Str("Method", "Emit").Str("Event", ev.Name).Err(err).Msg("marshal failed")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if ev.Name == mediastatus.EventMediaStatusUpdated {
		h.lastStatus = b
	}
	for c := range h.clients {
		c.enqueue(b)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = struct{}{}
	metrics.BridgeClients.Inc()
	if h.lastStatus != nil {
		c.enqueue(h.lastStatus)
	}
	h.log.Debug().Str("Method", "register").Str("Client", c.id).Msg("client connected")
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.BridgeClients.Dec()
	h.log.Debug().Str("Method", "unregister").Str("Client", c.id).Msg("client disconnected")
}

// sendTo queues a frame for one client, if it is still registered.
func (h *Hub) sendTo(c *Client, frame Frame) {
	b, err := json.Marshal(frame)
	if err != nil {
		h.log.Error().Str("Method", "sendTo").Err(err).Msg("marshal failed")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		c.enqueue(b)
	}
}

// closeAll drops every client connection. Used on shutdown, since the HTTP
// server does not track hijacked connections.
func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
