package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"ppe-sentinel/internal/core/debounce"
	"ppe-sentinel/internal/core/models"
	"ppe-sentinel/internal/core/processor"

	log "github.com/sirupsen/logrus"
)

// Event names sent to clients
const (
	EventState    = "state"
	EventEvidence = "evidence"
)

// Message is one server-sent event
type Message struct {
	Event string
	Data  []byte
}

// Client is the channel of one connected SSE client
type Client chan Message

// Hub manages the connected clients and broadcasts engine notifications to them
type Hub struct {
	clients    map[Client]bool
	broadcast  chan Message
	register   chan Client
	unregister chan Client
	done       chan struct{}
	mu         sync.Mutex
}

// StateData is sent on every state transition of a stream
type StateData struct {
	Camera    string    `json:"camera"`
	State     string    `json:"state"`
	Previous  string    `json:"previous"`
	EpisodeID string    `json:"episode_id,omitempty"`
	Label     string    `json:"label,omitempty"`
	At        time.Time `json:"at"`
}

var _ processor.Listener = (*Hub)(nil)

// NewHub creates a new hub
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 100),
		register:   make(chan Client),
		unregister: make(chan Client),
		done:       make(chan struct{}),
		clients:    make(map[Client]bool),
	}
}

// Run processes registrations and broadcasts until ctx is done, then closes
// every client channel
func (h *Hub) Run(ctx context.Context) error {
	log.Info("SSE Hub started and running")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client)
			}
			h.mu.Unlock()
			log.Info("SSE Hub stopped")
			return nil

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mu.Unlock()
			log.Infof("SSE client registered. Total clients: %d", clientCount)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
				log.Infof("SSE client unregistered. Total clients: %d", len(h.clients))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			log.Debugf("Broadcasting %s event to %d SSE clients", message.Event, len(h.clients))

			for client := range h.clients {
				select {
				case client <- message:
				default:
					log.Warn("SSE client channel full, removing client")
					delete(h.clients, client)
					close(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a client; it reports false when the hub has stopped
func (h *Hub) Register(client Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues a message for every client without blocking the caller
func (h *Hub) Broadcast(event string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Errorf("Error marshalling %s event for SSE: %v", event, err)
		return
	}

	select {
	case h.broadcast <- Message{Event: event, Data: payload}:
	default:
		log.Warn("SSE broadcast channel full. Message dropped.")
	}
}

// StateChanged broadcasts a stream state transition
func (h *Hub) StateChanged(camera string, ev debounce.Event) {
	h.Broadcast(EventState, StateData{
		Camera:    camera,
		State:     ev.State.String(),
		Previous:  ev.Previous.String(),
		EpisodeID: ev.EpisodeID,
		Label:     ev.Label,
		At:        time.Now(),
	})
}

// EvidenceCaptured broadcasts the summary of a stored record
func (h *Hub) EvidenceCaptured(rec models.Evidence) {
	h.Broadcast(EventEvidence, rec.Summary())
}
