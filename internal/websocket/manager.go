// Package websocket broadcasts orchestrator cycle, phase, match, and action
// events to connected operator dashboards in real time, so the admin API's
// poll-based status endpoint doesn't have to be the only way to watch a
// cycle run.
package websocket

import (
	"encoding/json"
	"sync"

	"github.com/fntelecomllc/bankreconciler/internal/logging"
)

var log = logging.For("websocket")

// Broadcaster is the surface the orchestrator and dispatcher use to publish
// events, kept narrow so those packages never import gorilla/websocket
// directly.
type Broadcaster interface {
	RegisterClient(client *Client)
	UnregisterClient(client *Client)
	Broadcast(message Message)
	Run()
}

// Manager fans messages out to every connected client over buffered
// per-client send channels, dropping a client whose channel is full rather
// than blocking the broadcaster.
type Manager struct {
	mutex   sync.RWMutex
	clients map[*Client]bool

	broadcast  chan Message
	register   chan *Client
	unregister chan *Client

	totalConnections int
}

// NewManager creates a Manager ready to Run in its own goroutine.
func NewManager() *Manager {
	return &Manager{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run processes registrations, unregistrations, and broadcasts until the
// process exits. It is meant to be started with `go manager.Run()`.
func (m *Manager) Run() {
	for {
		select {
		case client := <-m.register:
			m.mutex.Lock()
			m.clients[client] = true
			m.totalConnections++
			m.mutex.Unlock()
			log.Debug("websocket_register", "client connected", logging.Fields{"total": m.totalConnections})

		case client := <-m.unregister:
			m.mutex.Lock()
			if _, ok := m.clients[client]; ok {
				delete(m.clients, client)
				close(client.send)
			}
			m.mutex.Unlock()

		case message := <-m.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				log.Error("websocket_broadcast", "marshal failed", err, nil)
				continue
			}
			m.mutex.RLock()
			for client := range m.clients {
				select {
				case client.send <- data:
				default:
					go m.UnregisterClient(client)
				}
			}
			m.mutex.RUnlock()
		}
	}
}

// RegisterClient admits a newly-accepted connection.
func (m *Manager) RegisterClient(client *Client) {
	m.register <- client
}

// UnregisterClient removes a client, closing its send channel.
func (m *Manager) UnregisterClient(client *Client) {
	m.unregister <- client
}

// Broadcast fans a message out to every connected client.
func (m *Manager) Broadcast(message Message) {
	m.broadcast <- message
}

// Stats reports the current and lifetime connection counts.
func (m *Manager) Stats() (active int, total int) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients), m.totalConnections
}

var _ Broadcaster = (*Manager)(nil)
