package main

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"worker-host/src/shim"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

const tailWriteTimeout = 5 * time.Second

// TailEvent is what tail clients receive for each entrypoint call.
type TailEvent struct {
	ID         string    `json:"id"`
	Entrypoint string    `json:"entrypoint"`
	Started    time.Time `json:"started"`
	DurationMs float64   `json:"duration_ms"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
}

type tailClient struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	filter string
}

func (c *tailClient) send(ev TailEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(tailWriteTimeout))
	return c.conn.WriteJSON(ev)
}

// TailHub streams shim events to connected websocket clients.
type TailHub struct {
	mu      sync.RWMutex
	clients map[*tailClient]struct{}
}

func NewTailHub() *TailHub {
	return &TailHub{clients: make(map[*tailClient]struct{})}
}

// Observe broadcasts ev. Clients whose writes fail are dropped.
func (h *TailHub) Observe(ev shim.Event) {
	te := TailEvent{
		ID:         ev.ID,
		Entrypoint: string(ev.Entrypoint),
		Started:    ev.Started,
		DurationMs: float64(ev.Duration.Microseconds()) / 1000,
		Outcome:    outcome(ev.Err),
	}
	if ev.Err != nil {
		te.Error = ev.Err.Error()
	}

	h.mu.RLock()
	clients := make([]*tailClient, 0, len(h.clients))
	for c := range h.clients {
		if c.filter == "" || c.filter == te.Entrypoint {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.send(te); err != nil {
			log.Printf("tail client dropped: %v", err)
			h.remove(c)
			c.conn.Close()
		}
	}
}

func (h *TailHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *TailHub) add(c *tailClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *TailHub) remove(c *tailClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and keeps the client registered until it
// disconnects. ?entrypoint=fetch|scheduled|queue limits what it receives.
func (h *TailHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	client := &tailClient{conn: conn, filter: r.URL.Query().Get("entrypoint")}
	h.add(client)
	defer h.remove(client)

	// Reads only detect the disconnect; clients send nothing meaningful.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			log.Printf("Tail client %s disconnected: %v", r.RemoteAddr, err)
			return
		}
	}
}
