// Package websocket pushes watcher events, tool results and log lines to
// dashboard clients.
package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Message types pushed to clients
const (
	TypeFileEvent  = "file_event"
	TypeToolResult = "tool_result"
	TypeJobUpdate  = "job_update"
	TypeLog        = "log"
	TypePong       = "pong"
)

const writeWait = 10 * time.Second

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	ID        string      `json:"id,omitempty"`
}

// client serializes writes to one connection
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Manager manages WebSocket connections for real-time updates. Nothing on the
// broadcast path logs, because the log writer itself broadcasts.
type Manager struct {
	clients  map[*client]bool
	mutex    sync.RWMutex
	upgrader websocket.Upgrader
	logs     *LogWriter
}

// NewManager creates a new WebSocket manager
func NewManager() *Manager {
	return &Manager{
		clients: make(map[*client]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// the dashboard is served from the same process
				return true
			},
		},
	}
}

// HandleConnection upgrades the request and serves the client until it leaves
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %s", err.Error())
		return
	}
	defer conn.Close()

	c := &client{conn: conn}
	m.mutex.Lock()
	m.clients[c] = true
	total := len(m.clients)
	m.mutex.Unlock()
	log.Printf("✅ Dashboard client connected. Total clients: %d", total)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %s", err.Error())
			}
			break
		}

		var data map[string]interface{}
		if err := json.Unmarshal(message, &data); err != nil {
			log.Printf("Failed to parse message: %s", err.Error())
			continue
		}

		switch data["type"] {
		case "client_ready":
			if m.logs != nil {
				m.logs.flushTo(c)
			}
		case "ping":
			m.send(c, WSMessage{Type: TypePong, Timestamp: time.Now(), Data: map[string]interface{}{"status": "ok"}})
		}
	}

	m.remove(c)
	log.Println("❌ Dashboard client disconnected")
}

// Broadcast sends a typed message to every client
func (m *Manager) Broadcast(msgType string, data interface{}) {
	payload, err := json.Marshal(WSMessage{Type: msgType, Timestamp: time.Now(), Data: data})
	if err != nil {
		return
	}
	m.broadcastRaw(payload)
}

func (m *Manager) broadcastRaw(payload []byte) {
	m.mutex.RLock()
	clients := make([]*client, 0, len(m.clients))
	for c := range m.clients {
		clients = append(clients, c)
	}
	m.mutex.RUnlock()

	for _, c := range clients {
		if err := c.write(payload); err != nil {
			m.remove(c)
		}
	}
}

func (m *Manager) send(c *client, msg WSMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := c.write(payload); err != nil {
		m.remove(c)
	}
}

func (m *Manager) remove(c *client) {
	m.mutex.Lock()
	delete(m.clients, c)
	m.mutex.Unlock()
}

// ConnectionCount returns the number of active connections
func (m *Manager) ConnectionCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients)
}

// Close disconnects every client
func (m *Manager) Close() {
	m.mutex.Lock()
	clients := m.clients
	m.clients = make(map[*client]bool)
	m.mutex.Unlock()
	for c := range clients {
		c.mu.Lock()
		c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.conn.Close()
		c.mu.Unlock()
	}
}

// LogWriter is an io.Writer for the standard logger that streams log lines
// to the dashboard. Lines written before the first client reports ready are
// buffered (up to maxBufferSize) and flushed to that client.
type LogWriter struct {
	manager       *Manager
	bufferMutex   sync.Mutex
	initialLogs   [][]byte
	clientReady   bool
	maxBufferSize int
}

// NewLogWriter creates the log writer and attaches it to m
func NewLogWriter(m *Manager, maxBufferSize int) *LogWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 100
	}
	lw := &LogWriter{manager: m, maxBufferSize: maxBufferSize, initialLogs: make([][]byte, 0, maxBufferSize)}
	m.logs = lw
	return lw
}

// Write implements io.Writer
func (lw *LogWriter) Write(p []byte) (int, error) {
	line := strings.TrimSpace(string(p))
	payload, err := json.Marshal(WSMessage{
		Type:      TypeLog,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"message": line, "level": logLevel(line)},
	})
	if err != nil {
		return len(p), nil
	}

	lw.bufferMutex.Lock()
	ready := lw.clientReady
	if !ready && len(lw.initialLogs) < lw.maxBufferSize {
		lw.initialLogs = append(lw.initialLogs, payload)
	}
	lw.bufferMutex.Unlock()

	// broadcast outside the lock to avoid holding it during I/O
	if ready {
		lw.manager.broadcastRaw(payload)
	}
	return len(p), nil
}

// Buffered returns the number of lines waiting for the first client
func (lw *LogWriter) Buffered() int {
	lw.bufferMutex.Lock()
	defer lw.bufferMutex.Unlock()
	return len(lw.initialLogs)
}

func (lw *LogWriter) flushTo(c *client) {
	lw.bufferMutex.Lock()
	defer lw.bufferMutex.Unlock()
	lw.clientReady = true
	for _, entry := range lw.initialLogs {
		if err := c.write(entry); err != nil {
			break
		}
	}
	lw.initialLogs = nil
}

func logLevel(line string) string {
	switch {
	case strings.Contains(line, "❌") || strings.Contains(line, "[ERROR]"):
		return "error"
	case strings.Contains(line, "⚠️") || strings.Contains(line, "[WARN]"):
		return "warn"
	}
	return "info"
}
