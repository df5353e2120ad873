// Package ws holds the websocket side of the gateway: the per-session
// connection registry and the inbound frame dispatcher.
package ws

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is the slice of *websocket.Conn the manager needs; tests substitute
// fakes.
type Socket interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type connection struct {
	ws Socket
	// writeMu serializes frame writes; gorilla allows one writer at a time.
	writeMu     sync.Mutex
	lastInbound string
	lastSeen    time.Time
}

// Activity describes one connection's most recent inbound traffic.
type Activity struct {
	LastFrameType string    `json:"last_frame_type,omitempty"`
	LastSeen      time.Time `json:"last_seen"`
}

// ConnManager maps session ids to live sockets. A session has at most one
// socket; a reconnect supersedes the old one.
type ConnManager struct {
	mu     sync.Mutex
	conns  map[string]*connection
	logger *log.Logger
}

func NewConnManager(logger *log.Logger) *ConnManager {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &ConnManager{conns: make(map[string]*connection), logger: logger}
}

func (m *ConnManager) Connect(sessionID string, ws Socket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[sessionID] = &connection{ws: ws, lastSeen: time.Now().UTC()}
	m.logger.Printf("level=info msg=\"ws connected\" session=%s", sessionID)
}

// Disconnect removes the session's socket only when it is still the given
// one, so a late close of a replaced socket cannot evict a reconnect.
func (m *ConnManager) Disconnect(sessionID string, ws Socket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.conns[sessionID]
	if !ok || current.ws != ws {
		return
	}
	delete(m.conns, sessionID)
	m.logger.Printf("level=info msg=\"ws disconnected\" session=%s", sessionID)
}

// Send writes one JSON text frame. Transport failures disconnect the same
// socket and are otherwise dropped silently.
func (m *ConnManager) Send(sessionID string, payload any) error {
	m.mu.Lock()
	conn, ok := m.conns[sessionID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no connection for session %s", sessionID)
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	conn.writeMu.Lock()
	err = conn.ws.WriteMessage(websocket.TextMessage, encoded)
	conn.writeMu.Unlock()
	if err != nil {
		m.logger.Printf("level=warn msg=\"ws write failed\" session=%s err=%q", sessionID, err)
		m.Disconnect(sessionID, conn.ws)
	}
	return nil
}

// TrackActivity records the last inbound frame type for diagnostics.
func (m *ConnManager) TrackActivity(sessionID, frameType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.conns[sessionID]; ok {
		conn.lastInbound = frameType
		conn.lastSeen = time.Now().UTC()
	}
}

func (m *ConnManager) LastActivity(sessionID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[sessionID]
	if !ok {
		return "", false
	}
	return conn.lastInbound, true
}

// ActivitySnapshot reports the live connections keyed by session id.
func (m *ConnManager) ActivitySnapshot() map[string]Activity {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Activity, len(m.conns))
	for sessionID, conn := range m.conns {
		out[sessionID] = Activity{LastFrameType: conn.lastInbound, LastSeen: conn.lastSeen}
	}
	return out
}
