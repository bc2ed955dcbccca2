package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/podsync/syncd/internal/eventlog"
)

// catchupLimit bounds how many events a single catchup response carries
// before the client is told to fall back to a full REST reload.
const catchupLimit = 200

// CatchupSource reads events for one stream after a given version, for late
// subscribers. Implemented by eventlog.Store.
type CatchupSource interface {
	ReadStreamAfter(ctx context.Context, streamID string, afterVersion int) ([]eventlog.CatchupRecord, error)
}

// ClientMessage is a command frame sent by a WebSocket client.
type ClientMessage struct {
	Action       string `json:"action"`
	StreamID     string `json:"stream_id"`
	LastVersion  *int   `json:"last_version"`
}

// ConnectionManager tracks WebSocket clients and which user stream each is
// subscribed to, and fans out Listener notifications to them. One instance
// per process; the single Listener feeds every manager via Broadcast.
type ConnectionManager struct {
	mu          sync.RWMutex
	connections map[string]*Connection

	subMu       sync.RWMutex
	subscribers map[string]map[string]bool // stream_id -> set of connection_id

	catchup      CatchupSource
	writeTimeout time.Duration
}

// Connection is a single WebSocket client. subscriptions is only ever
// touched from the connection's own read-loop goroutine, so it needs no
// lock of its own.
type Connection struct {
	ID            string
	Conn          *websocket.Conn
	subscriptions map[string]bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewConnectionManager returns a manager backed by catchup for late
// subscribers, writing with writeTimeout per message.
func NewConnectionManager(catchup CatchupSource, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		connections:  make(map[string]*Connection),
		subscribers:  make(map[string]map[string]bool),
		catchup:      catchup,
		writeTimeout: writeTimeout,
	}
}

// HandleConnection owns a WebSocket connection's lifecycle until it closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)
	c := &Connection{ID: connID, Conn: conn, subscriptions: make(map[string]bool), ctx: ctx, cancel: cancel}

	m.register(c)
	defer m.unregister(c)

	m.sendJSON(c, map[string]string{"type": "connection.established", "connection_id": connID})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("events: invalid websocket message", "connection_id", connID, "error", err)
			continue
		}
		m.handleClientMessage(ctx, c, &msg)
	}
}

func (m *ConnectionManager) handleClientMessage(ctx context.Context, c *Connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.StreamID == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "stream_id is required"})
			return
		}
		m.subscribe(c, msg.StreamID)
		m.sendJSON(c, map[string]string{"type": "subscription.confirmed", "stream_id": msg.StreamID})
		lastVersion := 0
		if msg.LastVersion != nil {
			lastVersion = *msg.LastVersion
		}
		m.handleCatchup(ctx, c, msg.StreamID, lastVersion)
	case "unsubscribe":
		if msg.StreamID != "" {
			m.unsubscribe(c, msg.StreamID)
		}
	case "ping":
		m.sendJSON(c, map[string]string{"type": "pong"})
	}
}

func (m *ConnectionManager) subscribe(c *Connection, streamID string) {
	m.subMu.Lock()
	if _, ok := m.subscribers[streamID]; !ok {
		m.subscribers[streamID] = make(map[string]bool)
	}
	m.subscribers[streamID][c.ID] = true
	m.subMu.Unlock()
	c.subscriptions[streamID] = true
}

func (m *ConnectionManager) unsubscribe(c *Connection, streamID string) {
	m.subMu.Lock()
	if subs, ok := m.subscribers[streamID]; ok {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(m.subscribers, streamID)
		}
	}
	m.subMu.Unlock()
	delete(c.subscriptions, streamID)
}

// Broadcast delivers a notification to every connection subscribed to its
// stream. Registered with the Listener as an OnNotify handler.
func (m *ConnectionManager) Broadcast(n Notification, payload json.RawMessage) {
	m.subMu.RLock()
	subs, ok := m.subscribers[n.StreamID]
	if !ok {
		m.subMu.RUnlock()
		return
	}
	ids := make([]string, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	m.subMu.RUnlock()

	m.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if conn, ok := m.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		if err := m.sendRaw(conn, payload); err != nil {
			slog.Warn("events: failed to send to websocket client", "connection_id", conn.ID, "error", err)
		}
	}
}

// ActiveConnections reports the number of live WebSocket clients.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

func (m *ConnectionManager) handleCatchup(ctx context.Context, c *Connection, streamID string, afterVersion int) {
	if m.catchup == nil {
		return
	}
	records, err := m.catchup.ReadStreamAfter(ctx, streamID, afterVersion)
	if err != nil {
		slog.Error("events: catchup query failed", "stream_id", streamID, "error", err)
		return
	}
	hasMore := len(records) > catchupLimit
	if hasMore {
		records = records[:catchupLimit]
	}
	for _, rec := range records {
		envelope := map[string]any{"type": rec.Type, "version": rec.Version, "payload": json.RawMessage(rec.Payload)}
		data, err := json.Marshal(envelope)
		if err != nil {
			continue
		}
		if err := m.sendRaw(c, data); err != nil {
			return
		}
	}
	if hasMore {
		m.sendJSON(c, map[string]any{"type": "catchup.overflow", "stream_id": streamID, "has_more": true})
	}
}

func (m *ConnectionManager) register(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

func (m *ConnectionManager) unregister(c *Connection) {
	for ch := range c.subscriptions {
		m.unsubscribe(c, ch)
	}
	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()
	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

func (m *ConnectionManager) sendJSON(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("events: failed to marshal websocket message", "connection_id", c.ID, "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		slog.Warn("events: failed to send websocket message", "connection_id", c.ID, "error", err)
	}
}

func (m *ConnectionManager) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}
