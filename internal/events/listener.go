// Package events delivers event-log appends to in-process subscribers
// (projectors, the process manager) via PostgreSQL LISTEN/NOTIFY, and to
// WebSocket clients via the ConnectionManager. It is the runtime companion
// to eventlog: eventlog owns durability, this package owns delivery.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
)

// Channel is the single LISTEN/NOTIFY channel every event is broadcast on.
// Subscribers that only care about one stream filter client-side; this
// keeps the listener side to one long-lived connection rather than one per
// active user.
const Channel = "syncd_events"

// Notification is a decoded NOTIFY payload.
type Notification struct {
	GlobalPosition int64
	StreamID       string
	Type           string
}

// Listener maintains a dedicated LISTEN connection and fans out
// notifications to registered handlers. It is the sole goroutine touching
// the pgx connection, avoiding the "conn busy" race between
// WaitForNotification and Exec.
type Listener struct {
	connString string

	connMu sync.Mutex
	conn   *pgx.Conn

	handlersMu sync.RWMutex
	handlers   []func(Notification)

	running atomic.Bool

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// NewListener returns a Listener that connects using connString on Start.
func NewListener(connString string) *Listener {
	return &Listener{connString: connString}
}

// OnNotify registers a handler invoked (synchronously, in delivery order)
// for every notification received. Must be called before Start.
func (l *Listener) OnNotify(fn func(Notification)) {
	l.handlersMu.Lock()
	defer l.handlersMu.Unlock()
	l.handlers = append(l.handlers, fn)
}

// Start opens the dedicated connection, issues LISTEN, and begins the
// receive loop.
func (l *Listener) Start(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.connString)
	if err != nil {
		return fmt.Errorf("events: connect for LISTEN: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		_ = conn.Close(ctx)
		return fmt.Errorf("events: initial LISTEN: %w", err)
	}

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()
	l.running.Store(true)

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancelLoop = cancel
	l.loopDone = make(chan struct{})
	go func() {
		defer close(l.loopDone)
		l.receiveLoop(loopCtx)
	}()

	slog.Info("event listener started", "channel", Channel)
	return nil
}

// Stop signals the receive loop to exit and closes the connection.
func (l *Listener) Stop(ctx context.Context) {
	l.running.Store(false)
	if l.cancelLoop != nil {
		l.cancelLoop()
	}
	if l.loopDone != nil {
		<-l.loopDone
	}
	l.connMu.Lock()
	defer l.connMu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}
}

func (l *Listener) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.connMu.Lock()
		conn := l.conn
		l.connMu.Unlock()
		if conn == nil {
			l.reconnect(ctx)
			continue
		}

		waitCtx, cancel := context.WithTimeout(ctx, time.Second)
		notification, err := conn.WaitForNotification(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if waitCtx.Err() != nil {
				continue // timeout, loop back
			}
			slog.Error("events: NOTIFY receive error", "error", err)
			l.reconnect(ctx)
			continue
		}

		note, decodeErr := decodeNotification(notification.Payload)
		if decodeErr != nil {
			slog.Error("events: malformed NOTIFY payload", "error", decodeErr)
			continue
		}

		l.handlersMu.RLock()
		handlers := append([]func(Notification){}, l.handlers...)
		l.handlersMu.RUnlock()
		for _, h := range handlers {
			h(note)
		}
	}
}

func (l *Listener) reconnect(ctx context.Context) {
	l.connMu.Lock()
	defer l.connMu.Unlock()

	if l.conn != nil {
		_ = l.conn.Close(ctx)
		l.conn = nil
	}

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		conn, err := pgx.Connect(ctx, l.connString)
		if err != nil {
			slog.Error("events: LISTEN reconnect failed", "error", err, "backoff", backoff)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
			slog.Error("events: re-LISTEN failed", "error", err)
			_ = conn.Close(ctx)
			backoff = min(backoff*2, 30*time.Second)
			continue
		}

		l.conn = conn
		slog.Info("events: listener reconnected")
		return
	}
}
