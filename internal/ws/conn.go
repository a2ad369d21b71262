package ws

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
)

const (
	// sendBufferSize bounds the outbound queue of one client.
	sendBufferSize = 64

	// writeTimeout bounds a single socket write.
	writeTimeout = 5 * time.Second

	reapInterval = 30 * time.Second
)

// connState is what the manager knows about one tracked client.
type connState struct {
	cancel     context.CancelFunc
	lastActive time.Time
}

// ConnStats is served by the stats endpoint.
type ConnStats struct {
	Active          int   `json:"active"`
	MaxConns        int   `json:"max_conns"`
	Rejected        int64 `json:"rejected"`
	DroppedMessages int64 `json:"dropped_messages"`
	IdleReaped      int64 `json:"idle_reaped"`
}

// ConnManager tracks all open WebSocket connections: per-client buffered
// send channels drained by a write pump, an optional connection cap, idle
// reaping and graceful shutdown.
type ConnManager struct {
	mu          sync.Mutex
	clients     map[*Client]*connState
	closed      bool
	maxConns    int
	idleTimeout time.Duration
	stopReaper  context.CancelFunc

	rejected        atomic.Int64
	droppedMessages atomic.Int64
	idleReaped      atomic.Int64
}

// ConnManagerOption tunes a ConnManager.
type ConnManagerOption func(*ConnManager)

// WithMaxConns sets the maximum number of concurrent connections.
// When the limit is reached, new connections are closed with
// StatusTryAgainLater. A value of 0 means unlimited (default).
func WithMaxConns(n int) ConnManagerOption {
	return func(cm *ConnManager) {
		cm.maxConns = n
	}
}

// WithIdleTimeout sets how long a connection can go without sending
// before it is closed. A value of 0 disables idle reaping (default).
func WithIdleTimeout(d time.Duration) ConnManagerOption {
	return func(cm *ConnManager) {
		cm.idleTimeout = d
	}
}

// NewConnManager creates a new connection manager.
func NewConnManager(opts ...ConnManagerOption) *ConnManager {
	cm := &ConnManager{
		clients: make(map[*Client]*connState),
	}
	for _, opt := range opts {
		opt(cm)
	}
	if cm.idleTimeout > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		cm.stopReaper = cancel
		go cm.reapLoop(ctx)
	}
	return cm
}

// Add tracks a client and starts its write pump. The returned context is
// cancelled when the client is removed or the manager shuts down; the
// read loop should read with it. If the manager is closed or at capacity
// the socket is closed and an already cancelled context is returned.
func (cm *ConnManager) Add(c *Client) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c.done = ctx.Done()

	cm.mu.Lock()
	code, reason := cm.admit()
	if reason == "" {
		cm.clients[c] = &connState{cancel: cancel, lastActive: time.Now()}
	}
	cm.mu.Unlock()

	if reason != "" {
		cancel()
		c.conn.Close(code, reason)
		slog.Info("connection rejected", "conn", c.id, "reason", reason)
		return ctx
	}

	go cm.writePump(ctx, c)
	return ctx
}

// admit returns a close reason when a new connection must be turned
// away. Must hold mu.
func (cm *ConnManager) admit() (websocket.StatusCode, string) {
	if cm.closed {
		return websocket.StatusGoingAway, "server shutting down"
	}
	if cm.maxConns > 0 && len(cm.clients) >= cm.maxConns {
		cm.rejected.Add(1)
		return websocket.StatusTryAgainLater, "server at capacity"
	}
	return 0, ""
}

// Remove stops a client's write pump. Removing twice is harmless. The
// send channel stays open so concurrent senders never write to a closed
// channel; Send checks the cancelled context instead.
func (cm *ConnManager) Remove(c *Client) {
	cm.mu.Lock()
	entry, ok := cm.clients[c]
	if ok {
		delete(cm.clients, c)
	}
	cm.mu.Unlock()

	if ok {
		entry.cancel()
	}
}

// Send queues a message for delivery to the client. It never blocks:
// false means the client is gone or its buffer is full (slow consumer),
// and the message is dropped.
func (cm *ConnManager) Send(c *Client, data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		cm.droppedMessages.Add(1)
		slog.Warn("send buffer full, dropping message", "conn", c.id)
		return false
	}
}

// TouchActivity marks the client as active now.
func (cm *ConnManager) TouchActivity(c *Client) {
	cm.mu.Lock()
	if entry, ok := cm.clients[c]; ok {
		entry.lastActive = time.Now()
	}
	cm.mu.Unlock()
}

// Count returns the number of open connections.
func (cm *ConnManager) Count() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.clients)
}

// Stats returns a snapshot of the connection counters.
func (cm *ConnManager) Stats() ConnStats {
	cm.mu.Lock()
	active := len(cm.clients)
	maxConns := cm.maxConns
	cm.mu.Unlock()
	return ConnStats{
		Active:          active,
		MaxConns:        maxConns,
		Rejected:        cm.rejected.Load(),
		DroppedMessages: cm.droppedMessages.Load(),
		IdleReaped:      cm.idleReaped.Load(),
	}
}

// Shutdown closes every connection with StatusGoingAway and rejects new
// ones. Each read loop then runs its normal disconnect cleanup.
func (cm *ConnManager) Shutdown() {
	cm.mu.Lock()
	cm.closed = true
	clients := cm.clients
	cm.clients = make(map[*Client]*connState)
	cm.mu.Unlock()

	if cm.stopReaper != nil {
		cm.stopReaper()
	}

	for c, entry := range clients {
		entry.cancel()
		c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (cm *ConnManager) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cm.reapIdle()
		}
	}
}

// reapIdle closes every connection quiet for longer than idleTimeout.
func (cm *ConnManager) reapIdle() {
	cm.mu.Lock()
	now := time.Now()
	stale := make(map[*Client]*connState)
	for c, entry := range cm.clients {
		if now.Sub(entry.lastActive) > cm.idleTimeout {
			stale[c] = entry
			delete(cm.clients, c)
		}
	}
	cm.mu.Unlock()

	for c, entry := range stale {
		entry.cancel()
		c.conn.Close(websocket.StatusPolicyViolation, "idle timeout")
		cm.idleReaped.Add(1)
		slog.Info("reaped idle connection", "conn", c.id)
	}
}

// writePump drains the client's send channel, writing each message to the
// socket, until ctx is cancelled. A failed write removes the client, which
// ends its read loop.
func (cm *ConnManager) writePump(ctx context.Context, c *Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				slog.Warn("write failed", "conn", c.id, "error", err)
				cm.Remove(c)
				return
			}
		}
	}
}
