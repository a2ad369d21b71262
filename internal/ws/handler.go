package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/christopherjohns/gorbrelay/internal/activity"
	"github.com/christopherjohns/gorbrelay/internal/presence"
	"github.com/christopherjohns/gorbrelay/internal/ratelimit"
	"github.com/christopherjohns/gorbrelay/internal/relay"
)

// readyMessage is the body served to plain HTTP requests on the relay path.
const readyMessage = "WebSocket server ready"

// Handler accepts WebSocket upgrades and runs each connection's read loop.
// Plain requests to the same endpoint get a readiness response.
type Handler struct {
	conns    *ConnManager
	registry *presence.Registry
	router   *relay.Router
	limiter  *ratelimit.Limiter
	events   activity.Store
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithRateLimiter refuses upgrades from addresses over their limit.
func WithRateLimiter(l *ratelimit.Limiter) HandlerOption {
	return func(h *Handler) {
		h.limiter = l
	}
}

// WithActivity records disconnects in store.
func WithActivity(store activity.Store) HandlerOption {
	return func(h *Handler) {
		h.events = store
	}
}

// NewHandler creates a Handler. registry must be the one router relays
// through, so disconnects remove the sessions the router registered.
func NewHandler(conns *ConnManager, registry *presence.Registry, router *relay.Router, opts ...HandlerOption) *Handler {
	h := &Handler{
		conns:    conns,
		registry: registry,
		router:   router,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the request and serves the connection until it
// closes. Connections are accepted without any authentication.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !isUpgrade(r) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"message": readyMessage})
		return
	}

	ip := clientIP(r)
	if h.limiter != nil && !h.limiter.Allow(ip) {
		slog.Warn("upgrade rate limited", "remote", ip)
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Browser clients connect from any origin.
	})
	if err != nil {
		slog.Warn("accept failed", "remote", ip, "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	client := newClient(uuid.NewString(), conn, h.conns)
	connCtx := h.conns.Add(client)
	defer h.disconnect(client)

	slog.Debug("client connected", "conn", client.id, "remote", ip)
	h.readLoop(connCtx, client)
}

// readLoop hands every inbound message to the router until the socket
// closes or connCtx is cancelled. Messages are handled one at a time, so
// a connection's messages are relayed in the order they arrived.
func (h *Handler) readLoop(connCtx context.Context, client *Client) {
	for {
		_, data, err := client.conn.Read(connCtx)
		if err != nil {
			slog.Debug("read ended", "conn", client.id, "status", websocket.CloseStatus(err))
			return
		}

		h.conns.TouchActivity(client)

		if err := h.router.Dispatch(client, data); err != nil {
			if errors.Is(err, relay.ErrMalformed) {
				slog.Warn("dropping malformed message", "conn", client.id, "error", err)
			} else {
				slog.Error("dispatch failed", "conn", client.id, "error", err)
			}
		}
	}
}

// disconnect runs exactly once per connection: it stops the write pump and
// removes the session the connection registered, if any, which broadcasts
// its departure.
func (h *Handler) disconnect(client *Client) {
	h.conns.Remove(client)
	if userID, ok := h.registry.RemoveByConnection(client); ok && h.events != nil {
		ev := activity.NewEvent(activity.KindOffline, "userOffline")
		ev.UserID = userID
		h.events.Append(ev)
	}
	slog.Debug("client disconnected", "conn", client.id)
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// clientIP returns the last X-Forwarded-For hop, the one appended by the
// proxy in front of the relay; earlier hops are client supplied. Without
// the header it falls back to the connection's remote host.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.LastIndex(fwd, ","); i >= 0 {
			fwd = fwd[i+1:]
		}
		if hop := strings.TrimSpace(fwd); hop != "" {
			return hop
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
