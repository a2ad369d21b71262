package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/christopherjohns/gorbrelay/internal/activity"
	"github.com/christopherjohns/gorbrelay/internal/config"
	"github.com/christopherjohns/gorbrelay/internal/presence"
	"github.com/christopherjohns/gorbrelay/internal/ratelimit"
	"github.com/christopherjohns/gorbrelay/internal/relay"
	"github.com/christopherjohns/gorbrelay/internal/ws"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500
)

// Server is the HTTP server for the relay. It serves the WebSocket
// endpoint alongside the operational endpoints.
type Server struct {
	cfg      config.Config
	mux      *http.ServeMux
	registry *presence.Registry
	conns    *ws.ConnManager
	events   activity.Store
	redis    redis.Cmdable
}

// Option configures a Server.
type Option func(*Server)

// WithRedis keeps the activity feed in Redis instead of memory.
func WithRedis(client redis.Cmdable) Option {
	return func(s *Server) {
		s.redis = client
	}
}

// New creates a Server from cfg.
func New(cfg config.Config, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		mux:      http.NewServeMux(),
		registry: presence.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.redis != nil {
		s.events = activity.NewRedisStore(s.redis, cfg.ActivitySize)
	} else {
		s.events = activity.NewMemoryStore(cfg.ActivitySize)
	}

	s.conns = ws.NewConnManager(
		ws.WithMaxConns(cfg.MaxConns),
		ws.WithIdleTimeout(cfg.IdleTimeout),
	)

	router := relay.NewRouter(s.registry, relay.WithActivity(s.events))
	handlerOpts := []ws.HandlerOption{ws.WithActivity(s.events)}
	if cfg.ConnRateLimit > 0 {
		handlerOpts = append(handlerOpts, ws.WithRateLimiter(ratelimit.New(cfg.ConnRateLimit, cfg.ConnRateWindow)))
	}

	s.routes(ws.NewHandler(s.conns, s.registry, router, handlerOpts...))
	return s
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until ctx is cancelled, then closes every connection and
// drains the HTTP server within the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("relay listening", "addr", httpSrv.Addr, "path", s.cfg.Path)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down", "connections", s.conns.Count())
		s.conns.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func (s *Server) routes(relayHandler http.Handler) {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /stats", s.handleStats)
	s.mux.HandleFunc("GET /api/activity", s.handleActivity)
	s.mux.Handle(s.cfg.Path, relayHandler)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statsResponse struct {
	Connections ws.ConnStats `json:"connections"`
	OnlineUsers int          `json:"online_users"`
	Activity    int          `json:"activity_events"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Connections: s.conns.Stats(),
		OnlineUsers: s.registry.Len(),
		Activity:    s.events.Count(),
	})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit := defaultActivityLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxActivityLimit)
	}

	events := s.events.Recent(limit)
	if events == nil {
		events = []*activity.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
