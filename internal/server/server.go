// ABOUTME: HTTP server wiring routes, auth middleware, and graceful lifecycle
// ABOUTME: Exposes the REST boundary plus WebSocket streams for battle observation

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/agentarena/arena/internal/auth"
	"github.com/agentarena/arena/internal/battle"
	"github.com/agentarena/arena/internal/broadcast"
	"github.com/agentarena/arena/internal/config"
	"github.com/agentarena/arena/internal/registry"
	"github.com/agentarena/arena/internal/store"
)

// Server is the HTTP boundary of the arena: agent directory, battle
// lifecycle, the result callback sink, and WebSocket streams.
type Server struct {
	config      *config.Config
	store       store.Store
	registry    *registry.Registry
	queue       *battle.Queue
	broadcaster *broadcast.Broadcaster
	httpServer  *http.Server
	logger      *slog.Logger
}

// New creates the server and registers all routes.
func New(cfg *config.Config, s store.Store, reg *registry.Registry, q *battle.Queue, b *broadcast.Broadcaster, verifier auth.TokenVerifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	srv := &Server{
		config:      cfg,
		store:       s,
		registry:    reg,
		queue:       q,
		broadcaster: b,
		logger:      logger.With("component", "server"),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/health/ready", srv.handleReady)

	// API endpoints - auth required if a JWT secret is configured
	authed := auth.Middleware(verifier)
	mux.Handle("/agents", authed(http.HandlerFunc(srv.handleAgents)))
	mux.Handle("/agents/", authed(http.HandlerFunc(srv.handleAgentRoutes)))
	mux.Handle("/battles", authed(http.HandlerFunc(srv.handleBattles)))
	mux.Handle("/battles/", authed(http.HandlerFunc(srv.handleBattleRoutes)))

	// WebSocket streams are read-only and unauthenticated
	mux.HandleFunc("/ws/battles", srv.handleBattleListWS)
	mux.HandleFunc("/ws/battles/", srv.handleBattleLogsWS)

	srv.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return srv
}

// Handler returns the root handler, for tests that mount the server on an
// in-process listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
