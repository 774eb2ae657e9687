// Package server exposes the agent's local HTTP + WebSocket API: trade state
// and actions, vault operations, operation progress, and the event stream the
// UI subscribes to.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/paisadex/escrowd/internal/server/handler"
	"github.com/paisadex/escrowd/internal/server/middleware"
	"github.com/paisadex/escrowd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health     *handler.HealthHandler
	Trades     *handler.TradeHandler
	Vault      *handler.VaultHandler
	Operations *handler.OperationHandler
}

// Server is the agent's HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered and the middleware
// chain (CORS, logging, auth) applied.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Trade endpoints.
	mux.HandleFunc("GET /api/trades", handlers.Trades.ListOpen)
	mux.HandleFunc("GET /api/trades/{id}", handlers.Trades.Get)
	mux.HandleFunc("GET /api/trades/{id}/messages", handlers.Trades.Messages)
	mux.HandleFunc("POST /api/trades/{id}/lock", handlers.Trades.Lock)
	mux.HandleFunc("POST /api/trades/{id}/confirm-payment", handlers.Trades.ConfirmPayment)
	mux.HandleFunc("POST /api/trades/{id}/confirm-receipt", handlers.Trades.ConfirmReceipt)
	mux.HandleFunc("POST /api/trades/{id}/dispute", handlers.Trades.Dispute)

	// Vault endpoints.
	mux.HandleFunc("GET /api/vault", handlers.Vault.Positions)
	mux.HandleFunc("POST /api/vault/deposit", handlers.Vault.Deposit)
	mux.HandleFunc("POST /api/vault/withdraw", handlers.Vault.Withdraw)

	// Operation progress and manual reconciliation.
	mux.HandleFunc("GET /api/operations/pending", handlers.Operations.Pending)
	mux.HandleFunc("GET /api/operations/unreconciled", handlers.Operations.Unreconciled)
	mux.HandleFunc("POST /api/operations/{id}/reacknowledge", handlers.Operations.Reacknowledge)

	// WebSocket event stream.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	authed := middleware.Auth(cfg.APIKey)(mux)
	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			mux.ServeHTTP(w, r)
			return
		}
		authed.ServeHTTP(w, r)
	})
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
