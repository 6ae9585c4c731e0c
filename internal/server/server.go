// Package server exposes the operator HTTP and WebSocket API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/fundsettle/internal/domain"
	"github.com/alanyoungcy/fundsettle/internal/server/handler"
	"github.com/alanyoungcy/fundsettle/internal/server/middleware"
	"github.com/alanyoungcy/fundsettle/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int    // requests per RateWindow per client; zero disables
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Status      *handler.StatusHandler
	Pools       *handler.PoolHandler
	Withdrawals *handler.WithdrawalHandler
	Receipts    *handler.ReceiptHandler
	Audit       *handler.AuditHandler
}

// Server is the operator API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware
// chain. wsHub and limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/pools", handlers.Pools.ListPools)
	mux.HandleFunc("GET /api/pools/{id}", handlers.Pools.GetPool)
	mux.HandleFunc("GET /api/pools/{id}/nav", handlers.Pools.GetNAV)
	mux.HandleFunc("GET /api/pools/{id}/positions/{investor}", handlers.Pools.GetPosition)
	mux.HandleFunc("GET /api/pools/{id}/deposits", handlers.Pools.ListDeposits)
	mux.HandleFunc("POST /api/pools/{id}/deposits", handlers.Pools.Deposit)

	mux.HandleFunc("GET /api/withdrawals", handlers.Withdrawals.ListActive)
	mux.HandleFunc("POST /api/withdrawals", handlers.Withdrawals.Initiate)
	mux.HandleFunc("GET /api/withdrawals/{id}", handlers.Withdrawals.Get)
	mux.HandleFunc("POST /api/withdrawals/{id}/liquidate", handlers.Withdrawals.Liquidate)
	mux.HandleFunc("POST /api/withdrawals/{id}/finalize", handlers.Withdrawals.Finalize)
	mux.HandleFunc("POST /api/withdrawals/{id}/fail", handlers.Withdrawals.Fail)

	mux.HandleFunc("GET /api/receipts", handlers.Receipts.ListReceipts)
	mux.HandleFunc("GET /api/receipts/{id}", handlers.Receipts.GetReceipt)
	mux.HandleFunc("POST /api/statements/{investor}", handlers.Receipts.ExportStatement)

	mux.HandleFunc("GET /api/audit", handlers.Audit.ListAudit)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Outermost first: CORS, logging, auth, rate limit.
	var h http.Handler = mux
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			// Finalize and liquidate wait on chain confirmation.
			WriteTimeout: 2 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
