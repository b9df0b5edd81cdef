package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/wagerledger/internal/domain"
	"github.com/alanyoungcy/wagerledger/internal/server/handler"
	"github.com/alanyoungcy/wagerledger/internal/server/middleware"
	"github.com/alanyoungcy/wagerledger/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port             int
	CORSOrigins      []string
	MaxSignatureSkew time.Duration
	// RateLimit caps signed requests per caller per RateWindow. Zero
	// disables limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Protocol *handler.ProtocolHandler
	Pools    *handler.PoolHandler
	Bets     *handler.BetHandler
	Locate   *handler.LocateHandler
}

// Server is the HTTP + WebSocket API of the ledger.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route. Mutating routes require a caller
// signature and are rate limited per caller; reads are public. limiter and
// wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	mux := http.NewServeMux()

	auth := middleware.CallerAuth(cfg.MaxSignatureSkew, nil)
	limit := middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)
	signed := func(h http.HandlerFunc) http.Handler { return auth(limit(h)) }

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Protocol.
	mux.HandleFunc("GET /api/protocol", handlers.Protocol.Get)
	mux.Handle("POST /api/protocol", signed(handlers.Protocol.Initialize))
	mux.Handle("PATCH /api/protocol", signed(handlers.Protocol.UpdateConfig))
	mux.Handle("POST /api/protocol/pause", signed(handlers.Protocol.SetPause))
	mux.Handle("POST /api/protocol/admin", signed(handlers.Protocol.TransferAdmin))

	// Pools.
	mux.HandleFunc("GET /api/pools", handlers.Pools.List)
	mux.HandleFunc("GET /api/pools/{pool}", handlers.Pools.Get)
	mux.HandleFunc("GET /api/pools/{pool}/settlements", handlers.Pools.Settlements)
	mux.Handle("POST /api/pools", signed(handlers.Pools.Create))
	mux.Handle("POST /api/pools/{pool}/resolve", signed(handlers.Pools.Resolve))
	mux.Handle("POST /api/pools/{pool}/finalize", signed(handlers.Pools.Finalize))
	mux.Handle("POST /api/pools/{pool}/delegate", signed(handlers.Pools.Delegate))
	mux.Handle("POST /api/pools/{pool}/undelegate", signed(handlers.Pools.Undelegate))

	// Bets.
	mux.HandleFunc("GET /api/pools/{pool}/bets", handlers.Bets.ListByPool)
	mux.HandleFunc("GET /api/bets/{bet}", handlers.Bets.Get)
	mux.HandleFunc("GET /api/records/{record}/delegation", handlers.Bets.Delegation)
	mux.Handle("POST /api/pools/{pool}/bets", signed(handlers.Bets.Place))
	mux.Handle("POST /api/pools/{pool}/bets/undelegate", signed(handlers.Bets.BatchUndelegate))
	mux.Handle("POST /api/bets/{bet}/delegate", signed(handlers.Bets.Delegate))
	mux.Handle("POST /api/bets/{bet}/delegate-permission", signed(handlers.Bets.DelegatePermission))

	// Addressing.
	mux.HandleFunc("GET /api/locate/pool", handlers.Locate.Pool)
	mux.HandleFunc("GET /api/locate/bet", handlers.Locate.Bet)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
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
