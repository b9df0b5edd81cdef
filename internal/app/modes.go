package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/wagerledger/internal/ledger"
	"github.com/alanyoungcy/wagerledger/internal/server"
	"github.com/alanyoungcy/wagerledger/internal/server/handler"
	"github.com/alanyoungcy/wagerledger/internal/server/ws"
	"github.com/alanyoungcy/wagerledger/internal/service"
)

const shutdownTimeout = 10 * time.Second

var errNoOperator = errors.New("app: sweeper requires an operator key")

// core holds the components shared by every mode.
type core struct {
	ledger    *ledger.Ledger
	publisher *service.EventPublisher
}

func (a *App) buildCore(deps *Dependencies) core {
	publisher := service.NewEventPublisher(deps.Bus, deps.Audit, deps.Notifier, a.logger)
	if deps.PoolCache != nil {
		publisher.WithPoolCache(deps.PoolCache)
	}
	return core{
		ledger:    ledger.New(deps.Store, deps.Layer, publisher, a.logger),
		publisher: publisher,
	}
}

// ServerMode serves the HTTP API and the event stream.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	c := a.buildCore(deps)
	g.Go(func() error { return c.publisher.Run(ctx) })
	a.startHTTPServer(ctx, g, deps, c)
	return g.Wait()
}

// SweeperMode runs the settlement sweeper only.
func (a *App) SweeperMode(ctx context.Context, deps *Dependencies) error {
	if deps.Operator == nil {
		return errNoOperator
	}
	g, ctx := errgroup.WithContext(ctx)
	c := a.buildCore(deps)
	g.Go(func() error { return c.publisher.Run(ctx) })
	a.startSweeper(ctx, g, deps, c)
	return g.Wait()
}

// FullMode runs the HTTP API and the sweeper in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	if deps.Operator == nil {
		return errNoOperator
	}
	g, ctx := errgroup.WithContext(ctx)
	c := a.buildCore(deps)
	g.Go(func() error { return c.publisher.Run(ctx) })
	a.startSweeper(ctx, g, deps, c)
	a.startHTTPServer(ctx, g, deps, c)
	return g.Wait()
}

// startSweeper requires deps.Operator.
func (a *App) startSweeper(ctx context.Context, g *errgroup.Group, deps *Dependencies, c core) {
	sweeper := service.NewSweeper(c.ledger, deps.Reader, deps.Locks, deps.Archiver, deps.Operator.Address(),
		service.SweeperConfig{
			Interval:  a.cfg.Sweeper.Interval.Duration,
			LockTTL:   a.cfg.Sweeper.LockTTL.Duration,
			BatchSize: a.cfg.Sweeper.BatchSize,
			Archive:   deps.Archiver != nil,
		}, a.logger)
	g.Go(func() error { return sweeper.Run(ctx) })
}

// startHTTPServer adds the HTTP server, its WebSocket hub and a shutdown
// watcher to g. The server drains gracefully once ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c core) {
	svc := service.NewLedgerService(c.ledger, deps.Reader, deps.PoolCache, deps.Reports, a.logger)
	validator := common.HexToAddress(a.cfg.Rollup.DefaultValidator)

	hub := ws.NewHub(deps.Bus, a.logger, ws.Config{
		Channels:       []string{service.ChannelEvents},
		Mode:           a.cfg.Mode,
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error { return hub.Run(ctx) })

	srv := server.NewServer(server.Config{
		Port:             a.cfg.Server.Port,
		CORSOrigins:      a.cfg.Server.CORSOrigins,
		MaxSignatureSkew: a.cfg.Server.MaxSignatureSkew.Duration,
		RateLimit:        a.cfg.Server.RateLimit,
		RateWindow:       a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(deps.Checks, a.logger),
		Protocol: handler.NewProtocolHandler(svc, a.logger),
		Pools:    handler.NewPoolHandler(svc, validator, a.logger),
		Bets:     handler.NewBetHandler(svc, validator, a.logger),
		Locate:   handler.NewLocateHandler(svc, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("HTTP server shutting down", slog.Int("port", a.cfg.Server.Port))
		return srv.Shutdown(shutCtx)
	})
}
