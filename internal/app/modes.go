package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paisadex/escrowd/internal/lifecycle"
	"github.com/paisadex/escrowd/internal/sequencer"
	"github.com/paisadex/escrowd/internal/server"
	"github.com/paisadex/escrowd/internal/server/handler"
	"github.com/paisadex/escrowd/internal/server/ws"
)

// TradeMode runs the full trading loop: the lifecycle runner watches open
// trades, the machine auto-locks escrow when the local user is the seller, and
// the sequencer executes every on-chain operation. The HTTP server starts only
// when enabled in config.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	g, ctx := errgroup.WithContext(ctx)

	seq := a.buildSequencer(deps)
	machine := a.buildMachine(deps, seq, true)
	runner := lifecycle.NewRunner(machine)

	g.Go(func() error {
		return runner.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, seq, machine)
	}

	return g.Wait()
}

// MonitorMode watches trades read-only: status transitions are recorded and
// notified, but no wallet is loaded and no operations execute. The HTTP server
// is not started because its action endpoints require an executor.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	machine := a.buildMachine(deps, nil, false)
	runner := lifecycle.NewRunner(machine)

	g.Go(func() error {
		return runner.Run(ctx)
	})

	return g.Wait()
}

// ServeMode runs the HTTP/WebSocket API without background trade watching.
// Every action (lock, confirm, dispute, vault moves) happens on user request.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	seq := a.buildSequencer(deps)
	machine := a.buildMachine(deps, seq, false)

	a.startHTTPServer(ctx, g, deps, seq, machine)

	return g.Wait()
}

// FullMode runs everything: trade watching with auto-lock, the sequencer, and
// the HTTP/WebSocket API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	seq := a.buildSequencer(deps)
	machine := a.buildMachine(deps, seq, true)
	runner := lifecycle.NewRunner(machine)

	g.Go(func() error {
		return runner.Run(ctx)
	})

	a.startHTTPServer(ctx, g, deps, seq, machine)

	return g.Wait()
}

func (a *App) buildSequencer(deps *Dependencies) *sequencer.Sequencer {
	return sequencer.New(sequencer.Deps{
		User:    a.cfg.User.ID,
		Wallet:  deps.Wallet,
		Chain:   deps.Gateway,
		Backend: deps.Backend,
		Journal: deps.Journal,
		Locks:   deps.Locks,
		Vault:   deps.Vault,
		Bus:     deps.Bus,
		Logger:  a.logger,
	})
}

// buildMachine assembles the lifecycle machine. exec may be nil in monitor
// mode; the machine then records and notifies but never locks.
func (a *App) buildMachine(deps *Dependencies, exec lifecycle.Executor, autoLock bool) *lifecycle.Machine {
	return lifecycle.New(lifecycle.Deps{
		User:        a.cfg.User.ID,
		Backend:     deps.Backend,
		Executor:    exec,
		Transitions: deps.Transitions,
		Bus:         deps.Bus,
		Notifier:    deps.Notifier,
		Archiver:    deps.Archiver,
		Poll:        a.cfg.Poll.TradeInterval,
		AutoLock:    autoLock,
		Logger:      a.logger,
	})
}

// startHTTPServer adds the WebSocket hub and HTTP server goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	seq *sequencer.Sequencer,
	machine *lifecycle.Machine,
) {
	hub := ws.NewHub(deps.Bus, a.logger, ws.Config{
		Mode:       a.cfg.Mode,
		WalletKind: a.cfg.Wallet.Kind,
		StartedAt:  time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, server.Handlers{
		Health:     handler.NewHealthHandler(a.logger),
		Trades:     handler.NewTradeHandler(deps.Backend, machine, a.cfg.User.ID, a.logger),
		Vault:      handler.NewVaultHandler(deps.Backend, seq, a.cfg.User.ID, a.logger),
		Operations: handler.NewOperationHandler(seq, a.logger),
	}, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
