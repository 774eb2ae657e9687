package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// discoverInterval is how often the runner scans for newly opened trades.
const discoverInterval = 30 * time.Second

// Runner keeps one Watch goroutine alive per open trade. New trades picked up
// by the backend scan get a watcher; watchers exit on their own when a trade
// turns terminal.
type Runner struct {
	machine *Machine
	logger  *slog.Logger

	mu       sync.Mutex
	watching map[string]struct{}
}

// NewRunner creates a Runner over the given machine.
func NewRunner(m *Machine) *Runner {
	return &Runner{
		machine:  m,
		logger:   m.logger.With(slog.String("component", "lifecycle_runner")),
		watching: make(map[string]struct{}),
	}
}

// Run blocks until ctx is cancelled, scanning for open trades and watching
// each until terminal.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(discoverInterval)
		defer ticker.Stop()

		for {
			r.scan(ctx, g)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("lifecycle: runner: %w", err)
	}
	return nil
}

func (r *Runner) scan(ctx context.Context, g *errgroup.Group) {
	trades, err := r.machine.backend.ListOpenTrades(ctx, r.machine.user)
	if err != nil {
		r.logger.Warn("open-trade scan failed", slog.Any("error", err))
		return
	}

	for _, t := range trades {
		if t.Status.Terminal() {
			continue
		}
		tradeID := t.ID
		if !r.claim(tradeID) {
			continue
		}
		g.Go(func() error {
			defer r.release(tradeID)
			err := r.machine.Watch(ctx, tradeID)
			if err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("trade watcher exited",
					slog.String("trade_id", tradeID),
					slog.Any("error", err),
				)
			}
			// A watcher failure is contained; the next scan re-claims the
			// trade if it is still open.
			return nil
		})
	}
}

func (r *Runner) claim(tradeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.watching[tradeID]; ok {
		return false
	}
	r.watching[tradeID] = struct{}{}
	return true
}

func (r *Runner) release(tradeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.watching, tradeID)
}
