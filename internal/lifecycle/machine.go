// Package lifecycle drives open trades through their status machine. One
// watcher per trade polls the backend record, raises edge-triggered events on
// status changes, mirrors the counterparty chat feed, triggers the seller's
// escrow lock, and stops once the trade is terminal.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/paisadex/escrowd/internal/dispute"
	"github.com/paisadex/escrowd/internal/domain"
)

const (
	// DefaultPollInterval is the backend trade poll cadence while a trade is
	// open.
	DefaultPollInterval = 10 * time.Second

	// escrowDuration is the on-chain lock duration passed to createTrade.
	escrowDuration = time.Hour
)

// Executor runs escrow operations. Satisfied by *sequencer.Sequencer.
type Executor interface {
	Execute(ctx context.Context, op domain.Operation) (*domain.OperationResult, error)
}

// Notifier receives trade events for out-of-band delivery. Implementations
// must not block the poll loop.
type Notifier interface {
	TradeEvent(ctx context.Context, trade *domain.Trade, ev domain.Event)
}

// Archiver persists a snapshot of a trade once it reaches a terminal state.
type Archiver interface {
	ArchiveTrade(ctx context.Context, trade *domain.Trade) error
}

// Deps holds the machine's collaborators. Notifier and Archiver are optional.
type Deps struct {
	User        string
	Backend     domain.BackendClient
	Executor    Executor
	Transitions domain.TransitionStore
	Bus         domain.SignalBus
	Notifier    Notifier
	Archiver    Archiver
	Poll        time.Duration
	// AutoLock makes the machine invoke the escrow lock itself when the local
	// user is the seller and the trade is waiting for escrow.
	AutoLock bool
	Logger   *slog.Logger
}

// Machine is the trade lifecycle driver. One Machine serves all of the
// user's trades; per-trade poll state lives in the Watch call.
type Machine struct {
	user        string
	backend     domain.BackendClient
	executor    Executor
	transitions domain.TransitionStore
	bus         domain.SignalBus
	notifier    Notifier
	archiver    Archiver
	poll        time.Duration
	autoLock    bool
	logger      *slog.Logger
}

// New creates a Machine from its dependencies.
func New(d Deps) *Machine {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poll := d.Poll
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Machine{
		user:        d.User,
		backend:     d.Backend,
		executor:    d.Executor,
		transitions: d.Transitions,
		bus:         d.Bus,
		notifier:    d.Notifier,
		archiver:    d.Archiver,
		poll:        poll,
		autoLock:    d.AutoLock,
		logger:      logger.With(slog.String("component", "lifecycle")),
	}
}

// Watch polls one trade until it reaches a terminal state or ctx is
// cancelled. Status events are edge-triggered: an event fires only when the
// fetched status differs from the last observed one, never once per poll.
func (m *Machine) Watch(ctx context.Context, tradeID string) error {
	logger := m.logger.With(slog.String("trade_id", tradeID))

	trade, err := m.backend.GetTrade(ctx, tradeID)
	if err != nil {
		return fmt.Errorf("lifecycle: fetch trade %s: %w", tradeID, err)
	}

	last := trade.Status
	lastMsgID := m.newestMessageID(ctx, tradeID)
	lockTried := false

	logger.Info("watching trade",
		slog.String("status", string(last)),
		slog.String("chain", trade.Chain),
		slog.String("role", string(trade.Role(m.user))),
	)

	if done, err := m.step(ctx, logger, trade, last, &lockTried); done || err != nil {
		return err
	}

	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		trade, err := m.backend.GetTrade(ctx, tradeID)
		if err != nil {
			logger.Warn("trade poll failed", slog.Any("error", err))
			continue
		}

		if trade.Status != last {
			m.observeTransition(ctx, logger, trade, last)
			last = trade.Status
		}

		m.pollChat(ctx, logger, trade, &lastMsgID)

		if done, err := m.step(ctx, logger, trade, last, &lockTried); done || err != nil {
			return err
		}
	}
}

// step performs the per-poll action check and terminal handling. It returns
// done=true when the watcher should stop.
func (m *Machine) step(ctx context.Context, logger *slog.Logger, trade *domain.Trade, last domain.TradeStatus, lockTried *bool) (bool, error) {
	if trade.Status.Terminal() {
		logger.Info("trade terminal", slog.String("status", string(trade.Status)))
		if m.archiver != nil {
			if err := m.archiver.ArchiveTrade(ctx, trade); err != nil {
				logger.Warn("trade archive failed", slog.Any("error", err))
			}
		}
		return true, nil
	}

	if m.autoLock && !*lockTried &&
		trade.Status == domain.StatusWaitingForEscrow &&
		trade.Role(m.user) == domain.RoleSeller &&
		trade.EscrowTxHash == "" {
		*lockTried = true
		if _, err := m.Lock(ctx, trade); err != nil {
			logger.Error("escrow lock failed", slog.Any("error", err))
			// A failed lock is surfaced, never retried automatically. The
			// user relocks explicitly after resolving the cause.
		}
	}
	return false, nil
}

// observeTransition records and broadcasts one observed status edge.
func (m *Machine) observeTransition(ctx context.Context, logger *slog.Logger, trade *domain.Trade, from domain.TradeStatus) {
	allowed := TransitionAllowed(from, trade.Status)
	if !allowed {
		logger.Warn("transition outside lifecycle table",
			slog.String("from", string(from)),
			slog.String("to", string(trade.Status)),
		)
	} else {
		logger.Info("status changed",
			slog.String("from", string(from)),
			slog.String("to", string(trade.Status)),
		)
	}

	if err := m.transitions.RecordTransition(ctx, domain.Transition{
		TradeID:    trade.ID,
		From:       from,
		To:         trade.Status,
		Allowed:    allowed,
		ObservedAt: time.Now().UTC(),
	}); err != nil {
		logger.Warn("transition audit write failed", slog.Any("error", err))
	}

	ev := domain.Event{
		Type:    domain.EventStatusChanged,
		TradeID: trade.ID,
		From:    from,
		To:      trade.Status,
		At:      time.Now().UTC(),
	}
	m.publish(ctx, ev)
	if m.notifier != nil {
		m.notifier.TradeEvent(ctx, trade, ev)
	}
}

// pollChat mirrors the trade chat feed and raises an event when the newest
// message was authored by the counterparty.
func (m *Machine) pollChat(ctx context.Context, logger *slog.Logger, trade *domain.Trade, lastMsgID *string) {
	msgs, err := m.backend.Messages(ctx, trade.ID)
	if err != nil {
		logger.Warn("chat poll failed", slog.Any("error", err))
		return
	}
	if len(msgs) == 0 {
		return
	}
	newest := msgs[len(msgs)-1]
	if newest.ID == *lastMsgID {
		return
	}
	*lastMsgID = newest.ID
	if newest.AuthorID == m.user {
		return
	}

	ev := domain.Event{
		Type:    domain.EventChatMessage,
		TradeID: trade.ID,
		Message: newest.Body,
		At:      time.Now().UTC(),
	}
	m.publish(ctx, ev)
	if m.notifier != nil {
		m.notifier.TradeEvent(ctx, trade, ev)
	}
}

// Lock runs the seller's escrow lock for the trade through the sequencer.
func (m *Machine) Lock(ctx context.Context, trade *domain.Trade) (*domain.OperationResult, error) {
	if trade.Status.Terminal() {
		return nil, fmt.Errorf("lifecycle: lock trade %s: %w", trade.ID, domain.ErrTradeTerminal)
	}
	return m.executor.Execute(ctx, domain.Operation{
		ID:       uuid.NewString(),
		Kind:     domain.OpLock,
		Chain:    trade.Chain,
		Token:    trade.Token,
		Amount:   trade.Amount,
		TradeID:  trade.ID,
		Buyer:    trade.BuyerWalletAddress,
		Duration: escrowDuration,
	})
}

// ConfirmPayment reports the buyer's fiat transfer with its payment proof
// reference (bank UTR).
func (m *Machine) ConfirmPayment(ctx context.Context, tradeID, proofRef string) error {
	trade, err := m.backend.GetTrade(ctx, tradeID)
	if err != nil {
		return fmt.Errorf("lifecycle: confirm payment: %w", err)
	}
	if trade.Status.Terminal() {
		return fmt.Errorf("lifecycle: confirm payment on %s: %w", tradeID, domain.ErrTradeTerminal)
	}
	if err := m.backend.ConfirmPayment(ctx, tradeID, proofRef); err != nil {
		return fmt.Errorf("lifecycle: confirm payment: %w", err)
	}
	return nil
}

// ConfirmReceipt reports the seller's fiat receipt, releasing escrow.
func (m *Machine) ConfirmReceipt(ctx context.Context, tradeID string) error {
	trade, err := m.backend.GetTrade(ctx, tradeID)
	if err != nil {
		return fmt.Errorf("lifecycle: confirm receipt: %w", err)
	}
	if trade.Status.Terminal() {
		return fmt.Errorf("lifecycle: confirm receipt on %s: %w", tradeID, domain.ErrTradeTerminal)
	}
	if err := m.backend.ConfirmReceipt(ctx, tradeID); err != nil {
		return fmt.Errorf("lifecycle: confirm receipt: %w", err)
	}
	return nil
}

// RaiseDispute escalates the trade after checking the dispute gate. A blocked
// gate returns the remaining wait in the error.
func (m *Machine) RaiseDispute(ctx context.Context, tradeID, reason string) error {
	trade, err := m.backend.GetTrade(ctx, tradeID)
	if err != nil {
		return fmt.Errorf("lifecycle: raise dispute: %w", err)
	}
	decision := dispute.Evaluate(trade.Status, trade.FiatSentAt, time.Now().UTC())
	if !decision.Allowed {
		if decision.Remaining > 0 {
			return fmt.Errorf("lifecycle: dispute blocked for %s", decision.RemainingClock())
		}
		return fmt.Errorf("lifecycle: no dispute path from status %s", trade.Status)
	}
	if err := m.backend.RaiseDispute(ctx, tradeID, reason); err != nil {
		return fmt.Errorf("lifecycle: raise dispute: %w", err)
	}
	return nil
}

func (m *Machine) newestMessageID(ctx context.Context, tradeID string) string {
	msgs, err := m.backend.Messages(ctx, tradeID)
	if err != nil || len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].ID
}

func (m *Machine) publish(ctx context.Context, ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		m.logger.Error("event marshal failed", slog.Any("error", err))
		return
	}
	if err := m.bus.Publish(ctx, domain.StatusEventChannel, payload); err != nil {
		m.logger.Warn("event publish failed", slog.String("type", string(ev.Type)), slog.Any("error", err))
	}
}
