package lifecycle

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paisadex/escrowd/internal/domain"
)

// scriptedBackend serves a sequence of trade snapshots, advancing one step
// per GetTrade call, and a fixed chat feed.
type scriptedBackend struct {
	mu       sync.Mutex
	statuses []domain.TradeStatus
	idx      int
	trade    domain.Trade
	messages []domain.ChatMessage
	disputes []string
}

func (b *scriptedBackend) GetTrade(ctx context.Context, id string) (*domain.Trade, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.trade
	t.Status = b.statuses[b.idx]
	if b.idx < len(b.statuses)-1 {
		b.idx++
	}
	return &t, nil
}

func (b *scriptedBackend) ListOpenTrades(ctx context.Context, userID string) ([]domain.Trade, error) {
	return nil, nil
}
func (b *scriptedBackend) ConfirmPayment(ctx context.Context, tradeID, proofRef string) error {
	return nil
}
func (b *scriptedBackend) ConfirmReceipt(ctx context.Context, tradeID string) error { return nil }

func (b *scriptedBackend) RaiseDispute(ctx context.Context, tradeID, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disputes = append(b.disputes, reason)
	return nil
}

func (b *scriptedBackend) ReportLock(ctx context.Context, tradeID, txHash string) error { return nil }
func (b *scriptedBackend) ReportVaultDeposit(ctx context.Context, chain, token string, amount float64, txHash string) error {
	return nil
}
func (b *scriptedBackend) ReportVaultWithdraw(ctx context.Context, chain, token string, amount float64, txHash string) error {
	return nil
}
func (b *scriptedBackend) VaultPositions(ctx context.Context, userID string) ([]domain.VaultPosition, error) {
	return nil, nil
}
func (b *scriptedBackend) ExecuteVaultDeposit(ctx context.Context, chain, token string, amount float64) (string, error) {
	return "", domain.ErrUnsupportedOperation
}
func (b *scriptedBackend) ExecuteVaultWithdraw(ctx context.Context, chain, token string, amount float64) (string, error) {
	return "", domain.ErrUnsupportedOperation
}
func (b *scriptedBackend) ExecuteRelayedLock(ctx context.Context, tradeID string) (string, error) {
	return "", domain.ErrUnsupportedOperation
}

func (b *scriptedBackend) Messages(ctx context.Context, tradeID string) ([]domain.ChatMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.messages, nil
}

type memTransitions struct {
	mu   sync.Mutex
	rows []domain.Transition
}

func (s *memTransitions) RecordTransition(ctx context.Context, t domain.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, t)
	return nil
}

func (s *memTransitions) ListByTrade(ctx context.Context, tradeID string) ([]domain.Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Transition(nil), s.rows...), nil
}

type memBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *memBus) Publish(ctx context.Context, channel string, payload []byte) error {
	var ev domain.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *memBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *memBus) ofType(t domain.EventType) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Event
	for _, ev := range b.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type recordingExecutor struct {
	mu  sync.Mutex
	ops []domain.Operation
}

func (e *recordingExecutor) Execute(ctx context.Context, op domain.Operation) (*domain.OperationResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ops = append(e.ops, op)
	return &domain.OperationResult{Operation: op, TxHash: "0xlock", Reconciled: true}, nil
}

func baseTrade() domain.Trade {
	return domain.Trade{
		ID:                 "trade-1",
		Chain:              "base",
		Token:              "USDC",
		Amount:             100,
		Rate:               90,
		SellerID:           "seller-1",
		BuyerID:            "buyer-1",
		BuyerWalletAddress: "0xBuyerWallet",
	}
}

func newMachine(backend *scriptedBackend, exec Executor, bus *memBus, store *memTransitions, autoLock bool) *Machine {
	return New(Deps{
		User:        "seller-1",
		Backend:     backend,
		Executor:    exec,
		Transitions: store,
		Bus:         bus,
		Poll:        5 * time.Millisecond,
		AutoLock:    autoLock,
	})
}

func TestWatchStatusEventsAreEdgeTriggered(t *testing.T) {
	backend := &scriptedBackend{
		trade: baseTrade(),
		statuses: []domain.TradeStatus{
			domain.StatusInEscrow,
			domain.StatusInEscrow,
			domain.StatusInEscrow,
			domain.StatusFiatSent,
			domain.StatusFiatSent,
			domain.StatusCompleted,
		},
	}
	bus := &memBus{}
	store := &memTransitions{}
	m := newMachine(backend, &recordingExecutor{}, bus, store, false)

	require.NoError(t, m.Watch(context.Background(), "trade-1"))

	changes := bus.ofType(domain.EventStatusChanged)
	require.Len(t, changes, 2, "repeated polls of the same status must not re-fire")
	assert.Equal(t, domain.StatusInEscrow, changes[0].From)
	assert.Equal(t, domain.StatusFiatSent, changes[0].To)
	assert.Equal(t, domain.StatusFiatSent, changes[1].From)
	assert.Equal(t, domain.StatusCompleted, changes[1].To)

	require.Len(t, store.rows, 2)
	assert.True(t, store.rows[0].Allowed)
	assert.True(t, store.rows[1].Allowed)
}

func TestWatchFlagsTransitionOutsideTable(t *testing.T) {
	backend := &scriptedBackend{
		trade: baseTrade(),
		statuses: []domain.TradeStatus{
			domain.StatusWaitingForEscrow,
			domain.StatusFiatSent, // skips in_escrow
			domain.StatusCompleted,
		},
	}
	bus := &memBus{}
	store := &memTransitions{}
	m := newMachine(backend, &recordingExecutor{}, bus, store, false)

	require.NoError(t, m.Watch(context.Background(), "trade-1"))

	require.NotEmpty(t, store.rows)
	assert.False(t, store.rows[0].Allowed)
	assert.Equal(t, domain.StatusWaitingForEscrow, store.rows[0].From)
	assert.Equal(t, domain.StatusFiatSent, store.rows[0].To)
}

func TestWatchAutoLocksAsSellerOnce(t *testing.T) {
	backend := &scriptedBackend{
		trade: baseTrade(),
		statuses: []domain.TradeStatus{
			domain.StatusWaitingForEscrow,
			domain.StatusWaitingForEscrow,
			domain.StatusInEscrow,
			domain.StatusCompleted,
		},
	}
	exec := &recordingExecutor{}
	m := newMachine(backend, exec, &memBus{}, &memTransitions{}, true)

	require.NoError(t, m.Watch(context.Background(), "trade-1"))

	require.Len(t, exec.ops, 1, "lock must be attempted exactly once")
	op := exec.ops[0]
	assert.Equal(t, domain.OpLock, op.Kind)
	assert.Equal(t, "trade-1", op.TradeID)
	assert.Equal(t, "0xBuyerWallet", op.Buyer)
	assert.Equal(t, 100.0, op.Amount)
	assert.Equal(t, time.Hour, op.Duration)
}

func TestWatchBuyerNeverAutoLocks(t *testing.T) {
	trade := baseTrade()
	trade.SellerID = "someone-else"
	trade.BuyerID = "seller-1" // the local user is the buyer here
	backend := &scriptedBackend{
		trade: trade,
		statuses: []domain.TradeStatus{
			domain.StatusWaitingForEscrow,
			domain.StatusCancelled,
		},
	}
	exec := &recordingExecutor{}
	m := newMachine(backend, exec, &memBus{}, &memTransitions{}, true)

	require.NoError(t, m.Watch(context.Background(), "trade-1"))
	assert.Empty(t, exec.ops)
}

func TestWatchRaisesCounterpartyChatEventOnce(t *testing.T) {
	backend := &scriptedBackend{
		trade: baseTrade(),
		statuses: []domain.TradeStatus{
			domain.StatusInEscrow,
			domain.StatusInEscrow,
			domain.StatusInEscrow,
			domain.StatusCompleted,
		},
	}
	bus := &memBus{}
	m := newMachine(backend, &recordingExecutor{}, bus, &memTransitions{}, false)

	// Seed after the initial snapshot so the message registers as new.
	go func() {
		time.Sleep(2 * time.Millisecond)
		backend.mu.Lock()
		backend.messages = []domain.ChatMessage{
			{ID: "m1", TradeID: "trade-1", AuthorID: "buyer-1", Body: "payment on the way"},
		}
		backend.mu.Unlock()
	}()

	require.NoError(t, m.Watch(context.Background(), "trade-1"))

	chats := bus.ofType(domain.EventChatMessage)
	require.Len(t, chats, 1, "the same newest message must not re-fire")
	assert.Equal(t, "payment on the way", chats[0].Message)
}

func TestWatchIgnoresOwnChatMessages(t *testing.T) {
	backend := &scriptedBackend{
		trade: baseTrade(),
		statuses: []domain.TradeStatus{
			domain.StatusInEscrow,
			domain.StatusInEscrow,
			domain.StatusCompleted,
		},
	}
	bus := &memBus{}
	m := newMachine(backend, &recordingExecutor{}, bus, &memTransitions{}, false)

	go func() {
		time.Sleep(2 * time.Millisecond)
		backend.mu.Lock()
		backend.messages = []domain.ChatMessage{
			{ID: "m1", TradeID: "trade-1", AuthorID: "seller-1", Body: "sent from this side"},
		}
		backend.mu.Unlock()
	}()

	require.NoError(t, m.Watch(context.Background(), "trade-1"))
	assert.Empty(t, bus.ofType(domain.EventChatMessage))
}

func TestRaiseDisputeBlockedDuringCoolDown(t *testing.T) {
	sentAt := time.Now().Add(-30 * time.Minute)
	trade := baseTrade()
	trade.FiatSentAt = &sentAt
	backend := &scriptedBackend{
		trade:    trade,
		statuses: []domain.TradeStatus{domain.StatusFiatSent},
	}
	m := newMachine(backend, &recordingExecutor{}, &memBus{}, &memTransitions{}, false)

	err := m.RaiseDispute(context.Background(), "trade-1", "no payment received")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dispute blocked")
	assert.Empty(t, backend.disputes)
}

func TestRaiseDisputeAllowedAfterCoolDown(t *testing.T) {
	sentAt := time.Now().Add(-61 * time.Minute)
	trade := baseTrade()
	trade.FiatSentAt = &sentAt
	backend := &scriptedBackend{
		trade:    trade,
		statuses: []domain.TradeStatus{domain.StatusFiatSent},
	}
	m := newMachine(backend, &recordingExecutor{}, &memBus{}, &memTransitions{}, false)

	require.NoError(t, m.RaiseDispute(context.Background(), "trade-1", "no payment received"))
	require.Len(t, backend.disputes, 1)
}

func TestLockRejectedOnTerminalTrade(t *testing.T) {
	trade := baseTrade()
	trade.Status = domain.StatusCancelled
	m := newMachine(&scriptedBackend{}, &recordingExecutor{}, &memBus{}, &memTransitions{}, false)

	_, err := m.Lock(context.Background(), &trade)
	require.ErrorIs(t, err, domain.ErrTradeTerminal)
}
