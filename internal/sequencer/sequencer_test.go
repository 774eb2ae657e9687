package sequencer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paisadex/escrowd/internal/config"
	"github.com/paisadex/escrowd/internal/domain"
)

type fakeWallet struct {
	mu          sync.Mutex
	kind        domain.WalletKind
	address     string
	activeChain int64
	switchErr   error
	submitErr   error
	submitHold  chan struct{}
	submitted   []domain.Operation
	nextHash    int
}

func (w *fakeWallet) Kind() domain.WalletKind { return w.kind }
func (w *fakeWallet) Address() string         { return w.address }

func (w *fakeWallet) ActiveChainID(ctx context.Context) (int64, error) {
	return w.activeChain, nil
}

func (w *fakeWallet) SwitchChain(ctx context.Context, chainID int64) error {
	if w.switchErr != nil {
		return w.switchErr
	}
	w.activeChain = chainID
	return nil
}

func (w *fakeWallet) Submit(ctx context.Context, op domain.Operation) (string, error) {
	if w.submitHold != nil {
		<-w.submitHold
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.submitErr != nil {
		return "", w.submitErr
	}
	w.submitted = append(w.submitted, op)
	w.nextHash++
	return fmt.Sprintf("0xtx%d", w.nextHash), nil
}

func (w *fakeWallet) WaitConfirmed(ctx context.Context, chain, txHash string) error { return nil }

func (w *fakeWallet) kinds() []domain.OperationKind {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]domain.OperationKind, len(w.submitted))
	for i, op := range w.submitted {
		out[i] = op.Kind
	}
	return out
}

// fakeChain delegates unit conversion to the real chain table and serves
// allowance/balance from fixed values.
type fakeChain struct {
	allowance *big.Int
	balance   *big.Int
}

func (c *fakeChain) IsNative(chain, token string) (bool, error) {
	spec, err := config.Chain(chain)
	if err != nil {
		return false, err
	}
	return spec.IsNative(token), nil
}

func (c *fakeChain) ToWei(chain, token string, amount float64) (*big.Int, error) {
	spec, err := config.Chain(chain)
	if err != nil {
		return nil, err
	}
	t, err := spec.Token(token)
	if err != nil {
		return nil, err
	}
	scaled := new(big.Float).Mul(big.NewFloat(amount), big.NewFloat(1))
	for i := 0; i < t.Decimals; i++ {
		scaled.Mul(scaled, big.NewFloat(10))
	}
	wei, _ := scaled.Int(nil)
	return wei, nil
}

func (c *fakeChain) Allowance(ctx context.Context, chain, token, owner string) (*big.Int, error) {
	return new(big.Int).Set(c.allowance), nil
}

func (c *fakeChain) TokenBalance(ctx context.Context, chain, token, owner string) (*big.Int, error) {
	return new(big.Int).Set(c.balance), nil
}

type fakeBackend struct {
	mu           sync.Mutex
	positions    []domain.VaultPosition
	reportErr    error
	lockReports  []string
	depositCalls int
}

func (b *fakeBackend) GetTrade(ctx context.Context, id string) (*domain.Trade, error) {
	return nil, domain.ErrNotFound
}
func (b *fakeBackend) ListOpenTrades(ctx context.Context, userID string) ([]domain.Trade, error) {
	return nil, nil
}
func (b *fakeBackend) ConfirmPayment(ctx context.Context, tradeID, proofRef string) error {
	return nil
}
func (b *fakeBackend) ConfirmReceipt(ctx context.Context, tradeID string) error      { return nil }
func (b *fakeBackend) RaiseDispute(ctx context.Context, tradeID, reason string) error { return nil }

func (b *fakeBackend) ReportLock(ctx context.Context, tradeID, txHash string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reportErr != nil {
		return b.reportErr
	}
	b.lockReports = append(b.lockReports, txHash)
	return nil
}

func (b *fakeBackend) ReportVaultDeposit(ctx context.Context, chain, token string, amount float64, txHash string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reportErr != nil {
		return b.reportErr
	}
	b.depositCalls++
	return nil
}

func (b *fakeBackend) ReportVaultWithdraw(ctx context.Context, chain, token string, amount float64, txHash string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reportErr
}

func (b *fakeBackend) VaultPositions(ctx context.Context, userID string) ([]domain.VaultPosition, error) {
	return b.positions, nil
}

func (b *fakeBackend) ExecuteVaultDeposit(ctx context.Context, chain, token string, amount float64) (string, error) {
	return "0xbot1", nil
}
func (b *fakeBackend) ExecuteVaultWithdraw(ctx context.Context, chain, token string, amount float64) (string, error) {
	return "0xbot2", nil
}
func (b *fakeBackend) ExecuteRelayedLock(ctx context.Context, tradeID string) (string, error) {
	return "relay:" + tradeID, nil
}
func (b *fakeBackend) Messages(ctx context.Context, tradeID string) ([]domain.ChatMessage, error) {
	return nil, nil
}

type fakeJournal struct {
	mu      sync.Mutex
	entries map[string]domain.JournalEntry
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{entries: make(map[string]domain.JournalEntry)}
}

func (j *fakeJournal) Record(ctx context.Context, e domain.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[e.ID] = e
	return nil
}

func (j *fakeJournal) MarkReconciled(ctx context.Context, id string, at time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.entries[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.State = domain.JournalReconciled
	e.ReconciledAt = &at
	j.entries[id] = e
	return nil
}

func (j *fakeJournal) MarkFailed(ctx context.Context, id string, reason string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.entries[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.State = domain.JournalFailed
	e.FailReason = reason
	j.entries[id] = e
	return nil
}

func (j *fakeJournal) ListUnreconciled(ctx context.Context, user string) ([]domain.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []domain.JournalEntry
	for _, e := range j.entries {
		if e.State != domain.JournalReconciled {
			out = append(out, e)
		}
	}
	return out, nil
}

func (j *fakeJournal) byState(state domain.JournalState) []domain.JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []domain.JournalEntry
	for _, e := range j.entries {
		if e.State == state {
			out = append(out, e)
		}
	}
	return out
}

type fakeLocks struct{}

func (fakeLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	return func() {}, nil
}

type fakeVault struct {
	mu  sync.Mutex
	pos map[string]domain.VaultPosition
}

func newFakeVault() *fakeVault { return &fakeVault{pos: make(map[string]domain.VaultPosition)} }

func (v *fakeVault) Get(ctx context.Context, user, chain, token string) (*domain.VaultPosition, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.pos[chain+"/"+token]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (v *fakeVault) Set(ctx context.Context, user string, p domain.VaultPosition) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pos[p.Chain+"/"+p.Token] = p
	return nil
}

func (v *fakeVault) Invalidate(ctx context.Context, user, chain, token string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.pos, chain+"/"+token)
	return nil
}

type fakeBus struct {
	mu     sync.Mutex
	events []string
}

func (b *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, string(payload))
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

type seqFixture struct {
	seq     *Sequencer
	wallet  *fakeWallet
	chain   *fakeChain
	backend *fakeBackend
	journal *fakeJournal
	vault   *fakeVault
	bus     *fakeBus
}

func newFixture(t *testing.T) *seqFixture {
	t.Helper()
	f := &seqFixture{
		wallet: &fakeWallet{
			kind:        domain.WalletExternal,
			address:     "0xSellerSellerSellerSellerSellerSellerSell",
			activeChain: 8453,
		},
		chain:   &fakeChain{allowance: big.NewInt(0), balance: big.NewInt(1_000_000_000)},
		backend: &fakeBackend{},
		journal: newFakeJournal(),
		vault:   newFakeVault(),
		bus:     &fakeBus{},
	}
	f.seq = New(Deps{
		User:    "seller-1",
		Wallet:  f.wallet,
		Chain:   f.chain,
		Backend: f.backend,
		Journal: f.journal,
		Locks:   fakeLocks{},
		Vault:   f.vault,
		Bus:     f.bus,
	})
	return f
}

func TestDepositApprovesWhenAllowanceShort(t *testing.T) {
	f := newFixture(t)
	f.chain.allowance = big.NewInt(0)

	res, err := f.seq.Execute(context.Background(), domain.Operation{
		Kind: domain.OpDeposit, Chain: "base", Token: "USDC", Amount: 100,
	})
	require.NoError(t, err)

	assert.Equal(t, []domain.OperationKind{domain.OpApprove, domain.OpDeposit}, f.wallet.kinds())
	assert.NotEmpty(t, res.ApproveTxHash)
	assert.True(t, res.Reconciled)
	assert.Equal(t, 1, f.backend.depositCalls)
}

func TestDepositSkipsApproveWhenAllowanceSufficient(t *testing.T) {
	f := newFixture(t)
	f.chain.allowance = big.NewInt(100_000_000) // 100 USDC at 6 decimals

	res, err := f.seq.Execute(context.Background(), domain.Operation{
		Kind: domain.OpDeposit, Chain: "base", Token: "USDC", Amount: 100,
	})
	require.NoError(t, err)

	assert.Equal(t, []domain.OperationKind{domain.OpDeposit}, f.wallet.kinds())
	assert.Empty(t, res.ApproveTxHash)
}

func TestNativeDepositNeverApproves(t *testing.T) {
	f := newFixture(t)
	f.wallet.activeChain = 56
	f.chain.allowance = big.NewInt(0)
	f.chain.balance = new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18))

	_, err := f.seq.Execute(context.Background(), domain.Operation{
		Kind: domain.OpDeposit, Chain: "bsc", Token: "BNB", Amount: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, []domain.OperationKind{domain.OpDeposit}, f.wallet.kinds())
}

func TestConcurrentOperationOnSameResourceRejected(t *testing.T) {
	f := newFixture(t)
	f.chain.allowance = big.NewInt(100_000_000)
	f.wallet.submitHold = make(chan struct{})

	op := domain.Operation{Kind: domain.OpDeposit, Chain: "base", Token: "USDC", Amount: 50}

	done := make(chan error, 1)
	go func() {
		_, err := f.seq.Execute(context.Background(), op)
		done <- err
	}()

	// Wait for the first invocation to register as pending.
	require.Eventually(t, func() bool {
		return len(f.seq.Pending()) == 1
	}, time.Second, 5*time.Millisecond)

	_, err := f.seq.Execute(context.Background(), op)
	require.ErrorIs(t, err, domain.ErrOperationPending)

	close(f.wallet.submitHold)
	require.NoError(t, <-done)
	assert.Empty(t, f.seq.Pending())
}

func TestSwitchRejectionFailsOperation(t *testing.T) {
	f := newFixture(t)
	f.wallet.activeChain = 1 // wrong network
	f.wallet.switchErr = &domain.WalletError{Code: domain.WalletErrCodeUserRejected, Message: "User rejected the request."}

	_, err := f.seq.Execute(context.Background(), domain.Operation{
		Kind: domain.OpDeposit, Chain: "base", Token: "USDC", Amount: 10,
	})
	require.ErrorIs(t, err, domain.ErrUserRejected)
	assert.Empty(t, f.wallet.kinds())
}

func TestSwitchTimeoutClassified(t *testing.T) {
	f := newFixture(t)
	f.wallet.activeChain = 1
	f.wallet.switchErr = context.DeadlineExceeded

	_, err := f.seq.Execute(context.Background(), domain.Operation{
		Kind: domain.OpDeposit, Chain: "base", Token: "USDC", Amount: 10,
	})
	require.ErrorIs(t, err, domain.ErrSwitchTimeout)
}

func TestWithdrawGuardedByAvailableBalance(t *testing.T) {
	f := newFixture(t)
	f.backend.positions = []domain.VaultPosition{
		{Chain: "base", Token: "USDC", Physical: 100, Reserved: 80},
	}

	_, err := f.seq.Execute(context.Background(), domain.Operation{
		Kind: domain.OpWithdraw, Chain: "base", Token: "USDC", Amount: 50,
	})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Empty(t, f.wallet.kinds(), "no transaction may be submitted past the guard")
}

func TestWithdrawWithinAvailableSucceeds(t *testing.T) {
	f := newFixture(t)
	f.backend.positions = []domain.VaultPosition{
		{Chain: "base", Token: "USDC", Physical: 100, Reserved: 80},
	}

	res, err := f.seq.Execute(context.Background(), domain.Operation{
		Kind: domain.OpWithdraw, Chain: "base", Token: "USDC", Amount: 20,
	})
	require.NoError(t, err)
	assert.True(t, res.Reconciled)
	assert.Equal(t, []domain.OperationKind{domain.OpWithdraw}, f.wallet.kinds())
}

func TestLockBundlesDepositOnlyWhenVaultShort(t *testing.T) {
	f := newFixture(t)
	f.chain.allowance = big.NewInt(1_000_000_000)
	f.backend.positions = []domain.VaultPosition{
		{Chain: "base", Token: "USDC", Physical: 40, Reserved: 0},
	}

	res, err := f.seq.Execute(context.Background(), domain.Operation{
		Kind: domain.OpLock, Chain: "base", Token: "USDC", Amount: 100,
		TradeID: "t-1", Buyer: "0xBuyer", Duration: time.Hour,
	})
	require.NoError(t, err)

	assert.Equal(t, []domain.OperationKind{domain.OpDeposit, domain.OpLock}, f.wallet.kinds())
	assert.NotEmpty(t, res.DepositTxHash)
	assert.Equal(t, 1, f.backend.depositCalls)
	require.Len(t, f.backend.lockReports, 1)
	assert.Equal(t, res.TxHash, f.backend.lockReports[0])
}

func TestLockSkipsDepositWhenVaultCovers(t *testing.T) {
	f := newFixture(t)
	f.backend.positions = []domain.VaultPosition{
		{Chain: "base", Token: "USDC", Physical: 150, Reserved: 0},
	}

	res, err := f.seq.Execute(context.Background(), domain.Operation{
		Kind: domain.OpLock, Chain: "base", Token: "USDC", Amount: 100,
		TradeID: "t-2", Buyer: "0xBuyer", Duration: time.Hour,
	})
	require.NoError(t, err)

	assert.Equal(t, []domain.OperationKind{domain.OpLock}, f.wallet.kinds())
	assert.Empty(t, res.DepositTxHash)
}

func TestReconciliationFailureSurfacesTxHash(t *testing.T) {
	f := newFixture(t)
	f.backend.positions = []domain.VaultPosition{
		{Chain: "base", Token: "USDC", Physical: 150, Reserved: 0},
	}
	f.backend.reportErr = errors.New("backend unavailable")

	res, err := f.seq.Execute(context.Background(), domain.Operation{
		Kind: domain.OpLock, Chain: "base", Token: "USDC", Amount: 100, TradeID: "t-3",
	})
	require.Error(t, err)

	var rerr *domain.ReconciliationError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, res.TxHash, rerr.TxHash)
	assert.NotEmpty(t, res.TxHash, "the confirmed hash must reach the caller")
	assert.False(t, res.Reconciled)

	failed := f.journal.byState(domain.JournalFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, res.TxHash, failed[0].TxHash)
	assert.Contains(t, failed[0].FailReason, "backend unavailable")
}

func TestReacknowledgeRetriesBackendOnly(t *testing.T) {
	f := newFixture(t)
	f.backend.positions = []domain.VaultPosition{
		{Chain: "base", Token: "USDC", Physical: 150, Reserved: 0},
	}
	f.backend.reportErr = errors.New("backend unavailable")

	_, err := f.seq.Execute(context.Background(), domain.Operation{
		Kind: domain.OpLock, Chain: "base", Token: "USDC", Amount: 100, TradeID: "t-4",
	})
	require.Error(t, err)
	submitted := len(f.wallet.kinds())

	f.backend.reportErr = nil
	stuck, err := f.seq.Unreconciled(context.Background())
	require.NoError(t, err)
	require.Len(t, stuck, 1)

	require.NoError(t, f.seq.Reacknowledge(context.Background(), stuck[0]))

	assert.Len(t, f.wallet.kinds(), submitted, "the chain write must never be resubmitted")
	assert.Empty(t, f.journal.byState(domain.JournalFailed))
	require.Len(t, f.backend.lockReports, 1)
	assert.Equal(t, stuck[0].TxHash, f.backend.lockReports[0])
}

func TestBotWalletSkipsNetworkAndApprove(t *testing.T) {
	f := newFixture(t)
	f.wallet.kind = domain.WalletBot
	f.wallet.activeChain = 0 // custodial wallets report no active chain
	f.chain.allowance = big.NewInt(0)

	res, err := f.seq.Execute(context.Background(), domain.Operation{
		Kind: domain.OpDeposit, Chain: "base", Token: "USDC", Amount: 25,
	})
	require.NoError(t, err)

	assert.Equal(t, []domain.OperationKind{domain.OpDeposit}, f.wallet.kinds())
	assert.True(t, res.Reconciled)
	require.Len(t, f.journal.byState(domain.JournalReconciled), 1)
}
