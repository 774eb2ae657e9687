// Package sequencer coordinates on-chain escrow operations. Each invocation
// drives one operation through network check, allowance check, balance check,
// submission, confirmation, and backend reconciliation, holding the
// per-(user, chain, token) lock for the whole span.
package sequencer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paisadex/escrowd/internal/config"
	"github.com/paisadex/escrowd/internal/domain"
)

const (
	// SwitchTimeout bounds how long the agent waits for a wallet to answer a
	// network-switch request before treating the operation as failed.
	SwitchTimeout = 8 * time.Second

	// lockTTL bounds the distributed lock so a crashed process cannot wedge a
	// resource forever.
	lockTTL = 5 * time.Minute
)

// ChainReader is the read surface the sequencer needs from the chain gateway.
type ChainReader interface {
	IsNative(chain, token string) (bool, error)
	ToWei(chain, token string, amount float64) (*big.Int, error)
	Allowance(ctx context.Context, chain, token, owner string) (*big.Int, error)
	TokenBalance(ctx context.Context, chain, token, owner string) (*big.Int, error)
}

// Deps holds the sequencer's collaborators.
type Deps struct {
	User    string
	Wallet  domain.Wallet
	Chain   ChainReader
	Backend domain.BackendClient
	Journal domain.OperationJournal
	Locks   domain.LockManager
	Vault   domain.VaultCache
	Bus     domain.SignalBus
	Logger  *slog.Logger
}

// Sequencer executes escrow operations one at a time per resource.
type Sequencer struct {
	user    string
	wallet  domain.Wallet
	chain   ChainReader
	backend domain.BackendClient
	journal domain.OperationJournal
	locks   domain.LockManager
	vault   domain.VaultCache
	bus     domain.SignalBus
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]*domain.PendingOperation
}

// New creates a Sequencer from its dependencies.
func New(d Deps) *Sequencer {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{
		user:    d.User,
		wallet:  d.Wallet,
		chain:   d.Chain,
		backend: d.Backend,
		journal: d.Journal,
		locks:   d.Locks,
		vault:   d.Vault,
		bus:     d.Bus,
		logger:  logger.With(slog.String("component", "sequencer")),
		pending: make(map[string]*domain.PendingOperation),
	}
}

// Execute runs a single escrow operation end to end. A second call for the
// same (user, chain, token) while one is in flight returns
// ErrOperationPending; the distributed lock extends the same guarantee across
// processes. On the on-chain-success / backend-failure partial case the
// returned result carries the confirmed tx hash and the error unwraps to a
// *domain.ReconciliationError.
func (s *Sequencer) Execute(ctx context.Context, op domain.Operation) (*domain.OperationResult, error) {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	spec, err := config.Chain(op.Chain)
	if err != nil {
		return nil, fmt.Errorf("sequencer: %w", err)
	}

	key := op.ResourceKey(s.user)
	if !s.track(key, op) {
		return nil, fmt.Errorf("sequencer: resource %s: %w", key, domain.ErrOperationPending)
	}
	defer s.untrack(key)

	unlock, err := s.locks.Acquire(ctx, key, lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("sequencer: resource %s: %w", key, domain.ErrOperationPending)
		}
		return nil, fmt.Errorf("sequencer: acquire lock for %s: %w", key, err)
	}
	defer unlock()

	s.logger.Info("executing operation",
		slog.String("op_id", op.ID),
		slog.String("kind", string(op.Kind)),
		slog.String("chain", op.Chain),
		slog.String("token", op.Token),
		slog.Float64("amount", op.Amount),
	)

	if s.wallet.Kind() == domain.WalletBot {
		return s.executeBot(ctx, key, op)
	}
	return s.executeExternal(ctx, key, op, spec)
}

// executeBot is the custodial path: the backend signs and submits server-side
// and records the operation itself, so there is no separate reconciliation
// step. The journal entry is written already reconciled for the audit trail.
func (s *Sequencer) executeBot(ctx context.Context, key string, op domain.Operation) (*domain.OperationResult, error) {
	s.setPhase(key, domain.PhaseSubmitting)
	txHash, err := s.wallet.Submit(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("sequencer: bot submit %s: %w", op.Kind, err)
	}
	s.setTxHash(key, txHash)
	now := time.Now().UTC()

	entry := domain.JournalEntry{
		ID:           op.ID,
		User:         s.user,
		Chain:        op.Chain,
		Token:        op.Token,
		Kind:         op.Kind,
		TradeID:      op.TradeID,
		Amount:       op.Amount,
		TxHash:       txHash,
		State:        domain.JournalReconciled,
		SubmittedAt:  now,
		ReconciledAt: &now,
	}
	if err := s.journal.Record(ctx, entry); err != nil {
		s.logger.Error("journal write failed", slog.String("tx_hash", txHash), slog.Any("error", err))
	}

	s.invalidateVault(ctx, op)
	s.publish(ctx, domain.Event{
		Type:    domain.EventOperationConfirmed,
		TradeID: op.TradeID,
		TxHash:  txHash,
		At:      now,
	})

	return &domain.OperationResult{
		Operation:   op,
		TxHash:      txHash,
		Reconciled:  true,
		ConfirmedAt: now,
	}, nil
}

func (s *Sequencer) executeExternal(ctx context.Context, key string, op domain.Operation, spec config.ChainSpec) (*domain.OperationResult, error) {
	s.setPhase(key, domain.PhaseSwitching)
	if err := s.ensureNetwork(ctx, spec.ID); err != nil {
		return nil, err
	}

	res := &domain.OperationResult{Operation: op}

	switch op.Kind {
	case domain.OpApprove:
		txHash, err := s.submitAndWait(ctx, key, op)
		if err != nil {
			return nil, err
		}
		res.TxHash = txHash
		res.ConfirmedAt = time.Now().UTC()
		// Approvals are not visible to the backend; record them reconciled.
		entry := s.entryFor(op, txHash)
		entry.State = domain.JournalReconciled
		entry.ReconciledAt = &res.ConfirmedAt
		if err := s.journal.Record(ctx, entry); err != nil {
			s.logger.Error("journal write failed", slog.String("tx_hash", txHash), slog.Any("error", err))
		}
		res.Reconciled = true
		return res, nil

	case domain.OpDeposit:
		approveTx, err := s.ensureAllowance(ctx, key, op.Chain, op.Token, op.Amount)
		if err != nil {
			return nil, err
		}
		res.ApproveTxHash = approveTx
		if err := s.checkWalletBalance(ctx, op.Chain, op.Token, op.Amount); err != nil {
			return nil, err
		}
		txHash, err := s.submitAndWait(ctx, key, op)
		if err != nil {
			return nil, err
		}
		res.TxHash = txHash
		res.ConfirmedAt = time.Now().UTC()
		err = s.reconcile(ctx, key, op, txHash, func(ctx context.Context) error {
			return s.backend.ReportVaultDeposit(ctx, op.Chain, op.Token, op.Amount, txHash)
		})
		res.Reconciled = err == nil
		return res, err

	case domain.OpWithdraw:
		pos, err := s.position(ctx, op.Chain, op.Token)
		if err != nil {
			return nil, err
		}
		if pos.Available() < op.Amount {
			return nil, fmt.Errorf("sequencer: withdraw %v %s, available %v: %w",
				op.Amount, op.Token, pos.Available(), domain.ErrInsufficientBalance)
		}
		txHash, err := s.submitAndWait(ctx, key, op)
		if err != nil {
			return nil, err
		}
		res.TxHash = txHash
		res.ConfirmedAt = time.Now().UTC()
		err = s.reconcile(ctx, key, op, txHash, func(ctx context.Context) error {
			return s.backend.ReportVaultWithdraw(ctx, op.Chain, op.Token, op.Amount, txHash)
		})
		res.Reconciled = err == nil
		return res, err

	case domain.OpLock:
		return s.executeLock(ctx, key, op, res)

	default:
		return nil, fmt.Errorf("sequencer: kind %q: %w", op.Kind, domain.ErrUnsupportedOperation)
	}
}

// executeLock locks escrow for a trade. When the vault's available balance
// does not cover the amount, the shortfall is deposited first as its own
// confirmed and reconciled transaction; only then is the lock submitted.
func (s *Sequencer) executeLock(ctx context.Context, key string, op domain.Operation, res *domain.OperationResult) (*domain.OperationResult, error) {
	pos, err := s.position(ctx, op.Chain, op.Token)
	if err != nil {
		return nil, err
	}

	if shortfall := op.Amount - pos.Available(); shortfall > 0 {
		approveTx, err := s.ensureAllowance(ctx, key, op.Chain, op.Token, shortfall)
		if err != nil {
			return nil, err
		}
		res.ApproveTxHash = approveTx
		if err := s.checkWalletBalance(ctx, op.Chain, op.Token, shortfall); err != nil {
			return nil, err
		}

		s.setPhase(key, domain.PhaseDepositing)
		depOp := domain.Operation{
			ID:     uuid.NewString(),
			Kind:   domain.OpDeposit,
			Chain:  op.Chain,
			Token:  op.Token,
			Amount: shortfall,
		}
		depTx, err := s.submitAndWait(ctx, key, depOp)
		if err != nil {
			return nil, err
		}
		res.DepositTxHash = depTx
		if err := s.reconcile(ctx, key, depOp, depTx, func(ctx context.Context) error {
			return s.backend.ReportVaultDeposit(ctx, depOp.Chain, depOp.Token, depOp.Amount, depTx)
		}); err != nil {
			// The bundled deposit is on-chain but unacknowledged; the lock
			// must not proceed on a vault balance the backend does not see.
			return res, err
		}
	}

	txHash, err := s.submitAndWait(ctx, key, op)
	if err != nil {
		return res, err
	}
	res.TxHash = txHash
	res.ConfirmedAt = time.Now().UTC()
	err = s.reconcile(ctx, key, op, txHash, func(ctx context.Context) error {
		return s.backend.ReportLock(ctx, op.TradeID, txHash)
	})
	res.Reconciled = err == nil
	return res, err
}

// ensureNetwork verifies the wallet is on the target chain and requests a
// switch when it is not. The switch is attempted once; a rejection or timeout
// fails the operation.
func (s *Sequencer) ensureNetwork(ctx context.Context, chainID int64) error {
	active, err := s.wallet.ActiveChainID(ctx)
	if err != nil {
		return fmt.Errorf("sequencer: read active chain: %w", err)
	}
	if active == chainID {
		return nil
	}

	swCtx, cancel := context.WithTimeout(ctx, SwitchTimeout)
	defer cancel()
	if err := s.wallet.SwitchChain(swCtx, chainID); err != nil {
		switch {
		case domain.IsUserRejection(err):
			return fmt.Errorf("sequencer: switch to chain %d: %w", chainID, domain.ErrUserRejected)
		case errors.Is(err, context.DeadlineExceeded):
			return fmt.Errorf("sequencer: switch to chain %d: %w", chainID, domain.ErrSwitchTimeout)
		default:
			return fmt.Errorf("sequencer: switch to chain %d: %v: %w", chainID, err, domain.ErrNetworkMismatch)
		}
	}
	return nil
}

// ensureAllowance approves the escrow contract for exactly amount when the
// current allowance is short. Native assets need no allowance. The allowance
// is re-read after the approval confirms before the caller may proceed.
func (s *Sequencer) ensureAllowance(ctx context.Context, key, chain, token string, amount float64) (string, error) {
	native, err := s.chain.IsNative(chain, token)
	if err != nil {
		return "", fmt.Errorf("sequencer: %w", err)
	}
	if native {
		return "", nil
	}

	required, err := s.chain.ToWei(chain, token, amount)
	if err != nil {
		return "", fmt.Errorf("sequencer: %w", err)
	}
	current, err := s.chain.Allowance(ctx, chain, token, s.wallet.Address())
	if err != nil {
		return "", fmt.Errorf("sequencer: read allowance: %w", err)
	}
	if current.Cmp(required) >= 0 {
		return "", nil
	}

	s.setPhase(key, domain.PhaseApproving)
	approveOp := domain.Operation{
		ID:     uuid.NewString(),
		Kind:   domain.OpApprove,
		Chain:  chain,
		Token:  token,
		Amount: amount,
	}
	txHash, err := s.submitAndWait(ctx, key, approveOp)
	if err != nil {
		return "", err
	}

	confirmed, err := s.chain.Allowance(ctx, chain, token, s.wallet.Address())
	if err != nil {
		return txHash, fmt.Errorf("sequencer: re-read allowance: %w", err)
	}
	if confirmed.Cmp(required) < 0 {
		return txHash, fmt.Errorf("sequencer: allowance %s after approval, need %s: %w",
			confirmed, required, domain.ErrInsufficientAllowance)
	}
	return txHash, nil
}

// checkWalletBalance guards a deposit against the wallet's token balance.
func (s *Sequencer) checkWalletBalance(ctx context.Context, chain, token string, amount float64) error {
	required, err := s.chain.ToWei(chain, token, amount)
	if err != nil {
		return fmt.Errorf("sequencer: %w", err)
	}
	balance, err := s.chain.TokenBalance(ctx, chain, token, s.wallet.Address())
	if err != nil {
		return fmt.Errorf("sequencer: read wallet balance: %w", err)
	}
	if balance.Cmp(required) < 0 {
		return fmt.Errorf("sequencer: wallet balance %s, need %s %s: %w",
			balance, required, token, domain.ErrInsufficientBalance)
	}
	return nil
}

// submitAndWait broadcasts the operation and blocks until it is mined.
func (s *Sequencer) submitAndWait(ctx context.Context, key string, op domain.Operation) (string, error) {
	s.setPhase(key, domain.PhaseSubmitting)
	txHash, err := s.wallet.Submit(ctx, op)
	if err != nil {
		if domain.IsUserRejection(err) {
			return "", fmt.Errorf("sequencer: submit %s: %w", op.Kind, domain.ErrUserRejected)
		}
		return "", fmt.Errorf("sequencer: submit %s: %w", op.Kind, err)
	}
	s.setTxHash(key, txHash)
	s.publish(ctx, domain.Event{
		Type:    domain.EventOperationSubmitted,
		TradeID: op.TradeID,
		TxHash:  txHash,
		At:      time.Now().UTC(),
	})

	s.setPhase(key, domain.PhaseConfirming)
	if err := s.wallet.WaitConfirmed(ctx, op.Chain, txHash); err != nil {
		return txHash, fmt.Errorf("sequencer: confirm %s %s: %w", op.Kind, txHash, err)
	}
	return txHash, nil
}

// reconcile makes the confirmed chain write durable and acknowledges it to
// the backend. The journal row is written before the ack so the tx hash
// survives a crash in between. On ack failure the row is marked failed, the
// failure is broadcast, and the chain write is never resubmitted.
func (s *Sequencer) reconcile(ctx context.Context, key string, op domain.Operation, txHash string, ack func(context.Context) error) error {
	s.setPhase(key, domain.PhaseReconciling)

	entry := s.entryFor(op, txHash)
	if err := s.journal.Record(ctx, entry); err != nil {
		s.logger.Error("journal write failed", slog.String("tx_hash", txHash), slog.Any("error", err))
	}

	if err := ack(ctx); err != nil {
		if jerr := s.journal.MarkFailed(ctx, entry.ID, err.Error()); jerr != nil {
			s.logger.Error("journal update failed", slog.String("entry_id", entry.ID), slog.Any("error", jerr))
		}
		s.publish(ctx, domain.Event{
			Type:    domain.EventReconciliationFailed,
			TradeID: op.TradeID,
			TxHash:  txHash,
			Message: err.Error(),
			At:      time.Now().UTC(),
		})
		s.logger.Error("reconciliation failed",
			slog.String("tx_hash", txHash),
			slog.String("kind", string(op.Kind)),
			slog.Any("error", err),
		)
		return fmt.Errorf("sequencer: %w", &domain.ReconciliationError{TxHash: txHash, Err: err})
	}

	now := time.Now().UTC()
	if err := s.journal.MarkReconciled(ctx, entry.ID, now); err != nil {
		s.logger.Error("journal update failed", slog.String("entry_id", entry.ID), slog.Any("error", err))
	}
	s.invalidateVault(ctx, op)
	s.publish(ctx, domain.Event{
		Type:    domain.EventOperationConfirmed,
		TradeID: op.TradeID,
		TxHash:  txHash,
		At:      now,
	})
	return nil
}

// Unreconciled returns journal entries still awaiting backend acknowledgement.
func (s *Sequencer) Unreconciled(ctx context.Context) ([]domain.JournalEntry, error) {
	return s.journal.ListUnreconciled(ctx, s.user)
}

// Reacknowledge retries the backend acknowledgement for a journal entry whose
// chain write already confirmed. Only the backend call is retried; the
// transaction itself is never resubmitted.
func (s *Sequencer) Reacknowledge(ctx context.Context, e domain.JournalEntry) error {
	var err error
	switch e.Kind {
	case domain.OpLock:
		err = s.backend.ReportLock(ctx, e.TradeID, e.TxHash)
	case domain.OpDeposit:
		err = s.backend.ReportVaultDeposit(ctx, e.Chain, e.Token, e.Amount, e.TxHash)
	case domain.OpWithdraw:
		err = s.backend.ReportVaultWithdraw(ctx, e.Chain, e.Token, e.Amount, e.TxHash)
	default:
		return fmt.Errorf("sequencer: reacknowledge %s: %w", e.Kind, domain.ErrUnsupportedOperation)
	}
	if err != nil {
		if jerr := s.journal.MarkFailed(ctx, e.ID, err.Error()); jerr != nil {
			s.logger.Error("journal update failed", slog.String("entry_id", e.ID), slog.Any("error", jerr))
		}
		return fmt.Errorf("sequencer: %w", &domain.ReconciliationError{TxHash: e.TxHash, Err: err})
	}
	if err := s.journal.MarkReconciled(ctx, e.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("sequencer: %w", err)
	}
	return nil
}

// Pending returns a snapshot of in-flight operations.
func (s *Sequencer) Pending() []domain.PendingOperation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.PendingOperation, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, *p)
	}
	return out
}

func (s *Sequencer) position(ctx context.Context, chain, token string) (domain.VaultPosition, error) {
	if pos, err := s.vault.Get(ctx, s.user, chain, token); err == nil {
		return *pos, nil
	}
	positions, err := s.backend.VaultPositions(ctx, s.user)
	if err != nil {
		return domain.VaultPosition{}, fmt.Errorf("sequencer: read vault positions: %w", err)
	}
	for _, p := range positions {
		if p.Chain == chain && p.Token == token {
			if err := s.vault.Set(ctx, s.user, p); err != nil {
				s.logger.Warn("vault cache write failed", slog.Any("error", err))
			}
			return p, nil
		}
	}
	// No position yet means nothing deposited and nothing reserved.
	return domain.VaultPosition{Chain: chain, Token: token}, nil
}

func (s *Sequencer) entryFor(op domain.Operation, txHash string) domain.JournalEntry {
	return domain.JournalEntry{
		ID:          op.ID,
		User:        s.user,
		Chain:       op.Chain,
		Token:       op.Token,
		Kind:        op.Kind,
		TradeID:     op.TradeID,
		Amount:      op.Amount,
		TxHash:      txHash,
		State:       domain.JournalPending,
		SubmittedAt: time.Now().UTC(),
	}
}

func (s *Sequencer) invalidateVault(ctx context.Context, op domain.Operation) {
	if err := s.vault.Invalidate(ctx, s.user, op.Chain, op.Token); err != nil {
		s.logger.Warn("vault cache invalidation failed", slog.Any("error", err))
	}
}

func (s *Sequencer) publish(ctx context.Context, ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("event marshal failed", slog.Any("error", err))
		return
	}
	if err := s.bus.Publish(ctx, domain.OperationEventChannel, payload); err != nil {
		s.logger.Warn("event publish failed", slog.String("type", string(ev.Type)), slog.Any("error", err))
	}
}

func (s *Sequencer) track(key string, op domain.Operation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[key]; ok {
		return false
	}
	s.pending[key] = &domain.PendingOperation{
		Operation: op,
		Phase:     domain.PhaseSwitching,
		StartedAt: time.Now().UTC(),
	}
	return true
}

func (s *Sequencer) untrack(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, key)
}

func (s *Sequencer) setPhase(key string, phase domain.OperationPhase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pending[key]; ok {
		p.Phase = phase
	}
}

func (s *Sequencer) setTxHash(key, txHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pending[key]; ok {
		p.TxHash = txHash
	}
}
