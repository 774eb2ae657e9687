package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/paisadex/escrowd/internal/domain"
)

// BotWallet is the custodial implementation of domain.Wallet. The backend
// holds the private key and executes every chain call server-side, so there
// is no network to switch, no allowance to manage, and nothing to sign
// locally. Submit returns once the backend reports the transaction hash,
// which it only does after its own confirmation, so WaitConfirmed is a no-op.
type BotWallet struct {
	client  *Client
	address string
	logger  *slog.Logger
}

// NewBotWallet creates a BotWallet over the backend client. address is the
// custodial wallet address the backend operates for this user.
func NewBotWallet(client *Client, address string, logger *slog.Logger) *BotWallet {
	return &BotWallet{
		client:  client,
		address: address,
		logger:  logger.With(slog.String("component", "bot_wallet")),
	}
}

// Kind identifies this as the custodial path.
func (w *BotWallet) Kind() domain.WalletKind { return domain.WalletBot }

// Address returns the custodial wallet address.
func (w *BotWallet) Address() string { return w.address }

// ActiveChainID always reports success: the backend binds to the correct
// chain per request, so the agent-side network check is vacuous.
func (w *BotWallet) ActiveChainID(ctx context.Context) (int64, error) {
	return 0, nil
}

// SwitchChain is a no-op for the custodial path.
func (w *BotWallet) SwitchChain(ctx context.Context, chainID int64) error {
	return nil
}

// Submit routes the operation to the matching server-side execution
// endpoint. Approvals are never needed: the custodial wallet's allowances
// are managed by the backend.
func (w *BotWallet) Submit(ctx context.Context, op domain.Operation) (string, error) {
	switch op.Kind {
	case domain.OpDeposit:
		return w.client.ExecuteVaultDeposit(ctx, op.Chain, op.Token, op.Amount)
	case domain.OpWithdraw:
		return w.client.ExecuteVaultWithdraw(ctx, op.Chain, op.Token, op.Amount)
	case domain.OpLock:
		return w.client.ExecuteRelayedLock(ctx, op.TradeID)
	case domain.OpApprove:
		return "", fmt.Errorf("%w: approve on custodial wallet", domain.ErrUnsupportedOperation)
	default:
		return "", fmt.Errorf("%w: %s", domain.ErrUnsupportedOperation, op.Kind)
	}
}

// WaitConfirmed returns immediately; the backend only reports hashes of
// transactions it already saw confirmed.
func (w *BotWallet) WaitConfirmed(ctx context.Context, chain, txHash string) error {
	return nil
}

// Compile-time interface check.
var _ domain.Wallet = (*BotWallet)(nil)
