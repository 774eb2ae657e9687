package domain

import "context"

// BackendClient is the system-of-record API consumed by the agent. Trade
// status is authoritative here; chain state is read separately and the two
// are reconciled through ReportLock / ReportVaultDeposit / ReportVaultWithdraw.
type BackendClient interface {
	GetTrade(ctx context.Context, id string) (*Trade, error)
	// ListOpenTrades returns the user's non-terminal trades.
	ListOpenTrades(ctx context.Context, userID string) ([]Trade, error)

	// ConfirmPayment marks fiat as sent by the buyer, attaching the payment
	// proof reference (e.g. bank UTR).
	ConfirmPayment(ctx context.Context, tradeID, proofRef string) error
	// ConfirmReceipt marks fiat as received by the seller, releasing escrow.
	ConfirmReceipt(ctx context.Context, tradeID string) error
	RaiseDispute(ctx context.Context, tradeID, reason string) error

	// ReportLock is the reconciliation call after a confirmed on-chain lock.
	// It is idempotent on (tradeID, txHash) and safe to retry manually.
	ReportLock(ctx context.Context, tradeID, txHash string) error
	ReportVaultDeposit(ctx context.Context, chain, token string, amount float64, txHash string) error
	ReportVaultWithdraw(ctx context.Context, chain, token string, amount float64, txHash string) error

	// VaultPositions returns physical and reserved balances per chain/token.
	VaultPositions(ctx context.Context, userID string) ([]VaultPosition, error)

	// ExecuteVaultDeposit and ExecuteVaultWithdraw are the bot-wallet path:
	// the backend performs the chain call server-side with its custodial key
	// and returns the transaction hash.
	ExecuteVaultDeposit(ctx context.Context, chain, token string, amount float64) (string, error)
	ExecuteVaultWithdraw(ctx context.Context, chain, token string, amount float64) (string, error)
	// ExecuteRelayedLock asks the backend relayer to lock a trade from the
	// seller's vault balance.
	ExecuteRelayedLock(ctx context.Context, tradeID string) (string, error)

	// Messages returns the trade's chat feed, oldest first.
	Messages(ctx context.Context, tradeID string) ([]ChatMessage, error)
}
