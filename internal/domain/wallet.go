package domain

import "context"

// WalletKind distinguishes the two execution paths for escrow operations.
type WalletKind string

const (
	// WalletExternal signs and submits transactions with a locally held key.
	WalletExternal WalletKind = "external"
	// WalletBot is custodial: the backend holds the key and executes chain
	// calls server-side, returning only the resulting transaction hash.
	WalletBot WalletKind = "bot"
)

// Wallet is the single capability interface over both execution paths.
// The sequencer drives every on-chain step through it and never branches on
// the concrete implementation beyond Kind.
type Wallet interface {
	Kind() WalletKind
	// Address returns the wallet's 0x-prefixed address.
	Address() string
	// ActiveChainID returns the numeric chain id the wallet is currently
	// bound to.
	ActiveChainID(ctx context.Context) (int64, error)
	// SwitchChain requests that the wallet move to the given chain id. A
	// *WalletError with code 4001 indicates an explicit user rejection.
	SwitchChain(ctx context.Context, chainID int64) error
	// Submit signs and broadcasts the operation, returning the transaction
	// hash. It does not wait for inclusion.
	Submit(ctx context.Context, op Operation) (string, error)
	// WaitConfirmed blocks until the transaction is mined successfully or
	// ctx is done. Implementations whose Submit is already synchronous
	// (the bot path) return immediately.
	WaitConfirmed(ctx context.Context, chain, txHash string) error
}
