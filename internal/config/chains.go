package config

import (
	"fmt"
	"strings"
)

// TokenSpec describes one ERC-20 token on a chain.
type TokenSpec struct {
	Address  string
	Decimals int
}

// GasLimits are the fixed per-operation gas limits used on chains with a
// legacy gas policy. Each limit is intentionally generous to absorb
// congestion; unused gas is refunded.
type GasLimits struct {
	Approve  uint64
	Deposit  uint64
	Withdraw uint64
	Lock     uint64
}

// ChainSpec is the immutable per-chain configuration injected into the chain
// gateway: identity, endpoints, contract addresses, token table, and gas
// policy.
type ChainSpec struct {
	Name          string
	ID            int64
	RPCURL        string
	ExplorerURL   string
	EscrowAddress string
	Tokens        map[string]TokenSpec
	NativeSymbol  string
	NativeDecimals int

	// LegacyGas selects explicit gas-price transactions with the fixed
	// limits below. When false the node estimates gas and the wallet uses
	// dynamic fees.
	LegacyGas   bool
	GasPriceWei uint64
	GasLimits   GasLimits
}

// Token resolves a token symbol on the chain. The native symbol resolves to a
// zero-address spec with the chain's native decimals.
func (c ChainSpec) Token(symbol string) (TokenSpec, error) {
	if c.IsNative(symbol) {
		return TokenSpec{Address: zeroAddress, Decimals: c.NativeDecimals}, nil
	}
	t, ok := c.Tokens[strings.ToUpper(symbol)]
	if !ok {
		return TokenSpec{}, fmt.Errorf("config: token %q not configured on chain %s", symbol, c.Name)
	}
	return t, nil
}

// IsNative reports whether symbol is the chain's native asset, which needs no
// allowance and rides as transaction value.
func (c ChainSpec) IsNative(symbol string) bool {
	return strings.EqualFold(symbol, c.NativeSymbol)
}

// TxURL returns the explorer link for a transaction hash.
func (c ChainSpec) TxURL(txHash string) string {
	return c.ExplorerURL + "/tx/" + txHash
}

const zeroAddress = "0x0000000000000000000000000000000000000000"

// chains is the supported-chain table. Base is the primary chain (6-decimal
// stables, node-estimated gas); BSC is the secondary (18-decimal tokens,
// legacy gas pricing).
var chains = map[string]ChainSpec{
	"base": {
		Name:          "base",
		ID:            8453,
		RPCURL:        "https://mainnet.base.org",
		ExplorerURL:   "https://basescan.org",
		EscrowAddress: "0x78c2B85759C5F7d58fEea82D0Be098E540272245",
		Tokens: map[string]TokenSpec{
			"USDC": {Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6},
			"USDT": {Address: "0xfde4C96c8593536E31F229EA8f37b2ADa2699bb2", Decimals: 6},
		},
		NativeSymbol:   "ETH",
		NativeDecimals: 18,
	},
	"bsc": {
		Name:          "bsc",
		ID:            56,
		RPCURL:        "https://bsc-dataseed.binance.org",
		ExplorerURL:   "https://bscscan.com",
		EscrowAddress: "0x5ED1dC490061Bf9e281B849B6D4ed17feE84F260",
		Tokens: map[string]TokenSpec{
			"USDC": {Address: "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d", Decimals: 18},
			"USDT": {Address: "0x55d398326f99059fF775485246999027B3197955", Decimals: 18},
		},
		NativeSymbol:   "BNB",
		NativeDecimals: 18,
		LegacyGas:      true,
		GasPriceWei:    3_000_000_000, // 3 gwei
		GasLimits: GasLimits{
			Approve:  100_000,
			Deposit:  300_000,
			Withdraw: 300_000,
			Lock:     500_000,
		},
	},
}

// Chains returns the supported-chain table. Callers must treat the returned
// map as read-only.
func Chains() map[string]ChainSpec {
	return chains
}

// Chain resolves a chain by name.
func Chain(name string) (ChainSpec, error) {
	c, ok := chains[strings.ToLower(name)]
	if !ok {
		return ChainSpec{}, fmt.Errorf("config: unsupported chain %q", name)
	}
	return c, nil
}

// ChainByID resolves a chain by numeric id, as reported by a wallet.
func ChainByID(id int64) (ChainSpec, error) {
	for _, c := range chains {
		if c.ID == id {
			return c, nil
		}
	}
	return ChainSpec{}, fmt.Errorf("config: unsupported chain id %d", id)
}
