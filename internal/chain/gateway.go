// Package chain wraps all reads and transaction construction against the
// per-chain token and escrow contracts. The gateway itself is stateless
// beyond cached RPC clients; every balance or allowance is read fresh from
// the chain, never assumed.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/paisadex/escrowd/internal/config"
	"github.com/paisadex/escrowd/internal/domain"
)

// receiptPollInterval is how often WaitMined re-checks for a receipt.
const receiptPollInterval = 2 * time.Second

// Gateway provides chain reads and operation calldata for the configured
// chains. RPC clients are dialed lazily and reused.
type Gateway struct {
	chains map[string]config.ChainSpec
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*ethclient.Client
}

// NewGateway creates a Gateway over the given immutable chain table.
func NewGateway(chains map[string]config.ChainSpec, logger *slog.Logger) *Gateway {
	return &Gateway{
		chains:  chains,
		logger:  logger.With(slog.String("component", "chain_gateway")),
		clients: make(map[string]*ethclient.Client),
	}
}

// Spec resolves the chain configuration by name.
func (g *Gateway) Spec(chain string) (config.ChainSpec, error) {
	spec, ok := g.chains[chain]
	if !ok {
		return config.ChainSpec{}, fmt.Errorf("chain: unsupported chain %q", chain)
	}
	return spec, nil
}

// IsNative reports whether the token is the chain's native asset.
func (g *Gateway) IsNative(chain, token string) (bool, error) {
	spec, err := g.Spec(chain)
	if err != nil {
		return false, err
	}
	return spec.IsNative(token), nil
}

// ToWei converts a display amount into the token's smallest unit using the
// configured decimals for (chain, token).
func (g *Gateway) ToWei(chain, token string, amount float64) (*big.Int, error) {
	spec, err := g.Spec(chain)
	if err != nil {
		return nil, err
	}
	ts, err := spec.Token(token)
	if err != nil {
		return nil, err
	}
	return toWei(amount, ts.Decimals)
}

// FromWei converts a smallest-unit integer to display units for (chain, token).
func (g *Gateway) FromWei(chain, token string, wei *big.Int) (float64, error) {
	spec, err := g.Spec(chain)
	if err != nil {
		return 0, err
	}
	ts, err := spec.Token(token)
	if err != nil {
		return 0, err
	}
	return fromWei(wei, ts.Decimals), nil
}

func (g *Gateway) client(ctx context.Context, chain string) (*ethclient.Client, config.ChainSpec, error) {
	spec, err := g.Spec(chain)
	if err != nil {
		return nil, config.ChainSpec{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.clients[chain]; ok {
		return c, spec, nil
	}

	c, err := ethclient.DialContext(ctx, spec.RPCURL)
	if err != nil {
		return nil, config.ChainSpec{}, fmt.Errorf("chain: dial %s: %w", chain, err)
	}
	g.clients[chain] = c
	return c, spec, nil
}

// Close releases all dialed RPC clients.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for name, c := range g.clients {
		c.Close()
		delete(g.clients, name)
	}
}

func (g *Gateway) callUint256(ctx context.Context, chain string, to common.Address, contract string, method string, args ...any) (*big.Int, error) {
	client, _, err := g.client(ctx, chain)
	if err != nil {
		return nil, err
	}

	a := erc20ABI
	if contract == "escrow" {
		a = escrowABI
	}
	data, err := a.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}

	raw, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s on %s: %w", method, chain, err)
	}

	out, err := a.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("chain: %s returned no values", method)
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: %s returned %T, want *big.Int", method, out[0])
	}
	return v, nil
}

// Allowance reads the ERC-20 allowance granted by owner to the chain's
// escrow contract, in smallest units. Native assets have no allowance and
// return an error; callers must check IsNative first.
func (g *Gateway) Allowance(ctx context.Context, chain, token, owner string) (*big.Int, error) {
	spec, err := g.Spec(chain)
	if err != nil {
		return nil, err
	}
	if spec.IsNative(token) {
		return nil, fmt.Errorf("chain: native asset %s has no allowance", token)
	}
	ts, err := spec.Token(token)
	if err != nil {
		return nil, err
	}
	return g.callUint256(ctx, chain, common.HexToAddress(ts.Address), "erc20", "allowance",
		common.HexToAddress(owner), common.HexToAddress(spec.EscrowAddress))
}

// TokenBalance reads the wallet balance of (chain, token) for owner, in
// smallest units. For the native asset it reads the account balance.
func (g *Gateway) TokenBalance(ctx context.Context, chain, token, owner string) (*big.Int, error) {
	spec, err := g.Spec(chain)
	if err != nil {
		return nil, err
	}
	if spec.IsNative(token) {
		client, _, err := g.client(ctx, chain)
		if err != nil {
			return nil, err
		}
		bal, err := client.BalanceAt(ctx, common.HexToAddress(owner), nil)
		if err != nil {
			return nil, fmt.Errorf("chain: native balance on %s: %w", chain, err)
		}
		return bal, nil
	}
	ts, err := spec.Token(token)
	if err != nil {
		return nil, err
	}
	return g.callUint256(ctx, chain, common.HexToAddress(ts.Address), "erc20", "balanceOf",
		common.HexToAddress(owner))
}

// VaultBalance reads the escrow contract's custodial balance for (user,
// token), in smallest units. This is the physical figure; the spendable
// amount additionally subtracts the backend's reserved figure.
func (g *Gateway) VaultBalance(ctx context.Context, chain, token, user string) (*big.Int, error) {
	spec, err := g.Spec(chain)
	if err != nil {
		return nil, err
	}
	ts, err := spec.Token(token)
	if err != nil {
		return nil, err
	}
	return g.callUint256(ctx, chain, common.HexToAddress(spec.EscrowAddress), "escrow", "balances",
		common.HexToAddress(user), common.HexToAddress(ts.Address))
}

// CallData is a fully prepared contract invocation, ready for a wallet to
// wrap in a transaction. GasLimit is zero when the chain's policy is node
// estimation.
type CallData struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
}

// PrepareOperation builds the calldata for an escrow operation. Native-asset
// operations carry the amount as transaction value instead of a contract
// argument; approvals target the token contract, everything else the escrow.
func (g *Gateway) PrepareOperation(op domain.Operation) (CallData, error) {
	spec, err := g.Spec(op.Chain)
	if err != nil {
		return CallData{}, err
	}
	ts, err := spec.Token(op.Token)
	if err != nil {
		return CallData{}, err
	}
	amountWei, err := toWei(op.Amount, ts.Decimals)
	if err != nil {
		return CallData{}, err
	}

	native := spec.IsNative(op.Token)
	escrowAddr := common.HexToAddress(spec.EscrowAddress)
	tokenAddr := common.HexToAddress(ts.Address)

	cd := CallData{To: escrowAddr, Value: big.NewInt(0)}

	switch op.Kind {
	case domain.OpApprove:
		if native {
			return CallData{}, fmt.Errorf("chain: approve is meaningless for native asset %s", op.Token)
		}
		cd.To = tokenAddr
		cd.Data, err = erc20ABI.Pack("approve", escrowAddr, amountWei)
		cd.GasLimit = legacyLimit(spec, spec.GasLimits.Approve)

	case domain.OpDeposit:
		if native {
			cd.Data, err = escrowABI.Pack("depositNative")
			cd.Value = amountWei
		} else {
			cd.Data, err = escrowABI.Pack("deposit", tokenAddr, amountWei)
		}
		cd.GasLimit = legacyLimit(spec, spec.GasLimits.Deposit)

	case domain.OpWithdraw:
		cd.Data, err = escrowABI.Pack("withdraw", tokenAddr, amountWei)
		cd.GasLimit = legacyLimit(spec, spec.GasLimits.Withdraw)

	case domain.OpLock:
		buyer := common.HexToAddress(op.Buyer)
		duration := new(big.Int).SetInt64(int64(op.Duration / time.Second))
		if native {
			cd.Data, err = escrowABI.Pack("createTradeNative", buyer, duration)
			cd.Value = amountWei
		} else {
			cd.Data, err = escrowABI.Pack("createTrade", buyer, tokenAddr, amountWei, duration)
		}
		cd.GasLimit = legacyLimit(spec, spec.GasLimits.Lock)

	default:
		return CallData{}, fmt.Errorf("chain: unknown operation kind %q", op.Kind)
	}
	if err != nil {
		return CallData{}, fmt.Errorf("chain: pack %s: %w", op.Kind, err)
	}
	return cd, nil
}

// legacyLimit returns the fixed gas limit when the chain uses legacy gas
// pricing, and zero (node estimation) otherwise.
func legacyLimit(spec config.ChainSpec, limit uint64) uint64 {
	if spec.LegacyGas {
		return limit
	}
	return 0
}

// WaitMined blocks until the transaction is included with a success status,
// or ctx is done. A reverted transaction is returned as an error carrying
// the hash.
func (g *Gateway) WaitMined(ctx context.Context, chain, txHash string) error {
	client, _, err := g.client(ctx, chain)
	if err != nil {
		return err
	}

	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status == 0 {
				return fmt.Errorf("chain: transaction %s reverted", txHash)
			}
			g.logger.DebugContext(ctx, "transaction mined",
				slog.String("chain", chain),
				slog.String("tx_hash", txHash),
				slog.Uint64("block", receipt.BlockNumber.Uint64()),
			)
			return nil
		}
		if err != ethereum.NotFound {
			g.logger.DebugContext(ctx, "receipt poll error",
				slog.String("tx_hash", txHash),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
