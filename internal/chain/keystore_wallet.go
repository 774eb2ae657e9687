package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/paisadex/escrowd/internal/config"
	"github.com/paisadex/escrowd/internal/domain"
)

// NetworkBridge abstracts the wallet-side network state. The default bridge
// switches instantly (the agent owns its RPC binding); a remote bridge in
// front of a browser wallet can take arbitrarily long or return a coded
// rejection, which is why the sequencer races SwitchChain against a timeout.
type NetworkBridge interface {
	ActiveChainID(ctx context.Context) (int64, error)
	RequestSwitch(ctx context.Context, chainID int64) error
}

// KeystoreWallet is the external-wallet implementation of domain.Wallet: it
// holds the seller's key locally, signs transactions itself, and submits
// them through the chain gateway's RPC clients.
type KeystoreWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	gateway *Gateway
	bridge  NetworkBridge
	logger  *slog.Logger

	mu     sync.Mutex
	active config.ChainSpec
}

// NewKeystoreWallet creates a KeystoreWallet from a resolved private key,
// bound initially to defaultChain. bridge may be nil, in which case the
// wallet manages its own network binding and switches never fail.
func NewKeystoreWallet(keyCfg KeyConfig, gateway *Gateway, defaultChain string, bridge NetworkBridge, logger *slog.Logger) (*KeystoreWallet, error) {
	keyHex, err := LoadKey(keyCfg)
	if err != nil {
		return nil, err
	}
	key, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("chain: invalid private key: %w", err)
	}

	spec, err := gateway.Spec(defaultChain)
	if err != nil {
		return nil, err
	}

	return &KeystoreWallet{
		key:     key,
		address: ethcrypto.PubkeyToAddress(key.PublicKey),
		gateway: gateway,
		bridge:  bridge,
		logger:  logger.With(slog.String("component", "keystore_wallet")),
		active:  spec,
	}, nil
}

// Kind identifies this as the external-wallet path.
func (w *KeystoreWallet) Kind() domain.WalletKind { return domain.WalletExternal }

// Address returns the wallet's 0x-prefixed address.
func (w *KeystoreWallet) Address() string { return w.address.Hex() }

// ActiveChainID returns the chain id the wallet is currently bound to.
func (w *KeystoreWallet) ActiveChainID(ctx context.Context) (int64, error) {
	if w.bridge != nil {
		return w.bridge.ActiveChainID(ctx)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active.ID, nil
}

// SwitchChain moves the wallet to the given chain id. With a bridge the
// request is forwarded first and its error (including a 4001 user rejection)
// is returned untouched for the sequencer to classify.
func (w *KeystoreWallet) SwitchChain(ctx context.Context, chainID int64) error {
	if w.bridge != nil {
		if err := w.bridge.RequestSwitch(ctx, chainID); err != nil {
			return err
		}
	}

	spec, err := config.ChainByID(chainID)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.active = spec
	w.mu.Unlock()

	w.logger.InfoContext(ctx, "switched network",
		slog.String("chain", spec.Name),
		slog.Int64("chain_id", chainID),
	)
	return nil
}

// Submit signs and broadcasts the operation on its target chain, returning
// the transaction hash without waiting for inclusion. Gas follows the chain
// policy: fixed legacy gas price and per-operation limits where configured,
// node estimation with dynamic fees otherwise.
func (w *KeystoreWallet) Submit(ctx context.Context, op domain.Operation) (string, error) {
	cd, err := w.gateway.PrepareOperation(op)
	if err != nil {
		return "", err
	}

	client, spec, err := w.gateway.client(ctx, op.Chain)
	if err != nil {
		return "", err
	}

	nonce, err := client.PendingNonceAt(ctx, w.address)
	if err != nil {
		return "", fmt.Errorf("chain: pending nonce: %w", err)
	}

	chainID := big.NewInt(spec.ID)
	var tx *types.Transaction

	if spec.LegacyGas {
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: new(big.Int).SetUint64(spec.GasPriceWei),
			Gas:      cd.GasLimit,
			To:       &cd.To,
			Value:    cd.Value,
			Data:     cd.Data,
		})
	} else {
		tipCap, err := client.SuggestGasTipCap(ctx)
		if err != nil {
			return "", fmt.Errorf("chain: suggest tip cap: %w", err)
		}
		head, err := client.HeaderByNumber(ctx, nil)
		if err != nil {
			return "", fmt.Errorf("chain: latest header: %w", err)
		}
		feeCap := new(big.Int).Add(tipCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

		gasLimit, err := client.EstimateGas(ctx, ethereum.CallMsg{
			From:  w.address,
			To:    &cd.To,
			Value: cd.Value,
			Data:  cd.Data,
		})
		if err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrSubmissionFailed, err)
		}

		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: tipCap,
			GasFeeCap: feeCap,
			Gas:       gasLimit,
			To:        &cd.To,
			Value:     cd.Value,
			Data:      cd.Data,
		})
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), w.key)
	if err != nil {
		return "", fmt.Errorf("chain: sign %s: %w", op.Kind, err)
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrSubmissionFailed, err)
	}

	hash := signed.Hash().Hex()
	w.logger.InfoContext(ctx, "transaction submitted",
		slog.String("chain", op.Chain),
		slog.String("kind", string(op.Kind)),
		slog.String("tx_hash", hash),
	)
	return hash, nil
}

// WaitConfirmed blocks until the transaction is mined successfully.
func (w *KeystoreWallet) WaitConfirmed(ctx context.Context, chain, txHash string) error {
	return w.gateway.WaitMined(ctx, chain, txHash)
}

// Compile-time interface check.
var _ domain.Wallet = (*KeystoreWallet)(nil)
