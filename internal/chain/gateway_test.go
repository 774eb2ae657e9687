package chain

import (
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paisadex/escrowd/internal/config"
	"github.com/paisadex/escrowd/internal/domain"
)

func testGateway(t *testing.T) *Gateway {
	t.Helper()
	return NewGateway(config.Chains(), slog.Default())
}

func TestToWei(t *testing.T) {
	tests := []struct {
		name     string
		amount   float64
		decimals int
		want     string
	}{
		{"usdc on base", 100.5, 6, "100500000"},
		{"whole token 18 decimals", 1, 18, "1000000000000000000"},
		{"dust precision", 0.000001, 6, "1"},
		{"zero", 0, 6, "0"},
		{"binary float noise is clipped", 0.1, 6, "100000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toWei(tt.amount, tt.decimals)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}

	_, err := toWei(-1, 6)
	require.Error(t, err)
}

func TestFromWeiRoundTrip(t *testing.T) {
	wei, err := toWei(42.421337, 6)
	require.NoError(t, err)
	assert.InDelta(t, 42.421337, fromWei(wei, 6), 1e-9)
}

func TestPrepareOperationApproveTargetsToken(t *testing.T) {
	g := testGateway(t)

	cd, err := g.PrepareOperation(domain.Operation{
		Kind: domain.OpApprove, Chain: "base", Token: "USDC", Amount: 50,
	})
	require.NoError(t, err)

	spec, _ := config.Chain("base")
	assert.Equal(t, common.HexToAddress(spec.Tokens["USDC"].Address), cd.To)
	assert.Equal(t, int64(0), cd.Value.Int64())
	// Base uses node estimation, so no fixed limit.
	assert.Zero(t, cd.GasLimit)
}

func TestPrepareOperationLegacyGasLimits(t *testing.T) {
	g := testGateway(t)

	for _, tt := range []struct {
		kind  domain.OperationKind
		limit uint64
	}{
		{domain.OpApprove, 100_000},
		{domain.OpDeposit, 300_000},
		{domain.OpWithdraw, 300_000},
		{domain.OpLock, 500_000},
	} {
		op := domain.Operation{Kind: tt.kind, Chain: "bsc", Token: "USDT", Amount: 10}
		if tt.kind == domain.OpLock {
			op.Buyer = "0x000000000000000000000000000000000000dEaD"
			op.Duration = time.Hour
		}
		cd, err := g.PrepareOperation(op)
		require.NoError(t, err, string(tt.kind))
		assert.Equal(t, tt.limit, cd.GasLimit, string(tt.kind))
	}
}

func TestPrepareOperationNativeAttachesValue(t *testing.T) {
	g := testGateway(t)

	cd, err := g.PrepareOperation(domain.Operation{
		Kind: domain.OpDeposit, Chain: "bsc", Token: "BNB", Amount: 0.25,
	})
	require.NoError(t, err)

	want, _ := new(big.Int).SetString("250000000000000000", 10)
	assert.Zero(t, want.Cmp(cd.Value))

	spec, _ := config.Chain("bsc")
	assert.Equal(t, common.HexToAddress(spec.EscrowAddress), cd.To)
}

func TestPrepareOperationApproveNativeRejected(t *testing.T) {
	g := testGateway(t)

	_, err := g.PrepareOperation(domain.Operation{
		Kind: domain.OpApprove, Chain: "bsc", Token: "BNB", Amount: 1,
	})
	require.Error(t, err)
}
