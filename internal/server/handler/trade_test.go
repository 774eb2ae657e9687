package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paisadex/escrowd/internal/domain"
)

// stubBackend implements domain.BackendClient with per-test hooks for the
// methods the trade handler touches.
type stubBackend struct {
	trade *domain.Trade
	err   error
	msgs  []domain.ChatMessage
}

func (b *stubBackend) GetTrade(ctx context.Context, id string) (*domain.Trade, error) {
	return b.trade, b.err
}

func (b *stubBackend) ListOpenTrades(ctx context.Context, userID string) ([]domain.Trade, error) {
	if b.trade == nil {
		return nil, b.err
	}
	return []domain.Trade{*b.trade}, b.err
}

func (b *stubBackend) ConfirmPayment(ctx context.Context, tradeID, proofRef string) error { return nil }
func (b *stubBackend) ConfirmReceipt(ctx context.Context, tradeID string) error           { return nil }
func (b *stubBackend) RaiseDispute(ctx context.Context, tradeID, reason string) error     { return nil }
func (b *stubBackend) ReportLock(ctx context.Context, tradeID, txHash string) error       { return nil }

func (b *stubBackend) ReportVaultDeposit(ctx context.Context, chain, token string, amount float64, txHash string) error {
	return nil
}

func (b *stubBackend) ReportVaultWithdraw(ctx context.Context, chain, token string, amount float64, txHash string) error {
	return nil
}

func (b *stubBackend) VaultPositions(ctx context.Context, userID string) ([]domain.VaultPosition, error) {
	return nil, nil
}

func (b *stubBackend) ExecuteVaultDeposit(ctx context.Context, chain, token string, amount float64) (string, error) {
	return "", nil
}

func (b *stubBackend) ExecuteVaultWithdraw(ctx context.Context, chain, token string, amount float64) (string, error) {
	return "", nil
}

func (b *stubBackend) ExecuteRelayedLock(ctx context.Context, tradeID string) (string, error) {
	return "", nil
}

func (b *stubBackend) Messages(ctx context.Context, tradeID string) ([]domain.ChatMessage, error) {
	return b.msgs, nil
}

// stubActions implements TradeActions with canned results.
type stubActions struct {
	lockResult *domain.OperationResult
	lockErr    error
	actionErr  error
}

func (a *stubActions) Lock(ctx context.Context, trade *domain.Trade) (*domain.OperationResult, error) {
	return a.lockResult, a.lockErr
}

func (a *stubActions) ConfirmPayment(ctx context.Context, tradeID, proofRef string) error {
	return a.actionErr
}

func (a *stubActions) ConfirmReceipt(ctx context.Context, tradeID string) error {
	return a.actionErr
}

func (a *stubActions) RaiseDispute(ctx context.Context, tradeID, reason string) error {
	return a.actionErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func sampleTrade() *domain.Trade {
	sentAt := time.Now().UTC().Add(-30 * time.Minute)
	return &domain.Trade{
		ID:            "trade-1",
		Chain:         "base",
		Token:         "USDC",
		Amount:        1000,
		Rate:          89.5,
		Status:        domain.StatusFiatSent,
		SellerID:      "seller-1",
		BuyerID:       "buyer-1",
		FeePercentage: 0.01,
		FiatSentAt:    &sentAt,
		EscrowTxHash:  "0xabc123",
	}
}

func doRequest(h http.HandlerFunc, method, target, tradeID, body string) *httptest.ResponseRecorder {
	var rdr *strings.Reader
	if body == "" {
		rdr = strings.NewReader("")
	} else {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	req.SetPathValue("id", tradeID)
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestGetRendersDerivedView(t *testing.T) {
	backend := &stubBackend{trade: sampleTrade()}
	h := NewTradeHandler(backend, &stubActions{}, "seller-1", testLogger())

	rec := doRequest(h.Get, http.MethodGet, "/api/trades/trade-1", "trade-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		Role string `json:"role"`
		Fees struct {
			SellerLocks   float64 `json:"seller_locks"`
			FiatSettled   float64 `json:"fiat_settled"`
			BuyerReceives float64 `json:"buyer_receives"`
		} `json:"fees"`
		DisputeOpen bool   `json:"dispute_open"`
		DisputeWait string `json:"dispute_wait"`
		EscrowTxURL string `json:"escrow_tx_url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))

	assert.Equal(t, "seller", view.Role)
	assert.InDelta(t, 1000.0, view.Fees.SellerLocks, 1e-9)
	assert.InDelta(t, 89052.50, view.Fees.FiatSettled, 1e-9)
	assert.InDelta(t, 990.0, view.Fees.BuyerReceives, 1e-9)

	// 30 minutes into the one-hour cool-down: blocked, half the clock left.
	assert.False(t, view.DisputeOpen)
	assert.Equal(t, "30:00", view.DisputeWait)

	assert.Equal(t, "https://basescan.org/tx/0xabc123", view.EscrowTxURL)
}

func TestLockRejectsNonSeller(t *testing.T) {
	backend := &stubBackend{trade: sampleTrade()}
	h := NewTradeHandler(backend, &stubActions{}, "buyer-1", testLogger())

	rec := doRequest(h.Lock, http.MethodPost, "/api/trades/trade-1/lock", "trade-1", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLockReconciliationFailureCarriesTxHash(t *testing.T) {
	trade := sampleTrade()
	trade.Status = domain.StatusWaitingForEscrow
	backend := &stubBackend{trade: trade}

	actions := &stubActions{
		lockResult: &domain.OperationResult{TxHash: "0xdeadbeef"},
		lockErr:    &domain.ReconciliationError{TxHash: "0xdeadbeef", Err: errors.New("backend: status 502")},
	}
	h := NewTradeHandler(backend, actions, "seller-1", testLogger())

	rec := doRequest(h.Lock, http.MethodPost, "/api/trades/trade-1/lock", "trade-1", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "0xdeadbeef", body["tx_hash"])
	assert.Contains(t, body["error"], "do not resubmit")
}

func TestConfirmPaymentRequiresUTR(t *testing.T) {
	backend := &stubBackend{trade: sampleTrade()}
	h := NewTradeHandler(backend, &stubActions{}, "buyer-1", testLogger())

	rec := doRequest(h.ConfirmPayment, http.MethodPost, "/api/trades/trade-1/confirm-payment", "trade-1", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDomainErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", domain.ErrNotFound, http.StatusNotFound},
		{"operation pending", domain.ErrOperationPending, http.StatusConflict},
		{"user rejected", domain.ErrUserRejected, http.StatusConflict},
		{"switch timeout", domain.ErrSwitchTimeout, http.StatusConflict},
		{"insufficient balance", domain.ErrInsufficientBalance, http.StatusUnprocessableEntity},
		{"trade terminal", domain.ErrTradeTerminal, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeDomainError(rec, tt.err)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
