package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/paisadex/escrowd/internal/config"
	"github.com/paisadex/escrowd/internal/dispute"
	"github.com/paisadex/escrowd/internal/domain"
	"github.com/paisadex/escrowd/internal/fees"
)

// TradeActions is the user-initiated trade surface, implemented by the
// lifecycle machine.
type TradeActions interface {
	Lock(ctx context.Context, trade *domain.Trade) (*domain.OperationResult, error)
	ConfirmPayment(ctx context.Context, tradeID, proofRef string) error
	ConfirmReceipt(ctx context.Context, tradeID string) error
	RaiseDispute(ctx context.Context, tradeID, reason string) error
}

// TradeHandler serves trade state and trade actions.
type TradeHandler struct {
	backend domain.BackendClient
	actions TradeActions
	user    string
	logger  *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(backend domain.BackendClient, actions TradeActions, user string, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		backend: backend,
		actions: actions,
		user:    user,
		logger:  logger.With(slog.String("handler", "trade")),
	}
}

// tradeView is the UI-facing trade state: the backend record plus the derived
// figures the UI renders (fee legs, dispute gate, explorer links).
type tradeView struct {
	Trade         *domain.Trade  `json:"trade"`
	Role          string         `json:"role"`
	Fees          fees.Breakdown `json:"fees"`
	DisputeOpen   bool           `json:"dispute_open"`
	DisputeWait   string         `json:"dispute_wait,omitempty"`
	EscrowTxURL   string         `json:"escrow_tx_url,omitempty"`
	ReleaseTxURL  string         `json:"release_tx_url,omitempty"`
}

// ListOpen returns the user's open trades.
// GET /api/trades
func (h *TradeHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	trades, err := h.backend.ListOpenTrades(r.Context(), h.user)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

// Get returns one trade with its derived view state.
// GET /api/trades/{id}
func (h *TradeHandler) Get(w http.ResponseWriter, r *http.Request) {
	trade, err := h.backend.GetTrade(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	view := tradeView{
		Trade: trade,
		Role:  string(trade.Role(h.user)),
		Fees:  fees.Calculate(trade.Amount, trade.Rate, trade.FeePercentage),
	}
	decision := dispute.Evaluate(trade.Status, trade.FiatSentAt, time.Now().UTC())
	view.DisputeOpen = decision.Allowed
	if !decision.Allowed && decision.Remaining > 0 {
		view.DisputeWait = decision.RemainingClock()
	}
	if spec, err := config.Chain(trade.Chain); err == nil {
		if trade.EscrowTxHash != "" {
			view.EscrowTxURL = spec.TxURL(trade.EscrowTxHash)
		}
		if trade.ReleaseTxHash != "" {
			view.ReleaseTxURL = spec.TxURL(trade.ReleaseTxHash)
		}
	}
	writeJSON(w, http.StatusOK, view)
}

// Lock runs the seller's escrow lock for the trade.
// POST /api/trades/{id}/lock
func (h *TradeHandler) Lock(w http.ResponseWriter, r *http.Request) {
	trade, err := h.backend.GetTrade(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if trade.Role(h.user) != domain.RoleSeller {
		writeError(w, http.StatusForbidden, "only the seller can lock escrow")
		return
	}

	res, err := h.actions.Lock(r.Context(), trade)
	if err != nil {
		writeOperationError(w, res, err)
		return
	}
	writeJSON(w, http.StatusOK, operationResponse(res))
}

// ConfirmPayment reports the buyer's fiat transfer with its UTR reference.
// POST /api/trades/{id}/confirm-payment
func (h *TradeHandler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UTR string `json:"utr"`
	}
	if err := readJSON(r, &body); err != nil || body.UTR == "" {
		writeError(w, http.StatusBadRequest, "utr is required")
		return
	}
	if err := h.actions.ConfirmPayment(r.Context(), r.PathValue("id"), body.UTR); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "payment_confirmed"})
}

// ConfirmReceipt reports the seller's fiat receipt, releasing escrow.
// POST /api/trades/{id}/confirm-receipt
func (h *TradeHandler) ConfirmReceipt(w http.ResponseWriter, r *http.Request) {
	if err := h.actions.ConfirmReceipt(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "receipt_confirmed"})
}

// Dispute escalates the trade, subject to the dispute gate.
// POST /api/trades/{id}/dispute
func (h *TradeHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := readJSON(r, &body); err != nil || body.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}
	if err := h.actions.RaiseDispute(r.Context(), r.PathValue("id"), body.Reason); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disputed"})
}

// Messages returns the trade chat feed.
// GET /api/trades/{id}/messages
func (h *TradeHandler) Messages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.backend.Messages(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// operationResponse is the wire shape for a completed escrow operation.
func operationResponse(res *domain.OperationResult) map[string]any {
	out := map[string]any{
		"tx_hash":    res.TxHash,
		"reconciled": res.Reconciled,
	}
	if res.ApproveTxHash != "" {
		out["approve_tx_hash"] = res.ApproveTxHash
	}
	if res.DepositTxHash != "" {
		out["deposit_tx_hash"] = res.DepositTxHash
	}
	if spec, err := config.Chain(res.Operation.Chain); err == nil && res.TxHash != "" {
		out["tx_url"] = spec.TxURL(res.TxHash)
	}
	return out
}

// writeOperationError maps a sequencer failure to a response. The
// reconciliation case returns the confirmed tx hash so the UI can show it
// verbatim and direct the user to manual reconciliation.
func writeOperationError(w http.ResponseWriter, res *domain.OperationResult, err error) {
	var rerr *domain.ReconciliationError
	if errors.As(err, &rerr) {
		payload := map[string]any{
			"error":   "on-chain transaction confirmed but backend reconciliation failed; manual reconciliation required, do not resubmit",
			"tx_hash": rerr.TxHash,
		}
		if res != nil && res.DepositTxHash != "" {
			payload["deposit_tx_hash"] = res.DepositTxHash
		}
		writeJSON(w, http.StatusBadGateway, payload)
		return
	}
	writeDomainError(w, err)
}

// writeDomainError maps domain sentinels to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrOperationPending):
		writeError(w, http.StatusConflict, "an operation is already pending for this resource")
	case errors.Is(err, domain.ErrUserRejected):
		writeError(w, http.StatusConflict, "wallet rejected the request")
	case errors.Is(err, domain.ErrSwitchTimeout), errors.Is(err, domain.ErrNetworkMismatch):
		writeError(w, http.StatusConflict, "wallet is on the wrong network; switch manually and retry")
	case errors.Is(err, domain.ErrInsufficientBalance), errors.Is(err, domain.ErrInsufficientAllowance):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrTradeTerminal):
		writeError(w, http.StatusConflict, "trade is already settled")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
