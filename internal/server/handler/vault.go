package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/paisadex/escrowd/internal/domain"
)

// Executor runs escrow operations, implemented by the sequencer.
type Executor interface {
	Execute(ctx context.Context, op domain.Operation) (*domain.OperationResult, error)
}

// VaultHandler serves vault positions and vault deposit/withdraw operations.
type VaultHandler struct {
	backend  domain.BackendClient
	executor Executor
	user     string
	logger   *slog.Logger
}

// NewVaultHandler creates a VaultHandler.
func NewVaultHandler(backend domain.BackendClient, executor Executor, user string, logger *slog.Logger) *VaultHandler {
	return &VaultHandler{
		backend:  backend,
		executor: executor,
		user:     user,
		logger:   logger.With(slog.String("handler", "vault")),
	}
}

// Positions returns the user's vault balances per chain and token, with the
// derived available figure the UI must treat as the spendable amount.
// GET /api/vault
func (h *VaultHandler) Positions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.backend.VaultPositions(r.Context(), h.user)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	type positionView struct {
		Chain     string  `json:"chain"`
		Token     string  `json:"token"`
		Physical  float64 `json:"physical"`
		Reserved  float64 `json:"reserved"`
		Available float64 `json:"available"`
	}
	views := make([]positionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, positionView{
			Chain:     p.Chain,
			Token:     p.Token,
			Physical:  p.Physical,
			Reserved:  p.Reserved,
			Available: p.Available(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": views})
}

// Deposit moves tokens from the wallet into the vault.
// POST /api/vault/deposit
func (h *VaultHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, domain.OpDeposit)
}

// Withdraw moves available tokens from the vault back to the wallet.
// POST /api/vault/withdraw
func (h *VaultHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, domain.OpWithdraw)
}

func (h *VaultHandler) run(w http.ResponseWriter, r *http.Request, kind domain.OperationKind) {
	var body struct {
		Chain  string  `json:"chain"`
		Token  string  `json:"token"`
		Amount float64 `json:"amount"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Chain == "" || body.Token == "" || body.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "chain, token and a positive amount are required")
		return
	}

	res, err := h.executor.Execute(r.Context(), domain.Operation{
		Kind:   kind,
		Chain:  body.Chain,
		Token:  body.Token,
		Amount: body.Amount,
	})
	if err != nil {
		writeOperationError(w, res, err)
		return
	}
	writeJSON(w, http.StatusOK, operationResponse(res))
}
