package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/paisadex/escrowd/internal/domain"
)

// OperationStatus exposes the sequencer's in-flight and unreconciled state.
type OperationStatus interface {
	Pending() []domain.PendingOperation
	Unreconciled(ctx context.Context) ([]domain.JournalEntry, error)
	Reacknowledge(ctx context.Context, e domain.JournalEntry) error
}

// OperationHandler serves operation progress and the manual reconciliation
// retry path.
type OperationHandler struct {
	status OperationStatus
	logger *slog.Logger
}

// NewOperationHandler creates an OperationHandler.
func NewOperationHandler(status OperationStatus, logger *slog.Logger) *OperationHandler {
	return &OperationHandler{
		status: status,
		logger: logger.With(slog.String("handler", "operation")),
	}
}

// Pending returns the in-flight operations with their current phase.
// GET /api/operations/pending
func (h *OperationHandler) Pending(w http.ResponseWriter, r *http.Request) {
	pending := h.status.Pending()

	type pendingView struct {
		ID     string  `json:"id"`
		Kind   string  `json:"kind"`
		Chain  string  `json:"chain"`
		Token  string  `json:"token"`
		Amount float64 `json:"amount"`
		Phase  string  `json:"phase"`
		TxHash string  `json:"tx_hash,omitempty"`
	}
	views := make([]pendingView, 0, len(pending))
	for _, p := range pending {
		views = append(views, pendingView{
			ID:     p.Operation.ID,
			Kind:   string(p.Operation.Kind),
			Chain:  p.Operation.Chain,
			Token:  p.Operation.Token,
			Amount: p.Operation.Amount,
			Phase:  string(p.Phase),
			TxHash: p.TxHash,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": views})
}

// Unreconciled returns confirmed chain writes still awaiting backend
// acknowledgement. These are the entries the UI flags for manual action.
// GET /api/operations/unreconciled
func (h *OperationHandler) Unreconciled(w http.ResponseWriter, r *http.Request) {
	entries, err := h.status.Unreconciled(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// Reacknowledge retries the backend acknowledgement for one journal entry.
// The on-chain transaction is never resubmitted.
// POST /api/operations/{id}/reacknowledge
func (h *OperationHandler) Reacknowledge(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	entries, err := h.status.Unreconciled(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	for _, e := range entries {
		if e.ID != id {
			continue
		}
		if err := h.status.Reacknowledge(r.Context(), e); err != nil {
			writeOperationError(w, nil, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "reconciled",
			"tx_hash": e.TxHash,
		})
		return
	}
	writeError(w, http.StatusNotFound, "no unreconciled entry with that id")
}
