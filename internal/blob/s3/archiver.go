package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/paisadex/escrowd/internal/domain"
)

// TransitionHistory provides the audit trail for a trade. Satisfied by the
// Postgres transition store.
type TransitionHistory interface {
	ListByTrade(ctx context.Context, tradeID string) ([]domain.Transition, error)
}

// Archiver uploads a JSON snapshot of a trade when it reaches a terminal
// state. The snapshot bundles the final backend record, the payment proofs,
// and every observed status transition, and is retained as dispute evidence
// after the trade leaves the hot path.
type Archiver struct {
	writer      *Writer
	transitions TransitionHistory
}

// NewArchiver creates an Archiver writing through the given Writer.
func NewArchiver(writer *Writer, transitions TransitionHistory) *Archiver {
	return &Archiver{writer: writer, transitions: transitions}
}

// tradeSnapshot is the archived document layout.
type tradeSnapshot struct {
	ArchivedAt  time.Time           `json:"archived_at"`
	Trade       *domain.Trade       `json:"trade"`
	Transitions []domain.Transition `json:"transitions,omitempty"`
}

// ArchiveTrade serializes and uploads the trade snapshot. The key is
// partitioned by settlement month so retention policies can expire whole
// prefixes: archive/trades/2026-09/trade-1.json.
func (a *Archiver) ArchiveTrade(ctx context.Context, trade *domain.Trade) error {
	snap := tradeSnapshot{
		ArchivedAt: time.Now().UTC(),
		Trade:      trade,
	}

	if a.transitions != nil {
		history, err := a.transitions.ListByTrade(ctx, trade.ID)
		if err != nil {
			return fmt.Errorf("s3blob: archive trade %s: transition history: %w", trade.ID, err)
		}
		snap.Transitions = history
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("s3blob: archive trade %s: marshal: %w", trade.ID, err)
	}

	path := archivePath(trade, snap.ArchivedAt)
	if err := a.writer.Put(ctx, path, &buf, "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive trade %s: %w", trade.ID, err)
	}
	return nil
}

func archivePath(trade *domain.Trade, at time.Time) string {
	return fmt.Sprintf("archive/trades/%s/%s.json", at.Format("2006-01"), trade.ID)
}
