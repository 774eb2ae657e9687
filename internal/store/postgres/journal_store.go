package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paisadex/escrowd/internal/domain"
)

// JournalStore implements domain.OperationJournal using PostgreSQL. The
// journal is the durable record of confirmed chain writes; a row in state
// "failed" is the support handle for manual reconciliation.
type JournalStore struct {
	pool *pgxpool.Pool
}

// NewJournalStore creates a new JournalStore backed by the given pool.
func NewJournalStore(pool *pgxpool.Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

// Record inserts a journal entry. The insert must be durable before the
// backend reconciliation call is attempted; re-recording the same tx hash is
// a no-op so a manual retry path can call through the same code.
func (s *JournalStore) Record(ctx context.Context, e domain.JournalEntry) error {
	const query = `
		INSERT INTO operation_journal (
			id, user_id, chain, token, kind, trade_id,
			amount, tx_hash, state, fail_reason, submitted_at, reconciled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (tx_hash) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		e.ID, e.User, e.Chain, e.Token, string(e.Kind), e.TradeID,
		e.Amount, e.TxHash, string(e.State), e.FailReason, e.SubmittedAt, e.ReconciledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record journal entry %s: %w", e.ID, err)
	}
	return nil
}

// MarkReconciled moves an entry to the reconciled state.
func (s *JournalStore) MarkReconciled(ctx context.Context, id string, at time.Time) error {
	const query = `
		UPDATE operation_journal
		SET state = 'reconciled', reconciled_at = $2, fail_reason = ''
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("postgres: mark journal %s reconciled: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark journal %s reconciled: %w", id, domain.ErrNotFound)
	}
	return nil
}

// MarkFailed moves an entry to the failed state with the backend's error.
func (s *JournalStore) MarkFailed(ctx context.Context, id string, reason string) error {
	const query = `
		UPDATE operation_journal
		SET state = 'failed', fail_reason = $2
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("postgres: mark journal %s failed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark journal %s failed: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListUnreconciled returns entries still awaiting backend acknowledgement
// for the user, oldest first.
func (s *JournalStore) ListUnreconciled(ctx context.Context, user string) ([]domain.JournalEntry, error) {
	const query = `
		SELECT id, user_id, chain, token, kind, trade_id,
		       amount, tx_hash, state, fail_reason, submitted_at, reconciled_at
		FROM operation_journal
		WHERE user_id = $1 AND state IN ('pending', 'failed')
		ORDER BY submitted_at ASC`

	rows, err := s.pool.Query(ctx, query, user)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unreconciled for %s: %w", user, err)
	}
	defer rows.Close()

	var entries []domain.JournalEntry
	for rows.Next() {
		var e domain.JournalEntry
		var kind, state string
		if err := rows.Scan(
			&e.ID, &e.User, &e.Chain, &e.Token, &kind, &e.TradeID,
			&e.Amount, &e.TxHash, &state, &e.FailReason, &e.SubmittedAt, &e.ReconciledAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan journal entry: %w", err)
		}
		e.Kind = domain.OperationKind(kind)
		e.State = domain.JournalState(state)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Compile-time interface check.
var _ domain.OperationJournal = (*JournalStore)(nil)
