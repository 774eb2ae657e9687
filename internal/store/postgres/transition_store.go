package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paisadex/escrowd/internal/domain"
)

// TransitionStore implements domain.TransitionStore using PostgreSQL. Every
// status change the lifecycle machine observes is appended here, including
// transitions outside the allowed table, so disputes can be audited against
// what the agent actually saw.
type TransitionStore struct {
	pool *pgxpool.Pool
}

// NewTransitionStore creates a new TransitionStore backed by the given pool.
func NewTransitionStore(pool *pgxpool.Pool) *TransitionStore {
	return &TransitionStore{pool: pool}
}

// RecordTransition records an observed transition.
func (s *TransitionStore) RecordTransition(ctx context.Context, t domain.Transition) error {
	const query = `
		INSERT INTO trade_transitions (trade_id, from_status, to_status, allowed, observed_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.pool.Exec(ctx, query,
		t.TradeID, string(t.From), string(t.To), t.Allowed, t.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append transition for trade %s: %w", t.TradeID, err)
	}
	return nil
}

// ListByTrade returns the observed transitions for a trade in observation order.
func (s *TransitionStore) ListByTrade(ctx context.Context, tradeID string) ([]domain.Transition, error) {
	const query = `
		SELECT trade_id, from_status, to_status, allowed, observed_at
		FROM trade_transitions
		WHERE trade_id = $1
		ORDER BY observed_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, tradeID)
	if err != nil {
		return nil, fmt.Errorf("postgres: transition history for trade %s: %w", tradeID, err)
	}
	defer rows.Close()

	var out []domain.Transition
	for rows.Next() {
		var t domain.Transition
		var from, to string
		if err := rows.Scan(&t.TradeID, &from, &to, &t.Allowed, &t.ObservedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan transition: %w", err)
		}
		t.From = domain.TradeStatus(from)
		t.To = domain.TradeStatus(to)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.TransitionStore = (*TransitionStore)(nil)
