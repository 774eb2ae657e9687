package domain

import (
	"context"
	"time"
)

// JournalState tracks reconciliation of a confirmed chain write with the
// backend record.
type JournalState string

const (
	// JournalPending: tx confirmed on-chain, backend ack not yet attempted
	// or in flight.
	JournalPending JournalState = "pending"
	// JournalReconciled: backend acknowledged the tx hash.
	JournalReconciled JournalState = "reconciled"
	// JournalFailed: backend ack failed; manual reconciliation required.
	// The row is the durable handle support works from.
	JournalFailed JournalState = "failed"
)

// JournalEntry is the write-ahead record of a confirmed on-chain operation.
// It is written before the backend reconciliation call so the tx hash
// survives a crash between confirmation and acknowledgement.
type JournalEntry struct {
	ID           string
	User         string
	Chain        string
	Token        string
	Kind         OperationKind
	TradeID      string
	Amount       float64
	TxHash       string
	State        JournalState
	FailReason   string
	SubmittedAt  time.Time
	ReconciledAt *time.Time
}

// OperationJournal persists journal entries. Implementations must make
// Record durable before returning.
type OperationJournal interface {
	Record(ctx context.Context, entry JournalEntry) error
	MarkReconciled(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, reason string) error
	// ListUnreconciled returns entries still awaiting backend acknowledgement
	// for the given user, oldest first.
	ListUnreconciled(ctx context.Context, user string) ([]JournalEntry, error)
}

// Transition is one observed trade status change, recorded for audit.
type Transition struct {
	TradeID    string
	From       TradeStatus
	To         TradeStatus
	Allowed    bool
	ObservedAt time.Time
}

// TransitionStore records observed status transitions.
type TransitionStore interface {
	RecordTransition(ctx context.Context, t Transition) error
	ListByTrade(ctx context.Context, tradeID string) ([]Transition, error)
}
