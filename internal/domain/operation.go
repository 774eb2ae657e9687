package domain

import (
	"fmt"
	"time"
)

// OperationKind identifies a single on-chain escrow step.
type OperationKind string

const (
	OpApprove  OperationKind = "approve"
	OpDeposit  OperationKind = "deposit"
	OpWithdraw OperationKind = "withdraw"
	OpLock     OperationKind = "lock"
)

// Operation describes one desired on-chain action for a (chain, token, amount)
// triple. Buyer, TradeID and Duration are set for lock operations only.
type Operation struct {
	ID     string
	Kind   OperationKind
	Chain  string
	Token  string
	Amount float64

	TradeID  string
	Buyer    string
	Duration time.Duration
}

// ResourceKey returns the serialization key for the operation. Operations are
// serialized per (user, chain, token), never parallelized, so a second
// deposit/lock cannot race the allowance or nonce of an unconfirmed one.
func (o Operation) ResourceKey(user string) string {
	return fmt.Sprintf("%s|%s|%s", user, o.Chain, o.Token)
}

// OperationPhase tracks how far a pending operation has progressed.
type OperationPhase string

const (
	PhaseSwitching  OperationPhase = "switching_network"
	PhaseApproving  OperationPhase = "approving"
	PhaseDepositing OperationPhase = "depositing"
	PhaseSubmitting OperationPhase = "submitting"
	PhaseConfirming OperationPhase = "confirming"
	PhaseReconciling OperationPhase = "reconciling"
)

// PendingOperation is the ephemeral state of a single in-flight sequencer
// invocation. It is owned exclusively by the sequencer and discarded once the
// operation is confirmed and reconciled, or abandoned by the caller.
type PendingOperation struct {
	Operation Operation
	Phase     OperationPhase
	TxHash    string
	StartedAt time.Time
}

// OperationResult is the outcome of a completed sequencer invocation.
// TxHash is always populated once the transaction was accepted by the chain,
// including the reconciliation-failure case.
type OperationResult struct {
	Operation  Operation
	TxHash     string
	Reconciled bool
	// ApproveTxHash is set when an approval step was required and submitted
	// ahead of the main operation.
	ApproveTxHash string
	// DepositTxHash is set when a vault deposit was bundled into a lock.
	DepositTxHash string
	ConfirmedAt   time.Time
}
