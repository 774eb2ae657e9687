package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrUserRejected          = errors.New("user rejected signature")
	ErrNetworkMismatch       = errors.New("wallet on wrong network")
	ErrSwitchTimeout         = errors.New("network switch timed out")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInsufficientBalance   = errors.New("insufficient available balance")
	ErrSubmissionFailed      = errors.New("transaction submission failed")
	ErrOperationPending      = errors.New("operation already pending for resource")
	ErrLockHeld              = errors.New("lock already held")
	ErrTradeTerminal         = errors.New("trade is in a terminal state")
	ErrUnsupportedOperation  = errors.New("operation not supported by wallet")
)

// WalletErrCodeUserRejected is the EIP-1193 code a wallet returns when the
// user explicitly declines a signature or network-switch request.
const WalletErrCodeUserRejected = 4001

// WalletError carries a wallet/provider error code alongside the provider's
// human-readable message. The message is surfaced verbatim when present.
type WalletError struct {
	Code    int
	Message string
}

func (e *WalletError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("wallet error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("wallet error %d", e.Code)
}

// IsUserRejection reports whether err is a wallet-level explicit rejection.
func IsUserRejection(err error) bool {
	var we *WalletError
	if errors.As(err, &we) {
		return we.Code == WalletErrCodeUserRejected
	}
	return errors.Is(err, ErrUserRejected)
}

// ReconciliationError is the most severe failure class: the on-chain write
// succeeded but the backend acknowledgement did not. The transaction hash
// must be shown verbatim to the user; the chain write is never resubmitted.
type ReconciliationError struct {
	TxHash string
	Err    error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("on-chain transaction %s confirmed but backend reconciliation failed: %v", e.TxHash, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }
