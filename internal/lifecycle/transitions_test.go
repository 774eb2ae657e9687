package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/paisadex/escrowd/internal/domain"
)

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		name    string
		from    domain.TradeStatus
		to      domain.TradeStatus
		allowed bool
	}{
		{"lock confirms escrow", domain.StatusWaitingForEscrow, domain.StatusInEscrow, true},
		{"buyer sends fiat", domain.StatusInEscrow, domain.StatusFiatSent, true},
		{"seller confirms receipt", domain.StatusFiatSent, domain.StatusFiatConfirmed, true},
		{"seller confirms straight to completed", domain.StatusFiatSent, domain.StatusCompleted, true},
		{"dispute from escrow", domain.StatusInEscrow, domain.StatusDisputed, true},
		{"dispute after fiat sent", domain.StatusFiatSent, domain.StatusDisputed, true},
		{"release settles", domain.StatusReleasing, domain.StatusCompleted, true},
		{"backend cancels open trade", domain.StatusMatched, domain.StatusCancelled, true},
		{"backend expires open trade", domain.StatusWaitingForEscrow, domain.StatusExpired, true},
		{"dispute resolves to refund", domain.StatusDisputed, domain.StatusRefunded, true},

		{"escrow cannot be skipped", domain.StatusWaitingForEscrow, domain.StatusFiatSent, false},
		{"fiat cannot regress", domain.StatusFiatSent, domain.StatusInEscrow, false},
		{"escrow cannot settle directly", domain.StatusInEscrow, domain.StatusCompleted, false},
		{"dispute needs escrow", domain.StatusWaitingForEscrow, domain.StatusDisputed, false},
		{"completed is terminal", domain.StatusCompleted, domain.StatusDisputed, false},
		{"cancelled is terminal", domain.StatusCancelled, domain.StatusInEscrow, false},
		{"refunded is terminal", domain.StatusRefunded, domain.StatusCompleted, false},
		{"expired cannot cancel again", domain.StatusExpired, domain.StatusCancelled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, TransitionAllowed(tt.from, tt.to))
		})
	}
}

func TestTerminalStatesHaveNoExit(t *testing.T) {
	all := []domain.TradeStatus{
		domain.StatusCreated, domain.StatusMatched, domain.StatusWaitingForEscrow,
		domain.StatusInEscrow, domain.StatusFiatSent, domain.StatusFiatConfirmed,
		domain.StatusReleasing, domain.StatusCompleted, domain.StatusDisputed,
		domain.StatusCancelled, domain.StatusExpired, domain.StatusRefunded,
	}
	for _, from := range all {
		if !from.Terminal() {
			continue
		}
		for _, to := range all {
			assert.False(t, TransitionAllowed(from, to), "%s -> %s must be blocked", from, to)
		}
	}
}
