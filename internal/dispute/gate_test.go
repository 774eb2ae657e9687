package dispute

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paisadex/escrowd/internal/domain"
)

func TestEvaluate(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		ts := now.Add(-d)
		return &ts
	}

	tests := []struct {
		name          string
		status        domain.TradeStatus
		fiatSentAt    *time.Time
		wantAllowed   bool
		wantRemaining time.Duration
	}{
		{
			name:          "fiat sent 30 minutes ago is blocked with half the window left",
			status:        domain.StatusFiatSent,
			fiatSentAt:    at(30 * time.Minute),
			wantRemaining: 30 * time.Minute,
		},
		{
			name:        "fiat sent 61 minutes ago is allowed",
			status:      domain.StatusFiatSent,
			fiatSentAt:  at(61 * time.Minute),
			wantAllowed: true,
		},
		{
			name:        "fiat sent exactly at the window boundary is allowed",
			status:      domain.StatusFiatSent,
			fiatSentAt:  at(CoolDown),
			wantAllowed: true,
		},
		{
			name:        "in escrow is allowed unconditionally",
			status:      domain.StatusInEscrow,
			wantAllowed: true,
		},
		{
			name:        "fiat sent without a timestamp has no cool-down to apply",
			status:      domain.StatusFiatSent,
			wantAllowed: true,
		},
		{
			name:   "completed trade has no dispute path",
			status: domain.StatusCompleted,
		},
		{
			name:       "waiting for escrow has no dispute path",
			status:     domain.StatusWaitingForEscrow,
			fiatSentAt: at(2 * time.Hour),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(tt.status, tt.fiatSentAt, now)
			assert.Equal(t, tt.wantAllowed, d.Allowed)
			assert.Equal(t, tt.wantRemaining, d.Remaining)
		})
	}
}

func TestRemainingClock(t *testing.T) {
	require.Equal(t, "30:00", Decision{Remaining: 30 * time.Minute}.RemainingClock())
	require.Equal(t, "0:01", Decision{Remaining: 300 * time.Millisecond}.RemainingClock())
	require.Equal(t, "59:59", Decision{Remaining: 59*time.Minute + 59*time.Second}.RemainingClock())
	require.Equal(t, "0:00", Decision{Allowed: true}.RemainingClock())
}
