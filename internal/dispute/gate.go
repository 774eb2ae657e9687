// Package dispute implements the time-gated dispute window. After the buyer
// reports a fiat payment the seller gets a bounded cool-down to verify the
// claim before either party can escalate.
package dispute

import (
	"fmt"
	"time"

	"github.com/paisadex/escrowd/internal/domain"
)

// CoolDown is the window after fiat_sent_at during which a dispute is
// blocked while the trade sits in fiat_sent.
const CoolDown = time.Hour

// Decision is the outcome of a gate evaluation.
type Decision struct {
	Allowed bool
	// Remaining is the wait left before a dispute becomes permitted. Zero
	// when Allowed or when no cool-down applies.
	Remaining time.Duration
}

// Evaluate decides whether a dispute is currently permitted.
//
// Rules: in in_escrow a dispute is allowed unconditionally. In fiat_sent the
// cool-down applies only once fiat_sent_at is set; before the window elapses
// the dispute is blocked, afterwards it is allowed again. Every other status
// has no dispute path.
func Evaluate(status domain.TradeStatus, fiatSentAt *time.Time, now time.Time) Decision {
	switch status {
	case domain.StatusInEscrow:
		return Decision{Allowed: true}
	case domain.StatusFiatSent:
		if fiatSentAt == nil {
			return Decision{Allowed: true}
		}
		elapsed := now.Sub(*fiatSentAt)
		if elapsed >= CoolDown {
			return Decision{Allowed: true}
		}
		return Decision{Remaining: CoolDown - elapsed}
	default:
		return Decision{}
	}
}

// RemainingClock renders the remaining wait as minutes:seconds for display,
// e.g. "29:59". Sub-second remainders round up so the clock never shows 0:00
// while the gate is still closed.
func (d Decision) RemainingClock() string {
	if d.Remaining <= 0 {
		return "0:00"
	}
	secs := int((d.Remaining + time.Second - 1) / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
