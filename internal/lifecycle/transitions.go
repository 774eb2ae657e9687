package lifecycle

import "github.com/paisadex/escrowd/internal/domain"

// transitions is the closed set of status edges a trade may take. The agent
// never mutates status directly; it observes backend-driven changes and flags
// anything outside this table in the audit trail. Cancellation, expiry, and
// refund edges originate in the backend and apply from every non-terminal
// state; dispute resolution edges are backend/admin driven as well.
var transitions = map[domain.TradeStatus][]domain.TradeStatus{
	domain.StatusCreated: {
		domain.StatusMatched,
		domain.StatusWaitingForEscrow,
	},
	domain.StatusMatched: {
		domain.StatusWaitingForEscrow,
	},
	domain.StatusWaitingForEscrow: {
		domain.StatusInEscrow,
	},
	domain.StatusInEscrow: {
		domain.StatusFiatSent,
		domain.StatusDisputed,
	},
	domain.StatusFiatSent: {
		domain.StatusFiatConfirmed,
		domain.StatusCompleted,
		domain.StatusDisputed,
	},
	domain.StatusFiatConfirmed: {
		domain.StatusReleasing,
		domain.StatusCompleted,
	},
	domain.StatusReleasing: {
		domain.StatusCompleted,
	},
	domain.StatusDisputed: {
		domain.StatusCompleted,
		domain.StatusCancelled,
		domain.StatusRefunded,
	},
}

// TransitionAllowed reports whether the edge from -> to is in the lifecycle
// table. Backend-driven exits to cancelled/expired/refunded are allowed from
// any non-terminal state; nothing leaves a terminal state.
func TransitionAllowed(from, to domain.TradeStatus) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case domain.StatusCancelled, domain.StatusExpired, domain.StatusRefunded:
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
