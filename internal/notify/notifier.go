// Package notify delivers trade updates to out-of-band channels. Events from
// the lifecycle machine are rendered into short human-readable messages and
// dispatched to all registered senders (Telegram, Discord), optionally
// filtered by event type so an operator receives only the alerts they care
// about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/paisadex/escrowd/internal/config"
	"github.com/paisadex/escrowd/internal/domain"
)

// Sender is the interface each notification channel implements.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier renders trade events and dispatches them to one or more Senders.
// When an allowed-event list is configured only those event types are
// forwarded; an empty list forwards everything.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

// New creates a Notifier delivering to the given senders, filtered to the
// listed event types. An empty events slice allows all types.
func New(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		allowed[domain.EventType(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// TradeEvent renders and dispatches one lifecycle event. Delivery failures
// are logged, never propagated to the poll loop.
func (n *Notifier) TradeEvent(ctx context.Context, trade *domain.Trade, ev domain.Event) {
	if len(n.events) > 0 && !n.events[ev.Type] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", string(ev.Type)))
		return
	}

	title, message := render(trade, ev)
	if title == "" {
		return
	}
	n.dispatch(ctx, title, message)
}

// Announce sends a free-form notification regardless of the event filter.
func (n *Notifier) Announce(ctx context.Context, title, message string) {
	n.dispatch(ctx, title, message)
}

// render turns an event into a title and body. Status changes get wording per
// destination status; chat and reconciliation events carry their payload.
func render(trade *domain.Trade, ev domain.Event) (string, string) {
	pair := fmt.Sprintf("%v %s on %s", trade.Amount, trade.Token, trade.Chain)

	switch ev.Type {
	case domain.EventStatusChanged:
		switch ev.To {
		case domain.StatusMatched:
			return "Trade matched", fmt.Sprintf("Trade %s matched: %s at rate %v.", trade.ID, pair, trade.Rate)
		case domain.StatusInEscrow:
			return "Escrow locked", fmt.Sprintf("Trade %s: %s is locked in escrow.", trade.ID, pair)
		case domain.StatusFiatSent:
			return "Fiat sent", fmt.Sprintf("Trade %s: buyer reports %v %s sent.", trade.ID, trade.FiatAmount, trade.FiatCurrency)
		case domain.StatusFiatConfirmed, domain.StatusReleasing:
			return "Payment confirmed", fmt.Sprintf("Trade %s: payment confirmed, releasing escrow.", trade.ID)
		case domain.StatusCompleted:
			return "Trade completed", fmt.Sprintf("Trade %s settled: %s released.", trade.ID, pair)
		case domain.StatusDisputed:
			return "Trade disputed", fmt.Sprintf("Trade %s is in dispute. Escrow stays locked until resolution.", trade.ID)
		case domain.StatusCancelled, domain.StatusExpired, domain.StatusRefunded:
			return "Trade closed", fmt.Sprintf("Trade %s ended with status %s.", trade.ID, ev.To)
		default:
			return "Trade update", fmt.Sprintf("Trade %s moved from %s to %s.", trade.ID, ev.From, ev.To)
		}

	case domain.EventChatMessage:
		return "New message", fmt.Sprintf("Trade %s: %s", trade.ID, ev.Message)

	case domain.EventReconciliationFailed:
		body := fmt.Sprintf("Trade %s: transaction %s confirmed on-chain but the backend was not updated. Manual reconciliation required. Do not resubmit.", trade.ID, ev.TxHash)
		if spec, err := config.Chain(trade.Chain); err == nil {
			body += "\n" + spec.TxURL(ev.TxHash)
		}
		return "Reconciliation failed", body

	case domain.EventOperationConfirmed:
		body := fmt.Sprintf("Trade %s: transaction %s confirmed.", trade.ID, ev.TxHash)
		if spec, err := config.Chain(trade.Chain); err == nil {
			body += "\n" + spec.TxURL(ev.TxHash)
		}
		return "Transaction confirmed", body
	}
	return "", ""
}

// dispatch fans the message out to every sender. A single sender failure does
// not prevent delivery to the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) {
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
}
