package notify

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paisadex/escrowd/internal/domain"
)

type captureSender struct {
	titles   []string
	messages []string
	err      error
}

func (c *captureSender) Send(ctx context.Context, title, message string) error {
	if c.err != nil {
		return c.err
	}
	c.titles = append(c.titles, title)
	c.messages = append(c.messages, message)
	return nil
}

func (c *captureSender) Name() string { return "capture" }

func sampleTrade() *domain.Trade {
	return &domain.Trade{
		ID:           "trade-9",
		Chain:        "bsc",
		Token:        "USDT",
		Amount:       100,
		Rate:         90,
		FiatAmount:   8955,
		FiatCurrency: "INR",
	}
}

func TestTradeEventRendering(t *testing.T) {
	tests := []struct {
		name      string
		ev        domain.Event
		wantTitle string
		wantIn    string
	}{
		{
			name:      "escrow locked",
			ev:        domain.Event{Type: domain.EventStatusChanged, To: domain.StatusInEscrow},
			wantTitle: "Escrow locked",
			wantIn:    "100 USDT on bsc",
		},
		{
			name:      "fiat sent carries fiat leg",
			ev:        domain.Event{Type: domain.EventStatusChanged, To: domain.StatusFiatSent},
			wantTitle: "Fiat sent",
			wantIn:    "8955 INR",
		},
		{
			name:      "dispute",
			ev:        domain.Event{Type: domain.EventStatusChanged, To: domain.StatusDisputed},
			wantTitle: "Trade disputed",
			wantIn:    "dispute",
		},
		{
			name:      "chat message body",
			ev:        domain.Event{Type: domain.EventChatMessage, Message: "sending now"},
			wantTitle: "New message",
			wantIn:    "sending now",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &captureSender{}
			n := New([]Sender{sender}, nil, slog.Default())

			n.TradeEvent(context.Background(), sampleTrade(), tt.ev)

			require.Len(t, sender.titles, 1)
			assert.Equal(t, tt.wantTitle, sender.titles[0])
			assert.Contains(t, sender.messages[0], tt.wantIn)
		})
	}
}

func TestReconciliationFailureMessageCarriesHashAndExplorerLink(t *testing.T) {
	sender := &captureSender{}
	n := New([]Sender{sender}, nil, slog.Default())

	n.TradeEvent(context.Background(), sampleTrade(), domain.Event{
		Type:   domain.EventReconciliationFailed,
		TxHash: "0xdeadbeef",
		At:     time.Now(),
	})

	require.Len(t, sender.messages, 1)
	assert.Contains(t, sender.messages[0], "0xdeadbeef")
	assert.Contains(t, sender.messages[0], "https://bscscan.com/tx/0xdeadbeef")
	assert.Contains(t, sender.messages[0], "Do not resubmit")
}

func TestEventFilter(t *testing.T) {
	sender := &captureSender{}
	n := New([]Sender{sender}, []string{"trade_status_changed"}, slog.Default())

	n.TradeEvent(context.Background(), sampleTrade(), domain.Event{
		Type: domain.EventChatMessage, Message: "hi",
	})
	assert.Empty(t, sender.titles, "filtered event must not dispatch")

	n.TradeEvent(context.Background(), sampleTrade(), domain.Event{
		Type: domain.EventStatusChanged, To: domain.StatusCompleted,
	})
	require.Len(t, sender.titles, 1)
}

func TestSenderFailureDoesNotBlockOthers(t *testing.T) {
	failing := &captureSender{err: assert.AnError}
	working := &captureSender{}
	n := New([]Sender{failing, working}, nil, slog.Default())

	n.TradeEvent(context.Background(), sampleTrade(), domain.Event{
		Type: domain.EventStatusChanged, To: domain.StatusCompleted,
	})
	require.Len(t, working.titles, 1)
}
