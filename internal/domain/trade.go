// Package domain defines the core types and interfaces shared across the
// escrowd agent: trades, vault positions, escrow operations, wallets, and the
// store/cache contracts their implementations satisfy.
package domain

import "time"

// TradeStatus is the backend-authoritative lifecycle state of a trade.
type TradeStatus string

const (
	StatusCreated          TradeStatus = "created"
	StatusMatched          TradeStatus = "matched"
	StatusWaitingForEscrow TradeStatus = "waiting_for_escrow"
	StatusInEscrow         TradeStatus = "in_escrow"
	StatusFiatSent         TradeStatus = "fiat_sent"
	StatusFiatConfirmed    TradeStatus = "fiat_confirmed"
	StatusReleasing        TradeStatus = "releasing"
	StatusCompleted        TradeStatus = "completed"
	StatusDisputed         TradeStatus = "disputed"
	StatusCancelled        TradeStatus = "cancelled"
	StatusExpired          TradeStatus = "expired"
	StatusRefunded         TradeStatus = "refunded"
)

// Terminal reports whether no further status mutation is permitted.
func (s TradeStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusExpired, StatusRefunded:
		return true
	default:
		return false
	}
}

// TradeRole is the local party's side of a trade.
type TradeRole string

const (
	RoleSeller TradeRole = "seller"
	RoleBuyer  TradeRole = "buyer"
)

// PaymentProfile is the seller's fiat payment destination. Read-only here;
// profile management happens elsewhere.
type PaymentProfile struct {
	UPIID       string
	Phone       string
	BankAccount string
	IFSC        string
	AccountName string
}

// PaymentProof is a single settlement reference submitted by the buyer,
// typically a bank UTR. The list on a trade is append-only.
type PaymentProof struct {
	Reference   string
	SubmittedAt time.Time
}

// ChatMessage is one entry of the per-trade message feed. The transport is an
// external collaborator; escrowd only reads the list to detect counterparty
// activity.
type ChatMessage struct {
	ID       string
	TradeID  string
	AuthorID string
	Body     string
	SentAt   time.Time
}

// Trade is the unit of settlement. The backend record is the single source of
// truth for Status; on-chain escrow state is always inferred from reads.
type Trade struct {
	ID           string
	Chain        string // "base" or "bsc"
	Token        string
	Amount       float64 // token units, display precision
	Rate         float64 // fiat per token
	FiatAmount   float64
	FiatCurrency string
	Status       TradeStatus

	SellerID           string
	BuyerID            string
	BuyerWalletAddress string
	SellerPayment      PaymentProfile

	FiatSentAt    *time.Time // anchors the dispute cool-down
	PaymentProofs []PaymentProof

	FeeAmount      float64
	FeePercentage  float64
	BuyerReceives  float64
	EscrowTxHash   string
	ReleaseTxHash  string
	OnChainTradeID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Role returns the local user's side of the trade, or "" if the user is not a
// party to it.
func (t *Trade) Role(userID string) TradeRole {
	switch userID {
	case t.SellerID:
		return RoleSeller
	case t.BuyerID:
		return RoleBuyer
	default:
		return ""
	}
}
