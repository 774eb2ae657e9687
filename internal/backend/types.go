package backend

import (
	"time"

	"github.com/paisadex/escrowd/internal/domain"
)

// tradeJSON is the wire shape of a trade record.
type tradeJSON struct {
	ID           string  `json:"id"`
	Chain        string  `json:"chain"`
	Token        string  `json:"token"`
	Amount       float64 `json:"amount"`
	Rate         float64 `json:"rate"`
	FiatAmount   float64 `json:"fiat_amount"`
	FiatCurrency string  `json:"fiat_currency"`
	Status       string  `json:"status"`

	SellerID           string `json:"seller_id"`
	BuyerID            string `json:"buyer_id"`
	BuyerWalletAddress string `json:"buyer_wallet_address"`

	SellerUPIID       string `json:"seller_upi_id"`
	SellerPhone       string `json:"seller_phone"`
	SellerBankAccount string `json:"seller_bank_account"`
	SellerIFSC        string `json:"seller_ifsc"`
	SellerAccountName string `json:"seller_account_name"`

	FiatSentAt    *time.Time `json:"fiat_sent_at"`
	PaymentProofs []struct {
		Reference   string    `json:"reference"`
		SubmittedAt time.Time `json:"submitted_at"`
	} `json:"payment_proofs"`

	FeeAmount      float64 `json:"fee_amount"`
	FeePercentage  float64 `json:"fee_percentage"`
	BuyerReceives  float64 `json:"buyer_receives"`
	EscrowTxHash   string  `json:"escrow_tx_hash"`
	ReleaseTxHash  string  `json:"release_tx_hash"`
	OnChainTradeID string  `json:"on_chain_trade_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t tradeJSON) toDomain() domain.Trade {
	out := domain.Trade{
		ID:           t.ID,
		Chain:        t.Chain,
		Token:        t.Token,
		Amount:       t.Amount,
		Rate:         t.Rate,
		FiatAmount:   t.FiatAmount,
		FiatCurrency: t.FiatCurrency,
		Status:       domain.TradeStatus(t.Status),

		SellerID:           t.SellerID,
		BuyerID:            t.BuyerID,
		BuyerWalletAddress: t.BuyerWalletAddress,
		SellerPayment: domain.PaymentProfile{
			UPIID:       t.SellerUPIID,
			Phone:       t.SellerPhone,
			BankAccount: t.SellerBankAccount,
			IFSC:        t.SellerIFSC,
			AccountName: t.SellerAccountName,
		},

		FiatSentAt: t.FiatSentAt,

		FeeAmount:      t.FeeAmount,
		FeePercentage:  t.FeePercentage,
		BuyerReceives:  t.BuyerReceives,
		EscrowTxHash:   t.EscrowTxHash,
		ReleaseTxHash:  t.ReleaseTxHash,
		OnChainTradeID: t.OnChainTradeID,

		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
	for _, p := range t.PaymentProofs {
		out.PaymentProofs = append(out.PaymentProofs, domain.PaymentProof{
			Reference:   p.Reference,
			SubmittedAt: p.SubmittedAt,
		})
	}
	return out
}
