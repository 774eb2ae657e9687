// Package backend implements the client for the trade/vault system-of-record
// API. Trade status read from here is authoritative; the chain is reconciled
// into it through the report endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/paisadex/escrowd/internal/domain"
)

// Client is an HTTP client for the backend API.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// NewClient creates a backend Client. timeout bounds each request; zero
// selects a 30-second default.
func NewClient(baseURL, authToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:   baseURL,
		authToken: authToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// apiError is the backend's error envelope.
type apiError struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("backend: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("backend: read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("backend: %s %s: %w", method, path, domain.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("backend: %s %s: status %d: %s", method, path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("backend: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("backend: decode response: %w", err)
		}
	}
	return nil
}

// GetTrade fetches a single trade record by id.
func (c *Client) GetTrade(ctx context.Context, id string) (*domain.Trade, error) {
	var resp struct {
		Trade tradeJSON `json:"trade"`
	}
	if err := c.do(ctx, http.MethodGet, "/trades/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	t := resp.Trade.toDomain()
	return &t, nil
}

// ListOpenTrades returns the user's non-terminal trades.
func (c *Client) ListOpenTrades(ctx context.Context, userID string) ([]domain.Trade, error) {
	var resp struct {
		Trades []tradeJSON `json:"trades"`
	}
	path := "/trades?open=true&user_id=" + url.QueryEscape(userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	trades := make([]domain.Trade, 0, len(resp.Trades))
	for _, tj := range resp.Trades {
		trades = append(trades, tj.toDomain())
	}
	return trades, nil
}

// ConfirmPayment marks fiat as sent, attaching the buyer's payment proof
// reference (bank UTR).
func (c *Client) ConfirmPayment(ctx context.Context, tradeID, proofRef string) error {
	body := map[string]string{"utr": proofRef}
	return c.do(ctx, http.MethodPost, "/trades/"+url.PathEscape(tradeID)+"/confirm-payment", body, nil)
}

// ConfirmReceipt marks fiat as received by the seller, triggering release.
func (c *Client) ConfirmReceipt(ctx context.Context, tradeID string) error {
	return c.do(ctx, http.MethodPost, "/trades/"+url.PathEscape(tradeID)+"/confirm-receipt", nil, nil)
}

// RaiseDispute escalates the trade with a reason. The dispute gate must be
// consulted before calling.
func (c *Client) RaiseDispute(ctx context.Context, tradeID, reason string) error {
	body := map[string]string{"reason": reason}
	return c.do(ctx, http.MethodPost, "/trades/"+url.PathEscape(tradeID)+"/dispute", body, nil)
}

// ReportLock reconciles a confirmed on-chain escrow lock into the trade
// record. Idempotent on (tradeID, txHash).
func (c *Client) ReportLock(ctx context.Context, tradeID, txHash string) error {
	body := map[string]string{"tx_hash": txHash}
	return c.do(ctx, http.MethodPost, "/trades/"+url.PathEscape(tradeID)+"/lock", body, nil)
}

// ReportVaultDeposit reconciles a confirmed client-side vault deposit.
func (c *Client) ReportVaultDeposit(ctx context.Context, chain, token string, amount float64, txHash string) error {
	body := map[string]any{"chain": chain, "token": token, "amount": amount, "tx_hash": txHash}
	return c.do(ctx, http.MethodPost, "/vault/deposit/confirm", body, nil)
}

// ReportVaultWithdraw reconciles a confirmed client-side vault withdrawal.
func (c *Client) ReportVaultWithdraw(ctx context.Context, chain, token string, amount float64, txHash string) error {
	body := map[string]any{"chain": chain, "token": token, "amount": amount, "tx_hash": txHash}
	return c.do(ctx, http.MethodPost, "/vault/withdraw/confirm", body, nil)
}

// VaultPositions returns the user's physical and reserved balances per
// chain/token. The reserved figure is a backend-coordinated soft lock; it
// must be re-fetched, never computed locally.
func (c *Client) VaultPositions(ctx context.Context, userID string) ([]domain.VaultPosition, error) {
	var resp struct {
		Balances []struct {
			Chain    string  `json:"chain"`
			Token    string  `json:"token"`
			Physical float64 `json:"physical"`
			Reserved float64 `json:"reserved"`
		} `json:"balances"`
	}
	if err := c.do(ctx, http.MethodGet, "/vault/balances?user_id="+url.QueryEscape(userID), nil, &resp); err != nil {
		return nil, err
	}
	positions := make([]domain.VaultPosition, 0, len(resp.Balances))
	for _, b := range resp.Balances {
		positions = append(positions, domain.VaultPosition{
			Chain:    b.Chain,
			Token:    b.Token,
			Physical: b.Physical,
			Reserved: b.Reserved,
		})
	}
	return positions, nil
}

// txHashResponse is the envelope of the server-side execution endpoints.
type txHashResponse struct {
	TxHash string `json:"tx_hash"`
}

// ExecuteVaultDeposit asks the backend to run a custodial vault deposit
// server-side, returning the resulting transaction hash.
func (c *Client) ExecuteVaultDeposit(ctx context.Context, chain, token string, amount float64) (string, error) {
	var resp txHashResponse
	body := map[string]any{"chain": chain, "token": token, "amount": amount}
	if err := c.do(ctx, http.MethodPost, "/vault/deposit", body, &resp); err != nil {
		return "", err
	}
	return resp.TxHash, nil
}

// ExecuteVaultWithdraw asks the backend to run a custodial vault withdrawal
// server-side.
func (c *Client) ExecuteVaultWithdraw(ctx context.Context, chain, token string, amount float64) (string, error) {
	var resp txHashResponse
	body := map[string]any{"chain": chain, "token": token, "amount": amount}
	if err := c.do(ctx, http.MethodPost, "/vault/withdraw", body, &resp); err != nil {
		return "", err
	}
	return resp.TxHash, nil
}

// ExecuteRelayedLock asks the backend relayer to lock the trade from the
// seller's vault balance.
func (c *Client) ExecuteRelayedLock(ctx context.Context, tradeID string) (string, error) {
	var resp txHashResponse
	if err := c.do(ctx, http.MethodPost, "/trades/"+url.PathEscape(tradeID)+"/relay-lock", nil, &resp); err != nil {
		return "", err
	}
	return resp.TxHash, nil
}

// Messages returns the trade's chat feed, oldest first.
func (c *Client) Messages(ctx context.Context, tradeID string) ([]domain.ChatMessage, error) {
	var resp struct {
		Messages []struct {
			ID       string    `json:"id"`
			AuthorID string    `json:"author_id"`
			Body     string    `json:"body"`
			SentAt   time.Time `json:"sent_at"`
		} `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/trades/"+url.PathEscape(tradeID)+"/messages", nil, &resp); err != nil {
		return nil, err
	}
	msgs := make([]domain.ChatMessage, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		msgs = append(msgs, domain.ChatMessage{
			ID:       m.ID,
			TradeID:  tradeID,
			AuthorID: m.AuthorID,
			Body:     m.Body,
			SentAt:   m.SentAt,
		})
	}
	return msgs, nil
}

// Compile-time interface check.
var _ domain.BackendClient = (*Client)(nil)
