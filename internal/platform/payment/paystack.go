// Package payment is the client of the Paystack payment and payout API.
package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/escrow-settlement/internal/config"
	"github.com/escrow-settlement/internal/domain/shared"
	"github.com/escrow-settlement/internal/domain/wallet"
)

// SignatureHeader carries the HMAC of a webhook body
const SignatureHeader = "x-paystack-signature"

const defaultTransferReason = "Withdrawal from escrow wallet"

// SessionRequest opens a hosted checkout. Amount is in minor units and
// Reference is echoed back in the charge webhook.
type SessionRequest struct {
	Email       string
	Amount      uint64
	Currency    string
	Reference   string
	CallbackURL string
	Metadata    interface{}
}

// Session is a hosted checkout the payer completes in the browser
type Session struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// ResolvedAccount is the account holder behind a bank account number
type ResolvedAccount struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	BankID        int64  `json:"bank_id"`
}

// RecipientRequest registers a payout destination
type RecipientRequest struct {
	Name          string
	AccountNumber string
	BankCode      string
	Currency      string
}

// Recipient is a registered payout destination
type Recipient struct {
	RecipientCode string `json:"recipient_code"`
	Active        bool   `json:"active"`
}

// TransferRequest pays out Amount minor units to RecipientCode
type TransferRequest struct {
	Amount        uint64
	Reference     string
	RecipientCode string
	Reason        string
}

// TransferResult is the provider acknowledgement of a payout. The final
// outcome arrives later by webhook.
type TransferResult struct {
	TransferCode string `json:"transfer_code"`
	Reference    string `json:"reference"`
	Status       string `json:"status"`
}

type envelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// PaystackClient calls the Paystack REST API
type PaystackClient struct {
	baseURL     string
	secretKey   string
	callbackURL string
	currency    string
	httpClient  *http.Client
	logger      *slog.Logger
}

func NewPaystackClient(logger *slog.Logger, cfg *config.PaystackConfig) *PaystackClient {
	return &PaystackClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:   cfg.SecretKey,
		callbackURL: cfg.CallbackURL,
		currency:    cfg.Currency,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		logger:      logger,
	}
}

// VerifyWebhook checks signature against the HMAC-SHA512 of the raw body.
func (c *PaystackClient) VerifyWebhook(payload []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(c.secretKey))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

func (c *PaystackClient) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	currency := req.Currency
	if currency == "" {
		currency = c.currency
	}
	callbackURL := req.CallbackURL
	if callbackURL == "" {
		callbackURL = c.callbackURL
	}

	body := map[string]interface{}{
		"email":        req.Email,
		"amount":       req.Amount,
		"currency":     currency,
		"reference":    req.Reference,
		"callback_url": callbackURL,
		"metadata":     req.Metadata,
	}

	return call[Session](ctx, c, http.MethodPost, "/transaction/initialize", nil, body)
}

func (c *PaystackClient) ResolveBankAccount(ctx context.Context, accountNumber, bankCode string) (*ResolvedAccount, error) {
	query := url.Values{}
	query.Set("account_number", accountNumber)
	query.Set("bank_code", bankCode)

	return call[ResolvedAccount](ctx, c, http.MethodGet, "/bank/resolve", query, nil)
}

func (c *PaystackClient) ListBanks(ctx context.Context, currency string) ([]wallet.Bank, error) {
	if currency == "" {
		currency = c.currency
	}
	query := url.Values{}
	query.Set("currency", currency)

	banks, err := call[[]wallet.Bank](ctx, c, http.MethodGet, "/bank", query, nil)
	if err != nil {
		return nil, err
	}
	return *banks, nil
}

func (c *PaystackClient) CreateTransferRecipient(ctx context.Context, req RecipientRequest) (*Recipient, error) {
	currency := req.Currency
	if currency == "" {
		currency = c.currency
	}

	body := map[string]interface{}{
		"type":           "nuban",
		"name":           req.Name,
		"account_number": req.AccountNumber,
		"bank_code":      req.BankCode,
		"currency":       currency,
	}

	return call[Recipient](ctx, c, http.MethodPost, "/transferrecipient", nil, body)
}

func (c *PaystackClient) InitiateTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	reason := req.Reason
	if reason == "" {
		reason = defaultTransferReason
	}

	body := map[string]interface{}{
		"source":    "balance",
		"amount":    req.Amount,
		"reference": req.Reference,
		"recipient": req.RecipientCode,
		"reason":    reason,
	}

	return call[TransferResult](ctx, c, http.MethodPost, "/transfer", nil, body)
}

// VerifyTransfer looks up a payout by the reference it was initiated with.
// A reference the provider never saw is a NotFound error.
func (c *PaystackClient) VerifyTransfer(ctx context.Context, reference string) (*TransferResult, error) {
	return call[TransferResult](ctx, c, http.MethodGet, "/transfer/verify/"+url.PathEscape(reference), nil, nil)
}

// call performs one API request and unwraps the response envelope. Provider
// rejections (4xx or status=false) are Expected errors carrying the provider
// message, except 404 which is NotFound. Transport failures and 5xx are
// Infrastructure errors.
func call[T any](ctx context.Context, c *PaystackClient, method, path string, query url.Values, body interface{}) (*T, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, shared.Infrastructure("failed to encode payment request", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, shared.Infrastructure("failed to build payment request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Payment provider request failed", "method", method, "path", path, "error", err)
		return nil, shared.Infrastructure("payment provider unavailable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, shared.Infrastructure("failed to read payment provider response", err)
	}

	var out envelope[T]
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode >= http.StatusInternalServerError {
		c.logger.Error("Payment provider error",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
		)
		return nil, shared.Infrastructure("payment provider error", fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode))
	}

	if resp.StatusCode >= http.StatusBadRequest || (decodeErr == nil && !out.Status) {
		message := out.Message
		if message == "" {
			message = fmt.Sprintf("payment provider rejected request (status %d)", resp.StatusCode)
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, shared.NotFound(message)
		}
		c.logger.Warn("Payment provider rejected request",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
			"message", message,
		)
		return nil, shared.Expected(message)
	}

	if decodeErr != nil {
		return nil, shared.Infrastructure("failed to decode payment provider response", decodeErr)
	}

	return &out.Data, nil
}
