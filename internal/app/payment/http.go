package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lederr "github.com/mypts-network/ledger/internal/errors"
)

// HTTPGatewayConfig configures the REST gateway adapter.
type HTTPGatewayConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

// HTTPGateway talks to the payment processor's REST API.
type HTTPGateway struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	maxRetries int
}

var _ Gateway = (*HTTPGateway)(nil)

// NewHTTPGateway creates a gateway adapter.
func NewHTTPGateway(cfg HTTPGatewayConfig) *HTTPGateway {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 2
	}
	return &HTTPGateway{
		client:     &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		maxRetries: maxRetries,
	}
}

type intentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

type payoutResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type balanceResponse struct {
	Available []struct {
		Currency string `json:"currency"`
		Amount   int64  `json:"amount"`
	} `json:"available"`
}

func (g *HTTPGateway) CreatePaymentIntent(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (PaymentIntent, error) {
	payload := map[string]interface{}{
		"amount":   amountMinor,
		"currency": currency,
		"metadata": metadata,
	}
	var resp intentResponse
	if err := g.do(ctx, http.MethodPost, "/v1/payment_intents", payload, &resp); err != nil {
		return PaymentIntent{}, &lederr.ExternalPaymentError{Op: "create payment intent", Err: err}
	}
	return PaymentIntent{
		ID:           resp.ID,
		ClientSecret: resp.ClientSecret,
		Status:       NormalizeIntentStatus(resp.Status),
		RawStatus:    resp.Status,
	}, nil
}

func (g *HTTPGateway) ConfirmPaymentIntent(ctx context.Context, intentID, paymentMethodID string) (PaymentIntent, error) {
	payload := map[string]interface{}{}
	if paymentMethodID != "" {
		payload["payment_method"] = paymentMethodID
	}
	var resp intentResponse
	path := fmt.Sprintf("/v1/payment_intents/%s/confirm", intentID)
	if err := g.do(ctx, http.MethodPost, path, payload, &resp); err != nil {
		return PaymentIntent{}, &lederr.ExternalPaymentError{Op: "confirm payment intent", Err: err}
	}
	return PaymentIntent{
		ID:           resp.ID,
		ClientSecret: resp.ClientSecret,
		Status:       NormalizeIntentStatus(resp.Status),
		RawStatus:    resp.Status,
	}, nil
}

func (g *HTTPGateway) CreatePayout(ctx context.Context, amountMinor int64, currency, destination string, metadata map[string]string) (Payout, error) {
	payload := map[string]interface{}{
		"amount":   amountMinor,
		"currency": currency,
		"metadata": metadata,
	}
	if destination != "" {
		payload["destination"] = destination
	}
	var resp payoutResponse
	if err := g.do(ctx, http.MethodPost, "/v1/payouts", payload, &resp); err != nil {
		return Payout{}, &lederr.ExternalPaymentError{Op: "create payout", Err: err}
	}
	return Payout{
		ID:        resp.ID,
		Status:    NormalizePayoutStatus(resp.Status),
		RawStatus: resp.Status,
	}, nil
}

func (g *HTTPGateway) GetBalance(ctx context.Context) ([]BalanceEntry, error) {
	var resp balanceResponse
	if err := g.do(ctx, http.MethodGet, "/v1/balance", nil, &resp); err != nil {
		return nil, &lederr.ExternalPaymentError{Op: "get balance", Err: err}
	}
	entries := make([]BalanceEntry, 0, len(resp.Available))
	for _, entry := range resp.Available {
		entries = append(entries, BalanceEntry{Currency: entry.Currency, Amount: entry.Amount})
	}
	return entries, nil
}

// do sends one request, retrying on transport errors and 5xx responses.
func (g *HTTPGateway) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 250 * time.Millisecond):
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if g.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+g.apiKey)
		}

		resp, err := g.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
			continue
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode gateway response: %w", err)
		}
		return nil
	}
	return lastErr
}

// Disabled is a Gateway that rejects every call; used when no gateway is
// configured so buy and settlement surface a clear error instead of a panic.
type Disabled struct{}

var _ Gateway = Disabled{}

func (Disabled) CreatePaymentIntent(context.Context, int64, string, map[string]string) (PaymentIntent, error) {
	return PaymentIntent{}, &lederr.ExternalPaymentError{Op: "create payment intent", Err: errNotConfigured}
}

func (Disabled) ConfirmPaymentIntent(context.Context, string, string) (PaymentIntent, error) {
	return PaymentIntent{}, &lederr.ExternalPaymentError{Op: "confirm payment intent", Err: errNotConfigured}
}

func (Disabled) CreatePayout(context.Context, int64, string, string, map[string]string) (Payout, error) {
	return Payout{}, &lederr.ExternalPaymentError{Op: "create payout", Err: errNotConfigured}
}

func (Disabled) GetBalance(context.Context) ([]BalanceEntry, error) {
	return nil, &lederr.ExternalPaymentError{Op: "get balance", Err: errNotConfigured}
}

var errNotConfigured = fmt.Errorf("payment gateway not configured")
