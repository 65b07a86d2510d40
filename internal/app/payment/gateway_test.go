package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	lederr "github.com/mypts-network/ledger/internal/errors"
)

func TestNormalizeIntentStatus(t *testing.T) {
	cases := map[string]IntentStatus{
		"succeeded":               IntentSucceeded,
		"SUCCESS":                 IntentSucceeded,
		"requires_action":         IntentRequiresAction,
		"requires_confirmation":   IntentRequiresAction,
		"requires_source_action":  IntentRequiresAction,
		"failed":                  IntentFailed,
		"canceled":                IntentFailed,
		"cancelled":               IntentFailed,
		"requires_payment_method": IntentFailed,
		"  succeeded  ":           IntentSucceeded,
		"weird_new_state":         IntentUnknown,
		"":                        IntentUnknown,
	}
	for raw, want := range cases {
		if got := NormalizeIntentStatus(raw); got != want {
			t.Errorf("NormalizeIntentStatus(%q) = %s, want %s", raw, got, want)
		}
	}
}

func TestNormalizePayoutStatus(t *testing.T) {
	cases := map[string]PayoutStatus{
		"paid":       PayoutPaid,
		"succeeded":  PayoutPaid,
		"pending":    PayoutPending,
		"in_transit": PayoutPending,
		"processing": PayoutPending,
		"failed":     PayoutFailed,
		"cancelled":  PayoutFailed,
		"surprise":   PayoutUnknown,
	}
	for raw, want := range cases {
		if got := NormalizePayoutStatus(raw); got != want {
			t.Errorf("NormalizePayoutStatus(%q) = %s, want %s", raw, got, want)
		}
	}
}

func TestCreatePaymentIntent(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(intentResponse{ID: "pi_1", ClientSecret: "pi_1_secret", Status: "requires_confirmation"})
	}))
	defer server.Close()

	g := NewHTTPGateway(HTTPGatewayConfig{BaseURL: server.URL + "/", APIKey: "sk_test"})
	intent, err := g.CreatePaymentIntent(context.Background(), 1200, "usd", map[string]string{"transaction_id": "t1"})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.ID != "pi_1" || intent.Status != IntentRequiresAction || intent.ClientSecret != "pi_1_secret" {
		t.Fatalf("unexpected intent: %+v", intent)
	}
	if gotAuth != "Bearer sk_test" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}
	if gotPath != "/v1/payment_intents" {
		t.Fatalf("unexpected path: %q", gotPath)
	}
	if gotBody["amount"].(float64) != 1200 || gotBody["currency"] != "usd" {
		t.Fatalf("unexpected payload: %+v", gotBody)
	}
}

func TestConfirmPaymentIntentSendsMethod(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(intentResponse{ID: "pi_1", Status: "succeeded"})
	}))
	defer server.Close()

	g := NewHTTPGateway(HTTPGatewayConfig{BaseURL: server.URL})
	intent, err := g.ConfirmPaymentIntent(context.Background(), "pi_1", "pm_9")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if intent.Status != IntentSucceeded {
		t.Fatalf("unexpected status: %s", intent.Status)
	}
	if gotPath != "/v1/payment_intents/pi_1/confirm" {
		t.Fatalf("unexpected path: %q", gotPath)
	}
	if gotBody["payment_method"] != "pm_9" {
		t.Fatalf("payment method not forwarded: %+v", gotBody)
	}
}

func TestDoRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(payoutResponse{ID: "po_1", Status: "paid"})
	}))
	defer server.Close()

	g := NewHTTPGateway(HTTPGatewayConfig{BaseURL: server.URL, MaxRetries: 2})
	payout, err := g.CreatePayout(context.Background(), 144, "usd", "acct_1", nil)
	if err != nil {
		t.Fatalf("payout after retry: %v", err)
	}
	if payout.ID != "po_1" || payout.Status != PayoutPaid {
		t.Fatalf("unexpected payout: %+v", payout)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestDoDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"error":"no such payment method"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	g := NewHTTPGateway(HTTPGatewayConfig{BaseURL: server.URL, MaxRetries: 3})
	_, err := g.ConfirmPaymentIntent(context.Background(), "pi_1", "pm_bad")
	var external *lederr.ExternalPaymentError
	if !errors.As(err, &external) {
		t.Fatalf("expected ExternalPaymentError, got %v", err)
	}
	if !strings.Contains(err.Error(), "400") {
		t.Fatalf("status not surfaced: %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("client error retried: %d calls", calls)
	}
}

func TestDoGivesUpAfterRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	g := NewHTTPGateway(HTTPGatewayConfig{BaseURL: server.URL, MaxRetries: 1, Timeout: 5 * time.Second})
	if _, err := g.GetBalance(context.Background()); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestGetBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"available":[{"currency":"usd","amount":52300},{"currency":"eur","amount":110}]}`))
	}))
	defer server.Close()

	g := NewHTTPGateway(HTTPGatewayConfig{BaseURL: server.URL})
	entries, err := g.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if len(entries) != 2 || entries[0].Currency != "usd" || entries[0].Amount != 52300 {
		t.Fatalf("unexpected balance: %+v", entries)
	}
}

func TestDisabledGatewayRejectsEverything(t *testing.T) {
	g := Disabled{}
	var external *lederr.ExternalPaymentError
	if _, err := g.CreatePaymentIntent(context.Background(), 1, "usd", nil); !errors.As(err, &external) {
		t.Fatalf("expected ExternalPaymentError, got %v", err)
	}
	if _, err := g.CreatePayout(context.Background(), 1, "usd", "x", nil); !errors.As(err, &external) {
		t.Fatalf("expected ExternalPaymentError, got %v", err)
	}
}
