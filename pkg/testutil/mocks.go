// Package testutil provides scriptable fakes for the payment gateway and the
// notification dispatcher.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/mypts-network/ledger/internal/app/domain/transaction"
	"github.com/mypts-network/ledger/internal/app/payment"
)

// GatewayStub implements payment.Gateway with scriptable raw statuses.
type GatewayStub struct {
	mu sync.Mutex

	IntentStatus  string // raw status returned by CreatePaymentIntent
	ConfirmStatus string // raw status returned by ConfirmPaymentIntent
	PayoutStatus  string // raw status returned by CreatePayout

	FailCreate  bool
	FailConfirm bool
	FailPayout  bool

	Intents  []StubIntent
	Confirms []string
	Payouts  []StubPayout
}

// StubIntent records one CreatePaymentIntent call.
type StubIntent struct {
	ID          string
	AmountMinor int64
	Currency    string
	Metadata    map[string]string
}

// StubPayout records one CreatePayout call.
type StubPayout struct {
	ID          string
	AmountMinor int64
	Currency    string
	Destination string
}

var _ payment.Gateway = (*GatewayStub)(nil)

// NewGatewayStub returns a stub that succeeds every call.
func NewGatewayStub() *GatewayStub {
	return &GatewayStub{
		IntentStatus:  "requires_confirmation",
		ConfirmStatus: "succeeded",
		PayoutStatus:  "paid",
	}
}

func (g *GatewayStub) CreatePaymentIntent(_ context.Context, amountMinor int64, currency string, metadata map[string]string) (payment.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailCreate {
		return payment.PaymentIntent{}, fmt.Errorf("gateway unavailable")
	}
	id := fmt.Sprintf("pi_%d", len(g.Intents)+1)
	g.Intents = append(g.Intents, StubIntent{ID: id, AmountMinor: amountMinor, Currency: currency, Metadata: metadata})
	return payment.PaymentIntent{
		ID:           id,
		ClientSecret: id + "_secret",
		Status:       payment.NormalizeIntentStatus(g.IntentStatus),
		RawStatus:    g.IntentStatus,
	}, nil
}

func (g *GatewayStub) ConfirmPaymentIntent(_ context.Context, intentID, _ string) (payment.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailConfirm {
		return payment.PaymentIntent{}, fmt.Errorf("gateway unavailable")
	}
	g.Confirms = append(g.Confirms, intentID)
	return payment.PaymentIntent{
		ID:        intentID,
		Status:    payment.NormalizeIntentStatus(g.ConfirmStatus),
		RawStatus: g.ConfirmStatus,
	}, nil
}

func (g *GatewayStub) CreatePayout(_ context.Context, amountMinor int64, currency, destination string, _ map[string]string) (payment.Payout, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailPayout {
		return payment.Payout{}, fmt.Errorf("gateway unavailable")
	}
	id := fmt.Sprintf("po_%d", len(g.Payouts)+1)
	g.Payouts = append(g.Payouts, StubPayout{ID: id, AmountMinor: amountMinor, Currency: currency, Destination: destination})
	return payment.Payout{
		ID:        id,
		Status:    payment.NormalizePayoutStatus(g.PayoutStatus),
		RawStatus: g.PayoutStatus,
	}, nil
}

func (g *GatewayStub) GetBalance(context.Context) ([]payment.BalanceEntry, error) {
	return []payment.BalanceEntry{{Currency: "usd", Amount: 1_000_000}}, nil
}

// RecorderDispatcher captures notifications for assertions.
type RecorderDispatcher struct {
	mu    sync.Mutex
	Calls []RecordedNotification
}

// RecordedNotification is one captured Notify call.
type RecordedNotification struct {
	Recipients  []string
	Transaction transaction.Transaction
}

func (d *RecorderDispatcher) Notify(_ context.Context, recipients []string, tx transaction.Transaction) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, RecordedNotification{Recipients: recipients, Transaction: tx})
	return nil
}

// Count returns the number of captured notifications.
func (d *RecorderDispatcher) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Calls)
}
