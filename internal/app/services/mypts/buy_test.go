package mypts

import (
	"context"
	"errors"
	"testing"

	"github.com/mypts-network/ledger/internal/app/domain/transaction"
	"github.com/mypts-network/ledger/internal/app/payment"
	lederr "github.com/mypts-network/ledger/internal/errors"
	"github.com/mypts-network/ledger/pkg/testutil"
)

func TestBuyCompletesOnSucceededIntent(t *testing.T) {
	f := newFixture(t, 1_000)
	ctx := context.Background()
	f.gateway.ConfirmStatus = "succeeded"

	res, err := f.svc.Buy(ctx, "p1", 500, "credit_card", "pm_123")
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if res.Transaction.Status != transaction.StatusCompleted || res.NewBalance != 500 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Transaction.Metadata.Payment.IntentID == "" {
		t.Fatalf("intent id not recorded: %+v", res.Transaction.Metadata.Payment)
	}

	// 500 MyPts at 0.024 per point is 1200 minor units.
	if len(f.gateway.Intents) != 1 || f.gateway.Intents[0].AmountMinor != 1200 {
		t.Fatalf("unexpected gateway call: %+v", f.gateway.Intents)
	}
	if got := f.circulating(t); got != 500 {
		t.Fatalf("supply not moved to circulation: %d", got)
	}
}

func TestBuyWithoutPaymentMethodStaysPending(t *testing.T) {
	f := newFixture(t, 1_000)
	ctx := context.Background()

	res, err := f.svc.Buy(ctx, "p1", 100, "credit_card", "")
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !res.RequiresAction || res.ClientSecret == "" {
		t.Fatalf("expected client handshake, got %+v", res)
	}
	if res.Transaction.Status != transaction.StatusPending {
		t.Fatalf("unexpected status: %s", res.Transaction.Status)
	}

	pl, _ := f.svc.Balance(ctx, "p1")
	if pl.Balance != 0 {
		t.Fatalf("pending buy credited balance: %d", pl.Balance)
	}
	if got := f.circulating(t); got != 0 {
		t.Fatalf("pending buy moved supply: %d", got)
	}
}

func TestFinalizeBuyCompletesPendingTransaction(t *testing.T) {
	f := newFixture(t, 1_000)
	ctx := context.Background()

	pending, err := f.svc.Buy(ctx, "p1", 100, "credit_card", "")
	if err != nil {
		t.Fatalf("buy: %v", err)
	}

	f.gateway.ConfirmStatus = "succeeded"
	res, err := f.svc.FinalizeBuy(ctx, pending.Transaction.ID, "pm_456")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if res.Transaction.Status != transaction.StatusCompleted || res.NewBalance != 100 {
		t.Fatalf("unexpected result: %+v", res)
	}

	// Finalizing again must fail: the buy is terminal.
	if _, err := f.svc.FinalizeBuy(ctx, pending.Transaction.ID, "pm_456"); err == nil {
		t.Fatal("expected error finalizing a completed buy")
	}
}

func TestBuyFailedConfirmationMarksFailed(t *testing.T) {
	f := newFixture(t, 1_000)
	ctx := context.Background()
	f.gateway.ConfirmStatus = "failed"

	_, err := f.svc.Buy(ctx, "p1", 100, "credit_card", "pm_123")
	var external *lederr.ExternalPaymentError
	if !errors.As(err, &external) {
		t.Fatalf("expected ExternalPaymentError, got %v", err)
	}

	txns, _ := f.svc.Transactions(ctx, "p1", 0)
	if len(txns) != 1 || txns[0].Status != transaction.StatusFailed {
		t.Fatalf("buy not marked failed: %+v", txns)
	}
	pl, _ := f.svc.Balance(ctx, "p1")
	if pl.Balance != 0 {
		t.Fatalf("failed buy credited balance: %d", pl.Balance)
	}
}

func TestBuyUnknownGatewayStatusDoesNotCommit(t *testing.T) {
	f := newFixture(t, 1_000)
	ctx := context.Background()
	f.gateway.ConfirmStatus = "weird_new_state"

	res, err := f.svc.Buy(ctx, "p1", 100, "credit_card", "pm_123")
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	// An unrecognized status never credits and never fails the transaction.
	if res.Transaction.Status != transaction.StatusPending {
		t.Fatalf("unknown status committed: %s", res.Transaction.Status)
	}
	pl, _ := f.svc.Balance(ctx, "p1")
	if pl.Balance != 0 {
		t.Fatalf("unknown status credited balance: %d", pl.Balance)
	}
	if got := f.circulating(t); got != 0 {
		t.Fatalf("unknown status moved supply: %d", got)
	}
}

// rivalConfirmGateway runs a rival operation during the gateway confirm call,
// after the caller's status pre-check but before its settlement.
type rivalConfirmGateway struct {
	*testutil.GatewayStub
	rival func()
}

func (g *rivalConfirmGateway) ConfirmPaymentIntent(ctx context.Context, intentID, paymentMethodID string) (payment.PaymentIntent, error) {
	if g.rival != nil {
		rival := g.rival
		g.rival = nil
		rival()
	}
	return g.GatewayStub.ConfirmPaymentIntent(ctx, intentID, paymentMethodID)
}

func TestFinalizeBuyCreditsOnceUnderRivalFinalization(t *testing.T) {
	f := newFixture(t, 1_000)
	ctx := context.Background()

	pending, err := f.svc.Buy(ctx, "p1", 100, "credit_card", "")
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	f.gateway.ConfirmStatus = "succeeded"

	// The rival finalization settles the buy while the slow caller is still
	// waiting on its confirm call.
	gateway := &rivalConfirmGateway{GatewayStub: f.gateway}
	gateway.rival = func() {
		if _, err := f.svc.FinalizeBuy(ctx, pending.Transaction.ID, "pm_rival"); err != nil {
			t.Fatalf("rival finalize: %v", err)
		}
	}
	slow := New(f.store, f.hub, gateway, &testutil.RecorderDispatcher{}, "usd", nil)

	_, err = slow.FinalizeBuy(ctx, pending.Transaction.ID, "pm_slow")
	var vErr *lederr.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError settling a completed buy, got %v", err)
	}

	pl, _ := f.svc.Balance(ctx, "p1")
	if pl.Balance != 100 {
		t.Fatalf("payment credited twice: %d", pl.Balance)
	}
	if got := f.circulating(t); got != 100 {
		t.Fatalf("supply moved twice: %d", got)
	}
	txns, _ := f.svc.Transactions(ctx, "p1", 0)
	if len(txns) != 1 || txns[0].Status != transaction.StatusCompleted {
		t.Fatalf("unexpected transaction log: %+v", txns)
	}
}

func TestBuyGatewayOutageFailsTransaction(t *testing.T) {
	f := newFixture(t, 1_000)
	ctx := context.Background()
	f.gateway.FailCreate = true

	if _, err := f.svc.Buy(ctx, "p1", 100, "credit_card", ""); err == nil {
		t.Fatal("expected gateway error")
	}
	txns, _ := f.svc.Transactions(ctx, "p1", 0)
	if len(txns) != 1 || txns[0].Status != transaction.StatusFailed {
		t.Fatalf("outage did not mark buy failed: %+v", txns)
	}
}

func TestBuyValidatesInput(t *testing.T) {
	f := newFixture(t, 1_000)
	ctx := context.Background()

	var vErr *lederr.ValidationError
	if _, err := f.svc.Buy(ctx, "p1", 0, "credit_card", ""); !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for amount, got %v", err)
	}
	if _, err := f.svc.Buy(ctx, "p1", 10, "", ""); !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for method, got %v", err)
	}
}
