package mypts

import (
	"context"
	"errors"
	"testing"

	"github.com/mypts-network/ledger/internal/app/domain/transaction"
	lederr "github.com/mypts-network/ledger/internal/errors"
)

func TestSellReservesWithoutMutation(t *testing.T) {
	f := newFixture(t, 1_000)
	ctx := context.Background()

	if _, err := f.svc.Award(ctx, "p1", 100, "seed", "admin-1"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	before, _ := f.hub.State(ctx)

	res, err := f.svc.Sell(ctx, "p1", 60, "bank_transfer", map[string]string{"destination": "acct_1"})
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if res.Transaction.Status != transaction.StatusReserved || res.Transaction.Amount != -60 {
		t.Fatalf("unexpected transaction: %+v", res.Transaction)
	}
	// BalanceAfter snapshots the pre-effect balance while RESERVED.
	if res.Transaction.BalanceAfter != 100 || res.NewBalance != 100 {
		t.Fatalf("sell mutated balance: %+v", res)
	}
	if res.Transaction.Metadata.Payout == nil || res.Transaction.Metadata.Payout.AccountDetails["destination"] != "acct_1" {
		t.Fatalf("payout instruction missing: %+v", res.Transaction.Metadata)
	}

	pl, _ := f.svc.Balance(ctx, "p1")
	if pl.Balance != 100 {
		t.Fatalf("sell debited at request time: %d", pl.Balance)
	}
	after, _ := f.hub.State(ctx)
	if after != before {
		t.Fatalf("sell moved supply: %+v vs %+v", after, before)
	}
}

func TestSellRejectsInsufficientBalance(t *testing.T) {
	f := newFixture(t, 1_000)
	ctx := context.Background()

	if _, err := f.svc.Award(ctx, "p1", 50, "seed", "admin-1"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := f.svc.Sell(ctx, "p1", 51, "bank_transfer", map[string]string{"destination": "acct_1"})
	var insufficient *lederr.InsufficientBalanceError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientBalanceError, got %v", err)
	}
	if insufficient.Available != 50 || insufficient.Requested != 51 {
		t.Fatalf("unexpected detail: %+v", insufficient)
	}
}

func TestSellValidatesPayoutInstruction(t *testing.T) {
	f := newFixture(t, 1_000)
	ctx := context.Background()

	var vErr *lederr.ValidationError
	if _, err := f.svc.Sell(ctx, "p1", 10, "", map[string]string{"destination": "x"}); !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for method, got %v", err)
	}
	if _, err := f.svc.Sell(ctx, "p1", 10, "bank_transfer", nil); !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError for account details, got %v", err)
	}
}

func TestMultipleSellsCanOvercommitBalance(t *testing.T) {
	f := newFixture(t, 1_000)
	ctx := context.Background()

	if _, err := f.svc.Award(ctx, "p1", 100, "seed", "admin-1"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Reservations are advisory; both requests pass the request-time check.
	// The binding check happens at settlement.
	for i := 0; i < 2; i++ {
		if _, err := f.svc.Sell(ctx, "p1", 80, "bank_transfer", map[string]string{"destination": "acct_1"}); err != nil {
			t.Fatalf("sell %d: %v", i, err)
		}
	}

	reserved, err := f.store.ListTransactionsByStatus(ctx, transaction.TypeSell, transaction.StatusReserved, 0)
	if err != nil {
		t.Fatalf("list reserved: %v", err)
	}
	if len(reserved) != 2 {
		t.Fatalf("expected 2 reserved sells, got %d", len(reserved))
	}
}
