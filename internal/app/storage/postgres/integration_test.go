package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/mypts-network/ledger/internal/app/domain/hub"
	"github.com/mypts-network/ledger/internal/app/domain/ledger"
	"github.com/mypts-network/ledger/internal/app/domain/transaction"
	"github.com/mypts-network/ledger/internal/app/storage"
	lederr "github.com/mypts-network/ledger/internal/errors"
)

// openTestDB connects to the database named by DATABASE_URL, skipping the test
// when none is configured.
func openTestDB(t *testing.T) *Store {
	t.Helper()
	_ = godotenv.Load("../../../../.env")

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("ping database: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	truncate := func() {
		db.Exec("DELETE FROM transactions")
		db.Exec("DELETE FROM profile_ledgers")
		db.Exec("DELETE FROM hub_movements")
		db.Exec("DELETE FROM hub_state")
	}
	truncate()
	t.Cleanup(func() {
		truncate()
		db.Close()
	})
	return New(db)
}

func TestIntegrationHubStateRoundTrip(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	state, err := store.CreateHubState(ctx, hub.State{
		ID:            hub.SingletonID,
		TotalSupply:   1000,
		ReserveSupply: 1000,
		ValuePerMyPt:  0.024,
	})
	if err != nil {
		t.Fatalf("create hub state: %v", err)
	}

	state.CirculatingSupply = 100
	state.ReserveSupply = 900
	updated, err := store.UpdateHubState(ctx, state)
	if err != nil {
		t.Fatalf("update hub state: %v", err)
	}
	if updated.Version != state.Version+1 {
		t.Fatalf("version not bumped: %d", updated.Version)
	}

	// A stale writer must lose.
	if _, err := store.UpdateHubState(ctx, state); !errors.Is(err, lederr.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestIntegrationTransactionLifecycle(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	err := store.InTx(ctx, func(ctx context.Context, tx storage.TxStore) error {
		if _, err := tx.CreateProfileLedger(ctx, ledger.ProfileLedger{
			ProfileID: "p1", Balance: 10, LifetimeEarned: 10,
		}); err != nil {
			return err
		}
		_, err := tx.CreateTransaction(ctx, transaction.Transaction{
			ProfileID:    "p1",
			Type:         transaction.TypeEarn,
			Amount:       10,
			BalanceAfter: 10,
			Status:       transaction.StatusCompleted,
			ReferenceID:  "friend-1",
			Metadata:     transaction.Metadata{Earn: &transaction.EarnDetails{ActivityType: "referral"}},
		})
		return err
	})
	if err != nil {
		t.Fatalf("in tx: %v", err)
	}

	found, err := store.FindEarnByReference(ctx, "p1", "referral", "friend-1")
	if err != nil {
		t.Fatalf("find earn: %v", err)
	}
	if found.Metadata.Earn == nil || found.Metadata.Earn.ActivityType != "referral" {
		t.Fatalf("metadata lost: %+v", found.Metadata)
	}

	// The partial unique index rejects a second completed reward.
	_, err = store.CreateTransaction(ctx, transaction.Transaction{
		ProfileID:   "p1",
		Type:        transaction.TypeEarn,
		Amount:      10,
		Status:      transaction.StatusCompleted,
		ReferenceID: "friend-1",
		Metadata:    transaction.Metadata{Earn: &transaction.EarnDetails{ActivityType: "referral"}},
	})
	var dup *lederr.DuplicateRewardError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateRewardError, got %v", err)
	}
}

func TestIntegrationEarnUniquenessScope(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	earn := func(activity, reference string) error {
		_, err := store.CreateTransaction(ctx, transaction.Transaction{
			ProfileID:   "p1",
			Type:        transaction.TypeEarn,
			Amount:      10,
			Status:      transaction.StatusCompleted,
			ReferenceID: reference,
			Metadata:    transaction.Metadata{Earn: &transaction.EarnDetails{ActivityType: activity}},
		})
		return err
	}

	// Repeatable activities never trip the unique index, even with a
	// repeated reference.
	if err := earn("daily_login", "2026-08-23"); err != nil {
		t.Fatalf("first daily_login: %v", err)
	}
	if err := earn("daily_login", "2026-08-23"); err != nil {
		t.Fatalf("repeat daily_login: %v", err)
	}

	// Unique activities collide on an empty reference too.
	if err := earn("profile_completion", ""); err != nil {
		t.Fatalf("first profile_completion: %v", err)
	}
	var dup *lederr.DuplicateRewardError
	if err := earn("profile_completion", ""); !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateRewardError, got %v", err)
	}
}

func TestIntegrationRollback(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	wantErr := errors.New("abort")
	err := store.InTx(ctx, func(ctx context.Context, tx storage.TxStore) error {
		if _, err := tx.CreateProfileLedger(ctx, ledger.ProfileLedger{ProfileID: "p9", Balance: 5}); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.GetProfileLedger(ctx, "p9"); !errors.Is(err, lederr.ErrNotFound) {
		t.Fatalf("rollback leaked a row: %v", err)
	}
}
