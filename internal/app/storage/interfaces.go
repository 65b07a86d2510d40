// Package storage defines the persistence interfaces for the ledger engine.
package storage

import (
	"context"

	"github.com/mypts-network/ledger/internal/app/domain/hub"
	"github.com/mypts-network/ledger/internal/app/domain/ledger"
	"github.com/mypts-network/ledger/internal/app/domain/transaction"
)

// HubStore persists the hub supply singleton. Updates carry an optimistic
// version check and fail with lederr.ErrVersionConflict on a lost race.
type HubStore interface {
	GetHubState(ctx context.Context) (hub.State, error)
	CreateHubState(ctx context.Context, state hub.State) (hub.State, error)
	UpdateHubState(ctx context.Context, state hub.State) (hub.State, error)
}

// MovementStore appends to the hub movement log.
type MovementStore interface {
	CreateMovement(ctx context.Context, mv hub.Movement) (hub.Movement, error)
	ListMovements(ctx context.Context, limit int) ([]hub.Movement, error)
}

// LedgerStore persists per-profile balance records. Updates carry the same
// optimistic version check as the hub.
type LedgerStore interface {
	GetProfileLedger(ctx context.Context, profileID string) (ledger.ProfileLedger, error)
	CreateProfileLedger(ctx context.Context, pl ledger.ProfileLedger) (ledger.ProfileLedger, error)
	UpdateProfileLedger(ctx context.Context, pl ledger.ProfileLedger) (ledger.ProfileLedger, error)
}

// TransactionStore persists the transaction log.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx transaction.Transaction) (transaction.Transaction, error)
	UpdateTransaction(ctx context.Context, tx transaction.Transaction) (transaction.Transaction, error)
	GetTransaction(ctx context.Context, id string) (transaction.Transaction, error)
	ListTransactions(ctx context.Context, profileID string, limit int) ([]transaction.Transaction, error)
	ListTransactionsByStatus(ctx context.Context, txType transaction.Type, status transaction.Status, limit int) ([]transaction.Transaction, error)
	// FindEarnByReference locates a COMPLETED EARN row by its uniqueness key.
	// Returns lederr.ErrNotFound when no such reward exists.
	FindEarnByReference(ctx context.Context, profileID, activityType, referenceID string) (transaction.Transaction, error)
}

// TxStore is the operation set available inside one atomic scope.
type TxStore interface {
	HubStore
	MovementStore
	LedgerStore
	TransactionStore
}

// Store is the full persistence surface. InTx runs fn inside a single atomic
// scope: every write commits together or none do.
type Store interface {
	TxStore
	InTx(ctx context.Context, fn func(ctx context.Context, tx TxStore) error) error
}
