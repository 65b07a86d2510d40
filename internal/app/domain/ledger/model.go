// Package ledger models the per-profile balance record.
package ledger

import (
	"time"

	lederr "github.com/mypts-network/ledger/internal/errors"
)

// ProfileLedger tracks a profile's balance and lifetime counters. Records are
// created lazily on first credit and never deleted. Balance never goes
// negative; the counters update atomically with the balance.
type ProfileLedger struct {
	ProfileID         string
	Balance           int64
	LifetimeEarned    int64
	LifetimeSpent     int64
	LastTransactionAt time.Time
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Credit adds MyPts to the balance.
func (l *ProfileLedger) Credit(amount int64, at time.Time) {
	l.Balance += amount
	l.LifetimeEarned += amount
	l.LastTransactionAt = at
}

// Debit removes MyPts from the balance, rejecting overdrafts.
func (l *ProfileLedger) Debit(amount int64, at time.Time) error {
	if l.Balance < amount {
		return &lederr.InsufficientBalanceError{
			ProfileID: l.ProfileID,
			Available: l.Balance,
			Requested: amount,
		}
	}
	l.Balance -= amount
	l.LifetimeSpent += amount
	l.LastTransactionAt = at
	return nil
}
