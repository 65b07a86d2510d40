package mypts

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/mypts-network/ledger/internal/app/domain/transaction"
	"github.com/mypts-network/ledger/internal/app/metrics"
	"github.com/mypts-network/ledger/internal/app/notify"
	lederr "github.com/mypts-network/ledger/internal/errors"
)

// Sell requests conversion of MyPts back to real money. The request only
// records a RESERVED transaction: nothing is debited and no supply moves until
// an admin approves the settlement. The balance check here is advisory; the
// binding check happens again at approval time.
func (s *Service) Sell(ctx context.Context, profileID string, amount int64, paymentMethod string, accountDetails map[string]string) (Result, error) {
	if err := validateAmount(profileID, amount); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(paymentMethod) == "" {
		return Result{}, lederr.NewValidation("payment_method", "is required")
	}
	if len(accountDetails) == 0 {
		return Result{}, lederr.NewValidation("account_details", "are required")
	}

	pl, err := s.Balance(ctx, profileID)
	if err != nil {
		return Result{}, err
	}
	if pl.Balance < amount {
		return Result{}, &lederr.InsufficientBalanceError{
			ProfileID: profileID,
			Available: pl.Balance,
			Requested: amount,
		}
	}

	details := make(map[string]string, len(accountDetails))
	for k, v := range accountDetails {
		details[k] = v
	}

	txn, err := s.store.CreateTransaction(ctx, transaction.Transaction{
		ID:           uuid.NewString(),
		ProfileID:    profileID,
		Type:         transaction.TypeSell,
		Amount:       -amount,
		BalanceAfter: pl.Balance,
		Status:       transaction.StatusReserved,
		Metadata: transaction.Metadata{
			Payout: &transaction.PayoutDetails{
				Method:         paymentMethod,
				AccountDetails: details,
			},
		},
	})
	if err != nil {
		metrics.RecordOperation("sell", "rejected")
		return Result{}, err
	}

	metrics.RecordOperation("sell", "reserved")
	notify.Async(s.notifier, s.log, []string{profileID}, txn)
	s.log.WithField("profile_id", profileID).
		WithField("amount", amount).
		WithField("transaction_id", txn.ID).
		Info("sell request reserved for settlement")
	return Result{Transaction: txn, NewBalance: pl.Balance}, nil
}
