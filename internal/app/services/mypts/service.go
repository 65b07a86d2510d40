// Package mypts implements the transaction orchestrator: every user-facing
// MyPts operation as one atomic unit over the profile ledger, the hub supply
// and the transaction log.
package mypts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	domainhub "github.com/mypts-network/ledger/internal/app/domain/hub"
	"github.com/mypts-network/ledger/internal/app/domain/ledger"
	"github.com/mypts-network/ledger/internal/app/domain/transaction"
	"github.com/mypts-network/ledger/internal/app/metrics"
	"github.com/mypts-network/ledger/internal/app/notify"
	"github.com/mypts-network/ledger/internal/app/payment"
	hubsvc "github.com/mypts-network/ledger/internal/app/services/hub"
	"github.com/mypts-network/ledger/internal/app/storage"
	lederr "github.com/mypts-network/ledger/internal/errors"
	"github.com/mypts-network/ledger/pkg/logger"
)

// maxTxAttempts bounds optimistic-concurrency retries per operation.
const maxTxAttempts = 3

// Result is the outcome of a ledger operation.
type Result struct {
	Transaction transaction.Transaction
	NewBalance  int64
}

// Service is the transaction orchestrator.
type Service struct {
	store    storage.Store
	hub      *hubsvc.Service
	gateway  payment.Gateway
	notifier notify.Dispatcher
	currency string
	log      *logger.Logger
}

// New constructs the orchestrator.
func New(store storage.Store, hubSvc *hubsvc.Service, gateway payment.Gateway,
	notifier notify.Dispatcher, currency string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("mypts")
	}
	if gateway == nil {
		gateway = payment.Disabled{}
	}
	if currency == "" {
		currency = "usd"
	}
	return &Service{
		store:    store,
		hub:      hubSvc,
		gateway:  gateway,
		notifier: notifier,
		currency: currency,
		log:      log,
	}
}

// Earn credits a fixed activity reward. Uniqueness-constrained activities
// reject repeats keyed on (profile, activity, reference).
func (s *Service) Earn(ctx context.Context, profileID, activityType, referenceID string) (Result, error) {
	profileID = strings.TrimSpace(profileID)
	activityType = strings.TrimSpace(activityType)
	if profileID == "" {
		return Result{}, lederr.NewValidation("profile_id", "is required")
	}
	reward, ok := RewardFor(activityType)
	if !ok || reward.Amount <= 0 {
		return Result{}, &lederr.InvalidActivityError{ActivityType: activityType}
	}

	var (
		res      Result
		hubState domainhub.State
	)
	err := s.withRetry(ctx, func(ctx context.Context, tx storage.TxStore) error {
		if reward.Unique {
			_, err := tx.FindEarnByReference(ctx, profileID, activityType, referenceID)
			if err == nil {
				return &lederr.DuplicateRewardError{
					ProfileID:    profileID,
					ActivityType: activityType,
					ReferenceID:  referenceID,
				}
			}
			if !errors.Is(err, lederr.ErrNotFound) {
				return err
			}
		}

		txnID := uuid.NewString()
		reason := "earn " + activityType
		if err := s.hub.EnsureReserve(ctx, tx, reward.Amount, reason, ""); err != nil {
			return err
		}
		state, err := s.hub.MoveToCirculation(ctx, tx, reward.Amount, reason, "", txnID)
		if err != nil {
			return err
		}

		pl, err := creditLedger(ctx, tx, profileID, reward.Amount)
		if err != nil {
			return err
		}

		txn, err := tx.CreateTransaction(ctx, transaction.Transaction{
			ID:           txnID,
			ProfileID:    profileID,
			Type:         transaction.TypeEarn,
			Amount:       reward.Amount,
			BalanceAfter: pl.Balance,
			Status:       transaction.StatusCompleted,
			ReferenceID:  referenceID,
			Metadata: transaction.Metadata{
				Earn: &transaction.EarnDetails{ActivityType: activityType},
			},
		})
		if err != nil {
			return err
		}

		res = Result{Transaction: txn, NewBalance: pl.Balance}
		hubState = state
		return nil
	})
	if err != nil {
		metrics.RecordOperation("earn", "rejected")
		return Result{}, err
	}

	metrics.RecordOperation("earn", "completed")
	metrics.ObserveHub(hubState)
	notify.Async(s.notifier, s.log, []string{profileID}, res.Transaction)
	s.log.WithField("profile_id", profileID).
		WithField("activity", activityType).
		WithField("amount", reward.Amount).
		Info("mypts earned")
	return res, nil
}

// Award is the admin-only credit. The reserve self-heals from holding and
// issuance as needed before the circulation move.
func (s *Service) Award(ctx context.Context, profileID string, amount int64, reason, adminID string) (Result, error) {
	if err := validateAmount(profileID, amount); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(adminID) == "" {
		return Result{}, lederr.NewValidation("admin_id", "is required")
	}

	var (
		res      Result
		hubState domainhub.State
	)
	err := s.withRetry(ctx, func(ctx context.Context, tx storage.TxStore) error {
		txnID := uuid.NewString()
		if err := s.hub.EnsureReserve(ctx, tx, amount, "admin award", adminID); err != nil {
			return err
		}
		state, err := s.hub.MoveToCirculation(ctx, tx, amount, "admin award", adminID, txnID)
		if err != nil {
			return err
		}

		pl, err := creditLedger(ctx, tx, profileID, amount)
		if err != nil {
			return err
		}

		txn, err := tx.CreateTransaction(ctx, transaction.Transaction{
			ID:           txnID,
			ProfileID:    profileID,
			Type:         transaction.TypeAdjustment,
			Amount:       amount,
			BalanceAfter: pl.Balance,
			Status:       transaction.StatusCompleted,
			Metadata: transaction.Metadata{
				Adjustment: &transaction.AdjustmentDetails{AdminID: adminID, Reason: reason},
			},
		})
		if err != nil {
			return err
		}

		res = Result{Transaction: txn, NewBalance: pl.Balance}
		hubState = state
		return nil
	})
	if err != nil {
		metrics.RecordOperation("award", "rejected")
		return Result{}, err
	}

	metrics.RecordOperation("award", "completed")
	metrics.ObserveHub(hubState)
	notify.Async(s.notifier, s.log, []string{profileID}, res.Transaction)
	s.log.WithField("profile_id", profileID).
		WithField("admin_id", adminID).
		WithField("amount", amount).
		Info("mypts awarded")
	return res, nil
}

// Withdraw removes MyPts from a profile balance back to the reserve. Completes
// immediately; unlike sell there is no admin gate.
func (s *Service) Withdraw(ctx context.Context, profileID string, amount int64, reason string) (Result, error) {
	return s.withdraw(ctx, profileID, amount, reason, "", transaction.TypeWithdraw, "withdraw")
}

// AdminWithdraw is an admin-forced debit, otherwise identical to Withdraw.
func (s *Service) AdminWithdraw(ctx context.Context, profileID string, amount int64, reason, adminID string) (Result, error) {
	if strings.TrimSpace(adminID) == "" {
		return Result{}, lederr.NewValidation("admin_id", "is required")
	}
	return s.withdraw(ctx, profileID, amount, reason, adminID, transaction.TypeAdminWithdrawal, "admin_withdraw")
}

func (s *Service) withdraw(ctx context.Context, profileID string, amount int64, reason, adminID string,
	txType transaction.Type, op string) (Result, error) {

	if err := validateAmount(profileID, amount); err != nil {
		return Result{}, err
	}

	var (
		res      Result
		hubState domainhub.State
	)
	err := s.withRetry(ctx, func(ctx context.Context, tx storage.TxStore) error {
		txnID := uuid.NewString()

		pl, err := debitLedger(ctx, tx, profileID, amount)
		if err != nil {
			return err
		}

		state, err := s.hub.MoveToReserve(ctx, tx, amount, "withdrawal", adminID, txnID)
		if err != nil {
			return err
		}

		txn, err := tx.CreateTransaction(ctx, transaction.Transaction{
			ID:           txnID,
			ProfileID:    profileID,
			Type:         txType,
			Amount:       -amount,
			BalanceAfter: pl.Balance,
			Status:       transaction.StatusCompleted,
			Metadata: transaction.Metadata{
				Adjustment: &transaction.AdjustmentDetails{AdminID: adminID, Reason: reason},
			},
		})
		if err != nil {
			return err
		}

		res = Result{Transaction: txn, NewBalance: pl.Balance}
		hubState = state
		return nil
	})
	if err != nil {
		metrics.RecordOperation(op, "rejected")
		return Result{}, err
	}

	metrics.RecordOperation(op, "completed")
	metrics.ObserveHub(hubState)
	notify.Async(s.notifier, s.log, []string{profileID}, res.Transaction)
	s.log.WithField("profile_id", profileID).
		WithField("amount", amount).
		WithField("type", string(txType)).
		Info("mypts withdrawn")
	return res, nil
}

// Balance returns the profile's ledger record; profiles without one yet read
// as a zero balance.
func (s *Service) Balance(ctx context.Context, profileID string) (ledger.ProfileLedger, error) {
	pl, err := s.store.GetProfileLedger(ctx, profileID)
	if errors.Is(err, lederr.ErrNotFound) {
		return ledger.ProfileLedger{ProfileID: profileID}, nil
	}
	return pl, err
}

// Transactions returns the profile's transaction history, newest first.
func (s *Service) Transactions(ctx context.Context, profileID string, limit int) ([]transaction.Transaction, error) {
	return s.store.ListTransactions(ctx, profileID, limit)
}

// --- shared helpers ---------------------------------------------------------

func (s *Service) withRetry(ctx context.Context, fn func(ctx context.Context, tx storage.TxStore) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.store.InTx(ctx, fn)
		if !errors.Is(err, lederr.ErrVersionConflict) {
			return err
		}
		s.log.WithField("attempt", attempt).Warn("optimistic conflict, retrying operation")
	}
	return fmt.Errorf("operation failed after %d attempts: %w", maxTxAttempts, err)
}

func validateAmount(profileID string, amount int64) error {
	if strings.TrimSpace(profileID) == "" {
		return lederr.NewValidation("profile_id", "is required")
	}
	if amount <= 0 {
		return lederr.NewValidation("amount", "must be positive")
	}
	return nil
}

// creditLedger adds to a profile balance, lazily creating the record on first
// credit.
func creditLedger(ctx context.Context, tx storage.TxStore, profileID string, amount int64) (ledger.ProfileLedger, error) {
	now := time.Now().UTC()
	pl, err := tx.GetProfileLedger(ctx, profileID)
	if errors.Is(err, lederr.ErrNotFound) {
		return tx.CreateProfileLedger(ctx, ledger.ProfileLedger{
			ProfileID:         profileID,
			Balance:           amount,
			LifetimeEarned:    amount,
			LastTransactionAt: now,
		})
	}
	if err != nil {
		return ledger.ProfileLedger{}, err
	}
	pl.Credit(amount, now)
	return tx.UpdateProfileLedger(ctx, pl)
}

// debitLedger removes from a profile balance; overdrafts and missing records
// reject with InsufficientBalanceError.
func debitLedger(ctx context.Context, tx storage.TxStore, profileID string, amount int64) (ledger.ProfileLedger, error) {
	pl, err := tx.GetProfileLedger(ctx, profileID)
	if errors.Is(err, lederr.ErrNotFound) {
		return ledger.ProfileLedger{}, &lederr.InsufficientBalanceError{
			ProfileID: profileID,
			Available: 0,
			Requested: amount,
		}
	}
	if err != nil {
		return ledger.ProfileLedger{}, err
	}
	if err := pl.Debit(amount, time.Now().UTC()); err != nil {
		return ledger.ProfileLedger{}, err
	}
	return tx.UpdateProfileLedger(ctx, pl)
}
