// Package settlement implements the second phase of the sell flow: admin
// review of RESERVED sell transactions and the payout saga that completes or
// rejects them.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	domainhub "github.com/mypts-network/ledger/internal/app/domain/hub"
	"github.com/mypts-network/ledger/internal/app/domain/transaction"
	"github.com/mypts-network/ledger/internal/app/metrics"
	"github.com/mypts-network/ledger/internal/app/notify"
	"github.com/mypts-network/ledger/internal/app/payment"
	hubsvc "github.com/mypts-network/ledger/internal/app/services/hub"
	"github.com/mypts-network/ledger/internal/app/storage"
	lederr "github.com/mypts-network/ledger/internal/errors"
	"github.com/mypts-network/ledger/pkg/logger"
)

const maxTxAttempts = 3

// Service reviews and settles reserved sell transactions.
type Service struct {
	store    storage.Store
	hub      *hubsvc.Service
	gateway  payment.Gateway
	notifier notify.Dispatcher
	currency string
	log      *logger.Logger
}

// New constructs the settlement service.
func New(store storage.Store, hubSvc *hubsvc.Service, gateway payment.Gateway,
	notifier notify.Dispatcher, currency string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("settlement")
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

// Pending lists reserved sell transactions awaiting review, newest first.
func (s *Service) Pending(ctx context.Context, limit int) ([]transaction.Transaction, error) {
	return s.store.ListTransactionsByStatus(ctx, transaction.TypeSell, transaction.StatusReserved, limit)
}

// Approve settles a reserved sell. The seller's balance is re-validated
// against the current ledger; an insufficient balance rejects the approval
// and leaves the transaction RESERVED. The row is claimed before the payout
// so rival approvals cannot pay out twice. The payout runs before the ledger
// commit; if the gateway cannot pay, the settlement is flagged for manual
// payout and the debit still completes under the admin's approval.
func (s *Service) Approve(ctx context.Context, transactionID, adminID, paymentReference, notes string) (transaction.Transaction, error) {
	if strings.TrimSpace(adminID) == "" {
		return transaction.Transaction{}, lederr.NewValidation("admin_id", "is required")
	}

	txn, err := s.reservedSell(ctx, transactionID)
	if err != nil {
		return transaction.Transaction{}, err
	}
	amount := -txn.Amount

	pl, err := s.store.GetProfileLedger(ctx, txn.ProfileID)
	if err != nil {
		if errors.Is(err, lederr.ErrNotFound) {
			return transaction.Transaction{}, &lederr.InsufficientBalanceError{
				ProfileID: txn.ProfileID,
				Available: 0,
				Requested: amount,
			}
		}
		return transaction.Transaction{}, err
	}
	if pl.Balance < amount {
		return transaction.Transaction{}, &lederr.InsufficientBalanceError{
			ProfileID: txn.ProfileID,
			Available: pl.Balance,
			Requested: amount,
		}
	}

	// Claim the row before touching the gateway so a rival approval of the
	// same sell cannot fire a second payout.
	if err := s.claim(ctx, transactionID, adminID); err != nil {
		return transaction.Transaction{}, err
	}

	payoutID, manual, failureReason := s.runPayout(ctx, txn, amount)

	var (
		settled  transaction.Transaction
		hubState domainhub.State
	)
	err = s.withRetry(ctx, func(ctx context.Context, tx storage.TxStore) error {
		current, err := tx.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if current.Status != transaction.StatusReserved {
			return lederr.NewValidation("transaction_id",
				fmt.Sprintf("is %s, only reserved sells can be approved", current.Status))
		}

		pl, err := tx.GetProfileLedger(ctx, current.ProfileID)
		if err != nil {
			return err
		}
		if err := pl.Debit(amount, time.Now().UTC()); err != nil {
			return err
		}
		pl, err = tx.UpdateProfileLedger(ctx, pl)
		if err != nil {
			return err
		}

		state, err := s.hub.MoveToReserve(ctx, tx, amount, "sell settlement", adminID, current.ID)
		if err != nil {
			return err
		}

		current.Status = transaction.StatusCompleted
		current.BalanceAfter = pl.Balance
		if current.Metadata.Payout == nil {
			current.Metadata.Payout = &transaction.PayoutDetails{}
		}
		current.Metadata.Payout.PayoutID = payoutID
		current.Metadata.Payout.PaymentReference = paymentReference
		current.Metadata.Payout.Notes = notes
		current.Metadata.Payout.ApprovedBy = adminID
		current.Metadata.Payout.ManualSettlement = manual
		current.Metadata.Payout.FailureReason = failureReason
		current, err = tx.UpdateTransaction(ctx, current)
		if err != nil {
			return err
		}

		settled = current
		hubState = state
		return nil
	})
	if err != nil {
		s.releaseClaim(ctx, transactionID)
		metrics.RecordSettlement("approve_failed")
		return transaction.Transaction{}, err
	}

	metrics.RecordSettlement("approved")
	metrics.ObserveHub(hubState)
	notify.Async(s.notifier, s.log, []string{settled.ProfileID}, settled)
	s.log.WithField("transaction_id", settled.ID).
		WithField("admin_id", adminID).
		WithField("amount", amount).
		WithField("manual_settlement", manual).
		Info("sell settlement approved")
	return settled, nil
}

// Reject declines a reserved sell. Nothing was debited at request time, so
// the record is simply marked REJECTED.
func (s *Service) Reject(ctx context.Context, transactionID, adminID, reason string) (transaction.Transaction, error) {
	if strings.TrimSpace(adminID) == "" {
		return transaction.Transaction{}, lederr.NewValidation("admin_id", "is required")
	}

	txn, err := s.reservedSell(ctx, transactionID)
	if err != nil {
		return transaction.Transaction{}, err
	}

	txn.Status = transaction.StatusRejected
	if txn.Metadata.Payout == nil {
		txn.Metadata.Payout = &transaction.PayoutDetails{}
	}
	txn.Metadata.Payout.RejectedBy = adminID
	txn.Metadata.Payout.RejectionReason = reason
	txn, err = s.store.UpdateTransaction(ctx, txn)
	if err != nil {
		return transaction.Transaction{}, err
	}

	metrics.RecordSettlement("rejected")
	notify.Async(s.notifier, s.log, []string{txn.ProfileID}, txn)
	s.log.WithField("transaction_id", txn.ID).
		WithField("admin_id", adminID).
		Info("sell settlement rejected")
	return txn, nil
}

// runPayout attempts the gateway payout before the ledger commit. Any failure
// or ambiguous status downgrades to a manual settlement instead of blocking
// the approved debit.
func (s *Service) runPayout(ctx context.Context, txn transaction.Transaction, amount int64) (payoutID string, manual bool, failureReason string) {
	state, err := s.store.GetHubState(ctx)
	if err != nil {
		return "", true, fmt.Sprintf("hub state unavailable: %v", err)
	}
	amountMinor := int64(math.Round(float64(amount) * state.ValuePerMyPt * 100))

	var destination string
	if txn.Metadata.Payout != nil {
		destination = txn.Metadata.Payout.AccountDetails["destination"]
	}

	payout, err := s.gateway.CreatePayout(ctx, amountMinor, s.currency, destination, map[string]string{
		"transaction_id": txn.ID,
		"profile_id":     txn.ProfileID,
	})
	if err != nil {
		s.log.WithError(err).
			WithField("transaction_id", txn.ID).
			Warn("gateway payout failed, falling back to manual settlement")
		return "", true, err.Error()
	}

	switch payout.Status {
	case payment.PayoutPaid, payment.PayoutPending:
		return payout.ID, false, ""
	default:
		s.log.WithField("transaction_id", txn.ID).
			WithField("gateway_status", payout.RawStatus).
			Warn("gateway payout not confirmed, falling back to manual settlement")
		return payout.ID, true, fmt.Sprintf("gateway reported status %q", payout.RawStatus)
	}
}

// claim marks a reserved sell as being settled by adminID. A row already
// carrying a claim belongs to another in-flight approval.
func (s *Service) claim(ctx context.Context, transactionID, adminID string) error {
	return s.store.InTx(ctx, func(ctx context.Context, tx storage.TxStore) error {
		current, err := tx.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if current.Status != transaction.StatusReserved {
			return lederr.NewValidation("transaction_id",
				fmt.Sprintf("is %s, only reserved sells can be approved", current.Status))
		}
		if current.Metadata.Payout == nil {
			current.Metadata.Payout = &transaction.PayoutDetails{}
		}
		if current.Metadata.Payout.ApprovedBy != "" {
			return lederr.NewValidation("transaction_id",
				fmt.Sprintf("is already being settled by %s", current.Metadata.Payout.ApprovedBy))
		}
		current.Metadata.Payout.ApprovedBy = adminID
		_, err = tx.UpdateTransaction(ctx, current)
		return err
	})
}

// releaseClaim returns a claimed but unsettled sell to plain RESERVED so it
// can be reviewed again.
func (s *Service) releaseClaim(ctx context.Context, transactionID string) {
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.TxStore) error {
		current, err := tx.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if current.Status != transaction.StatusReserved || current.Metadata.Payout == nil {
			return nil
		}
		current.Metadata.Payout.ApprovedBy = ""
		_, err = tx.UpdateTransaction(ctx, current)
		return err
	})
	if err != nil {
		s.log.WithError(err).
			WithField("transaction_id", transactionID).
			Error("failed to release settlement claim")
	}
}

func (s *Service) reservedSell(ctx context.Context, transactionID string) (transaction.Transaction, error) {
	txn, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return transaction.Transaction{}, err
	}
	if txn.Type != transaction.TypeSell {
		return transaction.Transaction{}, lederr.NewValidation("transaction_id", "is not a sell transaction")
	}
	if txn.Status != transaction.StatusReserved {
		return transaction.Transaction{}, lederr.NewValidation("transaction_id",
			fmt.Sprintf("is %s, only reserved sells can be settled", txn.Status))
	}
	return txn, nil
}

func (s *Service) withRetry(ctx context.Context, fn func(ctx context.Context, tx storage.TxStore) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.store.InTx(ctx, fn)
		if !errors.Is(err, lederr.ErrVersionConflict) {
			return err
		}
		s.log.WithField("attempt", attempt).Warn("optimistic conflict, retrying settlement")
	}
	return fmt.Errorf("settlement failed after %d attempts: %w", maxTxAttempts, err)
}
