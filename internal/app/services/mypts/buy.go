package mypts

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	domainhub "github.com/mypts-network/ledger/internal/app/domain/hub"
	"github.com/mypts-network/ledger/internal/app/domain/transaction"
	"github.com/mypts-network/ledger/internal/app/metrics"
	"github.com/mypts-network/ledger/internal/app/notify"
	"github.com/mypts-network/ledger/internal/app/payment"
	"github.com/mypts-network/ledger/internal/app/storage"
	lederr "github.com/mypts-network/ledger/internal/errors"
)

// BuyResult extends Result with the gateway handshake state a client needs to
// finish payment.
type BuyResult struct {
	Result
	ClientSecret   string
	RequiresAction bool
}

// Buy purchases MyPts with real money. A PENDING transaction is recorded
// first, then a payment intent is created at the gateway. When a payment
// method is supplied the intent is confirmed in the same call; otherwise the
// client completes payment and calls FinalizeBuy. The ledger is only credited
// once the gateway reports the intent succeeded.
func (s *Service) Buy(ctx context.Context, profileID string, amount int64, paymentMethod, paymentMethodID string) (BuyResult, error) {
	if err := validateAmount(profileID, amount); err != nil {
		return BuyResult{}, err
	}
	if strings.TrimSpace(paymentMethod) == "" {
		return BuyResult{}, lederr.NewValidation("payment_method", "is required")
	}

	balance, err := s.currentBalance(ctx, profileID)
	if err != nil {
		return BuyResult{}, err
	}

	txn, err := s.store.CreateTransaction(ctx, transaction.Transaction{
		ID:           uuid.NewString(),
		ProfileID:    profileID,
		Type:         transaction.TypeBuy,
		Amount:       amount,
		BalanceAfter: balance,
		Status:       transaction.StatusPending,
		Metadata: transaction.Metadata{
			Payment: &transaction.PaymentDetails{Method: paymentMethod},
		},
	})
	if err != nil {
		return BuyResult{}, err
	}

	amountMinor, err := s.amountMinor(ctx, amount)
	if err != nil {
		return BuyResult{}, err
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, amountMinor, s.currency, map[string]string{
		"transaction_id": txn.ID,
		"profile_id":     profileID,
	})
	if err != nil {
		s.failBuy(ctx, txn, "payment intent creation failed")
		metrics.RecordOperation("buy", "failed")
		return BuyResult{}, err
	}

	txn.ReferenceID = intent.ID
	txn.Metadata.Payment.IntentID = intent.ID
	txn.Metadata.Payment.GatewayStatus = intent.RawStatus
	txn, err = s.store.UpdateTransaction(ctx, txn)
	if err != nil {
		return BuyResult{}, err
	}

	if paymentMethodID == "" {
		metrics.RecordOperation("buy", "pending")
		return BuyResult{
			Result:         Result{Transaction: txn, NewBalance: balance},
			ClientSecret:   intent.ClientSecret,
			RequiresAction: true,
		}, nil
	}

	confirmed, err := s.gateway.ConfirmPaymentIntent(ctx, intent.ID, paymentMethodID)
	if err != nil {
		s.failBuy(ctx, txn, "payment confirmation failed")
		metrics.RecordOperation("buy", "failed")
		return BuyResult{}, err
	}
	return s.settleBuy(ctx, txn, confirmed, intent.ClientSecret)
}

// FinalizeBuy confirms a still-pending buy after the client finished the
// gateway handshake.
func (s *Service) FinalizeBuy(ctx context.Context, transactionID, paymentMethodID string) (BuyResult, error) {
	txn, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return BuyResult{}, err
	}
	if txn.Type != transaction.TypeBuy {
		return BuyResult{}, lederr.NewValidation("transaction_id", "is not a buy transaction")
	}
	if txn.Status != transaction.StatusPending {
		return BuyResult{}, lederr.NewValidation("transaction_id",
			fmt.Sprintf("is %s, only pending buys can be finalized", txn.Status))
	}
	if txn.ReferenceID == "" {
		return BuyResult{}, lederr.NewValidation("transaction_id", "has no payment intent")
	}

	confirmed, err := s.gateway.ConfirmPaymentIntent(ctx, txn.ReferenceID, paymentMethodID)
	if err != nil {
		s.failBuy(ctx, txn, "payment confirmation failed")
		metrics.RecordOperation("buy", "failed")
		return BuyResult{}, err
	}
	return s.settleBuy(ctx, txn, confirmed, "")
}

// settleBuy applies the gateway's confirmed intent status to the pending
// transaction. Unknown statuses commit nothing: the buy stays PENDING until
// the gateway reports a status we recognize.
func (s *Service) settleBuy(ctx context.Context, txn transaction.Transaction, intent payment.PaymentIntent, clientSecret string) (BuyResult, error) {
	switch intent.Status {
	case payment.IntentSucceeded:
		var (
			res      Result
			hubState domainhub.State
		)
		err := s.withRetry(ctx, func(ctx context.Context, tx storage.TxStore) error {
			// Re-check inside the atomic scope: a rival finalization of the
			// same payment may have settled the buy since the pre-check.
			current, err := tx.GetTransaction(ctx, txn.ID)
			if err != nil {
				return err
			}
			if current.Status != transaction.StatusPending {
				return lederr.NewValidation("transaction_id",
					fmt.Sprintf("is %s, only pending buys can be settled", current.Status))
			}

			reason := "buy " + current.ID
			if err := s.hub.EnsureReserve(ctx, tx, current.Amount, reason, ""); err != nil {
				return err
			}
			state, err := s.hub.MoveToCirculation(ctx, tx, current.Amount, reason, "", current.ID)
			if err != nil {
				return err
			}

			pl, err := creditLedger(ctx, tx, current.ProfileID, current.Amount)
			if err != nil {
				return err
			}

			current.Status = transaction.StatusCompleted
			current.BalanceAfter = pl.Balance
			if current.Metadata.Payment == nil {
				current.Metadata.Payment = &transaction.PaymentDetails{}
			}
			current.Metadata.Payment.GatewayStatus = intent.RawStatus
			current, err = tx.UpdateTransaction(ctx, current)
			if err != nil {
				return err
			}

			res = Result{Transaction: current, NewBalance: pl.Balance}
			hubState = state
			return nil
		})
		if err != nil {
			return BuyResult{}, err
		}

		metrics.RecordOperation("buy", "completed")
		metrics.ObserveHub(hubState)
		notify.Async(s.notifier, s.log, []string{txn.ProfileID}, res.Transaction)
		s.log.WithField("profile_id", txn.ProfileID).
			WithField("amount", txn.Amount).
			WithField("transaction_id", txn.ID).
			Info("mypts purchased")
		return BuyResult{Result: res}, nil

	case payment.IntentRequiresAction:
		updated, err := s.annotateGatewayStatus(ctx, txn.ID, intent.RawStatus)
		if err != nil {
			return BuyResult{}, err
		}
		metrics.RecordOperation("buy", "pending")
		return BuyResult{
			Result:         Result{Transaction: updated, NewBalance: updated.BalanceAfter},
			ClientSecret:   clientSecret,
			RequiresAction: true,
		}, nil

	case payment.IntentFailed:
		s.failBuy(ctx, txn, intent.RawStatus)
		metrics.RecordOperation("buy", "failed")
		return BuyResult{}, &lederr.ExternalPaymentError{
			Op:            "confirm payment intent",
			GatewayStatus: intent.RawStatus,
			Err:           fmt.Errorf("gateway declined payment"),
		}

	default:
		updated, err := s.annotateGatewayStatus(ctx, txn.ID, intent.RawStatus)
		if err != nil {
			return BuyResult{}, err
		}
		s.log.WithField("transaction_id", txn.ID).
			WithField("gateway_status", intent.RawStatus).
			Warn("unrecognized gateway status, leaving buy pending")
		metrics.RecordOperation("buy", "pending")
		return BuyResult{
			Result: Result{Transaction: updated, NewBalance: updated.BalanceAfter},
		}, nil
	}
}

// annotateGatewayStatus records the raw gateway status on a buy that is still
// pending. A row settled by a rival call is returned untouched.
func (s *Service) annotateGatewayStatus(ctx context.Context, transactionID, raw string) (transaction.Transaction, error) {
	current, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return transaction.Transaction{}, err
	}
	if current.Status != transaction.StatusPending {
		return current, nil
	}
	if current.Metadata.Payment == nil {
		current.Metadata.Payment = &transaction.PaymentDetails{}
	}
	current.Metadata.Payment.GatewayStatus = raw
	return s.store.UpdateTransaction(ctx, current)
}

func (s *Service) failBuy(ctx context.Context, txn transaction.Transaction, reason string) {
	current, err := s.store.GetTransaction(ctx, txn.ID)
	if err != nil {
		s.log.WithError(err).
			WithField("transaction_id", txn.ID).
			Error("failed to mark buy transaction failed")
		return
	}
	if current.Status != transaction.StatusPending {
		return
	}
	current.Status = transaction.StatusFailed
	if current.Metadata.Payment == nil {
		current.Metadata.Payment = &transaction.PaymentDetails{}
	}
	current.Metadata.Payment.GatewayStatus = reason
	if _, err := s.store.UpdateTransaction(ctx, current); err != nil {
		s.log.WithError(err).
			WithField("transaction_id", txn.ID).
			Error("failed to mark buy transaction failed")
	}
}

// amountMinor converts a MyPts amount to the gateway's minor currency units
// at the hub's configured value per MyPt.
func (s *Service) amountMinor(ctx context.Context, amount int64) (int64, error) {
	state, err := s.store.GetHubState(ctx)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(float64(amount) * state.ValuePerMyPt * 100)), nil
}

func (s *Service) currentBalance(ctx context.Context, profileID string) (int64, error) {
	pl, err := s.Balance(ctx, profileID)
	if err != nil {
		return 0, err
	}
	return pl.Balance, nil
}
