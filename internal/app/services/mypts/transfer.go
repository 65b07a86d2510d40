package mypts

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/mypts-network/ledger/internal/app/domain/transaction"
	"github.com/mypts-network/ledger/internal/app/metrics"
	"github.com/mypts-network/ledger/internal/app/notify"
	"github.com/mypts-network/ledger/internal/app/storage"
	lederr "github.com/mypts-network/ledger/internal/errors"
)

// TransferResult pairs the two linked transaction records of a
// profile-to-profile transfer.
type TransferResult struct {
	Sent     transaction.Transaction
	Received transaction.Transaction
}

// Donate moves MyPts from one profile to another. Circulating supply is
// unchanged; the hub is not touched.
func (s *Service) Donate(ctx context.Context, fromID, toID string, amount int64, message string) (TransferResult, error) {
	return s.transfer(ctx, "donate", transferRequest{
		fromID:   fromID,
		toID:     toID,
		amount:   amount,
		sentType: transaction.TypeDonationSent,
		recvType: transaction.TypeDonationReceived,
		sentMeta: &transaction.TransferDetails{CounterpartyID: toID, Message: message},
		recvMeta: &transaction.TransferDetails{CounterpartyID: fromID, Message: message},
	})
}

// PurchaseProduct pays a seller profile for a product. Same mechanics as a
// donation, with product details on both records.
func (s *Service) PurchaseProduct(ctx context.Context, buyerID, sellerID string, amount int64, productID, productName string) (TransferResult, error) {
	return s.transfer(ctx, "purchase_product", transferRequest{
		fromID:   buyerID,
		toID:     sellerID,
		amount:   amount,
		sentType: transaction.TypePurchaseProduct,
		recvType: transaction.TypeReceiveProductPayment,
		sentMeta: &transaction.TransferDetails{
			CounterpartyID: sellerID,
			ProductID:      productID,
			ProductName:    productName,
		},
		recvMeta: &transaction.TransferDetails{
			CounterpartyID: buyerID,
			ProductID:      productID,
			ProductName:    productName,
		},
	})
}

type transferRequest struct {
	fromID   string
	toID     string
	amount   int64
	sentType transaction.Type
	recvType transaction.Type
	sentMeta *transaction.TransferDetails
	recvMeta *transaction.TransferDetails
}

// transfer debits the sender and credits the receiver atomically, recording a
// linked transaction pair that nets to zero.
func (s *Service) transfer(ctx context.Context, op string, req transferRequest) (TransferResult, error) {
	if err := validateAmount(req.fromID, req.amount); err != nil {
		return TransferResult{}, err
	}
	if strings.TrimSpace(req.toID) == "" {
		return TransferResult{}, lederr.NewValidation("to_profile_id", "is required")
	}
	if req.fromID == req.toID {
		return TransferResult{}, lederr.NewValidation("to_profile_id", "must differ from the sender")
	}

	var res TransferResult
	err := s.withRetry(ctx, func(ctx context.Context, tx storage.TxStore) error {
		sentID := uuid.NewString()
		recvID := uuid.NewString()

		sender, err := debitLedger(ctx, tx, req.fromID, req.amount)
		if err != nil {
			return err
		}
		receiver, err := creditLedger(ctx, tx, req.toID, req.amount)
		if err != nil {
			return err
		}

		sent, err := tx.CreateTransaction(ctx, transaction.Transaction{
			ID:                   sentID,
			ProfileID:            req.fromID,
			Type:                 req.sentType,
			Amount:               -req.amount,
			BalanceAfter:         sender.Balance,
			Status:               transaction.StatusCompleted,
			RelatedTransactionID: recvID,
			Metadata:             transaction.Metadata{Transfer: req.sentMeta},
		})
		if err != nil {
			return err
		}

		received, err := tx.CreateTransaction(ctx, transaction.Transaction{
			ID:                   recvID,
			ProfileID:            req.toID,
			Type:                 req.recvType,
			Amount:               req.amount,
			BalanceAfter:         receiver.Balance,
			Status:               transaction.StatusCompleted,
			RelatedTransactionID: sentID,
			Metadata:             transaction.Metadata{Transfer: req.recvMeta},
		})
		if err != nil {
			return err
		}

		res = TransferResult{Sent: sent, Received: received}
		return nil
	})
	if err != nil {
		metrics.RecordOperation(op, "rejected")
		return TransferResult{}, err
	}

	metrics.RecordOperation(op, "completed")
	notify.Async(s.notifier, s.log, []string{req.fromID, req.toID}, res.Received)
	s.log.WithField("from", req.fromID).
		WithField("to", req.toID).
		WithField("amount", req.amount).
		WithField("type", string(req.sentType)).
		Info("mypts transferred")
	return res, nil
}
