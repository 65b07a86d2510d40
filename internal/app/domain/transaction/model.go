// Package transaction models the immutable ledger transaction log.
package transaction

import "time"

// Type classifies a balance-affecting event.
type Type string

const (
	TypeEarn                  Type = "EARN"
	TypeBuy                   Type = "BUY"
	TypeSell                  Type = "SELL"
	TypeDonationSent          Type = "DONATION_SENT"
	TypeDonationReceived      Type = "DONATION_RECEIVED"
	TypePurchaseProduct       Type = "PURCHASE_PRODUCT"
	TypeReceiveProductPayment Type = "RECEIVE_PRODUCT_PAYMENT"
	TypeAdjustment            Type = "ADJUSTMENT"
	TypeWithdraw              Type = "WITHDRAW"
	TypeAdminWithdrawal       Type = "ADMIN_WITHDRAWAL"
)

// Status is the transaction lifecycle state. COMPLETED, FAILED and REJECTED
// are terminal; terminal rows are immutable except for metadata annotations.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusReserved  Status = "RESERVED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusRejected  Status = "REJECTED"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRejected:
		return true
	}
	return false
}

// Transaction is one row of the transaction log. Amount is signed: negative
// means debit. BalanceAfter snapshots the ledger balance after the effect, or
// the pre-effect balance while the row is RESERVED. Paired transfers store
// each other's id in RelatedTransactionID and their amounts sum to zero.
type Transaction struct {
	ID                   string
	ProfileID            string
	Type                 Type
	Amount               int64
	BalanceAfter         int64
	Status               Status
	RelatedTransactionID string
	ReferenceID          string
	Metadata             Metadata
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Metadata is a typed union keyed by transaction type: exactly one variant is
// populated per row. It replaces the free-form metadata bag so each operation
// declares only the fields relevant to it.
type Metadata struct {
	Earn       *EarnDetails       `json:"earn,omitempty"`
	Payment    *PaymentDetails    `json:"payment,omitempty"`
	Payout     *PayoutDetails     `json:"payout,omitempty"`
	Transfer   *TransferDetails   `json:"transfer,omitempty"`
	Adjustment *AdjustmentDetails `json:"adjustment,omitempty"`
}

// EarnDetails records the activity behind an EARN credit.
type EarnDetails struct {
	ActivityType string `json:"activity_type"`
}

// PaymentDetails records the gateway payment intent behind a BUY.
type PaymentDetails struct {
	Method        string `json:"method"`
	IntentID      string `json:"intent_id,omitempty"`
	GatewayStatus string `json:"gateway_status,omitempty"`
}

// PayoutDetails carries the full payout instruction of a SELL and, after
// settlement, the payout outcome.
type PayoutDetails struct {
	Method           string            `json:"method"`
	AccountDetails   map[string]string `json:"account_details,omitempty"`
	PayoutID         string            `json:"payout_id,omitempty"`
	PaymentReference string            `json:"payment_reference,omitempty"`
	Notes            string            `json:"notes,omitempty"`
	ApprovedBy       string            `json:"approved_by,omitempty"`
	RejectedBy       string            `json:"rejected_by,omitempty"`
	RejectionReason  string            `json:"rejection_reason,omitempty"`
	ManualSettlement bool              `json:"manual_settlement,omitempty"`
	FailureReason    string            `json:"failure_reason,omitempty"`
}

// TransferDetails links the two sides of a donation or product purchase.
type TransferDetails struct {
	CounterpartyID string `json:"counterparty_id"`
	Message        string `json:"message,omitempty"`
	ProductID      string `json:"product_id,omitempty"`
	ProductName    string `json:"product_name,omitempty"`
}

// AdjustmentDetails records the actor and reason of an award or withdrawal.
type AdjustmentDetails struct {
	AdminID string `json:"admin_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Clone deep-copies the metadata so stored rows never alias caller memory.
func (m Metadata) Clone() Metadata {
	out := Metadata{}
	if m.Earn != nil {
		v := *m.Earn
		out.Earn = &v
	}
	if m.Payment != nil {
		v := *m.Payment
		out.Payment = &v
	}
	if m.Payout != nil {
		v := *m.Payout
		if v.AccountDetails != nil {
			details := make(map[string]string, len(v.AccountDetails))
			for k, val := range v.AccountDetails {
				details[k] = val
			}
			v.AccountDetails = details
		}
		out.Payout = &v
	}
	if m.Transfer != nil {
		v := *m.Transfer
		out.Transfer = &v
	}
	if m.Adjustment != nil {
		v := *m.Adjustment
		out.Adjustment = &v
	}
	return out
}
