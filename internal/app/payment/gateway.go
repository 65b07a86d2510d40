// Package payment defines the external payment gateway contract and its HTTP
// adapter. Gateway responses are untrusted input: every raw status passes
// through a normalizer, and anything unrecognized maps to a non-committing
// Unknown status so the ledger never assumes success.
package payment

import (
	"context"
	"strings"
)

// IntentStatus is the normalized state of a payment intent.
type IntentStatus string

const (
	IntentSucceeded      IntentStatus = "succeeded"
	IntentRequiresAction IntentStatus = "requires_action"
	IntentFailed         IntentStatus = "failed"
	IntentUnknown        IntentStatus = "unknown"
)

// PayoutStatus is the normalized state of a payout.
type PayoutStatus string

const (
	PayoutPaid    PayoutStatus = "paid"
	PayoutPending PayoutStatus = "pending"
	PayoutFailed  PayoutStatus = "failed"
	PayoutUnknown PayoutStatus = "unknown"
)

// PaymentIntent is the gateway's handle for an inbound payment.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       IntentStatus
	RawStatus    string
}

// Payout is the gateway's handle for an outbound transfer.
type Payout struct {
	ID        string
	Status    PayoutStatus
	RawStatus string
}

// BalanceEntry is one currency bucket of the gateway account balance.
type BalanceEntry struct {
	Currency string
	Amount   int64
}

// Gateway is the external payment processor contract. Amounts are in the
// gateway currency's minor units.
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (PaymentIntent, error)
	ConfirmPaymentIntent(ctx context.Context, intentID, paymentMethodID string) (PaymentIntent, error)
	CreatePayout(ctx context.Context, amountMinor int64, currency, destination string, metadata map[string]string) (Payout, error)
	GetBalance(ctx context.Context) ([]BalanceEntry, error)
}

// NormalizeIntentStatus maps a raw gateway intent status to the ledger's
// terminal vocabulary.
func NormalizeIntentStatus(raw string) IntentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "succeeded", "success":
		return IntentSucceeded
	case "requires_action", "requires_confirmation", "requires_source_action":
		return IntentRequiresAction
	case "failed", "canceled", "cancelled", "requires_payment_method":
		return IntentFailed
	default:
		return IntentUnknown
	}
}

// NormalizePayoutStatus maps a raw gateway payout status.
func NormalizePayoutStatus(raw string) PayoutStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "paid", "succeeded", "success":
		return PayoutPaid
	case "pending", "in_transit", "processing":
		return PayoutPending
	case "failed", "canceled", "cancelled":
		return PayoutFailed
	default:
		return PayoutUnknown
	}
}
