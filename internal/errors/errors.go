// Package errors defines the typed error taxonomy shared by the ledger
// services. Callers are expected to match with errors.As / errors.Is and map
// each class to a transport status at the edge.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the storage layer.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates an optimistic concurrency check failed.
	// Operations hitting it are retried a bounded number of times.
	ErrVersionConflict = errors.New("version conflict")
)

// ValidationError rejects malformed or missing input before any mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// NewValidation builds a ValidationError.
func NewValidation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// InsufficientBalanceError rejects a debit that would drive a profile balance
// negative. Raised before any mutation commits.
type InsufficientBalanceError struct {
	ProfileID string
	Available int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for profile %s: available %d, requested %d",
		e.ProfileID, e.Available, e.Requested)
}

// InvalidActivityError rejects an earn request for an unknown activity type or
// one with a non-positive reward.
type InvalidActivityError struct {
	ActivityType string
}

func (e *InvalidActivityError) Error() string {
	return fmt.Sprintf("invalid earn activity %q", e.ActivityType)
}

// DuplicateRewardError rejects a repeat earn for a uniqueness-constrained
// activity, keyed on (profile, activity, reference).
type DuplicateRewardError struct {
	ProfileID    string
	ActivityType string
	ReferenceID  string
}

func (e *DuplicateRewardError) Error() string {
	return fmt.Sprintf("reward %s already granted to profile %s (reference %s)",
		e.ActivityType, e.ProfileID, e.ReferenceID)
}

// HubCapacityError indicates a hub pool cannot cover a requested movement.
// Orchestrator operations self-heal via issuance; if it still surfaces the hub
// accounting is inconsistent and the error is treated as an internal fault.
type HubCapacityError struct {
	Pool      string
	Available int64
	Requested int64
}

func (e *HubCapacityError) Error() string {
	return fmt.Sprintf("hub pool %s cannot cover movement: available %d, requested %d",
		e.Pool, e.Available, e.Requested)
}

// ExternalPaymentError wraps a payment gateway failure. A failed buy
// confirmation fails the transaction; a failed payout on an approved sell is
// downgraded to a manual settlement instead.
type ExternalPaymentError struct {
	Op            string
	GatewayStatus string
	Err           error
}

func (e *ExternalPaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment gateway %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("payment gateway %s returned status %q", e.Op, e.GatewayStatus)
}

func (e *ExternalPaymentError) Unwrap() error { return e.Err }
