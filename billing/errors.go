/*
errors.go - Error types for the billing engine

Request-level validation errors are returned directly to the caller.
Per-client faults during batch generation are collected into the
GenerationResult instead of aborting the batch; see orchestrator.go.
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrClientNotFound is returned when a referenced client doesn't exist.
	ErrClientNotFound = errors.New("client not found")

	// ErrInvoiceNotFound is returned when a referenced invoice doesn't exist.
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrNoFeeApplicable is returned when a date precedes every fee-history
	// entry. This is a data-integrity fault: a billable client must carry a
	// schedule that covers every date it can be billed for.
	ErrNoFeeApplicable = errors.New("no fee applicable")

	// ErrEmptyFeeHistory is returned when a billable client has no fee
	// schedule at all. Also a data-integrity fault.
	ErrEmptyFeeHistory = errors.New("client has empty fee history")

	// ErrInvalidStatusTransition is returned for disallowed lifecycle moves
	// (e.g. cancelled -> paid).
	ErrInvalidStatusTransition = errors.New("invalid status transition")

	// ErrConcurrentModification is returned when the optimistic version
	// check fails during a store write. Retryable.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInvoiceNotDeletable is returned when deleting an invoice that has
	// not been cancelled. Committed invoices must be cancelled through the
	// lifecycle first; the period marker never rolls back.
	ErrInvoiceNotDeletable = errors.New("only cancelled invoices can be deleted")

	// ErrInvalidTargetMonth is returned for unparseable or out-of-range
	// generation targets.
	ErrInvalidTargetMonth = errors.New("invalid target month")

	// ErrInvalidSettings is returned for malformed invoice settings.
	ErrInvalidSettings = errors.New("invalid invoice settings")

	// ErrFeeChangeOutOfOrder is returned when a fee change is dated on or
	// before the latest existing entry. The schedule is append-only and
	// strictly ascending by effective date.
	ErrFeeChangeOutOfOrder = errors.New("fee change must be effective after the latest entry")

	// ErrPaidAmountRequired is returned when transitioning to paid without
	// a payment amount.
	ErrPaidAmountRequired = errors.New("paid amount required for paid status")

	// ErrFrequencyChangeNotAllowed is returned when switching the billing
	// frequency of a client whose invoiced marker does not sit on a month
	// boundary. A mid-month marker (left by a yearly cadence) would let the
	// monthly resolver re-bill days the marker already covers.
	ErrFrequencyChangeNotAllowed = errors.New("billing frequency change requires a month-end invoiced marker")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NoFeeApplicableError reports which client and date failed fee resolution.
type NoFeeApplicableError struct {
	ClientID string
	At       Date
}

func (e *NoFeeApplicableError) Error() string {
	return fmt.Sprintf("no fee applicable for client %s at %s", e.ClientID, e.At)
}

func (e *NoFeeApplicableError) Unwrap() error { return ErrNoFeeApplicable }

// InvalidStatusTransitionError reports the disallowed transition.
type InvalidStatusTransitionError struct {
	From InvoiceStatus
	To   InvoiceStatus
}

func (e *InvalidStatusTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

func (e *InvalidStatusTransitionError) Unwrap() error { return ErrInvalidStatusTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the operation might succeed when re-run.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidStatusTransition) ||
		errors.Is(err, ErrInvalidTargetMonth) ||
		errors.Is(err, ErrInvalidSettings) ||
		errors.Is(err, ErrFeeChangeOutOfOrder) ||
		errors.Is(err, ErrPaidAmountRequired) ||
		errors.Is(err, ErrInvoiceNotDeletable) ||
		errors.Is(err, ErrFrequencyChangeNotAllowed)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrClientNotFound) ||
		errors.Is(err, ErrInvoiceNotFound)
}

// IsDataIntegrityFault returns true for faults that indicate the stored data
// violates an engine invariant (reported per-client, never fatal to a batch).
func IsDataIntegrityFault(err error) bool {
	return errors.Is(err, ErrNoFeeApplicable) ||
		errors.Is(err, ErrEmptyFeeHistory)
}
