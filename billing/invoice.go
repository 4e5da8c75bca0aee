package billing

import (
	"fmt"
	"time"
)

// =============================================================================
// INVOICE - Immutable record except for status/payment transitions
// =============================================================================

type InvoiceStatus string

const (
	StatusIssued    InvoiceStatus = "issued"
	StatusPaid      InvoiceStatus = "paid"
	StatusOverdue   InvoiceStatus = "overdue"
	StatusCancelled InvoiceStatus = "cancelled"
)

// ParseStatus validates a status string from an external caller.
func ParseStatus(s string) (InvoiceStatus, error) {
	switch InvoiceStatus(s) {
	case StatusIssued, StatusPaid, StatusOverdue, StatusCancelled:
		return InvoiceStatus(s), nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidStatusTransition, s)
}

type InvoiceKind string

const (
	// KindManagement is a recurring management-fee invoice.
	KindManagement InvoiceKind = "management"
	// KindSetup is the one-time onboarding fee invoice.
	KindSetup InvoiceKind = "setup"
)

// Invoice is a generated invoice record. Created exclusively by committed
// generation; immutable afterwards except for status/paidAmount transitions.
type Invoice struct {
	ID string

	// InvoiceNumber is unique and monotonic across the whole system,
	// never reused even when invoices are deleted. Zero on preview
	// drafts, which never consume sequence numbers.
	InvoiceNumber int64

	ClientID string
	// ClientName is a denormalized snapshot at issue time.
	ClientName string

	Kind InvoiceKind

	// BillingYear/BillingMonth identify the ISSUE month, which is not
	// necessarily the serviced period.
	BillingYear  int
	BillingMonth time.Month

	IssueDate Date
	DueDate   Date

	// FeeStartDate/FeeEndDate bound the serviced period (inclusive). May
	// span several calendar months for aggregated billing.
	FeeStartDate Date
	FeeEndDate   Date

	// ManagementFee is the total fee for the period.
	ManagementFee int64
	// Quantity is the number of billing units covered: months for monthly
	// clients, 1 for yearly clients and setup fees.
	Quantity int

	// AdjustmentAmount is a signed manual correction, default 0.
	AdjustmentAmount int64
	Subtotal         int64
	TaxAmount        int64
	TotalAmount      int64

	Status InvoiceStatus
	// PaidAmount is set only by the transition to paid.
	PaidAmount int64

	Notes string

	CreatedAt time.Time
}

// FormattedNumber renders the invoice number in display form, e.g.
// "INV-000042".
func (i *Invoice) FormattedNumber() string {
	return fmt.Sprintf("INV-%06d", i.InvoiceNumber)
}

// =============================================================================
// LIFECYCLE - issued -> paid / overdue / cancelled
// =============================================================================
//
//   issued  -> paid       (requires paid amount)
//   issued  -> overdue    (due date passed, no payment)
//   overdue -> paid       (late payment)
//   issued  -> cancelled
//   overdue -> cancelled
//
// paid and cancelled are terminal.

var statusTransitions = map[InvoiceStatus][]InvoiceStatus{
	StatusIssued:  {StatusPaid, StatusOverdue, StatusCancelled},
	StatusOverdue: {StatusPaid, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to InvoiceStatus) bool {
	for _, allowed := range statusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition applies a status change in place. Transitioning to paid
// requires a positive paidAmount, which is recorded on the invoice;
// paidAmount is ignored for every other target status.
func (i *Invoice) Transition(to InvoiceStatus, paidAmount int64) error {
	if !CanTransition(i.Status, to) {
		return &InvalidStatusTransitionError{From: i.Status, To: to}
	}
	if to == StatusPaid {
		if paidAmount <= 0 {
			return ErrPaidAmountRequired
		}
		i.PaidAmount = paidAmount
	}
	i.Status = to
	return nil
}

// IsOverdueAsOf reports whether an issued invoice has passed its due date.
func (i *Invoice) IsOverdueAsOf(today Date) bool {
	return i.Status == StatusIssued && i.DueDate.Before(today)
}
