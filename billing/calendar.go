/*
Package billing implements the recurring billing engine: fee schedules,
billing-period resolution, invoice composition, batch generation, and the
invoice status lifecycle.

The engine is pure domain logic over a pluggable Store. Clients are billed in
arrears: generating for target month M produces invoices that cover periods
ending no later than the last day of M-1, issued on M's issue date. The engine
never bills the same period twice; the client's last-invoiced marker is
advanced in the same store transaction that persists the invoice, guarded by
an optimistic version check.

Sub-packages:
  - billing/store: in-memory Store implementation (tests, dev)
  - store/sqlite:  production SQLite implementation
*/
package billing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INVOICE SETTINGS - Company-wide billing configuration
// =============================================================================

// InvoiceSettings is the process-wide billing configuration. It is read-only
// to the engine; the calendar functions below derive all invoice dates from it.
type InvoiceSettings struct {
	// ClosingDay is the day-of-month on which a billing month closes,
	// clamped to the last valid day of short months (31 in February
	// closes on Feb 28/29).
	ClosingDay int

	// IssueDayOffset is the number of calendar days after the closing
	// date on which the invoice is issued.
	IssueDayOffset int

	// DueDayOffset is the number of calendar days after the issue date
	// on which payment is due.
	DueDayOffset int

	// TaxRate is a flat tax rate applied to the subtotal, e.g. 0.10 for
	// 10%. Zero means no tax.
	TaxRate decimal.Decimal
}

// DefaultSettings returns the configuration used when none has been saved.
func DefaultSettings() InvoiceSettings {
	return InvoiceSettings{
		ClosingDay:     31,
		IssueDayOffset: 1,
		DueDayOffset:   30,
	}
}

// Validate checks the settings invariants.
func (s InvoiceSettings) Validate() error {
	if s.ClosingDay < 1 || s.ClosingDay > 31 {
		return fmt.Errorf("%w: closing day %d out of range 1-31", ErrInvalidSettings, s.ClosingDay)
	}
	if s.IssueDayOffset < 0 {
		return fmt.Errorf("%w: issue day offset must be non-negative", ErrInvalidSettings)
	}
	if s.DueDayOffset < 0 {
		return fmt.Errorf("%w: due day offset must be non-negative", ErrInvalidSettings)
	}
	if s.TaxRate.IsNegative() {
		return fmt.Errorf("%w: tax rate must be non-negative", ErrInvalidSettings)
	}
	return nil
}

// =============================================================================
// BILLING CALENDAR - Pure date arithmetic over (month, settings)
// =============================================================================
//
// An invoice issued for target month M covers periods that closed with month
// M-1, so its issue date is derived from M-1's closing date:
//
//   ClosingDate(M-1)  <=  IssueDate(M)  <=  DueDate(M)
//
// All three functions are monotonic non-decreasing in the target month for
// fixed settings.

// ClosingDate returns the day the given month closes for billing: the
// ClosingDay-th day, clamped to the month's length.
func ClosingDate(m Month, s InvoiceSettings) Date {
	day := s.ClosingDay
	if last := m.End().Day(); day > last {
		day = last
	}
	return NewDate(m.Year, m.Month, day)
}

// IssueDate returns the issue date for invoices generated for the target
// month: the closing date of the preceding month advanced by IssueDayOffset
// calendar days. The date is always computed from the invoice's own billing
// month, never from the serviced period.
func IssueDate(target Month, s InvoiceSettings) Date {
	return ClosingDate(target.Prev(), s).AddDays(s.IssueDayOffset)
}

// DueDate returns the payment due date: IssueDate advanced by DueDayOffset
// calendar days.
func DueDate(target Month, s InvoiceSettings) Date {
	return IssueDate(target, s).AddDays(s.DueDayOffset)
}
