/*
period.go - Resolves which billing period(s) are outstanding for a client

Clients are billed in arrears: generating for target month M never includes
M itself. Monthly clients accumulate pending months when generation is
skipped; all pending months are aggregated into ONE invoice rather than one
invoice per missed month, so operational gaps do not inflate the invoice
number sequence. Yearly clients are billed exactly one anniversary year at a
time.

Re-resolving a client whose marker already covers the target month yields a
skip, not an error: generation is idempotent per period no matter how often
it is triggered.
*/
package billing

// SkipReason explains why a client produced no invoice for a run.
type SkipReason string

const (
	// SkipAlreadyInvoiced: the client's marker already covers every month
	// billable for the target.
	SkipAlreadyInvoiced SkipReason = "already_invoiced"

	// SkipNotYetDue: the client's first billable period has not completed
	// yet (management starts in or after the target month, or the
	// anniversary year is still in progress).
	SkipNotYetDue SkipReason = "not_yet_due"

	// SkipNoFeeSchedule is used as the reason code on FAILURE entries for
	// clients with no fee schedule; see orchestrator.go. It is a
	// data-integrity fault, not a silent skip.
	SkipNoFeeSchedule SkipReason = "no_fee_schedule"
)

// PendingPeriod is the closed interval [Start, End] a single invoice covers.
type PendingPeriod struct {
	Start Date
	End   Date

	// Months lists the calendar months covered, in order. Empty for
	// yearly periods.
	Months []Month

	// Quantity is the number of billing units: months for monthly
	// clients, always 1 for yearly clients.
	Quantity int
}

// ResolvePending determines the outstanding billing period for a client and
// target month. Returns (nil, reason) when there is nothing to bill; that is
// a skip, never an error.
func ResolvePending(c *Client, target Month) (*PendingPeriod, SkipReason) {
	switch c.BillingFrequency {
	case BillYearly:
		return resolveYearly(c, target)
	default:
		return resolveMonthly(c, target)
	}
}

func resolveMonthly(c *Client, target Month) (*PendingPeriod, SkipReason) {
	lastBillable := target.Prev()

	var firstPending Month
	if c.LastInvoicedPeriodEnd != nil {
		firstPending = MonthOf(c.LastInvoicedPeriodEnd.AddDays(1))
	} else {
		firstPending = MonthOf(c.ManagementStartDate)
	}

	if firstPending.After(lastBillable) {
		if c.LastInvoicedPeriodEnd != nil {
			return nil, SkipAlreadyInvoiced
		}
		return nil, SkipNotYetDue
	}

	n := MonthsBetween(firstPending, lastBillable)
	months := make([]Month, 0, n)
	for m := firstPending; !m.After(lastBillable); m = m.Next() {
		months = append(months, m)
	}

	// The period must never reach back across the marker. A mid-month
	// marker (left behind by a yearly cadence) shifts the start to the
	// first uncovered day; the month is still billed whole.
	start := firstPending.Start()
	if c.LastInvoicedPeriodEnd != nil {
		if d := c.LastInvoicedPeriodEnd.AddDays(1); d.After(start) {
			start = d
		}
	}

	return &PendingPeriod{
		Start:    start,
		End:      lastBillable.End(),
		Months:   months,
		Quantity: n,
	}, ""
}

// resolveYearly bills the single anniversary year following the marker. If
// more than one year is outstanding, each generation run advances one year;
// the next run picks up the following one.
func resolveYearly(c *Client, target Month) (*PendingPeriod, SkipReason) {
	var start Date
	if c.LastInvoicedPeriodEnd != nil {
		start = c.LastInvoicedPeriodEnd.AddDays(1)
	} else {
		start = c.ManagementStartDate
	}
	end := start.AddYears(1).AddDays(-1)

	// The year must have fully elapsed before the target month begins.
	if !end.Before(target.Start()) {
		if c.LastInvoicedPeriodEnd != nil {
			return nil, SkipAlreadyInvoiced
		}
		return nil, SkipNotYetDue
	}

	return &PendingPeriod{
		Start:    start,
		End:      end,
		Quantity: 1,
	}, ""
}
