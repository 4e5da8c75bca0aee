/*
compositor.go - Builds unsaved invoice drafts from resolved periods

The compositor combines a pending period with the client's fee schedule:

 1. ManagementFee = sum of per-month (or per-year) amounts, each resolved at
    its sub-period's start. A month containing a rate change is billed whole
    at the rate in effect on the month's first day.
 2. Issue/due dates and the billing year/month come from the GENERATION
    target month, not from the serviced period.
 3. Subtotal = ManagementFee + adjustment; TaxAmount = TaxRate * Subtotal
    (rounded half-up to the minor unit); Total = Subtotal + TaxAmount.

When the period straddles one or more fee changes, the per-rate breakdown is
recorded in Notes so the aggregate remains auditable.
*/
package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Compose builds a management-fee invoice draft for the resolved period.
// seq may be zero for preview drafts.
func Compose(c *Client, p *PendingPeriod, target Month, settings InvoiceSettings, seq int64, adjustment int64) (*Invoice, error) {
	if len(c.FeeHistory) == 0 {
		return nil, fmt.Errorf("%w: client %s", ErrEmptyFeeHistory, c.ID)
	}

	fee, notes, err := periodFee(c, p)
	if err != nil {
		return nil, err
	}

	inv := newDraft(c, target, settings, seq)
	inv.Kind = KindManagement
	inv.FeeStartDate = p.Start
	inv.FeeEndDate = p.End
	inv.ManagementFee = fee
	inv.Quantity = p.Quantity
	inv.AdjustmentAmount = adjustment
	inv.Notes = notes
	total(inv, settings)
	return inv, nil
}

// ComposeSetup builds the one-time setup-fee invoice. Issued alongside the
// client's first recurring invoice; the serviced "period" is the management
// start date itself.
func ComposeSetup(c *Client, target Month, settings InvoiceSettings, seq int64) *Invoice {
	inv := newDraft(c, target, settings, seq)
	inv.Kind = KindSetup
	inv.FeeStartDate = c.ManagementStartDate
	inv.FeeEndDate = c.ManagementStartDate
	inv.ManagementFee = c.SetupFee
	inv.Quantity = 1
	inv.Notes = "One-time setup fee"
	total(inv, settings)
	return inv
}

func newDraft(c *Client, target Month, settings InvoiceSettings, seq int64) *Invoice {
	return &Invoice{
		ID:            uuid.NewString(),
		InvoiceNumber: seq,
		ClientID:      c.ID,
		ClientName:    c.Name,
		BillingYear:   target.Year,
		BillingMonth:  target.Month,
		IssueDate:     IssueDate(target, settings),
		DueDate:       DueDate(target, settings),
		Status:        StatusIssued,
		CreatedAt:     time.Now().UTC(),
	}
}

func total(inv *Invoice, settings InvoiceSettings) {
	inv.Subtotal = inv.ManagementFee + inv.AdjustmentAmount
	if !settings.TaxRate.IsZero() {
		tax := settings.TaxRate.Mul(decimal.NewFromInt(inv.Subtotal)).Round(0)
		inv.TaxAmount = tax.IntPart()
	}
	inv.TotalAmount = inv.Subtotal + inv.TaxAmount
}

// periodFee sums the fee over the period and renders the per-rate breakdown
// when the period straddles a fee change.
func periodFee(c *Client, p *PendingPeriod) (int64, string, error) {
	// Yearly: single unit, rate resolved at the period start.
	if len(p.Months) == 0 {
		entry, err := c.FeeHistory.ResolveAt(p.Start)
		if err != nil {
			return 0, "", &NoFeeApplicableError{ClientID: c.ID, At: p.Start}
		}
		return entry.Amount, "", nil
	}

	// Monthly: one rate per month, consecutive equal rates grouped for
	// the notes breakdown.
	type rateRun struct {
		rate  int64
		first Month
		last  Month
		n     int
	}
	var runs []rateRun
	var fee int64

	for _, m := range p.Months {
		entry, err := c.FeeHistory.RateForMonth(m)
		if err != nil {
			return 0, "", &NoFeeApplicableError{ClientID: c.ID, At: m.Start()}
		}
		fee += entry.Amount
		if len(runs) > 0 && runs[len(runs)-1].rate == entry.Amount {
			runs[len(runs)-1].last = m
			runs[len(runs)-1].n++
		} else {
			runs = append(runs, rateRun{rate: entry.Amount, first: m, last: m, n: 1})
		}
	}

	if len(runs) <= 1 {
		return fee, "", nil
	}

	parts := make([]string, len(runs))
	for i, r := range runs {
		parts[i] = fmt.Sprintf("%s..%s: %d x %d", r.first, r.last, r.n, r.rate)
	}
	return fee, "Rate change within period: " + strings.Join(parts, "; "), nil
}
