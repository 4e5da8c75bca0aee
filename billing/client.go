package billing

import (
	"fmt"
	"time"
)

// =============================================================================
// CLIENT - A managed client with an effective-dated fee schedule
// =============================================================================

type ClientType string

const (
	ClientCorporate  ClientType = "corporate"
	ClientIndividual ClientType = "individual"
)

type BillingFrequency string

const (
	// BillMonthly bills one calendar month per unit, in arrears.
	BillMonthly BillingFrequency = "monthly"
	// BillYearly bills one anniversary year per invoice, anchored to the
	// client's management start date.
	BillYearly BillingFrequency = "yearly"
)

// Client is a billable client. The current management fee is never stored as
// a separate mutable field: it is always FeeHistory resolved at "today",
// which keeps the fee and its history from drifting apart.
type Client struct {
	ID               string
	Name             string
	Type             ClientType
	BillingFrequency BillingFrequency

	// ManagementStartDate anchors the first billable month (monthly) or
	// the anniversary year (yearly).
	ManagementStartDate Date

	// FeeHistory is the append-only, effective-dated fee schedule.
	// Entries are strictly ascending by EffectiveFrom.
	FeeHistory FeeSchedule

	// LastInvoicedPeriodEnd is the last period end through which an
	// invoice has been issued. Nil if never invoiced. Advanced only by
	// committed generation, inside the same store transaction as the
	// invoice write.
	LastInvoicedPeriodEnd *Date

	// LastPaidPeriodEnd is the last period end confirmed paid. May lag
	// LastInvoicedPeriodEnd. Advanced only by payment recording.
	LastPaidPeriodEnd *Date

	// SetupFee is a one-time onboarding fee, invoiced separately from the
	// recurring management fee. Zero means no setup fee.
	SetupFee int64

	// HasInvoicedSetup flips once the setup fee has been invoiced.
	HasInvoicedSetup bool

	// Version is the optimistic concurrency token. Every successful store
	// write increments it; writers that read a stale version fail with
	// ErrConcurrentModification.
	Version int64

	CreatedAt time.Time
}

// Validate checks the client's construction-time invariants.
func (c *Client) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("client id is required")
	}
	if c.Name == "" {
		return fmt.Errorf("client name is required")
	}
	switch c.Type {
	case ClientCorporate, ClientIndividual:
	default:
		return fmt.Errorf("invalid client type %q", c.Type)
	}
	switch c.BillingFrequency {
	case BillMonthly, BillYearly:
	default:
		return fmt.Errorf("invalid billing frequency %q", c.BillingFrequency)
	}
	if c.ManagementStartDate.IsZero() {
		return fmt.Errorf("management start date is required")
	}
	if c.SetupFee < 0 {
		return fmt.Errorf("setup fee must be non-negative")
	}
	return c.FeeHistory.Validate()
}

// CurrentFee resolves the fee in effect today. Returns ErrNoFeeApplicable if
// the schedule is empty or starts in the future.
func (c *Client) CurrentFee() (int64, error) {
	entry, err := c.FeeHistory.ResolveAt(Today())
	if err != nil {
		return 0, err
	}
	return entry.Amount, nil
}

// ChangeBillingFrequency switches the billing cadence. Allowed only while
// the client has never been invoiced or the invoiced marker sits on a month
// end: a yearly cadence leaves mid-month markers, and handing one to the
// monthly resolver would cover days that have already been billed.
func (c *Client) ChangeBillingFrequency(to BillingFrequency) error {
	switch to {
	case BillMonthly, BillYearly:
	default:
		return fmt.Errorf("invalid billing frequency %q", to)
	}
	if to == c.BillingFrequency {
		return nil
	}
	if m := c.LastInvoicedPeriodEnd; m != nil && !m.Equal(MonthOf(*m).End()) {
		return fmt.Errorf("%w: last invoiced period ends %s", ErrFrequencyChangeNotAllowed, m)
	}
	c.BillingFrequency = to
	return nil
}

// ChangeFee appends a new fee entry. The effective date must be strictly
// after the latest existing entry; the schedule only grows forward.
func (c *Client) ChangeFee(amount int64, effectiveFrom Date, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("fee amount must be positive")
	}
	if effectiveFrom.IsZero() {
		return fmt.Errorf("effective date is required")
	}
	if latest, ok := c.FeeHistory.Latest(); ok && !effectiveFrom.After(latest.EffectiveFrom) {
		return fmt.Errorf("%w: %s is not after %s",
			ErrFeeChangeOutOfOrder, effectiveFrom, latest.EffectiveFrom)
	}
	c.FeeHistory = append(c.FeeHistory, FeeEntry{
		Amount:        amount,
		EffectiveFrom: effectiveFrom,
		Reason:        reason,
	})
	return nil
}
