/*
feeschedule.go - Effective-dated fee resolution

A fee schedule is an ordered log of (amount, effectiveFrom) entries. The
resolver returns the latest entry whose effective date is on or before the
lookup date (greatest lower bound).

RATE GRANULARITY:
  Entries are effective-dated to the day, but monthly billing is whole-month:
  a month containing a rate change is billed entirely at the rate effective on
  the FIRST day of that month. There is no fractional-day proration. A period
  spanning several months at different rates is split per-rate and the
  sub-totals summed into one invoice (see compositor.go).
*/
package billing

import (
	"fmt"
	"sort"
)

// FeeEntry is one effective-dated fee amount. Amount is in the smallest
// currency unit.
type FeeEntry struct {
	Amount        int64 `json:"amount"`
	EffectiveFrom Date  `json:"effective_from"`
	Reason        string `json:"reason,omitempty"`
}

// FeeSchedule is an ordered list of fee entries, ascending by EffectiveFrom.
type FeeSchedule []FeeEntry

// Validate checks ordering and amounts. An empty schedule is valid here; it
// only becomes a fault when the client is actually billed.
func (s FeeSchedule) Validate() error {
	for i, e := range s {
		if e.Amount <= 0 {
			return fmt.Errorf("fee entry %d: amount must be positive", i)
		}
		if e.EffectiveFrom.IsZero() {
			return fmt.Errorf("fee entry %d: effective date is required", i)
		}
		if i > 0 && !s[i-1].EffectiveFrom.Before(e.EffectiveFrom) {
			return fmt.Errorf("fee entry %d: effective dates must be strictly ascending", i)
		}
	}
	return nil
}

// Latest returns the entry with the greatest effective date.
func (s FeeSchedule) Latest() (FeeEntry, bool) {
	if len(s) == 0 {
		return FeeEntry{}, false
	}
	return s[len(s)-1], true
}

// ResolveAt returns the entry in effect on date d: the latest entry with
// EffectiveFrom <= d. Fails with ErrNoFeeApplicable if d precedes every
// entry or the schedule is empty.
func (s FeeSchedule) ResolveAt(d Date) (FeeEntry, error) {
	// First index whose entry is strictly after d; the answer is the one
	// before it.
	i := sort.Search(len(s), func(i int) bool {
		return s[i].EffectiveFrom.After(d)
	})
	if i == 0 {
		return FeeEntry{}, &NoFeeApplicableError{At: d}
	}
	return s[i-1], nil
}

// RateForMonth returns the rate a monthly client is billed for month m: the
// entry in effect on the first day of the month. The first billable month may
// begin before the schedule does (management starting mid-month); in that
// case the entry that becomes effective inside the month applies to the
// whole month.
func (s FeeSchedule) RateForMonth(m Month) (FeeEntry, error) {
	entry, err := s.ResolveAt(m.Start())
	if err == nil {
		return entry, nil
	}
	if len(s) > 0 && m.Contains(s[0].EffectiveFrom) {
		return s[0], nil
	}
	return FeeEntry{}, err
}
