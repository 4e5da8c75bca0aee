package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/billing"
	memstore "github.com/warp/billing-engine/billing/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine(t *testing.T) (*billing.Engine, *memstore.Memory) {
	t.Helper()
	store := memstore.NewMemory()
	engine := billing.NewEngine(store, zerolog.Nop())
	return engine, store
}

func seedClient(t *testing.T, store *memstore.Memory, c *billing.Client) {
	t.Helper()
	require.NoError(t, store.SaveClient(context.Background(), c))
}

func november() billing.Month { return billing.Month{Year: 2025, Month: time.November} }

// =============================================================================
// GENERATION TESTS
// =============================================================================

func TestGenerate_EndToEnd(t *testing.T) {
	// GIVEN: Monthly client managed since Sep 1, fee 5000 raised to 6000 in June
	// WHEN: Generating for November
	// THEN: One invoice: Sep+Oct at 6000 each, issued Nov 1, due Dec 1,
	//       marker advanced to Oct 31

	engine, store := newTestEngine(t)
	ctx := context.Background()

	c := monthlyClient(billing.NewDate(2025, time.September, 1), nil)
	c.FeeHistory = schedule(entry(5000, 2024, time.January, 1), entry(6000, 2025, time.June, 1))
	seedClient(t, store, c)

	result, err := engine.GenerateForMonth(ctx, november(), billing.GenerateOptions{})
	require.NoError(t, err)

	assert.True(t, result.Committed)
	assert.Equal(t, 1, result.Generated)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 1, result.InvoiceCount)

	invoices, err := store.ListInvoices(ctx, billing.InvoiceFilter{})
	require.NoError(t, err)
	require.Len(t, invoices, 1)

	inv := invoices[0]
	assert.Equal(t, int64(1), inv.InvoiceNumber)
	assert.Equal(t, int64(12000), inv.ManagementFee)
	assert.Equal(t, 2, inv.Quantity)
	assert.Equal(t, "2025-11-01", inv.IssueDate.String())
	assert.Equal(t, "2025-12-01", inv.DueDate.String())
	assert.Equal(t, "2025-09-01", inv.FeeStartDate.String())
	assert.Equal(t, "2025-10-31", inv.FeeEndDate.String())
	assert.Equal(t, billing.StatusIssued, inv.Status)

	stored, err := store.GetClient(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastInvoicedPeriodEnd)
	assert.Equal(t, "2025-10-31", stored.LastInvoicedPeriodEnd.String())
}

func TestGenerate_SecondRunIsIdempotent(t *testing.T) {
	// GIVEN: A client already invoiced for the target month
	// WHEN: Generating again for the same month
	// THEN: Skipped, no new invoices, marker unchanged

	engine, store := newTestEngine(t)
	ctx := context.Background()

	seedClient(t, store, monthlyClient(billing.NewDate(2025, time.September, 1), nil))

	_, err := engine.GenerateForMonth(ctx, november(), billing.GenerateOptions{})
	require.NoError(t, err)

	second, err := engine.GenerateForMonth(ctx, november(), billing.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Generated)
	assert.Equal(t, 1, second.Skipped)
	assert.Equal(t, billing.SkipAlreadyInvoiced, second.Clients[0].Reason)

	invoices, _ := store.ListInvoices(ctx, billing.InvoiceFilter{})
	assert.Len(t, invoices, 1)
}

func TestPreview_MutatesNothing(t *testing.T) {
	// GIVEN: A pending client
	// WHEN: Previewing
	// THEN: Drafts returned with invoice number 0; no invoice stored, marker
	//       untouched, sequence not consumed

	engine, store := newTestEngine(t)
	ctx := context.Background()

	c := monthlyClient(billing.NewDate(2025, time.September, 1), nil)
	seedClient(t, store, c)

	result, err := engine.PreviewForMonth(ctx, november(), billing.GenerateOptions{})
	require.NoError(t, err)
	assert.False(t, result.Committed)
	require.Equal(t, 1, result.Generated)
	require.Len(t, result.Clients[0].Invoices, 1)
	assert.Equal(t, int64(0), result.Clients[0].Invoices[0].InvoiceNumber)

	invoices, _ := store.ListInvoices(ctx, billing.InvoiceFilter{})
	assert.Empty(t, invoices)

	stored, _ := store.GetClient(ctx, c.ID)
	assert.Nil(t, stored.LastInvoicedPeriodEnd)

	// The first committed invoice still takes number 1.
	commit, err := engine.GenerateForMonth(ctx, november(), billing.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), commit.Clients[0].Invoices[0].InvoiceNumber)
}

func TestGenerate_SetupFeeInvoicedExactlyOnce(t *testing.T) {
	// GIVEN: A client with a one-time setup fee
	// WHEN: Generating two consecutive months
	// THEN: The setup invoice appears only in the first run

	engine, store := newTestEngine(t)
	ctx := context.Background()

	c := monthlyClient(billing.NewDate(2025, time.September, 1), nil)
	c.SetupFee = 30000
	seedClient(t, store, c)

	first, err := engine.GenerateForMonth(ctx, billing.Month{Year: 2025, Month: time.October}, billing.GenerateOptions{})
	require.NoError(t, err)
	require.Len(t, first.Clients[0].Invoices, 2)

	kinds := map[billing.InvoiceKind]bool{}
	for _, inv := range first.Clients[0].Invoices {
		kinds[inv.Kind] = true
	}
	assert.True(t, kinds[billing.KindManagement])
	assert.True(t, kinds[billing.KindSetup])

	stored, _ := store.GetClient(ctx, c.ID)
	assert.True(t, stored.HasInvoicedSetup)

	second, err := engine.GenerateForMonth(ctx, november(), billing.GenerateOptions{})
	require.NoError(t, err)
	require.Len(t, second.Clients[0].Invoices, 1)
	assert.Equal(t, billing.KindManagement, second.Clients[0].Invoices[0].Kind)
}

func TestGenerate_EmptyFeeHistoryIsFailure(t *testing.T) {
	// GIVEN: A pending client with no fee schedule
	// WHEN: Generating
	// THEN: Reported failed with a reason code, batch itself succeeds

	engine, store := newTestEngine(t)
	ctx := context.Background()

	bad := monthlyClient(billing.NewDate(2025, time.September, 1), nil)
	bad.ID = "c-bad"
	bad.FeeHistory = nil
	seedClient(t, store, bad)

	good := monthlyClient(billing.NewDate(2025, time.September, 1), nil)
	good.ID = "c-good"
	seedClient(t, store, good)

	result, err := engine.GenerateForMonth(ctx, november(), billing.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Generated)
	assert.Equal(t, 1, result.Failed)

	for _, cr := range result.Clients {
		if cr.ClientID == "c-bad" {
			assert.Equal(t, billing.OutcomeFailed, cr.Outcome)
			assert.Equal(t, billing.SkipNoFeeSchedule, cr.Reason)
			assert.NotEmpty(t, cr.Error)
		}
	}
}

func TestGenerate_FiltersByClientAndFrequency(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	m := monthlyClient(billing.NewDate(2025, time.September, 1), nil)
	m.ID = "c-monthly"
	seedClient(t, store, m)

	y := yearlyClient(billing.NewDate(2024, time.October, 1), nil)
	y.ID = "c-yearly"
	seedClient(t, store, y)

	result, err := engine.GenerateForMonth(ctx, november(), billing.GenerateOptions{
		Frequency: billing.BillYearly,
	})
	require.NoError(t, err)
	require.Len(t, result.Clients, 1)
	assert.Equal(t, "c-yearly", result.Clients[0].ClientID)

	result, err = engine.PreviewForMonth(ctx, november(), billing.GenerateOptions{
		ClientIDs: []string{"c-monthly"},
	})
	require.NoError(t, err)
	require.Len(t, result.Clients, 1)
	assert.Equal(t, "c-monthly", result.Clients[0].ClientID)
}

func TestGenerate_AdjustmentApplied(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	c := monthlyClient(billing.NewDate(2025, time.October, 1), nil)
	seedClient(t, store, c)

	result, err := engine.GenerateForMonth(ctx, november(), billing.GenerateOptions{
		Adjustments: map[string]int64{c.ID: -1000},
	})
	require.NoError(t, err)
	inv := result.Clients[0].Invoices[0]
	assert.Equal(t, int64(-1000), inv.AdjustmentAmount)
	assert.Equal(t, int64(5000), inv.Subtotal)
}

func TestGenerate_FrequencySwitchNeverDoubleBills(t *testing.T) {
	// GIVEN: A yearly client invoiced through mid-month 2025-03-14
	// WHEN: Switching to monthly and generating for May
	// THEN: The switch is rejected while the marker is mid-month; even with
	//       the frequency forced, the next invoice starts after the marker

	engine, store := newTestEngine(t)
	ctx := context.Background()

	c := yearlyClient(billing.NewDate(2024, time.March, 15), nil)
	seedClient(t, store, c)

	first, err := engine.GenerateForMonth(ctx, billing.Month{Year: 2025, Month: time.April}, billing.GenerateOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, first.Generated)
	firstEnd := first.Clients[0].Invoices[0].FeeEndDate
	assert.Equal(t, "2025-03-14", firstEnd.String())

	stored, err := store.GetClient(ctx, c.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, stored.ChangeBillingFrequency(billing.BillMonthly), billing.ErrFrequencyChangeNotAllowed)

	// A record written before the guard existed could still carry a
	// mid-month marker with a monthly frequency.
	stored.BillingFrequency = billing.BillMonthly
	require.NoError(t, store.SaveClient(ctx, stored))

	second, err := engine.GenerateForMonth(ctx, billing.Month{Year: 2025, Month: time.May}, billing.GenerateOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, second.Generated)

	inv := second.Clients[0].Invoices[0]
	assert.Equal(t, "2025-03-15", inv.FeeStartDate.String())
	assert.True(t, inv.FeeStartDate.After(firstEnd), "second invoice must start after the first one ends")
}

// =============================================================================
// COMMIT CONFLICT RETRY TESTS
// =============================================================================

// conflictingStore fails the first N commits with a version conflict, the
// way a concurrent writer would.
type conflictingStore struct {
	*memstore.Memory
	conflicts int
	commits   int
}

func (s *conflictingStore) CommitGeneration(ctx context.Context, req billing.CommitRequest) error {
	s.commits++
	if s.commits <= s.conflicts {
		return billing.ErrConcurrentModification
	}
	return s.Memory.CommitGeneration(ctx, req)
}

func TestGenerate_RetriesCommitConflict(t *testing.T) {
	// GIVEN: A store whose first two commits hit version conflicts
	// WHEN: Generating
	// THEN: The client succeeds within the retry bound; exactly one invoice

	mem := memstore.NewMemory()
	store := &conflictingStore{Memory: mem, conflicts: 2}
	engine := billing.NewEngine(store, zerolog.Nop())
	ctx := context.Background()

	seedClient(t, mem, monthlyClient(billing.NewDate(2025, time.September, 1), nil))

	result, err := engine.GenerateForMonth(ctx, november(), billing.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Generated)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 3, store.commits)

	invoices, err := mem.ListInvoices(ctx, billing.InvoiceFilter{})
	require.NoError(t, err)
	assert.Len(t, invoices, 1)
}

func TestGenerate_ReportsFailureWhenRetriesExhausted(t *testing.T) {
	// GIVEN: A store that conflicts on every commit
	// WHEN: Generating
	// THEN: Attempted MaxRetries+1 times, then reported failed per-client;
	//       nothing stored, marker untouched, batch itself succeeds

	mem := memstore.NewMemory()
	store := &conflictingStore{Memory: mem, conflicts: 1 << 30}
	engine := billing.NewEngine(store, zerolog.Nop())
	ctx := context.Background()

	c := monthlyClient(billing.NewDate(2025, time.September, 1), nil)
	seedClient(t, mem, c)

	result, err := engine.GenerateForMonth(ctx, november(), billing.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 0, result.Generated)
	assert.Equal(t, engine.MaxRetries+1, store.commits)

	cr := result.Clients[0]
	assert.Equal(t, billing.OutcomeFailed, cr.Outcome)
	assert.Contains(t, cr.Error, "retries exhausted")

	invoices, err := mem.ListInvoices(ctx, billing.InvoiceFilter{})
	require.NoError(t, err)
	assert.Empty(t, invoices)

	stored, err := mem.GetClient(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LastInvoicedPeriodEnd)
}

// =============================================================================
// LIFECYCLE / PAYMENT TESTS
// =============================================================================

func generateOne(t *testing.T, engine *billing.Engine, store *memstore.Memory) *billing.Invoice {
	t.Helper()
	ctx := context.Background()
	seedClient(t, store, monthlyClient(billing.NewDate(2025, time.September, 1), nil))
	result, err := engine.GenerateForMonth(ctx, november(), billing.GenerateOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, result.InvoiceCount)
	return result.Clients[0].Invoices[0]
}

func TestUpdateStatus_PaidAdvancesLastPaidMarker(t *testing.T) {
	// GIVEN: A committed management invoice
	// WHEN: Marking it paid
	// THEN: The invoice records the amount and the client's last-paid marker
	//       moves to the invoice's period end

	engine, store := newTestEngine(t)
	ctx := context.Background()
	inv := generateOne(t, engine, store)

	updated, err := engine.UpdateStatus(ctx, inv.ID, billing.StatusPaid, inv.TotalAmount)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, updated.Status)
	assert.Equal(t, inv.TotalAmount, updated.PaidAmount)

	c, err := store.GetClient(ctx, inv.ClientID)
	require.NoError(t, err)
	require.NotNil(t, c.LastPaidPeriodEnd)
	assert.Equal(t, inv.FeeEndDate.String(), c.LastPaidPeriodEnd.String())
}

func TestUpdateStatus_InvalidTransitionRejected(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	inv := generateOne(t, engine, store)

	_, err := engine.UpdateStatus(ctx, inv.ID, billing.StatusCancelled, 0)
	require.NoError(t, err)

	_, err = engine.UpdateStatus(ctx, inv.ID, billing.StatusPaid, 100)
	assert.ErrorIs(t, err, billing.ErrInvalidStatusTransition)
}

func TestMarkOverdue_SweepsPastDueIssuedInvoices(t *testing.T) {
	// GIVEN: An issued invoice due Dec 1
	// WHEN: Sweeping on Dec 2
	// THEN: Transitioned to overdue; a later paid transition still works

	engine, store := newTestEngine(t)
	ctx := context.Background()
	inv := generateOne(t, engine, store)

	marked, err := engine.MarkOverdue(ctx, billing.NewDate(2025, time.December, 2))
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	stored, _ := store.GetInvoice(ctx, inv.ID)
	assert.Equal(t, billing.StatusOverdue, stored.Status)

	// Late payment.
	updated, err := engine.UpdateStatus(ctx, inv.ID, billing.StatusPaid, inv.TotalAmount)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaid, updated.Status)

	// Nothing left to sweep.
	marked, err = engine.MarkOverdue(ctx, billing.NewDate(2025, time.December, 3))
	require.NoError(t, err)
	assert.Equal(t, 0, marked)
}

func TestMarkOverdue_NotBeforeDueDate(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	generateOne(t, engine, store)

	marked, err := engine.MarkOverdue(ctx, billing.NewDate(2025, time.December, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, marked)
}

// =============================================================================
// DELETION TESTS
// =============================================================================

func TestDeleteInvoice_CancelledOnly(t *testing.T) {
	// GIVEN: An issued invoice
	// WHEN: Deleting before and after cancelling
	// THEN: Only the cancelled invoice may be deleted; its number is never
	//       reused and the marker stays put

	engine, store := newTestEngine(t)
	ctx := context.Background()
	inv := generateOne(t, engine, store)

	err := engine.DeleteInvoice(ctx, inv.ID)
	assert.ErrorIs(t, err, billing.ErrInvoiceNotDeletable)

	_, err = engine.UpdateStatus(ctx, inv.ID, billing.StatusCancelled, 0)
	require.NoError(t, err)
	require.NoError(t, engine.DeleteInvoice(ctx, inv.ID))

	_, err = store.GetInvoice(ctx, inv.ID)
	assert.ErrorIs(t, err, billing.ErrInvoiceNotFound)

	// Marker did not roll back: regenerating the same month still skips.
	result, err := engine.GenerateForMonth(ctx, november(), billing.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)

	// The sequence moves on past the deleted number.
	n, err := store.NextInvoiceNumber(ctx)
	require.NoError(t, err)
	assert.Greater(t, n, inv.InvoiceNumber)
}

// =============================================================================
// FEE CHANGE TESTS
// =============================================================================

func TestChangeFee_PersistsAppendedEntry(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	c := monthlyClient(billing.NewDate(2025, time.January, 1), nil)
	seedClient(t, store, c)

	updated, err := engine.ChangeFee(ctx, c.ID, 8000, billing.NewDate(2026, time.January, 1), "annual review")
	require.NoError(t, err)
	require.Len(t, updated.FeeHistory, 2)
	assert.Equal(t, int64(8000), updated.FeeHistory[1].Amount)

	stored, _ := store.GetClient(ctx, c.ID)
	assert.Len(t, stored.FeeHistory, 2)
}

func TestChangeFee_BackdatedRejected(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	c := monthlyClient(billing.NewDate(2025, time.January, 1), nil)
	c.FeeHistory = schedule(entry(6000, 2025, time.June, 1))
	seedClient(t, store, c)

	_, err := engine.ChangeFee(ctx, c.ID, 7000, billing.NewDate(2025, time.March, 1), "backdated")
	assert.ErrorIs(t, err, billing.ErrFeeChangeOutOfOrder)
}
