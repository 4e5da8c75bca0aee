package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/billing-engine/billing"
	"github.com/warp/billing-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testClient(id string) *billing.Client {
	return &billing.Client{
		ID:                  id,
		Name:                "Acme Corp",
		Type:                billing.ClientCorporate,
		BillingFrequency:    billing.BillMonthly,
		ManagementStartDate: billing.NewDate(2025, time.September, 1),
		FeeHistory: billing.FeeSchedule{
			{Amount: 6000, EffectiveFrom: billing.NewDate(2024, time.January, 1)},
		},
	}
}

func testInvoice(number int64, clientID string) *billing.Invoice {
	return &billing.Invoice{
		ID:            "inv-" + clientID,
		InvoiceNumber: number,
		ClientID:      clientID,
		ClientName:    "Acme Corp",
		Kind:          billing.KindManagement,
		BillingYear:   2025,
		BillingMonth:  time.November,
		IssueDate:     billing.NewDate(2025, time.November, 1),
		DueDate:       billing.NewDate(2025, time.December, 1),
		FeeStartDate:  billing.NewDate(2025, time.September, 1),
		FeeEndDate:    billing.NewDate(2025, time.October, 31),
		ManagementFee: 12000,
		Quantity:      2,
		Subtotal:      12000,
		TotalAmount:   12000,
		Status:        billing.StatusIssued,
		CreatedAt:     time.Now().UTC(),
	}
}

// =============================================================================
// CLIENT CAS TESTS
// =============================================================================

func TestSaveClient_RoundTrip(t *testing.T) {
	// GIVEN: A new client
	// WHEN: Inserting then reading back
	// THEN: All fields survive, version starts at 1

	store := newTestStore(t)
	ctx := context.Background()

	c := testClient("c-1")
	require.NoError(t, store.SaveClient(ctx, c))
	assert.Equal(t, int64(1), c.Version)

	got, err := store.GetClient(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, c.Name, got.Name)
	assert.Equal(t, billing.BillMonthly, got.BillingFrequency)
	assert.Equal(t, "2025-09-01", got.ManagementStartDate.String())
	require.Len(t, got.FeeHistory, 1)
	assert.Equal(t, int64(6000), got.FeeHistory[0].Amount)
	assert.Nil(t, got.LastInvoicedPeriodEnd)
	assert.Equal(t, int64(1), got.Version)
}

func TestSaveClient_StaleVersionRejected(t *testing.T) {
	// GIVEN: Two readers holding the same version
	// WHEN: Both write
	// THEN: The second write fails with a version conflict

	store := newTestStore(t)
	ctx := context.Background()

	c := testClient("c-1")
	require.NoError(t, store.SaveClient(ctx, c))

	a, _ := store.GetClient(ctx, "c-1")
	b, _ := store.GetClient(ctx, "c-1")

	a.Name = "First Writer"
	require.NoError(t, store.SaveClient(ctx, a))

	b.Name = "Second Writer"
	err := store.SaveClient(ctx, b)
	assert.ErrorIs(t, err, billing.ErrConcurrentModification)

	got, _ := store.GetClient(ctx, "c-1")
	assert.Equal(t, "First Writer", got.Name)
}

func TestGetClient_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetClient(context.Background(), "nope")
	assert.ErrorIs(t, err, billing.ErrClientNotFound)
}

// =============================================================================
// GENERATION COMMIT TESTS
// =============================================================================

func TestCommitGeneration_AtomicMarkerAndInvoices(t *testing.T) {
	// GIVEN: A client at version 1
	// WHEN: Committing a generation
	// THEN: Invoice stored, marker advanced, version bumped

	store := newTestStore(t)
	ctx := context.Background()

	c := testClient("c-1")
	require.NoError(t, store.SaveClient(ctx, c))

	inv := testInvoice(1, "c-1")
	err := store.CommitGeneration(ctx, billing.CommitRequest{
		ClientID:        "c-1",
		ExpectedVersion: 1,
		NewPeriodEnd:    billing.NewDate(2025, time.October, 31),
		Invoices:        []*billing.Invoice{inv},
	})
	require.NoError(t, err)

	got, err := store.GetClient(ctx, "c-1")
	require.NoError(t, err)
	require.NotNil(t, got.LastInvoicedPeriodEnd)
	assert.Equal(t, "2025-10-31", got.LastInvoicedPeriodEnd.String())
	assert.Equal(t, int64(2), got.Version)

	stored, err := store.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(12000), stored.TotalAmount)
	assert.Equal(t, billing.StatusIssued, stored.Status)
	assert.Equal(t, "2025-09-01", stored.FeeStartDate.String())
}

func TestCommitGeneration_StaleVersionRollsBack(t *testing.T) {
	// GIVEN: A client whose version moved after the read
	// WHEN: Committing with the stale version
	// THEN: Conflict; neither the marker nor the invoice is applied

	store := newTestStore(t)
	ctx := context.Background()

	c := testClient("c-1")
	require.NoError(t, store.SaveClient(ctx, c))

	moved, _ := store.GetClient(ctx, "c-1")
	moved.Name = "Moved"
	require.NoError(t, store.SaveClient(ctx, moved)) // version now 2

	inv := testInvoice(1, "c-1")
	err := store.CommitGeneration(ctx, billing.CommitRequest{
		ClientID:        "c-1",
		ExpectedVersion: 1,
		NewPeriodEnd:    billing.NewDate(2025, time.October, 31),
		Invoices:        []*billing.Invoice{inv},
	})
	require.ErrorIs(t, err, billing.ErrConcurrentModification)

	got, _ := store.GetClient(ctx, "c-1")
	assert.Nil(t, got.LastInvoicedPeriodEnd)

	_, err = store.GetInvoice(ctx, inv.ID)
	assert.ErrorIs(t, err, billing.ErrInvoiceNotFound)
}

func TestCommitGeneration_UnknownClient(t *testing.T) {
	store := newTestStore(t)
	err := store.CommitGeneration(context.Background(), billing.CommitRequest{
		ClientID:        "ghost",
		ExpectedVersion: 1,
		NewPeriodEnd:    billing.NewDate(2025, time.October, 31),
	})
	assert.ErrorIs(t, err, billing.ErrClientNotFound)
}

// =============================================================================
// INVOICE LIFECYCLE TESTS
// =============================================================================

func commitInvoice(t *testing.T, store *sqlite.Store, inv *billing.Invoice) {
	t.Helper()
	ctx := context.Background()
	c := testClient(inv.ClientID)
	require.NoError(t, store.SaveClient(ctx, c))
	require.NoError(t, store.CommitGeneration(ctx, billing.CommitRequest{
		ClientID:        inv.ClientID,
		ExpectedVersion: c.Version,
		NewPeriodEnd:    inv.FeeEndDate,
		Invoices:        []*billing.Invoice{inv},
	}))
}

func TestUpdateInvoiceStatus_GuardedOnFromStatus(t *testing.T) {
	// GIVEN: An issued invoice
	// WHEN: Updating with the wrong from-status
	// THEN: Conflict, state unchanged

	store := newTestStore(t)
	ctx := context.Background()

	inv := testInvoice(1, "c-1")
	commitInvoice(t, store, inv)

	err := store.UpdateInvoiceStatus(ctx, inv.ID, billing.StatusOverdue, billing.StatusPaid, 12000)
	assert.ErrorIs(t, err, billing.ErrConcurrentModification)

	require.NoError(t, store.UpdateInvoiceStatus(ctx, inv.ID, billing.StatusIssued, billing.StatusPaid, 12000))

	got, _ := store.GetInvoice(ctx, inv.ID)
	assert.Equal(t, billing.StatusPaid, got.Status)
	assert.Equal(t, int64(12000), got.PaidAmount)
}

func TestUpdateInvoiceStatus_NonPaidKeepsPaidAmountZero(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inv := testInvoice(1, "c-1")
	commitInvoice(t, store, inv)

	require.NoError(t, store.UpdateInvoiceStatus(ctx, inv.ID, billing.StatusIssued, billing.StatusOverdue, 0))
	got, _ := store.GetInvoice(ctx, inv.ID)
	assert.Equal(t, billing.StatusOverdue, got.Status)
	assert.Equal(t, int64(0), got.PaidAmount)
}

func TestListInvoices_Filters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := testInvoice(1, "c-a")
	commitInvoice(t, store, a)
	b := testInvoice(2, "c-b")
	b.ID = "inv-c-b"
	commitInvoice(t, store, b)

	require.NoError(t, store.UpdateInvoiceStatus(ctx, b.ID, billing.StatusIssued, billing.StatusOverdue, 0))

	byClient, err := store.ListInvoices(ctx, billing.InvoiceFilter{ClientID: "c-a"})
	require.NoError(t, err)
	require.Len(t, byClient, 1)
	assert.Equal(t, "c-a", byClient[0].ClientID)

	byStatus, err := store.ListInvoices(ctx, billing.InvoiceFilter{Status: billing.StatusOverdue})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, b.ID, byStatus[0].ID)

	due := billing.NewDate(2025, time.December, 2)
	past, err := store.ListInvoices(ctx, billing.InvoiceFilter{Status: billing.StatusIssued, DueBefore: &due})
	require.NoError(t, err)
	require.Len(t, past, 1)
	assert.Equal(t, a.ID, past[0].ID)
}

// =============================================================================
// SEQUENCE & SETTINGS TESTS
// =============================================================================

func TestNextInvoiceNumber_MonotonicAcrossDeletes(t *testing.T) {
	// GIVEN: An invoice using number 1 that is later deleted
	// WHEN: Drawing the next number
	// THEN: Numbers keep climbing; deleted numbers are never reused

	store := newTestStore(t)
	ctx := context.Background()

	n1, err := store.NextInvoiceNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n1)

	inv := testInvoice(n1, "c-1")
	commitInvoice(t, store, inv)
	require.NoError(t, store.DeleteInvoice(ctx, inv.ID))

	n2, err := store.NextInvoiceNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n2)
}

func TestSettings_DefaultsSeededAndUpdatable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	s, err := store.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 31, s.ClosingDay)
	assert.Equal(t, 1, s.IssueDayOffset)
	assert.Equal(t, 30, s.DueDayOffset)
	assert.True(t, s.TaxRate.IsZero())

	s.ClosingDay = 15
	s.TaxRate = decimal.NewFromFloat(0.10)
	require.NoError(t, store.SaveSettings(ctx, s))

	got, err := store.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 15, got.ClosingDay)
	assert.True(t, got.TaxRate.Equal(decimal.NewFromFloat(0.10)))
}

// =============================================================================
// PAYMENT MARKER TESTS
// =============================================================================

func TestAdvanceLastPaid_CAS(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c := testClient("c-1")
	require.NoError(t, store.SaveClient(ctx, c))

	end := billing.NewDate(2025, time.October, 31)
	require.NoError(t, store.AdvanceLastPaid(ctx, "c-1", 1, end))

	got, _ := store.GetClient(ctx, "c-1")
	require.NotNil(t, got.LastPaidPeriodEnd)
	assert.Equal(t, "2025-10-31", got.LastPaidPeriodEnd.String())
	assert.Equal(t, int64(2), got.Version)

	// Stale version loses.
	err := store.AdvanceLastPaid(ctx, "c-1", 1, end.AddDays(30))
	assert.ErrorIs(t, err, billing.ErrConcurrentModification)
}
