/*
store.go - Persistence interfaces for the billing engine

The engine talks to storage through small per-concern interfaces; Store
bundles them for implementations that provide everything (the in-memory
store and the SQLite store both do).

COMMIT CONTRACT:
  CommitGeneration is the only way invoices enter the store. It persists the
  drafts AND advances the client's last-invoiced marker in one transaction,
  guarded by the client's version: if the version moved since the caller read
  the client, the commit fails with ErrConcurrentModification and nothing is
  applied. Two generation runs racing on the same client can therefore never
  both invoice the same period.

IMPLEMENTATIONS:
  - billing/store (memory): tests and dev
  - store/sqlite: production
*/
package billing

import "context"

// ClientStore persists client records.
type ClientStore interface {
	GetClient(ctx context.Context, id string) (*Client, error)
	ListClients(ctx context.Context) ([]*Client, error)

	// SaveClient inserts (Version 0) or updates a client. Updates are
	// compare-and-set on Version; on success the stored version is
	// incremented and written back into c.
	SaveClient(ctx context.Context, c *Client) error
}

// InvoiceFilter narrows invoice listings. Zero values match everything.
type InvoiceFilter struct {
	ClientID  string
	Status    InvoiceStatus
	DueBefore *Date
}

// InvoiceStore persists invoice records. Invoices are created only through
// CommitGeneration; this interface covers lookup and lifecycle updates.
type InvoiceStore interface {
	GetInvoice(ctx context.Context, id string) (*Invoice, error)
	ListInvoices(ctx context.Context, f InvoiceFilter) ([]*Invoice, error)

	// UpdateInvoiceStatus applies a lifecycle transition. The write is
	// guarded on the current status equalling from; a mismatch fails
	// with ErrConcurrentModification.
	UpdateInvoiceStatus(ctx context.Context, id string, from, to InvoiceStatus, paidAmount int64) error

	// DeleteInvoice removes an invoice record. Policy (cancelled-only) is
	// enforced by the engine; see Engine.DeleteInvoice.
	DeleteInvoice(ctx context.Context, id string) error
}

// SettingsStore persists the company-wide invoice settings.
type SettingsStore interface {
	GetSettings(ctx context.Context) (InvoiceSettings, error)
	SaveSettings(ctx context.Context, s InvoiceSettings) error
}

// NumberSequencer issues the next invoice number: unique, monotonic, never
// reused, system-wide.
type NumberSequencer interface {
	NextInvoiceNumber(ctx context.Context) (int64, error)
}

// CommitRequest is one client's atomic generation commit.
type CommitRequest struct {
	ClientID string

	// ExpectedVersion is the client version observed when the pending
	// period was resolved.
	ExpectedVersion int64

	// NewPeriodEnd becomes the client's LastInvoicedPeriodEnd.
	NewPeriodEnd Date

	// SetupInvoiced marks the one-time setup fee as invoiced.
	SetupInvoiced bool

	Invoices []*Invoice
}

// GenerationStore provides the transactional generation commit.
type GenerationStore interface {
	CommitGeneration(ctx context.Context, req CommitRequest) error
}

// PaymentStore advances a client's last-paid marker when an invoice is paid.
// The write is compare-and-set on the client version like SaveClient.
type PaymentStore interface {
	AdvanceLastPaid(ctx context.Context, clientID string, expectedVersion int64, periodEnd Date) error
}

// Store bundles every persistence concern the engine needs.
type Store interface {
	ClientStore
	InvoiceStore
	SettingsStore
	NumberSequencer
	GenerationStore
	PaymentStore
}
