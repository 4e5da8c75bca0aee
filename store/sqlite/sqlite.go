/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface the billing engine needs (bundled as
  billing.Store). In production, the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

KEY TABLES:
  clients:          Client records; fee history embedded as a JSON column
  invoices:         Invoice records (created via generation commit only)
  invoice_settings: Single-row company configuration
  invoice_sequence: Single-row monotonic invoice number counter

CONCURRENCY:
  Client writes are compare-and-set on the version column. The generation
  commit performs the period-marker advance and the invoice inserts inside
  one SQL transaction, so a lost version race rolls everything back and
  surfaces billing.ErrConcurrentModification. A sync.Mutex additionally
  serializes writers; in production with PostgreSQL, database-level
  concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

DATES:
  Stored as YYYY-MM-DD TEXT. All dates are day-granularity UTC.

USAGE:
  store, err := sqlite.New("./data/billing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := billing.NewEngine(store, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/billing"
)

// Store implements billing.Store on SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		client_type TEXT NOT NULL,
		billing_frequency TEXT NOT NULL,
		management_start TEXT NOT NULL,
		fee_history_json TEXT NOT NULL DEFAULT '[]',
		last_invoiced_period_end TEXT,
		last_paid_period_end TEXT,
		setup_fee INTEGER NOT NULL DEFAULT 0,
		has_invoiced_setup BOOLEAN NOT NULL DEFAULT FALSE,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		invoice_number INTEGER NOT NULL UNIQUE,
		client_id TEXT NOT NULL REFERENCES clients(id),
		client_name TEXT NOT NULL,
		kind TEXT NOT NULL,
		billing_year INTEGER NOT NULL,
		billing_month INTEGER NOT NULL,
		issue_date TEXT NOT NULL,
		due_date TEXT NOT NULL,
		fee_start TEXT NOT NULL,
		fee_end TEXT NOT NULL,
		management_fee INTEGER NOT NULL,
		quantity INTEGER NOT NULL,
		adjustment INTEGER NOT NULL DEFAULT 0,
		subtotal INTEGER NOT NULL,
		tax INTEGER NOT NULL DEFAULT 0,
		total INTEGER NOT NULL,
		status TEXT NOT NULL,
		paid_amount INTEGER NOT NULL DEFAULT 0,
		notes TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_client
		ON invoices(client_id);
	CREATE INDEX IF NOT EXISTS idx_invoices_status_due
		ON invoices(status, due_date);
	CREATE INDEX IF NOT EXISTS idx_invoices_billing_month
		ON invoices(billing_year, billing_month);

	CREATE TABLE IF NOT EXISTS invoice_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		closing_day INTEGER NOT NULL,
		issue_day_offset INTEGER NOT NULL,
		due_day_offset INTEGER NOT NULL,
		tax_rate TEXT NOT NULL DEFAULT '0'
	);

	CREATE TABLE IF NOT EXISTS invoice_sequence (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		value INTEGER NOT NULL
	);

	INSERT OR IGNORE INTO invoice_sequence (id, value) VALUES (1, 0);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	def := billing.DefaultSettings()
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO invoice_settings (id, closing_day, issue_day_offset, due_day_offset, tax_rate)
		 VALUES (1, ?, ?, ?, ?)`,
		def.ClosingDay, def.IssueDayOffset, def.DueDayOffset, def.TaxRate.String(),
	)
	return err
}

// =============================================================================
// CLIENT STORE
// =============================================================================

const clientColumns = `id, name, client_type, billing_frequency, management_start,
	fee_history_json, last_invoiced_period_end, last_paid_period_end,
	setup_fee, has_invoiced_setup, version, created_at`

func (s *Store) GetClient(ctx context.Context, id string) (*billing.Client, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = ?`, id)
	c, err := scanClient(row)
	if err == sql.ErrNoRows {
		return nil, billing.ErrClientNotFound
	}
	return c, err
}

func (s *Store) ListClients(ctx context.Context) ([]*billing.Client, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+clientColumns+` FROM clients ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []*billing.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

func (s *Store) SaveClient(ctx context.Context, c *billing.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	feeJSON, err := json.Marshal(c.FeeHistory)
	if err != nil {
		return fmt.Errorf("marshal fee history: %w", err)
	}

	if c.Version == 0 {
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO clients (`+clientColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
			c.ID, c.Name, c.Type, c.BillingFrequency,
			c.ManagementStartDate.String(), string(feeJSON),
			nullDate(c.LastInvoicedPeriodEnd), nullDate(c.LastPaidPeriodEnd),
			c.SetupFee, c.HasInvoicedSetup,
			c.CreatedAt.Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("insert client: %w", err)
		}
		c.Version = 1
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE clients SET
			name = ?, client_type = ?, billing_frequency = ?,
			management_start = ?, fee_history_json = ?,
			setup_fee = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		c.Name, c.Type, c.BillingFrequency,
		c.ManagementStartDate.String(), string(feeJSON),
		c.SetupFee,
		c.ID, c.Version,
	)
	if err != nil {
		return fmt.Errorf("update client: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if !s.clientExists(ctx, c.ID) {
			return billing.ErrClientNotFound
		}
		return billing.ErrConcurrentModification
	}
	c.Version++
	return nil
}

func (s *Store) clientExists(ctx context.Context, id string) bool {
	var n int
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM clients WHERE id = ?`, id).Scan(&n)
	return n > 0
}

func scanClient(row interface{ Scan(...any) error }) (*billing.Client, error) {
	var (
		c               billing.Client
		managementStart string
		feeJSON         string
		lastInvoiced    sql.NullString
		lastPaid        sql.NullString
		createdAt       string
	)
	err := row.Scan(
		&c.ID, &c.Name, &c.Type, &c.BillingFrequency, &managementStart,
		&feeJSON, &lastInvoiced, &lastPaid,
		&c.SetupFee, &c.HasInvoicedSetup, &c.Version, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	if c.ManagementStartDate, err = billing.ParseDate(managementStart); err != nil {
		return nil, fmt.Errorf("client %s: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(feeJSON), &c.FeeHistory); err != nil {
		return nil, fmt.Errorf("client %s: fee history: %w", c.ID, err)
	}
	if c.LastInvoicedPeriodEnd, err = parseNullDate(lastInvoiced); err != nil {
		return nil, fmt.Errorf("client %s: %w", c.ID, err)
	}
	if c.LastPaidPeriodEnd, err = parseNullDate(lastPaid); err != nil {
		return nil, fmt.Errorf("client %s: %w", c.ID, err)
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &c, nil
}

// =============================================================================
// INVOICE STORE
// =============================================================================

const invoiceColumns = `id, invoice_number, client_id, client_name, kind,
	billing_year, billing_month, issue_date, due_date, fee_start, fee_end,
	management_fee, quantity, adjustment, subtotal, tax, total,
	status, paid_amount, notes, created_at`

func (s *Store) GetInvoice(ctx context.Context, id string) (*billing.Invoice, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
	inv, err := scanInvoice(row)
	if err == sql.ErrNoRows {
		return nil, billing.ErrInvoiceNotFound
	}
	return inv, err
}

func (s *Store) ListInvoices(ctx context.Context, f billing.InvoiceFilter) ([]*billing.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE 1=1`
	var args []any
	if f.ClientID != "" {
		query += ` AND client_id = ?`
		args = append(args, f.ClientID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.DueBefore != nil {
		query += ` AND due_date < ?`
		args = append(args, f.DueBefore.String())
	}
	query += ` ORDER BY invoice_number ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []*billing.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func (s *Store) UpdateInvoiceStatus(ctx context.Context, id string, from, to billing.InvoiceStatus, paidAmount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE invoices
		 SET status = ?, paid_amount = CASE WHEN ? = 'paid' THEN ? ELSE paid_amount END
		 WHERE id = ? AND status = ?`,
		to, string(to), paidAmount, id, from,
	)
	if err != nil {
		return fmt.Errorf("update invoice status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if !s.invoiceExists(ctx, id) {
			return billing.ErrInvoiceNotFound
		}
		return billing.ErrConcurrentModification
	}
	return nil
}

func (s *Store) DeleteInvoice(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM invoices WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return billing.ErrInvoiceNotFound
	}
	return nil
}

func (s *Store) invoiceExists(ctx context.Context, id string) bool {
	var n int
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM invoices WHERE id = ?`, id).Scan(&n)
	return n > 0
}

func scanInvoice(row interface{ Scan(...any) error }) (*billing.Invoice, error) {
	var (
		inv          billing.Invoice
		billingMonth int
		issueDate    string
		dueDate      string
		feeStart     string
		feeEnd       string
		notes        sql.NullString
		createdAt    string
	)
	err := row.Scan(
		&inv.ID, &inv.InvoiceNumber, &inv.ClientID, &inv.ClientName, &inv.Kind,
		&inv.BillingYear, &billingMonth, &issueDate, &dueDate, &feeStart, &feeEnd,
		&inv.ManagementFee, &inv.Quantity, &inv.AdjustmentAmount,
		&inv.Subtotal, &inv.TaxAmount, &inv.TotalAmount,
		&inv.Status, &inv.PaidAmount, &notes, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	inv.BillingMonth = time.Month(billingMonth)
	if inv.IssueDate, err = billing.ParseDate(issueDate); err != nil {
		return nil, err
	}
	if inv.DueDate, err = billing.ParseDate(dueDate); err != nil {
		return nil, err
	}
	if inv.FeeStartDate, err = billing.ParseDate(feeStart); err != nil {
		return nil, err
	}
	if inv.FeeEndDate, err = billing.ParseDate(feeEnd); err != nil {
		return nil, err
	}
	inv.Notes = notes.String
	inv.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &inv, nil
}

// =============================================================================
// SETTINGS & SEQUENCE
// =============================================================================

func (s *Store) GetSettings(ctx context.Context) (billing.InvoiceSettings, error) {
	var (
		set     billing.InvoiceSettings
		taxRate string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT closing_day, issue_day_offset, due_day_offset, tax_rate
		 FROM invoice_settings WHERE id = 1`,
	).Scan(&set.ClosingDay, &set.IssueDayOffset, &set.DueDayOffset, &taxRate)
	if err != nil {
		return set, fmt.Errorf("load settings: %w", err)
	}
	set.TaxRate, err = decimal.NewFromString(taxRate)
	if err != nil {
		return set, fmt.Errorf("parse tax rate: %w", err)
	}
	return set, nil
}

func (s *Store) SaveSettings(ctx context.Context, set billing.InvoiceSettings) error {
	if err := set.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE invoice_settings
		 SET closing_day = ?, issue_day_offset = ?, due_day_offset = ?, tax_rate = ?
		 WHERE id = 1`,
		set.ClosingDay, set.IssueDayOffset, set.DueDayOffset, set.TaxRate.String(),
	)
	return err
}

// NextInvoiceNumber increments and returns the system-wide sequence. Numbers
// are monotonic and never reused, even across invoice deletion.
func (s *Store) NextInvoiceNumber(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE invoice_sequence SET value = value + 1 WHERE id = 1`); err != nil {
		return 0, err
	}
	var value int64
	if err := tx.QueryRowContext(ctx,
		`SELECT value FROM invoice_sequence WHERE id = 1`).Scan(&value); err != nil {
		return 0, err
	}
	return value, tx.Commit()
}

// =============================================================================
// GENERATION COMMIT
// =============================================================================

// CommitGeneration persists a client's drafts and advances its last-invoiced
// marker in one transaction, compare-and-set on the client version.
func (s *Store) CommitGeneration(ctx context.Context, req billing.CommitRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin generation commit: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE clients SET
			last_invoiced_period_end = ?,
			has_invoiced_setup = ?,
			version = version + 1
		 WHERE id = ? AND version = ?`,
		req.NewPeriodEnd.String(), req.SetupInvoiced,
		req.ClientID, req.ExpectedVersion,
	)
	if err != nil {
		return fmt.Errorf("advance period marker: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if !s.clientExists(ctx, req.ClientID) {
			return billing.ErrClientNotFound
		}
		return billing.ErrConcurrentModification
	}

	for _, inv := range req.Invoices {
		if err := insertInvoice(ctx, tx, inv); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertInvoice(ctx context.Context, tx *sql.Tx, inv *billing.Invoice) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO invoices (`+invoiceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.InvoiceNumber, inv.ClientID, inv.ClientName, inv.Kind,
		inv.BillingYear, int(inv.BillingMonth),
		inv.IssueDate.String(), inv.DueDate.String(),
		inv.FeeStartDate.String(), inv.FeeEndDate.String(),
		inv.ManagementFee, inv.Quantity, inv.AdjustmentAmount,
		inv.Subtotal, inv.TaxAmount, inv.TotalAmount,
		inv.Status, inv.PaidAmount, inv.Notes,
		inv.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert invoice %s: %w", inv.ID, err)
	}
	return nil
}

// =============================================================================
// PAYMENT MARKER
// =============================================================================

func (s *Store) AdvanceLastPaid(ctx context.Context, clientID string, expectedVersion int64, periodEnd billing.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE clients SET last_paid_period_end = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		periodEnd.String(), clientID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("advance last-paid marker: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if !s.clientExists(ctx, clientID) {
			return billing.ErrClientNotFound
		}
		return billing.ErrConcurrentModification
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullDate(d *billing.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseNullDate(ns sql.NullString) (*billing.Date, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	d, err := billing.ParseDate(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
