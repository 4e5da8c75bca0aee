package billing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DocumentRenderer turns a persisted invoice into a rendered document. It is
// a downstream collaborator: the engine invokes it only after an invoice has
// been committed with status issued, outside the storage transaction. Render
// failures are logged, never rolled back into the commit.
type DocumentRenderer interface {
	Render(ctx context.Context, inv *Invoice) error
}

// NoopRenderer discards invoices. The default when no renderer is configured.
type NoopRenderer struct{}

func (NoopRenderer) Render(ctx context.Context, inv *Invoice) error { return nil }

// TextRenderer writes a plain-text summary per invoice into Dir. Stands in
// for the real PDF pipeline in development.
type TextRenderer struct {
	Dir string
}

func (r TextRenderer) Render(ctx context.Context, inv *Invoice) error {
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(r.Dir, inv.FormattedNumber()+".txt")
	// No per-unit price: mixed-rate periods have no single unit fee, the
	// per-rate breakdown lives in Notes.
	content := fmt.Sprintf(
		"%s\n%s\n\nClient:  %s\nPeriod:  %s .. %s\nIssued:  %s\nDue:     %s\n\nManagement fee: %d (qty %d)\nAdjustment:     %d\nSubtotal:       %d\nTax:            %d\nTotal:          %d\n",
		inv.FormattedNumber(), inv.Kind,
		inv.ClientName,
		inv.FeeStartDate, inv.FeeEndDate,
		inv.IssueDate, inv.DueDate,
		inv.ManagementFee, inv.Quantity,
		inv.AdjustmentAmount,
		inv.Subtotal, inv.TaxAmount, inv.TotalAmount,
	)
	if inv.Notes != "" {
		content += "\n" + inv.Notes + "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
