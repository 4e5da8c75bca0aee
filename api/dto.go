/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - billing/: Domain model these map from
*/
package api

import (
	"time"

	"github.com/warp/billing-engine/billing"
)

// =============================================================================
// CLIENT TYPES
// =============================================================================

// ClientDTO represents a client in API responses.
type ClientDTO struct {
	ID                    string        `json:"id"`
	Name                  string        `json:"name"`
	Type                  string        `json:"type"`
	BillingFrequency      string        `json:"billing_frequency"`
	ManagementStartDate   string        `json:"management_start_date"`
	FeeHistory            []FeeEntryDTO `json:"fee_history"`
	CurrentFee            *int64        `json:"current_fee,omitempty"`
	LastInvoicedPeriodEnd *string       `json:"last_invoiced_period_end,omitempty"`
	LastPaidPeriodEnd     *string       `json:"last_paid_period_end,omitempty"`
	SetupFee              int64         `json:"setup_fee,omitempty"`
	HasInvoicedSetup      bool          `json:"has_invoiced_setup"`
	Version               int64         `json:"version"`
	CreatedAt             string        `json:"created_at,omitempty"`
}

// FeeEntryDTO is one step of a client's fee history.
type FeeEntryDTO struct {
	Amount        int64  `json:"amount"`
	EffectiveFrom string `json:"effective_from"`
	Reason        string `json:"reason,omitempty"`
}

// CreateClientRequest is the request to create a client.
type CreateClientRequest struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Type                string `json:"type"`
	BillingFrequency    string `json:"billing_frequency"`
	ManagementStartDate string `json:"management_start_date"`
	InitialFee          int64  `json:"initial_fee"`
	SetupFee            int64  `json:"setup_fee,omitempty"`
}

// FeeChangeRequest appends an entry to a client's fee history.
type FeeChangeRequest struct {
	Amount        int64  `json:"amount"`
	EffectiveFrom string `json:"effective_from"`
	Reason        string `json:"reason,omitempty"`
}

// =============================================================================
// GENERATION TYPES
// =============================================================================

// GenerateRequest parameterizes a preview or generation run.
type GenerateRequest struct {
	// Month is the target billing month, "2006-01".
	Month string `json:"month"`
	// ClientIDs restricts the run; empty means all clients.
	ClientIDs []string `json:"client_ids,omitempty"`
	// Frequency restricts the run to "monthly" or "yearly"; empty means both.
	Frequency string `json:"frequency,omitempty"`
	// Adjustments are signed per-client corrections in minor units.
	Adjustments map[string]int64 `json:"adjustments,omitempty"`
}

// ClientResultDTO is the per-client outcome of a run.
type ClientResultDTO struct {
	ClientID   string       `json:"client_id"`
	ClientName string       `json:"client_name,omitempty"`
	Outcome    string       `json:"outcome"`
	Reason     string       `json:"reason,omitempty"`
	Error      string       `json:"error,omitempty"`
	Invoices   []InvoiceDTO `json:"invoices,omitempty"`
}

// GenerationResultDTO is the response of a preview or generation run.
type GenerationResultDTO struct {
	TargetMonth  string            `json:"target_month"`
	Committed    bool              `json:"committed"`
	Generated    int               `json:"generated"`
	Skipped      int               `json:"skipped"`
	Failed       int               `json:"failed"`
	InvoiceCount int               `json:"invoice_count"`
	Clients      []ClientResultDTO `json:"clients"`
}

// =============================================================================
// INVOICE TYPES
// =============================================================================

// InvoiceDTO represents an invoice in API responses.
type InvoiceDTO struct {
	ID               string `json:"id"`
	InvoiceNumber    int64  `json:"invoice_number"`
	FormattedNumber  string `json:"formatted_number,omitempty"`
	ClientID         string `json:"client_id"`
	ClientName       string `json:"client_name"`
	Kind             string `json:"kind"`
	BillingYear      int    `json:"billing_year"`
	BillingMonth     int    `json:"billing_month"`
	IssueDate        string `json:"issue_date"`
	DueDate          string `json:"due_date"`
	FeeStartDate     string `json:"fee_start_date"`
	FeeEndDate       string `json:"fee_end_date"`
	ManagementFee    int64  `json:"management_fee"`
	Quantity         int    `json:"quantity"`
	AdjustmentAmount int64  `json:"adjustment_amount,omitempty"`
	Subtotal         int64  `json:"subtotal"`
	TaxAmount        int64  `json:"tax_amount"`
	TotalAmount      int64  `json:"total_amount"`
	Status           string `json:"status"`
	PaidAmount       int64  `json:"paid_amount,omitempty"`
	Notes            string `json:"notes,omitempty"`
	CreatedAt        string `json:"created_at,omitempty"`
}

// StatusUpdateRequest applies a lifecycle transition to an invoice.
type StatusUpdateRequest struct {
	Status string `json:"status"`
	// PaidAmount is required when transitioning to paid (minor units).
	PaidAmount int64 `json:"paid_amount,omitempty"`
}

// =============================================================================
// SETTINGS TYPES
// =============================================================================

// SettingsDTO represents the company invoice settings.
type SettingsDTO struct {
	ClosingDay     int    `json:"closing_day"`
	IssueDayOffset int    `json:"issue_day_offset"`
	DueDayOffset   int    `json:"due_day_offset"`
	TaxRate        string `json:"tax_rate"`
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func toClientDTO(c *billing.Client) ClientDTO {
	dto := ClientDTO{
		ID:                  c.ID,
		Name:                c.Name,
		Type:                string(c.Type),
		BillingFrequency:    string(c.BillingFrequency),
		ManagementStartDate: c.ManagementStartDate.String(),
		FeeHistory:          make([]FeeEntryDTO, len(c.FeeHistory)),
		SetupFee:            c.SetupFee,
		HasInvoicedSetup:    c.HasInvoicedSetup,
		Version:             c.Version,
		CreatedAt:           c.CreatedAt.Format(time.RFC3339),
	}
	for i, e := range c.FeeHistory {
		dto.FeeHistory[i] = FeeEntryDTO{
			Amount:        e.Amount,
			EffectiveFrom: e.EffectiveFrom.String(),
			Reason:        e.Reason,
		}
	}
	if fee, err := c.CurrentFee(); err == nil {
		dto.CurrentFee = &fee
	}
	if c.LastInvoicedPeriodEnd != nil {
		s := c.LastInvoicedPeriodEnd.String()
		dto.LastInvoicedPeriodEnd = &s
	}
	if c.LastPaidPeriodEnd != nil {
		s := c.LastPaidPeriodEnd.String()
		dto.LastPaidPeriodEnd = &s
	}
	return dto
}

func toInvoiceDTO(inv *billing.Invoice) InvoiceDTO {
	dto := InvoiceDTO{
		ID:               inv.ID,
		InvoiceNumber:    inv.InvoiceNumber,
		ClientID:         inv.ClientID,
		ClientName:       inv.ClientName,
		Kind:             string(inv.Kind),
		BillingYear:      inv.BillingYear,
		BillingMonth:     int(inv.BillingMonth),
		IssueDate:        inv.IssueDate.String(),
		DueDate:          inv.DueDate.String(),
		FeeStartDate:     inv.FeeStartDate.String(),
		FeeEndDate:       inv.FeeEndDate.String(),
		ManagementFee:    inv.ManagementFee,
		Quantity:         inv.Quantity,
		AdjustmentAmount: inv.AdjustmentAmount,
		Subtotal:         inv.Subtotal,
		TaxAmount:        inv.TaxAmount,
		TotalAmount:      inv.TotalAmount,
		Status:           string(inv.Status),
		PaidAmount:       inv.PaidAmount,
		Notes:            inv.Notes,
		CreatedAt:        inv.CreatedAt.Format(time.RFC3339),
	}
	if inv.InvoiceNumber > 0 {
		dto.FormattedNumber = inv.FormattedNumber()
	}
	return dto
}

func toResultDTO(res *billing.GenerationResult) GenerationResultDTO {
	dto := GenerationResultDTO{
		TargetMonth:  res.TargetMonth.String(),
		Committed:    res.Committed,
		Generated:    res.Generated,
		Skipped:      res.Skipped,
		Failed:       res.Failed,
		InvoiceCount: res.InvoiceCount,
		Clients:      make([]ClientResultDTO, len(res.Clients)),
	}
	for i, cr := range res.Clients {
		c := ClientResultDTO{
			ClientID:   cr.ClientID,
			ClientName: cr.ClientName,
			Outcome:    string(cr.Outcome),
			Reason:     string(cr.Reason),
			Error:      cr.Error,
		}
		for _, inv := range cr.Invoices {
			c.Invoices = append(c.Invoices, toInvoiceDTO(inv))
		}
		dto.Clients[i] = c
	}
	return dto
}
