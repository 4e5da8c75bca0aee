/*
handlers.go - HTTP API handlers for the billing engine

PURPOSE:
  Exposes the billing engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Clients:
    GET    /api/clients                 List all clients
    POST   /api/clients                 Create client
    GET    /api/clients/{id}            Get client details
    PUT    /api/clients/{id}            Update client
    POST   /api/clients/{id}/fee        Append a fee change
    GET    /api/clients/{id}/invoices   List a client's invoices

  Billing:
    POST   /api/billing/preview         Dry-run generation for a month
    POST   /api/billing/generate        Generate and commit invoices
    POST   /api/billing/overdue         Sweep issued invoices past due

  Invoices:
    GET    /api/invoices                List invoices (filterable)
    GET    /api/invoices/{id}           Get invoice details
    POST   /api/invoices/{id}/status    Lifecycle transition
    DELETE /api/invoices/{id}           Delete (cancelled only)

  Settings:
    GET    /api/settings                Get invoice settings
    PUT    /api/settings                Update invoice settings

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (version race, invalid transition, not deletable)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - billing/orchestrator.go: Engine the handlers delegate to
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/billing-engine/billing"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *billing.Engine
	Store  billing.Store
	Log    zerolog.Logger
}

// NewHandler creates a new handler.
func NewHandler(engine *billing.Engine, store billing.Store, log zerolog.Logger) *Handler {
	return &Handler{Engine: engine, Store: store, Log: log}
}

// =============================================================================
// CLIENT HANDLERS
// =============================================================================

// ListClients returns all clients.
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.Store.ListClients(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list clients", err)
		return
	}

	dtos := make([]ClientDTO, len(clients))
	for i, c := range clients {
		dtos[i] = toClientDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetClient returns a single client.
func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	c, err := h.Store.GetClient(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get client", err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(c))
}

// CreateClient creates a new client with its initial fee entry.
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req CreateClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	start, err := billing.ParseDate(req.ManagementStartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid management_start_date (use YYYY-MM-DD)", err)
		return
	}

	c := &billing.Client{
		ID:                  req.ID,
		Name:                req.Name,
		Type:                billing.ClientType(req.Type),
		BillingFrequency:    billing.BillingFrequency(req.BillingFrequency),
		ManagementStartDate: start,
		SetupFee:            req.SetupFee,
	}
	if req.InitialFee > 0 {
		c.FeeHistory = billing.FeeSchedule{{
			Amount:        req.InitialFee,
			EffectiveFrom: start,
			Reason:        "initial",
		}}
	}
	if err := c.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid client", err)
		return
	}

	if err := h.Store.SaveClient(r.Context(), c); err != nil {
		writeDomainError(w, "Failed to create client", err)
		return
	}
	writeJSON(w, http.StatusCreated, toClientDTO(c))
}

// UpdateClient updates a client's mutable attributes. The fee history is
// managed through the fee-change endpoint, not here.
func (h *Handler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	var req CreateClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	c, err := h.Store.GetClient(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get client", err)
		return
	}

	if req.Name != "" {
		c.Name = req.Name
	}
	if req.Type != "" {
		c.Type = billing.ClientType(req.Type)
	}
	if req.BillingFrequency != "" {
		if err := c.ChangeBillingFrequency(billing.BillingFrequency(req.BillingFrequency)); err != nil {
			writeDomainError(w, "Failed to change billing frequency", err)
			return
		}
	}
	if err := c.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid client", err)
		return
	}

	if err := h.Store.SaveClient(ctx, c); err != nil {
		writeDomainError(w, "Failed to update client", err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(c))
}

// ChangeFee appends a fee entry to the client's schedule.
func (h *Handler) ChangeFee(w http.ResponseWriter, r *http.Request) {
	var req FeeChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	effectiveFrom, err := billing.ParseDate(req.EffectiveFrom)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_from (use YYYY-MM-DD)", err)
		return
	}

	c, err := h.Engine.ChangeFee(r.Context(), chi.URLParam(r, "id"), req.Amount, effectiveFrom, req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to change fee", err)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(c))
}

// ListClientInvoices returns all invoices for one client.
func (h *Handler) ListClientInvoices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if _, err := h.Store.GetClient(ctx, id); err != nil {
		writeDomainError(w, "Failed to get client", err)
		return
	}

	invoices, err := h.Store.ListInvoices(ctx, billing.InvoiceFilter{ClientID: id})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list invoices", err)
		return
	}

	dtos := make([]InvoiceDTO, len(invoices))
	for i, inv := range invoices {
		dtos[i] = toInvoiceDTO(inv)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// BILLING HANDLERS
// =============================================================================

// Preview computes the invoices a generation run would produce, without
// committing anything. Preview invoices carry invoice number 0.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	h.runGeneration(w, r, false)
}

// Generate computes and commits invoices for the target month.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	h.runGeneration(w, r, true)
}

func (h *Handler) runGeneration(w http.ResponseWriter, r *http.Request, commit bool) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	target, err := billing.ParseMonth(req.Month)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month (use YYYY-MM)", err)
		return
	}

	opts := billing.GenerateOptions{
		ClientIDs:   req.ClientIDs,
		Frequency:   billing.BillingFrequency(req.Frequency),
		Adjustments: req.Adjustments,
	}

	var result *billing.GenerationResult
	if commit {
		result, err = h.Engine.GenerateForMonth(r.Context(), target, opts)
	} else {
		result, err = h.Engine.PreviewForMonth(r.Context(), target, opts)
	}
	if err != nil {
		writeDomainError(w, "Generation run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(result))
}

// MarkOverdue sweeps issued invoices whose due date has passed.
func (h *Handler) MarkOverdue(w http.ResponseWriter, r *http.Request) {
	marked, err := h.Engine.MarkOverdue(r.Context(), billing.Today())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Overdue sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"marked": marked})
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// ListInvoices returns invoices, filterable by client_id and status.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	filter := billing.InvoiceFilter{
		ClientID: r.URL.Query().Get("client_id"),
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status, err := billing.ParseStatus(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid status filter", err)
			return
		}
		filter.Status = status
	}

	invoices, err := h.Store.ListInvoices(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list invoices", err)
		return
	}

	dtos := make([]InvoiceDTO, len(invoices))
	for i, inv := range invoices {
		dtos[i] = toInvoiceDTO(inv)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetInvoice returns a single invoice.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Store.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// UpdateInvoiceStatus applies a lifecycle transition.
func (h *Handler) UpdateInvoiceStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	to, err := billing.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid status", err)
		return
	}

	inv, err := h.Engine.UpdateStatus(r.Context(), chi.URLParam(r, "id"), to, req.PaidAmount)
	if err != nil {
		writeDomainError(w, "Failed to update invoice status", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// DeleteInvoice removes a cancelled invoice.
func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeleteInvoice(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, "Failed to delete invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// =============================================================================
// SETTINGS HANDLERS
// =============================================================================

// GetSettings returns the company invoice settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.Store.GetSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get settings", err)
		return
	}
	writeJSON(w, http.StatusOK, SettingsDTO{
		ClosingDay:     s.ClosingDay,
		IssueDayOffset: s.IssueDayOffset,
		DueDayOffset:   s.DueDayOffset,
		TaxRate:        s.TaxRate.String(),
	})
}

// UpdateSettings replaces the company invoice settings.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	taxRate, err := decimal.NewFromString(req.TaxRate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid tax_rate", err)
		return
	}

	s := billing.InvoiceSettings{
		ClosingDay:     req.ClosingDay,
		IssueDayOffset: req.IssueDayOffset,
		DueDayOffset:   req.DueDayOffset,
		TaxRate:        taxRate,
	}
	if err := s.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid settings", err)
		return
	}

	if err := h.Store.SaveSettings(r.Context(), s); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save settings", err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case billing.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, billing.ErrConcurrentModification),
		errors.Is(err, billing.ErrInvalidStatusTransition),
		errors.Is(err, billing.ErrInvoiceNotDeletable):
		writeError(w, http.StatusConflict, message, err)
	case billing.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
