// Package store provides an in-memory billing.Store implementation for
// tests and development.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/billing-engine/billing"
)

// Memory implements billing.Store with maps under a single mutex. The
// version discipline matches the production store: every client write is
// compare-and-set on Version.
type Memory struct {
	mu       sync.RWMutex
	clients  map[string]billing.Client
	invoices map[string]billing.Invoice
	settings billing.InvoiceSettings
	sequence int64
}

func NewMemory() *Memory {
	return &Memory{
		clients:  make(map[string]billing.Client),
		invoices: make(map[string]billing.Invoice),
		settings: billing.DefaultSettings(),
	}
}

// =============================================================================
// CLIENTS
// =============================================================================

func (m *Memory) GetClient(_ context.Context, id string) (*billing.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.clients[id]
	if !ok {
		return nil, billing.ErrClientNotFound
	}
	return cloneClient(c), nil
}

func (m *Memory) ListClients(_ context.Context) ([]*billing.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*billing.Client, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, cloneClient(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveClient(_ context.Context, c *billing.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.clients[c.ID]
	if exists {
		if stored.Version != c.Version {
			return billing.ErrConcurrentModification
		}
	} else if c.Version != 0 {
		return billing.ErrClientNotFound
	}

	c.Version++
	m.clients[c.ID] = *cloneClient(*c)
	return nil
}

// =============================================================================
// INVOICES
// =============================================================================

func (m *Memory) GetInvoice(_ context.Context, id string) (*billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inv, ok := m.invoices[id]
	if !ok {
		return nil, billing.ErrInvoiceNotFound
	}
	cp := inv
	return &cp, nil
}

func (m *Memory) ListInvoices(_ context.Context, f billing.InvoiceFilter) ([]*billing.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*billing.Invoice
	for _, inv := range m.invoices {
		if f.ClientID != "" && inv.ClientID != f.ClientID {
			continue
		}
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		if f.DueBefore != nil && !inv.DueDate.Before(*f.DueBefore) {
			continue
		}
		cp := inv
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].InvoiceNumber < out[j].InvoiceNumber
	})
	return out, nil
}

func (m *Memory) UpdateInvoiceStatus(_ context.Context, id string, from, to billing.InvoiceStatus, paidAmount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invoices[id]
	if !ok {
		return billing.ErrInvoiceNotFound
	}
	if inv.Status != from {
		return billing.ErrConcurrentModification
	}
	inv.Status = to
	if to == billing.StatusPaid {
		inv.PaidAmount = paidAmount
	}
	m.invoices[id] = inv
	return nil
}

func (m *Memory) DeleteInvoice(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.invoices[id]; !ok {
		return billing.ErrInvoiceNotFound
	}
	delete(m.invoices, id)
	return nil
}

// =============================================================================
// SETTINGS & SEQUENCE
// =============================================================================

func (m *Memory) GetSettings(_ context.Context) (billing.InvoiceSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings, nil
}

func (m *Memory) SaveSettings(_ context.Context, s billing.InvoiceSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = s
	return nil
}

func (m *Memory) NextInvoiceNumber(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequence++
	return m.sequence, nil
}

// =============================================================================
// GENERATION COMMIT
// =============================================================================

func (m *Memory) CommitGeneration(_ context.Context, req billing.CommitRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.clients[req.ClientID]
	if !ok {
		return billing.ErrClientNotFound
	}
	if c.Version != req.ExpectedVersion {
		return billing.ErrConcurrentModification
	}

	end := req.NewPeriodEnd
	c.LastInvoicedPeriodEnd = &end
	c.HasInvoicedSetup = req.SetupInvoiced
	c.Version++
	m.clients[req.ClientID] = c

	for _, inv := range req.Invoices {
		m.invoices[inv.ID] = *inv
	}
	return nil
}

func (m *Memory) AdvanceLastPaid(_ context.Context, clientID string, expectedVersion int64, periodEnd billing.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.clients[clientID]
	if !ok {
		return billing.ErrClientNotFound
	}
	if c.Version != expectedVersion {
		return billing.ErrConcurrentModification
	}

	end := periodEnd
	c.LastPaidPeriodEnd = &end
	c.Version++
	m.clients[clientID] = c
	return nil
}

func cloneClient(c billing.Client) *billing.Client {
	cp := c
	cp.FeeHistory = append(billing.FeeSchedule(nil), c.FeeHistory...)
	if c.LastInvoicedPeriodEnd != nil {
		d := *c.LastInvoicedPeriodEnd
		cp.LastInvoicedPeriodEnd = &d
	}
	if c.LastPaidPeriodEnd != nil {
		d := *c.LastPaidPeriodEnd
		cp.LastPaidPeriodEnd = &d
	}
	return &cp
}
