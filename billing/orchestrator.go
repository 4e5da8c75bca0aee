/*
orchestrator.go - Batch generation and the engine's programmatic surface

Engine is the entry point consumed by the API layer and the scheduler:

  PreviewForMonth  compute drafts, mutate nothing
  GenerateForMonth compute + commit per client, advance markers
  ChangeFee        append to a client's fee schedule
  UpdateStatus     invoice lifecycle transition
  MarkOverdue      sweep issued invoices past their due date
  DeleteInvoice    remove a cancelled invoice

BATCH SEMANTICS:
  Clients are independent; the batch processes them in parallel with a
  bounded worker count. Per-client failures (data-integrity faults,
  exhausted retries) are collected into the result, never thrown, so one bad
  record cannot block the rest of the portfolio. Only request-level
  validation (bad target month) fails the whole call.

RETRY DISCIPLINE:
  The per-client resolve -> compose -> commit sequence re-runs from a fresh
  client read when the commit hits a version conflict, up to MaxRetries
  times. A client that exhausts retries is reported failed and is safe to
  retry on the next invocation: the commit either fully applied or didn't.
  Sequence numbers consumed by a failed commit are abandoned; the sequence
  is monotonic, not gapless.
*/
package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	defaultParallelism = 4
	defaultMaxRetries  = 3
)

// Engine runs billing operations against a Store.
type Engine struct {
	store Store
	log   zerolog.Logger

	// Renderer receives every committed invoice. Defaults to NoopRenderer.
	Renderer DocumentRenderer

	// Parallelism bounds concurrent per-client generation workers.
	Parallelism int

	// MaxRetries bounds re-runs of a client's resolve-commit sequence
	// after version conflicts.
	MaxRetries int
}

// NewEngine creates an engine with default parallelism and retry bounds.
func NewEngine(store Store, log zerolog.Logger) *Engine {
	return &Engine{
		store:       store,
		log:         log,
		Renderer:    NoopRenderer{},
		Parallelism: defaultParallelism,
		MaxRetries:  defaultMaxRetries,
	}
}

// =============================================================================
// GENERATION
// =============================================================================

// GenerateOptions filters and parameterizes a generation run.
type GenerateOptions struct {
	// ClientIDs restricts the run to the given clients. Empty = all.
	ClientIDs []string

	// Frequency restricts the run to one billing frequency. Empty = all.
	Frequency BillingFrequency

	// Adjustments supplies per-client manual corrections (signed, minor
	// units) applied to this run's management invoices.
	Adjustments map[string]int64
}

type Outcome string

const (
	OutcomeGenerated Outcome = "generated"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// ClientResult is the per-client detail of a generation run.
type ClientResult struct {
	ClientID   string
	ClientName string
	Outcome    Outcome
	// Reason is set for skips, and for failures that have a reason code
	// (no fee schedule).
	Reason SkipReason
	// Error is the failure detail, empty otherwise.
	Error    string
	Invoices []*Invoice
}

// GenerationResult is the structured outcome of a preview or commit run.
type GenerationResult struct {
	TargetMonth  Month
	Committed    bool
	Generated    int
	Skipped      int
	Failed       int
	InvoiceCount int
	Clients      []ClientResult
}

// PreviewForMonth computes the invoices a commit run would produce, without
// mutating any state. Preview drafts carry invoice number 0; numbers are
// only consumed by commits.
func (e *Engine) PreviewForMonth(ctx context.Context, target Month, opts GenerateOptions) (*GenerationResult, error) {
	return e.run(ctx, target, opts, false)
}

// GenerateForMonth computes and commits invoices for the target month. Each
// produced draft is persisted together with the advance of its client's
// last-invoiced marker in one store transaction.
func (e *Engine) GenerateForMonth(ctx context.Context, target Month, opts GenerateOptions) (*GenerationResult, error) {
	return e.run(ctx, target, opts, true)
}

func (e *Engine) run(ctx context.Context, target Month, opts GenerateOptions, commit bool) (*GenerationResult, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	settings, err := e.store.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	clients, err := e.store.ListClients(ctx)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	clients = filterClients(clients, opts)

	results := make([]ClientResult, len(clients))
	g, gctx := errgroup.WithContext(ctx)
	parallelism := e.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	g.SetLimit(parallelism)

	for i, c := range clients {
		i, c := i, c
		g.Go(func() error {
			if commit {
				results[i] = e.generateClient(gctx, c.ID, target, settings, opts)
			} else {
				results[i] = e.previewClient(gctx, c, target, settings, opts)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &GenerationResult{TargetMonth: target, Committed: commit, Clients: results}
	for _, r := range results {
		switch r.Outcome {
		case OutcomeGenerated:
			result.Generated++
			result.InvoiceCount += len(r.Invoices)
		case OutcomeSkipped:
			result.Skipped++
		case OutcomeFailed:
			result.Failed++
		}
	}

	e.log.Info().
		Str("target", target.String()).
		Bool("committed", commit).
		Int("generated", result.Generated).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Msg("generation run completed")

	return result, nil
}

func filterClients(clients []*Client, opts GenerateOptions) []*Client {
	var ids map[string]bool
	if len(opts.ClientIDs) > 0 {
		ids = make(map[string]bool, len(opts.ClientIDs))
		for _, id := range opts.ClientIDs {
			ids[id] = true
		}
	}

	filtered := clients[:0]
	for _, c := range clients {
		if ids != nil && !ids[c.ID] {
			continue
		}
		if opts.Frequency != "" && c.BillingFrequency != opts.Frequency {
			continue
		}
		filtered = append(filtered, c)
	}
	return filtered
}

// composeDrafts resolves the client's pending period and builds its drafts.
// seq is called once per draft in commit mode and returns 0 in preview mode.
func composeDrafts(ctx context.Context, c *Client, target Month, settings InvoiceSettings, opts GenerateOptions, seq func(context.Context) (int64, error)) ([]*Invoice, SkipReason, error) {
	if len(c.FeeHistory) == 0 {
		return nil, SkipNoFeeSchedule, fmt.Errorf("%w: client %s", ErrEmptyFeeHistory, c.ID)
	}

	period, skip := ResolvePending(c, target)
	if period == nil {
		return nil, skip, nil
	}

	n, err := seq(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("next invoice number: %w", err)
	}
	draft, err := Compose(c, period, target, settings, n, opts.Adjustments[c.ID])
	if err != nil {
		return nil, "", err
	}
	drafts := []*Invoice{draft}

	if c.SetupFee > 0 && !c.HasInvoicedSetup {
		n, err := seq(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("next invoice number: %w", err)
		}
		drafts = append(drafts, ComposeSetup(c, target, settings, n))
	}
	return drafts, "", nil
}

func (e *Engine) previewClient(ctx context.Context, c *Client, target Month, settings InvoiceSettings, opts GenerateOptions) ClientResult {
	res := ClientResult{ClientID: c.ID, ClientName: c.Name}

	noSeq := func(context.Context) (int64, error) { return 0, nil }
	drafts, skip, err := composeDrafts(ctx, c, target, settings, opts, noSeq)
	switch {
	case err != nil:
		res.Outcome = OutcomeFailed
		res.Reason = skip
		res.Error = err.Error()
	case drafts == nil:
		res.Outcome = OutcomeSkipped
		res.Reason = skip
	default:
		res.Outcome = OutcomeGenerated
		res.Invoices = drafts
	}
	return res
}

func (e *Engine) generateClient(ctx context.Context, clientID string, target Month, settings InvoiceSettings, opts GenerateOptions) ClientResult {
	res := ClientResult{ClientID: clientID}

	var lastErr error
	for attempt := 0; attempt <= e.MaxRetries; attempt++ {
		// Fresh read every attempt: the whole sequence re-runs from
		// scratch after a conflict.
		c, err := e.store.GetClient(ctx, clientID)
		if err != nil {
			res.Outcome = OutcomeFailed
			res.Error = err.Error()
			return res
		}
		res.ClientName = c.Name

		drafts, skip, err := composeDrafts(ctx, c, target, settings, opts, e.store.NextInvoiceNumber)
		if err != nil {
			res.Outcome = OutcomeFailed
			res.Reason = skip
			res.Error = err.Error()
			return res
		}
		if drafts == nil {
			res.Outcome = OutcomeSkipped
			res.Reason = skip
			return res
		}

		periodEnd := drafts[0].FeeEndDate
		err = e.store.CommitGeneration(ctx, CommitRequest{
			ClientID:        c.ID,
			ExpectedVersion: c.Version,
			NewPeriodEnd:    periodEnd,
			SetupInvoiced:   c.HasInvoicedSetup || len(drafts) > 1,
			Invoices:        drafts,
		})
		if err == nil {
			res.Outcome = OutcomeGenerated
			res.Invoices = drafts
			e.renderAll(ctx, drafts)
			return res
		}
		if !errors.Is(err, ErrConcurrentModification) {
			res.Outcome = OutcomeFailed
			res.Error = err.Error()
			return res
		}
		lastErr = err
		e.log.Warn().
			Str("client_id", clientID).
			Int("attempt", attempt+1).
			Msg("generation conflict, retrying")
	}

	res.Outcome = OutcomeFailed
	res.Error = fmt.Sprintf("retries exhausted: %v", lastErr)
	return res
}

func (e *Engine) renderAll(ctx context.Context, invoices []*Invoice) {
	renderer := e.Renderer
	if renderer == nil {
		return
	}
	for _, inv := range invoices {
		if err := renderer.Render(ctx, inv); err != nil {
			e.log.Error().Err(err).
				Str("invoice_id", inv.ID).
				Msg("document render failed")
		}
	}
}

// =============================================================================
// FEE CHANGES
// =============================================================================

// ChangeFee appends a fee entry to the client's schedule.
func (e *Engine) ChangeFee(ctx context.Context, clientID string, amount int64, effectiveFrom Date, reason string) (*Client, error) {
	for attempt := 0; ; attempt++ {
		c, err := e.store.GetClient(ctx, clientID)
		if err != nil {
			return nil, err
		}
		if err := c.ChangeFee(amount, effectiveFrom, reason); err != nil {
			return nil, err
		}
		err = e.store.SaveClient(ctx, c)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrConcurrentModification) || attempt >= e.MaxRetries {
			return nil, err
		}
	}
}

// =============================================================================
// INVOICE LIFECYCLE
// =============================================================================

// UpdateStatus applies a lifecycle transition to an invoice. Transitioning a
// management invoice to paid also advances the owning client's last-paid
// marker.
func (e *Engine) UpdateStatus(ctx context.Context, invoiceID string, to InvoiceStatus, paidAmount int64) (*Invoice, error) {
	inv, err := e.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	from := inv.Status
	if err := inv.Transition(to, paidAmount); err != nil {
		return nil, err
	}
	if err := e.store.UpdateInvoiceStatus(ctx, inv.ID, from, to, inv.PaidAmount); err != nil {
		return nil, err
	}

	if to == StatusPaid && inv.Kind == KindManagement {
		if err := e.advanceLastPaid(ctx, inv.ClientID, inv.FeeEndDate); err != nil {
			// The payment itself is recorded; a stale marker is
			// corrected by the next successful payment.
			e.log.Error().Err(err).
				Str("client_id", inv.ClientID).
				Msg("failed to advance last-paid marker")
		}
	}
	return inv, nil
}

func (e *Engine) advanceLastPaid(ctx context.Context, clientID string, periodEnd Date) error {
	var lastErr error
	for attempt := 0; attempt <= e.MaxRetries; attempt++ {
		c, err := e.store.GetClient(ctx, clientID)
		if err != nil {
			return err
		}
		if c.LastPaidPeriodEnd != nil && !periodEnd.After(*c.LastPaidPeriodEnd) {
			return nil
		}
		err = e.store.AdvanceLastPaid(ctx, clientID, c.Version, periodEnd)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConcurrentModification) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// MarkOverdue transitions every issued invoice whose due date has passed to
// overdue. Returns the number of invoices transitioned.
func (e *Engine) MarkOverdue(ctx context.Context, today Date) (int, error) {
	invoices, err := e.store.ListInvoices(ctx, InvoiceFilter{
		Status:    StatusIssued,
		DueBefore: &today,
	})
	if err != nil {
		return 0, err
	}

	marked := 0
	for _, inv := range invoices {
		err := e.store.UpdateInvoiceStatus(ctx, inv.ID, StatusIssued, StatusOverdue, 0)
		if err != nil {
			// Lost the race to a concurrent payment or sweep; skip.
			if errors.Is(err, ErrConcurrentModification) {
				continue
			}
			return marked, err
		}
		marked++
	}
	return marked, nil
}

// DeleteInvoice removes a cancelled invoice. Non-cancelled invoices must go
// through the cancelled transition first; the owning client's last-invoiced
// marker never rolls back.
func (e *Engine) DeleteInvoice(ctx context.Context, invoiceID string) error {
	inv, err := e.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	if inv.Status != StatusCancelled {
		return ErrInvoiceNotDeletable
	}
	return e.store.DeleteInvoice(ctx, invoiceID)
}
