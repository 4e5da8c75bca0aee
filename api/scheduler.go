/*
scheduler.go - Automated generation and overdue-sweep scheduler

PURPOSE:
  Runs the monthly generation and the daily overdue sweep on cron schedules
  so a deployment without an external job runner still bills on time.

DESIGN:
  - robfig/cron drives both jobs; schedules come from configuration
  - The generation job targets the month containing its own run time,
    billing everything pending through the previous month
  - Re-running a schedule is harmless: generation is idempotent per
    client, the overdue sweep only moves issued invoices

USAGE:
  sched, err := NewScheduler(engine, cfg, log)
  sched.Start()
  // ... later
  sched.Stop()

SEE ALSO:
  - billing/orchestrator.go: Engine the jobs delegate to
  - config/config.go: Schedule expressions
*/
package api

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/warp/billing-engine/billing"
)

// SchedulerConfig holds the cron expressions for the background jobs.
type SchedulerConfig struct {
	// GenerateSchedule triggers a full generation run, e.g. "0 6 1 * *".
	GenerateSchedule string
	// OverdueSchedule triggers the overdue sweep, e.g. "0 1 * * *".
	OverdueSchedule string
}

// Scheduler runs the recurring billing jobs.
type Scheduler struct {
	engine *billing.Engine
	cron   *cron.Cron
	log    zerolog.Logger
}

// NewScheduler wires both jobs onto a cron runner. Returns an error if
// either schedule expression does not parse.
func NewScheduler(engine *billing.Engine, cfg SchedulerConfig, log zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		engine: engine,
		cron:   cron.New(),
		log:    log,
	}

	if _, err := s.cron.AddFunc(cfg.GenerateSchedule, s.runGeneration); err != nil {
		return nil, err
	}
	if _, err := s.cron.AddFunc(cfg.OverdueSchedule, s.runOverdueSweep); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("billing scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("billing scheduler stopped")
}

func (s *Scheduler) runGeneration() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	target := billing.MonthOf(billing.Today())
	result, err := s.engine.GenerateForMonth(ctx, target, billing.GenerateOptions{})
	if err != nil {
		s.log.Error().Err(err).
			Str("target", target.String()).
			Msg("scheduled generation failed")
		return
	}
	s.log.Info().
		Str("target", target.String()).
		Int("generated", result.Generated).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Msg("scheduled generation completed")
}

func (s *Scheduler) runOverdueSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	marked, err := s.engine.MarkOverdue(ctx, billing.Today())
	if err != nil {
		s.log.Error().Err(err).Msg("overdue sweep failed")
		return
	}
	if marked > 0 {
		s.log.Info().Int("marked", marked).Msg("overdue sweep completed")
	}
}
