// Package scheduler dispatches schedule-triggered workflows per their cron
// configuration and sweeps expired approvals.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mbarbosa/gantry/pkg/engine"
	"github.com/mbarbosa/gantry/pkg/models"
	"github.com/mbarbosa/gantry/pkg/persistence"
	"github.com/robfig/cron/v3"
)

// Dispatcher is the engine surface the scheduler drives: it creates queued
// executions (a worker picks them up) and resolves expired approvals.
type Dispatcher interface {
	CreateExecution(ctx context.Context, workflowID, triggeredBy string, payload map[string]any) (*models.WorkflowExecution, error)
	ExpireApprovals(ctx context.Context, now time.Time) (int, error)
}

type job struct {
	entryID cron.EntryID
	expr    string
}

// Scheduler keeps one cron entry per active schedule-triggered workflow,
// refreshed periodically from the store, plus the approval expiry sweep.
type Scheduler struct {
	logger     *slog.Logger
	store      persistence.Persistence
	dispatcher Dispatcher
	cron       *cron.Cron

	mu   sync.Mutex
	jobs map[string]job // workflowID -> cron entry
}

// New creates a scheduler.
func New(logger *slog.Logger, store persistence.Persistence, dispatcher Dispatcher) *Scheduler {
	return &Scheduler{
		logger:     logger.With("module", "scheduler"),
		store:      store,
		dispatcher: dispatcher,
		jobs:       make(map[string]job),
	}
}

// Start syncs jobs from the store and starts the cron loop. The job table is
// re-synced and expired approvals are swept every minute.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	err := s.Refresh(ctx)
	if err != nil {
		return err
	}

	_, err = s.cron.AddFunc("@every 1m", func() {
		if err := s.Refresh(context.Background()); err != nil {
			s.logger.Error("Failed to refresh scheduled workflows", "error", err)
		}

		s.Sweep(context.Background())
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Scheduler started", "jobs", len(s.jobs))

	return nil
}

// Stop halts the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}

	stopped := s.cron.Stop()

	select {
	case <-stopped.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Scheduler stopped")

	return nil
}

// Refresh syncs the cron job table with the store: active schedule-triggered
// workflows gain a job, deactivated or rescheduled ones are replaced or
// removed. Workflows with an invalid cron expression are skipped.
func (s *Scheduler) Refresh(ctx context.Context) error {
	workflows, err := s.store.WorkflowRepository().ListScheduled(ctx)
	if err != nil {
		return err
	}

	desired := make(map[string]string, len(workflows))

	for _, workflow := range workflows {
		expr, err := models.CronExpression(workflow.ScheduleConfig)
		if err != nil {
			s.logger.WarnContext(ctx, "Skipping workflow with invalid schedule",
				"workflow_id", workflow.ID, "error", err)

			continue
		}

		desired[workflow.ID] = expr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for workflowID, j := range s.jobs {
		if expr, ok := desired[workflowID]; ok && expr == j.expr {
			continue
		}

		s.cron.Remove(j.entryID)
		delete(s.jobs, workflowID)
	}

	for workflowID, expr := range desired {
		if _, ok := s.jobs[workflowID]; ok {
			continue
		}

		entryID, err := s.cron.AddFunc(expr, func(id string) func() {
			return func() { s.RunNow(context.Background(), id) }
		}(workflowID))
		if err != nil {
			s.logger.WarnContext(ctx, "Failed to register cron job",
				"workflow_id", workflowID, "cron", expr, "error", err)

			continue
		}

		s.jobs[workflowID] = job{entryID: entryID, expr: expr}
		s.logger.InfoContext(ctx, "Registered scheduled workflow", "workflow_id", workflowID, "cron", expr)
	}

	return nil
}

// RunNow creates one queued execution for the workflow, triggered by
// "scheduler". A workflow deactivated between refreshes is skipped silently.
func (s *Scheduler) RunNow(ctx context.Context, workflowID string) {
	execution, err := s.dispatcher.CreateExecution(ctx, workflowID, "scheduler", nil)
	if err != nil {
		if errors.Is(err, engine.ErrWorkflowNotActive) || persistence.IsWorkflowNotFound(err) {
			s.logger.DebugContext(ctx, "Skipping scheduled run", "workflow_id", workflowID, "error", err)

			return
		}

		s.logger.ErrorContext(ctx, "Failed to create scheduled execution",
			"workflow_id", workflowID, "error", err)

		return
	}

	s.logger.InfoContext(ctx, "Scheduled execution created",
		"workflow_id", workflowID, "execution_id", execution.ID)
}

// Sweep auto-denies approvals whose window has passed.
func (s *Scheduler) Sweep(ctx context.Context) {
	resolved, err := s.dispatcher.ExpireApprovals(ctx, time.Now().UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "Approval expiry sweep failed", "error", err)
	}

	if resolved > 0 {
		s.logger.InfoContext(ctx, "Expired approvals auto-denied", "count", resolved)
	}
}

// ScheduledWorkflows returns the workflow IDs with a registered cron job.
func (s *Scheduler) ScheduledWorkflows() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}

	return ids
}
