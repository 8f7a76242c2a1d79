package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/mbarbosa/gantry/pkg/models"
	"github.com/mbarbosa/gantry/pkg/persistence"
)

// Stats computes the dashboard projection and per-workflow performance
// windows from the execution ledger.
type Stats struct {
	logger *slog.Logger
	store  persistence.Persistence
}

// NewStats creates a new statistics service.
func NewStats(logger *slog.Logger, store persistence.Persistence) *Stats {
	return &Stats{
		logger: logger.With("module", "stats_service"),
		store:  store,
	}
}

// Dashboard returns the system-wide aggregate view.
func (s *Stats) Dashboard(ctx context.Context) (*models.DashboardStats, error) {
	totalWorkflows, err := s.store.WorkflowRepository().Count(ctx)
	if err != nil {
		return nil, err
	}

	activeWorkflows, err := s.store.WorkflowRepository().CountByStatus(ctx, models.WorkflowStatusActive)
	if err != nil {
		return nil, err
	}

	aggregates, err := s.store.ExecutionRepository().Aggregates(ctx)
	if err != nil {
		return nil, err
	}

	// Denominator is every run ever recorded, not only finished ones,
	// matching the per-workflow rate.
	successRate := 0.0
	if aggregates.Total > 0 {
		successRate = float64(aggregates.Completed) / float64(aggregates.Total) * 100
	}

	return &models.DashboardStats{
		TotalWorkflows:    totalWorkflows,
		ActiveWorkflows:   activeWorkflows,
		TotalExecutions:   aggregates.Total,
		RunningExecutions: aggregates.Running,
		RecentExecutions:  aggregates.Recent,
		SuccessRate:       successRate,
		AvgDuration:       aggregates.AvgDuration,
		LastUpdated:       time.Now().UTC(),
	}, nil
}

// WorkflowPerformance buckets a workflow's executions of the last days into
// daily totals.
func (s *Stats) WorkflowPerformance(ctx context.Context, workflowID string, days int) (*models.WorkflowPerformance, error) {
	if days <= 0 {
		days = 30
	}

	workflow, err := s.store.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	since := time.Now().UTC().AddDate(0, 0, -days)

	executions, err := s.store.ExecutionRepository().ListByWorkflowSince(ctx, workflowID, since)
	if err != nil {
		return nil, err
	}

	daily := make(map[string]models.DailyStats)

	var completed, total int64

	durations := make(map[string]float64)

	for _, execution := range executions {
		day := execution.StartedAt.UTC().Format("2006-01-02")
		bucket := daily[day]
		bucket.Total++
		total++

		switch execution.Status {
		case models.ExecutionStatusCompleted:
			bucket.Completed++
			completed++

			if execution.DurationSeconds != nil {
				durations[day] += *execution.DurationSeconds
			}
		case models.ExecutionStatusFailed:
			bucket.Failed++
		}

		daily[day] = bucket
	}

	for day, bucket := range daily {
		if bucket.Completed > 0 {
			bucket.AvgDuration = durations[day] / float64(bucket.Completed)
			daily[day] = bucket
		}
	}

	successRate := 0.0
	if total > 0 {
		successRate = float64(completed) / float64(total) * 100
	}

	return &models.WorkflowPerformance{
		WorkflowID:   workflowID,
		WorkflowName: workflow.Name,
		PeriodDays:   days,
		Daily:        daily,
		TotalRuns:    total,
		SuccessRate:  successRate,
	}, nil
}
