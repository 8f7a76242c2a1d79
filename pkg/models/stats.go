package models

import "time"

// DashboardStats is the read-only aggregate projection over all workflows
// and executions.
type DashboardStats struct {
	TotalWorkflows    int64     `json:"total_workflows"`
	ActiveWorkflows   int64     `json:"active_workflows"`
	TotalExecutions   int64     `json:"total_executions"`
	RunningExecutions int64     `json:"running_executions"`
	RecentExecutions  int64     `json:"recent_executions"` // Started in the last 24h
	SuccessRate       float64   `json:"success_rate"`
	AvgDuration       float64   `json:"avg_duration"`
	LastUpdated       time.Time `json:"last_updated"`
}

// DailyStats is one day's bucket of a workflow performance window.
type DailyStats struct {
	Total       int64   `json:"total"`
	Completed   int64   `json:"completed"`
	Failed      int64   `json:"failed"`
	AvgDuration float64 `json:"avg_duration"`
}

// WorkflowPerformance is the per-workflow execution history window.
type WorkflowPerformance struct {
	WorkflowID   string                `json:"workflow_id"`
	WorkflowName string                `json:"workflow_name"`
	PeriodDays   int                   `json:"period_days"`
	Daily        map[string]DailyStats `json:"daily_stats"` // keyed by ISO date
	TotalRuns    int64                 `json:"total_period_executions"`
	SuccessRate  float64               `json:"period_success_rate"`
}
