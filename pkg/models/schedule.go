package models

import (
	"errors"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule is returned when a schedule configuration cannot be
// parsed.
var ErrInvalidSchedule = errors.New("invalid schedule configuration")

// CronExpression extracts the cron expression from a schedule-triggered
// workflow's schedule_config and validates it against the standard 5-field
// format (minute hour day month weekday).
func CronExpression(scheduleConfig map[string]any) (string, error) {
	expr, _ := scheduleConfig["cron"].(string)
	if expr == "" {
		return "", ErrInvalidSchedule
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(expr); err != nil {
		return "", errors.Join(ErrInvalidSchedule, err)
	}

	return expr, nil
}
