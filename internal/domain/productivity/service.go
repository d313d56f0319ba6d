package productivity

import (
	"context"
	"time"

	"github.com/cmlabs-hris/productivity-engine/internal/pkg/bizday"
)

// DayResult is the outcome of gap analysis for one employee-day.
type DayResult struct {
	Score       DailyScore
	IdlePeriods []IdlePeriod
	// Activities are the valid events that took part in the analysis, ordered by window start.
	Activities []ActivityEvent
	Roles      map[string]RoleConfig
	RangeStart time.Time
	RangeEnd   time.Time
}

// ScoreService is the active-time calculator. All methods are idempotent.
type ScoreService interface {
	// ComputeDailyScore calculates and persists the score and historical idle periods of one employee-day.
	ComputeDailyScore(ctx context.Context, employeeID string, date bizday.Date) (DailyScore, error)

	// AnalyzeDay runs the calculation without writing anything.
	AnalyzeDay(ctx context.Context, employeeID string, date bizday.Date) (DayResult, error)

	// RebuildIdlePeriods re-runs gap analysis and replaces only the day's historical idle periods.
	RebuildIdlePeriods(ctx context.Context, employeeID string, date bizday.Date) (int, error)

	GetDailyScore(ctx context.Context, employeeID string, date bizday.Date) (DailyScore, error)
}

type IdleMonitor interface {
	// CheckIdle returns an alert when the clocked-in employee has been idle beyond tolerance, nil otherwise.
	CheckIdle(ctx context.Context, employeeID string) (*Alert, error)

	// CheckAll sweeps every active employee.
	CheckAll(ctx context.Context) ([]Alert, error)

	// AlertsForDay turns the excess gaps of a historical analysis into alerts.
	AlertsForDay(result DayResult) []Alert
}
