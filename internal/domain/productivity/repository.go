package productivity

import (
	"context"
	"time"

	"github.com/cmlabs-hris/productivity-engine/internal/pkg/bizday"
)

// SourceRepository reads the validated records delivered by the time-clock and
// production-scan collaborators. The engine never writes through it.
type SourceRepository interface {
	// ListClockSessions returns sessions overlapping [start, end), including open ones.
	ListClockSessions(ctx context.Context, employeeID string, start, end time.Time) ([]ClockSession, error)

	// ListActivityEvents returns events whose window starts in [start, end), ordered by window start.
	ListActivityEvents(ctx context.Context, employeeID string, start, end time.Time) ([]ActivityEvent, error)

	// GetRoleConfig returns ErrRoleConfigNotFound when the role is unknown.
	GetRoleConfig(ctx context.Context, roleID string) (RoleConfig, error)

	ListActiveEmployees(ctx context.Context) ([]string, error)

	// GetEmployee returns ErrEmployeeNotFound when the employee is unknown.
	GetEmployee(ctx context.Context, employeeID string) (Employee, error)

	// GetOpenSession returns the latest session without clock-out, or ErrNoOpenSession.
	GetOpenSession(ctx context.Context, employeeID string) (ClockSession, error)

	// GetLastActivity returns the event with the latest window end at or before `before`, or ErrNoActivity.
	GetLastActivity(ctx context.Context, employeeID string, before time.Time) (ActivityEvent, error)
}

type ScoreRepository interface {
	// UpsertDailyScore replaces the full row for (employee, date).
	UpsertDailyScore(ctx context.Context, score DailyScore) error

	// SaveDay replaces the daily score and the day's historical idle periods in one transaction.
	SaveDay(ctx context.Context, score DailyScore, periods []IdlePeriod) error

	// ReplaceIdlePeriods swaps the historical idle periods of one employee-day.
	ReplaceIdlePeriods(ctx context.Context, employeeID string, date bizday.Date, periods []IdlePeriod) error

	InsertIdlePeriod(ctx context.Context, period IdlePeriod) error

	// GetDailyScore returns ErrDailyScoreNotFound when no row exists.
	GetDailyScore(ctx context.Context, employeeID string, date bizday.Date) (DailyScore, error)

	ListDailyScores(ctx context.Context, employeeID string, from, to bizday.Date) ([]DailyScore, error)
}

type AlertRepository interface {
	InsertAlert(ctx context.Context, alert Alert) error
}

// DerivedRepository owns the tables the recalculation orchestrator rebuilds.
type DerivedRepository interface {
	// ClearDerivedData deletes rows of table in [from, to]. A nil employeeIDs clears every employee.
	ClearDerivedData(ctx context.Context, table DerivedTable, from, to bizday.Date, employeeIDs []string) (int64, error)

	UpsertDayRole(ctx context.Context, role DayRole) error
	UpsertDayStatus(ctx context.Context, status DayStatus) error

	// RefreshTrends recomputes weekly rollups for the weeks touching [from, to].
	RefreshTrends(ctx context.Context, employeeID string, from, to bizday.Date) (int, error)
}
