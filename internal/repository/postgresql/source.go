package postgresql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cmlabs-hris/productivity-engine/internal/domain/productivity"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/database"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type sourceRepository struct {
	db *database.DB
}

func NewSourceRepository(db *database.DB) productivity.SourceRepository {
	return &sourceRepository{db: db}
}

// ListClockSessions implements productivity.SourceRepository.
func (r *sourceRepository) ListClockSessions(ctx context.Context, employeeID string, start, end time.Time) ([]productivity.ClockSession, error) {
	q := GetQuerier(ctx, r.db)

	// Negative sessions are returned only for the day their clock-in falls on.
	query := `
		SELECT id, employee_id, clock_in, clock_out, source
		FROM clock_sessions
		WHERE employee_id = $1
		  AND clock_in < $3
		  AND (
		    clock_out IS NULL
		    OR (clock_out >= clock_in AND clock_out > $2)
		    OR (clock_out < clock_in AND clock_in >= $2)
		  )
		ORDER BY clock_in
	`

	rows, err := q.Query(ctx, query, employeeID, start, end)
	if err != nil {
		return nil, storeError("list clock sessions", err)
	}
	defer rows.Close()

	var sessions []productivity.ClockSession
	for rows.Next() {
		var s productivity.ClockSession
		if err := rows.Scan(&s.ID, &s.EmployeeID, &s.ClockIn, &s.ClockOut, &s.Source); err != nil {
			return nil, storeError("scan clock session", err)
		}
		s.ClockIn = s.ClockIn.UTC()
		if s.ClockOut != nil {
			out := s.ClockOut.UTC()
			s.ClockOut = &out
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list clock sessions", err)
	}

	return sessions, nil
}

// ListActivityEvents implements productivity.SourceRepository.
func (r *sourceRepository) ListActivityEvents(ctx context.Context, employeeID string, start, end time.Time) ([]productivity.ActivityEvent, error) {
	q := GetQuerier(ctx, r.db)

	query := `
		SELECT id, employee_id, role_id, activity_type, item_count, window_start, window_end, source
		FROM activity_events
		WHERE employee_id = $1
		  AND window_start >= $2
		  AND window_start < $3
		ORDER BY window_start, id
	`

	rows, err := q.Query(ctx, query, employeeID, start, end)
	if err != nil {
		return nil, storeError("list activity events", err)
	}
	defer rows.Close()

	var events []productivity.ActivityEvent
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, storeError("scan activity event", err)
		}
		events = append(events, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list activity events", err)
	}

	return events, nil
}

// GetRoleConfig implements productivity.SourceRepository.
func (r *sourceRepository) GetRoleConfig(ctx context.Context, roleID string) (productivity.RoleConfig, error) {
	q := GetQuerier(ctx, r.db)

	query := `
		SELECT role_id, role_type, multiplier::text, expected_per_hour,
		       base_idle_threshold_minutes, seconds_per_item
		FROM role_configs
		WHERE role_id = $1
	`

	var (
		role       productivity.RoleConfig
		multiplier string
	)
	err := q.QueryRow(ctx, query, roleID).Scan(
		&role.RoleID, &role.Type, &multiplier, &role.ExpectedPerHour,
		&role.BaseIdleThresholdMinutes, &role.SecondsPerItem,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return productivity.RoleConfig{}, fmt.Errorf("role %s: %w", roleID, productivity.ErrRoleConfigNotFound)
		}
		return productivity.RoleConfig{}, storeError("get role config", err)
	}

	role.Multiplier, err = decimal.NewFromString(multiplier)
	if err != nil {
		return productivity.RoleConfig{}, fmt.Errorf("role %s multiplier %q: %w", roleID, multiplier, productivity.ErrInvalidRoleConfig)
	}

	return role, nil
}

// ListActiveEmployees implements productivity.SourceRepository.
func (r *sourceRepository) ListActiveEmployees(ctx context.Context) ([]string, error) {
	q := GetQuerier(ctx, r.db)

	rows, err := q.Query(ctx, `SELECT id FROM employees WHERE active ORDER BY id`)
	if err != nil {
		return nil, storeError("list active employees", err)
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, storeError("list active employees", err)
	}
	return ids, nil
}

// GetEmployee implements productivity.SourceRepository.
func (r *sourceRepository) GetEmployee(ctx context.Context, employeeID string) (productivity.Employee, error) {
	q := GetQuerier(ctx, r.db)

	query := `
		SELECT id, timezone, default_role_id, active
		FROM employees
		WHERE id = $1
	`

	var emp productivity.Employee
	err := q.QueryRow(ctx, query, employeeID).Scan(&emp.ID, &emp.Timezone, &emp.DefaultRoleID, &emp.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return productivity.Employee{}, fmt.Errorf("employee %s: %w", employeeID, productivity.ErrEmployeeNotFound)
		}
		return productivity.Employee{}, storeError("get employee", err)
	}

	return emp, nil
}

// GetOpenSession implements productivity.SourceRepository.
func (r *sourceRepository) GetOpenSession(ctx context.Context, employeeID string) (productivity.ClockSession, error) {
	q := GetQuerier(ctx, r.db)

	query := `
		SELECT id, employee_id, clock_in, clock_out, source
		FROM clock_sessions
		WHERE employee_id = $1
		  AND clock_out IS NULL
		ORDER BY clock_in DESC
		LIMIT 1
	`

	var s productivity.ClockSession
	err := q.QueryRow(ctx, query, employeeID).Scan(&s.ID, &s.EmployeeID, &s.ClockIn, &s.ClockOut, &s.Source)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return productivity.ClockSession{}, productivity.ErrNoOpenSession
		}
		return productivity.ClockSession{}, storeError("get open session", err)
	}
	s.ClockIn = s.ClockIn.UTC()

	return s, nil
}

// GetLastActivity implements productivity.SourceRepository.
func (r *sourceRepository) GetLastActivity(ctx context.Context, employeeID string, before time.Time) (productivity.ActivityEvent, error) {
	q := GetQuerier(ctx, r.db)

	query := `
		SELECT id, employee_id, role_id, activity_type, item_count, window_start, window_end, source
		FROM activity_events
		WHERE employee_id = $1
		  AND window_end <= $2
		  AND window_end >= window_start
		  AND item_count >= 0
		ORDER BY window_end DESC
		LIMIT 1
	`

	a, err := scanActivity(q.QueryRow(ctx, query, employeeID, before))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return productivity.ActivityEvent{}, productivity.ErrNoActivity
		}
		return productivity.ActivityEvent{}, storeError("get last activity", err)
	}

	return a, nil
}

func scanActivity(row pgx.Row) (productivity.ActivityEvent, error) {
	var a productivity.ActivityEvent
	err := row.Scan(&a.ID, &a.EmployeeID, &a.RoleID, &a.ActivityType, &a.ItemCount, &a.WindowStart, &a.WindowEnd, &a.Source)
	a.WindowStart = a.WindowStart.UTC()
	a.WindowEnd = a.WindowEnd.UTC()
	return a, err
}
