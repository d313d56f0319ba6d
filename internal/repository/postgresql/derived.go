package postgresql

import (
	"context"
	"errors"
	"fmt"

	"github.com/cmlabs-hris/productivity-engine/internal/domain/productivity"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/bizday"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/database"
	"github.com/jackc/pgx/v5"
)

type derivedRepository struct {
	db *database.DB
}

func NewDerivedRepository(db *database.DB) productivity.DerivedRepository {
	return &derivedRepository{db: db}
}

// clearFilters restricts a clear to engine-rebuilt rows; live monitor output is kept.
var clearFilters = map[productivity.DerivedTable]string{
	productivity.TableIdlePeriods: fmt.Sprintf(" AND source = '%s'", productivity.IdleSourceHistorical),
	productivity.TableAlerts:      fmt.Sprintf(" AND source = '%s'", productivity.AlertSourceRecalculation),
	productivity.TableDayRoles:    "",
	productivity.TableDayStatus:   "",
}

// ClearDerivedData implements productivity.DerivedRepository.
func (r *derivedRepository) ClearDerivedData(ctx context.Context, table productivity.DerivedTable, from, to bizday.Date, employeeIDs []string) (int64, error) {
	filter, ok := clearFilters[table]
	if !ok {
		return 0, fmt.Errorf("unknown derived table %q", table)
	}
	q := GetQuerier(ctx, r.db)

	query := fmt.Sprintf(`DELETE FROM %s WHERE date BETWEEN $1::date AND $2::date`, table) + filter
	args := []any{from.String(), to.String()}
	if employeeIDs != nil {
		query += ` AND employee_id = ANY($3)`
		args = append(args, employeeIDs)
	}

	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return 0, storeError(fmt.Sprintf("clear %s", table), err)
	}

	return tag.RowsAffected(), nil
}

// UpsertDayRole implements productivity.DerivedRepository.
func (r *derivedRepository) UpsertDayRole(ctx context.Context, role productivity.DayRole) error {
	q := GetQuerier(ctx, r.db)

	query := `
		INSERT INTO employee_day_roles (employee_id, date, role_id, item_count)
		VALUES ($1, $2::date, $3, $4)
		ON CONFLICT (employee_id, date) DO UPDATE SET
			role_id    = EXCLUDED.role_id,
			item_count = EXCLUDED.item_count
	`

	if _, err := q.Exec(ctx, query, role.EmployeeID, role.Date.String(), role.RoleID, role.ItemCount); err != nil {
		return storeError("upsert day role", err)
	}
	return nil
}

// UpsertDayStatus implements productivity.DerivedRepository.
func (r *derivedRepository) UpsertDayStatus(ctx context.Context, status productivity.DayStatus) error {
	q := GetQuerier(ctx, r.db)

	query := `
		INSERT INTO employee_day_status (employee_id, date, status, efficiency)
		VALUES ($1, $2::date, $3, $4)
		ON CONFLICT (employee_id, date) DO UPDATE SET
			status     = EXCLUDED.status,
			efficiency = EXCLUDED.efficiency
	`

	if _, err := q.Exec(ctx, query, status.EmployeeID, status.Date.String(), status.Status, status.Efficiency); err != nil {
		return storeError("upsert day status", err)
	}
	return nil
}

// RefreshTrends implements productivity.DerivedRepository.
func (r *derivedRepository) RefreshTrends(ctx context.Context, employeeID string, from, to bizday.Date) (int, error) {
	weekFrom := from.StartOfWeek()
	weekTo := to.StartOfWeek().AddDays(6)

	var refreshed int
	err := WithTransaction(ctx, r.db, func(ctx context.Context, _ pgx.Tx) error {
		q := GetQuerier(ctx, r.db)

		_, err := q.Exec(ctx, `
			DELETE FROM employee_weekly_trends
			WHERE employee_id = $1 AND week_start BETWEEN $2::date AND $3::date
		`, employeeID, weekFrom.String(), weekTo.String())
		if err != nil {
			return storeError("delete weekly trends", err)
		}

		// date_trunc('week') starts weeks on Monday, matching bizday.StartOfWeek.
		tag, err := q.Exec(ctx, `
			INSERT INTO employee_weekly_trends (
				employee_id, week_start, days, items_processed, active_minutes,
				clocked_minutes, efficiency_rate, points_earned
			)
			SELECT employee_id,
			       date_trunc('week', date)::date AS week_start,
			       COUNT(*),
			       SUM(items_processed),
			       SUM(active_minutes),
			       SUM(clocked_minutes),
			       CASE WHEN SUM(clocked_minutes) > 0 THEN SUM(active_minutes) / SUM(clocked_minutes) ELSE 0 END,
			       SUM(points_earned)
			FROM daily_scores
			WHERE employee_id = $1 AND date BETWEEN $2::date AND $3::date
			GROUP BY employee_id, date_trunc('week', date)
		`, employeeID, weekFrom.String(), weekTo.String())
		if err != nil {
			return storeError("insert weekly trends", err)
		}
		refreshed = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		if !errors.Is(err, productivity.ErrStoreUnavailable) {
			err = storeError("refresh weekly trends", err)
		}
		return 0, err
	}

	return refreshed, nil
}
