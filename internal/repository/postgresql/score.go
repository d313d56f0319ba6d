package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cmlabs-hris/productivity-engine/internal/domain/productivity"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/bizday"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/database"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type scoreRepository struct {
	db *database.DB
}

func NewScoreRepository(db *database.DB) productivity.ScoreRepository {
	return &scoreRepository{db: db}
}

// UpsertDailyScore implements productivity.ScoreRepository.
func (r *scoreRepository) UpsertDailyScore(ctx context.Context, score productivity.DailyScore) error {
	q := GetQuerier(ctx, r.db)

	issues := score.DataQualityIssues
	if issues == nil {
		issues = []productivity.DataQualityIssue{}
	}
	issuesJSON, err := json.Marshal(issues)
	if err != nil {
		return fmt.Errorf("failed to encode data quality issues: %w", err)
	}

	query := `
		INSERT INTO daily_scores (
			employee_id, date, items_processed, active_minutes, clocked_minutes,
			efficiency_rate, points_earned, data_quality_issues, calculated_at
		) VALUES (
			$1, $2::date, $3, $4, $5, $6, $7::numeric, $8::jsonb, NOW()
		)
		ON CONFLICT (employee_id, date) DO UPDATE SET
			items_processed     = EXCLUDED.items_processed,
			active_minutes      = EXCLUDED.active_minutes,
			clocked_minutes     = EXCLUDED.clocked_minutes,
			efficiency_rate     = EXCLUDED.efficiency_rate,
			points_earned       = EXCLUDED.points_earned,
			data_quality_issues = EXCLUDED.data_quality_issues,
			calculated_at       = EXCLUDED.calculated_at
	`

	_, err = q.Exec(ctx, query,
		score.EmployeeID,
		score.Date.String(),
		score.ItemsProcessed,
		score.ActiveMinutes,
		score.ClockedMinutes,
		score.EfficiencyRate,
		score.PointsEarned.String(),
		string(issuesJSON),
	)
	if err != nil {
		return storeError("upsert daily score", err)
	}

	return nil
}

// SaveDay implements productivity.ScoreRepository.
func (r *scoreRepository) SaveDay(ctx context.Context, score productivity.DailyScore, periods []productivity.IdlePeriod) error {
	err := WithTransaction(ctx, r.db, func(ctx context.Context, _ pgx.Tx) error {
		if err := r.UpsertDailyScore(ctx, score); err != nil {
			return err
		}
		return r.replaceIdlePeriods(ctx, score.EmployeeID, score.Date, periods)
	})
	if err != nil && !errors.Is(err, productivity.ErrStoreUnavailable) {
		return storeError("save day", err)
	}
	return err
}

// ReplaceIdlePeriods implements productivity.ScoreRepository.
func (r *scoreRepository) ReplaceIdlePeriods(ctx context.Context, employeeID string, date bizday.Date, periods []productivity.IdlePeriod) error {
	err := WithTransaction(ctx, r.db, func(ctx context.Context, _ pgx.Tx) error {
		return r.replaceIdlePeriods(ctx, employeeID, date, periods)
	})
	if err != nil && !errors.Is(err, productivity.ErrStoreUnavailable) {
		return storeError("replace idle periods", err)
	}
	return err
}

// replaceIdlePeriods leaves live periods recorded by the idle monitor untouched.
func (r *scoreRepository) replaceIdlePeriods(ctx context.Context, employeeID string, date bizday.Date, periods []productivity.IdlePeriod) error {
	q := GetQuerier(ctx, r.db)

	_, err := q.Exec(ctx, `
		DELETE FROM idle_periods
		WHERE employee_id = $1 AND date = $2::date AND source = $3
	`, employeeID, date.String(), productivity.IdleSourceHistorical)
	if err != nil {
		return storeError("delete idle periods", err)
	}

	for _, p := range periods {
		if err := r.InsertIdlePeriod(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// InsertIdlePeriod implements productivity.ScoreRepository.
func (r *scoreRepository) InsertIdlePeriod(ctx context.Context, period productivity.IdlePeriod) error {
	q := GetQuerier(ctx, r.db)

	if period.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate idle period id: %w", err)
		}
		period.ID = id.String()
	}

	query := `
		INSERT INTO idle_periods (
			id, employee_id, date, kind, source, start_time, end_time,
			duration_minutes, threshold_minutes, excess_minutes
		) VALUES (
			$1, $2, $3::date, $4, $5, $6, $7, $8, $9, $10
		)
	`

	_, err := q.Exec(ctx, query,
		period.ID,
		period.EmployeeID,
		period.Date.String(),
		period.Kind,
		period.Source,
		period.StartTime,
		period.EndTime,
		period.DurationMinutes,
		period.ThresholdMinutes,
		period.ExcessMinutes,
	)
	if err != nil {
		return storeError("insert idle period", err)
	}

	return nil
}

const dailyScoreColumns = `
	employee_id, date, items_processed, active_minutes, clocked_minutes,
	efficiency_rate, points_earned::text, data_quality_issues
`

// GetDailyScore implements productivity.ScoreRepository.
func (r *scoreRepository) GetDailyScore(ctx context.Context, employeeID string, date bizday.Date) (productivity.DailyScore, error) {
	q := GetQuerier(ctx, r.db)

	query := `SELECT ` + dailyScoreColumns + `
		FROM daily_scores
		WHERE employee_id = $1 AND date = $2::date
	`

	score, err := scanDailyScore(q.QueryRow(ctx, query, employeeID, date.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return productivity.DailyScore{}, productivity.ErrDailyScoreNotFound
		}
		return productivity.DailyScore{}, storeError("get daily score", err)
	}

	return score, nil
}

// ListDailyScores implements productivity.ScoreRepository.
func (r *scoreRepository) ListDailyScores(ctx context.Context, employeeID string, from, to bizday.Date) ([]productivity.DailyScore, error) {
	q := GetQuerier(ctx, r.db)

	query := `SELECT ` + dailyScoreColumns + `
		FROM daily_scores
		WHERE employee_id = $1 AND date BETWEEN $2::date AND $3::date
		ORDER BY date
	`

	rows, err := q.Query(ctx, query, employeeID, from.String(), to.String())
	if err != nil {
		return nil, storeError("list daily scores", err)
	}
	defer rows.Close()

	var scores []productivity.DailyScore
	for rows.Next() {
		s, err := scanDailyScore(rows)
		if err != nil {
			return nil, storeError("scan daily score", err)
		}
		scores = append(scores, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list daily scores", err)
	}

	return scores, nil
}

func scanDailyScore(row pgx.Row) (productivity.DailyScore, error) {
	var (
		s      productivity.DailyScore
		date   time.Time
		points string
		issues []byte
	)
	err := row.Scan(
		&s.EmployeeID, &date, &s.ItemsProcessed, &s.ActiveMinutes, &s.ClockedMinutes,
		&s.EfficiencyRate, &points, &issues,
	)
	if err != nil {
		return productivity.DailyScore{}, err
	}

	s.Date = bizday.FromTime(date)
	if s.PointsEarned, err = decimal.NewFromString(points); err != nil {
		return productivity.DailyScore{}, fmt.Errorf("decode points %q: %w", points, err)
	}
	if len(issues) > 0 {
		if err := json.Unmarshal(issues, &s.DataQualityIssues); err != nil {
			return productivity.DailyScore{}, fmt.Errorf("decode data quality issues: %w", err)
		}
	}
	if len(s.DataQualityIssues) == 0 {
		s.DataQualityIssues = nil
	}
	return s, nil
}
