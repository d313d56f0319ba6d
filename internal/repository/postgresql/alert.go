package postgresql

import (
	"context"
	"fmt"

	"github.com/cmlabs-hris/productivity-engine/internal/domain/productivity"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/database"
	"github.com/google/uuid"
)

type alertRepository struct {
	db *database.DB
}

func NewAlertRepository(db *database.DB) productivity.AlertRepository {
	return &alertRepository{db: db}
}

// InsertAlert implements productivity.AlertRepository.
func (r *alertRepository) InsertAlert(ctx context.Context, alert productivity.Alert) error {
	q := GetQuerier(ctx, r.db)

	if alert.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate alert id: %w", err)
		}
		alert.ID = id.String()
	}

	query := `
		INSERT INTO alerts (
			id, employee_id, date, type, severity, message,
			idle_minutes, threshold_minutes, source, created_at
		) VALUES (
			$1, $2, $3::date, $4, $5, $6, $7, $8, $9, $10
		)
	`

	_, err := q.Exec(ctx, query,
		alert.ID,
		alert.EmployeeID,
		alert.Date.String(),
		alert.Type,
		alert.Severity,
		alert.Message,
		alert.IdleMinutes,
		alert.ThresholdMinutes,
		alert.Source,
		alert.CreatedAt,
	)
	if err != nil {
		return storeError("insert alert", err)
	}

	return nil
}
