package productivity

import (
	"fmt"
	"time"

	"github.com/cmlabs-hris/productivity-engine/internal/pkg/bizday"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/validator"
)

// ========================================
// SCORE DTOs
// ========================================

type ComputeScoreRequest struct {
	EmployeeID string `json:"employee_id"`
	Date       string `json:"date"`
}

func (r *ComputeScoreRequest) Validate() error {
	var errs validator.ValidationErrors

	if validator.IsEmpty(r.EmployeeID) {
		errs = append(errs, validator.ValidationError{
			Field:   "employee_id",
			Message: "employee_id is required",
		})
	}

	if validator.IsEmpty(r.Date) {
		errs = append(errs, validator.ValidationError{
			Field:   "date",
			Message: "date is required",
		})
	} else if _, ok := validator.IsValidDate(r.Date); !ok {
		errs = append(errs, validator.ValidationError{
			Field:   "date",
			Message: "date must be in YYYY-MM-DD format",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (r *ComputeScoreRequest) ParsedDate() bizday.Date {
	d, _ := bizday.ParseDate(r.Date)
	return d
}

type DailyScoreResponse struct {
	EmployeeID        string             `json:"employee_id"`
	Date              string             `json:"date"`
	ItemsProcessed    int                `json:"items_processed"`
	ActiveMinutes     float64            `json:"active_minutes"`
	ClockedMinutes    float64            `json:"clocked_minutes"`
	EfficiencyRate    float64            `json:"efficiency_rate"`
	PointsEarned      string             `json:"points_earned"`
	DataQualityIssues []DataQualityIssue `json:"data_quality_issues,omitempty"`
}

func NewDailyScoreResponse(s DailyScore) DailyScoreResponse {
	return DailyScoreResponse{
		EmployeeID:        s.EmployeeID,
		Date:              s.Date.String(),
		ItemsProcessed:    s.ItemsProcessed,
		ActiveMinutes:     s.ActiveMinutes,
		ClockedMinutes:    s.ClockedMinutes,
		EfficiencyRate:    s.EfficiencyRate,
		PointsEarned:      s.PointsEarned.StringFixed(2),
		DataQualityIssues: s.DataQualityIssues,
	}
}

// ========================================
// ALERT DTOs
// ========================================

type AlertResponse struct {
	ID               string  `json:"id"`
	EmployeeID       string  `json:"employee_id"`
	Date             string  `json:"date"`
	Type             string  `json:"type"`
	Severity         string  `json:"severity"`
	Message          string  `json:"message"`
	IdleMinutes      float64 `json:"idle_minutes"`
	ThresholdMinutes float64 `json:"threshold_minutes"`
	Source           string  `json:"source"`
	CreatedAt        string  `json:"created_at"`
}

func NewAlertResponse(a Alert) AlertResponse {
	return AlertResponse{
		ID:               a.ID,
		EmployeeID:       a.EmployeeID,
		Date:             a.Date.String(),
		Type:             a.Type,
		Severity:         string(a.Severity),
		Message:          a.Message,
		IdleMinutes:      a.IdleMinutes,
		ThresholdMinutes: a.ThresholdMinutes,
		Source:           string(a.Source),
		CreatedAt:        a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type IdleCheckResponse struct {
	EmployeeID string         `json:"employee_id"`
	Idle       bool           `json:"idle"`
	Alert      *AlertResponse `json:"alert,omitempty"`
}

// Validate checks the invariants a role config must hold before it can price items.
func (rc RoleConfig) Validate() error {
	switch rc.Type {
	case RoleTypeContinuous:
	case RoleTypeBatch:
		if rc.ExpectedPerHour <= 0 {
			return fmt.Errorf("%w: batch role %s must define expected items per hour", ErrInvalidRoleConfig, rc.RoleID)
		}
	default:
		return fmt.Errorf("%w: role %s has unknown type %q", ErrInvalidRoleConfig, rc.RoleID, rc.Type)
	}
	if rc.BaseIdleThresholdMinutes < 0 {
		return fmt.Errorf("%w: role %s has negative idle threshold", ErrInvalidRoleConfig, rc.RoleID)
	}
	return nil
}
