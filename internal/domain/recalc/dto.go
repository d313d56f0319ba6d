package recalc

import (
	"fmt"
	"time"

	"github.com/cmlabs-hris/productivity-engine/internal/pkg/bizday"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/validator"
)

// MaxRangeDays bounds a single job's date range.
const MaxRangeDays = 366

// ========================================
// REQUEST DTOs
// ========================================

type StartJobRequest struct {
	From        string   `json:"from"`
	To          string   `json:"to"`
	EmployeeIDs []string `json:"employee_ids,omitempty"`
	Stages      []string `json:"stages,omitempty"`
}

func (r *StartJobRequest) Validate() error {
	var errs validator.ValidationErrors

	from, fromErr := bizday.ParseDate(r.From)
	if validator.IsEmpty(r.From) {
		errs = append(errs, validator.ValidationError{Field: "from", Message: "from is required"})
	} else if fromErr != nil {
		errs = append(errs, validator.ValidationError{Field: "from", Message: "from must be in YYYY-MM-DD format"})
	}

	to, toErr := bizday.ParseDate(r.To)
	if validator.IsEmpty(r.To) {
		errs = append(errs, validator.ValidationError{Field: "to", Message: "to is required"})
	} else if toErr != nil {
		errs = append(errs, validator.ValidationError{Field: "to", Message: "to must be in YYYY-MM-DD format"})
	}

	if fromErr == nil && toErr == nil {
		if to.Before(from) {
			errs = append(errs, validator.ValidationError{Field: "to", Message: "to must not be before from"})
		} else if len(bizday.Range(from, to)) > MaxRangeDays {
			errs = append(errs, validator.ValidationError{
				Field:   "to",
				Message: fmt.Sprintf("date range must not exceed %d days", MaxRangeDays),
			})
		}
	}

	for _, id := range r.EmployeeIDs {
		if validator.IsEmpty(id) {
			errs = append(errs, validator.ValidationError{Field: "employee_ids", Message: "employee_ids must not contain empty values"})
			break
		}
	}
	if validator.HasDuplicates(r.EmployeeIDs) {
		errs = append(errs, validator.ValidationError{Field: "employee_ids", Message: "employee_ids must not contain duplicates"})
	}

	known := make([]string, len(AllStages))
	for i, s := range AllStages {
		known[i] = string(s)
	}
	for _, s := range r.Stages {
		if !validator.IsInSlice(s, known) {
			errs = append(errs, validator.ValidationError{Field: "stages", Message: fmt.Sprintf("unknown stage %q", s)})
			break
		}
	}
	if validator.HasDuplicates(r.Stages) {
		errs = append(errs, validator.ValidationError{Field: "stages", Message: "stages must not contain duplicates"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Params converts a validated request.
func (r *StartJobRequest) Params() JobParams {
	from, _ := bizday.ParseDate(r.From)
	to, _ := bizday.ParseDate(r.To)
	p := JobParams{From: from, To: to}
	if len(r.EmployeeIDs) > 0 {
		p.EmployeeIDs = append([]string(nil), r.EmployeeIDs...)
	}
	for _, s := range r.Stages {
		p.Stages = append(p.Stages, Stage(s))
	}
	return p
}

// ========================================
// RESPONSE DTOs
// ========================================

type JobResponse struct {
	ID                string            `json:"id"`
	From              string            `json:"from"`
	To                string            `json:"to"`
	EmployeeIDs       []string          `json:"employee_ids"`
	AllEmployees      bool              `json:"all_employees"`
	Stages            []Stage           `json:"stages"`
	CurrentStage      Stage             `json:"current_stage,omitempty"`
	Progress          map[Stage]float64 `json:"progress"`
	Status            Status            `json:"status"`
	ErrorCount        int               `json:"error_count"`
	Errors            []JobError        `json:"errors"`
	DataQualityIssues int               `json:"data_quality_issues"`
	Checkpoint        *Checkpoint       `json:"checkpoint,omitempty"`
	Failure           string            `json:"failure,omitempty"`
	Attempts          int               `json:"attempts"`
	CreatedAt         string            `json:"created_at"`
	StartedAt         *string           `json:"started_at,omitempty"`
	FinishedAt        *string           `json:"finished_at,omitempty"`
}

func NewJobResponse(j Job) JobResponse {
	resp := JobResponse{
		ID:                j.ID,
		From:              j.From.String(),
		To:                j.To.String(),
		EmployeeIDs:       j.EmployeeIDs,
		AllEmployees:      j.AllEmployees,
		Stages:            j.Stages,
		CurrentStage:      j.CurrentStage,
		Progress:          j.Progress,
		Status:            j.Status,
		ErrorCount:        len(j.Errors),
		Errors:            j.Errors,
		DataQualityIssues: j.DataQualityIssues,
		Checkpoint:        j.Checkpoint,
		Failure:           j.Failure,
		Attempts:          j.Attempts,
		CreatedAt:         j.CreatedAt.UTC().Format(time.RFC3339),
	}
	if resp.EmployeeIDs == nil {
		resp.EmployeeIDs = []string{}
	}
	if resp.Errors == nil {
		resp.Errors = []JobError{}
	}
	if j.StartedAt != nil {
		s := j.StartedAt.UTC().Format(time.RFC3339)
		resp.StartedAt = &s
	}
	if j.FinishedAt != nil {
		s := j.FinishedAt.UTC().Format(time.RFC3339)
		resp.FinishedAt = &s
	}
	return resp
}
