package recalc

import (
	"time"

	"github.com/cmlabs-hris/productivity-engine/internal/domain/productivity"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/bizday"
)

type Stage string

const (
	StageClear         Stage = "clear"
	StageScores        Stage = "scores"
	StageIdlePeriods   Stage = "idle-periods"
	StageAlerts        Stage = "alerts"
	StageDerivedRoles  Stage = "derived-roles"
	StageDerivedStatus Stage = "derived-status"
	StageCacheRefresh  Stage = "cache-refresh"
)

// AllStages lists the stages in execution order.
var AllStages = []Stage{
	StageClear,
	StageScores,
	StageIdlePeriods,
	StageAlerts,
	StageDerivedRoles,
	StageDerivedStatus,
	StageCacheRefresh,
}

// Order returns the stage's position in AllStages, or -1.
func (s Stage) Order() int {
	for i, st := range AllStages {
		if st == s {
			return i
		}
	}
	return -1
}

// CanonicalStages filters AllStages down to the requested subset. An empty request selects every stage.
func CanonicalStages(requested []Stage) []Stage {
	if len(requested) == 0 {
		return append([]Stage(nil), AllStages...)
	}
	want := make(map[Stage]bool, len(requested))
	for _, s := range requested {
		want[s] = true
	}
	var out []Stage
	for _, s := range AllStages {
		if want[s] {
			out = append(out, s)
		}
	}
	return out
}

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// JobError is one per-item failure recorded without aborting the stage.
type JobError struct {
	Stage      Stage                  `json:"stage"`
	EmployeeID string                 `json:"employee_id"`
	Date       bizday.Date            `json:"date"`
	Kind       productivity.FaultKind `json:"kind"`
	Message    string                 `json:"message"`
}

// Checkpoint marks the last (stage, date) whose every unit of work finished.
// DateIndex counts days from the job's From date; -1 means the whole stage is done.
type Checkpoint struct {
	Stage     Stage `json:"stage"`
	DateIndex int   `json:"date_index"`
}

type EventType string

const (
	EventJobStarted     EventType = "job_started"
	EventStageStarted   EventType = "stage_started"
	EventStageProgress  EventType = "stage_progress"
	EventStageCompleted EventType = "stage_completed"
	EventItemError      EventType = "item_error"
	EventJobCompleted   EventType = "job_completed"
	EventJobFailed      EventType = "job_failed"
	EventJobCancelled   EventType = "job_cancelled"
)

// ProgressEvent is one entry of a job's append-only event log. Seq starts at 1.
type ProgressEvent struct {
	JobID    string    `json:"job_id"`
	Seq      int64     `json:"seq"`
	Type     EventType `json:"type"`
	Stage    Stage     `json:"stage,omitempty"`
	Progress float64   `json:"progress"`
	Date     string    `json:"date,omitempty"`
	Message  string    `json:"message,omitempty"`
	At       time.Time `json:"at"`
}

// Job is ephemeral orchestration state. It is only mutated by the orchestrator.
type Job struct {
	ID           string
	From         bizday.Date
	To           bizday.Date
	EmployeeIDs  []string
	AllEmployees bool
	Stages       []Stage
	CurrentStage Stage
	Progress     map[Stage]float64
	Status       Status
	Errors       []JobError

	// DataQualityIssues counts excluded source records; they are not job errors.
	DataQualityIssues int
	Checkpoint        *Checkpoint
	Failure           string
	Attempts          int

	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Days returns the calendar dates the job covers.
func (j *Job) Days() []bizday.Date {
	return bizday.Range(j.From, j.To)
}

// Overlaps reports whether both jobs target at least one common employee-day.
func (j *Job) Overlaps(from, to bizday.Date, employeeIDs []string, all bool) bool {
	if j.To.Before(from) || to.Before(j.From) {
		return false
	}
	if j.AllEmployees || all {
		return true
	}
	set := make(map[string]struct{}, len(j.EmployeeIDs))
	for _, id := range j.EmployeeIDs {
		set[id] = struct{}{}
	}
	for _, id := range employeeIDs {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand out of the orchestrator.
func (j *Job) Clone() Job {
	c := *j
	c.EmployeeIDs = append([]string(nil), j.EmployeeIDs...)
	c.Stages = append([]Stage(nil), j.Stages...)
	c.Errors = append([]JobError(nil), j.Errors...)
	c.Progress = make(map[Stage]float64, len(j.Progress))
	for k, v := range j.Progress {
		c.Progress[k] = v
	}
	if j.Checkpoint != nil {
		cp := *j.Checkpoint
		c.Checkpoint = &cp
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return c
}
