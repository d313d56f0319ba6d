package recalc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cmlabs-hris/productivity-engine/internal/domain/productivity"
	"github.com/cmlabs-hris/productivity-engine/internal/domain/recalc"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/bizday"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/sse"
	"golang.org/x/sync/errgroup"
)

// BelowTargetEfficiency is the efficiency under which a worked day is below target.
const BelowTargetEfficiency = 0.85

var errCancelled = errors.New("recalculation cancelled")

var clearedTables = []productivity.DerivedTable{
	productivity.TableIdlePeriods,
	productivity.TableAlerts,
	productivity.TableDayRoles,
	productivity.TableDayStatus,
}

// unitFunc recalculates one employee-day and reports how many data-quality issues it saw.
type unitFunc func(ctx context.Context, employeeID string, date bizday.Date) (int, error)

func (o *OrchestratorImpl) run(ctx context.Context, st *jobState) {
	o.mu.Lock()
	job := &st.job
	now := o.now().UTC()
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	job.Status = recalc.StatusRunning
	job.Attempts++
	attempt := job.Attempts
	days := job.Days()
	employees := append([]string(nil), job.EmployeeIDs...)
	stages := append([]recalc.Stage(nil), job.Stages...)
	var checkpoint *recalc.Checkpoint
	if job.Checkpoint != nil {
		cp := *job.Checkpoint
		checkpoint = &cp
	}
	o.mu.Unlock()

	o.emit(st, recalc.EventJobStarted, "", 0, "", fmt.Sprintf("attempt %d over %d days and %d employees", attempt, len(days), len(employees)))
	slog.Info("Recalculation job started", "job_id", st.job.ID, "days", len(days), "employees", len(employees))

	for _, stage := range stages {
		startIndex := 0
		if checkpoint != nil {
			switch {
			case stage.Order() < checkpoint.Stage.Order():
				continue
			case stage == checkpoint.Stage && checkpoint.DateIndex < 0:
				continue
			case stage == checkpoint.Stage:
				startIndex = checkpoint.DateIndex + 1
			}
		}

		o.mu.Lock()
		job.CurrentStage = stage
		o.mu.Unlock()
		o.emit(st, recalc.EventStageStarted, stage, o.progressOf(st, stage), "", "")
		slog.Info("Recalculation stage started", "job_id", st.job.ID, "stage", stage)

		if err := o.runStage(ctx, st, stage, days, employees, startIndex); err != nil {
			o.finish(st, err)
			return
		}

		o.mu.Lock()
		job.Progress[stage] = 1
		job.Checkpoint = &recalc.Checkpoint{Stage: stage, DateIndex: -1}
		o.mu.Unlock()
		o.emit(st, recalc.EventStageCompleted, stage, 1, "", "")
		slog.Info("Recalculation stage completed", "job_id", st.job.ID, "stage", stage)
	}

	o.finish(st, nil)
}

func (o *OrchestratorImpl) runStage(ctx context.Context, st *jobState, stage recalc.Stage, days []bizday.Date, employees []string, startIndex int) error {
	switch stage {
	case recalc.StageClear:
		return o.clearStage(ctx, st, days, employees)
	case recalc.StageCacheRefresh:
		return o.cacheRefreshStage(ctx, st, days, employees)
	}

	unit := o.unitFor(stage)
	for i := startIndex; i < len(days); i++ {
		if ctx.Err() != nil {
			return errCancelled
		}
		if err := o.runDate(ctx, st, stage, days[i], employees, unit); err != nil {
			return err
		}

		progress := float64(i+1) / float64(len(days))
		o.mu.Lock()
		st.job.Progress[stage] = progress
		st.job.Checkpoint = &recalc.Checkpoint{Stage: stage, DateIndex: i}
		o.mu.Unlock()
		o.emit(st, recalc.EventStageProgress, stage, progress, days[i].String(), "")
	}
	return nil
}

// runDate fans the employees of one date out to the worker pool. Work already started always
// finishes: units run on a context that ignores cancellation, which is only checked between units.
func (o *OrchestratorImpl) runDate(ctx context.Context, st *jobState, stage recalc.Stage, date bizday.Date, employees []string, unit unitFunc) error {
	failed := o.failedUnits(st, date)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	writeCtx := context.WithoutCancel(ctx)

	for _, employeeID := range employees {
		if failed[employeeID] {
			continue
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return errCancelled
			}
			issues, err := unit(writeCtx, employeeID, date)
			if err == nil {
				if issues > 0 {
					o.mu.Lock()
					st.job.DataQualityIssues += issues
					o.mu.Unlock()
				}
				return nil
			}
			if productivity.IsInfrastructure(err) {
				return productivity.NewFault(productivity.FaultInfrastructure, employeeID, date, err)
			}
			o.recordError(st, stage, employeeID, date, err)
			return nil
		})
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, errCancelled) {
		return err
	}
	if ctx.Err() != nil || err != nil {
		return errCancelled
	}
	return nil
}

// failedUnits returns the employees whose day already failed in an earlier stage of this job.
// Later stages skip them so one broken day is reported once. Trend refresh errors cover the
// whole range and are dated at its start, so they never mark a single day as failed.
func (o *OrchestratorImpl) failedUnits(st *jobState, date bizday.Date) map[string]bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	failed := make(map[string]bool)
	for _, e := range st.job.Errors {
		if e.Stage != recalc.StageCacheRefresh && e.Date == date {
			failed[e.EmployeeID] = true
		}
	}
	return failed
}

func (o *OrchestratorImpl) recordError(st *jobState, stage recalc.Stage, employeeID string, date bizday.Date, err error) {
	jobErr := recalc.JobError{
		Stage:      stage,
		EmployeeID: employeeID,
		Date:       date,
		Kind:       productivity.KindOf(err),
		Message:    err.Error(),
	}
	o.mu.Lock()
	st.job.Errors = append(st.job.Errors, jobErr)
	progress := st.job.Progress[stage]
	o.mu.Unlock()

	slog.Error("Recalculation unit failed",
		"job_id", st.job.ID,
		"stage", stage,
		"employee_id", employeeID,
		"date", date.String(),
		"kind", jobErr.Kind,
		"error", err)
	o.emit(st, recalc.EventItemError, stage, progress, date.String(), fmt.Sprintf("%s: %s", employeeID, jobErr.Message))
}

func (o *OrchestratorImpl) clearStage(ctx context.Context, st *jobState, days []bizday.Date, employees []string) error {
	if ctx.Err() != nil {
		return errCancelled
	}
	from, to := days[0], days[len(days)-1]

	var scope []string
	if !st.job.AllEmployees {
		scope = employees
	}
	writeCtx := context.WithoutCancel(ctx)
	for i, table := range clearedTables {
		n, err := o.DerivedRepository.ClearDerivedData(writeCtx, table, from, to, scope)
		if err != nil {
			return productivity.NewFault(productivity.FaultInfrastructure, "", from,
				fmt.Errorf("failed to clear %s: %w", table, err))
		}
		slog.Debug("Cleared derived data", "job_id", st.job.ID, "table", table, "rows", n)

		progress := float64(i+1) / float64(len(clearedTables))
		o.mu.Lock()
		st.job.Progress[recalc.StageClear] = progress
		o.mu.Unlock()
	}
	return nil
}

func (o *OrchestratorImpl) cacheRefreshStage(ctx context.Context, st *jobState, days []bizday.Date, employees []string) error {
	from, to := days[0], days[len(days)-1]
	writeCtx := context.WithoutCancel(ctx)
	for i, employeeID := range employees {
		if ctx.Err() != nil {
			return errCancelled
		}
		if _, err := o.DerivedRepository.RefreshTrends(writeCtx, employeeID, from, to); err != nil {
			if productivity.IsInfrastructure(err) {
				return productivity.NewFault(productivity.FaultInfrastructure, employeeID, from, err)
			}
			o.recordError(st, recalc.StageCacheRefresh, employeeID, from, err)
		}
		progress := float64(i+1) / float64(len(employees))
		o.mu.Lock()
		st.job.Progress[recalc.StageCacheRefresh] = progress
		o.mu.Unlock()
	}
	return nil
}

func (o *OrchestratorImpl) unitFor(stage recalc.Stage) unitFunc {
	switch stage {
	case recalc.StageScores:
		return o.scoreUnit
	case recalc.StageIdlePeriods:
		return o.idlePeriodUnit
	case recalc.StageAlerts:
		return o.alertUnit
	case recalc.StageDerivedRoles:
		return o.dayRoleUnit
	case recalc.StageDerivedStatus:
		return o.dayStatusUnit
	}
	return func(context.Context, string, bizday.Date) (int, error) { return 0, nil }
}

func (o *OrchestratorImpl) scoreUnit(ctx context.Context, employeeID string, date bizday.Date) (int, error) {
	score, err := o.scores.ComputeDailyScore(ctx, employeeID, date)
	if err != nil {
		return 0, err
	}
	return len(score.DataQualityIssues), nil
}

func (o *OrchestratorImpl) idlePeriodUnit(ctx context.Context, employeeID string, date bizday.Date) (int, error) {
	_, err := o.scores.RebuildIdlePeriods(ctx, employeeID, date)
	return 0, err
}

func (o *OrchestratorImpl) alertUnit(ctx context.Context, employeeID string, date bizday.Date) (int, error) {
	result, err := o.scores.AnalyzeDay(ctx, employeeID, date)
	if err != nil {
		return 0, err
	}
	for _, alert := range o.monitor.AlertsForDay(result) {
		if err := o.AlertRepository.InsertAlert(ctx, alert); err != nil {
			return 0, fmt.Errorf("failed to insert alert: %w", err)
		}
	}
	return 0, nil
}

func (o *OrchestratorImpl) dayRoleUnit(ctx context.Context, employeeID string, date bizday.Date) (int, error) {
	result, err := o.scores.AnalyzeDay(ctx, employeeID, date)
	if err != nil {
		return 0, err
	}
	role, ok := PrimaryRole(employeeID, date, result.Activities)
	if !ok {
		return 0, nil
	}
	if err := o.DerivedRepository.UpsertDayRole(ctx, role); err != nil {
		return 0, fmt.Errorf("failed to upsert day role: %w", err)
	}
	return 0, nil
}

func (o *OrchestratorImpl) dayStatusUnit(ctx context.Context, employeeID string, date bizday.Date) (int, error) {
	score, err := o.scores.GetDailyScore(ctx, employeeID, date)
	if err != nil && !errors.Is(err, productivity.ErrDailyScoreNotFound) {
		return 0, err
	}
	status := DayStatusOf(score, err == nil)
	status.EmployeeID = employeeID
	status.Date = date
	if err := o.DerivedRepository.UpsertDayStatus(ctx, status); err != nil {
		return 0, fmt.Errorf("failed to upsert day status: %w", err)
	}
	return 0, nil
}

// PrimaryRole picks the role with the most items. Ties go to the role worked first.
func PrimaryRole(employeeID string, date bizday.Date, activities []productivity.ActivityEvent) (productivity.DayRole, bool) {
	if len(activities) == 0 {
		return productivity.DayRole{}, false
	}
	totals := make(map[string]int)
	var order []string
	for _, a := range activities {
		if _, seen := totals[a.RoleID]; !seen {
			order = append(order, a.RoleID)
		}
		totals[a.RoleID] += a.ItemCount
	}
	best := order[0]
	for _, roleID := range order[1:] {
		if totals[roleID] > totals[best] {
			best = roleID
		}
	}
	return productivity.DayRole{EmployeeID: employeeID, Date: date, RoleID: best, ItemCount: totals[best]}, true
}

// DayStatusOf classifies a stored daily score.
func DayStatusOf(score productivity.DailyScore, found bool) productivity.DayStatus {
	switch {
	case !found || score.ClockedMinutes <= 0:
		return productivity.DayStatus{Status: productivity.DayStatusAbsent}
	case score.ItemsProcessed == 0:
		return productivity.DayStatus{Status: productivity.DayStatusNoActivity}
	case score.EfficiencyRate < BelowTargetEfficiency:
		return productivity.DayStatus{Status: productivity.DayStatusBelowTarget, Efficiency: score.EfficiencyRate}
	default:
		return productivity.DayStatus{Status: productivity.DayStatusOnTarget, Efficiency: score.EfficiencyRate}
	}
}

func (o *OrchestratorImpl) finish(st *jobState, err error) {
	o.mu.Lock()
	job := &st.job
	now := o.now().UTC()
	job.FinishedAt = &now
	stage := job.CurrentStage
	progress := job.Progress[stage]

	var event recalc.EventType
	var message string
	switch {
	case err == nil:
		job.Status = recalc.StatusCompleted
		job.CurrentStage = ""
		event = recalc.EventJobCompleted
		message = fmt.Sprintf("completed with %d errors", len(job.Errors))
	case errors.Is(err, errCancelled):
		job.Status = recalc.StatusCancelled
		event = recalc.EventJobCancelled
		message = "cancelled"
	default:
		job.Status = recalc.StatusFailed
		job.Failure = err.Error()
		event = recalc.EventJobFailed
		message = err.Error()
	}
	status := job.Status
	errCount := len(job.Errors)
	// Appended under the same lock that made the job terminal, so followers never
	// observe the final status without the final event.
	ev := o.appendEventLocked(st, event, stage, progress, "", message)
	o.mu.Unlock()

	o.broadcast(ev)

	if status == recalc.StatusFailed {
		slog.Error("Recalculation job failed", "job_id", st.job.ID, "stage", stage, "error", err)
		return
	}
	slog.Info("Recalculation job finished", "job_id", st.job.ID, "status", status, "errors", errCount)
}

func (o *OrchestratorImpl) progressOf(st *jobState, stage recalc.Stage) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return st.job.Progress[stage]
}

// emit appends to the job's event log, wakes stream followers and mirrors the event to the bus.
func (o *OrchestratorImpl) emit(st *jobState, typ recalc.EventType, stage recalc.Stage, progress float64, date, message string) {
	o.mu.Lock()
	ev := o.appendEventLocked(st, typ, stage, progress, date, message)
	o.mu.Unlock()

	o.broadcast(ev)
}

func (o *OrchestratorImpl) appendEventLocked(st *jobState, typ recalc.EventType, stage recalc.Stage, progress float64, date, message string) recalc.ProgressEvent {
	ev := recalc.ProgressEvent{
		JobID:    st.job.ID,
		Seq:      int64(len(st.events) + 1),
		Type:     typ,
		Stage:    stage,
		Progress: progress,
		Date:     date,
		Message:  message,
		At:       o.now().UTC(),
	}
	st.events = append(st.events, ev)
	return ev
}

func (o *OrchestratorImpl) broadcast(ev recalc.ProgressEvent) {
	o.hub.Publish(ev.JobID, sse.Event{Event: string(ev.Type), Data: ev})

	if o.cfg.ProgressTopic == "" {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.publisher.Publish(pubCtx, o.cfg.ProgressTopic, ev.JobID, ev); err != nil {
		slog.Warn("Failed to publish recalculation progress", "job_id", ev.JobID, "seq", ev.Seq, "error", err)
	}
}
