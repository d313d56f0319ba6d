package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cmlabs-hris/productivity-engine/internal/domain/productivity"
	"github.com/cmlabs-hris/productivity-engine/internal/domain/recalc"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/bizday"
)

// ProductivityJobs contains the engine's scheduled triggers
type ProductivityJobs struct {
	monitor      productivity.IdleMonitor
	orchestrator recalc.Orchestrator

	idleInterval    time.Duration
	nightlyHour     int // -1 disables the nightly recalculation
	defaultTimezone string
	now             func() time.Time

	mu          sync.Mutex
	lastNightly bizday.Date
}

type ProductivityJobsConfig struct {
	IdleCheckInterval time.Duration
	NightlyHour       int
	DefaultTimezone   string
}

func NewProductivityJobs(monitor productivity.IdleMonitor, orchestrator recalc.Orchestrator, cfg ProductivityJobsConfig) *ProductivityJobs {
	return &ProductivityJobs{
		monitor:         monitor,
		orchestrator:    orchestrator,
		idleInterval:    cfg.IdleCheckInterval,
		nightlyHour:     cfg.NightlyHour,
		defaultTimezone: cfg.DefaultTimezone,
		now:             time.Now,
	}
}

func (j *ProductivityJobs) RegisterJobs(scheduler *Scheduler) {
	// Sweep clocked-in employees for idle time
	scheduler.AddJob("idle_sweep", j.idleInterval, j.idleInterval, j.IdleSweep)

	// Recalculate yesterday once a day (checked every 15 minutes)
	if j.nightlyHour >= 0 {
		scheduler.AddJob("nightly_recalculation", 15*time.Minute, time.Minute, j.NightlyRecalculation)
	}

	// Drop finished jobs past their retention
	scheduler.AddJob("purge_recalculation_jobs", 1*time.Hour, time.Minute, j.PurgeRecalculationJobs)
}

func (j *ProductivityJobs) IdleSweep(ctx context.Context) error {
	alerts, err := j.monitor.CheckAll(ctx)
	if err != nil {
		return fmt.Errorf("idle sweep: %w", err)
	}
	if len(alerts) > 0 {
		slog.Info("Cron: Idle sweep raised alerts", "count", len(alerts))
	}
	return nil
}

// NightlyRecalculation starts a full recalculation of the previous business day in the
// default timezone once the configured hour is reached.
func (j *ProductivityJobs) NightlyRecalculation(ctx context.Context) error {
	loc, err := bizday.LoadLocation(j.defaultTimezone)
	if err != nil {
		return err
	}
	local := j.now().In(loc)
	if local.Hour() < j.nightlyHour {
		return nil
	}
	yesterday := bizday.FromTime(local).AddDays(-1)

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.lastNightly == yesterday {
		return nil
	}

	job, err := j.orchestrator.StartJob(ctx, recalc.JobParams{From: yesterday, To: yesterday})
	if err != nil {
		if errors.Is(err, recalc.ErrOverlappingJob) {
			slog.Warn("Cron: Nightly recalculation deferred, overlapping job running", "date", yesterday.String(), "error", err)
			return nil
		}
		return fmt.Errorf("start nightly recalculation: %w", err)
	}
	j.lastNightly = yesterday

	slog.Info("Cron: Nightly recalculation started", "job_id", job.ID, "date", yesterday.String())
	return nil
}

func (j *ProductivityJobs) PurgeRecalculationJobs(ctx context.Context) error {
	j.orchestrator.PurgeExpired(ctx)
	return nil
}
