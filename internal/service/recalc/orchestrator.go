package recalc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cmlabs-hris/productivity-engine/internal/domain/productivity"
	"github.com/cmlabs-hris/productivity-engine/internal/domain/recalc"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/bizday"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/eventbus"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/sse"
	"github.com/google/uuid"
)

var _ recalc.Orchestrator = (*OrchestratorImpl)(nil)

type Config struct {
	Workers       int
	Retention     time.Duration
	ProgressTopic string
}

type jobState struct {
	job    recalc.Job
	events []recalc.ProgressEvent
	cancel context.CancelFunc
	done   chan struct{}
}

type OrchestratorImpl struct {
	scores  productivity.ScoreService
	monitor productivity.IdleMonitor
	productivity.SourceRepository
	productivity.AlertRepository
	productivity.DerivedRepository

	hub       *sse.Hub
	publisher eventbus.Publisher
	cfg       Config
	now       func() time.Time

	mu      sync.Mutex
	jobs    map[string]*jobState
	closing bool
	wg      sync.WaitGroup
}

type Option func(*OrchestratorImpl)

func WithClock(now func() time.Time) Option {
	return func(o *OrchestratorImpl) { o.now = now }
}

// WithPublisher mirrors every progress event to the configured progress topic.
func WithPublisher(pub eventbus.Publisher) Option {
	return func(o *OrchestratorImpl) { o.publisher = pub }
}

func NewOrchestrator(
	scores productivity.ScoreService,
	monitor productivity.IdleMonitor,
	sourceRepo productivity.SourceRepository,
	alertRepo productivity.AlertRepository,
	derivedRepo productivity.DerivedRepository,
	hub *sse.Hub,
	cfg Config,
	opts ...Option,
) *OrchestratorImpl {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if hub == nil {
		hub = sse.NewHub()
	}
	o := &OrchestratorImpl{
		scores:            scores,
		monitor:           monitor,
		SourceRepository:  sourceRepo,
		AlertRepository:   alertRepo,
		DerivedRepository: derivedRepo,
		hub:               hub,
		publisher:         eventbus.Noop{},
		cfg:               cfg,
		now:               time.Now,
		jobs:              make(map[string]*jobState),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StartJob implements recalc.Orchestrator.
func (o *OrchestratorImpl) StartJob(ctx context.Context, params recalc.JobParams) (recalc.Job, error) {
	if params.From.IsZero() || params.To.IsZero() || params.To.Before(params.From) {
		return recalc.Job{}, fmt.Errorf("invalid date range %s..%s", params.From, params.To)
	}
	for _, s := range params.Stages {
		if s.Order() < 0 {
			return recalc.Job{}, fmt.Errorf("unknown stage %q", s)
		}
	}

	all := params.EmployeeIDs == nil
	employees := append([]string(nil), params.EmployeeIDs...)
	if all {
		ids, err := o.SourceRepository.ListActiveEmployees(ctx)
		if err != nil {
			return recalc.Job{}, fmt.Errorf("failed to list active employees: %w", err)
		}
		employees = ids
	}

	id, err := uuid.NewV7()
	if err != nil {
		return recalc.Job{}, fmt.Errorf("failed to generate job id: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closing {
		return recalc.Job{}, recalc.ErrShuttingDown
	}
	if other := o.overlappingLocked("", params.From, params.To, employees, all); other != "" {
		return recalc.Job{}, fmt.Errorf("%w: job %s", recalc.ErrOverlappingJob, other)
	}

	st := &jobState{
		job: recalc.Job{
			ID:           id.String(),
			From:         params.From,
			To:           params.To,
			EmployeeIDs:  employees,
			AllEmployees: all,
			Stages:       recalc.CanonicalStages(params.Stages),
			Progress:     make(map[recalc.Stage]float64),
			Status:       recalc.StatusQueued,
			CreatedAt:    o.now().UTC(),
		},
	}
	for _, s := range st.job.Stages {
		st.job.Progress[s] = 0
	}
	o.jobs[st.job.ID] = st
	o.launchLocked(st)

	slog.Info("Recalculation job queued",
		"job_id", st.job.ID,
		"from", params.From.String(),
		"to", params.To.String(),
		"employees", len(employees),
		"stages", len(st.job.Stages))

	return st.job.Clone(), nil
}

// GetStatus implements recalc.Orchestrator.
func (o *OrchestratorImpl) GetStatus(_ context.Context, jobID string) (recalc.Job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	st, ok := o.jobs[jobID]
	if !ok {
		return recalc.Job{}, recalc.ErrJobNotFound
	}
	return st.job.Clone(), nil
}

// Events implements recalc.Orchestrator.
func (o *OrchestratorImpl) Events(_ context.Context, jobID string, after int64) ([]recalc.ProgressEvent, error) {
	events, _, err := o.eventsSince(jobID, after)
	return events, err
}

func (o *OrchestratorImpl) eventsSince(jobID string, after int64) ([]recalc.ProgressEvent, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	st, ok := o.jobs[jobID]
	if !ok {
		return nil, false, recalc.ErrJobNotFound
	}
	var out []recalc.ProgressEvent
	for _, ev := range st.events {
		if ev.Seq > after {
			out = append(out, ev)
		}
	}
	return out, st.job.Status.IsTerminal(), nil
}

// StreamProgress implements recalc.Orchestrator.
func (o *OrchestratorImpl) StreamProgress(ctx context.Context, jobID string, after int64) (<-chan recalc.ProgressEvent, error) {
	if _, err := o.GetStatus(ctx, jobID); err != nil {
		return nil, err
	}

	// Subscribe before the first read so no append can slip between replay and follow.
	notify, cleanup := o.hub.Subscribe(jobID)
	out := make(chan recalc.ProgressEvent, 16)

	go func() {
		defer close(out)
		defer cleanup()

		last := after
		for {
			events, terminal, err := o.eventsSince(jobID, last)
			if err != nil {
				return
			}
			for _, ev := range events {
				select {
				case out <- ev:
					last = ev.Seq
				case <-ctx.Done():
					return
				}
			}
			if terminal {
				return
			}
			select {
			case _, ok := <-notify:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Cancel implements recalc.Orchestrator.
func (o *OrchestratorImpl) Cancel(_ context.Context, jobID string) (recalc.Job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	st, ok := o.jobs[jobID]
	if !ok {
		return recalc.Job{}, recalc.ErrJobNotFound
	}
	if st.job.Status.IsTerminal() {
		return recalc.Job{}, fmt.Errorf("%w: job is %s", recalc.ErrInvalidJobState, st.job.Status)
	}
	st.cancel()

	slog.Info("Recalculation job cancellation requested", "job_id", jobID)
	return st.job.Clone(), nil
}

// Resume implements recalc.Orchestrator.
func (o *OrchestratorImpl) Resume(_ context.Context, jobID string) (recalc.Job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closing {
		return recalc.Job{}, recalc.ErrShuttingDown
	}
	st, ok := o.jobs[jobID]
	if !ok {
		return recalc.Job{}, recalc.ErrJobNotFound
	}
	if st.job.Status != recalc.StatusFailed && st.job.Status != recalc.StatusCancelled {
		return recalc.Job{}, fmt.Errorf("%w: job is %s", recalc.ErrInvalidJobState, st.job.Status)
	}
	j := &st.job
	if other := o.overlappingLocked(j.ID, j.From, j.To, j.EmployeeIDs, j.AllEmployees); other != "" {
		return recalc.Job{}, fmt.Errorf("%w: job %s", recalc.ErrOverlappingJob, other)
	}

	j.Errors = errorsBeforeCheckpoint(j)
	j.Status = recalc.StatusQueued
	j.Failure = ""
	j.FinishedAt = nil
	o.launchLocked(st)

	slog.Info("Recalculation job resumed", "job_id", jobID, "checkpoint", j.Checkpoint)
	return st.job.Clone(), nil
}

// PurgeExpired implements recalc.Orchestrator.
func (o *OrchestratorImpl) PurgeExpired(_ context.Context) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	cutoff := o.now().UTC().Add(-o.cfg.Retention)
	purged := 0
	for id, st := range o.jobs {
		if !st.job.Status.IsTerminal() || st.job.FinishedAt == nil || st.job.FinishedAt.After(cutoff) {
			continue
		}
		delete(o.jobs, id)
		o.hub.CloseTopic(id)
		purged++
	}
	if purged > 0 {
		slog.Info("Purged expired recalculation jobs", "count", purged)
	}
	return purged
}

// Shutdown implements recalc.Orchestrator.
func (o *OrchestratorImpl) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closing = true
	for _, st := range o.jobs {
		if !st.job.Status.IsTerminal() {
			st.cancel()
		}
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the job's current worker exits.
func (o *OrchestratorImpl) Wait(ctx context.Context, jobID string) error {
	o.mu.Lock()
	st, ok := o.jobs[jobID]
	o.mu.Unlock()
	if !ok {
		return recalc.ErrJobNotFound
	}
	select {
	case <-st.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// overlappingLocked returns the id of an active job sharing an employee-day with the target.
func (o *OrchestratorImpl) overlappingLocked(self string, from, to bizday.Date, employees []string, all bool) string {
	for id, st := range o.jobs {
		if id == self || st.job.Status.IsTerminal() {
			continue
		}
		if st.job.Overlaps(from, to, employees, all) {
			return id
		}
	}
	return ""
}

func (o *OrchestratorImpl) launchLocked(st *jobState) {
	ctx, cancel := context.WithCancel(context.Background())
	st.cancel = cancel
	st.done = make(chan struct{})
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(st.done)
		defer cancel()
		o.run(ctx, st)
	}()
}

// errorsBeforeCheckpoint keeps the errors of work that a resume will not repeat.
func errorsBeforeCheckpoint(j *recalc.Job) []recalc.JobError {
	if j.Checkpoint == nil {
		return nil
	}
	cp := j.Checkpoint
	var kept []recalc.JobError
	for _, e := range j.Errors {
		switch {
		case e.Stage.Order() < cp.Stage.Order():
			kept = append(kept, e)
		case e.Stage == cp.Stage && (cp.DateIndex < 0 || !e.Date.After(j.From.AddDays(cp.DateIndex))):
			kept = append(kept, e)
		}
	}
	return kept
}
