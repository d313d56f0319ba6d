package recalc

import (
	"context"

	"github.com/cmlabs-hris/productivity-engine/internal/pkg/bizday"
)

// JobParams are the validated inputs of a recalculation.
type JobParams struct {
	From        bizday.Date
	To          bizday.Date
	EmployeeIDs []string // nil targets every active employee
	Stages      []Stage  // empty runs every stage
}

type Orchestrator interface {
	// StartJob validates, rejects overlapping targets and runs the job in the background.
	StartJob(ctx context.Context, params JobParams) (Job, error)

	GetStatus(ctx context.Context, jobID string) (Job, error)

	// Events returns the job's progress events with Seq greater than after.
	Events(ctx context.Context, jobID string, after int64) ([]ProgressEvent, error)

	// StreamProgress replays events after `after` and then follows the live log until the
	// job finishes or ctx is done. The channel is closed when streaming stops.
	StreamProgress(ctx context.Context, jobID string, after int64) (<-chan ProgressEvent, error)

	// Cancel asks a running job to stop after its current unit of work.
	Cancel(ctx context.Context, jobID string) (Job, error)

	// Resume restarts a failed or cancelled job from its checkpoint.
	Resume(ctx context.Context, jobID string) (Job, error)

	// PurgeExpired drops finished jobs older than the retention period.
	PurgeExpired(ctx context.Context) int

	// Shutdown cancels every running job and waits for the workers to stop.
	Shutdown(ctx context.Context) error
}
