package recalc

import "errors"

var (
	ErrJobNotFound     = errors.New("recalculation job not found")
	ErrOverlappingJob  = errors.New("an active recalculation job already targets these employee-days")
	ErrInvalidJobState = errors.New("recalculation job is not in a state that allows this operation")
	ErrShuttingDown    = errors.New("recalculation orchestrator is shutting down")
)
