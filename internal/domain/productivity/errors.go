package productivity

import (
	"context"
	"errors"
	"fmt"

	"github.com/cmlabs-hris/productivity-engine/internal/pkg/bizday"
)

var (
	ErrEmployeeNotFound   = errors.New("employee not found")
	ErrRoleConfigNotFound = errors.New("role config not found")
	ErrInvalidRoleConfig  = errors.New("invalid role config")
	ErrDailyScoreNotFound = errors.New("daily score not found")
	ErrNoOpenSession      = errors.New("employee is not clocked in")
	ErrNoActivity         = errors.New("no activity recorded")

	// ErrStoreUnavailable marks failures of the backing data store. Repositories wrap
	// every driver error with it so callers can tell infrastructure faults apart.
	ErrStoreUnavailable = errors.New("data store unavailable")
)

type FaultKind string

const (
	FaultDataQuality    FaultKind = "data_quality"
	FaultConfiguration  FaultKind = "configuration"
	FaultInfrastructure FaultKind = "infrastructure"
	FaultCancelled      FaultKind = "cancelled"
)

// Fault is an error scoped to one employee-day.
type Fault struct {
	Kind       FaultKind
	EmployeeID string
	Date       bizday.Date
	Err        error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s fault for employee %s on %s: %v", f.Kind, f.EmployeeID, f.Date, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

func NewFault(kind FaultKind, employeeID string, date bizday.Date, err error) *Fault {
	return &Fault{Kind: kind, EmployeeID: employeeID, Date: date, Err: err}
}

// KindOf classifies err. Store and deadline failures are infrastructure faults,
// unrecognized errors are treated as data quality faults of the item.
func KindOf(err error) FaultKind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	if errors.Is(err, context.Canceled) {
		return FaultCancelled
	}
	if errors.Is(err, ErrStoreUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return FaultInfrastructure
	}
	if errors.Is(err, ErrRoleConfigNotFound) || errors.Is(err, ErrInvalidRoleConfig) ||
		errors.Is(err, ErrEmployeeNotFound) || errors.Is(err, bizday.ErrUnknownTimezone) {
		return FaultConfiguration
	}
	return FaultDataQuality
}

func IsInfrastructure(err error) bool {
	return err != nil && KindOf(err) == FaultInfrastructure
}

func IsConfiguration(err error) bool {
	return err != nil && KindOf(err) == FaultConfiguration
}
