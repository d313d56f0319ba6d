package threshold

import (
	"math"

	"github.com/cmlabs-hris/productivity-engine/internal/domain/productivity"
)

const (
	// BoundaryAllowanceMinutes is added to the base threshold for the start-of-day
	// settle gap and the end-of-day cleanup gap.
	BoundaryAllowanceMinutes = 15.0

	batchFloorMinutes = 3.0
	batchBuffer       = 1.05
)

// GapThreshold returns the idle tolerance in minutes for the transition into an
// activity of itemCount items performed under role.
func GapThreshold(role productivity.RoleConfig, itemCount int) float64 {
	if role.Type != productivity.RoleTypeBatch {
		return role.BaseIdleThresholdMinutes
	}

	if role.ExpectedPerHour <= 0 {
		return role.BaseIdleThresholdMinutes
	}
	perItem := 60.0 / role.ExpectedPerHour
	return math.Max(batchFloorMinutes, float64(itemCount)*perItem*batchBuffer)
}

// BoundaryThreshold is the tolerance for gaps with no previous activity to size them.
func BoundaryThreshold(role productivity.RoleConfig) float64 {
	return role.BaseIdleThresholdMinutes + BoundaryAllowanceMinutes
}

// EndOfDayThreshold grants the cleanup allowance only once the employee has clocked out.
func EndOfDayThreshold(role productivity.RoleConfig, clockedOut bool) float64 {
	if clockedOut {
		return BoundaryThreshold(role)
	}
	return role.BaseIdleThresholdMinutes
}

// Excess returns how far gap exceeds limit, or zero.
func Excess(gap, limit float64) float64 {
	if gap > limit {
		return gap - limit
	}
	return 0
}
