package score

import (
	"testing"
	"time"

	"github.com/cmlabs-hris/productivity-engine/internal/domain/productivity"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/bizday"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDay = bizday.NewDate(2024, time.June, 12)

func at(hour, minute int) time.Time {
	return time.Date(2024, time.June, 12, hour, minute, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

func packerRole() productivity.RoleConfig {
	return productivity.RoleConfig{
		RoleID:                   "packer",
		Type:                     productivity.RoleTypeContinuous,
		Multiplier:               decimal.NewFromFloat(1.5),
		ExpectedPerHour:          30,
		BaseIdleThresholdMinutes: 10,
	}
}

func pickerRole() productivity.RoleConfig {
	return productivity.RoleConfig{
		RoleID:                   "picker",
		Type:                     productivity.RoleTypeBatch,
		Multiplier:               decimal.NewFromInt(2),
		ExpectedPerHour:          60,
		BaseIdleThresholdMinutes: 5,
	}
}

func roles(rs ...productivity.RoleConfig) map[string]productivity.RoleConfig {
	m := make(map[string]productivity.RoleConfig)
	for _, r := range rs {
		m[r.RoleID] = r
	}
	return m
}

func activity(id, role string, items int, from, to time.Time) productivity.ActivityEvent {
	return productivity.ActivityEvent{
		ID:          id,
		EmployeeID:  "emp-1",
		RoleID:      role,
		ItemCount:   items,
		WindowStart: from,
		WindowEnd:   to,
	}
}

func shift(in, out time.Time) productivity.ClockSession {
	return productivity.ClockSession{ID: "s-1", EmployeeID: "emp-1", ClockIn: in, ClockOut: ptr(out)}
}

func dayInput(sessions []productivity.ClockSession, acts []productivity.ActivityEvent, rs map[string]productivity.RoleConfig) DayInput {
	start, end, _ := bizday.DayToUTCRange(testDay, "UTC")
	return DayInput{
		EmployeeID: "emp-1",
		Date:       testDay,
		RangeStart: start,
		RangeEnd:   end,
		Now:        at(23, 0),
		Sessions:   sessions,
		Activities: acts,
		Roles:      rs,
	}
}

func TestCalculate_FullShiftWithinCleanupAllowance(t *testing.T) {
	in := dayInput(
		[]productivity.ClockSession{shift(at(8, 0), at(16, 0))},
		[]productivity.ActivityEvent{activity("a1", "packer", 100, at(8, 0), at(15, 45))},
		roles(packerRole()),
	)

	result, err := Calculate(in)
	require.NoError(t, err)

	assert.Equal(t, 480.0, result.Score.ClockedMinutes)
	assert.Equal(t, 480.0, result.Score.ActiveMinutes)
	assert.Equal(t, 1.0, result.Score.EfficiencyRate)
	assert.Equal(t, 100, result.Score.ItemsProcessed)
	assert.True(t, decimal.NewFromInt(150).Equal(result.Score.PointsEarned))
	assert.Empty(t, result.IdlePeriods)
}

func TestCalculate_MidShiftGapBeyondThreshold(t *testing.T) {
	in := dayInput(
		[]productivity.ClockSession{shift(at(8, 0), at(16, 0))},
		[]productivity.ActivityEvent{
			activity("a1", "packer", 40, at(8, 0), at(11, 0)),
			activity("a2", "packer", 60, at(11, 40), at(15, 45)),
		},
		roles(packerRole()),
	)

	result, err := Calculate(in)
	require.NoError(t, err)

	assert.Equal(t, 480.0, result.Score.ClockedMinutes)
	assert.Equal(t, 450.0, result.Score.ActiveMinutes)
	assert.InDelta(t, 0.9375, result.Score.EfficiencyRate, 1e-9)

	require.Len(t, result.IdlePeriods, 1)
	p := result.IdlePeriods[0]
	assert.Equal(t, productivity.IdleMidShift, p.Kind)
	assert.Equal(t, productivity.IdleSourceHistorical, p.Source)
	assert.Equal(t, at(11, 0), p.StartTime)
	assert.Equal(t, at(11, 40), p.EndTime)
	assert.Equal(t, 40.0, p.DurationMinutes)
	assert.Equal(t, 10.0, p.ThresholdMinutes)
	assert.Equal(t, 30.0, p.ExcessMinutes)
}

func TestCalculate_NoActivities(t *testing.T) {
	in := dayInput(
		[]productivity.ClockSession{shift(at(8, 0), at(16, 0))},
		nil,
		roles(packerRole()),
	)

	result, err := Calculate(in)
	require.NoError(t, err)

	assert.Equal(t, 480.0, result.Score.ClockedMinutes)
	assert.Equal(t, 0.0, result.Score.ActiveMinutes)
	assert.Equal(t, 0, result.Score.ItemsProcessed)
	assert.Equal(t, 0.0, result.Score.EfficiencyRate)
	assert.True(t, result.Score.PointsEarned.IsZero())
}

func TestCalculate_NegativeSessionExcludedAndFlagged(t *testing.T) {
	in := dayInput(
		[]productivity.ClockSession{
			{ID: "bad", EmployeeID: "emp-1", ClockIn: at(17, 0), ClockOut: ptr(at(9, 0))},
			shift(at(8, 0), at(12, 0)),
		},
		[]productivity.ActivityEvent{activity("a1", "packer", 10, at(8, 0), at(11, 55))},
		roles(packerRole()),
	)

	result, err := Calculate(in)
	require.NoError(t, err)

	assert.Equal(t, 240.0, result.Score.ClockedMinutes)
	require.Len(t, result.Score.DataQualityIssues, 1)
	assert.Equal(t, productivity.IssueNegativeSession, result.Score.DataQualityIssues[0].Kind)
	assert.Equal(t, "bad", result.Score.DataQualityIssues[0].RecordID)
}

func TestCalculate_OnlyNegativeSession(t *testing.T) {
	in := dayInput(
		[]productivity.ClockSession{{ID: "bad", EmployeeID: "emp-1", ClockIn: at(17, 0), ClockOut: ptr(at(9, 0))}},
		nil,
		roles(),
	)

	result, err := Calculate(in)
	require.NoError(t, err)
	assert.Equal(t, 0.0, result.Score.ClockedMinutes)
	assert.Equal(t, 0.0, result.Score.EfficiencyRate)
}

func TestCalculate_ActivityBeforeClockInSkipsStartGapOnly(t *testing.T) {
	// Unlogged early shift: the first scan predates the first clock-in. The remaining
	// gaps must still count instead of zeroing the day.
	in := dayInput(
		[]productivity.ClockSession{shift(at(8, 0), at(16, 0))},
		[]productivity.ActivityEvent{
			activity("early", "packer", 5, at(6, 0), at(7, 0)),
			activity("a2", "packer", 40, at(8, 30), at(11, 0)),
			activity("a3", "packer", 60, at(11, 40), at(15, 45)),
		},
		roles(packerRole()),
	)

	result, err := Calculate(in)
	require.NoError(t, err)

	require.Len(t, result.Score.DataQualityIssues, 1)
	assert.Equal(t, productivity.IssueActivityBeforeClockIn, result.Score.DataQualityIssues[0].Kind)
	assert.Equal(t, "early", result.Score.DataQualityIssues[0].RecordID)

	// 07:00 -> 08:30 gap (90 min, threshold 10) and 11:00 -> 11:40 gap (40 min) still count.
	assert.Equal(t, 480.0-80.0-30.0, result.Score.ActiveMinutes)
	assert.Greater(t, result.Score.ActiveMinutes, 0.0)
	assert.Equal(t, 105, result.Score.ItemsProcessed)
}

func TestCalculate_StartGapBeyondSettleAllowance(t *testing.T) {
	in := dayInput(
		[]productivity.ClockSession{shift(at(8, 0), at(16, 0))},
		[]productivity.ActivityEvent{activity("a1", "packer", 10, at(8, 40), at(15, 50))},
		roles(packerRole()),
	)

	result, err := Calculate(in)
	require.NoError(t, err)

	// start gap 40 vs 25 -> 15 excess
	assert.Equal(t, 465.0, result.Score.ActiveMinutes)
	require.Len(t, result.IdlePeriods, 1)
	assert.Equal(t, productivity.IdleStartOfDay, result.IdlePeriods[0].Kind)
	assert.Equal(t, 25.0, result.IdlePeriods[0].ThresholdMinutes)
}

func TestCalculate_BatchRoleDynamicThreshold(t *testing.T) {
	in := dayInput(
		[]productivity.ClockSession{shift(at(8, 0), at(12, 0))},
		[]productivity.ActivityEvent{
			activity("a1", "picker", 10, at(8, 0), at(9, 0)),
			// 20 minute gap before a 10-item batch: threshold 10.5
			activity("a2", "picker", 10, at(9, 20), at(11, 50)),
		},
		roles(pickerRole()),
	)

	result, err := Calculate(in)
	require.NoError(t, err)

	require.Len(t, result.IdlePeriods, 1)
	assert.InDelta(t, 10.5, result.IdlePeriods[0].ThresholdMinutes, 1e-9)
	assert.InDelta(t, 9.5, result.IdlePeriods[0].ExcessMinutes, 1e-9)
	assert.InDelta(t, 240.0-9.5, result.Score.ActiveMinutes, 1e-9)
	assert.True(t, decimal.NewFromInt(40).Equal(result.Score.PointsEarned))
}

func TestCalculate_EndGapWhileStillClockedIn(t *testing.T) {
	in := dayInput(
		[]productivity.ClockSession{{ID: "open", EmployeeID: "emp-1", ClockIn: at(8, 0)}},
		[]productivity.ActivityEvent{activity("a1", "packer", 10, at(8, 0), at(11, 45))},
		roles(packerRole()),
	)
	in.Now = at(12, 0)

	result, err := Calculate(in)
	require.NoError(t, err)

	// No cleanup allowance while on the clock: 15 min gap vs base 10.
	assert.Equal(t, 240.0, result.Score.ClockedMinutes)
	assert.Equal(t, 235.0, result.Score.ActiveMinutes)
	require.Len(t, result.IdlePeriods, 1)
	assert.Equal(t, productivity.IdleEndOfDay, result.IdlePeriods[0].Kind)
	assert.Equal(t, 10.0, result.IdlePeriods[0].ThresholdMinutes)
}

func TestCalculate_OverlappingWindowsUseLatestEnd(t *testing.T) {
	in := dayInput(
		[]productivity.ClockSession{shift(at(8, 0), at(12, 0))},
		[]productivity.ActivityEvent{
			activity("long", "packer", 10, at(8, 0), at(11, 50)),
			activity("nested", "packer", 1, at(9, 0), at(9, 5)),
			activity("tail", "packer", 1, at(10, 0), at(10, 5)),
		},
		roles(packerRole()),
	)

	result, err := Calculate(in)
	require.NoError(t, err)
	assert.Empty(t, result.IdlePeriods)
	assert.Equal(t, 240.0, result.Score.ActiveMinutes)
}

func TestCalculate_MissingRoleConfigIsConfigurationFault(t *testing.T) {
	in := dayInput(
		[]productivity.ClockSession{shift(at(8, 0), at(16, 0))},
		[]productivity.ActivityEvent{activity("a1", "ghost", 10, at(8, 0), at(15, 0))},
		roles(packerRole()),
	)

	_, err := Calculate(in)
	require.Error(t, err)
	assert.ErrorIs(t, err, productivity.ErrRoleConfigNotFound)
	assert.True(t, productivity.IsConfiguration(err))
}

func TestCalculate_InvalidBatchRoleIsConfigurationFault(t *testing.T) {
	broken := pickerRole()
	broken.ExpectedPerHour = 0
	in := dayInput(
		[]productivity.ClockSession{shift(at(8, 0), at(16, 0))},
		[]productivity.ActivityEvent{activity("a1", "picker", 10, at(8, 0), at(15, 0))},
		roles(broken),
	)

	_, err := Calculate(in)
	assert.ErrorIs(t, err, productivity.ErrInvalidRoleConfig)
}

func TestCalculate_MalformedActivityExcluded(t *testing.T) {
	in := dayInput(
		[]productivity.ClockSession{shift(at(8, 0), at(16, 0))},
		[]productivity.ActivityEvent{
			activity("a1", "packer", 100, at(8, 0), at(15, 45)),
			activity("backwards", "packer", 50, at(12, 0), at(11, 0)),
		},
		roles(packerRole()),
	)

	result, err := Calculate(in)
	require.NoError(t, err)
	assert.Equal(t, 100, result.Score.ItemsProcessed)
	require.Len(t, result.Score.DataQualityIssues, 1)
	assert.Equal(t, productivity.IssueMalformedActivity, result.Score.DataQualityIssues[0].Kind)
}

func TestCalculate_ActivitiesWithoutSessions(t *testing.T) {
	in := dayInput(nil,
		[]productivity.ActivityEvent{activity("a1", "packer", 10, at(8, 0), at(9, 0))},
		roles(packerRole()),
	)

	result, err := Calculate(in)
	require.NoError(t, err)
	assert.Equal(t, 0.0, result.Score.ActiveMinutes)
	assert.Equal(t, 0.0, result.Score.EfficiencyRate)
	assert.Equal(t, 10, result.Score.ItemsProcessed)
	require.Len(t, result.Score.DataQualityIssues, 1)
	assert.Equal(t, productivity.IssueActivityWithoutClockSession, result.Score.DataQualityIssues[0].Kind)
}

func TestCalculate_SessionsClippedToDay(t *testing.T) {
	// Overnight session from the previous evening only counts the part inside the day.
	in := dayInput(
		[]productivity.ClockSession{shift(at(0, 0).Add(-2*time.Hour), at(6, 0))},
		[]productivity.ActivityEvent{activity("a1", "packer", 10, at(0, 0), at(5, 50))},
		roles(packerRole()),
	)

	result, err := Calculate(in)
	require.NoError(t, err)
	assert.Equal(t, 360.0, result.Score.ClockedMinutes)
	assert.Equal(t, 360.0, result.Score.ActiveMinutes)
}

func TestCalculate_EfficiencyAlwaysWithinBounds(t *testing.T) {
	cases := []DayInput{
		dayInput(nil, nil, roles()),
		dayInput([]productivity.ClockSession{shift(at(8, 0), at(8, 0))},
			[]productivity.ActivityEvent{activity("a1", "packer", 1, at(8, 0), at(8, 0))}, roles(packerRole())),
		dayInput([]productivity.ClockSession{shift(at(8, 0), at(9, 0))},
			[]productivity.ActivityEvent{activity("a1", "packer", 1, at(8, 0), at(8, 1)), activity("a2", "packer", 1, at(20, 0), at(21, 0))}, roles(packerRole())),
		dayInput([]productivity.ClockSession{shift(at(8, 0), at(16, 0))},
			[]productivity.ActivityEvent{activity("a1", "packer", 1, at(15, 0), at(15, 1))}, roles(packerRole())),
	}

	for i, in := range cases {
		result, err := Calculate(in)
		require.NoError(t, err, "case %d", i)
		assert.GreaterOrEqual(t, result.Score.EfficiencyRate, 0.0, "case %d", i)
		assert.LessOrEqual(t, result.Score.EfficiencyRate, 1.0, "case %d", i)
		assert.GreaterOrEqual(t, result.Score.ActiveMinutes, 0.0, "case %d", i)
		assert.GreaterOrEqual(t, result.Score.ClockedMinutes, 0.0, "case %d", i)
	}
}

func TestCalculate_Idempotent(t *testing.T) {
	in := dayInput(
		[]productivity.ClockSession{shift(at(8, 0), at(16, 0))},
		[]productivity.ActivityEvent{
			activity("a2", "packer", 60, at(11, 40), at(15, 45)),
			activity("a1", "packer", 40, at(8, 0), at(11, 0)),
		},
		roles(packerRole()),
	)

	first, err := Calculate(in)
	require.NoError(t, err)
	second, err := Calculate(in)
	require.NoError(t, err)

	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.IdlePeriods, second.IdlePeriods)
}
