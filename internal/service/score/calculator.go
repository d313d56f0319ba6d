package score

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/cmlabs-hris/productivity-engine/internal/domain/productivity"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/bizday"
	"github.com/cmlabs-hris/productivity-engine/internal/service/threshold"
	"github.com/shopspring/decimal"
)

// DayInput is everything the calculator needs for one employee-day.
type DayInput struct {
	EmployeeID string
	Date       bizday.Date
	RangeStart time.Time
	RangeEnd   time.Time
	Now        time.Time
	Sessions   []productivity.ClockSession
	Activities []productivity.ActivityEvent
	Roles      map[string]productivity.RoleConfig
}

// clockSummary is the clock side of the day after clipping sessions to the day range.
type clockSummary struct {
	minutes       float64
	validSessions int
	earliestIn    time.Time
	endRef        time.Time
	clockedOut    bool
}

// Calculate merges clock sessions and activity events into a daily score. It is pure:
// the same input always yields the same result.
func Calculate(in DayInput) (productivity.DayResult, error) {
	var issues []productivity.DataQualityIssue

	clock, sessionIssues := summarizeSessions(in)
	issues = append(issues, sessionIssues...)

	activities, activityIssues := validActivities(in.Activities)
	issues = append(issues, activityIssues...)

	for _, a := range activities {
		role, ok := in.Roles[a.RoleID]
		if !ok {
			return productivity.DayResult{}, productivity.NewFault(productivity.FaultConfiguration, in.EmployeeID, in.Date,
				fmt.Errorf("%w: role %q of activity %s", productivity.ErrRoleConfigNotFound, a.RoleID, a.ID))
		}
		if err := role.Validate(); err != nil {
			return productivity.DayResult{}, productivity.NewFault(productivity.FaultConfiguration, in.EmployeeID, in.Date, err)
		}
	}

	result := productivity.DayResult{
		Activities: activities,
		Roles:      in.Roles,
		RangeStart: in.RangeStart,
		RangeEnd:   in.RangeEnd,
	}

	score := productivity.DailyScore{
		EmployeeID:     in.EmployeeID,
		Date:           in.Date,
		ClockedMinutes: round2(clock.minutes),
		PointsEarned:   decimal.Zero,
	}

	if len(activities) == 0 {
		score.DataQualityIssues = issues
		result.Score = score
		return result, nil
	}

	var excess float64
	var periods []productivity.IdlePeriod
	addGap := func(kind productivity.IdleKind, from, to time.Time, limit float64) {
		gap := minutesBetween(from, to)
		over := threshold.Excess(gap, limit)
		if over <= 0 {
			return
		}
		excess += over
		periods = append(periods, productivity.IdlePeriod{
			EmployeeID:       in.EmployeeID,
			Date:             in.Date,
			Kind:             kind,
			Source:           productivity.IdleSourceHistorical,
			StartTime:        from,
			EndTime:          to,
			DurationMinutes:  round2(gap),
			ThresholdMinutes: round2(limit),
			ExcessMinutes:    round2(over),
		})
	}

	first := activities[0]
	if clock.validSessions == 0 {
		issues = append(issues, productivity.DataQualityIssue{
			Kind:   productivity.IssueActivityWithoutClockSession,
			Detail: fmt.Sprintf("%d activities recorded with no clock session", len(activities)),
		})
	} else if first.WindowStart.Before(clock.earliestIn) {
		// An activity before the first clock-in means an unlogged shift. The start gap is
		// not computable, so it is left out of excess idle and flagged.
		issues = append(issues, productivity.DataQualityIssue{
			Kind:     productivity.IssueActivityBeforeClockIn,
			RecordID: first.ID,
			Detail: fmt.Sprintf("activity starts %.1f minutes before first clock-in",
				minutesBetween(first.WindowStart, clock.earliestIn)),
		})
	} else {
		addGap(productivity.IdleStartOfDay, clock.earliestIn, first.WindowStart,
			threshold.BoundaryThreshold(in.Roles[first.RoleID]))
	}

	latestEnd := first.WindowEnd
	for _, curr := range activities[1:] {
		if curr.WindowStart.After(latestEnd) {
			addGap(productivity.IdleMidShift, latestEnd, curr.WindowStart,
				threshold.GapThreshold(in.Roles[curr.RoleID], curr.ItemCount))
		}
		if curr.WindowEnd.After(latestEnd) {
			latestEnd = curr.WindowEnd
		}
	}

	last := activities[len(activities)-1]
	if clock.validSessions > 0 && clock.endRef.After(latestEnd) {
		addGap(productivity.IdleEndOfDay, latestEnd, clock.endRef,
			threshold.EndOfDayThreshold(in.Roles[last.RoleID], clock.clockedOut))
	}

	items := 0
	points := decimal.Zero
	for _, a := range activities {
		items += a.ItemCount
		points = points.Add(decimal.NewFromInt(int64(a.ItemCount)).Mul(in.Roles[a.RoleID].Multiplier))
	}

	active := math.Max(0, clock.minutes-excess)
	efficiency := 0.0
	if clock.minutes > 0 {
		efficiency = math.Min(1.0, active/clock.minutes)
	}

	score.ItemsProcessed = items
	score.ActiveMinutes = round2(active)
	score.EfficiencyRate = round4(efficiency)
	score.PointsEarned = points
	score.DataQualityIssues = issues

	result.Score = score
	result.IdlePeriods = periods
	return result, nil
}

func summarizeSessions(in DayInput) (clockSummary, []productivity.DataQualityIssue) {
	var summary clockSummary
	var issues []productivity.DataQualityIssue
	var latestIn time.Time

	for _, s := range in.Sessions {
		if !s.Valid() {
			issues = append(issues, productivity.DataQualityIssue{
				Kind:     productivity.IssueNegativeSession,
				RecordID: s.ID,
				Detail: fmt.Sprintf("clock-out %s precedes clock-in %s",
					s.ClockOut.UTC().Format(time.RFC3339), s.ClockIn.UTC().Format(time.RFC3339)),
			})
			continue
		}

		start := maxTime(s.ClockIn, in.RangeStart)
		end := in.Now
		if s.ClockOut != nil {
			end = *s.ClockOut
		}
		end = minTime(end, in.RangeEnd)
		if end.After(start) {
			summary.minutes += minutesBetween(start, end)
		} else {
			end = start
		}

		if summary.validSessions == 0 || start.Before(summary.earliestIn) {
			summary.earliestIn = start
		}
		if summary.validSessions == 0 || !s.ClockIn.Before(latestIn) {
			latestIn = s.ClockIn
			summary.endRef = end
			summary.clockedOut = s.ClockOut != nil && !s.ClockOut.After(in.RangeEnd)
		}
		summary.validSessions++
	}
	return summary, issues
}

func validActivities(events []productivity.ActivityEvent) ([]productivity.ActivityEvent, []productivity.DataQualityIssue) {
	var issues []productivity.DataQualityIssue
	valid := make([]productivity.ActivityEvent, 0, len(events))
	for _, a := range events {
		if !a.Valid() {
			issues = append(issues, productivity.DataQualityIssue{
				Kind:     productivity.IssueMalformedActivity,
				RecordID: a.ID,
				Detail:   fmt.Sprintf("window %s..%s with %d items", a.WindowStart.UTC().Format(time.RFC3339), a.WindowEnd.UTC().Format(time.RFC3339), a.ItemCount),
			})
			continue
		}
		valid = append(valid, a)
	}
	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].WindowStart.Before(valid[j].WindowStart)
	})
	return valid, issues
}

func minutesBetween(from, to time.Time) float64 {
	return to.Sub(from).Minutes()
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
