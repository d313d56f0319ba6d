package idle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cmlabs-hris/productivity-engine/internal/domain/productivity"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/bizday"
	"github.com/cmlabs-hris/productivity-engine/internal/repository/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var clockIn = time.Date(2024, time.June, 12, 8, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	topics []string
	keys   []string
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, topic, key string, _ any) error {
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, key)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func newStore() *memory.Store {
	store := memory.NewStore()
	store.PutEmployee(productivity.Employee{ID: "emp-1", Timezone: "UTC", DefaultRoleID: "packer", Active: true})
	store.PutRoleConfig(productivity.RoleConfig{
		RoleID:                   "packer",
		Type:                     productivity.RoleTypeContinuous,
		Multiplier:               decimal.NewFromInt(1),
		ExpectedPerHour:          30,
		BaseIdleThresholdMinutes: 10,
	})
	store.PutRoleConfig(productivity.RoleConfig{
		RoleID:                   "picker",
		Type:                     productivity.RoleTypeBatch,
		Multiplier:               decimal.NewFromInt(2),
		ExpectedPerHour:          60,
		BaseIdleThresholdMinutes: 5,
	})
	store.AddClockSession(productivity.ClockSession{EmployeeID: "emp-1", ClockIn: clockIn})
	return store
}

func newMonitor(store *memory.Store, now time.Time, opts ...Option) productivity.IdleMonitor {
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	return NewIdleMonitor(store, store, store, "UTC", opts...)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		idle     float64
		limit    float64
		want     productivity.Severity
		wantIdle bool
	}{
		{"below threshold", 9, 10, "", false},
		{"at threshold", 10, 10, "", false},
		{"warning", 12, 10, productivity.SeverityWarning, true},
		{"at critical boundary", 15, 10, productivity.SeverityWarning, true},
		{"critical", 15.1, 10, productivity.SeverityCritical, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, idle := Classify(tt.idle, tt.limit)
			assert.Equal(t, tt.wantIdle, idle)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckIdle_NotClockedIn(t *testing.T) {
	store := memory.NewStore()
	store.PutEmployee(productivity.Employee{ID: "emp-2", Active: true})

	alert, err := newMonitor(store, clockIn).CheckIdle(context.Background(), "emp-2")
	require.NoError(t, err)
	assert.Nil(t, alert)
}

func TestCheckIdle_WithinThreshold(t *testing.T) {
	store := newStore()
	store.AddActivityEvent(productivity.ActivityEvent{EmployeeID: "emp-1", RoleID: "packer", ItemCount: 5,
		WindowStart: clockIn, WindowEnd: clockIn.Add(time.Hour)})

	alert, err := newMonitor(store, clockIn.Add(68*time.Minute)).CheckIdle(context.Background(), "emp-1")
	require.NoError(t, err)
	assert.Nil(t, alert)
	assert.Empty(t, store.Alerts("emp-1"))
}

func TestCheckIdle_WarningFromLastActivity(t *testing.T) {
	store := newStore()
	store.AddActivityEvent(productivity.ActivityEvent{EmployeeID: "emp-1", RoleID: "packer", ItemCount: 5,
		WindowStart: clockIn, WindowEnd: clockIn.Add(time.Hour)})
	pub := &recordingPublisher{}

	now := clockIn.Add(72 * time.Minute)
	alert, err := newMonitor(store, now, WithPublisher(pub, "engine.alerts")).CheckIdle(context.Background(), "emp-1")
	require.NoError(t, err)
	require.NotNil(t, alert)

	assert.Equal(t, productivity.SeverityWarning, alert.Severity)
	assert.Equal(t, productivity.AlertSourceLive, alert.Source)
	assert.Equal(t, 12.0, alert.IdleMinutes)
	assert.Equal(t, 10.0, alert.ThresholdMinutes)
	assert.Equal(t, bizday.NewDate(2024, time.June, 12), alert.Date)

	require.Len(t, store.Alerts("emp-1"), 1)
	periods := store.IdlePeriods("emp-1")
	require.Len(t, periods, 1)
	assert.Equal(t, productivity.IdleSourceLive, periods[0].Source)
	assert.Equal(t, clockIn.Add(time.Hour), periods[0].StartTime)
	assert.Equal(t, 2.0, periods[0].ExcessMinutes)

	assert.Equal(t, []string{"engine.alerts"}, pub.topics)
	assert.Equal(t, []string{"emp-1"}, pub.keys)
}

func TestCheckIdle_CriticalBatchThreshold(t *testing.T) {
	store := newStore()
	// 10 items at 60/h: threshold 10.5, critical beyond 15.75
	store.AddActivityEvent(productivity.ActivityEvent{EmployeeID: "emp-1", RoleID: "picker", ItemCount: 10,
		WindowStart: clockIn, WindowEnd: clockIn.Add(30 * time.Minute)})

	alert, err := newMonitor(store, clockIn.Add(50*time.Minute)).CheckIdle(context.Background(), "emp-1")
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, productivity.SeverityCritical, alert.Severity)
	assert.Equal(t, 10.5, alert.ThresholdMinutes)
}

func TestCheckIdle_NoActivitySinceClockIn(t *testing.T) {
	store := newStore()
	// Yesterday's activity does not count as activity in the current session.
	store.AddActivityEvent(productivity.ActivityEvent{EmployeeID: "emp-1", RoleID: "picker", ItemCount: 1,
		WindowStart: clockIn.Add(-20 * time.Hour), WindowEnd: clockIn.Add(-19 * time.Hour)})

	m := newMonitor(store, clockIn.Add(20*time.Minute))
	alert, err := m.CheckIdle(context.Background(), "emp-1")
	require.NoError(t, err)
	assert.Nil(t, alert, "within the 25 minute settle allowance")

	m = newMonitor(store, clockIn.Add(30*time.Minute))
	alert, err = m.CheckIdle(context.Background(), "emp-1")
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, 25.0, alert.ThresholdMinutes)
	assert.Equal(t, 30.0, alert.IdleMinutes)
}

func TestCheckIdle_PublishFailureDoesNotFailCheck(t *testing.T) {
	store := newStore()
	pub := &recordingPublisher{err: errors.New("broker down")}

	alert, err := newMonitor(store, clockIn.Add(2*time.Hour), WithPublisher(pub, "engine.alerts")).
		CheckIdle(context.Background(), "emp-1")
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Len(t, store.Alerts("emp-1"), 1)
}

func TestCheckIdle_NeverTouchesDailyScore(t *testing.T) {
	store := newStore()
	_, err := newMonitor(store, clockIn.Add(2*time.Hour)).CheckIdle(context.Background(), "emp-1")
	require.NoError(t, err)

	_, err = store.GetDailyScore(context.Background(), "emp-1", bizday.NewDate(2024, time.June, 12))
	assert.ErrorIs(t, err, productivity.ErrDailyScoreNotFound)
}

func TestCheckIdle_MissingDefaultRole(t *testing.T) {
	store := newStore()
	store.PutEmployee(productivity.Employee{ID: "emp-1", Timezone: "UTC", DefaultRoleID: "ghost", Active: true})

	_, err := newMonitor(store, clockIn.Add(2*time.Hour)).CheckIdle(context.Background(), "emp-1")
	assert.ErrorIs(t, err, productivity.ErrRoleConfigNotFound)
}

func TestCheckAll_SkipsFailingEmployees(t *testing.T) {
	store := newStore()
	store.PutEmployee(productivity.Employee{ID: "emp-2", Timezone: "UTC", DefaultRoleID: "ghost", Active: true})
	store.AddClockSession(productivity.ClockSession{EmployeeID: "emp-2", ClockIn: clockIn})
	store.PutEmployee(productivity.Employee{ID: "emp-3", Timezone: "UTC", DefaultRoleID: "packer", Active: true})

	alerts, err := newMonitor(store, clockIn.Add(2*time.Hour)).CheckAll(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "emp-1", alerts[0].EmployeeID)
}

func TestAlertsForDay(t *testing.T) {
	day := bizday.NewDate(2024, time.June, 12)
	result := productivity.DayResult{
		IdlePeriods: []productivity.IdlePeriod{
			{EmployeeID: "emp-1", Date: day, Kind: productivity.IdleMidShift, DurationMinutes: 40, ThresholdMinutes: 10,
				ExcessMinutes: 30, EndTime: clockIn.Add(3 * time.Hour)},
			{EmployeeID: "emp-1", Date: day, Kind: productivity.IdleEndOfDay, DurationMinutes: 12, ThresholdMinutes: 10,
				ExcessMinutes: 2, EndTime: clockIn.Add(8 * time.Hour)},
		},
	}

	alerts := NewIdleMonitor(memory.NewStore(), memory.NewStore(), memory.NewStore(), "UTC").AlertsForDay(result)
	require.Len(t, alerts, 2)
	assert.Equal(t, productivity.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, productivity.SeverityWarning, alerts[1].Severity)
	for _, a := range alerts {
		assert.Equal(t, productivity.AlertSourceRecalculation, a.Source)
		assert.Equal(t, day, a.Date)
		assert.NotEmpty(t, a.ID)
	}
}
