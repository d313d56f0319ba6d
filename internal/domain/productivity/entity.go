package productivity

import (
	"time"

	"github.com/cmlabs-hris/productivity-engine/internal/pkg/bizday"
	"github.com/shopspring/decimal"
)

type RoleType string

const (
	RoleTypeContinuous RoleType = "continuous"
	RoleTypeBatch      RoleType = "batch"
)

// ClockSession is one clock-in/clock-out interval. Instants are UTC.
type ClockSession struct {
	ID         string
	EmployeeID string
	ClockIn    time.Time
	ClockOut   *time.Time
	Source     string
}

// Valid reports false for a session whose clock-out precedes its clock-in.
func (s ClockSession) Valid() bool {
	return s.ClockOut == nil || !s.ClockOut.Before(s.ClockIn)
}

func (s ClockSession) IsOpen() bool {
	return s.ClockOut == nil
}

// ActivityEvent is one scanned unit-of-work record.
type ActivityEvent struct {
	ID           string
	EmployeeID   string
	RoleID       string
	ActivityType string
	ItemCount    int
	WindowStart  time.Time
	WindowEnd    time.Time
	Source       string
}

func (a ActivityEvent) Valid() bool {
	return !a.WindowEnd.Before(a.WindowStart) && a.ItemCount >= 0
}

type RoleConfig struct {
	RoleID                   string
	Type                     RoleType
	Multiplier               decimal.Decimal
	ExpectedPerHour          float64
	BaseIdleThresholdMinutes float64
	SecondsPerItem           *float64
}

type Employee struct {
	ID            string
	Timezone      string
	DefaultRoleID string
	Active        bool
}

type DataQualityKind string

const (
	IssueNegativeSession             DataQualityKind = "negative_session"
	IssueMalformedActivity           DataQualityKind = "malformed_activity"
	IssueActivityBeforeClockIn       DataQualityKind = "activity_before_clock_in"
	IssueActivityWithoutClockSession DataQualityKind = "activity_without_clock_session"
)

// DataQualityIssue records a source record excluded from a calculation.
type DataQualityIssue struct {
	Kind     DataQualityKind `json:"kind"`
	RecordID string          `json:"record_id,omitempty"`
	Detail   string          `json:"detail"`
}

// DailyScore is one row per (employee, calendar day). Always written as a full row.
type DailyScore struct {
	EmployeeID        string
	Date              bizday.Date
	ItemsProcessed    int
	ActiveMinutes     float64
	ClockedMinutes    float64
	EfficiencyRate    float64
	PointsEarned      decimal.Decimal
	DataQualityIssues []DataQualityIssue
}

type IdleKind string

const (
	IdleStartOfDay IdleKind = "start_of_day"
	IdleMidShift   IdleKind = "mid_shift"
	IdleEndOfDay   IdleKind = "end_of_day"
	IdleLive       IdleKind = "live"
)

type IdleSource string

const (
	IdleSourceHistorical IdleSource = "historical"
	IdleSourceLive       IdleSource = "live"
)

type IdlePeriod struct {
	ID               string
	EmployeeID       string
	Date             bizday.Date
	Kind             IdleKind
	Source           IdleSource
	StartTime        time.Time
	EndTime          time.Time
	DurationMinutes  float64
	ThresholdMinutes float64
	ExcessMinutes    float64
}

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const AlertTypeIdle = "idle"

type AlertSource string

const (
	AlertSourceLive          AlertSource = "live"
	AlertSourceRecalculation AlertSource = "recalculation"
)

// Alert is produced by the idle monitor. Date is the business day the idle time belongs to.
type Alert struct {
	ID               string
	EmployeeID       string
	Date             bizday.Date
	Type             string
	Severity         Severity
	Message          string
	IdleMinutes      float64
	ThresholdMinutes float64
	Source           AlertSource
	CreatedAt        time.Time
}

// DayRole is the role an employee mostly worked in on a given day.
type DayRole struct {
	EmployeeID string
	Date       bizday.Date
	RoleID     string
	ItemCount  int
}

type DayStatusValue string

const (
	DayStatusAbsent      DayStatusValue = "absent"
	DayStatusNoActivity  DayStatusValue = "no_activity"
	DayStatusBelowTarget DayStatusValue = "below_target"
	DayStatusOnTarget    DayStatusValue = "on_target"
)

type DayStatus struct {
	EmployeeID string
	Date       bizday.Date
	Status     DayStatusValue
	Efficiency float64
}

// Trend is a weekly rollup of daily scores.
type Trend struct {
	EmployeeID     string
	WeekStart      bizday.Date
	Days           int
	ItemsProcessed int
	ActiveMinutes  float64
	ClockedMinutes float64
	EfficiencyRate float64
	PointsEarned   decimal.Decimal
}

type DerivedTable string

const (
	TableIdlePeriods DerivedTable = "idle_periods"
	TableAlerts      DerivedTable = "alerts"
	TableDayRoles    DerivedTable = "employee_day_roles"
	TableDayStatus   DerivedTable = "employee_day_status"
)
