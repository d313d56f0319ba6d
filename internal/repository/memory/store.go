// Package memory provides an in-process implementation of the productivity
// repositories, used for local development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cmlabs-hris/productivity-engine/internal/domain/productivity"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/bizday"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type dayKey struct {
	EmployeeID string
	Date       bizday.Date
}

type Store struct {
	mu sync.RWMutex

	employees  map[string]productivity.Employee
	roles      map[string]productivity.RoleConfig
	sessions   map[string][]productivity.ClockSession
	activities map[string][]productivity.ActivityEvent

	scores      map[dayKey]productivity.DailyScore
	idlePeriods []productivity.IdlePeriod
	alerts      []productivity.Alert
	dayRoles    map[dayKey]productivity.DayRole
	dayStatus   map[dayKey]productivity.DayStatus
	trends      map[dayKey]productivity.Trend
}

func NewStore() *Store {
	return &Store{
		employees:  make(map[string]productivity.Employee),
		roles:      make(map[string]productivity.RoleConfig),
		sessions:   make(map[string][]productivity.ClockSession),
		activities: make(map[string][]productivity.ActivityEvent),
		scores:     make(map[dayKey]productivity.DailyScore),
		dayRoles:   make(map[dayKey]productivity.DayRole),
		dayStatus:  make(map[dayKey]productivity.DayStatus),
		trends:     make(map[dayKey]productivity.Trend),
	}
}

// =============================================================================
// SEEDING - stands in for the ingestion collaborators
// =============================================================================

func (m *Store) PutEmployee(emp productivity.Employee) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[emp.ID] = emp
}

func (m *Store) PutRoleConfig(role productivity.RoleConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[role.RoleID] = role
}

func (m *Store) AddClockSession(s productivity.ClockSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = newID()
	}
	m.sessions[s.EmployeeID] = append(m.sessions[s.EmployeeID], s)
}

func (m *Store) AddActivityEvent(a productivity.ActivityEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = newID()
	}
	m.activities[a.EmployeeID] = append(m.activities[a.EmployeeID], a)
}

// =============================================================================
// SourceRepository
// =============================================================================

func (m *Store) ListClockSessions(_ context.Context, employeeID string, start, end time.Time) ([]productivity.ClockSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []productivity.ClockSession
	for _, s := range m.sessions[employeeID] {
		if !s.ClockIn.Before(end) {
			continue
		}
		if s.ClockOut != nil {
			if s.Valid() && !s.ClockOut.After(start) {
				continue
			}
			if !s.Valid() && s.ClockIn.Before(start) {
				continue
			}
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ClockIn.Before(out[j].ClockIn) })
	return out, nil
}

func (m *Store) ListActivityEvents(_ context.Context, employeeID string, start, end time.Time) ([]productivity.ActivityEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []productivity.ActivityEvent
	for _, a := range m.activities[employeeID] {
		if a.WindowStart.Before(start) || !a.WindowStart.Before(end) {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].WindowStart.Before(out[j].WindowStart) })
	return out, nil
}

func (m *Store) GetRoleConfig(_ context.Context, roleID string) (productivity.RoleConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	role, ok := m.roles[roleID]
	if !ok {
		return productivity.RoleConfig{}, productivity.ErrRoleConfigNotFound
	}
	return role, nil
}

func (m *Store) ListActiveEmployees(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, emp := range m.employees {
		if emp.Active {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Store) GetEmployee(_ context.Context, employeeID string) (productivity.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	emp, ok := m.employees[employeeID]
	if !ok {
		return productivity.Employee{}, productivity.ErrEmployeeNotFound
	}
	return emp, nil
}

func (m *Store) GetOpenSession(_ context.Context, employeeID string) (productivity.ClockSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *productivity.ClockSession
	for i, s := range m.sessions[employeeID] {
		if !s.IsOpen() {
			continue
		}
		if found == nil || s.ClockIn.After(found.ClockIn) {
			found = &m.sessions[employeeID][i]
		}
	}
	if found == nil {
		return productivity.ClockSession{}, productivity.ErrNoOpenSession
	}
	return *found, nil
}

func (m *Store) GetLastActivity(_ context.Context, employeeID string, before time.Time) (productivity.ActivityEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *productivity.ActivityEvent
	for i, a := range m.activities[employeeID] {
		if a.WindowEnd.After(before) || !a.Valid() {
			continue
		}
		if found == nil || a.WindowEnd.After(found.WindowEnd) {
			found = &m.activities[employeeID][i]
		}
	}
	if found == nil {
		return productivity.ActivityEvent{}, productivity.ErrNoActivity
	}
	return *found, nil
}

// =============================================================================
// ScoreRepository
// =============================================================================

func (m *Store) UpsertDailyScore(_ context.Context, score productivity.DailyScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[dayKey{score.EmployeeID, score.Date}] = cloneScore(score)
	return nil
}

func (m *Store) SaveDay(_ context.Context, score productivity.DailyScore, periods []productivity.IdlePeriod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[dayKey{score.EmployeeID, score.Date}] = cloneScore(score)
	m.replaceIdleLocked(score.EmployeeID, score.Date, periods)
	return nil
}

func (m *Store) ReplaceIdlePeriods(_ context.Context, employeeID string, date bizday.Date, periods []productivity.IdlePeriod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaceIdleLocked(employeeID, date, periods)
	return nil
}

func (m *Store) replaceIdleLocked(employeeID string, date bizday.Date, periods []productivity.IdlePeriod) {
	kept := m.idlePeriods[:0]
	for _, p := range m.idlePeriods {
		if p.EmployeeID == employeeID && p.Date == date && p.Source == productivity.IdleSourceHistorical {
			continue
		}
		kept = append(kept, p)
	}
	m.idlePeriods = kept
	for _, p := range periods {
		if p.ID == "" {
			p.ID = newID()
		}
		m.idlePeriods = append(m.idlePeriods, p)
	}
}

func (m *Store) InsertIdlePeriod(_ context.Context, period productivity.IdlePeriod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if period.ID == "" {
		period.ID = newID()
	}
	m.idlePeriods = append(m.idlePeriods, period)
	return nil
}

func (m *Store) GetDailyScore(_ context.Context, employeeID string, date bizday.Date) (productivity.DailyScore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.scores[dayKey{employeeID, date}]
	if !ok {
		return productivity.DailyScore{}, productivity.ErrDailyScoreNotFound
	}
	return cloneScore(s), nil
}

func (m *Store) ListDailyScores(_ context.Context, employeeID string, from, to bizday.Date) ([]productivity.DailyScore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []productivity.DailyScore
	for k, s := range m.scores {
		if k.EmployeeID != employeeID || k.Date.Before(from) || k.Date.After(to) {
			continue
		}
		out = append(out, cloneScore(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// =============================================================================
// AlertRepository
// =============================================================================

func (m *Store) InsertAlert(_ context.Context, alert productivity.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if alert.ID == "" {
		alert.ID = newID()
	}
	m.alerts = append(m.alerts, alert)
	return nil
}

// =============================================================================
// DerivedRepository
// =============================================================================

func (m *Store) ClearDerivedData(_ context.Context, table productivity.DerivedTable, from, to bizday.Date, employeeIDs []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inScope := func(employeeID string, date bizday.Date) bool {
		if date.Before(from) || date.After(to) {
			return false
		}
		if employeeIDs == nil {
			return true
		}
		for _, id := range employeeIDs {
			if id == employeeID {
				return true
			}
		}
		return false
	}

	var removed int64
	switch table {
	case productivity.TableIdlePeriods:
		kept := m.idlePeriods[:0]
		for _, p := range m.idlePeriods {
			if p.Source == productivity.IdleSourceHistorical && inScope(p.EmployeeID, p.Date) {
				removed++
				continue
			}
			kept = append(kept, p)
		}
		m.idlePeriods = kept
	case productivity.TableAlerts:
		kept := m.alerts[:0]
		for _, a := range m.alerts {
			if a.Source == productivity.AlertSourceRecalculation && inScope(a.EmployeeID, a.Date) {
				removed++
				continue
			}
			kept = append(kept, a)
		}
		m.alerts = kept
	case productivity.TableDayRoles:
		for k := range m.dayRoles {
			if inScope(k.EmployeeID, k.Date) {
				delete(m.dayRoles, k)
				removed++
			}
		}
	case productivity.TableDayStatus:
		for k := range m.dayStatus {
			if inScope(k.EmployeeID, k.Date) {
				delete(m.dayStatus, k)
				removed++
			}
		}
	}
	return removed, nil
}

func (m *Store) UpsertDayRole(_ context.Context, role productivity.DayRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dayRoles[dayKey{role.EmployeeID, role.Date}] = role
	return nil
}

func (m *Store) UpsertDayStatus(_ context.Context, status productivity.DayStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dayStatus[dayKey{status.EmployeeID, status.Date}] = status
	return nil
}

func (m *Store) RefreshTrends(_ context.Context, employeeID string, from, to bizday.Date) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	weekFrom := from.StartOfWeek()
	weekTo := to.StartOfWeek().AddDays(6)

	rollups := make(map[bizday.Date]*productivity.Trend)
	for k, s := range m.scores {
		if k.EmployeeID != employeeID || k.Date.Before(weekFrom) || k.Date.After(weekTo) {
			continue
		}
		week := k.Date.StartOfWeek()
		t, ok := rollups[week]
		if !ok {
			t = &productivity.Trend{EmployeeID: employeeID, WeekStart: week, PointsEarned: decimal.Zero}
			rollups[week] = t
		}
		t.Days++
		t.ItemsProcessed += s.ItemsProcessed
		t.ActiveMinutes += s.ActiveMinutes
		t.ClockedMinutes += s.ClockedMinutes
		t.PointsEarned = t.PointsEarned.Add(s.PointsEarned)
	}

	for week := weekFrom; !week.After(weekTo); week = week.AddDays(7) {
		delete(m.trends, dayKey{employeeID, week})
	}
	for week, t := range rollups {
		if t.ClockedMinutes > 0 {
			t.EfficiencyRate = t.ActiveMinutes / t.ClockedMinutes
		}
		m.trends[dayKey{employeeID, week}] = *t
	}
	return len(rollups), nil
}

// =============================================================================
// INSPECTION - read helpers for tests and the dev server
// =============================================================================

func (m *Store) IdlePeriods(employeeID string) []productivity.IdlePeriod {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []productivity.IdlePeriod
	for _, p := range m.idlePeriods {
		if p.EmployeeID == employeeID {
			out = append(out, p)
		}
	}
	return out
}

func (m *Store) Alerts(employeeID string) []productivity.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []productivity.Alert
	for _, a := range m.alerts {
		if a.EmployeeID == employeeID {
			out = append(out, a)
		}
	}
	return out
}

func (m *Store) DayRole(employeeID string, date bizday.Date) (productivity.DayRole, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.dayRoles[dayKey{employeeID, date}]
	return r, ok
}

func (m *Store) DayStatus(employeeID string, date bizday.Date) (productivity.DayStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.dayStatus[dayKey{employeeID, date}]
	return s, ok
}

func (m *Store) Trend(employeeID string, weekStart bizday.Date) (productivity.Trend, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trends[dayKey{employeeID, weekStart}]
	return t, ok
}

func cloneScore(s productivity.DailyScore) productivity.DailyScore {
	if s.DataQualityIssues != nil {
		s.DataQualityIssues = append([]productivity.DataQualityIssue(nil), s.DataQualityIssues...)
	}
	return s
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
