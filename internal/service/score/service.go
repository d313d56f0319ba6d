package score

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cmlabs-hris/productivity-engine/internal/domain/productivity"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/bizday"
	"github.com/google/uuid"
)

type ScoreServiceImpl struct {
	productivity.SourceRepository
	productivity.ScoreRepository
	defaultTimezone string
	now             func() time.Time
	locks           *keyedMutex
}

type Option func(*ScoreServiceImpl)

// WithClock overrides time.Now, used for open sessions and end-of-day gaps.
func WithClock(now func() time.Time) Option {
	return func(s *ScoreServiceImpl) { s.now = now }
}

func NewScoreService(
	sourceRepo productivity.SourceRepository,
	scoreRepo productivity.ScoreRepository,
	defaultTimezone string,
	opts ...Option,
) productivity.ScoreService {
	s := &ScoreServiceImpl{
		SourceRepository: sourceRepo,
		ScoreRepository:  scoreRepo,
		defaultTimezone:  defaultTimezone,
		now:              time.Now,
		locks:            newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ComputeDailyScore implements productivity.ScoreService.
func (s *ScoreServiceImpl) ComputeDailyScore(ctx context.Context, employeeID string, date bizday.Date) (productivity.DailyScore, error) {
	unlock := s.locks.Lock(employeeID + "|" + date.String())
	defer unlock()

	result, err := s.AnalyzeDay(ctx, employeeID, date)
	if err != nil {
		return productivity.DailyScore{}, err
	}

	periods := assignIDs(result.IdlePeriods)
	if err := s.ScoreRepository.SaveDay(ctx, result.Score, periods); err != nil {
		return productivity.DailyScore{}, fmt.Errorf("failed to save daily score: %w", err)
	}

	slog.Debug("Daily score computed",
		"employee_id", employeeID,
		"date", date.String(),
		"active_minutes", result.Score.ActiveMinutes,
		"clocked_minutes", result.Score.ClockedMinutes,
		"idle_periods", len(periods))

	return result.Score, nil
}

// AnalyzeDay implements productivity.ScoreService.
func (s *ScoreServiceImpl) AnalyzeDay(ctx context.Context, employeeID string, date bizday.Date) (productivity.DayResult, error) {
	zone, err := s.timezoneFor(ctx, employeeID)
	if err != nil {
		return productivity.DayResult{}, s.classify(employeeID, date, err)
	}

	start, end, err := bizday.DayToUTCRange(date, zone)
	if err != nil {
		return productivity.DayResult{}, productivity.NewFault(productivity.FaultConfiguration, employeeID, date, err)
	}

	sessions, err := s.SourceRepository.ListClockSessions(ctx, employeeID, start, end)
	if err != nil {
		return productivity.DayResult{}, s.classify(employeeID, date, fmt.Errorf("failed to list clock sessions: %w", err))
	}

	activities, err := s.SourceRepository.ListActivityEvents(ctx, employeeID, start, end)
	if err != nil {
		return productivity.DayResult{}, s.classify(employeeID, date, fmt.Errorf("failed to list activity events: %w", err))
	}

	roles := make(map[string]productivity.RoleConfig)
	for _, a := range activities {
		if _, ok := roles[a.RoleID]; ok {
			continue
		}
		role, err := s.SourceRepository.GetRoleConfig(ctx, a.RoleID)
		if err != nil {
			return productivity.DayResult{}, s.classify(employeeID, date, fmt.Errorf("failed to get role config %q: %w", a.RoleID, err))
		}
		roles[a.RoleID] = role
	}

	result, err := Calculate(DayInput{
		EmployeeID: employeeID,
		Date:       date,
		RangeStart: start,
		RangeEnd:   end,
		Now:        s.now().UTC(),
		Sessions:   sessions,
		Activities: activities,
		Roles:      roles,
	})
	if err != nil {
		return productivity.DayResult{}, err
	}

	for _, issue := range result.Score.DataQualityIssues {
		slog.Warn("Data quality issue excluded from score",
			"employee_id", employeeID,
			"date", date.String(),
			"kind", issue.Kind,
			"record_id", issue.RecordID,
			"detail", issue.Detail)
	}

	return result, nil
}

// RebuildIdlePeriods implements productivity.ScoreService.
func (s *ScoreServiceImpl) RebuildIdlePeriods(ctx context.Context, employeeID string, date bizday.Date) (int, error) {
	unlock := s.locks.Lock(employeeID + "|" + date.String())
	defer unlock()

	result, err := s.AnalyzeDay(ctx, employeeID, date)
	if err != nil {
		return 0, err
	}

	periods := assignIDs(result.IdlePeriods)
	if err := s.ScoreRepository.ReplaceIdlePeriods(ctx, employeeID, date, periods); err != nil {
		return 0, fmt.Errorf("failed to replace idle periods: %w", err)
	}
	return len(periods), nil
}

// GetDailyScore implements productivity.ScoreService.
func (s *ScoreServiceImpl) GetDailyScore(ctx context.Context, employeeID string, date bizday.Date) (productivity.DailyScore, error) {
	return s.ScoreRepository.GetDailyScore(ctx, employeeID, date)
}

func (s *ScoreServiceImpl) timezoneFor(ctx context.Context, employeeID string) (string, error) {
	emp, err := s.SourceRepository.GetEmployee(ctx, employeeID)
	if err != nil {
		return "", fmt.Errorf("failed to get employee: %w", err)
	}
	if emp.Timezone != "" {
		return emp.Timezone, nil
	}
	return s.defaultTimezone, nil
}

// classify wraps a collaborator error into the fault taxonomy.
func (s *ScoreServiceImpl) classify(employeeID string, date bizday.Date, err error) error {
	var f *productivity.Fault
	if errors.As(err, &f) {
		return err
	}
	return productivity.NewFault(productivity.KindOf(err), employeeID, date, err)
}

func assignIDs(periods []productivity.IdlePeriod) []productivity.IdlePeriod {
	out := make([]productivity.IdlePeriod, len(periods))
	for i, p := range periods {
		if p.ID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				id = uuid.New()
			}
			p.ID = id.String()
		}
		out[i] = p
	}
	return out
}

// keyedMutex serializes writers per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
