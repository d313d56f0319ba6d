package idle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cmlabs-hris/productivity-engine/internal/domain/productivity"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/bizday"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/eventbus"
	"github.com/cmlabs-hris/productivity-engine/internal/service/threshold"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// CriticalFactor is the multiple of the threshold beyond which idle time is critical.
const CriticalFactor = 1.5

const sweepConcurrency = 8

type IdleMonitorImpl struct {
	productivity.SourceRepository
	productivity.ScoreRepository
	productivity.AlertRepository
	publisher       eventbus.Publisher
	alertTopic      string
	defaultTimezone string
	now             func() time.Time
}

type Option func(*IdleMonitorImpl)

func WithClock(now func() time.Time) Option {
	return func(m *IdleMonitorImpl) { m.now = now }
}

// WithPublisher mirrors every live alert to topic.
func WithPublisher(pub eventbus.Publisher, topic string) Option {
	return func(m *IdleMonitorImpl) {
		m.publisher = pub
		m.alertTopic = topic
	}
}

func NewIdleMonitor(
	sourceRepo productivity.SourceRepository,
	scoreRepo productivity.ScoreRepository,
	alertRepo productivity.AlertRepository,
	defaultTimezone string,
	opts ...Option,
) productivity.IdleMonitor {
	m := &IdleMonitorImpl{
		SourceRepository: sourceRepo,
		ScoreRepository:  scoreRepo,
		AlertRepository:  alertRepo,
		publisher:        eventbus.Noop{},
		defaultTimezone:  defaultTimezone,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Classify reports whether idleMinutes exceeds limit and with which severity.
func Classify(idleMinutes, limit float64) (productivity.Severity, bool) {
	if idleMinutes <= limit {
		return "", false
	}
	if idleMinutes > limit*CriticalFactor {
		return productivity.SeverityCritical, true
	}
	return productivity.SeverityWarning, true
}

// CheckIdle implements productivity.IdleMonitor.
func (m *IdleMonitorImpl) CheckIdle(ctx context.Context, employeeID string) (*productivity.Alert, error) {
	now := m.now().UTC()

	session, err := m.SourceRepository.GetOpenSession(ctx, employeeID)
	if err != nil {
		if errors.Is(err, productivity.ErrNoOpenSession) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get open session: %w", err)
	}

	emp, err := m.SourceRepository.GetEmployee(ctx, employeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get employee: %w", err)
	}

	idleSince, limit, err := m.idleWindow(ctx, emp, session, now)
	if err != nil {
		return nil, err
	}

	idleMinutes := now.Sub(idleSince).Minutes()
	severity, idle := Classify(idleMinutes, limit)
	if !idle {
		return nil, nil
	}

	zone := emp.Timezone
	if zone == "" {
		zone = m.defaultTimezone
	}
	date, err := bizday.UTCToLocalDate(now, zone)
	if err != nil {
		return nil, productivity.NewFault(productivity.FaultConfiguration, employeeID, bizday.Date{}, err)
	}

	period := productivity.IdlePeriod{
		ID:               newID(),
		EmployeeID:       employeeID,
		Date:             date,
		Kind:             productivity.IdleLive,
		Source:           productivity.IdleSourceLive,
		StartTime:        idleSince,
		EndTime:          now,
		DurationMinutes:  round2(idleMinutes),
		ThresholdMinutes: round2(limit),
		ExcessMinutes:    round2(threshold.Excess(idleMinutes, limit)),
	}
	if err := m.ScoreRepository.InsertIdlePeriod(ctx, period); err != nil {
		return nil, fmt.Errorf("failed to insert idle period: %w", err)
	}

	alert := productivity.Alert{
		ID:               newID(),
		EmployeeID:       employeeID,
		Date:             date,
		Type:             productivity.AlertTypeIdle,
		Severity:         severity,
		Message:          fmt.Sprintf("Idle for %.0f minutes (threshold %.1f)", idleMinutes, limit),
		IdleMinutes:      round2(idleMinutes),
		ThresholdMinutes: round2(limit),
		Source:           productivity.AlertSourceLive,
		CreatedAt:        now,
	}
	if err := m.AlertRepository.InsertAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to insert alert: %w", err)
	}

	if err := m.publisher.Publish(ctx, m.alertTopic, employeeID, productivity.NewAlertResponse(alert)); err != nil {
		slog.Warn("Failed to publish idle alert", "employee_id", employeeID, "alert_id", alert.ID, "error", err)
	}

	slog.Info("Idle alert raised",
		"employee_id", employeeID,
		"severity", severity,
		"idle_minutes", alert.IdleMinutes,
		"threshold_minutes", alert.ThresholdMinutes)

	return &alert, nil
}

// idleWindow returns when the current idle stretch began and the tolerance that applies to it.
func (m *IdleMonitorImpl) idleWindow(ctx context.Context, emp productivity.Employee, session productivity.ClockSession, now time.Time) (time.Time, float64, error) {
	last, err := m.SourceRepository.GetLastActivity(ctx, emp.ID, now)
	if err != nil && !errors.Is(err, productivity.ErrNoActivity) {
		return time.Time{}, 0, fmt.Errorf("failed to get last activity: %w", err)
	}

	if err != nil || last.WindowEnd.Before(session.ClockIn) {
		role, err := m.SourceRepository.GetRoleConfig(ctx, emp.DefaultRoleID)
		if err != nil {
			return time.Time{}, 0, fmt.Errorf("failed to get default role %q: %w", emp.DefaultRoleID, err)
		}
		return session.ClockIn, threshold.BoundaryThreshold(role), nil
	}

	role, err := m.SourceRepository.GetRoleConfig(ctx, last.RoleID)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("failed to get role %q: %w", last.RoleID, err)
	}
	return last.WindowEnd, threshold.GapThreshold(role, last.ItemCount), nil
}

// CheckAll implements productivity.IdleMonitor. A failing employee is logged and skipped.
func (m *IdleMonitorImpl) CheckAll(ctx context.Context) ([]productivity.Alert, error) {
	employees, err := m.SourceRepository.ListActiveEmployees(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active employees: %w", err)
	}

	var (
		mu     sync.Mutex
		alerts []productivity.Alert
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, id := range employees {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			alert, err := m.CheckIdle(gctx, id)
			if err != nil {
				slog.Error("Idle check failed", "employee_id", id, "error", err)
				return nil
			}
			if alert != nil {
				mu.Lock()
				alerts = append(alerts, *alert)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return alerts, err
	}

	slog.Debug("Idle sweep finished", "employees", len(employees), "alerts", len(alerts))
	return alerts, nil
}

// AlertsForDay implements productivity.IdleMonitor.
func (m *IdleMonitorImpl) AlertsForDay(result productivity.DayResult) []productivity.Alert {
	var alerts []productivity.Alert
	for _, p := range result.IdlePeriods {
		severity, idle := Classify(p.DurationMinutes, p.ThresholdMinutes)
		if !idle {
			continue
		}
		alerts = append(alerts, productivity.Alert{
			ID:               newID(),
			EmployeeID:       p.EmployeeID,
			Date:             p.Date,
			Type:             productivity.AlertTypeIdle,
			Severity:         severity,
			Message:          fmt.Sprintf("%s idle gap of %.0f minutes (threshold %.1f)", p.Kind, p.DurationMinutes, p.ThresholdMinutes),
			IdleMinutes:      p.DurationMinutes,
			ThresholdMinutes: p.ThresholdMinutes,
			Source:           productivity.AlertSourceRecalculation,
			CreatedAt:        p.EndTime,
		})
	}
	return alerts
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
