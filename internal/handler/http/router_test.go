package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cmlabs-hris/productivity-engine/internal/domain/auth"
	"github.com/cmlabs-hris/productivity-engine/internal/domain/productivity"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/bizday"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/jwt"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/sse"
	"github.com/cmlabs-hris/productivity-engine/internal/repository/memory"
	"github.com/cmlabs-hris/productivity-engine/internal/service/idle"
	"github.com/cmlabs-hris/productivity-engine/internal/service/recalc"
	"github.com/cmlabs-hris/productivity-engine/internal/service/score"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const handlerTestSecret = "test-secret-key-for-jwt"

var shiftDay = bizday.NewDate(2024, time.June, 10)

func shiftAt(hour, minute int) time.Time {
	return time.Date(2024, time.June, 10, hour, minute, 0, 0, time.UTC)
}

type testServer struct {
	router  *chi.Mux
	store   *memory.Store
	orch    *recalc.OrchestratorImpl
	jwt     jwt.Service
	manager string
	staff   string
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
	Meta *struct {
		Count   int   `json:"count"`
		LastSeq int64 `json:"last_seq"`
	} `json:"meta"`
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := memory.NewStore()
	store.PutRoleConfig(productivity.RoleConfig{
		RoleID:                   "packer",
		Type:                     productivity.RoleTypeContinuous,
		Multiplier:               decimal.RequireFromString("1.5"),
		BaseIdleThresholdMinutes: 10,
	})
	for _, id := range []string{"emp-1", "emp-2"} {
		store.PutEmployee(productivity.Employee{ID: id, Timezone: "UTC", DefaultRoleID: "packer", Active: true})
	}

	out := shiftAt(16, 0)
	store.AddClockSession(productivity.ClockSession{EmployeeID: "emp-1", ClockIn: shiftAt(8, 0), ClockOut: &out})
	store.AddActivityEvent(productivity.ActivityEvent{EmployeeID: "emp-1", RoleID: "packer", ItemCount: 40,
		WindowStart: shiftAt(8, 0), WindowEnd: shiftAt(11, 0)})
	store.AddActivityEvent(productivity.ActivityEvent{EmployeeID: "emp-1", RoleID: "packer", ItemCount: 60,
		WindowStart: shiftAt(11, 40), WindowEnd: shiftAt(15, 45)})

	// emp-2 clocked in an hour before "now" and has not scanned anything.
	now := shiftAt(18, 0)
	store.AddClockSession(productivity.ClockSession{EmployeeID: "emp-2", ClockIn: now.Add(-time.Hour)})
	clock := func() time.Time { return now }

	scores := score.NewScoreService(store, store, "UTC", score.WithClock(clock))
	monitor := idle.NewIdleMonitor(store, store, store, "UTC", idle.WithClock(clock))
	orch := recalc.NewOrchestrator(scores, monitor, store, store, store, sse.NewHub(),
		recalc.Config{Workers: 2, Retention: time.Hour}, recalc.WithClock(clock))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})

	jwtService, err := jwt.NewJWTService(handlerTestSecret, "1h")
	require.NoError(t, err)
	manager, _, err := jwtService.GenerateAccessToken("user-manager", auth.RoleManager)
	require.NoError(t, err)
	staff, _, err := jwtService.GenerateAccessToken("user-staff", auth.RoleEmployee)
	require.NoError(t, err)

	router := NewRouter(RouterConfig{Env: "test", Version: "test"}, jwtService,
		NewScoreHandler(scores), NewIdleHandler(monitor), NewRecalculationHandler(orch, jwtService))

	return &testServer{router: router, store: store, orch: orch, jwt: jwtService, manager: manager, staff: staff}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func (s *testServer) startJob(t *testing.T, body map[string]any) string {
	t.Helper()

	rec, env := s.do(t, http.MethodPost, "/api/v1/recalculations", s.manager, body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var job struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &job))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.orch.Wait(ctx, job.ID))
	return job.ID
}

func TestRouter_Authentication(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, http.MethodGet, "/api/v1/scores/emp-1/2024-06-10", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, env.Success)

	rec, _ = s.do(t, http.MethodGet, "/api/v1/scores/emp-1/2024-06-10", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, env = s.do(t, http.MethodGet, "/api/v1/scores/emp-1/2024-06-10", s.staff, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	sseToken, _, err := s.jwt.GenerateSSEToken("user-manager", auth.RoleManager)
	require.NoError(t, err)
	rec, _ = s.do(t, http.MethodGet, "/api/v1/scores/emp-1/2024-06-10", sseToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "stream tokens are not access tokens")
}

func TestScoreEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec, _ := s.do(t, http.MethodGet, "/api/v1/scores/emp-1/2024-06-10", s.manager, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, env := s.do(t, http.MethodPost, "/api/v1/scores/compute", s.manager,
		map[string]string{"employee_id": "emp-1", "date": "2024-06-10"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var computed productivity.DailyScoreResponse
	require.NoError(t, json.Unmarshal(env.Data, &computed))
	assert.Equal(t, 100, computed.ItemsProcessed)
	assert.InDelta(t, 480, computed.ClockedMinutes, 1e-9)
	assert.InDelta(t, 450, computed.ActiveMinutes, 1e-9)
	assert.Equal(t, "150.00", computed.PointsEarned)

	rec, env = s.do(t, http.MethodGet, "/api/v1/scores/emp-1/2024-06-10", s.manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stored productivity.DailyScoreResponse
	require.NoError(t, json.Unmarshal(env.Data, &stored))
	assert.Equal(t, computed, stored)
}

func TestScoreEndpoints_Errors(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, http.MethodPost, "/api/v1/scores/compute", s.manager,
		map[string]string{"date": "10/06/2024"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NotNil(t, env.Error)
	assert.Contains(t, env.Error.Details, "employee_id")
	assert.Contains(t, env.Error.Details, "date")

	rec, _ = s.do(t, http.MethodPost, "/api/v1/scores/compute", s.manager,
		map[string]string{"employee_id": "ghost", "date": "2024-06-10"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/api/v1/scores/emp-1/yesterday", s.manager, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIdleCheckEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, http.MethodPost, "/api/v1/idle/check/emp-2", s.manager, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp productivity.IdleCheckResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.True(t, resp.Idle)
	require.NotNil(t, resp.Alert)
	assert.Equal(t, "critical", resp.Alert.Severity)
	assert.InDelta(t, 60, resp.Alert.IdleMinutes, 1e-9)
	assert.InDelta(t, 25, resp.Alert.ThresholdMinutes, 1e-9)
	assert.Len(t, s.store.Alerts("emp-2"), 1)

	// emp-1 clocked out at 16:00.
	rec, env = s.do(t, http.MethodPost, "/api/v1/idle/check/emp-1", s.manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.False(t, resp.Idle)
}

func TestRecalculationEndpoints(t *testing.T) {
	s := newTestServer(t)
	id := s.startJob(t, map[string]any{"from": "2024-06-10", "to": "2024-06-10", "employee_ids": []string{"emp-1"}})

	rec, env := s.do(t, http.MethodGet, "/api/v1/recalculations/"+id, s.manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var job struct {
		Status     string             `json:"status"`
		Progress   map[string]float64 `json:"progress"`
		ErrorCount int                `json:"error_count"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &job))
	assert.Equal(t, "completed", job.Status)
	assert.Zero(t, job.ErrorCount)
	for stage, p := range job.Progress {
		assert.InDelta(t, 1.0, p, 1e-9, stage)
	}

	_, err := s.store.GetDailyScore(context.Background(), "emp-1", shiftDay)
	assert.NoError(t, err)

	rec, env = s.do(t, http.MethodGet, "/api/v1/recalculations/"+id+"/events", s.manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, env.Meta)
	assert.Positive(t, env.Meta.Count)
	var events []struct {
		Seq  int64  `json:"seq"`
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &events))
	assert.Equal(t, "job_started", events[0].Type)
	assert.Equal(t, "job_completed", events[len(events)-1].Type)
	assert.Equal(t, events[len(events)-1].Seq, env.Meta.LastSeq)

	rec, env = s.do(t, http.MethodGet, "/api/v1/recalculations/"+id+"/events?after="+strconv.FormatInt(env.Meta.LastSeq, 10), s.manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, env.Meta.Count)
	assert.JSONEq(t, "[]", string(env.Data))

	rec, _ = s.do(t, http.MethodGet, "/api/v1/recalculations/"+id+"/events?after=-1", s.manager, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = s.do(t, http.MethodPost, "/api/v1/recalculations/"+id+"/cancel", s.manager, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "CONFLICT", env.Error.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/v1/recalculations/"+id+"/resume", s.manager, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/api/v1/recalculations/missing", s.manager, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecalculationEndpoints_Validation(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, http.MethodPost, "/api/v1/recalculations", s.manager,
		map[string]any{"from": "2024-06-12", "to": "2024-06-10", "stages": []string{"scores", "bogus"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NotNil(t, env.Error)
	assert.Contains(t, env.Error.Details, "to")
	assert.Contains(t, env.Error.Details, "stages")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/recalculations", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+s.manager)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecalculationStream(t *testing.T) {
	s := newTestServer(t)
	id := s.startJob(t, map[string]any{"from": "2024-06-10", "to": "2024-06-10", "stages": []string{"scores"}})

	rec, env := s.do(t, http.MethodPost, "/api/v1/recalculations/stream-token", s.manager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tok auth.SSETokenResponse
	require.NoError(t, json.Unmarshal(env.Data, &tok))
	require.NotEmpty(t, tok.Token)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/recalculations/"+id+"/stream?token="+tok.Token, nil)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "event: connected")
	assert.Contains(t, body, "id: 1\nevent: job_started")
	assert.Contains(t, body, "event: job_completed")
	assert.True(t, strings.HasSuffix(body, "event: end\ndata: {\"job_id\":\""+id+"\"}\n\n"))

	// Replay from Last-Event-ID skips what the client has seen.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/recalculations/"+id+"/stream?token="+tok.Token, nil)
	req.Header.Set("Last-Event-ID", "1")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.NotContains(t, rec.Body.String(), "event: job_started")
	assert.Contains(t, rec.Body.String(), "event: job_completed")
}

func TestRecalculationStream_Auth(t *testing.T) {
	s := newTestServer(t)
	id := s.startJob(t, map[string]any{"from": "2024-06-10", "to": "2024-06-10", "stages": []string{"scores"}})

	rec, _ := s.do(t, http.MethodGet, "/api/v1/recalculations/"+id+"/stream", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/api/v1/recalculations/"+id+"/stream?token="+s.manager, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "access tokens are not stream tokens")

	staffToken, _, err := s.jwt.GenerateSSEToken("user-staff", auth.RoleEmployee)
	require.NoError(t, err)
	rec, _ = s.do(t, http.MethodGet, "/api/v1/recalculations/"+id+"/stream?token="+staffToken, "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	managerToken, _, err := s.jwt.GenerateSSEToken("user-manager", auth.RoleManager)
	require.NoError(t, err)
	rec, _ = s.do(t, http.MethodGet, "/api/v1/recalculations/missing/stream?token="+managerToken, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
