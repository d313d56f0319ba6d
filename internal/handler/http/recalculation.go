package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cmlabs-hris/productivity-engine/internal/domain/auth"
	"github.com/cmlabs-hris/productivity-engine/internal/domain/recalc"
	"github.com/cmlabs-hris/productivity-engine/internal/handler/http/response"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/jwt"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/validator"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
)

type RecalculationHandler interface {
	Start(w http.ResponseWriter, r *http.Request)
	Get(w http.ResponseWriter, r *http.Request)
	Events(w http.ResponseWriter, r *http.Request)
	Cancel(w http.ResponseWriter, r *http.Request)
	Resume(w http.ResponseWriter, r *http.Request)

	// SSE
	GetStreamToken(w http.ResponseWriter, r *http.Request)
	Stream(w http.ResponseWriter, r *http.Request)
}

type recalculationHandlerImpl struct {
	orchestrator recalc.Orchestrator
	jwtService   jwt.Service
	keepalive    time.Duration
}

func NewRecalculationHandler(orchestrator recalc.Orchestrator, jwtService jwt.Service) RecalculationHandler {
	return &recalculationHandlerImpl{
		orchestrator: orchestrator,
		jwtService:   jwtService,
		keepalive:    30 * time.Second,
	}
}

// getClaimString extracts a string claim from the JWT context
func getClaimString(r *http.Request, key string) string {
	_, claims, _ := jwtauth.FromContext(r.Context())
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

// getAfterParam reads the replay cursor from ?after= or the Last-Event-ID header.
func getAfterParam(r *http.Request) (int64, error) {
	val := r.URL.Query().Get("after")
	if val == "" {
		val = r.Header.Get("Last-Event-ID")
	}
	if val == "" {
		return 0, nil
	}
	after, err := strconv.ParseInt(val, 10, 64)
	if err != nil || after < 0 {
		return 0, fmt.Errorf("after must be a non-negative integer")
	}
	return after, nil
}

// getJobID returns the {id} path param. Job ids are UUIDs, so anything else cannot exist.
func getJobID(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if !validator.IsValidUUID(id) {
		return "", recalc.ErrJobNotFound
	}
	return id, nil
}

// Start launches a recalculation job in the background.
func (h *recalculationHandlerImpl) Start(w http.ResponseWriter, r *http.Request) {
	var req recalc.StartJobRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("StartRecalculation decode error", "error", err)
		response.BadRequest(w, "Invalid request format", nil)
		return
	}

	if err := req.Validate(); err != nil {
		response.HandleError(w, err)
		return
	}

	job, err := h.orchestrator.StartJob(r.Context(), req.Params())
	if err != nil {
		response.HandleError(w, err)
		return
	}

	slog.Info("Recalculation requested", "job_id", job.ID, "user_id", getClaimString(r, "user_id"))
	response.Accepted(w, "Recalculation job started", recalc.NewJobResponse(job))
}

func (h *recalculationHandlerImpl) Get(w http.ResponseWriter, r *http.Request) {
	jobID, err := getJobID(r)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	job, err := h.orchestrator.GetStatus(r.Context(), jobID)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Success(w, recalc.NewJobResponse(job))
}

// Events returns the progress events recorded after the ?after= sequence number.
func (h *recalculationHandlerImpl) Events(w http.ResponseWriter, r *http.Request) {
	after, err := getAfterParam(r)
	if err != nil {
		response.BadRequest(w, err.Error(), nil)
		return
	}

	jobID, err := getJobID(r)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	events, err := h.orchestrator.Events(r.Context(), jobID, after)
	if err != nil {
		response.HandleError(w, err)
		return
	}
	if events == nil {
		events = []recalc.ProgressEvent{}
	}

	meta := &response.Meta{Count: len(events), LastSeq: after}
	if len(events) > 0 {
		meta.LastSeq = events[len(events)-1].Seq
	}
	response.SuccessWithMeta(w, events, meta)
}

func (h *recalculationHandlerImpl) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID, err := getJobID(r)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	job, err := h.orchestrator.Cancel(r.Context(), jobID)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.SuccessWithMessage(w, "Cancellation requested", recalc.NewJobResponse(job))
}

func (h *recalculationHandlerImpl) Resume(w http.ResponseWriter, r *http.Request) {
	jobID, err := getJobID(r)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	job, err := h.orchestrator.Resume(r.Context(), jobID)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Accepted(w, "Recalculation job resumed", recalc.NewJobResponse(job))
}

// GetStreamToken generates a short-lived token for SSE connections
func (h *recalculationHandlerImpl) GetStreamToken(w http.ResponseWriter, r *http.Request) {
	userID := getClaimString(r, "user_id")
	if userID == "" {
		response.Unauthorized(w, "Unauthorized")
		return
	}

	token, expiresIn, err := h.jwtService.GenerateSSEToken(userID, auth.Role(getClaimString(r, "role")))
	if err != nil {
		response.InternalServerError(w, "Failed to generate SSE token")
		return
	}

	response.Success(w, auth.SSETokenResponse{
		Token:     token,
		ExpiresIn: expiresIn,
	})
}

// Stream replays a job's progress events and follows the live log over SSE.
func (h *recalculationHandlerImpl) Stream(w http.ResponseWriter, r *http.Request) {
	// Get token from query parameter (SSE doesn't support custom headers)
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		response.Unauthorized(w, "Missing token")
		return
	}

	_, role, err := h.jwtService.ValidateSSEToken(tokenStr)
	if err != nil {
		response.HandleError(w, err)
		return
	}
	if !role.CanOperate() {
		response.HandleError(w, auth.ErrManagerAccessRequired)
		return
	}

	after, err := getAfterParam(r)
	if err != nil {
		response.BadRequest(w, err.Error(), nil)
		return
	}

	// Check if streaming is supported
	flusher, ok := w.(http.Flusher)
	if !ok {
		response.InternalServerError(w, "Streaming not supported")
		return
	}

	jobID, err := getJobID(r)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	events, err := h.orchestrator.StreamProgress(r.Context(), jobID, after)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: connected\ndata: {\"job_id\":%q,\"after\":%d}\n\n", jobID, after)
	flusher.Flush()

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// The job reached a terminal state and every event was delivered.
				fmt.Fprintf(w, "event: end\ndata: {\"job_id\":%q}\n\n", jobID)
				flusher.Flush()
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, data)
			flusher.Flush()

		case <-keepalive.C:
			// Send keepalive ping
			fmt.Fprintf(w, "event: ping\ndata: {\"timestamp\":%d}\n\n", time.Now().Unix())
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
