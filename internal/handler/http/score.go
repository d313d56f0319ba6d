package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/cmlabs-hris/productivity-engine/internal/domain/productivity"
	"github.com/cmlabs-hris/productivity-engine/internal/handler/http/response"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/bizday"
	"github.com/go-chi/chi/v5"
)

type ScoreHandler interface {
	Compute(w http.ResponseWriter, r *http.Request)
	Get(w http.ResponseWriter, r *http.Request)
}

type scoreHandlerImpl struct {
	scoreService productivity.ScoreService
}

func NewScoreHandler(scoreService productivity.ScoreService) ScoreHandler {
	return &scoreHandlerImpl{scoreService: scoreService}
}

// Compute recalculates and stores one employee-day.
func (h *scoreHandlerImpl) Compute(w http.ResponseWriter, r *http.Request) {
	var req productivity.ComputeScoreRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("ComputeScore decode error", "error", err)
		response.BadRequest(w, "Invalid request format", nil)
		return
	}

	if err := req.Validate(); err != nil {
		response.HandleError(w, err)
		return
	}

	score, err := h.scoreService.ComputeDailyScore(r.Context(), req.EmployeeID, req.ParsedDate())
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.SuccessWithMessage(w, "Daily score computed", productivity.NewDailyScoreResponse(score))
}

// Get returns the stored score of one employee-day.
func (h *scoreHandlerImpl) Get(w http.ResponseWriter, r *http.Request) {
	employeeID := chi.URLParam(r, "employeeID")
	if employeeID == "" {
		response.BadRequest(w, "Employee ID is required", nil)
		return
	}

	date, err := bizday.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		response.BadRequest(w, "Date must be in YYYY-MM-DD format", nil)
		return
	}

	score, err := h.scoreService.GetDailyScore(r.Context(), employeeID, date)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Success(w, productivity.NewDailyScoreResponse(score))
}
