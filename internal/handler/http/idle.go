package http

import (
	"net/http"

	"github.com/cmlabs-hris/productivity-engine/internal/domain/productivity"
	"github.com/cmlabs-hris/productivity-engine/internal/handler/http/response"
	"github.com/go-chi/chi/v5"
)

type IdleHandler interface {
	Check(w http.ResponseWriter, r *http.Request)
}

type idleHandlerImpl struct {
	monitor productivity.IdleMonitor
}

func NewIdleHandler(monitor productivity.IdleMonitor) IdleHandler {
	return &idleHandlerImpl{monitor: monitor}
}

// Check runs the live idle check for one employee.
func (h *idleHandlerImpl) Check(w http.ResponseWriter, r *http.Request) {
	employeeID := chi.URLParam(r, "employeeID")
	if employeeID == "" {
		response.BadRequest(w, "Employee ID is required", nil)
		return
	}

	alert, err := h.monitor.CheckIdle(r.Context(), employeeID)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	resp := productivity.IdleCheckResponse{EmployeeID: employeeID}
	if alert != nil {
		a := productivity.NewAlertResponse(*alert)
		resp.Idle = true
		resp.Alert = &a
	}

	response.Success(w, resp)
}
