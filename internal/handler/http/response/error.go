package response

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cmlabs-hris/productivity-engine/internal/domain/auth"
	"github.com/cmlabs-hris/productivity-engine/internal/domain/productivity"
	"github.com/cmlabs-hris/productivity-engine/internal/domain/recalc"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/bizday"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/validator"
)

// HandleError maps domain errors to HTTP responses
func HandleError(w http.ResponseWriter, err error) {
	// Check if it's a validation error
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		ValidationError(w, validationErrs.ToMap())
		return
	}

	switch {
	// Auth domain errors
	case errors.Is(err, auth.ErrTokenExpired):
		Unauthorized(w, "Token expired")
	case errors.Is(err, auth.ErrInvalidToken):
		Unauthorized(w, "Invalid or expired token")
	case errors.Is(err, auth.ErrManagerAccessRequired):
		Forbidden(w, "Manager or admin access required")

	// Productivity domain errors
	case errors.Is(err, productivity.ErrEmployeeNotFound):
		NotFound(w, "Employee not found")
	case errors.Is(err, productivity.ErrDailyScoreNotFound):
		NotFound(w, "Daily score not found")
	case errors.Is(err, productivity.ErrRoleConfigNotFound),
		errors.Is(err, productivity.ErrInvalidRoleConfig),
		errors.Is(err, bizday.ErrUnknownTimezone):
		UnprocessableEntity(w, "CONFIGURATION_ERROR", err.Error())
	case errors.Is(err, productivity.ErrStoreUnavailable):
		slog.Error("Data store unavailable", "error", err)
		ServiceUnavailable(w, "Data store unavailable, try again later")

	// Recalculation domain errors
	case errors.Is(err, recalc.ErrJobNotFound):
		NotFound(w, "Recalculation job not found")
	case errors.Is(err, recalc.ErrOverlappingJob):
		Conflict(w, err.Error())
	case errors.Is(err, recalc.ErrInvalidJobState):
		Conflict(w, err.Error())
	case errors.Is(err, recalc.ErrShuttingDown):
		ServiceUnavailable(w, "Server is shutting down")

	// Default
	default:
		slog.Error("Unhandled error", "error", err)
		InternalServerError(w, "An unexpected error occurred")
	}
}
