package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/tsanders-rh/panelctl/internal/ledger"
	"github.com/tsanders-rh/panelctl/internal/panel"
	"github.com/tsanders-rh/panelctl/internal/policy"
	"github.com/tsanders-rh/panelctl/internal/provision"
	"github.com/tsanders-rh/panelctl/internal/store"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string                   `json:"error"`
	Message string                   `json:"message,omitempty"`
	Details []map[string]interface{} `json:"details,omitempty"`
}

// NewErrorResponse creates a new error response
func NewErrorResponse(error, message string) *ErrorResponse {
	return &ErrorResponse{
		Error:   error,
		Message: message,
	}
}

// WithDetails adds details to an error response
func (e *ErrorResponse) WithDetails(details []map[string]interface{}) *ErrorResponse {
	e.Details = details
	return e
}

// ErrorBadRequest returns a 400 Bad Request error
func ErrorBadRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", message))
}

// ErrorUnauthorized returns a 401 Unauthorized error
func ErrorUnauthorized(c echo.Context, message string) error {
	return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", message))
}

// ErrorForbidden returns a 403 Forbidden error
func ErrorForbidden(c echo.Context, message string) error {
	return c.JSON(http.StatusForbidden, NewErrorResponse("forbidden", message))
}

// ErrorNotFound returns a 404 Not Found error
func ErrorNotFound(c echo.Context, message string) error {
	return c.JSON(http.StatusNotFound, NewErrorResponse("not_found", message))
}

// ErrorConflict returns a 409 Conflict error
func ErrorConflict(c echo.Context, message string) error {
	return c.JSON(http.StatusConflict, NewErrorResponse("conflict", message))
}

// ErrorValidation returns a 422 Unprocessable Entity error with validation details
func ErrorValidation(c echo.Context, result *policy.ValidationResult) error {
	details := make([]map[string]interface{}, len(result.Errors))
	for i, err := range result.Errors {
		details[i] = map[string]interface{}{
			"field":   err.Field,
			"message": err.Message,
		}
	}

	return c.JSON(http.StatusUnprocessableEntity, NewErrorResponse(
		"validation_failed",
		"Request validation failed",
	).WithDetails(details))
}

// ErrorInsufficientResources returns a 422 listing every short resource
func ErrorInsufficientResources(c echo.Context, e *ledger.InsufficientResourcesError) error {
	details := make([]map[string]interface{}, len(e.Shortfalls))
	for i, s := range e.Shortfalls {
		details[i] = map[string]interface{}{
			"field":     s.Field,
			"needed":    s.Needed,
			"available": s.Available,
		}
	}

	return c.JSON(http.StatusUnprocessableEntity, NewErrorResponse(
		"insufficient_resources",
		"Not enough resources",
	).WithDetails(details))
}

// ErrorBadGateway returns a 502 for a failed panel operation
func ErrorBadGateway(c echo.Context, message string) error {
	return c.JSON(http.StatusBadGateway, NewErrorResponse("panel_error", message))
}

// ErrorInternal returns a 500 Internal Server Error
func ErrorInternal(c echo.Context, message string) error {
	return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", message))
}

// ErrorServiceUnavailable returns a 503 Service Unavailable error
func ErrorServiceUnavailable(c echo.Context, message string) error {
	return c.JSON(http.StatusServiceUnavailable, NewErrorResponse("service_unavailable", message))
}

// RespondError maps an error from a lifecycle or purge operation to a
// response. Saga errors are matched before the store sentinels they may
// wrap. Panel details are only exposed when the panel rejected the
// request; everything else gets a generic message.
func RespondError(c echo.Context, logger *zap.Logger, err error) error {
	var (
		validation   *policy.ValidationResult
		insufficient *ledger.InsufficientResourcesError
		negative     *ledger.NegativeDeltaError
		orphaned     *provision.OrphanedInstanceError
		provisioning *provision.ProvisioningFailedError
		update       *provision.UpdateFailedError
		deletion     *provision.DeletionFailedError
	)

	switch {
	case errors.As(err, &validation):
		return ErrorValidation(c, validation)
	case errors.As(err, &insufficient):
		return ErrorInsufficientResources(c, insufficient)
	case errors.As(err, &negative):
		return ErrorBadRequest(c, negative.Error())
	case errors.As(err, &orphaned):
		logger.Error("request left an orphaned server", zap.Int("remote_id", orphaned.RemoteID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, NewErrorResponse(
			"orphaned_instance",
			"The server was created but could not be recorded; it will be cleaned up",
		))
	case errors.As(err, &provisioning):
		return panelFailure(c, logger, err, "Failed to create server")
	case errors.As(err, &update):
		return panelFailure(c, logger, err, "Failed to update server")
	case errors.As(err, &deletion):
		return panelFailure(c, logger, err, "Failed to delete server")
	case errors.Is(err, store.ErrNotFound):
		return ErrorNotFound(c, "Resource not found")
	case errors.Is(err, store.ErrConflict):
		return ErrorConflict(c, "Resource already exists")
	}

	logger.Error("request failed", zap.Error(err))
	return ErrorInternal(c, "Internal error")
}

func panelFailure(c echo.Context, logger *zap.Logger, err error, fallback string) error {
	if detail, ok := panel.SafeDetail(err); ok {
		return ErrorBadGateway(c, detail)
	}
	logger.Warn("panel operation failed", zap.Error(err))
	return ErrorBadGateway(c, fallback)
}
