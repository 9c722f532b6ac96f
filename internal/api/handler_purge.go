package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/tsanders-rh/panelctl/internal/auth"
)

// PurgeHandler handles purge job endpoints (admin only)
type PurgeHandler struct {
	purges PurgeService
	logger *zap.Logger
}

// NewPurgeHandler creates a new purge handler
func NewPurgeHandler(purges PurgeService, logger *zap.Logger) *PurgeHandler {
	return &PurgeHandler{purges: purges, logger: logger}
}

// StartPurgeRequest is the body of POST /api/v1/admin/purge
type StartPurgeRequest struct {
	Keywords  string `json:"keywords"`
	BatchSize int    `json:"batch_size,omitempty"`
}

// Start handles POST /api/v1/admin/purge. The job runs in a worker; poll
// GET /api/v1/admin/purge/:id for progress.
func (h *PurgeHandler) Start(c echo.Context) error {
	var req StartPurgeRequest
	if err := c.Bind(&req); err != nil {
		return ErrorBadRequest(c, "Invalid request body")
	}

	actor, err := auth.GetUserID(c)
	if err != nil {
		return err
	}

	job, err := h.purges.Start(c.Request().Context(), req.Keywords, req.BatchSize, actor)
	if err != nil {
		return RespondError(c, h.logger, err)
	}

	return c.JSON(http.StatusAccepted, job)
}

// Get handles GET /api/v1/admin/purge/:id
func (h *PurgeHandler) Get(c echo.Context) error {
	job, err := h.purges.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return RespondError(c, h.logger, err)
	}
	return SuccessOK(c, job)
}

// List handles GET /api/v1/admin/purge
func (h *PurgeHandler) List(c echo.Context) error {
	limit := 20
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 && v <= 100 {
		limit = v
	}

	jobs, err := h.purges.List(c.Request().Context(), limit)
	if err != nil {
		return RespondError(c, h.logger, err)
	}

	return SuccessOK(c, map[string]interface{}{
		"jobs":  jobs,
		"total": len(jobs),
	})
}

// Cancel handles POST /api/v1/admin/purge/:id/cancel
func (h *PurgeHandler) Cancel(c echo.Context) error {
	job, err := h.purges.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return RespondError(c, h.logger, err)
	}
	return SuccessOK(c, job)
}
