package api

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/tsanders-rh/panelctl/internal/auth"
	"github.com/tsanders-rh/panelctl/pkg/types"
)

// ResourceHandler exposes resource ledgers
type ResourceHandler struct {
	ledger Ledger
	logger *zap.Logger
}

// NewResourceHandler creates a new resource handler
func NewResourceHandler(l Ledger, logger *zap.Logger) *ResourceHandler {
	return &ResourceHandler{
		ledger: l,
		logger: logger,
	}
}

// GrantRequest adds resources to a user's ledger
type GrantRequest struct {
	Resources types.Resources `json:"resources"`
	Reason    string          `json:"reason" validate:"required,max=200"`
}

// Me handles GET /api/v1/me/resources
func (h *ResourceHandler) Me(c echo.Context) error {
	userID, err := auth.GetUserID(c)
	if err != nil {
		return err
	}
	return h.respond(c, userID)
}

// GetForUser handles GET /api/v1/users/:id/resources
func (h *ResourceHandler) GetForUser(c echo.Context) error {
	return h.respond(c, c.Param("id"))
}

// Grant handles POST /api/v1/users/:id/resources
func (h *ResourceHandler) Grant(c echo.Context) error {
	var req GrantRequest
	if err := c.Bind(&req); err != nil {
		return ErrorBadRequest(c, "Invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	actor, err := auth.GetUserID(c)
	if err != nil {
		return err
	}

	userID := c.Param("id")
	err = h.ledger.Credit(c.Request().Context(), userID, req.Resources, types.LedgerMutation{Reason: "grant: " + req.Reason})
	if err != nil {
		return RespondError(c, h.logger, err)
	}

	h.logger.Info("granted resources",
		zap.String("user_id", userID),
		zap.String("actor", actor),
		zap.Any("resources", req.Resources))

	return h.respond(c, userID)
}

func (h *ResourceHandler) respond(c echo.Context, userID string) error {
	l, err := h.ledger.Get(c.Request().Context(), userID)
	if err != nil {
		return RespondError(c, h.logger, err)
	}
	return SuccessOK(c, l)
}
