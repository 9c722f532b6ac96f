package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/tsanders-rh/panelctl/internal/auth"
	"github.com/tsanders-rh/panelctl/internal/store"
	"github.com/tsanders-rh/panelctl/pkg/types"
)

// UserHandler handles user management endpoints (admin only)
type UserHandler struct {
	users          UserStore
	servers        ServerLister
	defaultBalance types.Resources
	logger         *zap.Logger
}

// NewUserHandler creates a new user handler
func NewUserHandler(users UserStore, servers ServerLister, defaultBalance types.Resources, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		users:          users,
		servers:        servers,
		defaultBalance: defaultBalance,
		logger:         logger,
	}
}

// List returns all users
// GET /api/v1/users
func (h *UserHandler) List(c echo.Context) error {
	users, err := h.users.List(c.Request().Context())
	if err != nil {
		return RespondError(c, h.logger, err)
	}

	// Convert to response format (exclude password hashes)
	responses := make([]*types.UserResponse, len(users))
	for i, user := range users {
		responses[i] = user.ToResponse()
	}

	params := ParsePaginationParams(c)
	return SuccessPaginated(c,
		Paginate(responses, params),
		CalculatePagination(params.Page, params.PerPage, len(responses)),
		nil)
}

// Create creates a user together with a ledger holding the default balance
// POST /api/v1/users
func (h *UserHandler) Create(c echo.Context) error {
	var req types.CreateUserRequest
	if err := c.Bind(&req); err != nil {
		return ErrorBadRequest(c, "Invalid request body")
	}

	if err := c.Validate(&req); err != nil {
		return err
	}

	if !req.Role.IsValid() {
		return ErrorBadRequest(c, "Invalid role")
	}

	if err := auth.ValidatePasswordStrength(req.Password); err != nil {
		return ErrorBadRequest(c, err.Error())
	}

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		return ErrorInternal(c, "Failed to hash password")
	}

	now := time.Now()
	user := &types.User{
		ID:           types.GenerateUserID(),
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: passwordHash,
		Role:         req.Role,
		PanelUserID:  req.PanelUserID,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = h.users.Create(c.Request().Context(), user, h.defaultBalance)
	if errors.Is(err, store.ErrConflict) {
		return ErrorConflict(c, "Email or username already exists")
	}
	if err != nil {
		return RespondError(c, h.logger, err)
	}

	return c.JSON(http.StatusCreated, user.ToResponse())
}

// Get retrieves a user by ID
// GET /api/v1/users/:id
func (h *UserHandler) Get(c echo.Context) error {
	user, err := h.users.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return RespondError(c, h.logger, err)
	}

	return SuccessOK(c, user.ToResponse())
}

// Delete removes a user and their ledger. Users that still own servers are
// refused so no remote server is left unaccounted for.
// DELETE /api/v1/users/:id
func (h *UserHandler) Delete(c echo.Context) error {
	userID := c.Param("id")

	currentUserID, err := auth.GetUserID(c)
	if err != nil {
		return err
	}
	if userID == currentUserID {
		return ErrorBadRequest(c, "Cannot delete your own account")
	}

	servers, err := h.servers.ListByOwner(c.Request().Context(), userID)
	if err != nil {
		return RespondError(c, h.logger, err)
	}
	if len(servers) > 0 {
		return ErrorConflict(c, "User still owns servers")
	}

	if err := h.users.Delete(c.Request().Context(), userID); err != nil {
		return RespondError(c, h.logger, err)
	}

	return SuccessNoContent(c)
}
