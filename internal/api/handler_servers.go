package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/tsanders-rh/panelctl/internal/auth"
	"github.com/tsanders-rh/panelctl/internal/panel"
	"github.com/tsanders-rh/panelctl/internal/store"
	"github.com/tsanders-rh/panelctl/pkg/types"
)

// HeaderIdempotencyKey makes POST /servers safe to retry
const HeaderIdempotencyKey = "Idempotency-Key"

// ServerHandler handles server lifecycle endpoints
type ServerHandler struct {
	provisioner Provisioner
	servers     ServerLister
	idempotency IdempotencyStore
	plans       PlanCatalog
	keyTTL      time.Duration
	logger      *zap.Logger
}

// NewServerHandler creates a new server handler
func NewServerHandler(p Provisioner, servers ServerLister, idem IdempotencyStore, plans PlanCatalog, keyTTL time.Duration, logger *zap.Logger) *ServerHandler {
	return &ServerHandler{
		provisioner: p,
		servers:     servers,
		idempotency: idem,
		plans:       plans,
		keyTTL:      keyTTL,
		logger:      logger,
	}
}

// CreateServerBody is the body of POST /api/v1/servers. Limits are checked
// by the policy engine, not by tags. When Plan is set, zero limits and a zero
// egg are taken from the plan.
type CreateServerBody struct {
	Plan        string `json:"plan,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	RAM         int64  `json:"ram"`
	Disk        int64  `json:"disk"`
	CPU         int64  `json:"cpu"`
	Allocations int64  `json:"allocations"`
	Databases   int64  `json:"databases"`
	NodeID      int    `json:"node_id"`
	EggID       int    `json:"egg_id"`

	// Admin only
	OwnerID           string `json:"owner_id,omitempty"`
	SkipResourceCheck bool   `json:"skip_resource_check,omitempty"`
}

// UpdateServerBody is the body of PATCH /api/v1/servers/:id. Omitted fields
// keep their current value.
type UpdateServerBody struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	RAM         *int64  `json:"ram,omitempty"`
	Disk        *int64  `json:"disk,omitempty"`
	CPU         *int64  `json:"cpu,omitempty"`
	Allocations *int64  `json:"allocations,omitempty"`
	Databases   *int64  `json:"databases,omitempty"`

	// Admin only
	SkipResourceCheck bool `json:"skip_resource_check,omitempty"`
}

// RemoteView is the panel state returned to clients
type RemoteView struct {
	ID            int                 `json:"id"`
	Identifier    string              `json:"identifier"`
	Name          string              `json:"name"`
	Description   string              `json:"description"`
	Status        *string             `json:"status"`
	Suspended     bool                `json:"suspended"`
	Node          int                 `json:"node"`
	Egg           int                 `json:"egg"`
	Limits        panel.Limits        `json:"limits"`
	FeatureLimits panel.FeatureLimits `json:"feature_limits"`
	Allocations   []panel.Allocation  `json:"allocations"`
}

// ServerView combines the local record with the live panel state. Remote is
// nil when the panel no longer has the server.
type ServerView struct {
	Server *types.ServerRecord `json:"server"`
	Remote *RemoteView         `json:"remote"`
}

func newRemoteView(s *panel.RemoteServer) *RemoteView {
	if s == nil {
		return nil
	}
	return &RemoteView{
		ID:            s.ID,
		Identifier:    s.Identifier,
		Name:          s.Name,
		Description:   s.Description,
		Status:        s.Status,
		Suspended:     s.Suspended,
		Node:          s.Node,
		Egg:           s.Egg,
		Limits:        s.Limits,
		FeatureLimits: s.FeatureLimits,
		Allocations:   s.Allocations(),
	}
}

// caller returns the authenticated user and whether they are an admin
func caller(c echo.Context) (string, bool, error) {
	userID, err := auth.GetUserID(c)
	if err != nil {
		return "", false, err
	}
	return userID, auth.IsAdmin(c), nil
}

// Create handles POST /api/v1/servers
func (h *ServerHandler) Create(c echo.Context) error {
	userID, isAdmin, err := caller(c)
	if err != nil {
		return err
	}

	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return ErrorBadRequest(c, "Invalid request body")
	}
	c.Request().Body = io.NopCloser(bytes.NewReader(raw))

	var body CreateServerBody
	if err := c.Bind(&body); err != nil {
		return ErrorBadRequest(c, "Invalid request body")
	}

	ownerID := userID
	if body.OwnerID != "" && body.OwnerID != userID {
		if !isAdmin {
			return ErrorForbidden(c, "Only admins can create servers for other users")
		}
		ownerID = body.OwnerID
	}
	if body.SkipResourceCheck && !isAdmin {
		return ErrorForbidden(c, "Only admins can skip resource checks")
	}

	key := c.Request().Header.Get(HeaderIdempotencyKey)
	hash := requestHash(userID, raw)
	if key != "" && h.idempotency != nil {
		cached, err := h.idempotency.Lookup(c.Request().Context(), key, hash)
		switch {
		case err == nil && cached.ResponseStatusCode != nil:
			c.Response().Header().Set("Idempotent-Replayed", "true")
			return c.JSONBlob(*cached.ResponseStatusCode, cached.ResponseBody)
		case errors.Is(err, store.ErrConflict):
			return ErrorConflict(c, "Idempotency key was used with a different request")
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return RespondError(c, h.logger, err)
		}
	}

	req := &types.CreateServerRequest{
		OwnerID:           ownerID,
		Name:              body.Name,
		Description:       body.Description,
		RAM:               body.RAM,
		Disk:              body.Disk,
		CPU:               body.CPU,
		Allocations:       body.Allocations,
		Databases:         body.Databases,
		NodeID:            body.NodeID,
		EggID:             body.EggID,
		SkipResourceCheck: body.SkipResourceCheck,
	}
	if body.Plan != "" {
		if h.plans == nil {
			return ErrorBadRequest(c, "Plans are not available")
		}
		if err := h.plans.Apply(body.Plan, req); err != nil {
			return ErrorBadRequest(c, err.Error())
		}
	}

	rec, err := h.provisioner.Create(c.Request().Context(), req)
	if err != nil {
		return RespondError(c, h.logger, err)
	}

	if key != "" && h.idempotency != nil {
		h.remember(c, key, hash, http.StatusCreated, rec)
	}

	return SuccessCreated(c, rec)
}

func requestHash(userID string, body []byte) string {
	sum := sha256.New()
	sum.Write([]byte(userID))
	sum.Write([]byte{0})
	sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil))
}

func (h *ServerHandler) remember(c echo.Context, key, hash string, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		h.logger.Warn("failed to encode idempotent response", zap.Error(err))
		return
	}

	err = h.idempotency.Store(c.Request().Context(), types.IdempotencyKey{
		ID:                 types.GenerateID(),
		Key:                key,
		RequestHash:        hash,
		ResponseStatusCode: &status,
		ResponseBody:       body,
		ExpiresAt:          time.Now().Add(h.keyTTL),
	})
	if err != nil {
		h.logger.Warn("failed to store idempotency key", zap.String("key", key), zap.Error(err))
	}
}

// List handles GET /api/v1/servers. Admins may pass all=true.
func (h *ServerHandler) List(c echo.Context) error {
	userID, isAdmin, err := caller(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	var records []*types.ServerRecord
	all := isAdmin && c.QueryParam("all") == "true"
	if all {
		records, err = h.servers.ListAll(ctx)
	} else {
		records, err = h.servers.ListByOwner(ctx, userID)
	}
	if err != nil {
		return RespondError(c, h.logger, err)
	}

	params := ParsePaginationParams(c)
	return SuccessPaginated(c,
		Paginate(records, params),
		CalculatePagination(params.Page, params.PerPage, len(records)),
		map[string]interface{}{"all": all})
}

// Get handles GET /api/v1/servers/:id
func (h *ServerHandler) Get(c echo.Context) error {
	userID, isAdmin, err := caller(c)
	if err != nil {
		return err
	}

	rec, remote, err := h.provisioner.Get(c.Request().Context(), c.Param("id"), userID, isAdmin)
	if err != nil {
		return RespondError(c, h.logger, err)
	}

	return SuccessOK(c, &ServerView{Server: rec, Remote: newRemoteView(remote)})
}

// Update handles PATCH /api/v1/servers/:id
func (h *ServerHandler) Update(c echo.Context) error {
	userID, isAdmin, err := caller(c)
	if err != nil {
		return err
	}

	var body UpdateServerBody
	if err := c.Bind(&body); err != nil {
		return ErrorBadRequest(c, "Invalid request body")
	}
	if body.SkipResourceCheck && !isAdmin {
		return ErrorForbidden(c, "Only admins can skip resource checks")
	}

	remote, err := h.provisioner.Update(c.Request().Context(), &types.UpdateServerRequest{
		ServerRecordID:    c.Param("id"),
		OwnerID:           userID,
		AsAdmin:           isAdmin,
		RAM:               body.RAM,
		Disk:              body.Disk,
		CPU:               body.CPU,
		Databases:         body.Databases,
		Allocations:       body.Allocations,
		Name:              body.Name,
		Description:       body.Description,
		SkipResourceCheck: body.SkipResourceCheck,
	})
	if err != nil {
		return RespondError(c, h.logger, err)
	}

	return SuccessOK(c, newRemoteView(remote))
}

// Delete handles DELETE /api/v1/servers/:id
func (h *ServerHandler) Delete(c echo.Context) error {
	userID, isAdmin, err := caller(c)
	if err != nil {
		return err
	}

	err = h.provisioner.Delete(c.Request().Context(), &types.DeleteServerRequest{
		ServerRecordID: c.Param("id"),
		OwnerID:        userID,
		AsAdmin:        isAdmin,
		Reason:         "deleted by " + userID,
	})
	if err != nil {
		return RespondError(c, h.logger, err)
	}

	return SuccessNoContent(c)
}

// Renew handles POST /api/v1/servers/:id/renew
func (h *ServerHandler) Renew(c echo.Context) error {
	userID, isAdmin, err := caller(c)
	if err != nil {
		return err
	}

	rec, err := h.provisioner.Renew(c.Request().Context(), c.Param("id"), userID, isAdmin)
	if err != nil {
		return RespondError(c, h.logger, err)
	}

	return SuccessOK(c, rec)
}
