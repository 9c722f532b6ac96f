package api

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// NodeHandler lists panel nodes
type NodeHandler struct {
	nodes  NodeLister
	logger *zap.Logger
}

// NewNodeHandler creates a new node handler
func NewNodeHandler(nodes NodeLister, logger *zap.Logger) *NodeHandler {
	return &NodeHandler{nodes: nodes, logger: logger}
}

// List handles GET /api/v1/nodes
func (h *NodeHandler) List(c echo.Context) error {
	nodes, err := h.nodes.ListNodes(c.Request().Context())
	if err != nil {
		h.logger.Warn("failed to list nodes", zap.Error(err))
		return ErrorBadGateway(c, "Failed to list nodes")
	}

	return SuccessOK(c, map[string]interface{}{
		"nodes": nodes,
		"total": len(nodes),
	})
}
