package api

import (
	"github.com/labstack/echo/v4"

	"github.com/tsanders-rh/panelctl/internal/plan"
)

// PlanHandler lists server plans
type PlanHandler struct {
	plans PlanCatalog
}

// NewPlanHandler creates a new plan handler
func NewPlanHandler(plans PlanCatalog) *PlanHandler {
	return &PlanHandler{plans: plans}
}

// List handles GET /api/v1/plans
func (h *PlanHandler) List(c echo.Context) error {
	plans := []*plan.Plan{}
	if h.plans != nil {
		plans = h.plans.List()
	}

	return SuccessOK(c, map[string]interface{}{
		"plans": plans,
		"total": len(plans),
	})
}
