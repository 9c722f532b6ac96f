// Package plan loads named server presets from YAML. A plan fills the limits
// a create request leaves unset and restricts which eggs it may use.
package plan

import "github.com/tsanders-rh/panelctl/pkg/types"

// Plan represents a server preset loaded from YAML
type Plan struct {
	Name        string `yaml:"name" json:"name" validate:"required"`
	DisplayName string `yaml:"displayName" json:"display_name" validate:"required"`
	Description string `yaml:"description" json:"description"`
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Limits      Limits `yaml:"limits" json:"limits"`
	Eggs        Eggs   `yaml:"eggs" json:"eggs"`
}

// Limits are the panel limits a plan provisions
type Limits struct {
	RAM         int64 `yaml:"ram" json:"ram" validate:"required,min=1"`
	Disk        int64 `yaml:"disk" json:"disk" validate:"required,min=1"`
	CPU         int64 `yaml:"cpu" json:"cpu" validate:"min=0"`
	Allocations int64 `yaml:"allocations" json:"allocations" validate:"min=0"`
	Databases   int64 `yaml:"databases" json:"databases" validate:"min=0"`
}

// Eggs restricts the eggs a plan may install. An empty allowlist allows any.
type Eggs struct {
	Allowlist []int `yaml:"allowlist" json:"allowed" validate:"dive,min=1"`
	Default   int   `yaml:"default" json:"default" validate:"min=0"`
}

// Allows reports whether egg may be used with this plan
func (e Eggs) Allows(egg int) bool {
	if len(e.Allowlist) == 0 {
		return true
	}
	for _, id := range e.Allowlist {
		if id == egg {
			return true
		}
	}
	return false
}

// Resources returns the quota a server on this plan consumes
func (p *Plan) Resources() types.Resources {
	return types.Resources{
		RAM:         p.Limits.RAM,
		Disk:        p.Limits.Disk,
		CPU:         p.Limits.CPU,
		Allocations: p.Limits.Allocations,
		Databases:   p.Limits.Databases,
		Slots:       1,
	}
}
