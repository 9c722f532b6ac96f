package policy

import (
	"fmt"
	"slices"
	"unicode/utf8"

	"github.com/tsanders-rh/panelctl/pkg/types"
)

// MaxNameLength is the longest server name the panel accepts
const MaxNameLength = 191

// Config bounds what a single server may request. Zero maxima and empty
// allowlists impose no limit.
type Config struct {
	MaxRAM         int64 `yaml:"maxRam" validate:"min=0"`
	MaxDisk        int64 `yaml:"maxDisk" validate:"min=0"`
	MaxCPU         int64 `yaml:"maxCpu" validate:"min=0"`
	MaxDatabases   int64 `yaml:"maxDatabases" validate:"min=0"`
	MaxAllocations int64 `yaml:"maxAllocations" validate:"min=0"`
	AllowedNodes   []int `yaml:"allowedNodes"`
	AllowedEggs    []int `yaml:"allowedEggs"`
}

// Engine validates server requests
type Engine struct {
	cfg Config
}

// NewEngine creates a new policy validation engine
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// ValidateCreate validates a server creation request
func (e *Engine) ValidateCreate(req *types.CreateServerRequest) *ValidationResult {
	result := newResult()

	validateName(req.Name, result)
	e.validatePositive("ram", req.RAM, e.cfg.MaxRAM, result)
	e.validatePositive("disk", req.Disk, e.cfg.MaxDisk, result)
	e.validatePositive("cpu", req.CPU, e.cfg.MaxCPU, result)
	e.validateNonNegative("databases", req.Databases, e.cfg.MaxDatabases, result)
	e.validateNonNegative("allocations", req.Allocations, e.cfg.MaxAllocations, result)
	e.validateNode(req.NodeID, result)
	e.validateEgg(req.EggID, result)

	return result
}

// ValidateUpdate validates the fields a resize request sets. Omitted fields
// keep their current, already valid, values.
func (e *Engine) ValidateUpdate(req *types.UpdateServerRequest) *ValidationResult {
	result := newResult()

	if req.Name != nil {
		validateName(*req.Name, result)
	}
	if req.RAM != nil {
		e.validatePositive("ram", *req.RAM, e.cfg.MaxRAM, result)
	}
	if req.Disk != nil {
		e.validatePositive("disk", *req.Disk, e.cfg.MaxDisk, result)
	}
	if req.CPU != nil {
		e.validatePositive("cpu", *req.CPU, e.cfg.MaxCPU, result)
	}
	if req.Databases != nil {
		e.validateNonNegative("databases", *req.Databases, e.cfg.MaxDatabases, result)
	}
	if req.Allocations != nil {
		e.validateNonNegative("allocations", *req.Allocations, e.cfg.MaxAllocations, result)
	}

	return result
}

// validateName checks the name length in characters
func validateName(name string, result *ValidationResult) {
	n := utf8.RuneCountInString(name)
	if n == 0 {
		result.AddError("name", "server name is required")
		return
	}

	if n > MaxNameLength {
		result.AddError("name", fmt.Sprintf("server name must be at most %d characters", MaxNameLength))
	}
}

func (e *Engine) validatePositive(field string, value, max int64, result *ValidationResult) {
	if value <= 0 {
		result.AddError(field, "must be greater than 0")
		return
	}
	checkMax(field, value, max, result)
}

func (e *Engine) validateNonNegative(field string, value, max int64, result *ValidationResult) {
	if value < 0 {
		result.AddError(field, "must not be negative")
		return
	}
	checkMax(field, value, max, result)
}

func checkMax(field string, value, max int64, result *ValidationResult) {
	if max > 0 && value > max {
		result.AddError(field, fmt.Sprintf("%d exceeds maximum %d", value, max))
	}
}

// validateNode checks the node ID and the node allowlist
func (e *Engine) validateNode(nodeID int, result *ValidationResult) {
	if nodeID <= 0 {
		result.AddError("node_id", "node is required")
		return
	}

	if len(e.cfg.AllowedNodes) > 0 && !slices.Contains(e.cfg.AllowedNodes, nodeID) {
		result.AddError("node_id", fmt.Sprintf("node %d not in allowlist: %v", nodeID, e.cfg.AllowedNodes))
	}
}

// validateEgg checks the egg ID and the egg allowlist
func (e *Engine) validateEgg(eggID int, result *ValidationResult) {
	if eggID <= 0 {
		result.AddError("egg_id", "egg is required")
		return
	}

	if len(e.cfg.AllowedEggs) > 0 && !slices.Contains(e.cfg.AllowedEggs, eggID) {
		result.AddError("egg_id", fmt.Sprintf("egg %d not in allowlist: %v", eggID, e.cfg.AllowedEggs))
	}
}
