package plan

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/tsanders-rh/panelctl/pkg/types"
)

var (
	// ErrNotFound is returned for an unknown plan name
	ErrNotFound = errors.New("plan not found")

	// ErrDisabled is returned for a plan that exists but is not offered
	ErrDisabled = errors.New("plan disabled")
)

// Registry provides in-memory access to plans
type Registry struct {
	mu     sync.RWMutex
	plans  map[string]*Plan
	loader *Loader
}

// NewRegistry creates a new plan registry and loads all plans
func NewRegistry(loader *Loader) (*Registry, error) {
	r := &Registry{
		plans:  make(map[string]*Plan),
		loader: loader,
	}

	if err := r.Reload(); err != nil {
		return nil, fmt.Errorf("initial plan load: %w", err)
	}

	return r, nil
}

// Get retrieves an enabled plan by name
func (r *Registry) Get(name string) (*Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.plans[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if !p.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrDisabled, name)
	}

	return p, nil
}

// List returns all enabled plans ordered by name
func (r *Registry) List() []*Plan {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plans := make([]*Plan, 0, len(r.plans))
	for _, p := range r.plans {
		if p.Enabled {
			plans = append(plans, p)
		}
	}

	slices.SortFunc(plans, func(a, b *Plan) int { return strings.Compare(a.Name, b.Name) })
	return plans
}

// Reload replaces the registry contents with a fresh load
func (r *Registry) Reload() error {
	plans, err := r.loader.LoadAll()
	if err != nil {
		return fmt.Errorf("load plans: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.plans = make(map[string]*Plan, len(plans))
	for _, p := range plans {
		r.plans[p.Name] = p
	}

	return nil
}

// Count returns the total number of plans, including disabled ones
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.plans)
}

// Apply fills the limits req leaves at zero from the named plan and checks
// the requested egg against the plan's allowlist.
func (r *Registry) Apply(name string, req *types.CreateServerRequest) error {
	p, err := r.Get(name)
	if err != nil {
		return err
	}

	fill := func(dst *int64, v int64) {
		if *dst == 0 {
			*dst = v
		}
	}
	fill(&req.RAM, p.Limits.RAM)
	fill(&req.Disk, p.Limits.Disk)
	fill(&req.CPU, p.Limits.CPU)
	fill(&req.Allocations, p.Limits.Allocations)
	fill(&req.Databases, p.Limits.Databases)

	if req.EggID == 0 {
		req.EggID = p.Eggs.Default
	}
	if req.EggID != 0 && !p.Eggs.Allows(req.EggID) {
		return fmt.Errorf("egg %d is not available on plan %s", req.EggID, name)
	}

	return nil
}
