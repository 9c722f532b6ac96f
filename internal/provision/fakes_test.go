package provision

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tsanders-rh/panelctl/internal/events"
	"github.com/tsanders-rh/panelctl/internal/ledger"
	"github.com/tsanders-rh/panelctl/internal/panel"
	"github.com/tsanders-rh/panelctl/internal/store"
	"github.com/tsanders-rh/panelctl/pkg/types"
)

var errTransient = &panel.TransientError{Op: "test", StatusCode: 502}

// fakePanel is an in-memory panel
type fakePanel struct {
	mu       sync.Mutex
	servers  map[int]*panel.RemoteServer
	nextID   int
	calls    map[string]int
	requests []panel.CreateServerRequest

	eggErr     error
	allocErr   error
	createErr  error
	createKeep bool // create the server even though createErr is returned
	getErr     error
	lookupErr  error
	detailsErr error
	buildErr   error
	deleteErr  error
}

func newFakePanel() *fakePanel {
	return &fakePanel{
		servers: make(map[int]*panel.RemoteServer),
		nextID:  100,
		calls:   make(map[string]int),
	}
}

func (p *fakePanel) count(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

func (p *fakePanel) add(name string, limits types.Resources) *panel.RemoteServer {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	s := &panel.RemoteServer{
		ID:            p.nextID,
		Name:          name,
		Allocation:    1,
		Limits:        panel.Limits{Memory: limits.RAM, Disk: limits.Disk, CPU: limits.CPU},
		FeatureLimits: panel.FeatureLimits{Databases: limits.Databases, Allocations: limits.Allocations},
	}
	p.servers[s.ID] = s
	return s
}

func (p *fakePanel) CreateServer(_ context.Context, req panel.CreateServerRequest) (*panel.RemoteServer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["create"]++
	p.requests = append(p.requests, req)

	if p.createErr != nil && !p.createKeep {
		return nil, p.createErr
	}

	p.nextID++
	ext := req.ExternalID
	s := &panel.RemoteServer{
		ID:            p.nextID,
		ExternalID:    &ext,
		Name:          req.Name,
		Description:   req.Description,
		User:          req.User,
		Allocation:    req.Allocation.Default,
		Limits:        req.Limits,
		FeatureLimits: req.FeatureLimits,
	}
	p.servers[s.ID] = s

	if p.createErr != nil {
		return nil, p.createErr
	}
	cp := *s
	return &cp, nil
}

func (p *fakePanel) GetServer(_ context.Context, id int) (*panel.RemoteServer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["get"]++

	if p.getErr != nil {
		return nil, p.getErr
	}
	s, ok := p.servers[id]
	if !ok {
		return nil, &panel.NotFoundError{Op: "get server"}
	}
	cp := *s
	return &cp, nil
}

func (p *fakePanel) GetServerByExternalID(_ context.Context, externalID string) (*panel.RemoteServer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["get_external"]++

	if p.lookupErr != nil {
		return nil, p.lookupErr
	}
	for _, s := range p.servers {
		if s.ExternalID != nil && *s.ExternalID == externalID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, &panel.NotFoundError{Op: "get server by external id"}
}

func (p *fakePanel) UpdateBuild(_ context.Context, id int, req panel.BuildRequest) (*panel.RemoteServer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["build"]++

	if p.buildErr != nil {
		return nil, p.buildErr
	}
	s, ok := p.servers[id]
	if !ok {
		return nil, &panel.NotFoundError{Op: "update build"}
	}
	s.Limits.Memory = req.Memory
	s.Limits.Disk = req.Disk
	s.Limits.CPU = req.CPU
	s.FeatureLimits = req.FeatureLimits
	cp := *s
	return &cp, nil
}

func (p *fakePanel) UpdateDetails(_ context.Context, id int, req panel.DetailsRequest) (*panel.RemoteServer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["details"]++

	if p.detailsErr != nil {
		return nil, p.detailsErr
	}
	s, ok := p.servers[id]
	if !ok {
		return nil, &panel.NotFoundError{Op: "update details"}
	}
	s.Name = req.Name
	s.Description = req.Description
	cp := *s
	return &cp, nil
}

func (p *fakePanel) DeleteServer(_ context.Context, id int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["delete"]++

	if p.deleteErr != nil {
		return p.deleteErr
	}
	delete(p.servers, id)
	return nil
}

func (p *fakePanel) FindUnassignedAllocation(_ context.Context, nodeID int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["alloc"]++

	if p.allocErr != nil {
		return 0, p.allocErr
	}
	return 500 + nodeID, nil
}

func (p *fakePanel) ResolveEgg(_ context.Context, eggID int) (*panel.Egg, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["egg"]++

	if p.eggErr != nil {
		return nil, p.eggErr
	}
	return &panel.Egg{ID: eggID, DockerImage: "ghcr.io/test", Startup: "./run"}, nil
}

// memServers is an in-memory ServerStore
type memServers struct {
	mu        sync.Mutex
	records   map[string]*types.ServerRecord
	createErr error
}

func newMemServers() *memServers {
	return &memServers{records: make(map[string]*types.ServerRecord)}
}

func (s *memServers) Create(_ context.Context, r *types.ServerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	cp := *r
	s.records[r.ID] = &cp
	return nil
}

func (s *memServers) GetByID(_ context.Context, id string) (*types.ServerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *memServers) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *memServers) UpdateRenewAt(_ context.Context, id string, renewAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return store.ErrNotFound
	}
	r.RenewAt = renewAt
	return nil
}

func (s *memServers) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type memUsers map[string]*types.User

func (u memUsers) GetByID(_ context.Context, id string) (*types.User, error) {
	user, ok := u[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return user, nil
}

type memOrphans struct {
	mu      sync.Mutex
	orphans []*types.OrphanedInstance
}

func (m *memOrphans) Create(_ context.Context, o *types.OrphanedInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orphans = append(m.orphans, o)
	return nil
}

type memAudit struct {
	mu     sync.Mutex
	events []*types.AuditEvent
}

func (m *memAudit) Log(_ context.Context, e *types.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memAudit) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Action)
	}
	return out
}

// failingCredit wraps a ledger and fails every credit
type failingCredit struct {
	Ledger
}

func (failingCredit) Credit(context.Context, string, types.Resources, types.LedgerMutation) error {
	return errors.New("ledger unavailable")
}

// harness wires an Orchestrator to in-memory collaborators
type harness struct {
	o       *Orchestrator
	panel   *fakePanel
	repo    *ledger.MemoryRepository
	ledger  *ledger.Service
	servers *memServers
	orphans *memOrphans
	audit   *memAudit
	events  *events.Recorder
}

const testUser = "usr_test"

func newHarness(balance types.Resources) *harness {
	h := &harness{
		panel:   newFakePanel(),
		repo:    ledger.NewMemoryRepository(),
		servers: newMemServers(),
		orphans: &memOrphans{},
		audit:   &memAudit{},
		events:  &events.Recorder{},
	}
	h.repo.Create(testUser, balance)
	h.ledger = ledger.NewService(h.repo, nil)

	users := memUsers{
		testUser:    {ID: testUser, PanelUserID: 7},
		"usr_other": {ID: "usr_other", PanelUserID: 8},
	}

	cfg := DefaultConfig()
	cfg.Renewal.Enabled = true
	cfg.Renewal.CostCoins = 10

	h.o = New(Deps{
		Panel:   h.panel,
		Ledger:  h.ledger,
		Servers: h.servers,
		Users:   users,
		Orphans: h.orphans,
		Audit:   h.audit,
		Events:  h.events,
	}, cfg, nil)

	return h
}

func (h *harness) balance() types.Resources {
	l, err := h.repo.Get(context.Background(), testUser)
	if err != nil {
		panic(err)
	}
	return l.Resources
}

// seed adds a remote server and its record owned by testUser
func (h *harness) seed(name string, limits types.Resources) *types.ServerRecord {
	remote := h.panel.add(name, limits)
	rec := &types.ServerRecord{
		ID:       types.GenerateServerID(),
		OwnerID:  testUser,
		ServerID: remote.ID,
		RenewAt:  time.Now().Add(time.Hour),
	}
	_ = h.servers.Create(context.Background(), rec)
	return rec
}
