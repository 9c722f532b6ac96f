package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsanders-rh/panelctl/internal/auth"
	"github.com/tsanders-rh/panelctl/internal/ledger"
	"github.com/tsanders-rh/panelctl/internal/panel"
	"github.com/tsanders-rh/panelctl/internal/plan"
	"github.com/tsanders-rh/panelctl/internal/policy"
	"github.com/tsanders-rh/panelctl/internal/provision"
	"github.com/tsanders-rh/panelctl/internal/store"
	"github.com/tsanders-rh/panelctl/pkg/types"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeProvisioner struct {
	mu        sync.Mutex
	createErr error
	updateErr error
	deleteErr error
	creates   []*types.CreateServerRequest
	deletes   []*types.DeleteServerRequest
}

func (f *fakeProvisioner) Create(_ context.Context, req *types.CreateServerRequest) (*types.ServerRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &types.ServerRecord{ID: "srv_new", OwnerID: req.OwnerID, ServerID: 101}, nil
}

func (f *fakeProvisioner) Get(_ context.Context, recordID, ownerID string, _ bool) (*types.ServerRecord, *panel.RemoteServer, error) {
	if recordID != "srv_1" {
		return nil, nil, &provision.NotFoundError{Kind: "server", ID: recordID}
	}
	return &types.ServerRecord{ID: recordID, OwnerID: ownerID, ServerID: 5},
		&panel.RemoteServer{ID: 5, Name: "demo", Limits: panel.Limits{Memory: 1024}},
		nil
}

func (f *fakeProvisioner) Update(_ context.Context, req *types.UpdateServerRequest) (*panel.RemoteServer, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &panel.RemoteServer{ID: 5, Name: "demo", Limits: panel.Limits{Memory: *req.RAM}}, nil
}

func (f *fakeProvisioner) Delete(_ context.Context, req *types.DeleteServerRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, req)
	return f.deleteErr
}

func (f *fakeProvisioner) Renew(_ context.Context, recordID, ownerID string, _ bool) (*types.ServerRecord, error) {
	return &types.ServerRecord{ID: recordID, OwnerID: ownerID}, nil
}

type fakeServers struct {
	byOwner map[string][]*types.ServerRecord
}

func (f *fakeServers) ListByOwner(_ context.Context, ownerID string) ([]*types.ServerRecord, error) {
	return f.byOwner[ownerID], nil
}

func (f *fakeServers) ListAll(context.Context) ([]*types.ServerRecord, error) {
	var out []*types.ServerRecord
	for _, recs := range f.byOwner {
		out = append(out, recs...)
	}
	return out, nil
}

type memIdempotency struct {
	mu   sync.Mutex
	keys map[string]types.IdempotencyKey
}

func (m *memIdempotency) Lookup(_ context.Context, key, hash string) (*types.IdempotencyKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	if k.RequestHash != hash {
		return nil, store.ErrConflict
	}
	return &k, nil
}

func (m *memIdempotency) Store(_ context.Context, key types.IdempotencyKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key.Key] = key
	return nil
}

type fakePurges struct {
	started []string
}

func (f *fakePurges) Start(_ context.Context, keywords string, batchSize int, requestedBy string) (*types.PurgeJob, error) {
	if keywords == "" {
		return nil, policy.Invalid("keywords", "retention keywords are required")
	}
	f.started = append(f.started, keywords)
	return &types.PurgeJob{ID: "purge_1", Status: types.PurgeStatusStarted, Keywords: keywords, BatchSize: batchSize, RequestedBy: requestedBy}, nil
}

func (f *fakePurges) Status(_ context.Context, id string) (*types.PurgeJob, error) {
	if id != "purge_1" {
		return nil, store.ErrNotFound
	}
	return &types.PurgeJob{ID: id, Status: types.PurgeStatusProcessing}, nil
}

func (f *fakePurges) List(context.Context, int) ([]*types.PurgeJob, error) {
	return []*types.PurgeJob{{ID: "purge_1"}}, nil
}

func (f *fakePurges) Cancel(_ context.Context, id string) (*types.PurgeJob, error) {
	return &types.PurgeJob{ID: id, CancelRequested: true}, nil
}

type fixture struct {
	server      *Server
	provisioner *fakeProvisioner
	purges      *fakePurges
	ledger      *ledger.Service
	userToken   string
	adminToken  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := ledger.NewMemoryRepository()
	repo.Create("usr_1", types.Resources{RAM: 500, Disk: 1000, CPU: 100, Slots: 1})

	f := &fixture{
		provisioner: &fakeProvisioner{},
		purges:      &fakePurges{},
		ledger:      ledger.NewService(repo, nil),
	}

	plans, err := plan.NewRegistry(plan.NewLoader(plan.Builtin()))
	require.NoError(t, err)

	cfg := DefaultServerConfig()
	cfg.JWTSecret = testSecret
	f.server = NewServer(cfg, Deps{
		Provisioner: f.provisioner,
		Servers: &fakeServers{byOwner: map[string][]*types.ServerRecord{
			"usr_1": {{ID: "srv_1", OwnerID: "usr_1"}, {ID: "srv_2", OwnerID: "usr_1"}},
		}},
		Ledger:      f.ledger,
		Purges:      f.purges,
		Idempotency: &memIdempotency{keys: map[string]types.IdempotencyKey{}},
		Plans:       plans,
	}, nil)

	a := auth.NewAuth(testSecret, time.Hour)
	f.userToken, err = a.Issue("usr_1", types.RoleUser)
	require.NoError(t, err)
	f.adminToken, err = a.Issue("usr_admin", types.RoleAdmin)
	require.NoError(t, err)

	return f
}

func (f *fixture) do(method, path, token, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.server.Echo().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServer_RequiresAuth(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/v1/me/resources", "", "").Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/api/v1/admin/purge", f.userToken, `{"keywords":"prod"}`).Code)
}

func TestServer_MyResources(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/me/resources", f.userToken, "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	resources := body["resources"].(map[string]any)
	assert.EqualValues(t, 500, resources["ram"])
	assert.EqualValues(t, 1, resources["slots"])
}

func TestServer_CreateErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{
			name:       "validation",
			err:        policy.Invalid("ram", "must be greater than 0"),
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "validation_failed",
		},
		{
			name: "insufficient resources",
			err: &ledger.InsufficientResourcesError{UserID: "usr_1", Shortfalls: []ledger.Shortfall{
				{Field: "ram", Needed: 1000, Available: 500},
			}},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "insufficient_resources",
		},
		{
			name:       "user not found",
			err:        &provision.NotFoundError{Kind: "user", ID: "usr_1"},
			wantStatus: http.StatusNotFound,
			wantCode:   "not_found",
		},
		{
			name:       "panel rejected",
			err:        &provision.ProvisioningFailedError{Cause: &panel.PermanentError{Op: "create server", StatusCode: 422, Detail: "The name field is required."}},
			wantStatus: http.StatusBadGateway,
			wantCode:   "panel_error",
			wantMsg:    "The name field is required.",
		},
		{
			name:       "panel unreachable",
			err:        &provision.ProvisioningFailedError{Cause: &panel.TransientError{Op: "create server", Err: errors.New("dial tcp 10.0.0.1:443: i/o timeout")}},
			wantStatus: http.StatusBadGateway,
			wantCode:   "panel_error",
			wantMsg:    "Failed to create server",
		},
		{
			name:       "orphaned",
			err:        &provision.OrphanedInstanceError{RemoteID: 101, Cause: errors.New("insert failed")},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "orphaned_instance",
		},
		{
			name:       "orphaned by a duplicate record",
			err:        &provision.OrphanedInstanceError{RemoteID: 7, Cause: store.ErrConflict},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "orphaned_instance",
		},
		{
			name:       "deletion failed wrapping a store error",
			err:        &provision.DeletionFailedError{Cause: store.ErrNotFound},
			wantStatus: http.StatusBadGateway,
			wantCode:   "panel_error",
		},
		{
			name:       "duplicate",
			err:        store.ErrConflict,
			wantStatus: http.StatusConflict,
			wantCode:   "conflict",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.provisioner.createErr = tt.err

			rec := f.do(http.MethodPost, "/api/v1/servers", f.userToken, `{"name":"demo","ram":1000,"disk":1000,"cpu":100,"node_id":1,"egg_id":1}`)
			assert.Equal(t, tt.wantStatus, rec.Code)

			body := decode(t, rec)
			assert.Equal(t, tt.wantCode, body["error"])
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, body["message"])
			}
		})
	}
}

func TestServer_InsufficientResourcesDetails(t *testing.T) {
	f := newFixture(t)
	f.provisioner.createErr = &ledger.InsufficientResourcesError{UserID: "usr_1", Shortfalls: []ledger.Shortfall{
		{Field: "ram", Needed: 1000, Available: 500},
	}}

	rec := f.do(http.MethodPost, "/api/v1/servers", f.userToken, `{"name":"demo","ram":1000}`)
	body := decode(t, rec)

	details := body["details"].([]any)
	require.Len(t, details, 1)
	assert.Equal(t, map[string]any{"field": "ram", "needed": float64(1000), "available": float64(500)}, details[0])
}

func TestServer_CreateIdempotency(t *testing.T) {
	f := newFixture(t)
	body := `{"name":"demo","ram":100,"disk":100,"cpu":50,"node_id":1,"egg_id":1}`

	first := f.do(http.MethodPost, "/api/v1/servers", f.userToken, body, HeaderIdempotencyKey, "key-1")
	require.Equal(t, http.StatusCreated, first.Code)

	replay := f.do(http.MethodPost, "/api/v1/servers", f.userToken, body, HeaderIdempotencyKey, "key-1")
	assert.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), replay.Body.String())

	reused := f.do(http.MethodPost, "/api/v1/servers", f.userToken, `{"name":"other"}`, HeaderIdempotencyKey, "key-1")
	assert.Equal(t, http.StatusConflict, reused.Code)

	assert.Len(t, f.provisioner.creates, 1)
	assert.Equal(t, "usr_1", f.provisioner.creates[0].OwnerID)
}

func TestServer_AdminOnlyFields(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/servers", f.userToken, `{"name":"demo","owner_id":"usr_2"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/servers", f.userToken, `{"name":"demo","skip_resource_check":true}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/servers", f.adminToken, `{"name":"demo","owner_id":"usr_2","skip_resource_check":true}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "usr_2", f.provisioner.creates[0].OwnerID)
	assert.True(t, f.provisioner.creates[0].SkipResourceCheck)
}

func TestServer_GetUpdateDelete(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/servers/srv_1", f.userToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	remote := decode(t, rec)["remote"].(map[string]any)
	assert.Equal(t, "demo", remote["name"])

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/servers/srv_missing", f.userToken, "").Code)

	rec = f.do(http.MethodPatch, "/api/v1/servers/srv_1", f.userToken, `{"ram":2048}`)
	require.Equal(t, http.StatusOK, rec.Code)
	limits := decode(t, rec)["limits"].(map[string]any)
	assert.EqualValues(t, 2048, limits["memory"])

	f.provisioner.updateErr = &provision.UpdateFailedError{Cause: &panel.TransientError{Op: "update build", StatusCode: 503}}
	rec = f.do(http.MethodPatch, "/api/v1/servers/srv_1", f.userToken, `{"ram":4096}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = f.do(http.MethodDelete, "/api/v1/servers/srv_1", f.userToken, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, f.provisioner.deletes, 1)
	assert.Equal(t, "usr_1", f.provisioner.deletes[0].OwnerID)
	assert.False(t, f.provisioner.deletes[0].AsAdmin)

	f.provisioner.deleteErr = &provision.NotFoundError{Kind: "server", ID: "srv_1"}
	rec = f.do(http.MethodDelete, "/api/v1/servers/srv_1", f.userToken, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ListPaginates(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/servers?per_page=1&page=2", f.userToken, "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	data := body["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "srv_2", data[0].(map[string]any)["id"])
	assert.EqualValues(t, 2, body["pagination"].(map[string]any)["total_pages"])
}

func TestServer_GrantResources(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/users/usr_1/resources", f.adminToken, `{"resources":{"ram":1500},"reason":"support ticket"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	l, err := f.ledger.Get(context.Background(), "usr_1")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), l.Resources.RAM)

	rec = f.do(http.MethodPost, "/api/v1/users/usr_1/resources", f.adminToken, `{"resources":{"ram":-5},"reason":"oops"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/users/usr_1/resources", f.userToken, `{"resources":{"ram":1},"reason":"self"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_Purge(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/admin/purge", f.adminToken, `{"keywords":"prod","batch_size":5}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "purge_1", decode(t, rec)["id"])
	assert.Equal(t, []string{"prod"}, f.purges.started)

	rec = f.do(http.MethodPost, "/api/v1/admin/purge", f.adminToken, `{"keywords":""}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/admin/purge/purge_1", f.adminToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "processing", decode(t, rec)["status"])

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/v1/admin/purge/purge_x", f.adminToken, "").Code)

	rec = f.do(http.MethodPost, "/api/v1/admin/purge/purge_1/cancel", f.adminToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["cancel_requested"])
}

func TestServer_Plans(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/plans", f.userToken, "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.EqualValues(t, 2, body["total"])
	plans := body["plans"].([]any)
	assert.Equal(t, "medium", plans[0].(map[string]any)["name"])
}

func TestServer_CreateWithPlan(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/servers", f.userToken, `{"plan":"medium","name":"demo","cpu":150,"node_id":1,"egg_id":1}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	require.Len(t, f.provisioner.creates, 1)
	req := f.provisioner.creates[0]
	assert.Equal(t, int64(4096), req.RAM)
	assert.Equal(t, int64(20480), req.Disk)
	assert.Equal(t, int64(150), req.CPU)
	assert.Equal(t, int64(1), req.Databases)

	rec = f.do(http.MethodPost, "/api/v1/servers", f.userToken, `{"plan":"large","name":"demo"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, f.provisioner.creates, 1)
}
