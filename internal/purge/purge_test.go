package purge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsanders-rh/panelctl/internal/events"
	"github.com/tsanders-rh/panelctl/internal/panel"
	"github.com/tsanders-rh/panelctl/internal/policy"
	"github.com/tsanders-rh/panelctl/internal/store"
	"github.com/tsanders-rh/panelctl/pkg/types"
)

type progress struct{ processed, deleted, failed int }

// memJobs is an in-memory job store with the same terminal guard as the
// database store
type memJobs struct {
	mu       sync.Mutex
	jobs     map[string]*types.PurgeJob
	progress []progress
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: make(map[string]*types.PurgeJob)}
}

func (m *memJobs) Create(_ context.Context, job *types.PurgeJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memJobs) GetByID(_ context.Context, id string) (*types.PurgeJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobs) List(_ context.Context, _ int) ([]*types.PurgeJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*types.PurgeJob{}
	for _, j := range m.jobs {
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memJobs) update(id string, fn func(*types.PurgeJob)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if j.Status.IsTerminal() {
		return store.ErrTerminal
	}
	fn(j)
	return nil
}

func (m *memJobs) MarkProcessing(_ context.Context, id string, total int) error {
	return m.update(id, func(j *types.PurgeJob) {
		j.Status = types.PurgeStatusProcessing
		j.TotalServers = total
	})
}

func (m *memJobs) SetProtected(_ context.Context, id string, protected int) error {
	return m.update(id, func(j *types.PurgeJob) { j.ProtectedCount = protected })
}

func (m *memJobs) AddProgress(_ context.Context, id string, processed, deleted, failed int) error {
	return m.update(id, func(j *types.PurgeJob) {
		j.ProcessedCount += processed
		j.DeletedCount += deleted
		j.FailedCount += failed
		m.progress = append(m.progress, progress{processed, deleted, failed})
	})
}

func (m *memJobs) MarkCompleted(_ context.Context, id string) error {
	return m.update(id, func(j *types.PurgeJob) {
		now := time.Now()
		j.Status = types.PurgeStatusCompleted
		j.CompletedAt = &now
	})
}

func (m *memJobs) MarkFailed(_ context.Context, id, message string) error {
	return m.update(id, func(j *types.PurgeJob) {
		now := time.Now()
		j.Status = types.PurgeStatusFailed
		j.ErrorMessage = &message
		j.CompletedAt = &now
	})
}

func (m *memJobs) RequestCancel(_ context.Context, id string) error {
	return m.update(id, func(j *types.PurgeJob) { j.CancelRequested = true })
}

func (m *memJobs) IsCancelRequested(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id].CancelRequested, nil
}

type listServers struct {
	records []*types.ServerRecord
	err     error
}

func (l listServers) ListAll(context.Context) ([]*types.ServerRecord, error) {
	return l.records, l.err
}

// namePanel serves names by remote ID; missing IDs are 404, IDs in broken
// fail with a transient error
type namePanel struct {
	names  map[int]string
	broken map[int]bool
	onGet  func()
}

func (p namePanel) GetServer(_ context.Context, id int) (*panel.RemoteServer, error) {
	if p.onGet != nil {
		p.onGet()
	}
	if p.broken[id] {
		return nil, &panel.TransientError{Op: "get server", StatusCode: 503}
	}
	name, ok := p.names[id]
	if !ok {
		return nil, &panel.NotFoundError{Op: "get server"}
	}
	return &panel.RemoteServer{ID: id, Name: name}, nil
}

// recordingDeprovisioner tracks deletions and the peak number in flight
type recordingDeprovisioner struct {
	mu       sync.Mutex
	deleted  []string
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	fail     map[string]bool
	after    func(n int)
}

func (d *recordingDeprovisioner) Delete(_ context.Context, req *types.DeleteServerRequest) error {
	n := d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	for {
		peak := d.peak.Load()
		if n <= peak || d.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	time.Sleep(d.delay)

	if d.fail[req.ServerRecordID] {
		return errors.New("panel unavailable")
	}

	d.mu.Lock()
	d.deleted = append(d.deleted, req.ServerRecordID)
	count := len(d.deleted)
	d.mu.Unlock()

	if d.after != nil {
		d.after(count)
	}
	return nil
}

func (d *recordingDeprovisioner) deletedIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.deleted...)
}

type fixture struct {
	jobs    *memJobs
	records []*types.ServerRecord
	panel   namePanel
	dep     *recordingDeprovisioner
	events  *events.Recorder
}

func newFixture(names ...string) *fixture {
	f := &fixture{
		jobs:   newMemJobs(),
		panel:  namePanel{names: map[int]string{}, broken: map[int]bool{}},
		dep:    &recordingDeprovisioner{fail: map[string]bool{}},
		events: &events.Recorder{},
	}
	for i, name := range names {
		rec := &types.ServerRecord{ID: fmt.Sprintf("srv_%02d", i), OwnerID: "usr_1", ServerID: i + 1}
		f.records = append(f.records, rec)
		f.panel.names[rec.ServerID] = name
	}
	return f
}

func (f *fixture) start(t *testing.T, keywords string, batchSize int) string {
	t.Helper()
	job := &types.PurgeJob{
		ID:        types.GeneratePurgeJobID(),
		Status:    types.PurgeStatusStarted,
		Keywords:  keywords,
		BatchSize: batchSize,
	}
	require.NoError(t, f.jobs.Create(context.Background(), job))
	return job.ID
}

func (f *fixture) run(t *testing.T, jobID string, servers ServerLister) error {
	t.Helper()
	if servers == nil {
		servers = listServers{records: f.records}
	}
	r := NewRunner(f.jobs, servers, f.panel, f.dep, f.events, DefaultConfig(), nil)
	return r.Run(context.Background(), jobID)
}

func (f *fixture) job(t *testing.T, id string) *types.PurgeJob {
	t.Helper()
	j, err := f.jobs.GetByID(context.Background(), id)
	require.NoError(t, err)
	return j
}

func TestPartition(t *testing.T) {
	var instances []Instance
	for _, name := range []string{"my-prod-server", "production-db", "test-server", "demo-app"} {
		instances = append(instances, Instance{Record: &types.ServerRecord{ID: name}, Name: name})
	}

	protected, candidates := Partition(instances, "prod")

	names := func(in []Instance) []string {
		out := []string{}
		for _, i := range in {
			out = append(out, i.Name)
		}
		return out
	}
	assert.Equal(t, []string{"my-prod-server", "production-db"}, names(protected))
	assert.Equal(t, []string{"test-server", "demo-app"}, names(candidates))
}

func TestRetained(t *testing.T) {
	assert.True(t, Retained("My-PROD-Server", "prod"))
	assert.True(t, Retained("my-prod-server", "PROD"))
	assert.False(t, Retained("test-server", "prod"))
}

func TestRunner_RetentionSet(t *testing.T) {
	f := newFixture("my-prod-server", "production-db", "test-server", "demo-app")
	id := f.start(t, "prod", 5)

	require.NoError(t, f.run(t, id, nil))

	assert.ElementsMatch(t, []string{"srv_02", "srv_03"}, f.dep.deletedIDs())

	job := f.job(t, id)
	assert.Equal(t, types.PurgeStatusCompleted, job.Status)
	assert.Equal(t, 4, job.TotalServers)
	assert.Equal(t, 2, job.ProtectedCount)
	assert.Equal(t, 2, job.ProcessedCount)
	assert.Equal(t, 2, job.DeletedCount)
	assert.Zero(t, job.FailedCount)
	assert.NotNil(t, job.CompletedAt)
	assert.Equal(t, []string{events.PurgeCompleted}, f.events.Types())
}

func TestRunner_Batches(t *testing.T) {
	names := make([]string, 12)
	for i := range names {
		names[i] = fmt.Sprintf("test-%d", i)
	}
	f := newFixture(names...)
	f.dep.delay = 20 * time.Millisecond
	id := f.start(t, "prod", 5)

	require.NoError(t, f.run(t, id, nil))

	assert.Equal(t, []progress{{5, 5, 0}, {5, 5, 0}, {2, 2, 0}}, f.jobs.progress)
	assert.Equal(t, int32(5), f.dep.peak.Load())
	assert.Equal(t, 12, f.job(t, id).DeletedCount)
}

func TestRunner_Failures(t *testing.T) {
	f := newFixture("keep-prod", "gone", "broken", "fails", "ok")
	delete(f.panel.names, 2)
	f.panel.broken[3] = true
	f.dep.fail["srv_03"] = true
	id := f.start(t, "prod", 5)

	require.NoError(t, f.run(t, id, nil))

	// The 404 record is still deleted so its record goes away
	assert.ElementsMatch(t, []string{"srv_01", "srv_04"}, f.dep.deletedIDs())

	job := f.job(t, id)
	assert.Equal(t, types.PurgeStatusCompleted, job.Status)
	assert.Equal(t, 5, job.TotalServers)
	assert.Equal(t, 1, job.ProtectedCount)
	assert.Equal(t, 4, job.ProcessedCount)
	assert.Equal(t, 2, job.DeletedCount)
	assert.Equal(t, 2, job.FailedCount)
}

func TestRunner_Cancel(t *testing.T) {
	names := make([]string, 12)
	for i := range names {
		names[i] = fmt.Sprintf("test-%d", i)
	}
	f := newFixture(names...)
	id := f.start(t, "prod", 5)
	f.dep.after = func(n int) {
		if n == 1 {
			_ = f.jobs.RequestCancel(context.Background(), id)
		}
	}

	require.NoError(t, f.run(t, id, nil))

	job := f.job(t, id)
	assert.Equal(t, types.PurgeStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "cancelled", *job.ErrorMessage)
	assert.Equal(t, 5, job.ProcessedCount)
	assert.Len(t, f.dep.deletedIDs(), 5)
}

func TestRunner_EnumerationFailure(t *testing.T) {
	f := newFixture()
	id := f.start(t, "prod", 5)

	err := f.run(t, id, listServers{err: errors.New("connection refused")})
	require.Error(t, err)

	job := f.job(t, id)
	assert.Equal(t, types.PurgeStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "connection refused")
	assert.Equal(t, []string{events.PurgeFailed}, f.events.Types())
}

func TestRunner_FinishedJobIsLeftAlone(t *testing.T) {
	f := newFixture("test")
	id := f.start(t, "prod", 5)
	require.NoError(t, f.jobs.MarkCompleted(context.Background(), id))

	require.NoError(t, f.run(t, id, nil))
	assert.Empty(t, f.dep.deletedIDs())
}

func TestService(t *testing.T) {
	ctx := context.Background()
	jobs := newMemJobs()
	svc := NewService(jobs, nil, DefaultConfig(), nil)

	t.Run("starts with default batch size", func(t *testing.T) {
		job, err := svc.Start(ctx, "  prod ", 0, "usr_admin")
		require.NoError(t, err)
		assert.Equal(t, types.PurgeStatusStarted, job.Status)
		assert.Equal(t, "prod", job.Keywords)
		assert.Equal(t, 5, job.BatchSize)
	})

	t.Run("rejects empty keywords and oversized batches", func(t *testing.T) {
		_, err := svc.Start(ctx, " ", 500, "usr_admin")

		var vr *policy.ValidationResult
		require.ErrorAs(t, err, &vr)
		assert.Len(t, vr.Errors, 2)
	})

	t.Run("cancel", func(t *testing.T) {
		job, err := svc.Start(ctx, "prod", 5, "usr_admin")
		require.NoError(t, err)

		got, err := svc.Cancel(ctx, job.ID)
		require.NoError(t, err)
		assert.True(t, got.CancelRequested)

		require.NoError(t, jobs.MarkCompleted(ctx, job.ID))
		got, err = svc.Cancel(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, types.PurgeStatusCompleted, got.Status)

		_, err = svc.Cancel(ctx, "purge_missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestRunner_ProcessingBeforeClassification(t *testing.T) {
	f := newFixture("alpha", "prod-1", "beta")
	id := f.start(t, "prod", 5)

	var (
		mu       sync.Mutex
		observed []types.PurgeStatus
		totals   []int
	)
	f.panel.onGet = func() {
		job, err := f.jobs.GetByID(context.Background(), id)
		if !assert.NoError(t, err) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		observed = append(observed, job.Status)
		totals = append(totals, job.TotalServers)
	}

	require.NoError(t, f.run(t, id, nil))

	assert.Equal(t, []types.PurgeStatus{
		types.PurgeStatusProcessing, types.PurgeStatusProcessing, types.PurgeStatusProcessing,
	}, observed)
	assert.Equal(t, []int{3, 3, 3}, totals)

	job := f.job(t, id)
	assert.Equal(t, 1, job.ProtectedCount)
	assert.Equal(t, types.PurgeStatusCompleted, job.Status)
}
