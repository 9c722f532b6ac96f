package store_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsanders-rh/panelctl/internal/store"
	"github.com/tsanders-rh/panelctl/pkg/types"
)

// setupTestDB connects to PANELCTL_TEST_DATABASE_URL and applies migrations.
// Integration tests are skipped when it is unset or in -short mode.
func setupTestDB(t *testing.T) *store.Store {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	url := os.Getenv("PANELCTL_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("PANELCTL_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	s, err := store.NewStore(ctx, store.DefaultConfig(url))
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, s.Migrate(ctx))
	return s
}

func createTestUser(t *testing.T, s *store.Store, panelUserID int, balance types.Resources) *types.User {
	t.Helper()

	now := time.Now()
	user := &types.User{
		ID:           types.GenerateUserID(),
		Email:        types.GenerateID() + "@example.com",
		Username:     "tester",
		PasswordHash: "x",
		Role:         types.RoleUser,
		PanelUserID:  panelUserID,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, s.Users.Create(context.Background(), user, balance))
	t.Cleanup(func() { _ = s.Users.Delete(context.Background(), user.ID) })
	return user
}

func TestLedgerStore_Update(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	user := createTestUser(t, s, int(time.Now().UnixNano()%1_000_000_000), types.Resources{RAM: 1024, Slots: 2})

	t.Run("applies change and journals the delta", func(t *testing.T) {
		err := s.Ledgers.Update(ctx, user.ID, types.LedgerMutation{Reason: "debit"}, func(l *types.Ledger) error {
			l.Resources = l.Resources.Sub(types.Resources{RAM: 512, Slots: 1})
			return nil
		})
		require.NoError(t, err)

		l, err := s.Ledgers.Get(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(512), l.Resources.RAM)
		assert.Equal(t, int64(1), l.Resources.Slots)

		entries, err := s.Ledgers.ListEntries(ctx, user.ID, 1)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, int64(-512), entries[0].Delta.RAM)
		assert.Equal(t, "debit", entries[0].Reason)
	})

	t.Run("writes nothing when fn fails", func(t *testing.T) {
		boom := errors.New("boom")
		err := s.Ledgers.Update(ctx, user.ID, types.LedgerMutation{Reason: "noop"}, func(l *types.Ledger) error {
			l.Resources.RAM = 0
			return boom
		})
		assert.ErrorIs(t, err, boom)

		l, err := s.Ledgers.Get(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(512), l.Resources.RAM)
	})

	t.Run("missing ledger", func(t *testing.T) {
		err := s.Ledgers.Update(ctx, "usr_missing", types.LedgerMutation{}, func(*types.Ledger) error { return nil })
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestServerStore_Delete(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	now := time.Now()
	record := &types.ServerRecord{
		ID:           types.GenerateServerID(),
		OwnerID:      "usr_owner",
		PanelUserID:  1,
		ServerID:     int(now.UnixNano() % 1_000_000_000),
		AllocationID: 1,
		NodeID:       1,
		EggID:        1,
		RenewAt:      now.Add(time.Hour),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, s.Servers.Create(ctx, record))

	got, err := s.Servers.GetByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ServerID, got.ServerID)

	require.NoError(t, s.Servers.Delete(ctx, record.ID))
	assert.ErrorIs(t, s.Servers.Delete(ctx, record.ID), store.ErrNotFound)
}

func TestPurgeJobStore_TerminalIsAbsorbing(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	now := time.Now()
	job := &types.PurgeJob{
		ID:          types.GeneratePurgeJobID(),
		Status:      types.PurgeStatusStarted,
		Keywords:    "prod",
		BatchSize:   5,
		RequestedBy: "usr_admin",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, s.PurgeJobs.Create(ctx, job))

	require.NoError(t, s.PurgeJobs.MarkProcessing(ctx, job.ID, 3))
	require.NoError(t, s.PurgeJobs.SetProtected(ctx, job.ID, 1))
	require.NoError(t, s.PurgeJobs.AddProgress(ctx, job.ID, 2, 1, 1))
	require.NoError(t, s.PurgeJobs.MarkCompleted(ctx, job.ID))

	assert.ErrorIs(t, s.PurgeJobs.MarkFailed(ctx, job.ID, "late"), store.ErrTerminal)
	assert.ErrorIs(t, s.PurgeJobs.AddProgress(ctx, job.ID, 1, 0, 0), store.ErrTerminal)

	got, err := s.PurgeJobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PurgeStatusCompleted, got.Status)
	assert.Equal(t, 3, got.TotalServers)
	assert.Equal(t, 2, got.ProcessedCount)
	assert.NotNil(t, got.CompletedAt)

	assert.ErrorIs(t, s.PurgeJobs.MarkCompleted(ctx, "purge_missing"), store.ErrNotFound)
}

func TestPurgeJobStore_FailStuck(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	old := time.Now().Add(-4 * time.Hour)
	newJob := func() *types.PurgeJob {
		job := &types.PurgeJob{
			ID:          types.GeneratePurgeJobID(),
			Status:      types.PurgeStatusStarted,
			Keywords:    "prod",
			BatchSize:   5,
			RequestedBy: "usr_admin",
			CreatedAt:   old,
			UpdatedAt:   old,
		}
		require.NoError(t, s.PurgeJobs.Create(ctx, job))
		return job
	}

	waiting := newJob()
	claimed := newJob()

	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`UPDATE purge_jobs SET claimed_by = 'worker-1', updated_at = $2 WHERE id = $1`, claimed.ID, old)
		return err
	})
	require.NoError(t, err)

	_, err = s.PurgeJobs.FailStuck(ctx, time.Now().Add(-3*time.Hour))
	require.NoError(t, err)

	got, err := s.PurgeJobs.GetByID(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PurgeStatusFailed, got.Status)

	got, err = s.PurgeJobs.GetByID(ctx, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PurgeStatusStarted, got.Status)
}

func TestOrphanStore_CreditedOnce(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	externalID := types.GenerateServerID()
	orphan := &types.OrphanedInstance{
		ID:         types.GenerateOrphanID(),
		ExternalID: &externalID,
		OwnerID:    "usr_1",
		Debited:    types.Resources{RAM: 1024, Slots: 1},
		Reason:     "insert failed",
		CreatedAt:  time.Now(),
	}
	require.NoError(t, s.Orphans.Create(ctx, orphan))

	require.NoError(t, s.Orphans.MarkCredited(ctx, orphan.ID))
	assert.ErrorIs(t, s.Orphans.MarkCredited(ctx, orphan.ID), store.ErrNotFound)

	require.NoError(t, s.Orphans.ClearCredited(ctx, orphan.ID))
	require.NoError(t, s.Orphans.MarkCredited(ctx, orphan.ID))
	require.NoError(t, s.Orphans.Resolve(ctx, orphan.ID))
}
