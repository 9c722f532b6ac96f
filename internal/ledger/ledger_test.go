package ledger_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsanders-rh/panelctl/internal/ledger"
	"github.com/tsanders-rh/panelctl/internal/store"
	"github.com/tsanders-rh/panelctl/pkg/types"
)

func setupLedger(t *testing.T, balance types.Resources) (*ledger.Service, *ledger.MemoryRepository) {
	t.Helper()
	repo := ledger.NewMemoryRepository()
	repo.Create("usr_1", balance)
	return ledger.NewService(repo, nil), repo
}

func balanceOf(t *testing.T, svc *ledger.Service) types.Resources {
	t.Helper()
	l, err := svc.Get(context.Background(), "usr_1")
	require.NoError(t, err)
	return l.Resources
}

var mutation = types.LedgerMutation{Reason: "test"}

func TestService_TryDebit(t *testing.T) {
	ctx := context.Background()

	t.Run("debits every field", func(t *testing.T) {
		svc, _ := setupLedger(t, types.Resources{RAM: 2048, Disk: 10240, CPU: 200, Allocations: 2, Databases: 1, Slots: 2, Coins: 50})

		err := svc.TryDebit(ctx, "usr_1", types.Resources{RAM: 1024, Disk: 5120, CPU: 100, Allocations: 1, Databases: 1, Slots: 1}, mutation)
		require.NoError(t, err)

		assert.Equal(t, types.Resources{RAM: 1024, Disk: 5120, CPU: 100, Allocations: 1, Databases: 0, Slots: 1, Coins: 50}, balanceOf(t, svc))
	})

	t.Run("partial insufficiency leaves ledger unchanged", func(t *testing.T) {
		before := types.Resources{RAM: 4096, Disk: 10240, CPU: 50, Allocations: 1, Slots: 1}
		svc, repo := setupLedger(t, before)

		err := svc.TryDebit(ctx, "usr_1", types.Resources{RAM: 1024, Disk: 1024, CPU: 100, Slots: 1}, mutation)

		var insufficient *ledger.InsufficientResourcesError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, []ledger.Shortfall{{Field: types.FieldCPU, Needed: 100, Available: 50}}, insufficient.Shortfalls)
		assert.Equal(t, before, balanceOf(t, svc))
		assert.Empty(t, repo.Entries())
	})

	t.Run("lists every short field", func(t *testing.T) {
		svc, _ := setupLedger(t, types.Resources{RAM: 100, Disk: 100, CPU: 100})

		err := svc.TryDebit(ctx, "usr_1", types.Resources{RAM: 200, Disk: 50, CPU: 300, Slots: 1}, mutation)

		var insufficient *ledger.InsufficientResourcesError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, []ledger.Shortfall{
			{Field: types.FieldRAM, Needed: 200, Available: 100},
			{Field: types.FieldCPU, Needed: 300, Available: 100},
			{Field: types.FieldSlots, Needed: 1, Available: 0},
		}, insufficient.Shortfalls)
	})

	t.Run("rejects negative delta", func(t *testing.T) {
		svc, _ := setupLedger(t, types.Resources{RAM: 100})

		err := svc.TryDebit(ctx, "usr_1", types.Resources{RAM: -10}, mutation)

		var negative *ledger.NegativeDeltaError
		require.ErrorAs(t, err, &negative)
		assert.Equal(t, types.FieldRAM, negative.Field)
		assert.Equal(t, types.Resources{RAM: 100}, balanceOf(t, svc))
	})

	t.Run("returns ErrNotFound for missing ledger", func(t *testing.T) {
		svc, _ := setupLedger(t, types.Resources{})

		err := svc.TryDebit(ctx, "usr_missing", types.Resources{RAM: 1}, mutation)
		assert.True(t, errors.Is(err, store.ErrNotFound))
	})
}

func TestService_Credit(t *testing.T) {
	ctx := context.Background()

	t.Run("adds every field and journals the delta", func(t *testing.T) {
		svc, repo := setupLedger(t, types.Resources{RAM: 100})

		err := svc.Credit(ctx, "usr_1", types.Resources{RAM: 900, Slots: 1, Coins: 5}, mutation)
		require.NoError(t, err)

		assert.Equal(t, types.Resources{RAM: 1000, Slots: 1, Coins: 5}, balanceOf(t, svc))
		entries := repo.Entries()
		require.Len(t, entries, 1)
		assert.Equal(t, types.Resources{RAM: 900, Slots: 1, Coins: 5}, entries[0].Delta)
	})

	t.Run("returns ErrNotFound for missing ledger", func(t *testing.T) {
		svc, _ := setupLedger(t, types.Resources{})
		err := svc.Credit(ctx, "usr_missing", types.Resources{RAM: 1}, mutation)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestService_Adjust(t *testing.T) {
	ctx := context.Background()

	t.Run("growth blocked reports needed and available", func(t *testing.T) {
		svc, _ := setupLedger(t, types.Resources{RAM: 500, Disk: 1000, CPU: 100})

		err := svc.Adjust(ctx, "usr_1", types.Resources{RAM: 1000}, mutation)

		var insufficient *ledger.InsufficientResourcesError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, []ledger.Shortfall{{Field: types.FieldRAM, Needed: 1000, Available: 500}}, insufficient.Shortfalls)
		assert.Equal(t, types.Resources{RAM: 500, Disk: 1000, CPU: 100}, balanceOf(t, svc))
	})

	t.Run("mixed growth and shrink applied together", func(t *testing.T) {
		svc, _ := setupLedger(t, types.Resources{RAM: 500, CPU: 0})

		err := svc.Adjust(ctx, "usr_1", types.Resources{RAM: 500, CPU: -50}, mutation)
		require.NoError(t, err)
		assert.Equal(t, types.Resources{RAM: 0, CPU: 50}, balanceOf(t, svc))
	})

	t.Run("shrink credited before growth is not used to cover growth", func(t *testing.T) {
		svc, _ := setupLedger(t, types.Resources{RAM: 0, CPU: 0})

		err := svc.Adjust(ctx, "usr_1", types.Resources{RAM: 100, CPU: -100}, mutation)
		require.Error(t, err)
		assert.Equal(t, types.Resources{}, balanceOf(t, svc))
	})

	t.Run("reverse adjustment restores balance", func(t *testing.T) {
		before := types.Resources{RAM: 3000, Disk: 100}
		svc, _ := setupLedger(t, before)

		delta := types.Resources{RAM: -1500, Disk: 50}
		require.NoError(t, svc.Adjust(ctx, "usr_1", delta, mutation))
		assert.Equal(t, types.Resources{RAM: 4500, Disk: 50}, balanceOf(t, svc))

		require.NoError(t, svc.Adjust(ctx, "usr_1", delta.Neg(), mutation))
		assert.Equal(t, before, balanceOf(t, svc))
	})
}

func TestService_NeverNegativeUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupLedger(t, types.Resources{RAM: 1000, Disk: 1000, CPU: 1000, Slots: 10})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for j := 0; j < 40; j++ {
				delta := types.Resources{
					RAM:   rng.Int63n(200),
					Disk:  rng.Int63n(200),
					CPU:   rng.Int63n(200),
					Slots: rng.Int63n(2),
				}
				if rng.Intn(2) == 0 {
					_ = svc.TryDebit(ctx, "usr_1", delta, mutation)
				} else {
					_ = svc.Credit(ctx, "usr_1", delta, mutation)
				}

				l, err := svc.Get(ctx, "usr_1")
				if err == nil && l.Resources.HasNegative() {
					t.Errorf("ledger went negative: %+v", l.Resources)
				}
			}
		}(int64(i))
	}
	wg.Wait()

	assert.False(t, balanceOf(t, svc).HasNegative())
}
