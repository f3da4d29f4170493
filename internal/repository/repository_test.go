package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"slotsync/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot(providerID string) *models.ProviderAvailability {
	date := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	return &models.ProviderAvailability{
		ProviderID:  providerID,
		Date:        date,
		LastUpdated: date.Add(8 * time.Hour),
		TimeSlots: []models.TimeSlot{
			{ID: providerID + "-s1", ProviderID: providerID, StartTime: date.Add(9 * time.Hour), EndTime: date.Add(10 * time.Hour), IsAvailable: true},
		},
	}
}

func TestMemorySnapshotRepository(t *testing.T) {
	repo := NewMemorySnapshotRepository()
	ctx := context.Background()

	snapshot := testSnapshot("p1")
	require.NoError(t, repo.Set(ctx, snapshot))

	got, err := repo.Get(ctx, snapshot.Key())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "p1", got.ProviderID)

	got, err = repo.Get(ctx, models.NewAvailabilityKey("missing", snapshot.Date))
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.Delete(ctx, snapshot.Key()))
	got, _ = repo.Get(ctx, snapshot.Key())
	assert.Nil(t, got)

	require.NoError(t, repo.Set(ctx, snapshot))
	require.NoError(t, repo.Clear(ctx))
	got, _ = repo.Get(ctx, snapshot.Key())
	assert.Nil(t, got)
}

func TestRedisSnapshotRepository(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})
	defer client.Close()

	repo := NewRedisSnapshotRepository(client, time.Hour)
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		snapshot := testSnapshot("p1")
		require.NoError(t, repo.Set(ctx, snapshot))

		got, err := repo.Get(ctx, snapshot.Key())
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, snapshot.ProviderID, got.ProviderID)
		require.Len(t, got.TimeSlots, 1)
		assert.Equal(t, "p1-s1", got.TimeSlots[0].ID)
	})

	t.Run("GetMissing", func(t *testing.T) {
		got, err := repo.Get(ctx, models.NewAvailabilityKey("nobody", time.Now()))
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Delete", func(t *testing.T) {
		snapshot := testSnapshot("p2")
		require.NoError(t, repo.Set(ctx, snapshot))
		require.NoError(t, repo.Delete(ctx, snapshot.Key()))

		got, err := repo.Get(ctx, snapshot.Key())
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Clear", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, testSnapshot("p3")))
		require.NoError(t, repo.Set(ctx, testSnapshot("p4")))
		require.NoError(t, repo.Clear(ctx))

		got, err := repo.Get(ctx, testSnapshot("p3").Key())
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestFailoverSnapshotRepository(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})
	defer client.Close()

	logger := zerolog.New(os.Stdout)
	primary := NewRedisSnapshotRepository(client, time.Hour)
	fallback := NewMemorySnapshotRepository()
	repo := NewFailoverSnapshotRepository(primary, fallback, &logger)

	ctx := context.Background()
	snapshot := testSnapshot("p1")

	require.NoError(t, repo.Set(ctx, snapshot))

	got, err := repo.Get(ctx, snapshot.Key())
	require.NoError(t, err)
	require.NotNil(t, got)

	// Kill redis: reads must keep working from the warm fallback.
	s.Close()

	got, err = repo.Get(ctx, snapshot.Key())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "p1", got.ProviderID)

	// Writes also land in the fallback while the primary is down.
	other := testSnapshot("p9")
	require.NoError(t, repo.Set(ctx, other))

	got, err = repo.Get(ctx, other.Key())
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestFailoverConcurrentAccess(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})
	defer client.Close()

	logger := zerolog.Nop()
	repo := NewFailoverSnapshotRepository(NewRedisSnapshotRepository(client, time.Hour), NewMemorySnapshotRepository(), &logger)

	ctx := context.Background()
	snapshot := testSnapshot("p1")
	require.NoError(t, repo.Set(ctx, snapshot))

	// Hammer reads and writes while the primary dies mid-run; the
	// down-marking bookkeeping must stay safe under contention.
	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, _ = repo.Get(ctx, snapshot.Key())
				_ = repo.Set(ctx, snapshot)
			}
		}()
	}
	time.Sleep(5 * time.Millisecond)
	s.Close()
	wg.Wait()

	got, err := repo.Get(ctx, snapshot.Key())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "p1", got.ProviderID)
}
