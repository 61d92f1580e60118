package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intentx-hq/intentd/pkg/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "intents.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, s.Close())
	})
	return s
}

func TestSQLiteStorePutAndGet(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	intent := testIntent("intent-1", "0xAbC1230000000000000000000000000000000000", models.StatusPending, time.Now().UTC())
	require.NoError(t, s.Put(ctx, intent))

	got, err := s.Get(ctx, "intent-1")
	require.NoError(t, err)
	assert.Equal(t, intent.ID, got.ID)
	assert.Equal(t, intent.UserAddress, got.UserAddress)
	assert.Equal(t, models.StatusPending, got.Status)

	err = s.Put(ctx, testIntent("intent-1", "0xdef", models.StatusPending, time.Now().UTC()))
	assert.ErrorIs(t, err, ErrDuplicateID)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStoreListOrdering(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Put(ctx, testIntent("newest", "0xAAA0000000000000000000000000000000000000", models.StatusPending, now)))
	require.NoError(t, s.Put(ctx, testIntent("oldest", "0xaaa0000000000000000000000000000000000000", models.StatusPending, now.Add(-time.Hour))))
	require.NoError(t, s.Put(ctx, testIntent("other", "0xBBB0000000000000000000000000000000000000", models.StatusExecuting, now)))

	byUser, err := s.ListByUser(ctx, "0xaAa0000000000000000000000000000000000000")
	require.NoError(t, err)
	require.Len(t, byUser, 2)
	assert.Equal(t, "newest", byUser[0].ID)
	assert.Equal(t, "oldest", byUser[1].ID)

	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "oldest", pending[0].ID)
	assert.Equal(t, "newest", pending[1].ID)

	executing, err := s.ListExecuting(ctx)
	require.NoError(t, err)
	require.Len(t, executing, 1)
	assert.Equal(t, "other", executing[0].ID)
}

func TestSQLiteStoreCompareAndTransition(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, testIntent("intent-1", "0xaaa", models.StatusPending, time.Now().UTC())))

	updated, err := s.CompareAndTransition(ctx, "intent-1", models.StatusPending, func(i *models.Intent) {
		i.Status = models.StatusExecuting
		i.Attempts++
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusExecuting, updated.Status)
	assert.Equal(t, 1, updated.Attempts)

	current, err := s.CompareAndTransition(ctx, "intent-1", models.StatusPending, func(i *models.Intent) {
		i.Status = models.StatusCancelled
	})
	assert.ErrorIs(t, err, ErrStaleState)
	require.NotNil(t, current)
	assert.Equal(t, models.StatusExecuting, current.Status)

	_, err = s.CompareAndTransition(ctx, "missing", models.StatusPending, func(i *models.Intent) {})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStoreCompareAndTransitionRace(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, testIntent("intent-1", "0xaaa", models.StatusPending, time.Now().UTC())))

	const contenders = 8
	var wg sync.WaitGroup
	wins := make(chan struct{}, contenders)
	losses := make(chan error, contenders)

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CompareAndTransition(ctx, "intent-1", models.StatusPending, func(i *models.Intent) {
				i.Status = models.StatusExecuting
				i.Attempts++
			})
			if err == nil {
				wins <- struct{}{}
			} else {
				losses <- err
			}
		}()
	}
	wg.Wait()
	close(wins)
	close(losses)

	assert.Len(t, wins, 1)
	// Every loser observes the moved-on state, never a lock error
	for err := range losses {
		assert.ErrorIs(t, err, ErrStaleState)
	}

	got, err := s.Get(ctx, "intent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "intents.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	intent := testIntent("intent-1", "0xaaa", models.StatusExecuting, time.Now().UTC())
	intent.SettlementRef = "0xdeadbeef"
	require.NoError(t, s.Put(ctx, intent))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "intent-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusExecuting, got.Status)
	assert.Equal(t, "0xdeadbeef", got.SettlementRef)
}

func TestSQLiteStoreStats(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	executed := testIntent("e1", "0xaaa", models.StatusExecuted, now)
	executed.ExecutedAmount = "2750.50"
	require.NoError(t, s.Put(ctx, executed))
	require.NoError(t, s.Put(ctx, testIntent("p1", "0xaaa", models.StatusPending, now)))
	require.NoError(t, s.Put(ctx, testIntent("c1", "0xbbb", models.StatusCancelled, now)))

	stats, err := s.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalIntents)
	assert.Equal(t, 1, stats.ExecutedSwaps)
	assert.Equal(t, 1, stats.PendingIntents)
	assert.Equal(t, 1, stats.CancelledIntents)
	assert.Equal(t, "2750.50", stats.TotalVolume)
	assert.Equal(t, 33.3, stats.SuccessRate)

	userStats, err := s.Stats(ctx, "0xAAA")
	require.NoError(t, err)
	assert.Equal(t, 2, userStats.TotalIntents)
	assert.Equal(t, 50.0, userStats.SuccessRate)
}
