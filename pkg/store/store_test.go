package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAndHistoryOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, content := range []string{"first", "second", "third"} {
		_, err := s.AppendMessage(ctx, "u1", RoleUser, content)
		require.NoError(t, err)
	}
	_, err := s.AppendMessage(ctx, "u2", RoleUser, "other user")
	require.NoError(t, err)

	history, err := s.History(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "first", history[0].Content)
	assert.Equal(t, "second", history[1].Content)
	assert.Equal(t, "third", history[2].Content)
	assert.Equal(t, int64(1), history[0].Seq)
	assert.Equal(t, int64(3), history[2].Seq)
}

func TestAppendRejectsInvalidInput(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AppendMessage(ctx, "", RoleUser, "hi")
	assert.Error(t, err)
	_, err = s.AppendMessage(ctx, "u1", "system", "hi")
	assert.Error(t, err)
}

func TestClearHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AppendMessage(ctx, "u1", RoleUser, "hello")
	require.NoError(t, err)
	require.NoError(t, s.ClearHistory(ctx, "u1"))

	history, err := s.History(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRateLimitBlocksAtCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i := 1; i <= 15; i++ {
		d, err := s.CheckAndIncrementRate(ctx, "u1", false, 15, time.Hour, now)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "message %d should be allowed", i)
		assert.Equal(t, i, d.Count)
	}

	d, err := s.CheckAndIncrementRate(ctx, "u1", false, 15, time.Hour, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 15, d.Count)
	assert.True(t, d.ResetAt.After(now.Add(time.Minute)), "reset must be in the future")
}

func TestRateLimitWindowResetsToOne(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 15; i++ {
		_, err := s.CheckAndIncrementRate(ctx, "u1", false, 15, time.Hour, now)
		require.NoError(t, err)
	}

	later := now.Add(time.Hour + time.Second)
	d, err := s.CheckAndIncrementRate(ctx, "u1", false, 15, time.Hour, later)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Count, "first message of a new window")
	assert.Equal(t, later.Add(time.Hour).UnixMilli(), d.ResetAt.UnixMilli())
}

func TestRateLimitExemptBypass(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 40; i++ {
		d, err := s.CheckAndIncrementRate(ctx, "vip", true, 15, time.Hour, now)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
}

func TestMarkProcessedAtMostOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	first, err := s.MarkProcessed(ctx, "ev-1", "mention", "u1", now)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := s.MarkProcessed(ctx, "ev-1", "mention", "u1", now)
	require.NoError(t, err)
	assert.False(t, second)

	processed, err := s.IsProcessed(ctx, "ev-1")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestMarkProcessedConcurrentSingleWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := s.MarkProcessed(ctx, "ev-race", "mention", "u1", time.Now())
			assert.NoError(t, err)
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one racer may win the insert")
}

func TestPruneProcessedRespectsCutoff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, err := s.MarkProcessed(ctx, "old", "mention", "u1", now.Add(-8*24*time.Hour))
	require.NoError(t, err)
	_, err = s.MarkProcessed(ctx, "fresh", "mention", "u1", now)
	require.NoError(t, err)

	pruned, err := s.PruneProcessedBefore(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	oldSeen, err := s.IsProcessed(ctx, "old")
	require.NoError(t, err)
	assert.False(t, oldSeen)
	freshSeen, err := s.IsProcessed(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, freshSeen)
}

func TestUpsertMemoryOverwritesByKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertMemory(ctx, Memory{
		UserID: "u1", Key: "preference:coffee", Value: "likes coffee", Type: "preference", Importance: 5,
	}))
	require.NoError(t, s.UpsertMemory(ctx, Memory{
		UserID: "u1", Key: "preference:coffee", Value: "loves espresso", Type: "preference", Importance: 7,
	}))

	memories, err := s.ListMemories(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, "loves espresso", memories[0].Value)
	assert.Equal(t, 7, memories[0].Importance)
	assert.False(t, memories[0].UpdatedAt.Before(memories[0].CreatedAt))
}

func TestUpsertMemoryClampsImportance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertMemory(ctx, Memory{
		UserID: "u1", Key: "fact:a", Value: "a", Type: "fact", Importance: 42,
	}))
	require.NoError(t, s.UpsertMemory(ctx, Memory{
		UserID: "u1", Key: "fact:b", Value: "b", Type: "fact", Importance: -3,
	}))

	memories, err := s.ListMemories(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, memories, 2)
	assert.Equal(t, 10, memories[0].Importance)
	assert.Equal(t, 1, memories[1].Importance)
}

func TestListMemoriesOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	require.NoError(t, s.UpsertMemory(ctx, Memory{
		UserID: "u1", Key: "fact:low", Value: "low", Type: "fact", Importance: 3,
		CreatedAt: base, UpdatedAt: base,
	}))
	require.NoError(t, s.UpsertMemory(ctx, Memory{
		UserID: "u1", Key: "fact:high", Value: "high", Type: "fact", Importance: 9,
		CreatedAt: base, UpdatedAt: base,
	}))

	memories, err := s.ListMemories(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, memories, 2)
	assert.Equal(t, "high", memories[0].Value)
}

func TestDeleteAllMemories(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertMemory(ctx, Memory{
		UserID: "u1", Key: "fact:a", Value: "a", Type: "fact", Importance: 5,
	}))
	require.NoError(t, s.DeleteAllMemories(ctx, "u1"))

	n, err := s.CountMemories(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListUsersWithMemories(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertMemory(ctx, Memory{UserID: "u1", Key: "fact:a", Value: "a", Type: "fact", Importance: 5}))
	require.NoError(t, s.UpsertMemory(ctx, Memory{UserID: "u2", Key: "fact:b", Value: "b", Type: "fact", Importance: 5}))

	users, err := s.ListUsersWithMemories(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, users)
}
