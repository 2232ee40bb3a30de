package maintenance

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perchlabs/perch/pkg/memory"
	"github.com/perchlabs/perch/pkg/store"
)

func newTestSweeper(t *testing.T) (*Sweeper, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	sw := NewSweeper(s, memory.NewEngine(s), SweeperConfig{
		CronExpr:       "*/10 * * * *",
		DedupRetention: 7 * 24 * time.Hour,
		MaxMemories:    5,
		ProtectedScore: 7,
	})
	return sw, s
}

func TestSweepPrunesOldProcessedEvents(t *testing.T) {
	sw, s := newTestSweeper(t)
	ctx := context.Background()
	now := time.Now()

	_, err := s.MarkProcessed(ctx, "old", "mention", "u1", now.Add(-8*24*time.Hour))
	require.NoError(t, err)
	_, err = s.MarkProcessed(ctx, "fresh", "mention", "u1", now)
	require.NoError(t, err)

	sw.sweep(ctx, now)

	oldSeen, err := s.IsProcessed(ctx, "old")
	require.NoError(t, err)
	assert.False(t, oldSeen)
	freshSeen, err := s.IsProcessed(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, freshSeen)
}

func TestSweepEvictsOverCapMemories(t *testing.T) {
	sw, s := newTestSweeper(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, s.UpsertMemory(ctx, store.Memory{
			UserID: "u1", Key: fmt.Sprintf("fact:%d", i), Value: "v",
			Type: "fact", Importance: 2,
		}))
	}
	require.NoError(t, s.UpsertMemory(ctx, store.Memory{
		UserID: "u1", Key: "fact:protected", Value: "keep",
		Type: "fact", Importance: 9,
	}))

	sw.sweep(ctx, time.Now())

	remaining, err := s.ListMemories(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, remaining, 5, "trimmed to the cap")
	assert.Equal(t, "fact:protected", remaining[0].Key)
}

func TestSweeperInvalidCronDisabled(t *testing.T) {
	_, s := newTestSweeper(t)
	sw := NewSweeper(s, memory.NewEngine(s), SweeperConfig{CronExpr: "not a cron"})

	// Start must refuse the loop; Stop must not hang.
	sw.Start(context.Background())
	sw.Stop()
}

func TestSweeperStartStop(t *testing.T) {
	sw, _ := newTestSweeper(t)
	ctx, cancel := context.WithCancel(context.Background())
	sw.Start(ctx)
	cancel()
	sw.Stop()
}
