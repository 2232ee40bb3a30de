package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/perchlabs/perch/pkg/logger"
	"github.com/perchlabs/perch/pkg/memory"
	"github.com/perchlabs/perch/pkg/store"
)

// Sweeper runs the periodic maintenance passes: pruning processed-event
// records past the dedup retention window and evicting low-importance
// memories for users over the cap. Scheduling follows a cron expression
// checked once a minute.
type Sweeper struct {
	store  *store.Store
	memory *memory.Engine

	cronExpr       string
	dedupRetention time.Duration
	maxMemories    int
	protected      int

	gron   *gronx.Gronx
	stop   chan struct{}
	once   sync.Once
	doneWG sync.WaitGroup
}

type SweeperConfig struct {
	CronExpr       string
	DedupRetention time.Duration
	MaxMemories    int
	ProtectedScore int
}

func NewSweeper(st *store.Store, eng *memory.Engine, cfg SweeperConfig) *Sweeper {
	expr := cfg.CronExpr
	if expr == "" {
		expr = "*/10 * * * *"
	}
	return &Sweeper{
		store:          st,
		memory:         eng,
		cronExpr:       expr,
		dedupRetention: cfg.DedupRetention,
		maxMemories:    cfg.MaxMemories,
		protected:      cfg.ProtectedScore,
		gron:           gronx.New(),
		stop:           make(chan struct{}),
	}
}

// Start launches the sweep loop on its own goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	if !s.gron.IsValid(s.cronExpr) {
		logger.ErrorCF("maintenance", "Invalid sweep cron expression, sweeper disabled", map[string]any{
			"cron": s.cronExpr,
		})
		return
	}

	logger.InfoCF("maintenance", "Sweeper started", map[string]any{
		"cron":           s.cronExpr,
		"retention":      s.dedupRetention.String(),
		"max_memories":   s.maxMemories,
		"protected_from": s.protected,
	})

	s.doneWG.Add(1)
	go func() {
		defer s.doneWG.Done()
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case now := <-ticker.C:
				due, err := s.gron.IsDue(s.cronExpr, now)
				if err != nil {
					logger.WarnCF("maintenance", "Cron due check failed", map[string]any{
						"error": err.Error(),
					})
					continue
				}
				if due {
					s.sweep(ctx, now)
				}
			}
		}
	}()
}

// Stop halts the loop and waits for any in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.doneWG.Wait()
}

// sweep runs one full maintenance pass. Each stage logs its own failures;
// one failed stage never blocks the others.
func (s *Sweeper) sweep(ctx context.Context, now time.Time) {
	start := time.Now()

	if s.dedupRetention > 0 {
		cutoff := now.Add(-s.dedupRetention)
		pruned, err := s.store.PruneProcessedBefore(ctx, cutoff)
		if err != nil {
			logger.ErrorCF("maintenance", "Processed-event prune failed", map[string]any{
				"error": err.Error(),
			})
		} else if pruned > 0 {
			logger.InfoCF("maintenance", "Pruned processed events", map[string]any{
				"count":  pruned,
				"cutoff": cutoff.UTC().Format(time.RFC3339),
			})
		}
	}

	s.evictAll(ctx)

	logger.DebugCF("maintenance", "Sweep finished", map[string]any{
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

func (s *Sweeper) evictAll(ctx context.Context) {
	if s.maxMemories <= 0 {
		return
	}
	users, err := s.store.ListUsersWithMemories(ctx)
	if err != nil {
		logger.ErrorCF("maintenance", "Memory user listing failed", map[string]any{
			"error": err.Error(),
		})
		return
	}

	total := 0
	for _, userID := range users {
		deleted, err := s.memory.Evict(ctx, userID, s.maxMemories, s.protected)
		if err != nil {
			logger.WarnCF("maintenance", "Memory eviction failed", map[string]any{
				"user_id": userID,
				"error":   err.Error(),
			})
			continue
		}
		total += deleted
	}
	if total > 0 {
		logger.InfoCF("maintenance", "Evicted memories", map[string]any{
			"count": total,
			"users": len(users),
		})
	}
}
