package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/perchlabs/perch/pkg/logger"
	"github.com/perchlabs/perch/pkg/store"
)

// Engine binds extraction and ranking to the durable store.
type Engine struct {
	store *store.Store
}

func NewEngine(s *store.Store) *Engine {
	return &Engine{store: s}
}

// Remember extracts candidate memories from text and upserts them all.
// Partial failures are logged and do not abort the remaining upserts.
func (e *Engine) Remember(ctx context.Context, userID, text string) ([]store.Memory, error) {
	candidates := Extract(userID, text)
	if len(candidates) == 0 {
		return nil, nil
	}

	var firstErr error
	stored := make([]store.Memory, 0, len(candidates))
	for _, m := range candidates {
		if err := e.store.UpsertMemory(ctx, m); err != nil {
			logger.WarnCF("memory", "Failed to upsert extracted memory", map[string]any{
				"user_id": userID,
				"key":     m.Key,
				"error":   err.Error(),
			})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		stored = append(stored, m)
	}
	return stored, firstErr
}

// RememberManual stores an explicit user-requested memory at the
// conversation importance tier, keyed by timestamp so repeated commands
// accumulate rather than overwrite.
func (e *Engine) RememberManual(ctx context.Context, userID, text string) (store.Memory, error) {
	value := normalizePhrase(text)
	if value == "" {
		return store.Memory{}, fmt.Errorf("remember: nothing to store")
	}
	now := time.Now()
	m := store.Memory{
		UserID:     userID,
		Key:        fmt.Sprintf("%s:%d", TypeConversation, now.UnixNano()),
		Value:      value,
		Type:       TypeConversation,
		Importance: conversationImportance,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.store.UpsertMemory(ctx, m); err != nil {
		return store.Memory{}, err
	}
	return m, nil
}

// Relevant returns up to limit stored memories ranked against currentText.
func (e *Engine) Relevant(ctx context.Context, userID, currentText string, limit int) ([]store.Memory, error) {
	all, err := e.store.ListMemories(ctx, userID)
	if err != nil {
		return nil, err
	}
	return Rank(all, currentText, limit), nil
}

// List returns every memory stored for userID, importance-then-recency.
func (e *Engine) List(ctx context.Context, userID string) ([]store.Memory, error) {
	return e.store.ListMemories(ctx, userID)
}

// Forget deletes all of userID's memories.
func (e *Engine) Forget(ctx context.Context, userID string) error {
	return e.store.DeleteAllMemories(ctx, userID)
}

// Evict trims userID's memories toward maxCount. Entries beyond the
// importance/recency-sorted maxCount-th position are deleted only when
// their importance is below protected; high-importance memories are kept
// regardless of count. Returns the number deleted.
func (e *Engine) Evict(ctx context.Context, userID string, maxCount, protected int) (int, error) {
	if maxCount <= 0 {
		return 0, nil
	}
	all, err := e.store.ListMemories(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(all) <= maxCount {
		return 0, nil
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Importance != all[j].Importance {
			return all[i].Importance > all[j].Importance
		}
		return all[i].UpdatedAt.After(all[j].UpdatedAt)
	})

	deleted := 0
	for _, m := range all[maxCount:] {
		if m.Importance >= protected {
			continue
		}
		if err := e.store.DeleteMemory(ctx, userID, m.Key); err != nil {
			logger.WarnCF("memory", "Eviction delete failed", map[string]any{
				"user_id": userID,
				"key":     m.Key,
				"error":   err.Error(),
			})
			continue
		}
		deleted++
	}
	return deleted, nil
}

// FormatForPrompt renders memories as a compact bullet list for prompt
// context assembly.
func FormatForPrompt(memories []store.Memory) string {
	if len(memories) == 0 {
		return ""
	}
	lines := make([]string, 0, len(memories))
	for _, m := range memories {
		lines = append(lines, fmt.Sprintf("- [%s] %s", m.Type, m.Value))
	}
	return strings.Join(lines, "\n")
}
