package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the single durable backing for conversations, rate windows,
// processed-event records, and memories. All tables are keyed by user id;
// operations for different users never contend beyond the sqlite writer.
type Store struct {
	db *sql.DB
}

// New creates/opens the database at path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process store. Use one shared connection to avoid writer lock
	// contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS conversations (
			user_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			PRIMARY KEY(user_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS conversations_user_idx ON conversations(user_id, seq);`,
		`CREATE TABLE IF NOT EXISTS rate_windows (
			user_id TEXT PRIMARY KEY,
			count INTEGER NOT NULL,
			window_start_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS processed_events (
			event_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			user_id TEXT NOT NULL,
			processed_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS processed_events_age_idx ON processed_events(processed_at_ms);`,
		`CREATE TABLE IF NOT EXISTS memories (
			user_id TEXT NOT NULL,
			mem_key TEXT NOT NULL,
			value TEXT NOT NULL,
			mem_type TEXT NOT NULL,
			importance INTEGER NOT NULL,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL,
			PRIMARY KEY(user_id, mem_key)
		);`,
		`CREATE INDEX IF NOT EXISTS memories_rank_idx ON memories(user_id, importance DESC, updated_at_ms DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", trimSQL(stmt), err)
		}
	}
	return nil
}

func trimSQL(sql string) string {
	line := strings.TrimSpace(sql)
	if len(line) > 96 {
		return line[:96] + "..."
	}
	return line
}

func nowMS() int64 { return time.Now().UnixMilli() }

// ---- conversations ----

// ConversationMessage is one role-tagged entry in a user's message log.
// Seq is strictly increasing per user and is the authoritative context order.
type ConversationMessage struct {
	UserID    string
	Role      string
	Content   string
	Seq       int64
	CreatedAt time.Time
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// AppendMessage appends content to userID's log, assigning the next
// per-user sequence number inside a single transaction.
func (s *Store) AppendMessage(ctx context.Context, userID, role, content string) (ConversationMessage, error) {
	if strings.TrimSpace(userID) == "" {
		return ConversationMessage{}, fmt.Errorf("append message: empty user_id")
	}
	if role != RoleUser && role != RoleAssistant {
		return ConversationMessage{}, fmt.Errorf("append message: invalid role %q", role)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ConversationMessage{}, fmt.Errorf("append message begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM conversations WHERE user_id = ?`, userID)
	if err := row.Scan(&seq); err != nil {
		return ConversationMessage{}, fmt.Errorf("append message next seq: %w", err)
	}

	now := nowMS()
	if _, err := tx.ExecContext(ctx, `
INSERT INTO conversations(user_id, seq, role, content, created_at_ms)
VALUES(?, ?, ?, ?, ?)`, userID, seq, role, content, now); err != nil {
		return ConversationMessage{}, fmt.Errorf("append message insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ConversationMessage{}, fmt.Errorf("append message commit: %w", err)
	}

	return ConversationMessage{
		UserID:    userID,
		Role:      role,
		Content:   content,
		Seq:       seq,
		CreatedAt: time.UnixMilli(now),
	}, nil
}

// History returns userID's messages in causal (sequence) order.
func (s *Store) History(ctx context.Context, userID string) ([]ConversationMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT user_id, seq, role, content, created_at_ms
FROM conversations WHERE user_id = ? ORDER BY seq ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var out []ConversationMessage
	for rows.Next() {
		var m ConversationMessage
		var createdMS int64
		if err := rows.Scan(&m.UserID, &m.Seq, &m.Role, &m.Content, &createdMS); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		m.CreatedAt = time.UnixMilli(createdMS)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ClearHistory removes userID's entire message log.
func (s *Store) ClearHistory(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

// ---- rate windows ----

// RateDecision is the outcome of one rate-limit check.
type RateDecision struct {
	Allowed bool
	Count   int
	ResetAt time.Time
}

// CheckAndIncrementRate applies the fixed-window rate policy for userID:
// the window is anchored at the first message; when it elapses the counter
// resets to 1 on the triggering message. Exempt users bypass the check.
// The read-then-write runs in one transaction, which is the atomicity the
// policy requires under concurrent events for the same user.
func (s *Store) CheckAndIncrementRate(ctx context.Context, userID string, exempt bool, maxPerWindow int, window time.Duration, now time.Time) (RateDecision, error) {
	if exempt {
		return RateDecision{Allowed: true}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RateDecision{}, fmt.Errorf("rate check begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	var windowStartMS int64
	nowMS := now.UnixMilli()
	row := tx.QueryRowContext(ctx, `SELECT count, window_start_ms FROM rate_windows WHERE user_id = ?`, userID)
	switch err := row.Scan(&count, &windowStartMS); {
	case errors.Is(err, sql.ErrNoRows):
		count = 0
		windowStartMS = nowMS
	case err != nil:
		return RateDecision{}, fmt.Errorf("rate check read: %w", err)
	}

	windowStart := time.UnixMilli(windowStartMS)
	if now.Sub(windowStart) >= window {
		count = 0
		windowStart = now
	}

	resetAt := windowStart.Add(window)
	if count >= maxPerWindow {
		if err := tx.Commit(); err != nil {
			return RateDecision{}, fmt.Errorf("rate check commit: %w", err)
		}
		return RateDecision{Allowed: false, Count: count, ResetAt: resetAt}, nil
	}

	count++
	if _, err := tx.ExecContext(ctx, `
INSERT INTO rate_windows(user_id, count, window_start_ms) VALUES(?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET count = excluded.count, window_start_ms = excluded.window_start_ms`,
		userID, count, windowStart.UnixMilli()); err != nil {
		return RateDecision{}, fmt.Errorf("rate check write: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return RateDecision{}, fmt.Errorf("rate check commit: %w", err)
	}
	return RateDecision{Allowed: true, Count: count, ResetAt: resetAt}, nil
}

// ---- processed events (dedup) ----

// MarkProcessed records eventID as handled and reports whether this caller
// won the insert. The insert-or-ignore is atomic per event id, so exactly
// one of N racing callers observes true.
func (s *Store) MarkProcessed(ctx context.Context, eventID, kind, userID string, now time.Time) (bool, error) {
	if strings.TrimSpace(eventID) == "" {
		return false, fmt.Errorf("mark processed: empty event_id")
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO processed_events(event_id, kind, user_id, processed_at_ms)
VALUES(?, ?, ?, ?)
ON CONFLICT(event_id) DO NOTHING`, eventID, kind, userID, now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark processed rows: %w", err)
	}
	return n == 1, nil
}

// IsProcessed reports whether eventID has already been handled.
func (s *Store) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	var one int
	row := s.db.QueryRowContext(ctx, `SELECT 1 FROM processed_events WHERE event_id = ?`, eventID)
	switch err := row.Scan(&one); {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("is processed: %w", err)
	}
	return true, nil
}

// PruneProcessedBefore deletes processed-event records older than cutoff
// and returns the number removed. Records newer than cutoff are untouched
// even under concurrent inserts.
func (s *Store) PruneProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM processed_events WHERE processed_at_ms < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune processed events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune processed events rows: %w", err)
	}
	return n, nil
}

// ---- memories ----

// Memory is a persisted, importance-scored fact about a user, upserted by
// a deterministic per-user key.
type Memory struct {
	UserID     string
	Key        string
	Value      string
	Type       string
	Importance int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// UpsertMemory inserts m or, when the (user_id, key) pair exists, overwrites
// value/type/importance and bumps updated_at while preserving created_at.
func (s *Store) UpsertMemory(ctx context.Context, m Memory) error {
	if strings.TrimSpace(m.UserID) == "" || strings.TrimSpace(m.Key) == "" {
		return fmt.Errorf("upsert memory: empty user_id or key")
	}
	if m.Importance < 1 {
		m.Importance = 1
	}
	if m.Importance > 10 {
		m.Importance = 10
	}

	now := nowMS()
	createdMS := now
	if !m.CreatedAt.IsZero() {
		createdMS = m.CreatedAt.UnixMilli()
	}
	updatedMS := now
	if !m.UpdatedAt.IsZero() {
		updatedMS = m.UpdatedAt.UnixMilli()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO memories(user_id, mem_key, value, mem_type, importance, created_at_ms, updated_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id, mem_key) DO UPDATE SET
	value = excluded.value,
	mem_type = excluded.mem_type,
	importance = excluded.importance,
	updated_at_ms = excluded.updated_at_ms`,
		m.UserID, m.Key, m.Value, m.Type, m.Importance, createdMS, updatedMS)
	if err != nil {
		return fmt.Errorf("upsert memory: %w", err)
	}
	return nil
}

// ListMemories returns userID's memories ordered by importance then recency.
func (s *Store) ListMemories(ctx context.Context, userID string) ([]Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT user_id, mem_key, value, mem_type, importance, created_at_ms, updated_at_ms
FROM memories WHERE user_id = ?
ORDER BY importance DESC, updated_at_ms DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		var m Memory
		var createdMS, updatedMS int64
		if err := rows.Scan(&m.UserID, &m.Key, &m.Value, &m.Type, &m.Importance, &createdMS, &updatedMS); err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		m.CreatedAt = time.UnixMilli(createdMS)
		m.UpdatedAt = time.UnixMilli(updatedMS)
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteMemory removes one memory by key.
func (s *Store) DeleteMemory(ctx context.Context, userID, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE user_id = ? AND mem_key = ?`, userID, key); err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	return nil
}

// DeleteAllMemories forgets everything stored for userID.
func (s *Store) DeleteAllMemories(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete all memories: %w", err)
	}
	return nil
}

// CountMemories returns the number of memories stored for userID.
func (s *Store) CountMemories(ctx context.Context, userID string) (int, error) {
	var n int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE user_id = ?`, userID)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return n, nil
}

// ListUsersWithMemories returns distinct user ids that have at least one
// memory row; used by the eviction sweep.
func (s *Store) ListUsersWithMemories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM memories`)
	if err != nil {
		return nil, fmt.Errorf("list memory users: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan memory user: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
