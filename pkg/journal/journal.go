package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/quotaflow-ai/quotaflow/pkg/models"
)

// Journal records and queries charge, refund, and grant entries. It is an
// audit trail, not a source of truth: bucket state is never reconstructed
// from it.
type Journal interface {
	// Record stores an entry. A missing ID or CreatedAt is filled in.
	Record(ctx context.Context, e models.JournalEntry) error
	// RecentByUser returns the newest entries for a user, or for all users
	// when userID is empty.
	RecentByUser(ctx context.Context, userID string, limit int) ([]models.JournalEntry, error)
	// TotalByUser returns net charged tokens (charges minus refunds) for a
	// user since a given time. Grants are not spending and are excluded.
	TotalByUser(ctx context.Context, userID string, since time.Time) (int64, error)
	// Summary returns aggregates grouped by user, model, and kind,
	// optionally filtered by user.
	Summary(ctx context.Context, userID string) ([]models.JournalSummary, error)
	// Close releases resources.
	Close() error
}

// SQLite implements Journal with a SQLite database.
type SQLite struct {
	db *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS charge_journal (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	model_id TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL,
	tokens INTEGER NOT NULL,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_journal_user_time ON charge_journal(user_id, created_at);
`

// Open creates a SQLite journal and runs auto-migration.
func Open(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal db: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Record stores an entry, assigning an ID and timestamp when absent.
func (j *SQLite) Record(ctx context.Context, e models.JournalEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO charge_journal (id, user_id, model_id, kind, tokens, input_tokens, output_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.ModelID, string(e.Kind), e.Tokens, e.InputTokens, e.OutputTokens, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record journal entry: %w", err)
	}
	return nil
}

// RecentByUser returns the newest entries, newest first.
func (j *SQLite) RecentByUser(ctx context.Context, userID string, limit int) ([]models.JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, user_id, model_id, kind, tokens, input_tokens, output_tokens, created_at FROM charge_journal`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []models.JournalEntry
	for rows.Next() {
		var e models.JournalEntry
		var kind string
		if err := rows.Scan(&e.ID, &e.UserID, &e.ModelID, &kind, &e.Tokens, &e.InputTokens, &e.OutputTokens, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.Kind = models.JournalKind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// TotalByUser returns charges minus refunds since a given time.
func (j *SQLite) TotalByUser(ctx context.Context, userID string, since time.Time) (int64, error) {
	var total int64
	err := j.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(CASE kind WHEN 'charge' THEN tokens WHEN 'refund' THEN -tokens ELSE 0 END), 0)
		 FROM charge_journal WHERE user_id = ? AND created_at >= ?`,
		userID, since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total journal tokens: %w", err)
	}
	return total, nil
}

// Summary returns aggregates grouped by user, model, and kind.
func (j *SQLite) Summary(ctx context.Context, userID string) ([]models.JournalSummary, error) {
	query := `SELECT user_id, model_id, kind, COUNT(*), SUM(tokens) FROM charge_journal`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` GROUP BY user_id, model_id, kind ORDER BY user_id, model_id, kind`

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.JournalSummary
	for rows.Next() {
		var s models.JournalSummary
		var kind string
		if err := rows.Scan(&s.UserID, &s.ModelID, &kind, &s.EntryCount, &s.TotalTokens); err != nil {
			return nil, fmt.Errorf("scan journal summary: %w", err)
		}
		s.Kind = models.JournalKind(kind)
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Close releases the database connection.
func (j *SQLite) Close() error {
	return j.db.Close()
}
