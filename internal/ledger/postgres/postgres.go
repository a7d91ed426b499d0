package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// register pgx stdlib driver
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/theblixguy/xcode-copilot-server-sub001/internal/ledger"
)

// Store implements ledger.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL-backed ledger store using the provided DSN.
func New(dsn string, maxOpen, maxIdle int) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS bridge_events (
	id BIGSERIAL PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	call_id TEXT NOT NULL,
	tool_name TEXT,
	event TEXT NOT NULL CHECK(event IN ('issued','resolved','rejected','unresolved')),
	detail TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_bridge_events_conv_created ON bridge_events(conversation_id, created_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a new bridge event.
func (s *Store) Record(ctx context.Context, entry ledger.Entry) error {
	if entry.ConversationID == "" {
		return errors.New("ledger record requires conversation id")
	}
	if !ledger.ValidEvent(entry.Event) {
		return fmt.Errorf("invalid event %q", entry.Event)
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO bridge_events(conversation_id, call_id, tool_name, event, detail, created_at)
VALUES($1, $2, $3, $4, $5, $6)`,
		entry.ConversationID,
		entry.CallID,
		entry.ToolName,
		string(entry.Event),
		entry.Detail,
		created,
	)
	if err != nil {
		return fmt.Errorf("insert bridge event: %w", err)
	}
	return nil
}

// ListRecent returns up to limit events for a conversation, newest first.
func (s *Store) ListRecent(ctx context.Context, conversationID string, limit int) ([]ledger.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, conversation_id, call_id, tool_name, event, detail, created_at
FROM bridge_events
WHERE conversation_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query bridge events: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var event string
		if err := rows.Scan(&e.ID, &e.ConversationID, &e.CallID, &e.ToolName, &event, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bridge event: %w", err)
		}
		e.Event = ledger.Event(event)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Summary aggregates event counts for a conversation.
func (s *Store) Summary(ctx context.Context, conversationID string) (ledger.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT event, COUNT(*) FROM bridge_events
WHERE conversation_id = $1
GROUP BY event`, conversationID)
	if err != nil {
		return ledger.Summary{}, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	var sum ledger.Summary
	for rows.Next() {
		var event string
		var count int64
		if err := rows.Scan(&event, &count); err != nil {
			return ledger.Summary{}, fmt.Errorf("scan summary: %w", err)
		}
		switch ledger.Event(event) {
		case ledger.EventIssued:
			sum.Issued = count
		case ledger.EventResolved:
			sum.Resolved = count
		case ledger.EventRejected:
			sum.Rejected = count
		case ledger.EventUnresolved:
			sum.Unresolved = count
		}
	}
	return sum, rows.Err()
}
