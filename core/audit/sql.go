package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	selectOpenConversationSQL = `SELECT id, started_at FROM conversations
WHERE user_key = $1 AND closed_at IS NULL ORDER BY id DESC LIMIT 1`
	insertConversationSQL = `INSERT INTO conversations (user_key, channel, started_at, last_seen)
VALUES ($1, $2, $3, $3) RETURNING id`
	closeConversationSQL = `UPDATE conversations SET closed_at = $2 WHERE id = $1 AND closed_at IS NULL`
	insertMessageSQL     = `INSERT INTO messages (conversation_id, direction, kind, content, created_at) VALUES ($1, $2, $3, $4, $5)`
	touchConversationSQL = `UPDATE conversations SET last_seen = $2 WHERE id = $1`
	setOutcomeSQL        = `UPDATE conversations SET outcome = $2, last_seen = $3 WHERE id = $1`
	setClosingOutcomeSQL = `UPDATE conversations SET outcome = $2, last_seen = $3, closed_at = $3 WHERE id = $1`
)

type openConversation struct {
	ID        int64     `db:"id"`
	StartedAt time.Time `db:"started_at"`
}

// SQLSink logs transcripts to the conversations and messages tables. Each
// user key has at most one open conversation row; a record carrying a new
// conversation start closes it and opens another.
type SQLSink struct {
	db *sqlx.DB

	mu   sync.Mutex
	open map[string]openConversation
}

// NewSQLSink uses an already connected and migrated pool.
func NewSQLSink(db *sqlx.DB) *SQLSink {
	return &SQLSink{db: db, open: make(map[string]openConversation)}
}

// Name implements Sink.
func (s *SQLSink) Name() string { return "postgres" }

// Write implements Sink.
func (s *SQLSink) Write(ctx context.Context, rec Record) error {
	if rec.UserKey == "" {
		return errors.New("audit: record without user key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok, err := s.resolve(ctx, rec)
	if err != nil || !ok {
		return err
	}

	if rec.IsOutcome() {
		query := setOutcomeSQL
		if closes(rec.Outcome) {
			query = setClosingOutcomeSQL
		}
		if _, err := s.db.ExecContext(ctx, query, conv.ID, rec.Outcome, rec.At); err != nil {
			return fmt.Errorf("audit: set outcome: %w", err)
		}
		if closes(rec.Outcome) {
			delete(s.open, rec.UserKey)
		}
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("audit: begin message: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, insertMessageSQL, conv.ID, string(rec.Direction), rec.Kind, rec.Content, rec.At); err != nil {
		return fmt.Errorf("audit: insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, touchConversationSQL, conv.ID, rec.At); err != nil {
		return fmt.Errorf("audit: touch conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("audit: commit message: %w", err)
	}
	return nil
}

// resolve finds the conversation row rec belongs to. It reports false for an
// outcome that has no open conversation.
func (s *SQLSink) resolve(ctx context.Context, rec Record) (openConversation, bool, error) {
	if cur, ok := s.open[rec.UserKey]; ok && matches(cur, rec) {
		return cur, true, nil
	}

	var cur openConversation
	err := s.db.GetContext(ctx, &cur, selectOpenConversationSQL, rec.UserKey)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return openConversation{}, false, fmt.Errorf("audit: select conversation: %w", err)
	case matches(cur, rec):
		s.open[rec.UserKey] = cur
		return cur, true, nil
	default:
		if _, err := s.db.ExecContext(ctx, closeConversationSQL, cur.ID, rec.At); err != nil {
			return openConversation{}, false, fmt.Errorf("audit: close conversation: %w", err)
		}
		delete(s.open, rec.UserKey)
	}

	if rec.StartedAt.IsZero() && rec.IsOutcome() {
		return openConversation{}, false, nil
	}
	started := rec.StartedAt
	if started.IsZero() {
		started = rec.At
	}
	created := openConversation{StartedAt: started}
	if err := s.db.GetContext(ctx, &created.ID, insertConversationSQL, rec.UserKey, rec.Channel, started); err != nil {
		return openConversation{}, false, fmt.Errorf("audit: insert conversation: %w", err)
	}
	s.open[rec.UserKey] = created
	return created, true, nil
}

// matches compares at microsecond precision, the resolution of timestamptz.
func matches(cur openConversation, rec Record) bool {
	return rec.StartedAt.IsZero() ||
		cur.StartedAt.Truncate(time.Microsecond).Equal(rec.StartedAt.Truncate(time.Microsecond))
}
