package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const (
	selectStateSQL = `SELECT state FROM conversation_states WHERE user_key = $1`
	lockStateSQL   = `SELECT state FROM conversation_states WHERE user_key = $1 FOR UPDATE`
	upsertStateSQL = `INSERT INTO conversation_states (user_key, state, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (user_key) DO UPDATE SET state = EXCLUDED.state, updated_at = now()`
	deleteStateSQL = `DELETE FROM conversation_states WHERE user_key = $1`
)

// PostgresStore keeps conversations in the conversation_states table as JSONB.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore uses an already connected pool.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Read loads the state for key; a missing row yields New().
func (p *PostgresStore) Read(ctx context.Context, key string) (State, error) {
	if key == "" {
		return State{}, ErrEmptyKey
	}
	return readRow(ctx, p.db, selectStateSQL, key)
}

// Replace upserts the whole state in one statement.
func (p *PostgresStore) Replace(ctx context.Context, key string, st State) error {
	if key == "" {
		return ErrEmptyKey
	}
	return writeRow(ctx, p.db, key, st)
}

// Patch locks the row, applies mutate and writes it back in one transaction.
func (p *PostgresStore) Patch(ctx context.Context, key string, mutate func(*State)) error {
	if key == "" {
		return ErrEmptyKey
	}
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("conversation: begin patch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	st, err := readRow(ctx, tx, lockStateSQL, key)
	if err != nil {
		return err
	}
	mutate(&st)
	if err := writeRow(ctx, tx, key, st); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("conversation: commit patch: %w", err)
	}
	return nil
}

// Clear deletes the row for key.
func (p *PostgresStore) Clear(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if _, err := p.db.ExecContext(ctx, deleteStateSQL, key); err != nil {
		return fmt.Errorf("conversation: delete state: %w", err)
	}
	return nil
}

func readRow(ctx context.Context, q sqlx.QueryerContext, query, key string) (State, error) {
	var raw []byte
	err := sqlx.GetContext(ctx, q, &raw, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return New(), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("conversation: select state: %w", err)
	}
	return decode(raw)
}

func writeRow(ctx context.Context, e sqlx.ExecerContext, key string, st State) error {
	data, err := encode(st)
	if err != nil {
		return err
	}
	if _, err := e.ExecContext(ctx, upsertStateSQL, key, string(data)); err != nil {
		return fmt.Errorf("conversation: upsert state: %w", err)
	}
	return nil
}
