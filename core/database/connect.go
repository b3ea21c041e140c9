package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/agendabot/core/logger"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const (
	connectTimeout = 5 * time.Second
	idleTimeout    = 5 * time.Minute
	waitInterval   = 2 * time.Second
)

// Connect opens a pooled connection to Postgres and checks it answers.
// The pool backs the conversation_states table and the audit log.
func Connect(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	target := []slog.Attr{
		slog.String("host", cfg.Host),
		slog.String("port", cfg.Port),
		slog.String("db", cfg.Name),
	}
	fail := func(step string, err error) error {
		logger.Error(ctx, "db", "db."+step, append(target,
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)...)
		return fmt.Errorf("db %s: %w", step, err)
	}

	began := time.Now()
	db, err := sqlx.ConnectContext(ctx, "postgres", DSN(cfg))
	if err != nil {
		return nil, fail("connect", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fail("ping", err)
	}

	pool := max(cfg.MaxConnections, 1)
	db.SetMaxOpenConns(pool)
	db.SetMaxIdleConns(pool)
	db.SetConnMaxIdleTime(idleTimeout)

	logger.Info(ctx, "db", "db.connect", append(target,
		slog.String("status", "ok"),
		slog.Int("pool_open", pool),
		slog.Duration("duration", logger.Took(began)),
	)...)
	return db, nil
}

// WaitForPostgres retries a ping every couple of seconds until the server
// answers, ctx ends, or timeout elapses.
func WaitForPostgres(ctx context.Context, dsn string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tick := time.NewTicker(waitInterval)
	defer tick.Stop()
	for {
		err := pingOnce(ctx, dsn)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for database: %w", err)
		case <-tick.C:
		}
	}
}

func pingOnce(ctx context.Context, dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.PingContext(ctx)
}
