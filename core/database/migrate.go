package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/m3rciful/agendabot/core/logger"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

const (
	readyTimeout = 30 * time.Second
	previewLimit = 6
)

// RunMigrations waits for Postgres and applies every pending up migration
// from cfg.MigrationsPath.
func RunMigrations(ctx context.Context, cfg Config) error {
	if err := WaitForPostgres(ctx, DSN(cfg), readyTimeout); err != nil {
		logger.Error(ctx, "db.migrate", "migrate.wait", slog.String("status", "fail"), slog.String("err", err.Error()))
		return fmt.Errorf("database not ready: %w", err)
	}

	dir, err := filepath.Abs(cfg.MigrationsPath)
	if err != nil {
		return fmt.Errorf("resolve migrations path %q: %w", cfg.MigrationsPath, err)
	}
	files := upMigrations(dir)
	logger.Debug(ctx, "db.migrate", "migrate.resolve",
		append([]slog.Attr{slog.String("path", dir)}, filesAttrs(files)...)...)

	m, err := migrate.New("file://"+dir, URL(cfg))
	if err != nil {
		logger.Error(ctx, "db.migrate", "migrate.init", slog.String("status", "fail"), slog.String("err", err.Error()))
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	from, _, _ := m.Version()
	began := time.Now()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Error(ctx, "db.migrate", "migrate.apply",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
			slog.Duration("duration", logger.Took(began)),
		)
		return fmt.Errorf("apply migrations: %w", err)
	}
	to, _, _ := m.Version()

	applied := appliedBetween(files, uint64(from), uint64(to))
	if len(applied) > 0 {
		logger.Debug(ctx, "db.migrate", "migrate.applied", filesAttrs(applied)...)
	}
	logger.Info(ctx, "db.migrate", "migrate.summary",
		slog.String("status", "ok"),
		slog.Uint64("from_ver", uint64(from)),
		slog.Uint64("to_ver", uint64(to)),
		slog.Int("files", len(applied)),
		slog.Duration("duration", logger.Took(began)),
	)
	return nil
}

func filesAttrs(files []string) []slog.Attr {
	attrs := []slog.Attr{slog.Int("files_total", len(files))}
	preview, truncated := logger.SummarizeStrings(files, previewLimit)
	if preview != "" {
		attrs = append(attrs, slog.String("files_preview", preview))
	}
	if truncated {
		attrs = append(attrs, slog.Bool("files_truncated", true))
	}
	return attrs
}

// upMigrations lists the *.up.sql names in dir, sorted. A missing dir yields nil.
func upMigrations(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names
}

// versionOf reads the numeric prefix of a migration file name.
func versionOf(name string) uint64 {
	prefix, _, _ := strings.Cut(name, "_")
	v, _ := strconv.ParseUint(prefix, 10, 64)
	return v
}

// appliedBetween returns the files with a version in (from, to].
func appliedBetween(files []string, from, to uint64) []string {
	var out []string
	for _, f := range files {
		if v := versionOf(f); v > from && v <= to {
			out = append(out, f)
		}
	}
	return out
}
