// Package bootstrap brings up the infrastructure the booking engine runs on:
// logger, conversation store backend, database migrations and audit sinks.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/agendabot/core/audit"
	coreconfig "github.com/m3rciful/agendabot/core/config"
	"github.com/m3rciful/agendabot/core/conversation"
	coredatabase "github.com/m3rciful/agendabot/core/database"
	"github.com/m3rciful/agendabot/core/logger"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// Options control the bootstrap pipeline. Nil hooks fall back to the real
// implementations.
type Options struct {
	Config *coreconfig.Config

	LoggerInit func(*coreconfig.Config) error
	Connect    func(context.Context, coredatabase.Config) (*sqlx.DB, error)
	Migrate    func(context.Context, coredatabase.Config) error
	NewRedis   func(coreconfig.RedisConfig) redis.UniversalClient
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
type Result struct {
	Store conversation.Store
	Sinks []audit.Sink

	// DB is set when the state store or the audit log uses Postgres.
	DB *sqlx.DB
	// Redis is set for the redis state backend.
	Redis redis.UniversalClient
}

// Close releases the connections opened by Run.
func (r *Result) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.Redis != nil {
		errs = append(errs, r.Redis.Close())
	}
	if r.DB != nil {
		errs = append(errs, r.DB.Close())
	}
	return errors.Join(errs...)
}

// Run initializes the logger, the configured store backend and the audit sinks.
func Run(ctx context.Context, opts Options) (_ *Result, err error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}
	cfg := opts.Config

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(cfg); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	res := &Result{}
	defer func() {
		if err != nil {
			_ = res.Close()
		}
	}()

	needDB := cfg.Store.Backend == coreconfig.StorePostgres || cfg.Audit.Database
	if needDB {
		db, err := openDatabase(ctx, opts)
		if err != nil {
			return nil, err
		}
		res.DB = db
	}

	start := time.Now()
	switch cfg.Store.Backend {
	case coreconfig.StoreRedis:
		newRedis := opts.NewRedis
		if newRedis == nil {
			newRedis = NewRedisClient
		}
		client := newRedis(cfg.Redis)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("bootstrap: redis ping: %w", err)
		}
		res.Redis = client
		ttl := time.Duration(cfg.Redis.TTLSeconds) * time.Second
		res.Store = conversation.NewRedisStore(client, cfg.Redis.Prefix, ttl)
	case coreconfig.StorePostgres:
		res.Store = conversation.NewPostgresStore(res.DB)
	case coreconfig.StoreMemory, "":
		res.Store = conversation.NewMemoryStore()
	default:
		return nil, fmt.Errorf("bootstrap: unknown store backend %q", cfg.Store.Backend)
	}
	logger.Info(ctx, "store", "store.ready",
		slog.String("status", "ok"),
		slog.String("backend", backendName(cfg.Store.Backend)),
		slog.Duration("duration", logger.Took(start)),
	)

	sinks, err := buildSinks(cfg, res.DB)
	if err != nil {
		return nil, err
	}
	res.Sinks = sinks
	return res, nil
}

func openDatabase(ctx context.Context, opts Options) (*sqlx.DB, error) {
	connect := opts.Connect
	if connect == nil {
		connect = coredatabase.Connect
	}
	db, err := connect(ctx, opts.Config.Database)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
	}

	migrate := opts.Migrate
	if migrate == nil {
		migrate = coredatabase.RunMigrations
	}
	if err := migrate(ctx, opts.Config.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
	}
	return db, nil
}

func buildSinks(cfg *coreconfig.Config, db *sqlx.DB) ([]audit.Sink, error) {
	var sinks []audit.Sink
	if cfg.Audit.YAMLDir != "" {
		loc, err := time.LoadLocation(cfg.Flow.Timezone)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: audit timezone: %w", err)
		}
		ys, err := audit.NewYAMLSink(cfg.Audit.YAMLDir, loc)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: audit yaml: %w", err)
		}
		sinks = append(sinks, ys)
	}
	if cfg.Audit.Database {
		if db == nil {
			return nil, fmt.Errorf("bootstrap: audit database without connection")
		}
		sinks = append(sinks, audit.NewSQLSink(db))
	}
	return sinks, nil
}

// NewRedisClient builds a go-redis client from the redis section.
func NewRedisClient(cfg coreconfig.RedisConfig) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func backendName(b string) string {
	if b == "" {
		return coreconfig.StoreMemory
	}
	return b
}
