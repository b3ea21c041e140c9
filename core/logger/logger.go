// Package logger is the structured slog setup shared by every component:
// one flat line per event (kv or json), component and event fields first,
// and the conversation correlation (rid, channel, user_key, step) taken from
// the context.
package logger

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/m3rciful/agendabot/core/buildinfo"
	coreconfig "github.com/m3rciful/agendabot/core/config"
)

var (
	initOnce sync.Once
	closeMu  sync.Mutex
	closed   bool

	out     *asyncWriter
	closers []io.Closer

	levelVar      slog.LevelVar
	debugSampler  = newRatioSampler(1, 50)
	traceOverride bool

	components sync.Map

	// L is the base logger. It stays nil until InitLogger runs, and every
	// helper in this package is a no-op while it is nil.
	L *slog.Logger
)

// settings is the logging section resolved into concrete values.
type settings struct {
	format  logFormat
	order   []string
	level   slog.Level
	num     int
	den     int
	profile string
	file    string
}

func resolve(cfg *coreconfig.Config) settings {
	s := settings{
		format:  formatJSON,
		order:   defaultKeyOrder,
		level:   slog.LevelInfo,
		num:     1,
		den:     50,
		profile: "prod",
	}
	if cfg == nil {
		return s
	}
	lc := cfg.Logging

	if p := strings.ToLower(strings.TrimSpace(lc.Profile)); p != "" {
		s.profile = p
	}
	switch strings.ToLower(strings.TrimSpace(lc.Format)) {
	case "kv", "text", "pretty":
		s.format = formatKV
	case "json":
	default:
		if s.profile == "debug" || s.profile == "dev" {
			s.format = formatKV
		}
	}

	if raw := strings.TrimSpace(lc.KeysOrder); raw != "" && raw != "default" {
		var order []string
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				order = append(order, k)
			}
		}
		if len(order) > 0 {
			s.order = order
		}
	}

	switch strings.ToLower(strings.TrimSpace(lc.Level)) {
	case "debug":
		s.level = slog.LevelDebug
	case "warn", "warning":
		s.level = slog.LevelWarn
	case "error":
		s.level = slog.LevelError
	}

	if spec := strings.TrimSpace(lc.DebugSample); spec != "" {
		switch n, d := parseRatioSpec(spec); {
		case n == 0 && d == 0:
			s.num, s.den = 0, 0
		case n > 0 && d > 0:
			s.num, s.den = n, d
		}
	}

	if dir, file := strings.TrimSpace(lc.Dir), strings.TrimSpace(lc.File); dir != "" && file != "" {
		s.file = filepath.Join(dir, file)
	}
	return s
}

// InitLogger configures the global structured logger. Only the first call has
// an effect.
func InitLogger(cfg *coreconfig.Config) error {
	initOnce.Do(func() {
		s := resolve(cfg)
		levelVar.Set(s.level)
		debugSampler.Set(s.num, s.den)
		traceOverride = envTruthy("TRACE") || envTruthy("LOG_TRACE")

		writers := []io.Writer{os.Stdout}
		if s.file != "" {
			f, ferr := openLogFile(s.file)
			if ferr != nil {
				// stdout keeps working; the file sink is best effort.
				log.Printf("logger: %v", ferr)
			} else {
				writers = append(writers, f)
				closers = append(closers, f)
			}
		}
		out = newAsyncWriter(writers, 64<<10, 256)

		L = slog.New(newStructuredHandler(handlerConfig{
			level:    &levelVar,
			writer:   out,
			format:   s.format,
			keyOrder: s.order,
		}))
		slog.SetDefault(L)
		logStartup(cfg, s)
	})
	return nil
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func logStartup(cfg *coreconfig.Config, s settings) {
	attrs := []slog.Attr{
		slog.String("go_version", runtime.Version()),
		slog.String("build_version", buildinfo.Version),
		slog.String("build_commit", buildinfo.Commit),
		slog.String("build_time", buildinfo.Date),
		slog.String("cfg_profile", s.profile),
	}
	if cfg != nil {
		attrs = append(attrs,
			slog.String("store", cfg.Store.Backend),
			slog.Bool("whatsapp", cfg.WhatsApp.Enabled),
			slog.Bool("telegram", cfg.Telegram.Enabled),
		)
	}
	Info(context.Background(), "app", "startup", attrs...)
}

// Shutdown flushes buffered output and closes the log file.
func Shutdown() error {
	closeMu.Lock()
	defer closeMu.Unlock()
	if closed {
		return nil
	}
	closed = true

	var errs []error
	if out != nil {
		errs = append(errs, out.Flush(), out.Close())
	}
	for _, c := range closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Component returns L scoped to name, or nil before InitLogger.
func Component(name string) *slog.Logger {
	if L == nil {
		return nil
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return L
	}
	if cached, ok := components.Load(name); ok {
		return cached.(*slog.Logger)
	}
	lg, _ := components.LoadOrStore(name, L.With("component", name))
	return lg.(*slog.Logger)
}

// LogEvent logs through lg (or the context logger) with the event attribute first.
func LogEvent(ctx context.Context, lg *slog.Logger, level slog.Level, event string, attrs ...slog.Attr) {
	if lg == nil {
		lg = FromContext(ctx)
	}
	if lg == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event != "" {
		attrs = append([]slog.Attr{slog.String("event", event)}, attrs...)
	}
	lg.LogAttrs(ctx, level, "", attrs...)
}

// Event logs one event for component at level.
func Event(ctx context.Context, component string, level slog.Level, event string, attrs ...slog.Attr) {
	lg := Component(component)
	if lg == nil {
		if lg = FromContext(ctx); lg != nil && component != "" {
			lg = lg.With("component", component)
		}
	}
	LogEvent(ctx, lg, level, event, attrs...)
}

func Debug(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelDebug, event, attrs...)
}

func Info(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelInfo, event, attrs...)
}

func Warn(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelWarn, event, attrs...)
}

func Error(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelError, event, attrs...)
}

// ShouldSampleDebug reports whether a high-volume debug line should be
// emitted. TRACE=1 lets every line through.
func ShouldSampleDebug() bool {
	return traceOverride || debugSampler.Allow()
}

func envTruthy(name string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}
