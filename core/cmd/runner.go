package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m3rciful/agendabot/core/audit"
	"github.com/m3rciful/agendabot/core/booking"
	"github.com/m3rciful/agendabot/core/bootstrap"
	coreconfig "github.com/m3rciful/agendabot/core/config"
	"github.com/m3rciful/agendabot/core/flow"
	"github.com/m3rciful/agendabot/core/logger"
	"github.com/m3rciful/agendabot/core/prompt"
	"github.com/m3rciful/agendabot/core/ratelimit"
	coretelegram "github.com/m3rciful/agendabot/core/telegram"
	"github.com/m3rciful/agendabot/core/whatsapp"

	"golang.org/x/sync/errgroup"
)

// Options describe how to load configuration, bootstrap infrastructure and
// run the enabled channels. Nil hooks use the real implementations.
type Options struct {
	ConfigEnvVar      string
	DefaultConfigPath string

	LoadConfig     func(path string) (*coreconfig.Config, error)
	Bootstrap      func(ctx context.Context, opts bootstrap.Options) (*bootstrap.Result, error)
	ShutdownLogger func() error
	RunTelegram    func(ctx context.Context, opts coretelegram.RunOptions) error

	// Gateway replaces the HTTP booking client.
	Gateway booking.Gateway
}

// App holds the wired booking engine and its collaborators.
type App struct {
	Config     *coreconfig.Config
	Engine     *flow.Engine
	Mux        *prompt.Mux
	Recorder   *audit.Recorder
	Dispatcher *audit.Dispatcher
	Limiter    *ratelimit.Keyed
}

// Run loads configuration, bootstraps infrastructure and serves every
// enabled channel until SIGINT or SIGTERM.
func Run(opts Options) error {
	cfgPath, err := ConfigPath(opts.ConfigEnvVar, opts.DefaultConfigPath)
	if err != nil {
		return err
	}

	load := opts.LoadConfig
	if load == nil {
		load = coreconfig.Load
	}
	log.Printf("loading config: %s", cfgPath)
	cfg, err := load(cfgPath)
	if err != nil {
		return fmt.Errorf("cmd: failed to load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	boot := opts.Bootstrap
	if boot == nil {
		boot = bootstrap.Run
	}
	startedAt := time.Now()
	infra, err := boot(ctx, bootstrap.Options{Config: cfg})
	if err != nil {
		return fmt.Errorf("cmd: bootstrap failed: %w", err)
	}

	shutdownLogger := opts.ShutdownLogger
	if shutdownLogger == nil {
		shutdownLogger = logger.Shutdown
	}
	defer func() {
		if err := shutdownLogger(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()
	defer func() {
		if err := infra.Close(); err != nil {
			logger.Warn(context.Background(), "app", "infra.close", slog.String("status", "fail"), slog.String("err", err.Error()))
		}
	}()

	app, err := Build(cfg, infra, opts.Gateway)
	if err != nil {
		return fmt.Errorf("cmd: build failed: %w", err)
	}
	defer app.Dispatcher.Close()

	runTelegram := opts.RunTelegram
	if runTelegram == nil {
		runTelegram = coretelegram.RunTelegram
	}

	logger.Info(ctx, "app", "ready",
		slog.Bool("whatsapp", cfg.WhatsApp.Enabled),
		slog.Bool("telegram", cfg.Telegram.Enabled),
		slog.Duration("startup_duration", logger.Took(startedAt)),
	)
	serveErr := app.Serve(ctx, runTelegram)

	logger.Info(context.Background(), "app", "shutdown")
	grace := time.Duration(cfg.Flow.ShutdownGraceSeconds) * time.Second
	closeCtx, closeCancel := context.WithTimeout(context.Background(), grace)
	defer closeCancel()
	if err := app.Engine.Close(closeCtx); err != nil {
		logger.Warn(closeCtx, "app", "engine.close", slog.String("status", logger.Status(err)), slog.String("err", err.Error()))
	}
	return serveErr
}

// ConfigPath resolves the config file from env or the default path.
func ConfigPath(envVar, fallback string) (string, error) {
	if envVar == "" {
		envVar = "CONFIG_PATH"
	}
	p := os.Getenv(envVar)
	if p == "" {
		p = fallback
	}
	if p == "" {
		return "", fmt.Errorf("cmd: config path not provided via %s or DefaultConfigPath", envVar)
	}
	return p, nil
}

// Build wires the engine, the channel mux and the audit pipeline. A nil
// gateway selects the HTTP booking client.
func Build(cfg *coreconfig.Config, infra *bootstrap.Result, gateway booking.Gateway) (*App, error) {
	if cfg == nil || infra == nil || infra.Store == nil {
		return nil, fmt.Errorf("cmd: config and store are required")
	}
	settings, err := flow.SettingsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	content, err := loadContent(cfg.Flow.ContentPath)
	if err != nil {
		return nil, err
	}
	if gateway == nil {
		gateway = booking.NewClient(cfg.Booking.BaseURL, nil, time.Duration(cfg.Booking.TimeoutSeconds)*time.Second)
	}

	dispatcher := audit.NewDispatcher(audit.Options{
		QueueSize:  cfg.Audit.Queue,
		Workers:    cfg.Audit.Workers,
		MaxRetries: 3,
	})
	rec := audit.NewRecorder(dispatcher, nil, infra.Sinks...)

	mux := prompt.NewMux()
	engine, err := flow.NewEngine(flow.Options{
		Store:     infra.Store,
		Gateway:   gateway,
		Transport: mux,
		Content:   content,
		Settings:  settings,
		Recorder:  rec,
	})
	if err != nil {
		dispatcher.Close()
		return nil, err
	}

	return &App{
		Config:     cfg,
		Engine:     engine,
		Mux:        mux,
		Recorder:   rec,
		Dispatcher: dispatcher,
		Limiter:    ratelimit.FromConfig(cfg.RateLimit),
	}, nil
}

func loadContent(path string) (*flow.Content, error) {
	if path == "" {
		return flow.DefaultContent()
	}
	return flow.LoadContent(path)
}

// Serve runs the enabled channels until ctx ends or one of them fails.
func (a *App) Serve(ctx context.Context, runTelegram func(context.Context, coretelegram.RunOptions) error) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.Config.WhatsApp.Enabled {
		wa := a.Config.WhatsApp
		a.Mux.Register(whatsapp.Channel, a.Recorder.Transport(whatsapp.NewClient(wa, nil)))
		srv := whatsapp.NewServer(whatsapp.ServerOptions{
			VerifyToken: wa.VerifyToken,
			AppSecret:   wa.AppSecret,
			Path:        wa.WebhookPath,
			Engine:      a.Engine,
			Limiter:     a.Limiter,
		})
		g.Go(func() error {
			return srv.Run(gctx, wa.Listen)
		})
	}

	if a.Config.Telegram.Enabled {
		g.Go(func() error {
			return runTelegram(gctx, coretelegram.RunOptions{
				Config: a.Config,
				Engine: a.Engine,
				Register: func(channel string, t prompt.Transport) {
					a.Mux.Register(channel, a.Recorder.Transport(t))
				},
				Limiter: a.Limiter,
			})
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
