package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	coreconfig "github.com/m3rciful/agendabot/core/config"
	"github.com/m3rciful/agendabot/core/logger"
	"github.com/m3rciful/agendabot/core/netutil"
	"github.com/m3rciful/agendabot/core/prompt"
	"github.com/m3rciful/agendabot/core/ratelimit"
	tghelpers "github.com/m3rciful/agendabot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

const defaultLongPoll = 10 * time.Second

// RunOptions wires the Telegram channel into the shared engine.
type RunOptions struct {
	Config *coreconfig.Config
	Engine Submitter
	// Register receives the bot transport before any update is handled.
	Register func(channel string, t prompt.Transport)
	Limiter  *ratelimit.Keyed

	// KeepWebhook skips the deleteWebhook call made before long polling.
	KeepWebhook bool
}

// RunTelegram starts the bot and blocks until ctx is done.
func RunTelegram(ctx context.Context, opts RunOptions) error {
	switch {
	case opts.Config == nil:
		return errors.New("telegram: nil config")
	case opts.Engine == nil:
		return errors.New("telegram: nil engine")
	}
	tg := opts.Config.Telegram

	began := time.Now()
	poller, mode := newPoller(opts.Config)
	bot, err := tele.NewBot(tele.Settings{
		Token:   tg.Token,
		Poller:  poller,
		Client:  pollingClient(tg.LongPollTimeoutSeconds),
		OnError: reportError,
	})
	if err != nil {
		return fmt.Errorf("telegram: new bot: %s", sanitizeErrorMessage(err))
	}
	logger.Info(ctx, "tg", "tg.mode", append(mode, slog.Duration("duration", logger.Took(began)))...)

	if _, polling := poller.(*tele.LongPoller); polling && !opts.KeepWebhook {
		if err := bot.RemoveWebhook(false); err != nil {
			logger.Warn(ctx, "tg", "tg.delete_webhook",
				slog.String("status", "fail"),
				slog.String("err", sanitizeErrorMessage(err)),
			)
		}
	}

	if opts.Register != nil {
		opts.Register(Channel, NewTransport(bot))
	}
	bot.Use(middlewareChain(opts.Limiter)...)
	intake := NewIntake(opts.Engine)
	bot.Handle(tele.OnText, intake.OnText)
	bot.Handle(tele.OnCallback, intake.OnCallback)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		bot.Start()
	}()
	select {
	case <-ctx.Done():
		bot.Stop()
		<-stopped
	case <-stopped:
	}
	return nil
}

// newPoller picks the update source for the configured run mode and returns
// the attributes describing it.
func newPoller(cfg *coreconfig.Config) (tele.Poller, []slog.Attr) {
	if cfg.Telegram.RunMode == coreconfig.RunModeWebhook {
		wh := cfg.Webhook
		listen := net.JoinHostPort(wh.Listen, strconv.Itoa(wh.Port))
		poller := &tele.Webhook{
			Listen:   listen,
			Endpoint: &tele.WebhookEndpoint{PublicURL: wh.URL},
		}
		return poller, []slog.Attr{
			slog.String("mode", coreconfig.RunModeWebhook),
			slog.String("listen", listen),
			slog.String("public_url", wh.URL),
		}
	}
	timeout := longPollTimeout(cfg.Telegram.LongPollTimeoutSeconds)
	poller := &tele.LongPoller{
		Timeout:        timeout,
		AllowedUpdates: []string{"message", "callback_query"},
	}
	return poller, []slog.Attr{
		slog.String("mode", coreconfig.RunModeLongpoll),
		slog.Duration("timeout", timeout),
	}
}

func longPollTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		return defaultLongPoll
	}
	return time.Duration(seconds) * time.Second
}

// pollingClient outlives one long poll so getUpdates is never cut short.
func pollingClient(seconds int) *http.Client {
	poll := longPollTimeout(seconds)
	return netutil.NewHTTPClient(netutil.ClientOptions{
		Timeout:        poll + 20*time.Second,
		ResponseHeader: poll + 10*time.Second,
	})
}

func reportError(err error, c tele.Context) {
	ctx := context.Background()
	if c != nil {
		ctx = tghelpers.BuildContext(c)
	}
	logger.Error(ctx, "tg", "tg.error",
		slog.String("err", sanitizeErrorMessage(err)),
		slog.String("error_kind", classifyError(err)),
	)
}
