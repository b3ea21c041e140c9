package middleware

import (
	"log/slog"
	"time"

	"github.com/m3rciful/agendabot/core/logger"
	tghelpers "github.com/m3rciful/agendabot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// LoggerMiddleware builds the update context (rid, channel, user key, ts),
// logs one sampled receipt line and one completion line per update.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		start := time.Now()
		ctx := tghelpers.BuildContext(c)
		upd := c.Update()

		if logger.ShouldSampleDebug() {
			attrs := []slog.Attr{
				slog.String("status", "ok"),
				slog.Int("update_id", upd.ID),
			}
			switch {
			case upd.Callback != nil:
				attrs = append(attrs,
					slog.String("kind", "callback"),
					slog.String("payload", logger.SanitizeLimit(upd.Callback.Data, 128)),
				)
			case upd.Message != nil:
				attrs = append(attrs,
					slog.String("kind", "message"),
					slog.String("payload", logger.SanitizeLimit(c.Text(), 256)),
				)
			}
			if user := c.Sender(); user != nil && user.LanguageCode != "" {
				attrs = append(attrs, slog.String("lang", user.LanguageCode))
			}
			logger.Debug(ctx, "tg", "update.received", attrs...)
		}

		err := next(c)
		attrs := []slog.Attr{
			slog.String("status", logger.Status(err)),
			slog.Duration("duration", logger.Took(start)),
		}
		if err != nil {
			attrs = append(attrs, slog.String("err", logger.SanitizeLimit(err.Error(), 256)))
			logger.Warn(ctx, "tg", "update.done", attrs...)
			return err
		}
		if logger.ShouldSampleDebug() {
			logger.Debug(ctx, "tg", "update.done", attrs...)
		}
		return nil
	}
}
