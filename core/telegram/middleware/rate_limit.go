package middleware

import (
	"log/slog"

	"github.com/m3rciful/agendabot/core/logger"
	"github.com/m3rciful/agendabot/core/ratelimit"
	tghelpers "github.com/m3rciful/agendabot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// RateLimitOptions configures behaviour of the rate limit middleware.
type RateLimitOptions struct {
	Limiter   *ratelimit.Keyed
	OnLimited tele.HandlerFunc
}

// RateLimitMiddleware drops updates of a chat that exceeds its token bucket.
// Limited callback queries are still answered so the client stops spinning.
func RateLimitMiddleware(opts RateLimitOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			key := tghelpers.UserKey(c)
			if key == "" || opts.Limiter.Allow(key) {
				return next(c)
			}
			logger.Warn(tghelpers.BuildContext(c), "tg", "tg.rate_limit",
				slog.String("status", "rate_limited"),
			)
			if c.Callback() != nil {
				_ = c.Respond()
			}
			if opts.OnLimited != nil {
				return opts.OnLimited(c)
			}
			return nil
		}
	}
}
