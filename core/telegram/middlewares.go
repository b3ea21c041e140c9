package telegram

import (
	"github.com/m3rciful/agendabot/core/ratelimit"
	"github.com/m3rciful/agendabot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// middlewareChain is applied in order with bot.Use: panic recovery first,
// then update logging, then the per-chat limiter when one is configured.
func middlewareChain(limiter *ratelimit.Keyed) []tele.MiddlewareFunc {
	chain := []tele.MiddlewareFunc{
		middleware.RecoverMiddleware,
		middleware.LoggerMiddleware,
	}
	if limiter != nil {
		chain = append(chain, middleware.RateLimitMiddleware(middleware.RateLimitOptions{Limiter: limiter}))
	}
	return chain
}
