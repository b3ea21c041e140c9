package helpers

import (
	"context"
	"strconv"

	"github.com/m3rciful/agendabot/core/logger"

	tele "gopkg.in/telebot.v4"
)

const (
	contextKey = "logger_ctx"

	// Channel names Telegram events in logs and transcripts.
	Channel = "tg"
	// KeyPrefix keeps chat ids apart from WhatsApp phone numbers in the shared store.
	KeyPrefix = "tg"
)

// ChatKey returns the conversation key of a chat.
func ChatKey(chatID int64) string {
	return KeyPrefix + strconv.FormatInt(chatID, 10)
}

// StoreContext attaches reusable context to tele.Context for downstream handlers.
func StoreContext(c tele.Context, ctx context.Context) {
	if c == nil || ctx == nil {
		return
	}
	c.Set(contextKey, ctx)
}

// ContextFrom returns the context stored by StoreContext.
func ContextFrom(c tele.Context) (context.Context, bool) {
	if c == nil {
		return nil, false
	}
	if ctx, ok := c.Get(contextKey).(context.Context); ok {
		return ctx, true
	}
	return nil, false
}

// UserKey returns the conversation key of the update's chat, or "" when the
// update has no chat.
func UserKey(c tele.Context) string {
	chat := c.Chat()
	if chat == nil {
		return ""
	}
	return ChatKey(chat.ID)
}

// BuildContext constructs a context.Context from tele.Context, enriching it
// with rid and event metadata so service logs correlate with the update.
func BuildContext(c tele.Context) context.Context {
	if cached, ok := ContextFrom(c); ok {
		return cached
	}
	ts := int64(c.Update().ID)
	key := UserKey(c)

	ctx := logger.WithEventMeta(context.Background(), Channel, key, ts)
	ctx = logger.WithRID(ctx, logger.BuildRID(Channel, key, ts))
	ctx = logger.WithTrace(ctx, strconv.Itoa(c.Update().ID))
	StoreContext(c, ctx)
	return ctx
}
