package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/m3rciful/agendabot/core/logger"
	"github.com/m3rciful/agendabot/core/prompt"
	tghelpers "github.com/m3rciful/agendabot/core/telegram/helpers"
	"github.com/m3rciful/agendabot/core/telegram/keyboard"

	tele "gopkg.in/telebot.v4"
)

// Channel names Telegram events in logs and transcripts.
const Channel = tghelpers.Channel

// maxButtonText keeps inline button labels readable on phones.
const maxButtonText = 64

// UserKey returns the conversation key of a chat.
func UserKey(chatID int64) string {
	return tghelpers.ChatKey(chatID)
}

// ChatID parses a key built by UserKey.
func ChatID(key string) (int64, error) {
	raw, ok := strings.CutPrefix(key, tghelpers.KeyPrefix)
	if !ok {
		return 0, fmt.Errorf("telegram: key %q is not a chat key", key)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: key %q: %w", key, err)
	}
	return id, nil
}

// messenger is the part of *tele.Bot the transport needs.
type messenger interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Transport renders prompts as messages with inline keyboards. Callback data
// carries the interaction id unchanged.
type Transport struct {
	bot messenger
}

var _ prompt.Transport = (*Transport)(nil)

// NewTransport sends through bot.
func NewTransport(bot messenger) *Transport {
	return &Transport{bot: bot}
}

func (t *Transport) SendText(ctx context.Context, to, body string) error {
	return t.send(ctx, "text", to, body, nil)
}

// SendButtons puts all reply buttons on a single row.
func (t *Transport) SendButtons(ctx context.Context, to, body string, buttons []prompt.Button) error {
	btns := make([]keyboard.InlineBtn, 0, len(buttons))
	for _, b := range buttons {
		btns = append(btns, keyboard.InlineBtn{Text: label(b.Title, ""), Data: b.ID})
	}
	return t.send(ctx, "buttons", to, body, btns)
}

// SendList renders one button per row; the description follows the title.
func (t *Transport) SendList(ctx context.Context, to string, list prompt.List) error {
	btns := make([]keyboard.InlineBtn, 0, len(list.Rows))
	for _, r := range list.Rows {
		btns = append(btns, keyboard.InlineBtn{Text: label(r.Title, r.Description), Data: r.ID})
	}
	body := list.Body
	if list.SectionTitle != "" {
		body += "\n\n" + list.SectionTitle + ":"
	}
	return t.send(ctx, "list", to, body, btns)
}

func (t *Transport) send(ctx context.Context, kind, to, body string, btns []keyboard.InlineBtn) (err error) {
	start := time.Now()
	defer func() {
		attrs := []slog.Attr{
			slog.String("status", logger.Status(err)),
			slog.String("kind", kind),
			slog.Int("buttons", len(btns)),
			slog.Duration("duration", logger.Took(start)),
		}
		if err != nil {
			attrs = append(attrs,
				slog.String("err", sanitizeErrorMessage(err)),
				slog.String("err_code", logger.ErrorCode(err)),
				slog.String("error_kind", classifyError(err)),
			)
			logger.Error(ctx, "tg", "tg.send", attrs...)
			return
		}
		if logger.ShouldSampleDebug() {
			logger.Debug(ctx, "tg", "tg.send", attrs...)
		}
	}()

	chatID, err := ChatID(to)
	if err != nil {
		return err
	}
	opts := &tele.SendOptions{}
	if len(btns) > 0 {
		if b, ok := keyboard.Oversized(btns); ok {
			return fmt.Errorf("telegram: callback data of %q exceeds %d bytes", b.Text, keyboard.MaxCallbackData)
		}
		n := 1
		if kind == "buttons" {
			n = len(btns)
		}
		opts.ReplyMarkup = keyboard.InlineButtonsNPerRow(btns, n)
	}
	if _, err := t.bot.Send(tele.ChatID(chatID), body, opts); err != nil {
		return fmt.Errorf("telegram: send %s: %w", kind, err)
	}
	return nil
}

func label(title, description string) string {
	s := strings.TrimSpace(title)
	if d := strings.TrimSpace(description); d != "" {
		s += " · " + d
	}
	if utf8.RuneCountInString(s) <= maxButtonText {
		return s
	}
	r := []rune(s)
	return string(r[:maxButtonText-1]) + "…"
}
