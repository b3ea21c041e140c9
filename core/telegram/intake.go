package telegram

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/m3rciful/agendabot/core/flow"
	"github.com/m3rciful/agendabot/core/logger"
	"github.com/m3rciful/agendabot/core/queue"
	tghelpers "github.com/m3rciful/agendabot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// Submitter accepts inbound events. *flow.Engine implements it.
type Submitter interface {
	Submit(ctx context.Context, ev flow.Event) (<-chan queue.Result, error)
}

// Intake turns text messages and callback queries into flow events keyed by
// chat. The update id is the ordering timestamp.
type Intake struct {
	engine Submitter
}

// NewIntake submits events to engine.
func NewIntake(engine Submitter) *Intake {
	return &Intake{engine: engine}
}

// OnText handles tele.OnText.
func (in *Intake) OnText(c tele.Context) error {
	return in.submit(c, strings.TrimSpace(c.Text()))
}

// OnCallback handles tele.OnCallback. The query is answered right away; the
// reply comes as a new message.
func (in *Intake) OnCallback(c tele.Context) error {
	cb := c.Callback()
	if cb == nil {
		return nil
	}
	_ = c.Respond()
	return in.submit(c, cb.Data)
}

func (in *Intake) submit(c tele.Context, raw string) error {
	key := tghelpers.UserKey(c)
	if key == "" {
		return nil
	}
	ctx := tghelpers.BuildContext(c)
	ev := flow.Event{
		Channel: Channel,
		UserKey: key,
		Raw:     raw,
		TS:      int64(c.Update().ID),
		TraceID: strconv.Itoa(c.Update().ID),
	}
	if _, err := in.engine.Submit(ctx, ev); err != nil {
		logger.Error(ctx, "tg", "tg.submit",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return err
	}
	return nil
}
