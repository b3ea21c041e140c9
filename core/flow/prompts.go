package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/agendabot/core/conversation"
	"github.com/m3rciful/agendabot/core/logger"
	"github.com/m3rciful/agendabot/core/prompt"
)

// maxButtons is the largest option count sent as reply buttons.
const maxButtons = 3

func (e *Engine) welcome(ctx context.Context, key string, now time.Time, reset bool) error {
	m := e.content.Messages
	_, err := e.render.Render(ctx, key, prompt.Spec{
		Kind: conversation.KindWelcome,
		TTL:  e.set.PromptTTL,
		Body: m.Bienvenida,
		Options: []prompt.Option{
			{Value: valueYes, Title: m.BotonSi},
			{Value: valueNo, Title: m.BotonNo},
		},
		Update: func(s *conversation.State) {
			if reset {
				*s = conversation.Reset(*s, now)
			}
			s.Step = conversation.StepAskConfirm
		},
	})
	return err
}

// offerBuckets fetches the buckets of the default agenda and asks for one.
// With reset the conversation starts over in the same write.
func (e *Engine) offerBuckets(ctx context.Context, key string, st conversation.State, now time.Time, reset bool) (result, error) {
	m := e.content.Messages
	agenda := e.set.DefaultAgenda

	raw, err := e.gateway.ListBuckets(ctx, agenda)
	if err != nil {
		logger.Warn(ctx, "flow", "flow.buckets",
			slog.String("status", "fail"),
			slog.String("agenda", agenda),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.String("err_code", logger.ErrorCode(err)),
		)
		if reset {
			if err := e.store.Replace(ctx, key, conversation.Reset(st, now)); err != nil {
				return resFail, fmt.Errorf("flow: reset: %w", err)
			}
		}
		return resFail, e.render.Text(ctx, key, m.ErrorGeneral)
	}

	buckets := uniqueTrimmed(raw)
	if len(buckets) == 0 {
		if err := e.store.Replace(ctx, key, conversation.Reset(st, now)); err != nil {
			return resFail, fmt.Errorf("flow: reset: %w", err)
		}
		return resOK, e.render.Text(ctx, key, m.SinAgendas)
	}

	opts := make([]prompt.Option, len(buckets))
	for i, b := range buckets {
		opts[i] = prompt.Option{Value: b, Title: b}
	}
	_, err = e.render.Render(ctx, key, prompt.Spec{
		Kind:         conversation.KindBucket,
		TTL:          e.set.PromptTTL,
		Body:         m.ElegirAgenda,
		Options:      opts,
		AsList:       len(opts) > maxButtons,
		ButtonLabel:  m.AgendasBoton,
		SectionTitle: m.AgendasSection,
		Update: func(s *conversation.State) {
			if reset {
				*s = conversation.Reset(*s, now)
			}
			s.Step = conversation.StepAwaitBucket
			s.Agenda = agenda
			s.Buckets = buckets
		},
	})
	return resOK, err
}

func (e *Engine) askDate(ctx context.Context, key string, update func(*conversation.State)) error {
	m := e.content.Messages
	_, err := e.render.Render(ctx, key, prompt.Spec{
		Kind: conversation.KindDateMode,
		TTL:  e.set.PromptTTL,
		Body: m.PedirFechaBotones,
		Options: []prompt.Option{
			{Value: valueToday, Title: m.BotonHoy},
			{Value: valueTomorrow, Title: m.BotonManana},
			{Value: valuePickWeek, Title: m.BotonElegirDia},
		},
		Update: update,
	})
	return err
}

// pickWeek lists the next seven days starting today, plus a manual-entry row.
func (e *Engine) pickWeek(ctx context.Context, key string, now time.Time) error {
	m := e.content.Messages
	today := now.In(e.set.Location)
	opts := make([]prompt.Option, 0, 8)
	for i := 0; i < 7; i++ {
		d := today.AddDate(0, 0, i)
		opts = append(opts, prompt.Option{
			Value:       d.Format(isoDateLayout),
			Title:       fmt.Sprintf("%s %02d-%02d", e.content.Weekdays[d.Weekday()], d.Day(), int(d.Month())),
			Description: d.Format(isoDateLayout),
		})
	}
	opts = append(opts, prompt.Option{
		Value:       valueOtherDate,
		Title:       m.OtraFechaTitulo,
		Description: m.OtraFechaDescripcion,
	})
	_, err := e.render.Render(ctx, key, prompt.Spec{
		Kind:         conversation.KindDatePick,
		TTL:          e.set.PromptTTL,
		Body:         m.PedirFechaLista,
		Options:      opts,
		AsList:       true,
		ButtonLabel:  m.FechaListaBoton,
		SectionTitle: m.FechaListaSection,
	})
	return err
}

func (e *Engine) offerSlots(ctx context.Context, key, ymd string, slots []conversation.Slot, update func(*conversation.State)) error {
	m := e.content.Messages
	opts := make([]prompt.Option, len(slots))
	for i, s := range slots {
		date, clock := slotClock(s.Start)
		opts[i] = prompt.Option{Value: s.EventID, Title: clock, Description: date}
	}
	_, err := e.render.Render(ctx, key, prompt.Spec{
		Kind:         conversation.KindSlotPick,
		TTL:          e.set.PromptTTL,
		Body:         fill(m.SlotsTitle, ymd, "", ""),
		Options:      opts,
		AsList:       true,
		ButtonLabel:  m.SlotsButton,
		SectionTitle: m.SlotsSection,
		Update:       update,
	})
	return err
}

func (e *Engine) afterMenu(ctx context.Context, key string) error {
	m := e.content.Messages
	_, err := e.render.Render(ctx, key, prompt.Spec{
		Kind: conversation.KindAfterMenu,
		TTL:  e.set.MenuTTL,
		Body: m.NecesitasAlgoMas,
		Options: []prompt.Option{
			{Value: valueBookAnother, Title: m.BotonAgendarOtra},
			{Value: valueExit, Title: m.BotonSalir},
		},
		Update: func(s *conversation.State) {
			s.Step = conversation.StepAfterConfirm
		},
	})
	return err
}
