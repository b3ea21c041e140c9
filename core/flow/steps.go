package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/agendabot/core/booking"
	"github.com/m3rciful/agendabot/core/conversation"
	"github.com/m3rciful/agendabot/core/intent"
	"github.com/m3rciful/agendabot/core/logger"
)

// Option values carried by interaction ids.
const (
	valueYes         = "SI"
	valueNo          = "NO"
	valueToday       = "TODAY"
	valueTomorrow    = "TOMORROW"
	valuePickWeek    = "PICK_WEEK"
	valueOtherDate   = "OTRA_FECHA"
	valueBookAnother = "AGENDAR_OTRA"
	valueExit        = "SALIR"
)

func (e *Engine) onConfirm(ctx context.Context, key string, st conversation.State, in input, now time.Time) (result, error) {
	if !in.isID {
		switch in.intent {
		case intent.Yes:
			return e.offerBuckets(ctx, key, st, now, false)
		case intent.No:
			return e.reject(ctx, key, st, now)
		}
		return resRerendered, e.welcome(ctx, key, now, false)
	}
	if !e.answers(ctx, st, in, conversation.KindWelcome, now) {
		return resIgnored, nil
	}
	switch in.id.Value {
	case valueYes:
		return e.offerBuckets(ctx, key, st, now, false)
	case valueNo:
		return e.reject(ctx, key, st, now)
	}
	return resIgnored, nil
}

func (e *Engine) reject(ctx context.Context, key string, st conversation.State, now time.Time) (result, error) {
	if err := e.store.Replace(ctx, key, conversation.Reset(st, now)); err != nil {
		return resFail, fmt.Errorf("flow: reset: %w", err)
	}
	err := e.render.Text(ctx, key, e.content.Messages.Rechazo)
	e.rec.Outcome(ctx, key, OutcomeRejected)
	return resOK, err
}

func (e *Engine) onBucket(ctx context.Context, key string, st conversation.State, in input, now time.Time) (result, error) {
	if !in.isID {
		res, err := e.offerBuckets(ctx, key, st, now, false)
		if res == resOK {
			res = resRerendered
		}
		return res, err
	}
	if !e.answers(ctx, st, in, conversation.KindBucket, now) {
		return resIgnored, nil
	}

	bucket := strings.TrimSpace(in.id.Value)
	if bucket == "" || !st.HasBucket(bucket) {
		if err := e.render.Text(ctx, key, e.content.Messages.BucketInvalido); err != nil {
			return resFail, err
		}
		_, err := e.offerBuckets(ctx, key, st, now, false)
		return resInvalid, err
	}

	agenda := e.agendaOf(st)
	err := e.store.Patch(ctx, key, func(s *conversation.State) {
		s.Step = conversation.StepAwaitName
		s.Agenda = agenda
		s.Bucket = bucket
		s.Expected = nil
		s.Name = ""
		s.Date = ""
		s.EventID = ""
		s.Slots = nil
	})
	if err != nil {
		return resFail, fmt.Errorf("flow: store bucket: %w", err)
	}
	return resOK, e.render.Text(ctx, key, e.content.Messages.PedirNombre)
}

func (e *Engine) onName(ctx context.Context, key string, in input) (result, error) {
	if in.isID {
		return resIgnored, nil
	}
	name, ok := ValidateName(in.raw)
	if !ok {
		return resInvalid, e.render.Text(ctx, key, e.content.Messages.NombreInvalido)
	}
	return resOK, e.askDate(ctx, key, func(s *conversation.State) {
		s.Step = conversation.StepAwaitDate
		s.Name = name
	})
}

func (e *Engine) onDate(ctx context.Context, key string, st conversation.State, in input, now time.Time) (result, error) {
	m := e.content.Messages
	if !in.isID {
		ymd, ok := ParseManualDate(in.raw)
		if !ok {
			return resInvalid, e.render.Text(ctx, key, m.FechaInvalida)
		}
		return e.search(ctx, key, st, ymd)
	}

	kind, _ := in.id.Kind()
	switch kind {
	case conversation.KindDateMode:
		if !e.answers(ctx, st, in, conversation.KindDateMode, now) {
			return resIgnored, nil
		}
		today := now.In(e.set.Location)
		switch in.id.Value {
		case valueToday:
			return e.search(ctx, key, st, today.Format(isoDateLayout))
		case valueTomorrow:
			return e.search(ctx, key, st, today.AddDate(0, 0, 1).Format(isoDateLayout))
		case valuePickWeek:
			return resOK, e.pickWeek(ctx, key, now)
		}
	case conversation.KindDatePick:
		if !e.answers(ctx, st, in, conversation.KindDatePick, now) {
			return resIgnored, nil
		}
		if in.id.Value == valueOtherDate {
			if err := e.store.Patch(ctx, key, func(s *conversation.State) { s.Expected = nil }); err != nil {
				return resFail, fmt.Errorf("flow: clear expectation: %w", err)
			}
			return resOK, e.render.Text(ctx, key, m.PedirFechaManual)
		}
		if !validISODate(in.id.Value) {
			return resInvalid, e.render.Text(ctx, key, m.FechaInvalida)
		}
		return e.search(ctx, key, st, in.id.Value)
	}
	return resIgnored, nil
}

func (e *Engine) onSlot(ctx context.Context, key string, st conversation.State, in input, now time.Time) (result, error) {
	if !in.isID {
		return resRerendered, e.resumeSlots(ctx, key, st)
	}
	if !e.answers(ctx, st, in, conversation.KindSlotPick, now) {
		return resIgnored, nil
	}

	slot, found := st.FindSlot(strings.TrimSpace(in.id.Value))
	if !found {
		if err := e.render.Text(ctx, key, e.content.Messages.SlotInvalido); err != nil {
			return resFail, err
		}
		return resInvalid, e.resumeSlots(ctx, key, st)
	}

	err := e.store.Patch(ctx, key, func(s *conversation.State) {
		s.Step = conversation.StepAwaitEmail
		s.EventID = slot.EventID
		s.Expected = nil
	})
	if err != nil {
		return resFail, fmt.Errorf("flow: store slot: %w", err)
	}
	return resOK, e.render.Text(ctx, key, e.content.Messages.PedirEmail)
}

// resumeSlots re-sends the stored slot list, or falls back to the date
// question when nothing is stored.
func (e *Engine) resumeSlots(ctx context.Context, key string, st conversation.State) error {
	if st.Date != "" && len(st.Slots) > 0 {
		return e.offerSlots(ctx, key, st.Date, st.Slots, nil)
	}
	return e.askDate(ctx, key, func(s *conversation.State) {
		s.Step = conversation.StepAwaitDate
		s.Slots = nil
	})
}

func (e *Engine) onEmail(ctx context.Context, key string, st conversation.State, in input) (result, error) {
	if in.isID {
		return resIgnored, nil
	}
	if in.intent == intent.No {
		return e.reserve(ctx, key, st, "")
	}
	email, ok := ValidateEmail(in.raw)
	if !ok {
		return resInvalid, e.render.Text(ctx, key, e.content.Messages.EmailInvalido)
	}
	return e.reserve(ctx, key, st, email)
}

func (e *Engine) onAfterConfirm(ctx context.Context, key string, st conversation.State, in input, now time.Time) (result, error) {
	if !in.isID {
		return resRerendered, e.afterMenu(ctx, key)
	}
	if !e.answers(ctx, st, in, conversation.KindAfterMenu, now) {
		return resIgnored, nil
	}
	switch in.id.Value {
	case valueBookAnother:
		return e.offerBuckets(ctx, key, st, now, false)
	case valueExit:
		if err := e.store.Replace(ctx, key, conversation.Reset(st, now)); err != nil {
			return resFail, fmt.Errorf("flow: reset: %w", err)
		}
		err := e.render.Text(ctx, key, e.content.Messages.Despedida)
		e.rec.Outcome(ctx, key, OutcomeExited)
		return resOK, err
	}
	return resRerendered, e.afterMenu(ctx, key)
}

// search looks up the slots of ymd and either lists them or asks for another day.
func (e *Engine) search(ctx context.Context, key string, st conversation.State, ymd string) (result, error) {
	m := e.content.Messages
	if err := e.render.Text(ctx, key, fill(m.Buscando, ymd, "", "")); err != nil {
		return resFail, err
	}

	day, err := time.ParseInLocation(isoDateLayout, ymd, e.set.Location)
	if err != nil {
		return resInvalid, e.render.Text(ctx, key, m.FechaInvalida)
	}
	end := time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 59, 0, e.set.Location)

	found, err := e.gateway.ListSlots(ctx, booking.SlotQuery{
		Agenda:     e.agendaOf(st),
		TimeMin:    day.Format(time.RFC3339),
		TimeMax:    end.Format(time.RFC3339),
		MaxResults: e.set.SearchMaxResults,
	})
	if err != nil {
		logger.Warn(ctx, "flow", "flow.search",
			slog.String("status", "fail"),
			slog.String("date", ymd),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.String("err_code", logger.ErrorCode(err)),
		)
		if err := e.render.Text(ctx, key, m.ErrorGeneral); err != nil {
			return resFail, err
		}
		return resFail, e.askDate(ctx, key, func(s *conversation.State) {
			s.Step = conversation.StepAwaitDate
			s.Date = ymd
			s.Slots = nil
		})
	}

	slots := filterSlots(found, st.Bucket, e.set.MaxSlots)
	if len(slots) == 0 {
		if err := e.render.Text(ctx, key, fill(m.SinHorarios, ymd, "", "")); err != nil {
			return resFail, err
		}
		return resOK, e.askDate(ctx, key, func(s *conversation.State) {
			s.Step = conversation.StepAwaitDate
			s.Date = ymd
			s.Slots = nil
		})
	}

	return resOK, e.offerSlots(ctx, key, ymd, slots, func(s *conversation.State) {
		s.Step = conversation.StepAwaitSlotChoice
		s.Date = ymd
		s.EventID = ""
		s.Slots = slots
	})
}

// filterSlots keeps the slots of bucket (all of them when bucket is empty)
// up to limit, in gateway order.
func filterSlots(found []booking.Slot, bucket string, limit int) []conversation.Slot {
	bucket = strings.TrimSpace(bucket)
	out := make([]conversation.Slot, 0, min(len(found), limit))
	for _, s := range found {
		if len(out) == limit {
			break
		}
		if bucket != "" && strings.TrimSpace(s.Bucket) != bucket {
			continue
		}
		out = append(out, conversation.Slot{EventID: s.EventID, Start: s.Start, Bucket: s.Bucket})
	}
	return out
}

func (e *Engine) reserve(ctx context.Context, key string, st conversation.State, email string) (result, error) {
	m := e.content.Messages
	if err := e.render.Text(ctx, key, m.Confirmando); err != nil {
		return resFail, err
	}

	conf, err := e.gateway.Reserve(ctx, booking.Reservation{
		Agenda:        e.agendaOf(st),
		EventID:       st.EventID,
		CustomerName:  st.Name,
		CustomerPhone: key,
		Notes:         e.set.Notes,
		AttendeeEmail: email,
		Bucket:        st.Bucket,
	})
	if err != nil {
		res, body, outcome := resFail, m.ErrorReserva, OutcomeFailed
		if errors.Is(err, booking.ErrSlotTaken) {
			res, body, outcome = resConflict, m.SlotTomado, OutcomeConflict
		}
		logger.Warn(ctx, "flow", "flow.reserve",
			slog.String("status", "fail"),
			slog.String("outcome", string(res)),
			slog.String("event_id", st.EventID),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.String("err_code", logger.ErrorCode(err)),
		)
		e.rec.Outcome(ctx, key, outcome)
		if err := e.render.Text(ctx, key, body); err != nil {
			return resFail, err
		}
		return res, e.askDate(ctx, key, func(s *conversation.State) {
			s.Step = conversation.StepAwaitDate
			s.EventID = ""
			s.Slots = nil
		})
	}

	start := conf.Start
	if start == "" {
		if slot, ok := st.FindSlot(st.EventID); ok {
			start = slot.Start
		}
	}
	fecha, hora := slotClock(start)
	logger.Info(ctx, "flow", "flow.reserve",
		slog.String("status", "ok"),
		slog.String("outcome", string(resBooked)),
		slog.String("event_id", st.EventID),
	)
	e.rec.Outcome(ctx, key, OutcomeBooked)
	if err := e.render.Text(ctx, key, fill(m.Confirmada, fecha, hora, st.Name)); err != nil {
		return resBooked, err
	}
	return resBooked, e.afterMenu(ctx, key)
}

// slotClock splits an RFC 3339 start into its own-offset date and hh:mm.
func slotClock(start string) (string, string) {
	if t, err := time.Parse(time.RFC3339, start); err == nil {
		return t.Format(isoDateLayout), t.Format("15:04")
	}
	date, clock, _ := strings.Cut(start, "T")
	if len(clock) > 5 {
		clock = clock[:5]
	}
	return date, clock
}

func uniqueTrimmed(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
