// Package flow is the booking dialogue: it takes one inbound event at a time
// per user, guards it against stale and out-of-order delivery, runs a single
// transition and renders the next prompt.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/agendabot/core/booking"
	coreconfig "github.com/m3rciful/agendabot/core/config"
	"github.com/m3rciful/agendabot/core/conversation"
	"github.com/m3rciful/agendabot/core/intent"
	"github.com/m3rciful/agendabot/core/interaction"
	"github.com/m3rciful/agendabot/core/logger"
	"github.com/m3rciful/agendabot/core/prompt"
	"github.com/m3rciful/agendabot/core/queue"
)

// ErrStale is returned by Handle for events at or below the watermark.
var ErrStale = errors.New("flow: stale event")

// Event is one inbound interaction. TS is the provider timestamp used as the
// ordering watermark and must be positive.
type Event struct {
	Channel string
	UserKey string
	Raw     string
	TS      int64
	TraceID string
}

// Outcome marks how a conversation ended or stalled.
type Outcome string

const (
	OutcomeBooked   Outcome = "booked"
	OutcomeConflict Outcome = "conflict"
	OutcomeFailed   Outcome = "failed"
	OutcomeRejected Outcome = "rejected"
	OutcomeExited   Outcome = "exited"
	OutcomeExpired  Outcome = "expired"
)

// Recorder observes accepted events and outcomes. Calls happen inside the
// user's task and must not block.
type Recorder interface {
	Inbound(ctx context.Context, ev Event, st conversation.State)
	Outcome(ctx context.Context, key string, outcome Outcome)
}

type nopRecorder struct{}

func (nopRecorder) Inbound(context.Context, Event, conversation.State) {}
func (nopRecorder) Outcome(context.Context, string, Outcome) {}

// Settings are the tunables of the dialogue.
type Settings struct {
	PromptTTL        time.Duration
	MenuTTL          time.Duration
	Horizon          time.Duration
	MaxSlots         int
	SearchMaxResults int
	Location         *time.Location
	DefaultAgenda    string
	Notes            string
}

// SettingsFromConfig maps the flow and booking config sections.
func SettingsFromConfig(cfg *coreconfig.Config) (Settings, error) {
	if cfg == nil {
		return Settings{}, fmt.Errorf("flow: nil config")
	}
	loc, err := time.LoadLocation(cfg.Flow.Timezone)
	if err != nil {
		return Settings{}, fmt.Errorf("flow: load timezone: %w", err)
	}
	return Settings{
		PromptTTL:        cfg.Flow.PromptTTL(),
		MenuTTL:          cfg.Flow.MenuTTL(),
		Horizon:          cfg.Flow.Horizon(),
		MaxSlots:         cfg.Flow.MaxSlots,
		SearchMaxResults: cfg.Flow.SearchMaxResults,
		Location:         loc,
		DefaultAgenda:    cfg.Booking.DefaultAgenda,
		Notes:            cfg.Booking.Notes,
	}, nil
}

func (s Settings) withDefaults() Settings {
	if s.PromptTTL <= 0 {
		s.PromptTTL = 2 * time.Minute
	}
	if s.MenuTTL <= 0 {
		s.MenuTTL = 3 * time.Minute
	}
	if s.Horizon <= 0 {
		s.Horizon = 24 * time.Hour
	}
	if s.MaxSlots <= 0 {
		s.MaxSlots = 12
	}
	if s.SearchMaxResults <= 0 {
		s.SearchMaxResults = 100
	}
	if s.Location == nil {
		loc, err := time.LoadLocation("America/Argentina/Buenos_Aires")
		if err != nil {
			loc = time.FixedZone("-03", -3*60*60)
		}
		s.Location = loc
	}
	if s.DefaultAgenda == "" {
		s.DefaultAgenda = "agenda1"
	}
	if s.Notes == "" {
		s.Notes = "Reserva desde WhatsApp"
	}
	return s
}

// Options wires an Engine. Store, Gateway and Transport are required.
type Options struct {
	Store      conversation.Store
	Gateway    booking.Gateway
	Transport  prompt.Transport
	Serializer *queue.Serializer
	Content    *Content
	Settings   Settings
	Recorder   Recorder
	Clock      func() time.Time
}

// Engine runs the booking dialogue.
type Engine struct {
	store   conversation.Store
	gateway booking.Gateway
	render  *prompt.Renderer
	queue   *queue.Serializer
	content *Content
	set     Settings
	rec     Recorder
	now     func() time.Time
}

// NewEngine validates opts and fills defaults.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Store == nil || opts.Gateway == nil || opts.Transport == nil {
		return nil, fmt.Errorf("flow: store, gateway and transport are required")
	}
	content := opts.Content
	if content == nil {
		c, err := DefaultContent()
		if err != nil {
			return nil, err
		}
		content = c
	}
	q := opts.Serializer
	if q == nil {
		q = queue.New(queue.Options{})
	}
	rec := opts.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		store:   opts.Store,
		gateway: opts.Gateway,
		render:  prompt.NewRenderer(opts.Store, opts.Transport, clock),
		queue:   q,
		content: content,
		set:     opts.Settings.withDefaults(),
		rec:     rec,
		now:     clock,
	}, nil
}

// Submit queues ev behind earlier events of the same user. Stale events
// complete with a nil error.
func (e *Engine) Submit(ctx context.Context, ev Event) (<-chan queue.Result, error) {
	if ev.UserKey == "" {
		return nil, conversation.ErrEmptyKey
	}
	return e.queue.Enqueue(ctx, ev.UserKey, func(ctx context.Context) error {
		err := e.Handle(ctx, ev)
		if errors.Is(err, ErrStale) {
			return nil
		}
		return err
	})
}

// Forget deletes the conversation of key once its queued events are done.
func (e *Engine) Forget(ctx context.Context, key string) error {
	if key == "" {
		return conversation.ErrEmptyKey
	}
	ch, err := e.queue.Enqueue(ctx, key, func(ctx context.Context) error {
		return e.store.Clear(ctx, key)
	})
	if err != nil {
		return err
	}
	select {
	case res := <-ch:
		if res.Err == nil {
			logger.Info(ctx, "flow", "flow.forget", slog.String("user_key", key), slog.String("status", "ok"))
		}
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and waits for queued ones.
func (e *Engine) Close(ctx context.Context) error {
	return e.queue.Close(ctx)
}

// result labels what one event did, for logs.
type result string

const (
	resOK         result = "ok"
	resIgnored    result = "ignored"
	resRerendered result = "rerendered"
	resInvalid    result = "invalid"
	resBooked     result = "booked"
	resConflict   result = "conflict"
	resFail       result = "fail"
)

// input is a parsed inbound payload. Composite ids are never classified.
type input struct {
	raw    string
	id     interaction.ID
	isID   bool
	intent intent.Intent
}

func (e *Engine) parse(raw string) input {
	in := input{raw: strings.TrimSpace(raw), intent: intent.Unknown}
	if strings.Contains(in.raw, interaction.Delimiter) {
		if id, ok := interaction.Parse(in.raw); ok {
			in.id = id
			in.isID = true
			return in
		}
	}
	// Addresses are never phrases; "hola@empresa.cl" must reach the email step.
	if !strings.Contains(in.raw, "@") {
		in.intent = intent.Classify(in.raw, e.content.Intents)
	}
	return in
}

// Handle processes one event for its user. Callers must serialize events of
// the same user; Submit does that.
func (e *Engine) Handle(ctx context.Context, ev Event) error {
	key := ev.UserKey
	if key == "" {
		return conversation.ErrEmptyKey
	}
	ctx = logger.WithEventMeta(ctx, ev.Channel, key, ev.TS)
	if logger.RIDFrom(ctx) == "" {
		ctx = logger.WithRID(ctx, logger.BuildRID(ev.Channel, key, ev.TS))
	}
	ctx = logger.WithTrace(ctx, ev.TraceID)
	started := time.Now()
	now := e.now()

	st, err := e.store.Read(ctx, key)
	if err != nil {
		return fmt.Errorf("flow: read state: %w", err)
	}
	if ev.TS <= st.LastTS {
		logger.Info(ctx, "flow", "flow.stale",
			slog.String("status", "stale"),
			slog.Int64("last_ts", st.LastTS),
		)
		return ErrStale
	}

	expired := !st.IsNew() && st.Expired(now, e.set.Horizon)
	accept := func(s *conversation.State) {
		if expired {
			*s = conversation.Reset(*s, now)
		}
		if s.StartedAt.IsZero() {
			s.StartedAt = now
		}
		s.LastTS = ev.TS
	}
	if err := e.store.Patch(ctx, key, accept); err != nil {
		return fmt.Errorf("flow: advance watermark: %w", err)
	}
	if expired {
		logger.Info(ctx, "flow", "flow.expired", slog.String("from", string(st.Step)))
		e.rec.Outcome(ctx, key, OutcomeExpired)
	}
	accept(&st)
	e.rec.Inbound(ctx, ev, st)

	in := e.parse(ev.Raw)
	ctx = logger.WithStep(ctx, string(st.Step))
	res, err := e.dispatch(ctx, key, st, in, now)

	attrs := []slog.Attr{
		slog.String("outcome", string(res)),
		slog.String("status", logger.Status(err)),
		slog.String("intent", string(in.intent)),
		slog.Bool("interaction", in.isID),
		slog.Duration("duration", logger.Took(started)),
	}
	if err != nil {
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.String("err_code", logger.ErrorCode(err)),
		)
		logger.Error(ctx, "flow", "flow.handle", attrs...)
		return err
	}
	logger.Info(ctx, "flow", "flow.handle", attrs...)
	return nil
}

func (e *Engine) dispatch(ctx context.Context, key string, st conversation.State, in input, now time.Time) (result, error) {
	switch in.intent {
	case intent.Greeting:
		return resOK, e.welcome(ctx, key, now, true)
	case intent.Book:
		return e.offerBuckets(ctx, key, st, now, true)
	}

	switch st.Step {
	case conversation.StepAskConfirm:
		return e.onConfirm(ctx, key, st, in, now)
	case conversation.StepAwaitBucket:
		return e.onBucket(ctx, key, st, in, now)
	case conversation.StepAwaitName:
		return e.onName(ctx, key, in)
	case conversation.StepAwaitDate:
		return e.onDate(ctx, key, st, in, now)
	case conversation.StepAwaitSlotChoice:
		return e.onSlot(ctx, key, st, in, now)
	case conversation.StepAwaitEmail:
		return e.onEmail(ctx, key, st, in)
	case conversation.StepAfterConfirm:
		return e.onAfterConfirm(ctx, key, st, in, now)
	}

	if in.isID {
		return resIgnored, nil
	}
	return resOK, e.render.Text(ctx, key, e.content.Messages.Fallback)
}

// answers reports whether in is a reply to the live prompt of kind.
func (e *Engine) answers(ctx context.Context, st conversation.State, in input, kind conversation.Kind, now time.Time) bool {
	if in.isID && interaction.IsExpected(st, in.id, kind, now) {
		return true
	}
	if logger.ShouldSampleDebug() {
		logger.Debug(ctx, "flow", "flow.ignored",
			slog.String("status", "ignored"),
			slog.String("want", string(kind)),
			slog.String("prefix", in.id.Prefix),
		)
	}
	return false
}

func (e *Engine) agendaOf(st conversation.State) string {
	if st.Agenda != "" {
		return st.Agenda
	}
	return e.set.DefaultAgenda
}
