package audit

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/agendabot/core/conversation"
	"github.com/m3rciful/agendabot/core/flow"
	"github.com/m3rciful/agendabot/core/interaction"
	"github.com/m3rciful/agendabot/core/logger"
	"github.com/m3rciful/agendabot/core/prompt"
)

// maxContent bounds the stored text of one message.
const maxContent = 500

// Recorder fans transcript records out to every sink through a Dispatcher.
// It implements flow.Recorder.
type Recorder struct {
	d     *Dispatcher
	sinks []Sink
	now   func() time.Time
}

var _ flow.Recorder = (*Recorder)(nil)

// NewRecorder returns a recorder writing to sinks. A nil clock means time.Now.
func NewRecorder(d *Dispatcher, clock func() time.Time, sinks ...Sink) *Recorder {
	if clock == nil {
		clock = time.Now
	}
	return &Recorder{d: d, sinks: sinks, now: clock}
}

// Inbound records an accepted user event under the conversation that st belongs to.
func (r *Recorder) Inbound(ctx context.Context, ev flow.Event, st conversation.State) {
	kind, content := KindText, ev.Raw
	if id, ok := interaction.Parse(ev.Raw); ok {
		kind, content = KindInteraction, id.Prefix+":"+id.Value
	}
	r.emit(ctx, Record{
		Channel:   ev.Channel,
		UserKey:   ev.UserKey,
		StartedAt: st.StartedAt,
		Direction: Incoming,
		Kind:      kind,
		Content:   content,
	})
}

// Outcome records how the user's current conversation ended.
func (r *Recorder) Outcome(ctx context.Context, key string, outcome flow.Outcome) {
	r.emit(ctx, Record{
		Channel: logger.ChannelFrom(ctx),
		UserKey: key,
		Kind:    KindOutcome,
		Outcome: string(outcome),
	})
}

func (r *Recorder) outbound(ctx context.Context, to, kind, content string) {
	r.emit(ctx, Record{
		Channel:   logger.ChannelFrom(ctx),
		UserKey:   to,
		Direction: Outgoing,
		Kind:      kind,
		Content:   content,
	})
}

func (r *Recorder) emit(ctx context.Context, rec Record) {
	if r == nil || r.d == nil {
		return
	}
	if rec.At.IsZero() {
		rec.At = r.now()
	}
	rec.Content = logger.SanitizeLimit(rec.Content, maxContent)
	for _, s := range r.sinks {
		if err := r.d.Enqueue(ctx, s, rec); err != nil {
			logger.Warn(ctx, "audit", "audit.enqueue",
				slog.String("status", "skip"),
				slog.String("sink", s.Name()),
				slog.String("err", err.Error()),
			)
		}
	}
}

// Transport wraps next and records every message it manages to deliver.
func (r *Recorder) Transport(next prompt.Transport) prompt.Transport {
	return &recordingTransport{next: next, rec: r}
}

type recordingTransport struct {
	next prompt.Transport
	rec  *Recorder
}

func (t *recordingTransport) SendText(ctx context.Context, to, body string) error {
	if err := t.next.SendText(ctx, to, body); err != nil {
		return err
	}
	t.rec.outbound(ctx, to, KindText, body)
	return nil
}

func (t *recordingTransport) SendButtons(ctx context.Context, to, body string, buttons []prompt.Button) error {
	if err := t.next.SendButtons(ctx, to, body, buttons); err != nil {
		return err
	}
	titles := make([]string, 0, len(buttons))
	for _, b := range buttons {
		titles = append(titles, b.Title)
	}
	t.rec.outbound(ctx, to, KindButtons, body+" ["+strings.Join(titles, " | ")+"]")
	return nil
}

func (t *recordingTransport) SendList(ctx context.Context, to string, list prompt.List) error {
	if err := t.next.SendList(ctx, to, list); err != nil {
		return err
	}
	titles := make([]string, 0, len(list.Rows))
	for _, row := range list.Rows {
		titles = append(titles, row.Title)
	}
	t.rec.outbound(ctx, to, KindList, list.Body+" ["+strings.Join(titles, " | ")+"]")
	return nil
}

// closes reports whether outcome ends the conversation it is recorded on.
func closes(outcome string) bool {
	switch flow.Outcome(outcome) {
	case flow.OutcomeRejected, flow.OutcomeExited, flow.OutcomeExpired:
		return true
	}
	return false
}
