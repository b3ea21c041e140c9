package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m3rciful/agendabot/core/conversation"
	"github.com/m3rciful/agendabot/core/flow"
	"github.com/m3rciful/agendabot/core/logger"
	"github.com/m3rciful/agendabot/core/prompt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTransport struct {
	err error
}

func (s stubTransport) SendText(context.Context, string, string) error { return s.err }

func (s stubTransport) SendButtons(context.Context, string, string, []prompt.Button) error {
	return s.err
}

func (s stubTransport) SendList(context.Context, string, prompt.List) error { return s.err }

var fixedNow = time.Date(2026, 3, 5, 13, 0, 0, 0, time.UTC)

func TestRecorderInboundAndOutcome(t *testing.T) {
	sink := &memSink{}
	d := NewDispatcher(Options{})
	rec := NewRecorder(d, func() time.Time { return fixedNow }, sink)
	started := fixedNow.Add(-time.Minute)
	ctx := logger.WithEventMeta(context.Background(), "wa", "5691", 10)

	rec.Inbound(ctx, flow.Event{Channel: "wa", UserKey: "5691", Raw: "hola", TS: 10},
		conversation.State{StartedAt: started})
	rec.Inbound(ctx, flow.Event{Channel: "wa", UserKey: "5691", Raw: "BUCKET|abc|Facial", TS: 11},
		conversation.State{StartedAt: started})
	rec.Outcome(ctx, "5691", flow.OutcomeBooked)
	d.Close()

	got := sink.records()
	require.Len(t, got, 3)
	assert.Equal(t, Record{Channel: "wa", UserKey: "5691", StartedAt: started, At: fixedNow,
		Direction: Incoming, Kind: KindText, Content: "hola"}, got[0])
	assert.Equal(t, KindInteraction, got[1].Kind)
	assert.Equal(t, "BUCKET:Facial", got[1].Content)
	assert.True(t, got[2].IsOutcome())
	assert.Equal(t, "booked", got[2].Outcome)
	assert.Equal(t, "wa", got[2].Channel)
}

func TestRecordingTransport(t *testing.T) {
	sink := &memSink{}
	d := NewDispatcher(Options{})
	rec := NewRecorder(d, func() time.Time { return fixedNow }, sink)
	ctx := logger.WithEventMeta(context.Background(), "tg", "42", 1)

	tr := rec.Transport(stubTransport{})
	require.NoError(t, tr.SendText(ctx, "42", "Hola"))
	require.NoError(t, tr.SendButtons(ctx, "42", "¿Agendamos?", []prompt.Button{{ID: "a", Title: "Sí"}, {ID: "b", Title: "No"}}))
	require.NoError(t, tr.SendList(ctx, "42", prompt.List{Body: "Horarios", Rows: []prompt.Row{{ID: "x", Title: "10:00"}}}))

	failing := rec.Transport(stubTransport{err: errors.New("down")})
	require.Error(t, failing.SendText(ctx, "42", "lost"))
	d.Close()

	got := sink.records()
	require.Len(t, got, 3)
	assert.Equal(t, Outgoing, got[0].Direction)
	assert.Equal(t, "tg", got[0].Channel)
	assert.Equal(t, "¿Agendamos? [Sí | No]", got[1].Content)
	assert.Equal(t, KindList, got[2].Kind)
	assert.Equal(t, "Horarios [10:00]", got[2].Content)
}

func TestRecorderTruncatesContent(t *testing.T) {
	sink := &memSink{}
	d := NewDispatcher(Options{})
	rec := NewRecorder(d, nil, sink)
	long := make([]rune, maxContent+50)
	for i := range long {
		long[i] = 'a'
	}
	rec.Inbound(context.Background(), flow.Event{UserKey: "1", Raw: string(long), TS: 1}, conversation.State{})
	d.Close()

	require.Len(t, sink.records(), 1)
	assert.Len(t, sink.records()[0].Content, maxContent)
}

func TestNilRecorderIsSafe(t *testing.T) {
	var rec *Recorder
	assert.NotPanics(t, func() {
		rec.Outcome(context.Background(), "1", flow.OutcomeExited)
	})
}

func TestCloses(t *testing.T) {
	assert.True(t, closes("exited"))
	assert.True(t, closes("expired"))
	assert.True(t, closes("rejected"))
	assert.False(t, closes("booked"))
	assert.False(t, closes("conflict"))
}
