package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/m3rciful/agendabot/core/flow"
	"github.com/m3rciful/agendabot/core/prompt"
	"github.com/m3rciful/agendabot/core/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"
)

type sentMsg struct {
	to     tele.Recipient
	text   string
	markup *tele.ReplyMarkup
}

type fakeBot struct {
	out []sentMsg
	err error
}

func (f *fakeBot) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	msg := sentMsg{to: to, text: what.(string)}
	for _, o := range opts {
		if so, ok := o.(*tele.SendOptions); ok {
			msg.markup = so.ReplyMarkup
		}
	}
	f.out = append(f.out, msg)
	return &tele.Message{}, f.err
}

func TestUserKeyRoundTrip(t *testing.T) {
	key := UserKey(-100123)
	assert.Equal(t, "tg-100123", key)
	id, err := ChatID(key)
	require.NoError(t, err)
	assert.Equal(t, int64(-100123), id)

	_, err = ChatID("56973410397")
	assert.Error(t, err)
}

func TestTransportButtonsShareOneRow(t *testing.T) {
	bot := &fakeBot{}
	tr := NewTransport(bot)
	err := tr.SendButtons(context.Background(), "tg42", "¿Agendamos?", []prompt.Button{
		{ID: "WELCOME|tok|SI", Title: "Sí"},
		{ID: "WELCOME|tok|NO", Title: "No"},
	})
	require.NoError(t, err)

	require.Len(t, bot.out, 1)
	assert.Equal(t, tele.ChatID(42), bot.out[0].to)
	rows := bot.out[0].markup.InlineKeyboard
	require.Len(t, rows, 1)
	require.Len(t, rows[0], 2)
	assert.Equal(t, "WELCOME|tok|SI", rows[0][0].Data)
	assert.Empty(t, rows[0][0].Unique)
}

func TestTransportListOneRowPerOption(t *testing.T) {
	bot := &fakeBot{}
	tr := NewTransport(bot)
	err := tr.SendList(context.Background(), "tg42", prompt.List{
		Body:         "Horarios para 2026-03-05",
		SectionTitle: "Horarios",
		Rows: []prompt.Row{
			{ID: "SLOT|tok|ev1", Title: "10:00"},
			{ID: "SLOT|tok|ev2", Title: "11:00", Description: "Facial"},
		},
	})
	require.NoError(t, err)

	rows := bot.out[0].markup.InlineKeyboard
	require.Len(t, rows, 2)
	assert.Equal(t, "11:00 · Facial", rows[1][0].Text)
	assert.True(t, strings.HasSuffix(bot.out[0].text, "Horarios:"))
}

func TestTransportRejectsOversizedCallbackData(t *testing.T) {
	bot := &fakeBot{}
	tr := NewTransport(bot)
	err := tr.SendButtons(context.Background(), "tg42", "x", []prompt.Button{
		{ID: "BUCKET|tok|" + strings.Repeat("a", 80), Title: "A"},
	})
	require.Error(t, err)
	assert.Empty(t, bot.out)
}

func TestTransportWrapsSendError(t *testing.T) {
	bot := &fakeBot{err: errors.New("Post https://api.telegram.org/bot123:SECRET/sendMessage: timeout")}
	tr := NewTransport(bot)
	err := tr.SendText(context.Background(), "tg42", "hola")
	require.Error(t, err)
	assert.NotContains(t, sanitizeErrorMessage(err), "SECRET")
}

func TestTransportRejectsForeignKey(t *testing.T) {
	tr := NewTransport(&fakeBot{})
	assert.Error(t, tr.SendText(context.Background(), "56973410397", "hola"))
}

type fakeContext struct {
	tele.Context
	update    tele.Update
	responded bool
	store     map[string]interface{}
}

func newFakeContext(u tele.Update) *fakeContext {
	return &fakeContext{update: u, store: map[string]interface{}{}}
}

func (f *fakeContext) Update() tele.Update        { return f.update }
func (f *fakeContext) Callback() *tele.Callback   { return f.update.Callback }
func (f *fakeContext) Get(key string) interface{} { return f.store[key] }
func (f *fakeContext) Set(key string, v interface{}) {
	f.store[key] = v
}

func (f *fakeContext) Chat() *tele.Chat {
	switch {
	case f.update.Message != nil:
		return f.update.Message.Chat
	case f.update.Callback != nil && f.update.Callback.Message != nil:
		return f.update.Callback.Message.Chat
	}
	return nil
}

func (f *fakeContext) Text() string {
	if f.update.Message != nil {
		return f.update.Message.Text
	}
	return ""
}

func (f *fakeContext) Respond(...*tele.CallbackResponse) error {
	f.responded = true
	return nil
}

type recordingEngine struct {
	mu     sync.Mutex
	events []flow.Event
}

func (r *recordingEngine) Submit(_ context.Context, ev flow.Event) (<-chan queue.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return make(chan queue.Result, 1), nil
}

func TestIntakeText(t *testing.T) {
	eng := &recordingEngine{}
	in := NewIntake(eng)
	c := newFakeContext(tele.Update{ID: 77, Message: &tele.Message{Text: "  hola ", Chat: &tele.Chat{ID: 42}}})

	require.NoError(t, in.OnText(c))
	require.Len(t, eng.events, 1)
	assert.Equal(t, flow.Event{Channel: "tg", UserKey: "tg42", Raw: "hola", TS: 77, TraceID: "77"}, eng.events[0])
}

func TestIntakeCallback(t *testing.T) {
	eng := &recordingEngine{}
	in := NewIntake(eng)
	c := newFakeContext(tele.Update{ID: 78, Callback: &tele.Callback{
		Data:    "SLOT|tok|ev1",
		Message: &tele.Message{Chat: &tele.Chat{ID: 42}},
	}})

	require.NoError(t, in.OnCallback(c))
	assert.True(t, c.responded)
	require.Len(t, eng.events, 1)
	assert.Equal(t, "SLOT|tok|ev1", eng.events[0].Raw)
	assert.Equal(t, int64(78), eng.events[0].TS)
}

func TestIntakeWithoutChatIsIgnored(t *testing.T) {
	eng := &recordingEngine{}
	require.NoError(t, NewIntake(eng).OnText(newFakeContext(tele.Update{ID: 1})))
	assert.Empty(t, eng.events)
}
