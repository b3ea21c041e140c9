package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/agendabot/core/booking"
	"github.com/m3rciful/agendabot/core/conversation"
	"github.com/m3rciful/agendabot/core/interaction"
	"github.com/m3rciful/agendabot/core/prompt"
	"github.com/m3rciful/agendabot/core/queue"
)

const userKey = "56973410397"

type outMsg struct {
	kind    string
	body    string
	buttons []prompt.Button
	list    prompt.List
}

type recTransport struct {
	mu   sync.Mutex
	msgs []outMsg
}

func (r *recTransport) SendText(_ context.Context, _, body string) error {
	r.add(outMsg{kind: "text", body: body})
	return nil
}

func (r *recTransport) SendButtons(_ context.Context, _, body string, b []prompt.Button) error {
	r.add(outMsg{kind: "buttons", body: body, buttons: b})
	return nil
}

func (r *recTransport) SendList(_ context.Context, _ string, l prompt.List) error {
	r.add(outMsg{kind: "list", body: l.Body, list: l})
	return nil
}

func (r *recTransport) add(m outMsg) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

func (r *recTransport) all() []outMsg {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]outMsg(nil), r.msgs...)
}

func (r *recTransport) bodies() []string {
	var out []string
	for _, m := range r.all() {
		out = append(out, m.body)
	}
	return out
}

type fakeGateway struct {
	mu           sync.Mutex
	buckets      []string
	bucketsErr   error
	bucketsDelay time.Duration
	bucketCalls  int
	slots        []booking.Slot
	slotsErr     error
	queries      []booking.SlotQuery
	reserveErr   error
	reservations []booking.Reservation
}

func (g *fakeGateway) ListBuckets(_ context.Context, _ string) ([]string, error) {
	g.mu.Lock()
	delay := g.bucketsDelay
	g.bucketCalls++
	g.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.buckets...), g.bucketsErr
}

func (g *fakeGateway) ListSlots(_ context.Context, q booking.SlotQuery) ([]booking.Slot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queries = append(g.queries, q)
	return append([]booking.Slot(nil), g.slots...), g.slotsErr
}

func (g *fakeGateway) Reserve(_ context.Context, r booking.Reservation) (booking.Confirmation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reservations = append(g.reservations, r)
	if g.reserveErr != nil {
		return booking.Confirmation{}, g.reserveErr
	}
	start := ""
	for _, s := range g.slots {
		if s.EventID == r.EventID {
			start = s.Start
		}
	}
	return booking.Confirmation{EventID: r.EventID, Start: start, Status: "confirmed"}, nil
}

type outcomeRecorder struct {
	mu       sync.Mutex
	inbound  int
	outcomes []Outcome
}

func (o *outcomeRecorder) Inbound(context.Context, Event, conversation.State) {
	o.mu.Lock()
	o.inbound++
	o.mu.Unlock()
}

func (o *outcomeRecorder) Outcome(_ context.Context, _ string, out Outcome) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, out)
	o.mu.Unlock()
}

type harness struct {
	t     *testing.T
	eng   *Engine
	store *conversation.MemoryStore
	tr    *recTransport
	gw    *fakeGateway
	rec   *outcomeRecorder
	msg   Messages
	now   time.Time
	ts    int64
}

var testZone = time.FixedZone("-03", -3*60*60)

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		store: conversation.NewMemoryStore(),
		tr:    &recTransport{},
		gw:    &fakeGateway{buckets: []string{"Facial", " Corporal ", "Facial"}},
		rec:   &outcomeRecorder{},
		now:   time.Date(2026, 3, 5, 10, 0, 0, 0, testZone),
		ts:    1000,
	}
	content, err := DefaultContent()
	require.NoError(t, err)
	h.msg = content.Messages

	eng, err := NewEngine(Options{
		Store:     h.store,
		Gateway:   h.gw,
		Transport: h.tr,
		Content:   content,
		Settings:  Settings{Location: testZone},
		Recorder:  h.rec,
		Clock:     func() time.Time { return h.now },
	})
	require.NoError(t, err)
	h.eng = eng
	return h
}

func (h *harness) send(raw string) error {
	h.ts++
	return h.eng.Handle(context.Background(), Event{Channel: "wa", UserKey: userKey, Raw: raw, TS: h.ts})
}

func (h *harness) mustSend(raw string) {
	h.t.Helper()
	require.NoError(h.t, h.send(raw))
}

func (h *harness) state() conversation.State {
	h.t.Helper()
	st, err := h.store.Read(context.Background(), userKey)
	require.NoError(h.t, err)
	return st
}

func (h *harness) last() outMsg {
	h.t.Helper()
	msgs := h.tr.all()
	require.NotEmpty(h.t, msgs)
	return msgs[len(msgs)-1]
}

// option returns the id carrying value in the most recent interactive prompt.
func (h *harness) option(value string) string {
	h.t.Helper()
	msgs := h.tr.all()
	for i := len(msgs) - 1; i >= 0; i-- {
		var ids []string
		for _, b := range msgs[i].buttons {
			ids = append(ids, b.ID)
		}
		for _, r := range msgs[i].list.Rows {
			ids = append(ids, r.ID)
		}
		if len(ids) == 0 {
			continue
		}
		for _, raw := range ids {
			if id, ok := interaction.Parse(raw); ok && id.Value == value {
				return raw
			}
		}
		h.t.Fatalf("option %q not in last prompt", value)
	}
	h.t.Fatalf("no prompt sent")
	return ""
}

// toStep drives the conversation to AWAIT_DATE with bucket Facial and name Carla.
func (h *harness) toAwaitDate() {
	h.t.Helper()
	h.mustSend("hola")
	h.mustSend(h.option("SI"))
	h.mustSend(h.option("Facial"))
	h.mustSend("Carla")
	require.Equal(h.t, conversation.StepAwaitDate, h.state().Step)
}

func (h *harness) toAwaitEmail() {
	h.t.Helper()
	h.gw.slots = []booking.Slot{{EventID: "ev1", Start: "2026-03-05T09:00:00-03:00", Bucket: "Facial"}}
	h.toAwaitDate()
	h.mustSend(h.option("TODAY"))
	h.mustSend(h.option("ev1"))
	require.Equal(h.t, conversation.StepAwaitEmail, h.state().Step)
}

func TestEndToEndBooking(t *testing.T) {
	h := newHarness(t)
	h.gw.slots = []booking.Slot{
		{EventID: "ev1", Start: "2026-03-05T09:00:00-03:00", Bucket: "Facial"},
		{EventID: "ev2", Start: "2026-03-05T10:00:00-03:00", Bucket: "Corporal"},
	}

	h.mustSend("hola")
	welcome := h.last()
	assert.Equal(t, "buttons", welcome.kind)
	assert.Equal(t, h.msg.Bienvenida, welcome.body)
	require.Len(t, welcome.buttons, 2)
	assert.Equal(t, conversation.StepAskConfirm, h.state().Step)

	h.mustSend(h.option("SI"))
	buckets := h.last()
	assert.Equal(t, "buttons", buckets.kind)
	require.Len(t, buckets.buttons, 2)
	assert.Equal(t, "Facial", buckets.buttons[0].Title)
	assert.Equal(t, "Corporal", buckets.buttons[1].Title)
	st := h.state()
	assert.Equal(t, conversation.StepAwaitBucket, st.Step)
	assert.Equal(t, "agenda1", st.Agenda)
	assert.Equal(t, []string{"Facial", "Corporal"}, st.Buckets)

	h.mustSend(h.option("Facial"))
	assert.Equal(t, h.msg.PedirNombre, h.last().body)
	st = h.state()
	assert.Equal(t, conversation.StepAwaitName, st.Step)
	assert.Equal(t, "Facial", st.Bucket)
	assert.Nil(t, st.Expected)

	h.mustSend("Carla")
	assert.Equal(t, h.msg.PedirFechaBotones, h.last().body)
	assert.Equal(t, "Carla", h.state().Name)

	h.mustSend(h.option("TODAY"))
	require.Len(t, h.gw.queries, 1)
	q := h.gw.queries[0]
	assert.Equal(t, "2026-03-05T00:00:00-03:00", q.TimeMin)
	assert.Equal(t, "2026-03-05T23:59:59-03:00", q.TimeMax)
	assert.Equal(t, 100, q.MaxResults)
	list := h.last()
	assert.Equal(t, "list", list.kind)
	require.Len(t, list.list.Rows, 1)
	assert.Equal(t, "09:00", list.list.Rows[0].Title)
	assert.Equal(t, "2026-03-05", list.list.Rows[0].Description)
	st = h.state()
	assert.Equal(t, conversation.StepAwaitSlotChoice, st.Step)
	assert.Equal(t, "2026-03-05", st.Date)
	require.Len(t, st.Slots, 1)

	h.mustSend(h.option("ev1"))
	assert.Equal(t, h.msg.PedirEmail, h.last().body)
	assert.Equal(t, "ev1", h.state().EventID)

	before := len(h.tr.all())
	h.mustSend("no")
	require.Len(t, h.gw.reservations, 1)
	r := h.gw.reservations[0]
	assert.Equal(t, booking.Reservation{
		Agenda:        "agenda1",
		EventID:       "ev1",
		CustomerName:  "Carla",
		CustomerPhone: userKey,
		Notes:         "Reserva desde WhatsApp",
		AttendeeEmail: "",
		Bucket:        "Facial",
	}, r)

	after := h.tr.all()[before:]
	require.Len(t, after, 3)
	assert.Equal(t, h.msg.Confirmando, after[0].body)
	assert.Equal(t, fill(h.msg.Confirmada, "2026-03-05", "09:00", "Carla"), after[1].body)
	assert.Equal(t, "buttons", after[2].kind)
	assert.Equal(t, h.msg.NecesitasAlgoMas, after[2].body)

	st = h.state()
	assert.Equal(t, conversation.StepAfterConfirm, st.Step)
	require.NotNil(t, st.Expected)
	assert.Equal(t, conversation.KindAfterMenu, st.Expected.Kind)
	assert.Equal(t, h.now.Add(3*time.Minute), st.Expected.ExpiresAt)
	assert.Equal(t, []Outcome{OutcomeBooked}, h.rec.outcomes)
}

func TestWatermarkOrdering(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := func(ts int64) Event { return Event{Channel: "wa", UserKey: userKey, Raw: "hola", TS: ts} }

	require.NoError(t, h.eng.Handle(ctx, ev(100)))
	assert.ErrorIs(t, h.eng.Handle(ctx, ev(80)), ErrStale)
	require.NoError(t, h.eng.Handle(ctx, ev(150)))

	assert.Len(t, h.tr.all(), 2)
	assert.Equal(t, int64(150), h.state().LastTS)
	assert.Equal(t, 2, h.rec.inbound)
}

func TestRedeliveryIsNoOp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := Event{Channel: "wa", UserKey: userKey, Raw: "hola", TS: 42}

	require.NoError(t, h.eng.Handle(ctx, ev))
	first := h.state()
	assert.ErrorIs(t, h.eng.Handle(ctx, ev), ErrStale)

	assert.Len(t, h.tr.all(), 1)
	assert.Equal(t, first, h.state())
}

func TestSubmitSwallowsStale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := Event{Channel: "wa", UserKey: userKey, Raw: "hola", TS: 7}

	for i := 0; i < 2; i++ {
		ch, err := h.eng.Submit(ctx, ev)
		require.NoError(t, err)
		res := <-ch
		assert.NoError(t, res.Err)
	}
	assert.Len(t, h.tr.all(), 1)
}

func TestStaleTokenIgnored(t *testing.T) {
	h := newHarness(t)
	h.mustSend("hola")
	oldYes := h.option("SI")
	h.mustSend("hola")
	current := h.state()

	sent := len(h.tr.all())
	h.mustSend(oldYes)

	assert.Len(t, h.tr.all(), sent, "stale click must not produce output")
	st := h.state()
	assert.Equal(t, current.Step, st.Step)
	assert.Equal(t, current.Expected, st.Expected)
}

func TestExpiredTokenIgnored(t *testing.T) {
	h := newHarness(t)
	h.mustSend("hola")
	yes := h.option("SI")
	h.now = h.now.Add(2 * time.Minute)

	sent := len(h.tr.all())
	h.mustSend(yes)
	assert.Len(t, h.tr.all(), sent)
	assert.Equal(t, conversation.StepAskConfirm, h.state().Step)
}

func TestFreeTextRerendersPrompt(t *testing.T) {
	h := newHarness(t)
	h.mustSend("hola")
	oldToken := h.state().Expected.Token

	h.mustSend("¿qué?")
	assert.Equal(t, "buttons", h.last().kind)
	assert.Equal(t, h.msg.Bienvenida, h.last().body)
	assert.NotEqual(t, oldToken, h.state().Expected.Token)
}

func TestConfirmAcceptsYesNoText(t *testing.T) {
	h := newHarness(t)
	h.mustSend("hola")
	h.mustSend("sí")
	assert.Equal(t, conversation.StepAwaitBucket, h.state().Step)

	h = newHarness(t)
	h.mustSend("hola")
	h.mustSend("no")
	assert.Equal(t, h.msg.Rechazo, h.last().body)
	assert.True(t, h.state().IsNew())
	assert.Equal(t, []Outcome{OutcomeRejected}, h.rec.outcomes)
}

func TestRejectKeepsWatermark(t *testing.T) {
	h := newHarness(t)
	h.mustSend("hola")
	h.mustSend(h.option("NO"))

	st := h.state()
	assert.True(t, st.IsNew())
	assert.Equal(t, h.ts, st.LastTS)
	assert.ErrorIs(t, h.eng.Handle(context.Background(), Event{UserKey: userKey, Raw: "hola", TS: h.ts}), ErrStale)
}

func TestInvalidBucketRerenders(t *testing.T) {
	h := newHarness(t)
	h.mustSend("agendar")
	st := h.state()
	require.Equal(t, conversation.StepAwaitBucket, st.Step)

	id, err := interaction.Make(interaction.PrefixBucket, st.Expected.Token, "Capilar")
	require.NoError(t, err)
	h.mustSend(id)

	msgs := h.tr.all()
	require.GreaterOrEqual(t, len(msgs), 2)
	assert.Equal(t, h.msg.BucketInvalido, msgs[len(msgs)-2].body)
	assert.Equal(t, h.msg.ElegirAgenda, msgs[len(msgs)-1].body)
	after := h.state()
	assert.Equal(t, conversation.StepAwaitBucket, after.Step)
	assert.NotEqual(t, st.Expected.Token, after.Expected.Token)
}

func TestManyBucketsRenderAsList(t *testing.T) {
	h := newHarness(t)
	h.gw.buckets = []string{"A", "B", "C", "D"}
	h.mustSend("agendar")
	assert.Equal(t, "list", h.last().kind)
	assert.Len(t, h.last().list.Rows, 4)
}

func TestNoBucketsResets(t *testing.T) {
	h := newHarness(t)
	h.gw.buckets = []string{" ", ""}
	h.mustSend("hola")
	h.mustSend(h.option("SI"))

	assert.Equal(t, h.msg.SinAgendas, h.last().body)
	assert.True(t, h.state().IsNew())
}

func TestBucketListFailure(t *testing.T) {
	h := newHarness(t)
	h.gw.bucketsErr = errors.New("api down")
	h.mustSend("agendar")

	assert.Equal(t, h.msg.ErrorGeneral, h.last().body)
	assert.True(t, h.state().IsNew())
}

func TestBucketNamedLikeIntentIsNotClassified(t *testing.T) {
	h := newHarness(t)
	h.gw.buckets = []string{"Agenda", "Hola"}
	h.mustSend("agendar")
	h.mustSend(h.option("Agenda"))

	st := h.state()
	assert.Equal(t, conversation.StepAwaitName, st.Step)
	assert.Equal(t, "Agenda", st.Bucket)
}

func TestNameValidation(t *testing.T) {
	h := newHarness(t)
	h.mustSend("hola")
	h.mustSend(h.option("SI"))
	h.mustSend(h.option("Facial"))

	h.mustSend("Ana2")
	assert.Equal(t, h.msg.NombreInvalido, h.last().body)
	assert.Equal(t, conversation.StepAwaitName, h.state().Step)

	h.mustSend("José María")
	st := h.state()
	assert.Equal(t, conversation.StepAwaitDate, st.Step)
	assert.Equal(t, "José María", st.Name)
}

func TestManualDate(t *testing.T) {
	h := newHarness(t)
	h.toAwaitDate()

	h.mustSend("32-01-2026")
	assert.Equal(t, h.msg.FechaInvalida, h.last().body)
	assert.Empty(t, h.gw.queries)

	h.mustSend("06/03/2026")
	require.Len(t, h.gw.queries, 1)
	assert.Equal(t, "2026-03-06T00:00:00-03:00", h.gw.queries[0].TimeMin)
}

func TestTomorrow(t *testing.T) {
	h := newHarness(t)
	h.toAwaitDate()
	h.mustSend(h.option("TOMORROW"))
	require.Len(t, h.gw.queries, 1)
	assert.Equal(t, "2026-03-06T00:00:00-03:00", h.gw.queries[0].TimeMin)
}

func TestNoSlotsAsksForAnotherDay(t *testing.T) {
	h := newHarness(t)
	h.gw.slots = []booking.Slot{{EventID: "ev9", Start: "2026-03-05T09:00:00-03:00", Bucket: "Corporal"}}
	h.toAwaitDate()
	h.mustSend(h.option("TODAY"))

	msgs := h.tr.all()
	assert.Equal(t, fill(h.msg.Buscando, "2026-03-05", "", ""), msgs[len(msgs)-3].body)
	assert.Equal(t, fill(h.msg.SinHorarios, "2026-03-05", "", ""), msgs[len(msgs)-2].body)
	assert.Equal(t, h.msg.PedirFechaBotones, msgs[len(msgs)-1].body)
	st := h.state()
	assert.Equal(t, conversation.StepAwaitDate, st.Step)
	assert.Equal(t, "2026-03-05", st.Date)
	assert.Equal(t, conversation.KindDateMode, st.Expected.Kind)
}

func TestSlotsFilteredAndCapped(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 20; i++ {
		bucket := "Facial"
		if i%4 == 0 {
			bucket = "Corporal"
		}
		h.gw.slots = append(h.gw.slots, booking.Slot{
			EventID: fmt.Sprintf("ev%d", i),
			Start:   fmt.Sprintf("2026-03-05T%02d:00:00-03:00", i%24),
			Bucket:  bucket,
		})
	}
	h.toAwaitDate()
	h.mustSend(h.option("TODAY"))

	rows := h.last().list.Rows
	require.Len(t, rows, 12)
	st := h.state()
	require.Len(t, st.Slots, 12)
	for _, s := range st.Slots {
		assert.Equal(t, "Facial", s.Bucket)
	}
	assert.Equal(t, "ev1", st.Slots[0].EventID)
}

func TestSlotOutsideRenderedListIsInvalid(t *testing.T) {
	h := newHarness(t)
	h.gw.slots = []booking.Slot{{EventID: "ev1", Start: "2026-03-05T09:00:00-03:00", Bucket: "Facial"}}
	h.toAwaitDate()
	h.mustSend(h.option("TODAY"))
	st := h.state()

	id, err := interaction.Make(interaction.PrefixSlot, st.Expected.Token, "ev-other")
	require.NoError(t, err)
	h.mustSend(id)

	msgs := h.tr.all()
	assert.Equal(t, h.msg.SlotInvalido, msgs[len(msgs)-2].body)
	assert.Equal(t, "list", msgs[len(msgs)-1].kind)
	assert.Equal(t, conversation.StepAwaitSlotChoice, h.state().Step)
}

func TestSlotStepResumesOnFreeText(t *testing.T) {
	h := newHarness(t)
	h.gw.slots = []booking.Slot{{EventID: "ev1", Start: "2026-03-05T09:00:00-03:00", Bucket: "Facial"}}
	h.toAwaitDate()
	h.mustSend(h.option("TODAY"))
	queries := len(h.gw.queries)

	h.mustSend("las 9")
	assert.Equal(t, "list", h.last().kind)
	assert.Len(t, h.gw.queries, queries, "resume must not query again")
}

func TestPickWeekAndManualEntry(t *testing.T) {
	h := newHarness(t)
	h.toAwaitDate()
	today := h.option("TODAY")

	h.mustSend(h.option("PICK_WEEK"))
	l := h.last().list
	require.Len(t, l.Rows, 8)
	assert.Equal(t, "Jue 05-03", l.Rows[0].Title)
	assert.Equal(t, "2026-03-05", l.Rows[0].Description)
	assert.Equal(t, "Mié 11-03", l.Rows[6].Title)
	assert.Equal(t, h.msg.OtraFechaTitulo, l.Rows[7].Title)
	assert.Equal(t, conversation.KindDatePick, h.state().Expected.Kind)

	sent := len(h.tr.all())
	h.mustSend(today)
	assert.Len(t, h.tr.all(), sent, "old date buttons are ignored while the list is live")

	h.mustSend(h.option("OTRA_FECHA"))
	assert.Equal(t, h.msg.PedirFechaManual, h.last().body)
	st := h.state()
	assert.Nil(t, st.Expected)
	assert.Equal(t, conversation.StepAwaitDate, st.Step)
}

func TestPickWeekDay(t *testing.T) {
	h := newHarness(t)
	h.toAwaitDate()
	h.mustSend(h.option("PICK_WEEK"))
	h.mustSend(h.option("2026-03-07"))
	require.Len(t, h.gw.queries, 1)
	assert.Equal(t, "2026-03-07T00:00:00-03:00", h.gw.queries[0].TimeMin)
}

func TestSlotSearchFailure(t *testing.T) {
	h := newHarness(t)
	h.gw.slotsErr = errors.New("timeout")
	h.toAwaitDate()
	h.mustSend(h.option("TODAY"))

	msgs := h.tr.all()
	assert.Equal(t, h.msg.ErrorGeneral, msgs[len(msgs)-2].body)
	assert.Equal(t, conversation.StepAwaitDate, h.state().Step)
}

func TestEmailValidation(t *testing.T) {
	h := newHarness(t)
	h.toAwaitEmail()

	h.mustSend("nope")
	assert.Equal(t, h.msg.EmailInvalido, h.last().body)
	assert.Equal(t, conversation.StepAwaitEmail, h.state().Step)

	h.mustSend("Carla@Mail.COM")
	require.Len(t, h.gw.reservations, 1)
	assert.Equal(t, "carla@mail.com", h.gw.reservations[0].AttendeeEmail)
}

func TestEmailThatLooksLikeGreeting(t *testing.T) {
	h := newHarness(t)
	h.toAwaitEmail()

	h.mustSend("hola@empresa.cl")
	require.Len(t, h.gw.reservations, 1)
	assert.Equal(t, "hola@empresa.cl", h.gw.reservations[0].AttendeeEmail)
}

func TestReserveConflictFallsBackToDate(t *testing.T) {
	h := newHarness(t)
	h.toAwaitEmail()
	h.gw.reserveErr = &booking.StatusError{Op: "reserve", Status: 409}

	h.mustSend("no")
	msgs := h.tr.all()
	assert.Equal(t, h.msg.SlotTomado, msgs[len(msgs)-2].body)
	assert.Equal(t, h.msg.PedirFechaBotones, msgs[len(msgs)-1].body)

	st := h.state()
	assert.Equal(t, conversation.StepAwaitDate, st.Step)
	assert.Equal(t, "Carla", st.Name)
	assert.Equal(t, "agenda1", st.Agenda)
	assert.Equal(t, "Facial", st.Bucket)
	assert.Empty(t, st.EventID)
	assert.Equal(t, []Outcome{OutcomeConflict}, h.rec.outcomes)
}

func TestReserveFailureFallsBackToDate(t *testing.T) {
	h := newHarness(t)
	h.toAwaitEmail()
	h.gw.reserveErr = errors.New("boom")

	h.mustSend("no")
	msgs := h.tr.all()
	assert.Equal(t, h.msg.ErrorReserva, msgs[len(msgs)-2].body)
	st := h.state()
	assert.Equal(t, conversation.StepAwaitDate, st.Step)
	assert.Equal(t, "Carla", st.Name)
	assert.Equal(t, []Outcome{OutcomeFailed}, h.rec.outcomes)
}

func TestAfterMenu(t *testing.T) {
	h := newHarness(t)
	h.toAwaitEmail()
	h.mustSend("no")

	h.mustSend(h.option("AGENDAR_OTRA"))
	assert.Equal(t, conversation.StepAwaitBucket, h.state().Step)

	h = newHarness(t)
	h.toAwaitEmail()
	h.mustSend("no")
	h.mustSend(h.option("SALIR"))
	assert.Equal(t, h.msg.Despedida, h.last().body)
	st := h.state()
	assert.True(t, st.IsNew())
	assert.Equal(t, h.ts, st.LastTS)
	assert.Equal(t, []Outcome{OutcomeBooked, OutcomeExited}, h.rec.outcomes)
}

func TestNewConversationFallbacks(t *testing.T) {
	h := newHarness(t)
	h.mustSend("qué tal")
	assert.Equal(t, h.msg.Fallback, h.last().body)

	sent := len(h.tr.all())
	h.mustSend("WELCOME|deadbeefdeadbeef|SI")
	assert.Len(t, h.tr.all(), sent, "ids are ignored when nothing is expected")
}

func TestHorizonExpiryStartsOver(t *testing.T) {
	h := newHarness(t)
	h.mustSend("hola")
	h.mustSend(h.option("SI"))
	h.mustSend(h.option("Facial"))
	require.Equal(t, conversation.StepAwaitName, h.state().Step)

	h.now = h.now.Add(25 * time.Hour)
	h.mustSend("Carla")

	assert.Equal(t, h.msg.Fallback, h.last().body)
	st := h.state()
	assert.True(t, st.IsNew())
	assert.Equal(t, h.now, st.StartedAt)
	assert.Equal(t, []Outcome{OutcomeExpired}, h.rec.outcomes)
}

func TestGreetingRestartsFromAnyStep(t *testing.T) {
	h := newHarness(t)
	h.toAwaitDate()
	h.mustSend("Hola!")

	st := h.state()
	assert.Equal(t, conversation.StepAskConfirm, st.Step)
	assert.Empty(t, st.Name)
	assert.Empty(t, st.Bucket)
}

func TestSerializedEventsObservePriorWrites(t *testing.T) {
	h := newHarness(t)
	h.gw.bucketsDelay = 50 * time.Millisecond
	ctx := context.Background()

	first, err := h.eng.Submit(ctx, Event{Channel: "wa", UserKey: userKey, Raw: "agendar", TS: 10})
	require.NoError(t, err)
	second, err := h.eng.Submit(ctx, Event{Channel: "wa", UserKey: userKey, Raw: "???", TS: 11})
	require.NoError(t, err)

	for _, ch := range []<-chan queue.Result{first, second} {
		select {
		case res := <-ch:
			require.NoError(t, res.Err)
		case <-time.After(2 * time.Second):
			t.Fatal("event not processed")
		}
	}

	assert.NotContains(t, h.tr.bodies(), h.msg.Fallback, "second event must see AWAIT_BUCKET")
	assert.Equal(t, 2, h.gw.bucketCalls)
	assert.Equal(t, conversation.StepAwaitBucket, h.state().Step)
	assert.Equal(t, int64(11), h.state().LastTS)
}

func TestForget(t *testing.T) {
	h := newHarness(t)
	h.mustSend("hola")
	require.NoError(t, h.eng.Forget(context.Background(), userKey))

	st := h.state()
	assert.True(t, st.IsNew())
	assert.Zero(t, st.LastTS)
	assert.Equal(t, 0, h.store.Len())
}

func TestNewEngineRequiresCollaborators(t *testing.T) {
	_, err := NewEngine(Options{})
	assert.Error(t, err)
}
