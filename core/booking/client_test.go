package booking

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", srv.Client(), time.Second)
}

func TestListBuckets(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/calendar/buckets", r.URL.Path)
		assert.Equal(t, "agenda1", r.URL.Query().Get("agenda"))
		_, _ = w.Write([]byte(`{"buckets":["Facial","Corporal"]}`))
	})

	got, err := c.ListBuckets(context.Background(), " agenda1 ")
	require.NoError(t, err)
	assert.Equal(t, []string{"Facial", "Corporal"}, got)
}

func TestListSlots(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/calendar/slots", r.URL.Path)
		assert.Equal(t, "2026-03-05T00:00:00-03:00", q.Get("time_min"))
		assert.Equal(t, "2026-03-05T23:59:59-03:00", q.Get("time_max"))
		assert.Equal(t, "100", q.Get("max_results"))
		_, _ = w.Write([]byte(`{"slots":[{"event_id":"ev1","start":{"dateTime":"2026-03-05T09:00:00-03:00"},"bucket":"Facial"}]}`))
	})

	got, err := c.ListSlots(context.Background(), SlotQuery{
		Agenda:     "agenda1",
		TimeMin:    "2026-03-05T00:00:00-03:00",
		TimeMax:    "2026-03-05T23:59:59-03:00",
		MaxResults: 100,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, Slot{EventID: "ev1", Start: "2026-03-05T09:00:00-03:00", Bucket: "Facial"}, got[0])
}

func TestReserve(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/calendar/slots/reserve", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ev1", body["event_id"])
		assert.Equal(t, "Carla", body["customer_name"])
		assert.Equal(t, "", body["attendee_email"])
		_, _ = w.Write([]byte(`{"event_id":"ev1","start":{"dateTime":"2026-03-05T09:00:00-03:00"},"status":"confirmed"}`))
	})

	got, err := c.Reserve(context.Background(), Reservation{
		Agenda:        "agenda1",
		EventID:       "ev1",
		CustomerName:  "Carla",
		CustomerPhone: "56911112222",
		Bucket:        "Facial",
	})
	require.NoError(t, err)
	assert.Equal(t, Confirmation{EventID: "ev1", Start: "2026-03-05T09:00:00-03:00", Status: "confirmed"}, got)
}

func TestReserveConflict(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"detail":"taken"}`))
	})

	_, err := c.Reserve(context.Background(), Reservation{Agenda: "agenda1", EventID: "ev1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSlotTaken))

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "HTTP_409", se.Code())
	assert.Contains(t, se.Error(), "taken")
}

func TestServerErrorIsNotConflict(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.ListBuckets(context.Background(), "agenda1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrSlotTaken))
}

func TestEmptyAgendaRejected(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", nil, time.Second)
	_, err := c.ListBuckets(context.Background(), "  ")
	assert.Error(t, err)
}
