package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/m3rciful/agendabot/core/logger"
	"github.com/m3rciful/agendabot/core/netutil"
)

const maxErrorBody = 512

// Client is the HTTP implementation of Gateway.
type Client struct {
	base string
	http *http.Client
}

var _ Gateway = (*Client)(nil)

// NewClient returns a Client for baseURL. A nil httpClient selects a retrying
// client with the given timeout.
func NewClient(baseURL string, httpClient *http.Client, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = netutil.NewHTTPClient(netutil.ClientOptions{Timeout: timeout})
	}
	return &Client{
		base: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http: httpClient,
	}
}

type bucketsResponse struct {
	Buckets []string `json:"buckets"`
}

type wireStart struct {
	DateTime string `json:"dateTime"`
}

type wireSlot struct {
	EventID string    `json:"event_id"`
	Start   wireStart `json:"start"`
	Bucket  string    `json:"bucket"`
}

type slotsResponse struct {
	Slots []wireSlot `json:"slots"`
}

type reserveRequest struct {
	Agenda        string `json:"agenda"`
	EventID       string `json:"event_id"`
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	Notes         string `json:"notes"`
	AttendeeEmail string `json:"attendee_email"`
	Bucket        string `json:"bucket"`
}

type reserveResponse struct {
	EventID string    `json:"event_id"`
	Start   wireStart `json:"start"`
	Status  string    `json:"status"`
}

// ListBuckets returns the bucket codes of agenda as the service sends them.
func (c *Client) ListBuckets(ctx context.Context, agenda string) ([]string, error) {
	agenda, err := requireAgenda(agenda)
	if err != nil {
		return nil, err
	}
	q := url.Values{"agenda": {agenda}}
	var out bucketsResponse
	if err := c.do(ctx, "list_buckets", http.MethodGet, "/calendar/buckets?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Buckets, nil
}

// ListSlots returns available slots in the query window, in service order.
func (c *Client) ListSlots(ctx context.Context, sq SlotQuery) ([]Slot, error) {
	agenda, err := requireAgenda(sq.Agenda)
	if err != nil {
		return nil, err
	}
	q := url.Values{
		"agenda":   {agenda},
		"time_min": {sq.TimeMin},
		"time_max": {sq.TimeMax},
	}
	if sq.MaxResults > 0 {
		q.Set("max_results", strconv.Itoa(sq.MaxResults))
	}
	var out slotsResponse
	if err := c.do(ctx, "list_slots", http.MethodGet, "/calendar/slots?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	slots := make([]Slot, 0, len(out.Slots))
	for _, s := range out.Slots {
		slots = append(slots, Slot{EventID: s.EventID, Start: s.Start.DateTime, Bucket: s.Bucket})
	}
	return slots, nil
}

// Reserve books r.EventID. A 409 answer matches ErrSlotTaken.
func (c *Client) Reserve(ctx context.Context, r Reservation) (Confirmation, error) {
	agenda, err := requireAgenda(r.Agenda)
	if err != nil {
		return Confirmation{}, err
	}
	body := reserveRequest{
		Agenda:        agenda,
		EventID:       r.EventID,
		CustomerName:  r.CustomerName,
		CustomerPhone: r.CustomerPhone,
		Notes:         r.Notes,
		AttendeeEmail: r.AttendeeEmail,
		Bucket:        r.Bucket,
	}
	var out reserveResponse
	if err := c.do(ctx, "reserve", http.MethodPost, "/calendar/slots/reserve", body, &out); err != nil {
		return Confirmation{}, err
	}
	return Confirmation{EventID: out.EventID, Start: out.Start.DateTime, Status: out.Status}, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	start := time.Now()
	var reader io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("booking: %s: encode: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("booking: %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		err = fmt.Errorf("booking: %s: %w", op, err)
		logCall(ctx, op, start, 0, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		err := &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		logCall(ctx, op, start, resp.StatusCode, err)
		return err
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			err = fmt.Errorf("booking: %s: decode: %w", op, err)
			logCall(ctx, op, start, resp.StatusCode, err)
			return err
		}
	}
	logCall(ctx, op, start, resp.StatusCode, nil)
	return nil
}

func logCall(ctx context.Context, op string, start time.Time, status int, err error) {
	attrs := []slog.Attr{
		slog.String("op", op),
		slog.String("status", logger.Status(err)),
		slog.Int("http_status", status),
		slog.Duration("duration", logger.Took(start)),
	}
	if err != nil {
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.String("err_code", logger.ErrorCode(err)),
		)
		logger.Warn(ctx, "booking", "booking."+op, attrs...)
		return
	}
	logger.Info(ctx, "booking", "booking."+op, attrs...)
}

func requireAgenda(agenda string) (string, error) {
	a := strings.TrimSpace(agenda)
	if a == "" {
		return "", fmt.Errorf("booking: empty agenda")
	}
	return a, nil
}
