// Package whatsapp connects the booking flow to the WhatsApp Cloud API: an
// outbound message client and the inbound webhook server.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	coreconfig "github.com/m3rciful/agendabot/core/config"
	"github.com/m3rciful/agendabot/core/logger"
	"github.com/m3rciful/agendabot/core/netutil"
	"github.com/m3rciful/agendabot/core/prompt"
)

const maxErrorBody = 512

// APIError is a non-2xx answer from the Cloud API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp: send: status %d: %s", e.Status, e.Body)
}

// Code exposes the HTTP status for log error codes.
func (e *APIError) Code() string { return fmt.Sprintf("WA_HTTP_%d", e.Status) }

// Client sends text, button and list messages from one business phone number.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

var _ prompt.Transport = (*Client)(nil)

// NewClient builds a client for cfg. A nil httpClient gets the shared
// retrying client; message sends are POSTs and are never retried.
func NewClient(cfg coreconfig.WhatsAppConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = netutil.NewHTTPClient(netutil.ClientOptions{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		})
	}
	base := strings.TrimRight(cfg.APIBaseURL, "/")
	return &Client{
		endpoint: fmt.Sprintf("%s/%s/%s/messages", base, cfg.APIVersion, cfg.PhoneNumberID),
		token:    cfg.AccessToken,
		http:     httpClient,
	}
}

type textBody struct {
	Body string `json:"body"`
}

type outbound struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type,omitempty"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *textBody    `json:"text,omitempty"`
	Interactive      *interactive `json:"interactive,omitempty"`
}

type interactive struct {
	Type   string   `json:"type"`
	Body   textBody `json:"body"`
	Action action   `json:"action"`
}

type action struct {
	Buttons  []replyButton `json:"buttons,omitempty"`
	Button   string        `json:"button,omitempty"`
	Sections []section     `json:"sections,omitempty"`
}

type replyButton struct {
	Type  string `json:"type"`
	Reply reply  `json:"reply"`
}

type reply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type section struct {
	Title string `json:"title,omitempty"`
	Rows  []row  `json:"rows"`
}

type row struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, to, body string) error {
	return c.send(ctx, "text", outbound{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             &textBody{Body: clip(body, 4096)},
	})
}

// SendButtons sends up to three reply buttons; extra buttons are dropped.
func (c *Client) SendButtons(ctx context.Context, to, body string, buttons []prompt.Button) error {
	if len(buttons) > maxButtons {
		buttons = buttons[:maxButtons]
	}
	act := action{Buttons: make([]replyButton, 0, len(buttons))}
	for _, b := range buttons {
		act.Buttons = append(act.Buttons, replyButton{
			Type:  "reply",
			Reply: reply{ID: b.ID, Title: ButtonTitle(b.Title)},
		})
	}
	return c.send(ctx, "buttons", outbound{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "interactive",
		Interactive: &interactive{
			Type:   "button",
			Body:   textBody{Body: clip(body, maxBody)},
			Action: act,
		},
	})
}

// SendList sends a single-section list of at most ten rows.
func (c *Client) SendList(ctx context.Context, to string, list prompt.List) error {
	rows := list.Rows
	if len(rows) > maxRows {
		rows = rows[:maxRows]
	}
	sec := section{Title: clip(list.SectionTitle, maxSectionTitle), Rows: make([]row, 0, len(rows))}
	for _, r := range rows {
		sec.Rows = append(sec.Rows, row{
			ID:          r.ID,
			Title:       clip(r.Title, maxRowTitle),
			Description: clip(r.Description, maxRowDescription),
		})
	}
	label := clip(list.ButtonLabel, maxListButton)
	if label == "" {
		label = "Ver opciones"
	}
	return c.send(ctx, "list", outbound{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "interactive",
		Interactive: &interactive{
			Type:   "list",
			Body:   textBody{Body: clip(list.Body, maxBody)},
			Action: action{Button: label, Sections: []section{sec}},
		},
	})
}

func (c *Client) send(ctx context.Context, kind string, msg outbound) (err error) {
	start := time.Now()
	status := 0
	defer func() {
		attrs := []slog.Attr{
			slog.String("status", logger.Status(err)),
			slog.String("kind", kind),
			slog.Int("http_status", status),
			slog.Duration("duration", logger.Took(start)),
		}
		if err != nil {
			attrs = append(attrs,
				slog.String("err", c.redact(err.Error())),
				slog.String("err_code", logger.ErrorCode(err)),
			)
			logger.Error(ctx, "wa", "wa.send", attrs...)
			return
		}
		if logger.ShouldSampleDebug() {
			logger.Debug(ctx, "wa", "wa.send", attrs...)
		}
	}()

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("whatsapp: encode %s: %w", kind, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("whatsapp: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: send %s: %s", kind, c.redact(err.Error()))
	}
	defer resp.Body.Close()
	status = resp.StatusCode
	if status < 200 || status > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Status: status, Body: c.redact(strings.TrimSpace(string(body)))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) redact(s string) string {
	if c.token == "" {
		return s
	}
	return strings.ReplaceAll(s, c.token, "<redacted>")
}
