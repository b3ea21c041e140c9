package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/m3rciful/agendabot/core/flow"
	"github.com/m3rciful/agendabot/core/logger"
	"github.com/m3rciful/agendabot/core/queue"
	"github.com/m3rciful/agendabot/core/ratelimit"

	"github.com/gin-gonic/gin"
)

// Channel names WhatsApp events in logs and transcripts.
const Channel = "wa"

const signatureHeader = "X-Hub-Signature-256"

// Submitter accepts inbound events. *flow.Engine implements it.
type Submitter interface {
	Submit(ctx context.Context, ev flow.Event) (<-chan queue.Result, error)
}

// ServerOptions configures the webhook server.
type ServerOptions struct {
	VerifyToken string
	// AppSecret enables X-Hub-Signature-256 checks when set.
	AppSecret string
	Path      string
	Engine    Submitter
	Limiter   *ratelimit.Keyed
}

// Server receives Cloud API webhooks and hands each message to the engine.
type Server struct {
	opts   ServerOptions
	router *gin.Engine
}

// NewServer builds the gin router with verify, receive and health routes.
func NewServer(opts ServerOptions) *Server {
	if opts.Path == "" {
		opts.Path = "/webhook"
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(recoverMiddleware(), requestLogger())

	s := &Server{opts: opts, router: r}
	r.GET("/health", s.health)
	r.GET(opts.Path, s.verify)
	r.POST(opts.Path, s.receive)
	return s
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on listen until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, listen string) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "wa", "wa.listen", slog.String("addr", listen), slog.String("path", s.opts.Path))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info(ctx, "wa", "wa.stopped")
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) verify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	if mode == "subscribe" && token != "" && hmac.Equal([]byte(token), []byte(s.opts.VerifyToken)) {
		logger.Info(c.Request.Context(), "wa", "wa.verify", slog.String("status", "ok"))
		c.String(http.StatusOK, c.Query("hub.challenge"))
		return
	}
	logger.Warn(c.Request.Context(), "wa", "wa.verify", slog.String("status", "fail"))
	c.Status(http.StatusForbidden)
}

func (s *Server) receive(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	if s.opts.AppSecret != "" && !validSignature(s.opts.AppSecret, c.GetHeader(signatureHeader), body) {
		logger.Warn(c.Request.Context(), "wa", "wa.signature", slog.String("status", "fail"))
		c.Status(http.StatusUnauthorized)
		return
	}
	c.Status(http.StatusOK)

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		logger.Warn(c.Request.Context(), "wa", "wa.receive",
			slog.String("status", "ignored"),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
		return
	}
	ctx := context.WithoutCancel(c.Request.Context())
	for _, ev := range payload.events() {
		s.submit(ctx, ev)
	}
}

func (s *Server) submit(ctx context.Context, ev flow.Event) {
	ctx = logger.WithEventMeta(ctx, ev.Channel, ev.UserKey, ev.TS)
	ctx = logger.WithRID(ctx, logger.BuildRID(ev.Channel, ev.UserKey, ev.TS))
	if !s.opts.Limiter.Allow(ev.UserKey) {
		logger.Warn(ctx, "wa", "wa.rate_limit", slog.String("status", "rate_limited"))
		return
	}
	if _, err := s.opts.Engine.Submit(ctx, ev); err != nil {
		logger.Error(ctx, "wa", "wa.submit",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
	}
}

// validSignature checks header "sha256=<hex>" against HMAC-SHA256(body, secret).
func validSignature(secret, header string, body []byte) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []inboundMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *reply `json:"button_reply"`
		ListReply   *reply `json:"list_reply"`
	} `json:"interactive"`
	Button *struct {
		Payload string `json:"payload"`
		Text    string `json:"text"`
	} `json:"button"`
}

// events flattens the payload into flow events. Message timestamps have
// second resolution, so the position inside the batch is added in
// milliseconds to keep same-second messages ordered.
func (p webhookPayload) events() []flow.Event {
	var out []flow.Event
	for _, e := range p.Entry {
		for _, ch := range e.Changes {
			for i, m := range ch.Value.Messages {
				key := DigitsOnly(m.From)
				if key == "" {
					continue
				}
				secs, _ := strconv.ParseInt(m.Timestamp, 10, 64)
				out = append(out, flow.Event{
					Channel: Channel,
					UserKey: key,
					Raw:     m.raw(),
					TS:      secs*1000 + int64(i),
					TraceID: m.ID,
				})
			}
		}
	}
	return out
}

func (m inboundMessage) raw() string {
	switch {
	case m.Interactive != nil && m.Interactive.ButtonReply != nil:
		return m.Interactive.ButtonReply.ID
	case m.Interactive != nil && m.Interactive.ListReply != nil:
		return m.Interactive.ListReply.ID
	case m.Button != nil:
		if m.Button.Payload != "" {
			return m.Button.Payload
		}
		return m.Button.Text
	case m.Text != nil:
		return strings.TrimSpace(m.Text.Body)
	}
	return ""
}

// DigitsOnly keeps the digits of a phone number: "+56 9 7341 0397" -> "56973410397".
func DigitsOnly(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func recoverMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(c.Request.Context(), "wa", "wa.panic",
					slog.Any("err", r),
					slog.String("stack", string(debug.Stack())),
				)
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if !logger.ShouldSampleDebug() {
			return
		}
		logger.Debug(c.Request.Context(), "wa", "http.request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("http_status", c.Writer.Status()),
			slog.Duration("duration", logger.Took(start)),
		)
	}
}
