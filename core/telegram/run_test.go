package telegram

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	coreconfig "github.com/m3rciful/agendabot/core/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"
)

func TestNewPollerLongpoll(t *testing.T) {
	cfg := &coreconfig.Config{}
	cfg.Telegram.RunMode = coreconfig.RunModeLongpoll

	p, attrs := newPoller(cfg)
	lp, ok := p.(*tele.LongPoller)
	require.True(t, ok)
	assert.Equal(t, defaultLongPoll, lp.Timeout)
	assert.Equal(t, []string{"message", "callback_query"}, lp.AllowedUpdates)
	assert.Equal(t, "mode", attrs[0].Key)
	assert.Equal(t, coreconfig.RunModeLongpoll, attrs[0].Value.String())

	cfg.Telegram.LongPollTimeoutSeconds = 25
	p, _ = newPoller(cfg)
	assert.Equal(t, 25*time.Second, p.(*tele.LongPoller).Timeout)
}

func TestNewPollerWebhook(t *testing.T) {
	cfg := &coreconfig.Config{}
	cfg.Telegram.RunMode = coreconfig.RunModeWebhook
	cfg.Webhook.Listen = "0.0.0.0"
	cfg.Webhook.Port = 8443
	cfg.Webhook.URL = "https://bot.example.cl/tg"

	p, _ := newPoller(cfg)
	wh, ok := p.(*tele.Webhook)
	require.True(t, ok)
	assert.Equal(t, "0.0.0.0:8443", wh.Listen)
	assert.Equal(t, "https://bot.example.cl/tg", wh.Endpoint.PublicURL)
}

func TestPollingClientOutlivesPoll(t *testing.T) {
	c := pollingClient(30)
	assert.Equal(t, 50*time.Second, c.Timeout)
}

func TestRunTelegramRejectsMissingDeps(t *testing.T) {
	assert.Error(t, RunTelegram(context.Background(), RunOptions{}))
	assert.Error(t, RunTelegram(context.Background(), RunOptions{Config: &coreconfig.Config{}}))
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{context.DeadlineExceeded, "timeout"},
		{&net.DNSError{Err: "no such host", Name: "api.telegram.org"}, "dns"},
		{&net.DNSError{Err: "timeout", IsTimeout: true}, "timeout"},
		{&net.OpError{Op: "dial", Err: errors.New("refused")}, "dial"},
		{fmt.Errorf("send: %w", &tele.Error{Code: 403}), "http_4xx"},
		{&tele.Error{Code: 502}, "http_5xx"},
		{&tele.Error{Code: 429}, "flood"},
		{errors.New("odd"), "unknown"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, classifyError(tc.err), "%v", tc.err)
	}
}

func TestSanitizeErrorMessageMasksToken(t *testing.T) {
	err := errors.New(`Post "https://api.telegram.org/bot123456:AA-bb_CC/sendMessage": EOF`)
	assert.Equal(t, `Post "https://api.telegram.org/bot<redacted>/sendMessage": EOF`, sanitizeErrorMessage(err))
}
