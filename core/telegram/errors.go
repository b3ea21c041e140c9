package telegram

import (
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"

	tele "gopkg.in/telebot.v4"
)

// botTokenPattern matches the token as it appears inside Bot API URLs.
var botTokenPattern = regexp.MustCompile(`bot\d+:[\w-]+`)

// sanitizeErrorMessage renders err with any bot token masked.
func sanitizeErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	return botTokenPattern.ReplaceAllLiteralString(err.Error(), "bot<redacted>")
}

// classifyError names the failure family for the error_kind attribute.
func classifyError(err error) string {
	if err == nil {
		return ""
	}
	if kind := networkKind(err); kind != "" {
		return kind
	}
	code := apiStatus(err)
	switch {
	case code == http.StatusTooManyRequests:
		return "flood"
	case code >= http.StatusInternalServerError:
		return "http_5xx"
	case code >= http.StatusBadRequest:
		return "http_4xx"
	}
	return "unknown"
}

func networkKind(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if dns := (*net.DNSError)(nil); errors.As(err, &dns) {
		if dns.IsTimeout {
			return "timeout"
		}
		return "dns"
	}
	if ne := net.Error(nil); errors.As(err, &ne) && ne.Timeout() {
		return "timeout"
	}
	if op := (*net.OpError)(nil); errors.As(err, &op) && op.Op == "dial" {
		return "dial"
	}
	return ""
}

// apiStatus extracts the HTTP-like status of a Bot API error, or 0.
func apiStatus(err error) int {
	if apiErr := (*tele.Error)(nil); errors.As(err, &apiErr) {
		return apiErr.Code
	}
	if errors.As(err, new(tele.FloodError)) {
		return http.StatusTooManyRequests
	}
	if errors.As(err, new(tele.GroupError)) {
		return http.StatusBadRequest
	}
	return 0
}
