package logger

import "strings"

// Level names as they appear in the level field.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
	LevelFatal = "FATAL"
)

// enum is a closed vocabulary for one log field.
type enum map[string]struct{}

func newEnum(values ...string) enum {
	e := make(enum, len(values))
	for _, v := range values {
		e[v] = struct{}{}
	}
	return e
}

// lookup lower-cases v and reports whether it belongs to the vocabulary.
func (e enum) lookup(v string) (string, bool) {
	v = strings.ToLower(strings.TrimSpace(v))
	_, ok := e[v]
	return v, ok && v != ""
}

var (
	// statusValues are kept as-is; anything else is logged lower-cased.
	statusValues = newEnum("ok", "fail", "skip", "stale", "ignored", "retry", "rate_limited", "cancelled")
	// outcomeValues name what one flow event did. Unknown outcomes are dropped.
	outcomeValues = newEnum("ok", "ignored", "rerendered", "invalid", "booked", "conflict", "fail", "cancelled", "rate_limited")
)

func normalizeLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "":
		return LevelInfo
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	}
	return strings.ToUpper(level)
}

// defaultKeyOrder puts the envelope first, then event correlation, then the
// flow and transport details. Keys not listed follow alphabetically.
var defaultKeyOrder = concatKeys(
	[]string{"ts", "level", "component", "event", "status", "rid", "rid_full", "trace_id", "ts_unix_nano"},
	[]string{"channel", "user_key", "event_ts", "last_ts", "step", "next_step"},
	[]string{"intent", "kind", "prefix", "outcome", "duration_ms"},
	[]string{"agenda", "bucket", "fecha", "event_id", "slots", "count", "pending", "lanes"},
	[]string{"method", "path", "http_code", "mode", "listen", "public_url", "backend", "db", "host", "port", "sink"},
	[]string{"err", "err_code", "error_kind", "cause", "retryable", "attempts", "backoff_ms", "rate_limited"},
)

func concatKeys(groups ...[]string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
