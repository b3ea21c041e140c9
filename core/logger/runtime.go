package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode"
)

type ctxKey int

const (
	keyLogger ctxKey = iota
	keyRID
	keyTrace
	keyChannel
	keyUserKey
	keyEventTS
	keyStep
)

func with[T comparable](ctx context.Context, key ctxKey, v T) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	var zero T
	if v == zero {
		return ctx
	}
	return context.WithValue(ctx, key, v)
}

func from[T any](ctx context.Context, key ctxKey) T {
	var zero T
	if ctx == nil {
		return zero
	}
	if v, ok := ctx.Value(key).(T); ok {
		return v
	}
	return zero
}

// WithLogger makes LogEvent use lg for ctx when no component logger applies.
func WithLogger(ctx context.Context, lg *slog.Logger) context.Context {
	return with(ctx, keyLogger, lg)
}

// FromContext returns the logger stored by WithLogger, or L.
func FromContext(ctx context.Context) *slog.Logger {
	if lg := from[*slog.Logger](ctx, keyLogger); lg != nil {
		return lg
	}
	return L
}

// WithRID attaches the request correlation id.
func WithRID(ctx context.Context, rid string) context.Context {
	return with(ctx, keyRID, rid)
}

func RIDFrom(ctx context.Context) string { return from[string](ctx, keyRID) }

// WithTrace attaches an upstream id such as the provider message id.
func WithTrace(ctx context.Context, traceID string) context.Context {
	return with(ctx, keyTrace, traceID)
}

func TraceIDFrom(ctx context.Context) string { return from[string](ctx, keyTrace) }

// WithEventMeta attaches the identifiers of one inbound conversation event.
// Empty values are skipped.
func WithEventMeta(ctx context.Context, channel, userKey string, ts int64) context.Context {
	ctx = with(ctx, keyChannel, channel)
	ctx = with(ctx, keyUserKey, userKey)
	return with(ctx, keyEventTS, ts)
}

// ChannelFrom returns the messaging channel (wa, tg) of the event in ctx.
func ChannelFrom(ctx context.Context) string { return from[string](ctx, keyChannel) }

func UserKeyFrom(ctx context.Context) string { return from[string](ctx, keyUserKey) }

func EventTSFrom(ctx context.Context) int64 { return from[int64](ctx, keyEventTS) }

// WithStep records the conversation step the event was dispatched on.
func WithStep(ctx context.Context, step string) context.Context {
	return with(ctx, keyStep, step)
}

func StepFrom(ctx context.Context) string { return from[string](ctx, keyStep) }

// Sanitize drops control and format runes except tab and newline.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, s)
}

// SanitizeLimit applies Sanitize and keeps at most max runes.
func SanitizeLimit(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(Sanitize(s))
	if len(r) > max {
		r = r[:max]
	}
	return string(r)
}

// BuildRID returns channel:userKey:ts.
func BuildRID(channel, userKey string, ts int64) string {
	return fmt.Sprintf("%s:%s:%d", channel, userKey, ts)
}

// CompactRID rewrites the numeric segments of a channel:userKey:ts RID in
// base36 joined by dots. A non-numeric channel is kept; any other input is
// returned unchanged.
func CompactRID(rid string) string {
	rid = strings.TrimSpace(rid)
	parts := strings.Split(rid, ":")
	if len(parts) != 3 {
		return rid
	}
	for i, part := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		switch {
		case err == nil:
			parts[i] = strconv.FormatInt(n, 36)
		case i == 0 && strings.TrimSpace(part) != "":
			parts[i] = strings.TrimSpace(part)
		default:
			return rid
		}
	}
	return strings.Join(parts, ".")
}
