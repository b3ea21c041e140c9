package logger

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

type logFormat string

const (
	formatJSON logFormat = "json"
	formatKV   logFormat = "kv"
)

const tsLayout = "2006-01-02T15:04:05.000Z07:00"

type handlerConfig struct {
	level    slog.Leveler
	writer   *asyncWriter
	format   logFormat
	keyOrder []string
}

// structuredHandler renders one flat line per record. Groups become dotted
// keys, durations become integer *_ms fields, and the event context found in
// ctx is appended.
type structuredHandler struct {
	cfg    handlerConfig
	attrs  []slog.Attr
	groups []string
}

func newStructuredHandler(cfg handlerConfig) *structuredHandler {
	if cfg.level == nil {
		cfg.level = slog.LevelInfo
	}
	if cfg.keyOrder == nil {
		cfg.keyOrder = slices.Clone(defaultKeyOrder)
	}
	return &structuredHandler{cfg: cfg}
}

func (h *structuredHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.cfg.level.Level()
}

func (h *structuredHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.cfg.writer == nil {
		return errors.New("logger: writer not initialized")
	}
	asJSON := h.cfg.format == formatJSON

	f := make(fields, 16)
	ts := r.Time.UTC()
	f["ts"] = ts.Truncate(time.Millisecond).Format(tsLayout)
	f["level"] = normalizeLevel(r.Level.String())
	if asJSON {
		f["ts_unix_nano"] = ts.UnixNano()
	}

	prefix := strings.Join(h.groups, ".")
	for _, a := range h.attrs {
		f.add(prefix, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		f.add(prefix, a)
		return true
	})
	f.fromContext(ctx)

	if rid := f.str("rid"); rid != "" {
		if short := CompactRID(rid); short != rid {
			f["rid"] = short
			if asJSON {
				f.setDefault("rid_full", rid)
			}
		}
	}
	if f.str("event") == "" {
		f["event"] = cmp.Or(r.Message, "unknown")
	}
	if f.str("component") == "" {
		f["component"] = "app"
	}
	f.normalize()

	var line []byte
	if asJSON {
		var err error
		if line, err = f.encodeJSON(h.cfg.keyOrder); err != nil {
			return err
		}
	} else {
		line = f.encodeKV(h.cfg.keyOrder)
	}
	return h.cfg.writer.Write(append(line, '\n'))
}

func (h *structuredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(slices.Clone(h.attrs), attrs...)
	return &clone
}

func (h *structuredHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(slices.Clone(h.groups), name)
	return &clone
}

// fields is one log line before encoding.
type fields map[string]any

func (f fields) add(prefix string, a slog.Attr) {
	key := a.Key
	if prefix != "" && key != "" {
		key = prefix + "." + key
	} else if key == "" {
		key = prefix
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, child := range a.Value.Group() {
			f.add(key, child)
		}
		return
	}
	if key == "" {
		return
	}
	if k, v, ok := flatValue(key, a.Value.Resolve()); ok {
		f[k] = v
	}
}

// flatValue maps an attribute to a JSON-friendly scalar. Durations are
// renamed so their key ends in _ms.
func flatValue(key string, v slog.Value) (string, any, bool) {
	switch v.Kind() {
	case slog.KindString:
		return key, strings.TrimSpace(v.String()), true
	case slog.KindBool:
		return key, v.Bool(), true
	case slog.KindInt64:
		return key, v.Int64(), true
	case slog.KindUint64:
		if u := v.Uint64(); u <= math.MaxInt64 {
			return key, int64(u), true
		}
		return key, v.Uint64(), true
	case slog.KindFloat64:
		return key, v.Float64(), true
	case slog.KindDuration:
		return durationKey(key), RoundMS(v.Duration()).Milliseconds(), true
	case slog.KindTime:
		return key, v.Time().UTC().Format(time.RFC3339Nano), true
	}
	switch x := v.Any().(type) {
	case nil:
		return "", nil, false
	case error:
		return key, x.Error(), true
	case string:
		return key, strings.TrimSpace(x), true
	case time.Duration:
		return durationKey(key), RoundMS(x).Milliseconds(), true
	case fmt.Stringer:
		return key, x.String(), true
	default:
		return key, fmt.Sprint(x), true
	}
}

// durationKey renames duration attributes so every one of them ends in _ms.
func durationKey(key string) string {
	switch {
	case key == "duration":
		return "duration_ms"
	case strings.HasSuffix(key, "_duration"):
		return key + "_ms"
	case strings.HasSuffix(key, "_ms"):
		return key
	}
	return key + "_ms"
}

func (f fields) str(key string) string {
	switch v := f[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func (f fields) setDefault(key string, v any) {
	if _, ok := f[key]; !ok {
		f[key] = v
	}
}

// fromContext adds the event correlation carried by ctx. Explicit attributes win.
func (f fields) fromContext(ctx context.Context) {
	if ctx == nil {
		return
	}
	for _, kv := range []struct {
		key string
		val string
	}{
		{"rid", RIDFrom(ctx)},
		{"trace_id", TraceIDFrom(ctx)},
		{"channel", ChannelFrom(ctx)},
		{"user_key", UserKeyFrom(ctx)},
		{"step", StepFrom(ctx)},
	} {
		if kv.val != "" {
			f.setDefault(kv.key, kv.val)
		}
	}
	if ts := EventTSFrom(ctx); ts != 0 {
		f.setDefault("event_ts", ts)
	}
}

// normalize upper-cases the level, lower-cases status, drops unknown
// outcomes and removes empty values.
func (f fields) normalize() {
	f["level"] = normalizeLevel(f.str("level"))
	if s := f.str("status"); s != "" {
		f["status"], _ = statusValues.lookup(s)
	}
	if o := f.str("outcome"); o != "" {
		if v, ok := outcomeValues.lookup(o); ok {
			f["outcome"] = v
		} else {
			delete(f, "outcome")
		}
	}
	for k, v := range f {
		switch x := v.(type) {
		case nil:
			delete(f, k)
		case string:
			if x == "" {
				delete(f, k)
			}
		}
	}
}

// keys returns order's keys present in f, then the rest sorted.
func (f fields) keys(order []string) []string {
	out := make([]string, 0, len(f))
	listed := make(map[string]bool, len(order))
	for _, k := range order {
		if _, ok := f[k]; ok && !listed[k] {
			out = append(out, k)
		}
		listed[k] = true
	}
	var rest []string
	for k := range f {
		if !listed[k] {
			rest = append(rest, k)
		}
	}
	slices.Sort(rest)
	return append(out, rest...)
}

func (f fields) encodeJSON(order []string) ([]byte, error) {
	buf := []byte{'{'}
	for i, k := range f.keys(order) {
		val, err := json.Marshal(f[k])
		if err != nil {
			return nil, fmt.Errorf("logger: encode %s: %w", k, err)
		}
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendQuote(buf, k)
		buf = append(buf, ':')
		buf = append(buf, val...)
	}
	return append(buf, '}'), nil
}

func (f fields) encodeKV(order []string) []byte {
	var b strings.Builder
	for i, k := range f.keys(order) {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(kvValue(f[k]))
	}
	return []byte(b.String())
}

func kvValue(v any) string {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		s = fmt.Sprint(x)
	}
	if strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
		return strconv.Quote(s)
	}
	return s
}
