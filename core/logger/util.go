package logger

import (
	"errors"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Status is "fail" for a non-nil err and "ok" otherwise.
func Status(err error) string {
	if err == nil {
		return "ok"
	}
	return "fail"
}

// Took is the time elapsed since start, rounded to the millisecond.
func Took(start time.Time) time.Duration { return RoundMS(time.Since(start)) }

// RoundMS rounds d to whole milliseconds; negative durations become zero.
func RoundMS(d time.Duration) time.Duration {
	return max(d, 0).Round(time.Millisecond)
}

// SummarizeStrings joins at most limit values with ", " and reports whether
// any were left out.
func SummarizeStrings(values []string, limit int) (string, bool) {
	n := min(max(limit, 0), len(values))
	return strings.Join(values[:n], ", "), n < len(values)
}

type coder interface{ Code() string }

// ErrorCode is the err_code attribute for err: the Code() of the first error
// in the chain that has one, else the innermost error's type name, upper-cased.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if c := coder(nil); errors.As(err, &c) {
		if code := strings.TrimSpace(c.Code()); code != "" {
			return strings.ToUpper(strings.Join(strings.Fields(code), "_"))
		}
	}
	root := err
	for inner := errors.Unwrap(root); inner != nil; inner = errors.Unwrap(root) {
		root = inner
	}
	typ := reflect.TypeOf(root)
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Name() == "" {
		return "UNKNOWN_ERROR"
	}
	return strings.ToUpper(typ.Name())
}

// ratioSampler admits the first num events of every den. A zero ratio admits
// everything.
type ratioSampler struct {
	mu       sync.Mutex
	num, den int
	seen     int
}

func newRatioSampler(num, den int) *ratioSampler {
	s := new(ratioSampler)
	s.Set(num, den)
	return s
}

func (s *ratioSampler) Set(num, den int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = 0
	s.num, s.den = 0, 0
	if num > 0 && den > 0 {
		s.num, s.den = min(num, den), den
	}
}

func (s *ratioSampler) Allow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.den == 0 {
		return true
	}
	pos := s.seen % s.den
	s.seen = pos + 1
	return pos < s.num
}

// parseRatioSpec reads "n/d", or "d" as shorthand for 1/d. Anything else
// yields 0/0.
func parseRatioSpec(spec string) (num, den int) {
	spec = strings.TrimSpace(spec)
	if a, b, ok := strings.Cut(spec, "/"); ok {
		n, errN := strconv.Atoi(strings.TrimSpace(a))
		d, errD := strconv.Atoi(strings.TrimSpace(b))
		if errN != nil || errD != nil {
			return 0, 0
		}
		return n, d
	}
	if d, err := strconv.Atoi(spec); err == nil && d > 0 {
		return 1, d
	}
	return 0, 0
}
