package whatsapp

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Cloud API limits for interactive messages.
const (
	maxButtons        = 3
	maxButtonTitle    = 20
	maxRows           = 10
	maxRowTitle       = 24
	maxRowDescription = 72
	maxListButton     = 20
	maxSectionTitle   = 24
	maxBody           = 1024
)

var (
	spaceRe       = regexp.MustCompile(`\s+`)
	abbreviations = []struct {
		re   *regexp.Regexp
		repl string
	}{
		{regexp.MustCompile(`(?i)\btratamientos?\b`), "Trat."},
		{regexp.MustCompile(`(?i)\bcorporal(es)?\b`), "Corp."},
		{regexp.MustCompile(`(?i)\bfacial(es)?\b`), "Fac."},
		{regexp.MustCompile(`(?i)\baparatolog[íi]a\b`), "Aparat."},
	}
)

// ButtonTitle squeezes a reply button label into the 20-rune limit,
// abbreviating the usual service words first.
func ButtonTitle(s string) string {
	t := strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
	for _, a := range abbreviations {
		t = a.re.ReplaceAllString(t, a.repl)
	}
	if t == "" {
		return "Opción"
	}
	return clip(t, maxButtonTitle)
}

// clip cuts s to at most n runes, ending with an ellipsis when it had to cut.
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimRight(string(r[:n-1]), " ") + "…"
}
