// Package interaction encodes the identifiers carried by prompt buttons and
// list rows, and decides whether a reply answers the prompt a conversation is
// currently waiting for.
//
// An id has the form PREFIX|TOKEN|VALUE. Prefix and token never contain the
// delimiter; the value is escaped so arbitrary option payloads survive a round trip.
package interaction

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/agendabot/core/conversation"
)

// Delimiter separates the three fields of an id.
const Delimiter = "|"

// ErrDelimiter is returned when a prefix or token contains the delimiter.
var ErrDelimiter = errors.New("interaction: field contains delimiter")

// Prefixes tag every id with the prompt it belongs to.
const (
	PrefixWelcome  = "WELCOME"
	PrefixBucket   = "BUCKET"
	PrefixDateMode = "DATE_MODE"
	PrefixDate     = "DATE"
	PrefixSlot     = "SLOT"
	PrefixMenu     = "MENU"
)

var prefixKinds = map[string]conversation.Kind{
	PrefixWelcome:  conversation.KindWelcome,
	PrefixBucket:   conversation.KindBucket,
	PrefixDateMode: conversation.KindDateMode,
	PrefixDate:     conversation.KindDatePick,
	PrefixSlot:     conversation.KindSlotPick,
	PrefixMenu:     conversation.KindAfterMenu,
}

// ID is a decoded interaction identifier.
type ID struct {
	Prefix string
	Token  string
	Value  string
}

// Kind maps the id prefix to the prompt kind it answers. Unknown prefixes
// return false.
func (id ID) Kind() (conversation.Kind, bool) {
	k, ok := prefixKinds[id.Prefix]
	return k, ok
}

// PrefixFor returns the id prefix used by prompts of the given kind.
func PrefixFor(kind conversation.Kind) (string, bool) {
	for p, k := range prefixKinds {
		if k == kind {
			return p, true
		}
	}
	return "", false
}

// NewToken returns a fresh 16-hex-char token drawn from a random UUID.
// Short tokens keep ids inside the 64-byte Telegram callback limit.
func NewToken() string {
	u := uuid.New()
	return hex.EncodeToString(u[:8])
}

var valueEscaper = strings.NewReplacer("%", "%25", Delimiter, "%7C")

// Make builds PREFIX|TOKEN|VALUE.
func Make(prefix, token, value string) (string, error) {
	if prefix == "" || token == "" {
		return "", fmt.Errorf("interaction: empty prefix or token")
	}
	if strings.Contains(prefix, Delimiter) || strings.Contains(token, Delimiter) {
		return "", ErrDelimiter
	}
	return prefix + Delimiter + token + Delimiter + valueEscaper.Replace(value), nil
}

// Parse decodes an id built by Make. It fails unless raw has exactly three
// fields, a non-empty prefix and token, and a well-formed escaped value.
func Parse(raw string) (ID, bool) {
	parts := strings.Split(strings.TrimSpace(raw), Delimiter)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return ID{}, false
	}
	value, ok := unescape(parts[2])
	if !ok {
		return ID{}, false
	}
	return ID{Prefix: parts[0], Token: parts[1], Value: value}, true
}

func unescape(s string) (string, bool) {
	if !strings.Contains(s, "%") {
		return s, true
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			b.WriteByte(s[i])
			continue
		}
		if i+2 >= len(s) {
			return "", false
		}
		switch s[i+1 : i+3] {
		case "25":
			b.WriteByte('%')
		case "7C", "7c":
			b.WriteString(Delimiter)
		default:
			return "", false
		}
		i += 2
	}
	return b.String(), true
}

// IsExpected reports whether id answers the prompt st is waiting for: an
// expectation exists, has not expired at now, has the wanted kind, and
// carries the same token.
func IsExpected(st conversation.State, id ID, kind conversation.Kind, now time.Time) bool {
	exp := st.Expected
	if !exp.Live(now) {
		return false
	}
	if exp.Kind != kind {
		return false
	}
	if k, ok := id.Kind(); !ok || k != kind {
		return false
	}
	return id.Token == exp.Token
}
