// Package intent maps free text onto the small closed set of intents the
// booking dialogue reacts to.
package intent

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Intent is the classification of one free-text message.
type Intent string

const (
	Greeting Intent = "GREETING"
	Book     Intent = "BOOK"
	Yes      Intent = "YES"
	No       Intent = "NO"
	Unknown  Intent = "UNKNOWN"
)

// Table lists the trigger phrases of each intent. Phrases may span several
// words; they match whole words only.
type Table struct {
	Greeting []string `yaml:"saludo"`
	Book     []string `yaml:"agenda"`
	Yes      []string `yaml:"si"`
	No       []string `yaml:"no"`
}

// Classify returns the first intent whose table entry matches text. Intents are
// checked in the order Greeting, Book, Yes, No.
func Classify(text string, table Table) Intent {
	words := Words(text)
	if len(words) == 0 {
		return Unknown
	}
	switch {
	case matchesAny(words, table.Greeting):
		return Greeting
	case matchesAny(words, table.Book):
		return Book
	case matchesAny(words, table.Yes):
		return Yes
	case matchesAny(words, table.No):
		return No
	}
	return Unknown
}

// Normalize lower-cases s, strips accents and trims surrounding space.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.TrimSpace(strings.ToLower(folded))
}

// Words splits the normalized form of s on anything that is not a letter or digit.
func Words(s string) []string {
	return strings.FieldsFunc(Normalize(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func matchesAny(words []string, phrases []string) bool {
	for _, p := range phrases {
		if containsRun(words, Words(p)) {
			return true
		}
	}
	return false
}

// containsRun reports whether needle occurs as a contiguous run inside words.
func containsRun(words, needle []string) bool {
	if len(needle) == 0 || len(needle) > len(words) {
		return false
	}
outer:
	for i := 0; i+len(needle) <= len(words); i++ {
		for j, w := range needle {
			if words[i+j] != w {
				continue outer
			}
		}
		return true
	}
	return false
}
