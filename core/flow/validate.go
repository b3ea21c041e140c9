package flow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const isoDateLayout = "2006-01-02"

var (
	nameRe       = regexp.MustCompile(`^[\p{L}\s'-]+$`)
	emailRe      = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]{2,}$`)
	dateSepRe    = regexp.MustCompile(`[/.\s]+`)
	dashRunRe    = regexp.MustCompile(`-+`)
	manualDateRe = regexp.MustCompile(`^(\d{1,2})-(\d{1,2})-(\d{4})$`)
)

// ValidateName returns the trimmed display name, or false when it is shorter
// than two letters or holds anything but letters, spaces, hyphens and apostrophes.
func ValidateName(s string) (string, bool) {
	t := strings.TrimSpace(s)
	if utf8.RuneCountInString(t) < 2 || !nameRe.MatchString(t) {
		return "", false
	}
	return t, true
}

// ValidateEmail returns the lower-cased address when it looks deliverable.
func ValidateEmail(s string) (string, bool) {
	t := strings.ToLower(strings.TrimSpace(s))
	if len(t) < 6 || !emailRe.MatchString(t) {
		return "", false
	}
	return t, true
}

// ParseManualDate accepts dd-mm-yyyy with '-', '/', '.' or spaces as
// separators and returns the ISO date. Impossible dates fail.
func ParseManualDate(s string) (string, bool) {
	f := dateSepRe.ReplaceAllString(strings.TrimSpace(s), "-")
	f = dashRunRe.ReplaceAllString(f, "-")
	m := manualDateRe.FindStringSubmatch(f)
	if m == nil {
		return "", false
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	ymd := fmt.Sprintf("%04d-%02d-%02d", year, month, day)
	if !validISODate(ymd) {
		return "", false
	}
	return ymd, true
}

// validISODate reports whether s is a real calendar date in yyyy-mm-dd form.
func validISODate(s string) bool {
	_, err := time.Parse(isoDateLayout, s)
	return err == nil
}
