// Package validate cleans form input before it reaches the store.
package validate

import (
	"html"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fyrsmithlabs/micrologger/internal/threshold"
	"github.com/microcosm-cc/bluemonday"
)

// DateLayout is the only accepted date format.
const DateLayout = "2006-01-02"

// Field length limits, in bytes.
const (
	MaxTableName   = 200
	MaxDescription = 1000
	MaxProfileKey  = 50
	MaxProduct     = 200
	MaxCode        = 100
	MaxEval        = 500
	MaxStressTest  = 500
	MaxComments    = 1000
	MaxFullName    = 255
	MaxUsername    = 50
)

var strict = bluemonday.StrictPolicy()

// SanitizeString trims s, strips markup and truncates to max bytes without
// splitting a rune. max <= 0 disables truncation.
func SanitizeString(s string, max int) string {
	s = strings.TrimSpace(s)
	if strings.ContainsAny(s, "<>&") {
		// StrictPolicy escapes what it keeps; the stored value is plain text.
		s = strings.TrimSpace(html.UnescapeString(strict.Sanitize(s)))
	}
	if max > 0 {
		s = Truncate(s, max)
	}
	return s
}

// Truncate cuts s to at most max bytes without splitting a rune.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// SanitizeNumeric returns the canonical decimal text of s, or nil when s is
// blank, not a decimal or negative.
func SanitizeNumeric(s string) *string {
	v, ok := threshold.ParseDecimal(s)
	if !ok || v < 0 {
		return nil
	}
	out := strconv.FormatFloat(v, 'f', -1, 64)
	return &out
}

// SanitizeDate returns s when it is a real calendar date in DateLayout.
func SanitizeDate(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil || t.Format(DateLayout) != s {
		return nil
	}
	return &s
}

// Required reports whether value is non-blank.
func Required(value string) bool {
	return strings.TrimSpace(value) != ""
}

// Deref returns the pointed-to string or "".
func Deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
