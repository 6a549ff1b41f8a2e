// Package slug builds URL slugs from human titles in any supported locale.
package slug

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxLength = 180

// Make lowercases s, strips diacritics and joins words with hyphens.
// "Centre spatial Guyanais – Kourou" becomes "centre-spatial-guyanais-kourou".
func Make(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}

	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(stripped) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
		default:
			pendingDash = true
		}
		if b.Len() > maxLength {
			break
		}
	}
	out := b.String()
	if len(out) > maxLength {
		out = out[:maxLength]
	}
	return strings.TrimRight(out, "-")
}

// WithSuffix appends a numeric suffix used to disambiguate taken slugs.
func WithSuffix(base string, n int) string {
	if n <= 1 {
		return base
	}
	return base + "-" + strconv.Itoa(n)
}

// Valid reports whether s is already a normalized slug.
func Valid(s string) bool {
	return s != "" && len(s) <= maxLength && Make(s) == s
}
