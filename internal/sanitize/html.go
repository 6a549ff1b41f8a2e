package sanitize

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var (
	// strictPolicy removes every tag. Used for titles, names, emails and
	// reasons typed by visitors or admins.
	strictPolicy = bluemonday.StrictPolicy()

	// descriptionPolicy keeps the small formatting subset the place editor
	// produces.
	descriptionPolicy = newDescriptionPolicy()
)

func newDescriptionPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "strong", "b", "em", "i", "ul", "ol", "li", "blockquote", "h3", "h4")
	p.AllowStandardURLs()
	p.AllowAttrs("href").OnElements("a")
	p.RequireNoFollowOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	return p
}

// Text strips all markup and returns plain text. Entities produced by the
// sanitizer are decoded again because templates escape on output.
func Text(input string) string {
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(input)))
}

// HTML keeps the formatting subset allowed in place descriptions.
func HTML(input string) string {
	return strings.TrimSpace(descriptionPolicy.Sanitize(input))
}

// Excerpt returns at most maxRunes runes of plain text from an HTML
// fragment, cut on a word boundary when possible.
func Excerpt(input string, maxRunes int) string {
	text := strings.Join(strings.Fields(Text(strings.ReplaceAll(input, "<", " <"))), " ")
	if utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	runes := []rune(text)
	cut := string(runes[:maxRunes])
	if i := strings.LastIndexByte(cut, ' '); i > maxRunes/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:") + "…"
}

// TextSlice sanitizes each string in a slice, removing all HTML.
func TextSlice(inputs []string) []string {
	if inputs == nil {
		return nil
	}
	sanitized := make([]string, len(inputs))
	for i, input := range inputs {
		sanitized[i] = Text(input)
	}
	return sanitized
}
