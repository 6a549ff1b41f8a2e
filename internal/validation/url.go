package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// URLValidationError describes why a configured URL was rejected.
type URLValidationError struct {
	Field   string
	Message string
	URL     string
}

func (e URLValidationError) Error() string {
	return fmt.Sprintf("%s: %s (url: %s)", e.Field, e.Message, e.URL)
}

// ValidateURL accepts absolute http(s) URLs. Empty input is valid; callers
// enforce presence separately.
func ValidateURL(raw, field string, requireHTTPS bool) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return URLValidationError{Field: field, Message: "invalid URL format", URL: raw}
	}
	scheme := strings.ToLower(u.Scheme)
	switch {
	case scheme == "":
		return URLValidationError{Field: field, Message: "URL must include a scheme (http:// or https://)", URL: raw}
	case u.Host == "":
		return URLValidationError{Field: field, Message: "URL must include a host", URL: raw}
	case scheme != "http" && scheme != "https":
		return URLValidationError{Field: field, Message: "URL scheme must be http or https", URL: raw}
	case requireHTTPS && scheme != "https":
		return URLValidationError{Field: field, Message: "URL must use HTTPS in production", URL: raw}
	}
	return nil
}

// ValidateBaseURL is ValidateURL for values that prefix generated links:
// no path, query or fragment.
func ValidateBaseURL(raw, field string, requireHTTPS bool) error {
	if err := ValidateURL(raw, field, requireHTTPS); err != nil || raw == "" {
		return err
	}
	u, _ := url.Parse(raw)
	if u.Path != "" && u.Path != "/" {
		return URLValidationError{Field: field, Message: "base URL must not contain a path", URL: raw}
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return URLValidationError{Field: field, Message: "base URL must not contain a query or fragment", URL: raw}
	}
	return nil
}

// SafeRedirect reports whether target is a same-site absolute path, for
// redirects built from user input.
func SafeRedirect(target string) bool {
	if target == "" || !strings.HasPrefix(target, "/") {
		return false
	}
	if strings.HasPrefix(target, "//") || strings.HasPrefix(target, `/\`) {
		return false
	}
	u, err := url.Parse(target)
	return err == nil && u.Scheme == "" && u.Host == ""
}
