package session

import (
	"net/url"
	"strings"
)

const (
	DefaultRedirect   = "/learn"
	maxRedirectLength = 500
)

// SanitizeRedirectURL keeps redirect targets on the site. Anything that
// could leave the origin or run script falls back to fallback, or to
// DefaultRedirect when fallback is empty.
func SanitizeRedirectURL(raw, fallback string) string {
	if fallback == "" {
		fallback = DefaultRedirect
	}

	if raw == "" || len(raw) > maxRedirectLength {
		return fallback
	}

	lower := strings.ToLower(raw)
	if strings.Contains(raw, "://") ||
		strings.HasPrefix(raw, "//") ||
		strings.Contains(lower, "javascript:") ||
		strings.Contains(lower, "data:") {
		return fallback
	}

	for _, r := range raw {
		if r < 0x20 || r == 0x7f || r == '\\' {
			return fallback
		}
	}

	if !strings.HasPrefix(raw, "/") {
		return "/" + raw
	}

	return raw
}

// AbsoluteURL places a site-relative path on the public site origin.
func AbsoluteURL(baseURL, path string) string {
	if !strings.HasPrefix(path, "/") {
		return path
	}

	return strings.TrimSuffix(baseURL, "/") + path
}

// errorRedirect returns the landing page URL carrying an auth_error code.
func errorRedirect(baseURL, landing, code string) string {
	q := url.Values{}
	q.Set("auth_error", code)

	return AbsoluteURL(baseURL, landing) + "?" + q.Encode()
}
