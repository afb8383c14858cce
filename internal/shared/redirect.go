package shared

import (
	"net/url"
	"strings"
)

// SafeReturnPath accepts only same-origin absolute paths for post-login
// redirects and falls back otherwise.
func SafeReturnPath(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return fallback
	}
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() || u.Host != "" {
		return fallback
	}
	return u.RequestURI()
}
