package server

import (
	"net/http"
	"net/url"
	"strings"
)

// originAllowed reports whether r may use the control API or the feed.
// Requests without an Origin header come from non-browser clients and pass;
// browser requests must come from the same host or a listed origin.
func originAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}

	if strings.EqualFold(u.Host, r.Host) {
		return true
	}

	for _, a := range allowed {
		if strings.EqualFold(strings.TrimSuffix(a, "/"), origin) {
			return true
		}
	}
	return false
}
