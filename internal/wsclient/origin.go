package wsclient

import (
	"net/http"
	"net/url"
	"strings"
)

// originAllowed implements spec §4.4's origin check: if the Origin header
// is present it MUST equal the Host header, scheme-insensitive, netloc
// match. A missing Origin header is rejected, matching terminado's
// TermSocket.origin_check (which rejects check_origin() is False and an
// empty Origin is never considered a same-origin request).
func originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
