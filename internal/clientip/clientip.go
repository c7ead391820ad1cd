// Package clientip resolves the client address shared by request logging and
// rate limiting.
// SPDX-License-Identifier: AGPL-3.0-or-later
package clientip

import (
	"net"
	"net/http"
	"strings"
)

// From returns the client IP. With trustProxy the first X-Forwarded-For hop
// wins (port stripped); otherwise, or when the header is absent, the host of
// RemoteAddr. chi's RealIP may already have rewritten RemoteAddr, in which
// case both branches agree.
func From(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			ip, _, _ := strings.Cut(xff, ",")
			ip = strings.TrimSpace(ip)
			if h, p, err := net.SplitHostPort(ip); err == nil && h != "" && p != "" {
				return h
			}
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr // best effort
	}
	return host
}
