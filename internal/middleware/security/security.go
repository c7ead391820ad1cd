// Package security: security headers, CORS and body size middleware.
// SPDX-License-Identifier: AGPL-3.0-or-later
package security

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/jsdraven/API_Bootstrap_GoLang/internal/config"
	"github.com/jsdraven/API_Bootstrap_GoLang/internal/httperr"
)

// CORSMethods are the only methods advertised to cross-origin callers.
var CORSMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodPatch,
	http.MethodOptions,
}

// ContentSecurityPolicy restricts scripts, styles and everything else to
// same-origin; images may also come from data: URIs and any https origin.
const ContentSecurityPolicy = "default-src 'self'; " +
	"base-uri 'self'; " +
	"font-src 'self' https: data:; " +
	"form-action 'self'; " +
	"frame-ancestors 'self'; " +
	"img-src 'self' data: https:; " +
	"object-src 'none'; " +
	"script-src 'self'; " +
	"script-src-attr 'none'; " +
	"style-src 'self'; " +
	"upgrade-insecure-requests"

// Headers returns middleware that sets strict security headers on every response.
func Headers(cfg *config.Config) func(http.Handler) http.Handler {
	hsts := ""
	if cfg.HTTP.HSTSMaxAge > 0 {
		hsts = "max-age=" + strconv.Itoa(cfg.HTTP.HSTSMaxAge)
		if cfg.HTTP.HSTSIncludeSubdomains {
			hsts += "; includeSubDomains"
		}
		if cfg.HTTP.HSTSPreload {
			hsts += "; preload"
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Content-Security-Policy", ContentSecurityPolicy)
			h.Set("Cross-Origin-Opener-Policy", "same-origin")
			h.Set("Cross-Origin-Resource-Policy", "same-origin")
			h.Set("Origin-Agent-Cluster", "?1")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-DNS-Prefetch-Control", "off")
			h.Set("X-Download-Options", "noopen")
			h.Set("X-Frame-Options", "SAMEORIGIN")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
			h.Set("X-XSS-Protection", "0")

			// HSTS only on HTTPS responses
			if hsts != "" && r.TLS != nil {
				h.Set("Strict-Transport-Security", hsts)
			}

			next.ServeHTTP(w, r)
		})
	}
}

// CORS answers preflights and sets allow headers for permitted origins only.
// Preflights from other origins are rejected with 403; their simple requests
// pass through without allow headers, so browsers block the response.
func CORS(cfg *config.Config) func(http.Handler) http.Handler {
	anyOrigin := cfg.App.CORS.AllowsAnyOrigin()
	allowed := map[string]struct{}{}
	for _, o := range cfg.App.CORS.Origins {
		allowed[o] = struct{}{}
	}
	creds := cfg.App.CORS.Credentials
	allowMethods := strings.Join(CORSMethods, ",")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Not a CORS request
				next.ServeHTTP(w, r)
				return
			}
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

			// Vary to avoid cache poisoning
			w.Header().Add("Vary", "Origin")

			_, listed := allowed[origin]
			if !anyOrigin && !listed {
				if preflight {
					httperr.Write(w, r, http.StatusForbidden, "Origin "+origin+" is not allowed")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			// A wildcard cannot be combined with credentials; echo the origin instead.
			if anyOrigin && !creds {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			if creds {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if preflight {
				w.Header().Add("Vary", "Access-Control-Request-Headers")
				w.Header().Set("Access-Control-Allow-Methods", allowMethods)
				if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
					w.Header().Set("Access-Control-Allow-Headers", reqHeaders)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// MaxBodyBytes limits request size. If Content-Length exceeds limit, returns 413.
// Otherwise wraps the body so downstream reads are capped.
func MaxBodyBytes(cfg *config.Config) func(http.Handler) http.Handler {
	limit := cfg.HTTP.BodyLimit
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				httperr.Write(w, r, http.StatusRequestEntityTooLarge, "Request body is too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
