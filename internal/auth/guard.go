// SPDX-License-Identifier: AGPL-3.0-or-later
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"

	"github.com/jsdraven/API_Bootstrap_GoLang/internal/httperr"
)

// Verifier checks a raw bearer token.
type Verifier interface {
	Verify(raw string) (*Claims, error)
}

type claimsKey struct{}

// ClaimsFrom returns the claims the guard attached to ctx, if any.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

// AllowList is the set of "METHOD /full/route/pattern" entries that skip
// verification.
type AllowList map[string]struct{}

// NewAllowList normalises entries such as "get /api/v1/health/".
func NewAllowList(entries ...string) AllowList {
	al := make(AllowList, len(entries))
	for _, e := range entries {
		method, path, ok := strings.Cut(strings.TrimSpace(e), " ")
		if !ok {
			continue
		}
		al[key(method, path)] = struct{}{}
	}
	return al
}

// Allows reports whether method+path is exempt. HEAD follows GET.
func (al AllowList) Allows(method, path string) bool {
	if _, ok := al[key(method, path)]; ok {
		return true
	}
	if method == http.MethodHead {
		_, ok := al[key(http.MethodGet, path)]
		return ok
	}
	return false
}

func key(method, path string) string {
	path = strings.TrimSpace(path)
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return strings.ToUpper(strings.TrimSpace(method)) + " " + path
}

// Guard requires a valid bearer token on every request whose matched chi
// route pattern is not in allow. Only the pattern is matched, never the
// request path; outside a chi router nothing is exempt.
// Preflight requests never reach it; CORS answers them first.
func Guard(v Verifier, allow AllowList, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if pattern := routePattern(r); pattern != "" && allow.Allows(r.Method, pattern) {
				next.ServeHTTP(w, r)
				return
			}

			raw, ok := bearer(r.Header.Get("Authorization"))
			if !ok {
				httperr.Write(w, r, http.StatusUnauthorized, "Unauthorized")
				return
			}
			claims, err := v.Verify(raw)
			if err != nil {
				msg := "Unauthorized"
				if errors.Is(err, ErrExpiredToken) {
					msg = "Token expired"
				}
				logger.Debug("auth_rejected", "path", r.URL.Path, "err", err)
				httperr.Write(w, r, http.StatusUnauthorized, msg)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// routePattern is the full pattern of the matched route, prefix included.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

func bearer(h string) (string, bool) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}
