// Package server holds the route registry mounted under the global prefix and
// the http.Server/listener plumbing.
// SPDX-License-Identifier: AGPL-3.0-or-later
package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/jsdraven/API_Bootstrap_GoLang/internal/auth"
	"github.com/jsdraven/API_Bootstrap_GoLang/internal/health"
)

// Route is one endpoint. Pattern is relative to the global prefix. Public
// routes are exempt from the access guard.
type Route struct {
	Method  string
	Pattern string
	Handler http.Handler
	Public  bool
}

// HealthRoute is GET /health, public.
func HealthRoute(rep *health.Reporter) Route {
	return Route{
		Method:  http.MethodGet,
		Pattern: "/health",
		Handler: rep.Handler(),
		Public:  true,
	}
}

// Join places pattern under prefix ("" or "/api/v1").
func Join(prefix, pattern string) string {
	if !strings.HasPrefix(pattern, "/") {
		pattern = "/" + pattern
	}
	return strings.TrimRight(prefix, "/") + pattern
}

// PublicAllowList is the guard exemption list derived from route metadata.
func PublicAllowList(prefix string, routes []Route) auth.AllowList {
	public := lo.Filter(routes, func(rt Route, _ int) bool { return rt.Public })
	return auth.NewAllowList(lo.Map(public, func(rt Route, _ int) string {
		return strings.ToUpper(rt.Method) + " " + Join(prefix, rt.Pattern)
	})...)
}

// Mount registers routes on r, which is already scoped to the prefix. mws run
// only for matched routes, so unknown paths still 404 without a token.
func Mount(r chi.Router, routes []Route, mws ...func(http.Handler) http.Handler) {
	for _, rt := range routes {
		r.With(mws...).Method(strings.ToUpper(rt.Method), rt.Pattern, rt.Handler)
	}
}
