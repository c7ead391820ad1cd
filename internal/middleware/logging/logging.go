// Package logging: request logging middleware with header redaction and
// optional client IP hashing.
// SPDX-License-Identifier: AGPL-3.0-or-later
package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jsdraven/API_Bootstrap_GoLang/internal/clientip"
	"github.com/jsdraven/API_Bootstrap_GoLang/internal/config"
)

type requestLogger struct {
	logger     *slog.Logger
	allowed    map[string]struct{} // lower-cased header names to log
	redact     map[string]struct{} // lower-cased header names to mask
	skip       []string
	trustProxy bool
	hashIPs    bool
	salt       string
	withQuery  bool
}

// HTTP logs one "http_request" event per request using chi's
// WrapResponseWriter to capture status and size. 5xx log at error, 4xx at warn.
func HTTP(cfg *config.Config, logger *slog.Logger) func(http.Handler) http.Handler {
	rl := &requestLogger{
		logger:     logger,
		allowed:    lowerSet(cfg.Log.AllowedHeaders),
		redact:     lowerSet(cfg.Log.RedactHeaders),
		skip:       cfg.Log.SkipPaths,
		trustProxy: cfg.HTTP.TrustProxy,
		hashIPs:    cfg.Log.HashIPs,
		salt:       cfg.Log.IPHashSalt,
		withQuery:  cfg.Log.IncludeQuery,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.skipped(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ipLabel, ipVal := rl.remote(r)
			fields := []any{
				"method", r.Method,
				"path", rl.path(r),
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				ipLabel, ipVal,
				"request_id", middleware.GetReqID(r.Context()),
			}
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				fields = append(fields, "route", rctx.RoutePattern())
			}
			if hs := rl.headers(r.Header); hs != nil {
				fields = append(fields, "headers", hs)
			}

			rl.logger.Log(r.Context(), levelFor(status), "http_request", fields...)
		})
	}
}

func levelFor(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// Fast path check for paths we should skip entirely
func (rl *requestLogger) skipped(p string) bool {
	for _, pref := range rl.skip {
		if pref != "" && strings.HasPrefix(p, pref) {
			return true
		}
	}
	return false
}

func (rl *requestLogger) path(r *http.Request) string {
	if rl.withQuery {
		return r.URL.RequestURI()
	}
	return r.URL.Path
}

// remote returns the client IP, or a salted 128-bit hash of it.
func (rl *requestLogger) remote(r *http.Request) (label string, value any) {
	ip := clientip.From(r, rl.trustProxy)
	if !rl.hashIPs {
		return "remote", ip
	}
	sum := sha256.Sum256([]byte(rl.salt + ip))
	return "remote_hash", hex.EncodeToString(sum[:16])
}

// headers keeps allow-listed headers only, masking redacted ones.
func (rl *requestLogger) headers(hdr http.Header) map[string]string {
	if len(rl.allowed) == 0 {
		return nil
	}
	out := make(map[string]string, len(rl.allowed))
	for k, vals := range hdr {
		lk := strings.ToLower(k)
		if _, ok := rl.allowed[lk]; !ok {
			continue
		}
		v := strings.Join(vals, ",")
		if _, red := rl.redact[lk]; red {
			v = "[REDACTED]"
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func lowerSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, h := range names {
		set[strings.ToLower(strings.TrimSpace(h))] = struct{}{}
	}
	return set
}
