// Package ratelimit: per-client fixed-window rate limiting middleware.
//
// SPDX-License-Identifier: AGPL-3.0-or-later
package ratelimit

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/jsdraven/API_Bootstrap_GoLang/internal/clientip"
	"github.com/jsdraven/API_Bootstrap_GoLang/internal/config"
	"github.com/jsdraven/API_Bootstrap_GoLang/internal/httperr"
)

// ExceededMessage is part of the 429 response contract.
const ExceededMessage = "Rate limit exceeded, retry in a few minutes"

// Limiter allows Max requests per client per window. A client's window opens
// with its first request and resets when it expires.
type Limiter struct {
	max        int
	window     time.Duration
	trustProxy bool
	hits       *gocache.Cache // client -> int64 count, expiring with the window
	logger     *slog.Logger
	warn       rate.Sometimes // throttles rate_limited logs under a flood
}

// New builds a Limiter from RATE_LIMIT_MAX and RATE_LIMIT_WINDOW_MS.
func New(cfg *config.Config, logger *slog.Logger) *Limiter {
	window := cfg.App.RateLimit.Window()
	return &Limiter{
		max:        cfg.App.RateLimit.Max,
		window:     window,
		trustProxy: cfg.HTTP.TrustProxy,
		hits:       gocache.New(window, max(window, time.Second)),
		logger:     logger,
		warn:       rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// take counts one request for key and returns the running count and the
// moment the current window closes.
func (l *Limiter) take(key string) (int64, time.Time) {
	for {
		if err := l.hits.Add(key, int64(1), l.window); err == nil {
			return 1, time.Now().Add(l.window)
		}
		n, err := l.hits.IncrementInt64(key, 1)
		if err != nil {
			// window expired between Add and Increment; open a new one
			continue
		}
		_, exp, _ := l.hits.GetWithExpiration(key)
		return n, exp
	}
}

// Middleware enforces the limit. Throttled requests get 429 with the fixed
// JSON body and Retry-After; every response carries X-RateLimit-* headers.
func (l *Limiter) Middleware() func(http.Handler) http.Handler {
	limit := strconv.Itoa(l.max)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientip.From(r, l.trustProxy)
			n, resetAt := l.take(ip)
			resetIn := max(0, int(math.Ceil(time.Until(resetAt).Seconds())))

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(max(0, int64(l.max)-n), 10))
			h.Set("X-RateLimit-Reset", strconv.Itoa(resetIn))

			if n > int64(l.max) {
				h.Set("Retry-After", strconv.Itoa(resetIn))
				l.warn.Do(func() {
					l.logger.Warn("rate_limited", "ip", ip, "hits", n, "limit", l.max, "window_ms", l.window.Milliseconds())
				})
				httperr.Write(w, r, http.StatusTooManyRequests, ExceededMessage)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
