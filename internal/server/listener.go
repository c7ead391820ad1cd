// SPDX-License-Identifier: AGPL-3.0-or-later
package server

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/jsdraven/API_Bootstrap_GoLang/internal/config"
)

// NewHTTPServer applies the configured timeouts to h.
func NewHTTPServer(cfg *config.Config, h http.Handler, logger *slog.Logger) *http.Server {
	return &http.Server{
		Handler:           h,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
}

// BindListener binds a TCP listener and logs failures.
func BindListener(addr string, logger *slog.Logger) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("listen_error", "err", err, "addr", addr)
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}
	return ln, nil
}

// ListenURL is the address clients should use for the bound listener.
// Wildcard hosts are reported as loopback.
func ListenURL(addr net.Addr, secure bool) string {
	scheme := "http"
	if secure {
		scheme = "https"
	}
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return scheme + "://" + addr.String()
	}
	host := tcp.IP.String()
	switch {
	case len(tcp.IP) == 0, tcp.IP.Equal(net.IPv4zero):
		host = "127.0.0.1"
	case tcp.IP.IsUnspecified():
		host = "::1"
	}
	return scheme + "://" + net.JoinHostPort(host, strconv.Itoa(tcp.Port))
}
