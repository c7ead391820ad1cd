// Package bootstrap validates configuration and assembles the HTTP stack in a
// fixed order: config, security, prefix, CORS, validation pipeline, listener.
//
// SPDX-License-Identifier: AGPL-3.0-or-later
package bootstrap

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jsdraven/API_Bootstrap_GoLang/internal/auth"
	"github.com/jsdraven/API_Bootstrap_GoLang/internal/config"
	"github.com/jsdraven/API_Bootstrap_GoLang/internal/health"
	"github.com/jsdraven/API_Bootstrap_GoLang/internal/httperr"
	applog "github.com/jsdraven/API_Bootstrap_GoLang/internal/log"
	"github.com/jsdraven/API_Bootstrap_GoLang/internal/middleware/logging"
	"github.com/jsdraven/API_Bootstrap_GoLang/internal/middleware/metrics"
	"github.com/jsdraven/API_Bootstrap_GoLang/internal/middleware/ratelimit"
	"github.com/jsdraven/API_Bootstrap_GoLang/internal/middleware/security"
	"github.com/jsdraven/API_Bootstrap_GoLang/internal/server"
	"github.com/jsdraven/API_Bootstrap_GoLang/internal/tlsutil"
	"github.com/jsdraven/API_Bootstrap_GoLang/internal/validation"
)

// Option customises a Sequencer.
type Option func(*Sequencer)

// WithLogWriter sends application logs to w instead of stdout.
func WithLogWriter(w io.Writer) Option {
	return func(s *Sequencer) { s.logOut = w }
}

// WithStartedAt sets the process start used for health uptime.
func WithStartedAt(t time.Time) Option {
	return func(s *Sequencer) { s.startedAt = t }
}

// WithRoutes adds routes under the global prefix, next to /health.
func WithRoutes(routes ...server.Route) Option {
	return func(s *Sequencer) { s.routes = append(s.routes, routes...) }
}

// WithObserver is called on every state transition, on the Start goroutine.
func WithObserver(fn func(from, to State)) Option {
	return func(s *Sequencer) { s.observe = fn }
}

// Sequencer runs the startup steps once. Accessors are safe to call from
// other goroutines; their results are only meaningful once the matching
// state has been reached.
type Sequencer struct {
	snap      config.Snapshot
	logOut    io.Writer
	startedAt time.Time
	routes    []server.Route
	observe   func(from, to State)

	state   atomic.Int32
	started atomic.Bool

	cfg      *config.Config
	logger   *slog.Logger
	router   *chi.Mux
	srv      *http.Server
	ln       net.Listener
	tlsCfg   *tls.Config
	url      string
	prefix   string
	hasher   *auth.Hasher
	tokens   *auth.Tokens
	pipeline *validation.Pipeline
	metrics  *metrics.Metrics
}

// New returns a Sequencer over a snapshot of the environment. The snapshot
// is copied; later changes to it are not observed.
func New(snap config.Snapshot, opts ...Option) *Sequencer {
	s := &Sequencer{
		snap:      snap.Clone(),
		startedAt: time.Now(),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = applog.Bootstrap(s.logOut)
	return s
}

func (s *Sequencer) State() State { return State(s.state.Load()) }

// Config is the validated configuration, nil before ConfigValidated.
func (s *Sequencer) Config() *config.Config { return s.cfg }

// Handler is the assembled router, nil before the server step.
func (s *Sequencer) Handler() http.Handler {
	if s.router == nil {
		return nil
	}
	return s.router
}

// Hasher is the bcrypt hasher at BCRYPT_ROUNDS.
func (s *Sequencer) Hasher() *auth.Hasher { return s.hasher }

// Tokens signs and verifies bearer tokens with JWT_SECRET.
func (s *Sequencer) Tokens() *auth.Tokens { return s.tokens }

func (s *Sequencer) Logger() *slog.Logger { return s.logger }

// Addr is the bound listener address, nil until Listening.
func (s *Sequencer) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// URL is the client-facing base URL, "" until Listening.
func (s *Sequencer) URL() string { return s.url }

func (s *Sequencer) transition(to State) {
	from := State(s.state.Swap(int32(to)))
	s.logger.Debug("bootstrap_state", "from", from.String(), "to", to.String())
	if s.observe != nil {
		s.observe(from, to)
	}
}

// Run is Start followed by Serve.
func (s *Sequencer) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Start runs every step in order and leaves the listener bound. Any failure
// moves the sequencer to Failed; nothing is retried.
func (s *Sequencer) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	steps := []struct {
		stage Stage
		run   func(context.Context) error
		done  State
	}{
		{StageConfig, s.loadConfig, ConfigValidated},
		{StageServer, s.buildServer, -1},
		{StageHeaders, s.useSecurityHeaders, -1},
		{StageLimit, s.useRateLimit, SecurityRegistered},
		{StagePrefix, s.usePrefix, -1},
		{StageCORS, s.useCORS, -1},
		{StagePipeline, s.usePipeline, PipelineRegistered},
		{StageListen, s.listen, Listening},
	}

	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			return s.fail(st.stage, err)
		}
		if err := s.runStep(ctx, st.stage, st.run); err != nil {
			return s.fail(st.stage, err)
		}
		if st.done >= 0 {
			s.transition(st.done)
		}
	}

	s.logger.Info("application_running", "url", s.url)
	s.logger.Info("environment", "node_env", s.cfg.App.NodeEnv)
	return nil
}

// runStep converts a panic inside a step into an error.
func (s *Sequencer) runStep(ctx context.Context, stage Stage, fn func(context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Newf("panic in %s: %v", stage, rec)
		}
	}()
	return fn(ctx)
}

func (s *Sequencer) fail(stage Stage, err error) error {
	if s.ln != nil {
		_ = s.ln.Close()
		s.ln = nil
	}
	s.transition(Failed)

	var cfgErr *config.ConfigurationError
	if stage == StageConfig && errors.As(err, &cfgErr) {
		return cfgErr
	}
	s.logger.Error("bootstrap_failed", "stage", string(stage), "err", err)
	return &StartupError{Stage: stage, Err: errors.WithStack(err)}
}

func (s *Sequencer) loadConfig(context.Context) error {
	cfg, err := config.Load(s.snap)
	if err != nil {
		return err
	}
	s.cfg = cfg
	s.logger = applog.New(cfg, s.logOut)
	return nil
}

func (s *Sequencer) buildServer(context.Context) error {
	hasher, err := auth.NewHasher(s.cfg.App.BcryptRounds)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokens(s.cfg.App.JWT)
	if err != nil {
		return err
	}
	s.hasher, s.tokens = hasher, tokens

	r := chi.NewRouter()
	r.NotFound(httperr.NotFound)
	r.MethodNotAllowed(httperr.MethodNotAllowed)

	r.Use(middleware.RequestID)
	if s.cfg.HTTP.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(logging.HTTP(s.cfg, s.logger))
	if s.cfg.Metrics.Enabled {
		s.metrics = metrics.New(s.cfg)
		r.Use(s.metrics.Middleware())
	}

	s.router = r
	s.srv = server.NewHTTPServer(s.cfg, r, s.logger)
	return nil
}

func (s *Sequencer) useSecurityHeaders(context.Context) error {
	s.router.Use(security.Headers(s.cfg))
	return nil
}

func (s *Sequencer) useRateLimit(context.Context) error {
	s.router.Use(ratelimit.New(s.cfg, s.logger).Middleware())
	return nil
}

func (s *Sequencer) usePrefix(context.Context) error {
	s.prefix = s.cfg.App.Prefix()
	return nil
}

func (s *Sequencer) useCORS(context.Context) error {
	s.router.Use(security.CORS(s.cfg))
	return nil
}

func (s *Sequencer) usePipeline(context.Context) error {
	s.pipeline = validation.New()
	s.router.Use(security.MaxBodyBytes(s.cfg))
	s.router.Use(s.pipeline.Middleware())
	return nil
}

func (s *Sequencer) mountRoutes() {
	if s.metrics != nil {
		s.router.Method(http.MethodGet, s.cfg.Metrics.Path, s.metrics.Handler())
	}

	routes := append([]server.Route{server.HealthRoute(health.NewReporter(s.startedAt))}, s.routes...)
	guard := auth.Guard(s.tokens, server.PublicAllowList(s.prefix, routes), s.logger)

	if s.prefix == "" {
		server.Mount(s.router, routes, guard)
		return
	}
	s.router.Route(s.prefix, func(api chi.Router) {
		api.NotFound(httperr.NotFound)
		api.MethodNotAllowed(httperr.MethodNotAllowed)
		server.Mount(api, routes, guard)
	})
}

func (s *Sequencer) listen(context.Context) error {
	s.mountRoutes()

	tlsCfg, src, err := tlsutil.ServerConfig(s.cfg.TLS)
	if err != nil {
		return errors.Wrapf(err, "tls (%s)", src)
	}
	ln, err := server.BindListener(s.cfg.Addr(), s.logger)
	if err != nil {
		return err
	}
	if src == tlsutil.SourceSelfSigned {
		s.logger.Warn("using_self_signed_tls", "note", "for staging/dev; configure PFX/PEM for production")
	}

	s.ln, s.tlsCfg = ln, tlsCfg
	s.srv.TLSConfig = tlsCfg
	s.url = server.ListenURL(ln.Addr(), tlsCfg != nil)
	s.logger.Info("server_listening", "addr", ln.Addr().String(), "tls", string(src))
	return nil
}

// Serve handles requests until ctx is cancelled, then shuts down within
// SHUTDOWN_TIMEOUT.
func (s *Sequencer) Serve(ctx context.Context) error {
	if s.State() != Listening {
		return ErrNotListening
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.tlsCfg != nil {
			err = s.srv.ServeTLS(s.ln, "", "")
		} else {
			err = s.srv.Serve(s.ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.logger.Error("server_error", "err", err)
			return errors.Wrap(err, "serve")
		}
		return nil
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutCtx); err != nil {
		s.logger.Warn("shutdown_incomplete", "err", err)
		_ = s.srv.Close()
	}
	<-errCh
	s.logger.Info("server_stopped")
	return nil
}

// Close releases the listener and any open connections; for a Start that
// is not followed by Serve.
func (s *Sequencer) Close() error {
	var err error
	if s.srv != nil {
		err = s.srv.Close()
	}
	if s.ln != nil {
		if cerr := s.ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = errors.CombineErrors(err, cerr)
		}
	}
	return err
}
