// Package bootstrap_test exercises the full startup sequence.
// SPDX-License-Identifier: AGPL-3.0-or-later
package bootstrap_test

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsdraven/API_Bootstrap_GoLang/internal/bootstrap"
	"github.com/jsdraven/API_Bootstrap_GoLang/internal/config"
	"github.com/jsdraven/API_Bootstrap_GoLang/internal/health"
	"github.com/jsdraven/API_Bootstrap_GoLang/internal/server"
	"github.com/jsdraven/API_Bootstrap_GoLang/internal/validation"
)

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func validSnapshot(overrides ...string) config.Snapshot {
	snap := config.Snapshot{
		"NODE_ENV":           "test",
		"HOST":               "127.0.0.1",
		"PORT":               "0",
		"JWT_SECRET":         strings.Repeat("s", 32),
		"JWT_REFRESH_SECRET": strings.Repeat("r", 32),
		"DATABASE_HOST":      "localhost",
		"DATABASE_USER":      "app",
		"DATABASE_PASSWORD":  "secret",
		"DATABASE_NAME":      "app",
	}
	for i := 0; i+1 < len(overrides); i += 2 {
		snap[overrides[i]] = overrides[i+1]
	}
	return snap
}

func start(t *testing.T, snap config.Snapshot, opts ...bootstrap.Option) *bootstrap.Sequencer {
	t.Helper()
	opts = append([]bootstrap.Option{bootstrap.WithLogWriter(io.Discard)}, opts...)
	seq := bootstrap.New(snap, opts...)
	require.NoError(t, seq.Start(context.Background()))
	t.Cleanup(func() { _ = seq.Close() })
	return seq
}

func do(h http.Handler, method, target string, body io.Reader, hdr ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	req.RemoteAddr = "192.0.2.10:4000"
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestStart_StatesInOrder(t *testing.T) {
	var seen []bootstrap.State
	seq := start(t, validSnapshot(), bootstrap.WithObserver(func(_, to bootstrap.State) {
		seen = append(seen, to)
	}))

	assert.Equal(t, []bootstrap.State{
		bootstrap.ConfigValidated,
		bootstrap.SecurityRegistered,
		bootstrap.PipelineRegistered,
		bootstrap.Listening,
	}, seen)
	assert.Equal(t, bootstrap.Listening, seq.State())
	require.NotNil(t, seq.Addr())
	assert.True(t, strings.HasPrefix(seq.URL(), "http://127.0.0.1:"), seq.URL())
	assert.Equal(t, "test", seq.Config().App.NodeEnv)
	require.NotNil(t, seq.Hasher())
	assert.Equal(t, 10, seq.Hasher().Cost())
}

func TestStart_Twice(t *testing.T) {
	seq := start(t, validSnapshot())
	assert.ErrorIs(t, seq.Start(context.Background()), bootstrap.ErrAlreadyStarted)
}

func TestStart_ConfigFailure(t *testing.T) {
	snap := validSnapshot("BCRYPT_ROUNDS", "8")
	delete(snap, "JWT_SECRET")

	var seen []bootstrap.State
	seq := bootstrap.New(snap, bootstrap.WithLogWriter(io.Discard), bootstrap.WithObserver(func(_, to bootstrap.State) {
		seen = append(seen, to)
	}))
	err := seq.Start(context.Background())

	var cfgErr *config.ConfigurationError
	require.True(t, errors.As(err, &cfgErr), "got %v", err)
	assert.True(t, cfgErr.Has("JWT_SECRET"))
	assert.True(t, cfgErr.Has("BCRYPT_ROUNDS"))
	assert.Equal(t, bootstrap.Failed, seq.State())
	assert.Equal(t, []bootstrap.State{bootstrap.Failed}, seen)
	assert.Nil(t, seq.Addr(), "no listener after a config failure")
	assert.Nil(t, seq.Handler())
	assert.ErrorIs(t, seq.Serve(context.Background()), bootstrap.ErrNotListening)
}

func TestStart_BadMetricsNamespaceIsConfigError(t *testing.T) {
	seq := bootstrap.New(validSnapshot("METRICS_ENABLED", "true", "METRICS_NAMESPACE", "my-app"), bootstrap.WithLogWriter(io.Discard))
	err := seq.Start(context.Background())

	var cfgErr *config.ConfigurationError
	require.True(t, errors.As(err, &cfgErr), "got %v", err)
	assert.Equal(t, []string{"METRICS_NAMESPACE"}, cfgErr.Keys())
}

func TestStart_PortInUse(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()
	port := strconv.Itoa(busy.Addr().(*net.TCPAddr).Port)

	seq := bootstrap.New(validSnapshot("PORT", port), bootstrap.WithLogWriter(io.Discard))
	err = seq.Start(context.Background())

	var se *bootstrap.StartupError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, bootstrap.StageListen, se.Stage)
	assert.Contains(t, err.Error(), "startup failed at listen")
	assert.Equal(t, bootstrap.Failed, seq.State())
	assert.Nil(t, seq.Addr())
}

func TestStart_BadTLSMaterial(t *testing.T) {
	seq := bootstrap.New(validSnapshot("TLS_PFX_FILE", "/nonexistent/server.pfx"), bootstrap.WithLogWriter(io.Discard))
	err := seq.Start(context.Background())

	var se *bootstrap.StartupError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, bootstrap.StageListen, se.Stage)
	assert.Equal(t, bootstrap.Failed, seq.State())
}

func TestStart_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	seq := bootstrap.New(validSnapshot(), bootstrap.WithLogWriter(io.Discard))

	err := seq.Start(ctx)
	var se *bootstrap.StartupError
	require.True(t, errors.As(err, &se))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, bootstrap.Failed, seq.State())
}

func TestStart_LogsRunningURLAndEnvironment(t *testing.T) {
	var logs syncBuffer
	seq := start(t, validSnapshot(), bootstrap.WithLogWriter(&logs))

	out := logs.String()
	assert.Contains(t, out, `"msg":"application_running"`)
	assert.Contains(t, out, `"url":"`+seq.URL()+`"`)
	assert.Contains(t, out, `"msg":"environment"`)
	assert.Contains(t, out, `"node_env":"test"`)
}

func TestHealth_PublicAndShaped(t *testing.T) {
	started := time.Now().Add(-3 * time.Second)
	seq := start(t, validSnapshot(), bootstrap.WithStartedAt(started))

	rr := do(seq.Handler(), http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var rep health.Report
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rep))
	assert.Equal(t, "ok", rep.Status)
	assert.GreaterOrEqual(t, rep.Uptime, 3.0)
	ts, err := time.Parse(time.RFC3339Nano, rep.Timestamp)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, 5*time.Second)

	csp := rr.Header().Get("Content-Security-Policy")
	assert.Contains(t, csp, "default-src 'self'")
	assert.Contains(t, csp, "img-src 'self' data: https:")
}

func TestHealth_OutsidePrefixIs404(t *testing.T) {
	seq := start(t, validSnapshot())

	rr := do(seq.Handler(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"statusCode":404,"error":"Not Found","message":"Cannot GET /health"}`, rr.Body.String())

	rr = do(seq.Handler(), http.MethodGet, "/api/v1/nope", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code, "unknown prefixed paths 404 without a token")
}

func TestRootPrefix(t *testing.T) {
	seq := start(t, validSnapshot("API_PREFIX", "/"))
	assert.Equal(t, http.StatusOK, do(seq.Handler(), http.MethodGet, "/health", nil).Code)
}

func TestRateLimit_429Body(t *testing.T) {
	seq := start(t, validSnapshot("RATE_LIMIT_MAX", "2", "RATE_LIMIT_WINDOW_MS", "60000"))
	h := seq.Handler()

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/v1/health", nil).Code)
	}
	rr := do(h, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.JSONEq(t,
		`{"statusCode":429,"error":"Too Many Requests","message":"Rate limit exceeded, retry in a few minutes"}`,
		rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	assert.NotEmpty(t, rr.Header().Get("Content-Security-Policy"), "security headers precede the limiter")
}

func TestCORS_Preflight(t *testing.T) {
	seq := start(t, validSnapshot("CORS_ORIGIN", "https://a.example, https://b.example", "CORS_CREDENTIALS", "true"))
	h := seq.Handler()

	rr := do(h, http.MethodOptions, "/api/v1/health", nil,
		"Origin", "https://b.example",
		"Access-Control-Request-Method", http.MethodGet)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://b.example", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "GET,POST,PUT,DELETE,PATCH,OPTIONS", rr.Header().Get("Access-Control-Allow-Methods"))

	rr = do(h, http.MethodOptions, "/api/v1/health", nil,
		"Origin", "https://evil.example",
		"Access-Control-Request-Method", http.MethodGet)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

type echoDTO struct {
	Name string `json:"name" validate:"required"`
}

func echoRoute(public bool) server.Route {
	return server.Route{
		Method:  http.MethodPost,
		Pattern: "/echo",
		Public:  public,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var in echoDTO
			if err := validation.Bind(r, &in); err != nil {
				validation.WriteError(w, r, err)
				return
			}
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(in)
		}),
	}
}

func TestGuard_ProtectsNonPublicRoutes(t *testing.T) {
	seq := start(t, validSnapshot(), bootstrap.WithRoutes(echoRoute(false)))
	h := seq.Handler()

	rr := do(h, http.MethodPost, "/api/v1/echo", strings.NewReader(`{"name":"x"}`))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	tok, err := seq.Tokens().Issue("user-1")
	require.NoError(t, err)
	rr = do(h, http.MethodPost, "/api/v1/echo", strings.NewReader(`{"name":"x"}`), "Authorization", "Bearer "+tok)
	assert.Equal(t, http.StatusCreated, rr.Code)

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/v1/health", nil).Code, "health stays public")
}

func TestGuard_EncodedPublicPathHitsProtectedRoute(t *testing.T) {
	secret := server.Route{
		Method:  http.MethodGet,
		Pattern: "/{name}",
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "SECRET")
		}),
	}
	seq := start(t, validSnapshot(), bootstrap.WithRoutes(secret))
	h := seq.Handler()

	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/v1/users", nil).Code)

	rr := do(h, http.MethodGet, "/api/v1/heal%74h", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.NotContains(t, rr.Body.String(), "SECRET")

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/v1/health", nil).Code)
}

func TestPipeline_RejectsUnknownFieldsAndLargeBodies(t *testing.T) {
	seq := start(t, validSnapshot("BODY_LIMIT", "64"), bootstrap.WithRoutes(echoRoute(true)))
	h := seq.Handler()

	rr := do(h, http.MethodPost, "/api/v1/echo", strings.NewReader(`{"name":"x","isAdmin":true}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"statusCode":400,"error":"Bad Request","message":["property isAdmin should not exist"]}`, rr.Body.String())

	rr = do(h, http.MethodPost, "/api/v1/echo", strings.NewReader(`{}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "name should not be empty")

	rr = do(h, http.MethodPost, "/api/v1/echo", strings.NewReader(`{"name":"`+strings.Repeat("x", 100)+`"}`))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestMetrics_Enabled(t *testing.T) {
	seq := start(t, validSnapshot("METRICS_ENABLED", "true"))
	h := seq.Handler()

	require.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/v1/health", nil).Code)
	rr := do(h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `apiboot_http_requests_total{method="GET",route="/api/v1/health",status="200"} 1`)
}

func TestMetrics_DisabledByDefault(t *testing.T) {
	seq := start(t, validSnapshot())
	assert.Equal(t, http.StatusNotFound, do(seq.Handler(), http.MethodGet, "/metrics", nil).Code)
}

func TestRun_ServesOverNetworkAndShutsDown(t *testing.T) {
	seq := bootstrap.New(validSnapshot("SHUTDOWN_TIMEOUT", "2s"), bootstrap.WithLogWriter(io.Discard))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, seq.Start(ctx))
	done := make(chan error, 1)
	go func() { done <- seq.Serve(ctx) }()

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(seq.URL() + "/api/v1/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	_, err = client.Get(seq.URL() + "/api/v1/health")
	assert.Error(t, err, "listener is closed after shutdown")
}

func TestRun_SelfSignedTLS(t *testing.T) {
	seq := bootstrap.New(validSnapshot("TLS_SELF_SIGNED", "true"), bootstrap.WithLogWriter(io.Discard))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, seq.Start(ctx))
	require.True(t, strings.HasPrefix(seq.URL(), "https://"), seq.URL())
	done := make(chan error, 1)
	go func() { done <- seq.Serve(ctx) }()

	client := &http.Client{
		Timeout:   5 * time.Second,
		Transport: &http.Transport{TLSClientConfig: insecureTLS()},
	}
	resp, err := client.Get(seq.URL() + "/api/v1/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Strict-Transport-Security"), "max-age=15552000")

	cancel()
	require.NoError(t, <-done)
}

func insecureTLS() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true} //nolint:gosec // ephemeral self-signed test certificate
}
