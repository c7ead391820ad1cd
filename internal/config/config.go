// Package config loads application configuration from an environment snapshot
// (supports local .env files), validates it and applies secure defaults.
//
// SPDX-License-Identifier: AGPL-3.0-or-later
package config

import (
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/samber/lo"
)

// Config is the validated configuration. It is built once by Load and shared
// read-only for the lifetime of the process.
type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Log      LogConfig
	HTTP     HTTPConfig
	TLS      TLSConfig
	Metrics  MetricsConfig
}

type AppConfig struct {
	NodeEnv      string `env:"NODE_ENV" envDefault:"development"`
	Port         int    `env:"PORT" envDefault:"3000"`
	Host         string `env:"HOST" envDefault:"0.0.0.0"`
	APIPrefix    string `env:"API_PREFIX" envDefault:"api/v1"`
	BcryptRounds int    `env:"BCRYPT_ROUNDS" envDefault:"10"`

	JWT       JWTConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
}

type JWTConfig struct {
	Secret            string `env:"JWT_SECRET"`
	Expiration        string `env:"JWT_EXPIRATION" envDefault:"7d"`
	RefreshSecret     string `env:"JWT_REFRESH_SECRET"`
	RefreshExpiration string `env:"JWT_REFRESH_EXPIRATION" envDefault:"30d"`
}

type RateLimitConfig struct {
	Max      int   `env:"RATE_LIMIT_MAX" envDefault:"100"`
	WindowMs int64 `env:"RATE_LIMIT_WINDOW_MS" envDefault:"900000"`
}

type CORSConfig struct {
	// Origins holds exact origins, or the single entry "*".
	Origins     []string `env:"CORS_ORIGIN" envDefault:"*" envSeparator:","`
	Credentials bool     `env:"CORS_CREDENTIALS" envDefault:"false"`
}

type DatabaseConfig struct {
	Host     string `env:"DATABASE_HOST"`
	Port     int    `env:"DATABASE_PORT" envDefault:"5432"`
	User     string `env:"DATABASE_USER"`
	Password string `env:"DATABASE_PASSWORD"`
	Name     string `env:"DATABASE_NAME"`
}

type LogConfig struct {
	Level          string   `env:"LOG_LEVEL" envDefault:"info"`
	Format         string   `env:"LOG_FORMAT" envDefault:"json"`
	AllowedHeaders []string `env:"LOG_ALLOWED_HEADERS" envSeparator:","`
	RedactHeaders  []string `env:"LOG_REDACT_HEADERS" envDefault:"Authorization,Cookie" envSeparator:","`
	SkipPaths      []string `env:"LOG_SKIP_PATHS" envSeparator:","`
	IncludeQuery   bool     `env:"LOG_INCLUDE_QUERY" envDefault:"false"`
	HashIPs        bool     `env:"LOG_HASH_IPS" envDefault:"false"`
	IPHashSalt     string   `env:"LOG_IP_HASH_SALT"`
}

type HTTPConfig struct {
	TrustProxy        bool          `env:"TRUST_PROXY" envDefault:"true"`
	BodyLimit         int64         `env:"BODY_LIMIT" envDefault:"1048576"`
	ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`

	// HSTS is only ever sent on TLS responses; 0 disables it.
	HSTSMaxAge            int  `env:"HSTS_MAX_AGE" envDefault:"15552000"`
	HSTSIncludeSubdomains bool `env:"HSTS_INCLUDE_SUBDOMAINS" envDefault:"true"`
	HSTSPreload           bool `env:"HSTS_PRELOAD" envDefault:"false"`
}

type TLSConfig struct {
	CertFile     string   `env:"TLS_CERT_FILE"`
	KeyFile      string   `env:"TLS_KEY_FILE"`
	PFXFile      string   `env:"TLS_PFX_FILE"`
	PFXPassword  string   `env:"TLS_PFX_PASSWORD"`
	MinVersion   string   `env:"TLS_MIN_VERSION" envDefault:"TLS1.2"`
	CipherSuites []string `env:"TLS12_CIPHER_SUITES" envSeparator:","`
	// SelfSigned serves an ephemeral certificate when no PFX or PEM is set.
	SelfSigned bool `env:"TLS_SELF_SIGNED" envDefault:"false"`
}

// Enabled reports whether the listener should speak TLS.
func (t TLSConfig) Enabled() bool {
	return t.PFXFile != "" || (t.CertFile != "" && t.KeyFile != "") || t.SelfSigned
}

type MetricsConfig struct {
	Enabled   bool   `env:"METRICS_ENABLED" envDefault:"false"`
	Path      string `env:"METRICS_PATH" envDefault:"/metrics"`
	Namespace string `env:"METRICS_NAMESPACE" envDefault:"apiboot"`
}

// Load validates the snapshot and parses it into a Config. On any violation it
// returns a *ConfigurationError and no Config.
func Load(snap Snapshot) (*Config, error) {
	if err := Validate(snap); err != nil {
		return nil, err
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: snap.present()}); err != nil {
		return nil, &ConfigurationError{Violations: []Violation{{Rule: "parse", Message: err.Error()}}}
	}

	cfg.App.CORS.Origins = splitCSV(strings.Join(cfg.App.CORS.Origins, ","))
	if len(cfg.App.CORS.Origins) == 0 {
		cfg.App.CORS.Origins = []string{"*"}
	}
	cfg.Log.AllowedHeaders = splitCSV(strings.Join(cfg.Log.AllowedHeaders, ","))
	cfg.Log.RedactHeaders = splitCSV(strings.Join(cfg.Log.RedactHeaders, ","))
	cfg.Log.SkipPaths = splitCSV(strings.Join(cfg.Log.SkipPaths, ","))
	cfg.TLS.CipherSuites = splitCSV(strings.Join(cfg.TLS.CipherSuites, ","))
	return &cfg, nil
}

// Addr is the host:port the listener binds to.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.App.Host, strconv.Itoa(c.App.Port))
}

// IsProduction reports whether NODE_ENV is production.
func (c *Config) IsProduction() bool { return c.App.NodeEnv == "production" }

// LogLevel maps LOG_LEVEL onto slog.
func (c *Config) LogLevel() slog.Level { return parseLevel(c.Log.Level) }

// Prefix returns API_PREFIX as a router path: leading slash, no trailing
// slash, empty when routes live at the root.
func (a AppConfig) Prefix() string {
	p := strings.Trim(strings.TrimSpace(a.APIPrefix), "/")
	if p == "" {
		return ""
	}
	return "/" + p
}

// AllowsAnyOrigin reports whether CORS is open to every origin.
func (c CORSConfig) AllowsAnyOrigin() bool {
	return lo.Contains(c.Origins, "*")
}

func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowMs) * time.Millisecond
}

// TTL is the access token lifetime parsed from JWT_EXPIRATION.
func (j JWTConfig) TTL() time.Duration {
	d, _ := ParseMS(j.Expiration)
	return d
}

// RefreshTTL is the refresh token lifetime parsed from JWT_REFRESH_EXPIRATION.
func (j JWTConfig) RefreshTTL() time.Duration {
	d, _ := ParseMS(j.RefreshExpiration)
	return d
}

// DSN renders the connection descriptor as a postgres URL.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Name,
	}
	return u.String()
}

// Redacted returns a copy with secret material masked, for printing.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "[REDACTED]"
	}
	c.App.JWT.Secret = mask(c.App.JWT.Secret)
	c.App.JWT.RefreshSecret = mask(c.App.JWT.RefreshSecret)
	c.Database.Password = mask(c.Database.Password)
	c.TLS.PFXPassword = mask(c.TLS.PFXPassword)
	c.Log.IPHashSalt = mask(c.Log.IPHashSalt)
	return c
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := lo.Map(strings.Split(s, ","), func(p string, _ int) string {
		return strings.TrimSpace(p)
	})
	return lo.Uniq(lo.Compact(parts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
