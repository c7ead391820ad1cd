// SPDX-License-Identifier: AGPL-3.0-or-later
package config

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
)

type kind int

const (
	kindString kind = iota
	kindInt
	kindBool
	kindDuration
)

// rule checks one variable. Absent optional variables take their default and
// are not checked; defaults are valid by construction.
type rule struct {
	key      string
	kind     kind
	required bool
	tags     string // validator tags applied to the converted value
}

var schema = []rule{
	{key: "NODE_ENV", tags: "oneof=development production test staging"},
	{key: "PORT", kind: kindInt, tags: "min=0,max=65535"},
	{key: "HOST"},
	{key: "API_PREFIX"},

	// JWT
	{key: "JWT_SECRET", required: true, tags: "min=32"},
	{key: "JWT_EXPIRATION", tags: "ms"},
	{key: "JWT_REFRESH_SECRET", required: true, tags: "min=32"},
	{key: "JWT_REFRESH_EXPIRATION", tags: "ms"},

	// Security
	{key: "BCRYPT_ROUNDS", kind: kindInt, tags: "min=10,max=31"},

	// Database
	{key: "DATABASE_HOST", required: true},
	{key: "DATABASE_PORT", kind: kindInt, tags: "min=0,max=65535"},
	{key: "DATABASE_USER", required: true},
	{key: "DATABASE_PASSWORD", required: true},
	{key: "DATABASE_NAME", required: true},

	// Rate limiting
	{key: "RATE_LIMIT_MAX", kind: kindInt, tags: "min=1"},
	{key: "RATE_LIMIT_WINDOW_MS", kind: kindInt, tags: "min=1,max=" + maxWindowMs},

	// CORS
	{key: "CORS_ORIGIN"},
	{key: "CORS_CREDENTIALS", kind: kindBool},

	// Logging
	{key: "LOG_LEVEL", tags: "oneof=debug info warn error DEBUG INFO WARN ERROR"},
	{key: "LOG_FORMAT", tags: "oneof=json text"},
	{key: "LOG_INCLUDE_QUERY", kind: kindBool},
	{key: "LOG_HASH_IPS", kind: kindBool},

	// HTTP
	{key: "TRUST_PROXY", kind: kindBool},
	{key: "BODY_LIMIT", kind: kindInt, tags: "min=0"},
	{key: "READ_HEADER_TIMEOUT", kind: kindDuration},
	{key: "READ_TIMEOUT", kind: kindDuration},
	{key: "WRITE_TIMEOUT", kind: kindDuration},
	{key: "IDLE_TIMEOUT", kind: kindDuration},
	{key: "SHUTDOWN_TIMEOUT", kind: kindDuration},
	{key: "HSTS_MAX_AGE", kind: kindInt, tags: "min=0"},
	{key: "HSTS_INCLUDE_SUBDOMAINS", kind: kindBool},
	{key: "HSTS_PRELOAD", kind: kindBool},

	// TLS
	{key: "TLS_MIN_VERSION", tags: "oneof=TLS1.2 TLS1.3"},
	{key: "TLS_SELF_SIGNED", kind: kindBool},

	// Metrics
	{key: "METRICS_ENABLED", kind: kindBool},
	{key: "METRICS_PATH", tags: "startswith=/"},
	{key: "METRICS_NAMESPACE", tags: "promname"},
}

// promName is a Prometheus metric name component; the namespace is joined to
// "http_..." with underscores.
var promName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// maxWindowMs keeps RATE_LIMIT_WINDOW_MS within time.Duration.
var maxWindowMs = strconv.FormatInt(math.MaxInt64/int64(time.Millisecond), 10)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("ms", func(fl validator.FieldLevel) bool {
		d, err := ParseMS(fl.Field().String())
		return err == nil && d > 0
	}); err != nil {
		panic(err)
	}
	if err := v.RegisterValidation("promname", func(fl validator.FieldLevel) bool {
		return promName.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// Validate applies the schema to the raw snapshot and reports every violation
// at once as a *ConfigurationError.
func Validate(snap Snapshot) error {
	var out []Violation
	for _, r := range schema {
		raw, ok := snap.Lookup(r.key)
		if !ok {
			if r.required {
				out = append(out, Violation{Key: r.key, Rule: "required", Message: fmt.Sprintf("%q is required", r.key)})
			}
			continue
		}
		out = append(out, r.check(strings.TrimSpace(raw))...)
	}

	_, hasCert := snap.Lookup("TLS_CERT_FILE")
	_, hasKey := snap.Lookup("TLS_KEY_FILE")
	if hasCert != hasKey {
		out = append(out, Violation{
			Key:     "TLS_KEY_FILE",
			Rule:    "with",
			Message: `"TLS_CERT_FILE" and "TLS_KEY_FILE" must be set together`,
		})
	}

	if len(out) > 0 {
		return &ConfigurationError{Violations: out}
	}
	return nil
}

func (r rule) check(raw string) []Violation {
	var value any = raw
	switch r.kind {
	case kindInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return []Violation{{Key: r.key, Rule: "number", Message: fmt.Sprintf("%q must be a number", r.key)}}
		}
		value = n
	case kindBool:
		if raw != "true" && raw != "false" {
			return []Violation{{Key: r.key, Rule: "boolean", Message: fmt.Sprintf("%q must be a boolean", r.key)}}
		}
	case kindDuration:
		if _, err := time.ParseDuration(raw); err != nil {
			return []Violation{{Key: r.key, Rule: "duration", Message: fmt.Sprintf("%q must be a duration like 5s or 1m", r.key)}}
		}
	}

	if r.tags == "" {
		return nil
	}
	err := validate.Var(value, r.tags)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []Violation{{Key: r.key, Rule: "invalid", Message: fmt.Sprintf("%q is invalid: %v", r.key, err)}}
	}
	out := make([]Violation, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, Violation{Key: r.key, Rule: fe.Tag(), Message: describe(r.key, fe)})
	}
	return out
}

// describe renders a field error the way the schema messages read.
func describe(key string, fe validator.FieldError) string {
	numeric := fe.Kind() != reflect.String
	switch fe.Tag() {
	case "min":
		if numeric {
			return fmt.Sprintf("%q must be greater than or equal to %s", key, fe.Param())
		}
		return fmt.Sprintf("%q length must be at least %s characters long", key, fe.Param())
	case "max":
		if numeric {
			return fmt.Sprintf("%q must be less than or equal to %s", key, fe.Param())
		}
		return fmt.Sprintf("%q length must be less than or equal to %s characters long", key, fe.Param())
	case "oneof":
		return fmt.Sprintf("%q must be one of [%s]", key, strings.Join(strings.Fields(fe.Param()), ", "))
	case "ms":
		return fmt.Sprintf("%q must be a duration like 7d, 12h or 30m", key)
	case "promname":
		return fmt.Sprintf("%q must contain only letters, digits and underscores and not start with a digit", key)
	case "startswith":
		return fmt.Sprintf("%q must start with %q", key, fe.Param())
	default:
		return fmt.Sprintf("%q failed on the %q rule", key, fe.Tag())
	}
}
