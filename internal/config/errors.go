// SPDX-License-Identifier: AGPL-3.0-or-later
package config

import (
	"strings"

	"github.com/samber/lo"
)

// Violation is one failed schema rule.
type Violation struct {
	Key     string // environment variable name
	Rule    string // e.g. "required", "min", "oneof", "number"
	Message string
}

// ConfigurationError aggregates every violated rule of a snapshot. It is fatal:
// startup must stop before any listener is bound.
type ConfigurationError struct {
	Violations []Violation
}

func (e *ConfigurationError) Error() string {
	msgs := lo.Map(e.Violations, func(v Violation, _ int) string { return v.Message })
	return "config validation error: " + strings.Join(msgs, ". ")
}

// Keys lists the offending variables in schema order, without duplicates.
func (e *ConfigurationError) Keys() []string {
	return lo.Uniq(lo.FilterMap(e.Violations, func(v Violation, _ int) (string, bool) {
		return v.Key, v.Key != ""
	}))
}

// Has reports whether key violated at least one rule.
func (e *ConfigurationError) Has(key string) bool {
	return lo.ContainsBy(e.Violations, func(v Violation) bool { return v.Key == key })
}
