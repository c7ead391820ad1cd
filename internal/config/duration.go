// SPDX-License-Identifier: AGPL-3.0-or-later
package config

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

var msPattern = regexp.MustCompile(`(?i)^((?:\d+)?\.?\d+)\s*(milliseconds?|msecs?|ms|seconds?|secs?|s|minutes?|mins?|m|hours?|hrs?|h|days?|d|weeks?|w|years?|yrs?|y)?$`)

const (
	day  = 24 * time.Hour
	week = 7 * day
	year = 365*day + 6*time.Hour
)

// ParseMS parses token lifetimes such as "7d", "12h", "30 minutes" or "500".
// A bare number is milliseconds. Negative values and values beyond the
// range of time.Duration are rejected.
func ParseMS(s string) (time.Duration, error) {
	m := msPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, errors.Newf("invalid duration %q", s)
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid duration %q", s)
	}

	var unit time.Duration
	switch u := strings.ToLower(m[2]); {
	case u == "" || strings.HasPrefix(u, "ms") || strings.HasPrefix(u, "milli"):
		unit = time.Millisecond
	case strings.HasPrefix(u, "s"):
		unit = time.Second
	case strings.HasPrefix(u, "m"):
		unit = time.Minute
	case strings.HasPrefix(u, "h"):
		unit = time.Hour
	case strings.HasPrefix(u, "d"):
		unit = day
	case strings.HasPrefix(u, "w"):
		unit = week
	case strings.HasPrefix(u, "y"):
		unit = year
	}
	ns := n * float64(unit)
	if ns >= math.MaxInt64 {
		return 0, errors.Newf("duration %q is out of range", s)
	}
	return time.Duration(ns), nil
}
