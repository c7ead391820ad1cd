// Package config: config_internal_test helps test non exported functions.
package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestParseLevelTable(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in); got != tc.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSplitCSV(t *testing.T) {
	out := splitCSV(" a, ,b , c ,a")
	if len(out) != 3 || out[0] != "a" || out[1] != "b" || out[2] != "c" {
		t.Fatalf("bad split: %#v", out)
	}
	if splitCSV("") != nil {
		t.Fatal("empty input should give nil")
	}
}

func TestParseMS(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"7d", 7 * 24 * time.Hour},
		{"30d", 30 * 24 * time.Hour},
		{"12h", 12 * time.Hour},
		{"30m", 30 * time.Minute},
		{"45 minutes", 45 * time.Minute},
		{"10s", 10 * time.Second},
		{"1.5h", 90 * time.Minute},
		{"500ms", 500 * time.Millisecond},
		{"2500", 2500 * time.Millisecond},
		{"2w", 14 * 24 * time.Hour},
		{"1y", 365*24*time.Hour + 6*time.Hour},
	}
	for _, tc := range cases {
		got, err := ParseMS(tc.in)
		if err != nil {
			t.Fatalf("ParseMS(%q) error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseMS(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}

	for _, bad := range []string{"", "d", "soon", "7 parsecs", "-7d", "-500", "999999999999y", "9223372036854775807"} {
		if _, err := ParseMS(bad); err == nil {
			t.Fatalf("ParseMS(%q) should fail", bad)
		}
	}
}

func TestSchemaKeysAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, r := range schema {
		if seen[r.key] {
			t.Fatalf("duplicate schema key %s", r.key)
		}
		seen[r.key] = true
	}
}
