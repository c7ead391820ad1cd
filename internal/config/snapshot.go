// SPDX-License-Identifier: AGPL-3.0-or-later
package config

import (
	"io/fs"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

// Snapshot is the environment captured once at process start.
// Keys are variable names, values the raw strings; empty values count as absent.
type Snapshot map[string]string

// CaptureProcess reads the process environment and merges the dotenv files
// ".env.<NODE_ENV>" and ".env" underneath it. This is the only place the
// live environment is read.
func CaptureProcess() (Snapshot, error) {
	files := []string{".env"}
	if env := strings.TrimSpace(os.Getenv("NODE_ENV")); env != "" {
		files = []string{".env." + env, ".env"}
	}
	return Capture(os.Environ(), files...)
}

// Capture builds a Snapshot from KEY=VALUE pairs, filling gaps from the given
// dotenv files. Earlier sources win; missing files are skipped.
func Capture(environ []string, files ...string) (Snapshot, error) {
	snap := make(Snapshot, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" || v == "" {
			continue
		}
		snap[k] = v
	}

	for _, f := range files {
		vals, err := godotenv.Read(f)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, errors.Wrapf(err, "read env file %s", f)
		}
		for k, v := range vals {
			if _, set := snap[k]; set || v == "" {
				continue
			}
			snap[k] = v
		}
	}
	return snap, nil
}

// Lookup returns the value of key and whether it is present and non-empty.
func (s Snapshot) Lookup(key string) (string, bool) {
	v, ok := s[key]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// Clone returns an independent copy.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// present drops empty entries so defaults apply to them.
func (s Snapshot) present() map[string]string {
	out := make(map[string]string, len(s))
	for k, v := range s {
		if strings.TrimSpace(v) != "" {
			out[k] = v
		}
	}
	return out
}
