// Package health reports process liveness.
// SPDX-License-Identifier: AGPL-3.0-or-later
package health

import (
	"net/http"
	"time"

	"github.com/go-chi/render"
)

// ISO8601 matches JavaScript's Date.toISOString output.
const ISO8601 = "2006-01-02T15:04:05.000Z07:00"

// Report is built fresh for every request and never stored.
type Report struct {
	Status    string  `json:"status"`
	Timestamp string  `json:"timestamp"`
	Uptime    float64 `json:"uptime"`
}

// Reporter holds only the process start time, so it is safe for concurrent use.
type Reporter struct {
	startedAt time.Time
	now       func() time.Time
}

func NewReporter(startedAt time.Time) *Reporter {
	return &Reporter{startedAt: startedAt, now: time.Now}
}

// Check returns the current report.
func (h *Reporter) Check() Report {
	now := h.now()
	return Report{
		Status:    "ok",
		Timestamp: now.UTC().Format(ISO8601),
		Uptime:    now.Sub(h.startedAt).Seconds(),
	}
}

// Handler serves Check as JSON with status 200.
func (h *Reporter) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.Status(r, http.StatusOK)
		render.JSON(w, r, h.Check())
	}
}
