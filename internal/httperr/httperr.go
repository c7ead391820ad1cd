// Package httperr renders the JSON error body shared by every middleware and
// handler: {"statusCode":..., "error":..., "message":...}.
// SPDX-License-Identifier: AGPL-3.0-or-later
package httperr

import (
	"net/http"

	"github.com/go-chi/render"
)

// Body is the stable error shape. Message is a string or a list of strings.
type Body struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    any    `json:"message"`
}

// New builds a Body whose Error is the standard status text.
func New(status int, message any) Body {
	return Body{StatusCode: status, Error: http.StatusText(status), Message: message}
}

// Write renders Body{status, StatusText(status), message}.
func Write(w http.ResponseWriter, r *http.Request, status int, message any) {
	WriteBody(w, r, New(status, message))
}

// WriteBody renders b with its own status code.
func WriteBody(w http.ResponseWriter, r *http.Request, b Body) {
	render.Status(r, b.StatusCode)
	render.JSON(w, r, b)
}

// NotFound replaces chi's plain-text 404.
func NotFound(w http.ResponseWriter, r *http.Request) {
	Write(w, r, http.StatusNotFound, "Cannot "+r.Method+" "+r.URL.Path)
}

// MethodNotAllowed replaces chi's plain-text 405.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	Write(w, r, http.StatusMethodNotAllowed, "Method "+r.Method+" not allowed")
}
