// Package validation decodes and validates JSON request bodies. Bodies with
// properties the target type does not declare are rejected, not stripped.
//
// SPDX-License-Identifier: AGPL-3.0-or-later
package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"

	"github.com/jsdraven/API_Bootstrap_GoLang/internal/httperr"
)

// RequestValidationError lists every problem found in one request body.
type RequestValidationError struct {
	Messages []string
}

func (e *RequestValidationError) Error() string {
	return "request validation failed: " + strings.Join(e.Messages, "; ")
}

// Pipeline holds the struct validator shared by all requests.
type Pipeline struct {
	validate *validator.Validate
}

// New returns a Pipeline whose messages use JSON field names.
func New() *Pipeline {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonName)
	return &Pipeline{validate: v}
}

type pipelineKey struct{}

var fallback = New()

// Middleware makes p available to handlers through Bind.
func (p *Pipeline) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), pipelineKey{}, p)))
		})
	}
}

// FromContext returns the request's Pipeline, or a package default.
func FromContext(ctx context.Context) *Pipeline {
	if p, ok := ctx.Value(pipelineKey{}).(*Pipeline); ok {
		return p
	}
	return fallback
}

// Bind decodes r's JSON body into dst and validates it.
func Bind(r *http.Request, dst any) error {
	return FromContext(r.Context()).Decode(r.Body, dst)
}

// Decode reads a single JSON value from body into dst (a pointer), then runs
// the `validate` struct tags. An empty body decodes as an empty object.
func (p *Pipeline) Decode(body io.Reader, dst any) error {
	var raw json.RawMessage
	dec := json.NewDecoder(body)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return decodeError(err)
	}
	if dec.More() {
		return &RequestValidationError{Messages: []string{"request body must contain a single JSON value"}}
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	msgs := unknownProperties(raw, dst)

	strict := json.NewDecoder(bytes.NewReader(raw))
	if len(msgs) == 0 {
		strict.DisallowUnknownFields()
	}
	if err := strict.Decode(dst); err != nil {
		var rve *RequestValidationError
		if errors.As(decodeError(err), &rve) {
			msgs = append(msgs, rve.Messages...)
		}
		return &RequestValidationError{Messages: msgs}
	}

	if err := p.structOf(dst); err != nil {
		var rve *RequestValidationError
		if !errors.As(err, &rve) {
			return err
		}
		msgs = append(msgs, rve.Messages...)
	}
	if len(msgs) > 0 {
		return &RequestValidationError{Messages: msgs}
	}
	return nil
}

// structOf validates dst only when it points at a struct; maps and scalars
// carry no tags.
func (p *Pipeline) structOf(dst any) error {
	t := reflect.TypeOf(dst)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}
	return p.Struct(dst)
}

// Struct validates v against its `validate` tags.
func (p *Pipeline) Struct(v any) error {
	err := p.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fes validator.ValidationErrors
	if !errors.As(err, &fes) {
		return errors.Wrap(err, "validate")
	}
	msgs := make([]string, 0, len(fes))
	for _, fe := range fes {
		msgs = append(msgs, describe(fe))
	}
	return &RequestValidationError{Messages: msgs}
}

// WriteError renders err from Bind: 413 for oversized bodies, 400 for
// validation failures and 500 for anything else.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		httperr.Write(w, r, http.StatusRequestEntityTooLarge, "Request body is too large")
		return
	}
	var rve *RequestValidationError
	if errors.As(err, &rve) {
		httperr.Write(w, r, http.StatusBadRequest, rve.Messages)
		return
	}
	httperr.Write(w, r, http.StatusInternalServerError, "Internal server error")
}

func decodeError(err error) error {
	var (
		tooLarge  *http.MaxBytesError
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &tooLarge):
		return err
	case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		return &RequestValidationError{Messages: []string{"request body is not valid JSON"}}
	case errors.As(err, &typeErr):
		field := typeErr.Field
		if field == "" {
			return &RequestValidationError{Messages: []string{"request body must be a JSON object"}}
		}
		return &RequestValidationError{Messages: []string{fmt.Sprintf("%s must be of type %s", field, typeErr.Type.String())}}
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		name := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return &RequestValidationError{Messages: []string{"property " + name + " should not exist"}}
	default:
		return &RequestValidationError{Messages: []string{err.Error()}}
	}
}

// unknownProperties reports every top-level key of raw that dst's struct type
// does not declare. Nested unknown keys are caught by the strict decode.
func unknownProperties(raw json.RawMessage, dst any) []string {
	t := reflect.TypeOf(dst)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}
	var obj map[string]json.RawMessage
	if json.Unmarshal(raw, &obj) != nil {
		return nil
	}

	known := map[string]struct{}{}
	collectFields(t, known)

	var out []string
	for k := range obj {
		if _, ok := known[strings.ToLower(k)]; !ok {
			out = append(out, "property "+k+" should not exist")
		}
	}
	sort.Strings(out)
	return out
}

// collectFields mirrors encoding/json's case-insensitive name matching.
func collectFields(t reflect.Type, into map[string]struct{}) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		if f.Anonymous && tag == "" {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				collectFields(ft, into)
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		name := strings.SplitN(tag, ",", 2)[0]
		if name == "" {
			name = f.Name
		}
		into[strings.ToLower(name)] = struct{}{}
	}
}

func jsonName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return fld.Name
	}
	return name
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	param := fe.Param()
	isString := fe.Kind() == reflect.String

	switch fe.Tag() {
	case "required":
		return field + " should not be empty"
	case "email":
		return field + " must be an email"
	case "url", "http_url":
		return field + " must be a URL address"
	case "uuid", "uuid4":
		return field + " must be a UUID"
	case "oneof":
		return field + " must be one of the following values: " + strings.Join(strings.Fields(param), ", ")
	case "min":
		if isString {
			return fmt.Sprintf("%s must be longer than or equal to %s characters", field, param)
		}
		return fmt.Sprintf("%s must not be less than %s", field, param)
	case "max":
		if isString {
			return fmt.Sprintf("%s must be shorter than or equal to %s characters", field, param)
		}
		return fmt.Sprintf("%s must not be greater than %s", field, param)
	case "len":
		return fmt.Sprintf("%s must be exactly %s characters", field, param)
	case "gte":
		return fmt.Sprintf("%s must not be less than %s", field, param)
	case "lte":
		return fmt.Sprintf("%s must not be greater than %s", field, param)
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
