// Pica
// Copyright (C) 2025 Pica, Inc.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package httplib glues handlers onto the router: a handler signature that
// returns (value, error), JSON rendering, request decoding and the mapping
// from error kinds to HTTP status codes.
package httplib

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
)

// maxRequestBody bounds decoded request bodies.
const maxRequestBody = 4 << 20 // 4 MiB

// HandlerFunc is a request handler returning a JSON-renderable value or an
// error.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error)

// MakeHandler adapts a HandlerFunc to the router. The returned value is
// rendered as JSON; errors are rendered through ReplyError. A nil value
// with a nil error means the handler already wrote the response.
func MakeHandler(fn HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		out, err := fn(w, r, p)
		if err != nil {
			ReplyError(w, r, err)
			return
		}
		if out == nil {
			return
		}
		ReplyJSON(w, http.StatusOK, out)
	}
}

// ReplyJSON writes value as a JSON response with the given status.
func ReplyJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// errorResponse is the uniform JSON error body.
type errorResponse struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// ReplyError renders err with the status derived from its kind. Internal
// details of 5xx errors stay out of the response body.
func ReplyError(w http.ResponseWriter, r *http.Request, err error) {
	status := ErrorToCode(err)
	message := trace.UserMessage(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		message = "internal server error"
	}
	ReplyJSON(w, status, errorResponse{Message: message, Status: status})
}

// ErrorToCode maps an error kind to its HTTP status.
func ErrorToCode(err error) int {
	switch {
	case IsUnauthorized(err):
		return http.StatusUnauthorized
	case IsUnprocessable(err):
		return http.StatusUnprocessableEntity
	case trace.IsBadParameter(err):
		return http.StatusBadRequest
	case trace.IsAccessDenied(err):
		return http.StatusForbidden
	case trace.IsNotFound(err):
		return http.StatusNotFound
	case trace.IsAlreadyExists(err):
		return http.StatusConflict
	case trace.IsLimitExceeded(err):
		return http.StatusTooManyRequests
	case trace.IsConnectionProblem(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ReadJSON decodes the request body into out; malformed bodies are
// unprocessable, not bad requests, matching the status contract of the
// write endpoints.
func ReadJSON(r *http.Request, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return trace.ConvertSystemError(err)
	}
	if len(body) == 0 {
		return Unprocessable("missing request body")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return Unprocessable("invalid request body: %v", err)
	}
	return nil
}

// unauthorizedError renders as 401.
type unauthorizedError struct {
	message string
}

func (e *unauthorizedError) Error() string { return e.message }

// Unauthorized returns an error that renders as 401.
func Unauthorized(format string, args ...any) error {
	return trace.Wrap(&unauthorizedError{message: fmt.Sprintf(format, args...)})
}

// IsUnauthorized reports whether err renders as 401.
func IsUnauthorized(err error) bool {
	var target *unauthorizedError
	return errors.As(err, &target)
}

// unprocessableError renders as 422.
type unprocessableError struct {
	message string
}

func (e *unprocessableError) Error() string { return e.message }

// Unprocessable returns an error that renders as 422.
func Unprocessable(format string, args ...any) error {
	return trace.Wrap(&unprocessableError{message: fmt.Sprintf(format, args...)})
}

// IsUnprocessable reports whether err renders as 422.
func IsUnprocessable(err error) bool {
	var target *unprocessableError
	return errors.As(err, &target)
}
