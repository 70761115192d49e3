/*
Copyright 2025 The llm-d Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package apperrors defines the error taxonomy shared by the request
// handlers and the inference core, and its mapping onto HTTP responses.
package apperrors

import (
	"context"
	"encoding/json"
	"net/http"

	"k8s.io/klog/v2"
)

// Kind classifies an error for the purpose of HTTP status mapping and
// logging policy. It carries no other semantics.
type Kind int

const (
	// Validation marks bad input: empty query, oversized batch, bad
	// top_k, an unparseable catalog document.
	Validation Kind = iota
	// Resource marks overload: a permit deadline exceeded, no free pool
	// slot, or a compute timeout.
	Resource
	// Model marks an evaluator failure: missing output, shape mismatch,
	// a worker panic recovered at the call boundary.
	Model
	// Tokenization marks a tokenizer encode failure.
	Tokenization
)

func (k Kind) httpStatus() int {
	switch k {
	case Validation:
		return http.StatusBadRequest
	case Resource:
		return http.StatusServiceUnavailable
	case Model, Tokenization:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Error is a typed application error carrying a Kind and a
// caller-facing message. The underlying cause, if any, is kept for
// logging but never serialized into the response body.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error attaching cause as the underlying error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// responseBody is the wire shape of every non-2xx response.
type responseBody struct {
	Error string `json:"error"`
	Code  uint16 `json:"code"`
}

// WriteHTTP maps err onto an HTTP response, applying the logging
// policy from the error handling design: validation errors are never
// logged at error level (and, here, not logged at all — they carry no
// diagnostic value beyond what the response body already states);
// resource errors are logged at info/warn verbosity as user-actionable;
// model and tokenization errors are logged at error level with the
// underlying cause.
func WriteHTTP(ctx context.Context, w http.ResponseWriter, err error) {
	appErr, ok := err.(*Error)
	if !ok {
		appErr = &Error{Kind: Model, Message: "internal error", Cause: err}
	}

	logger := klog.FromContext(ctx)
	switch appErr.Kind {
	case Validation:
		// never logged at error level; no diagnostic value to add.
	case Resource:
		logger.Info("request rejected: resource exhausted", "message", appErr.Message)
	case Model, Tokenization:
		logger.Error(appErr.Cause, appErr.Message)
	}

	status := appErr.Kind.httpStatus()
	writeJSON(w, status, responseBody{Error: appErr.Message, Code: uint16(status)}) //nolint:gosec // status codes fit uint16
}

// AsKind reports whether err is an *Error of the given kind.
func AsKind(err error, kind Kind) bool {
	appErr, ok := err.(*Error)
	return ok && appErr.Kind == kind
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
