// Copyright 2025 Relay Labs, Inc.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package apierror maps non-success HTTP responses to typed Go errors.
//
// Service operations return *ResponseError for any status outside the
// operation's expected set. Callers unwrap it with errors.As and branch on
// StatusCode or ErrorCode, or use the classification helpers (IsNotFound,
// IsThrottled, ...) for the common cases.
package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"relay/sdk/pipeline"
)

// Header names the Relay services use to surface error metadata.
const (
	// HeaderErrorCode carries the machine-readable error code when the
	// service chooses not to repeat it in the body.
	HeaderErrorCode = "x-relay-error-code"
	// HeaderRequestID is the service-assigned ID of the failed request.
	HeaderRequestID = "x-relay-request-id"
)

// snippetLimit caps how much of the response body Error() reproduces.
const snippetLimit = 2048

// ResponseError is the error returned for a non-success HTTP response.
//
// The URL field has its query string stripped so rendered errors never leak
// signed query parameters. RawResponse keeps the full response, with a
// replayable body, for callers that need more than the extracted fields.
type ResponseError struct {
	// StatusCode is the HTTP status of the failed response.
	StatusCode int
	// Status is the full status line, for example "404 Not Found".
	Status string
	// ErrorCode is the service's machine-readable code, if one was found in
	// the x-relay-error-code header or the body's error envelope.
	ErrorCode string
	// RequestID is the service-assigned request ID, if present.
	RequestID string
	// Method and URL identify the failed call. URL carries no query string.
	Method string
	URL    string
	// RawResponse is the response that produced this error.
	RawResponse *http.Response

	snippet string
}

// errorEnvelope matches the two JSON error shapes Relay services emit:
// {"error":{"code":...,"message":...}} and the flat {"code":...,"message":...}.
type errorEnvelope struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FromResponse builds a *ResponseError from a non-success response. The
// response body is read through pipeline.Payload, so it remains available on
// RawResponse afterwards.
func FromResponse(resp *http.Response) *ResponseError {
	e := &ResponseError{
		StatusCode:  resp.StatusCode,
		Status:      resp.Status,
		RawResponse: resp,
		ErrorCode:   resp.Header.Get(HeaderErrorCode),
		RequestID:   resp.Header.Get(HeaderRequestID),
	}
	if resp.Request != nil {
		e.Method = resp.Request.Method
		u := *resp.Request.URL
		u.RawQuery = ""
		u.Fragment = ""
		e.URL = u.String()
	}
	body, err := pipeline.Payload(resp)
	if err == nil && len(body) > 0 {
		e.snippet = bodySnippet(body)
		if e.ErrorCode == "" {
			var env errorEnvelope
			if json.Unmarshal(body, &env) == nil {
				if env.Error != nil && env.Error.Code != "" {
					e.ErrorCode = env.Error.Code
				} else if env.Code != "" {
					e.ErrorCode = env.Code
				}
			}
		}
	}
	return e
}

func bodySnippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > snippetLimit {
		s = s[:snippetLimit] + "...(truncated)"
	}
	return s
}

// Error renders a single-line description: method, query-less URL, status,
// error code, request ID, and a capped body snippet. Credentials never
// appear: headers are not rendered and the query string was stripped at
// construction.
func (e *ResponseError) Error() string {
	var b strings.Builder
	b.WriteString("relay: request failed")
	if e.Method != "" && e.URL != "" {
		fmt.Fprintf(&b, ": %s %s", e.Method, e.URL)
	}
	if e.Status != "" {
		fmt.Fprintf(&b, ": %s", e.Status)
	} else if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.ErrorCode != "" {
		fmt.Fprintf(&b, " (code=%s)", e.ErrorCode)
	}
	if e.RequestID != "" {
		fmt.Fprintf(&b, " (request_id=%s)", e.RequestID)
	}
	if e.snippet != "" {
		fmt.Fprintf(&b, ": %s", e.snippet)
	}
	return b.String()
}

// HasStatus reports whether err is a *ResponseError with one of the given
// status codes.
func HasStatus(err error, codes ...int) bool {
	var re *ResponseError
	if !errors.As(err, &re) {
		return false
	}
	for _, code := range codes {
		if re.StatusCode == code {
			return true
		}
	}
	return false
}

// CodeOf returns the service error code carried by err, or "" when err is
// not a *ResponseError or no code was found.
func CodeOf(err error) string {
	var re *ResponseError
	if errors.As(err, &re) {
		return re.ErrorCode
	}
	return ""
}

// IsNotFound reports whether err represents a 404.
func IsNotFound(err error) bool {
	return HasStatus(err, http.StatusNotFound)
}

// IsAuthFailure reports whether err represents a 401 or 403.
func IsAuthFailure(err error) bool {
	return HasStatus(err, http.StatusUnauthorized, http.StatusForbidden)
}

// IsConflict reports whether err represents a 409.
func IsConflict(err error) bool {
	return HasStatus(err, http.StatusConflict)
}

// IsThrottled reports whether err represents a 429.
func IsThrottled(err error) bool {
	return HasStatus(err, http.StatusTooManyRequests)
}

// IsRetryable reports whether retrying the operation could plausibly
// succeed: timeouts, throttling, server errors, and transport-level
// failures qualify; other client errors and context cancellation do not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var re *ResponseError
	if errors.As(err, &re) {
		switch re.StatusCode {
		case http.StatusRequestTimeout, http.StatusTooManyRequests:
			return true
		}
		return re.StatusCode >= 500
	}
	// Anything else is a transport-level failure.
	return true
}
