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

package policies

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"relay/sdk/apierror"
	"relay/sdk/logging"
	"relay/sdk/pipeline"
)

const redactedValue = "REDACTED"

// defaultAllowedHeaders are logged verbatim; everything else is redacted.
// Auth and cookie headers are never on this list.
var defaultAllowedHeaders = []string{
	"Accept",
	"Cache-Control",
	"Content-Length",
	"Content-Type",
	"Date",
	"ETag",
	"Last-Modified",
	"Retry-After",
	"User-Agent",
	HeaderClientRequestID,
	apierror.HeaderRequestID,
	apierror.HeaderErrorCode,
}

// defaultAllowedQueryParams are logged verbatim; other query values are
// redacted so signed URLs stay out of log streams.
var defaultAllowedQueryParams = []string{"api-version"}

// HTTPLogConfig controls the HTTP logging policy.
type HTTPLogConfig struct {
	// Logger receives the log entries. Defaults to logging.FromEnv().
	Logger logging.Logger
	// AllowedHeaders extends the default allowlist.
	AllowedHeaders []string
	// AllowedQueryParams extends the default allowlist.
	AllowedQueryParams []string
}

// HTTPLogPolicy writes one entry per attempt on the way out and one on the
// way back. Responses with status 400 and above log at Warn, everything
// else at Debug. Headers and query strings are redacted outside the
// configured allowlists.
type HTTPLogPolicy struct {
	logger         logging.Logger
	allowedHeaders map[string]struct{}
	allowedParams  map[string]struct{}
}

// NewHTTPLogPolicy returns a policy configured per cfg.
func NewHTTPLogPolicy(cfg HTTPLogConfig) *HTTPLogPolicy {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.FromEnv()
	}
	p := &HTTPLogPolicy{
		logger:         logger,
		allowedHeaders: map[string]struct{}{},
		allowedParams:  map[string]struct{}{},
	}
	for _, h := range defaultAllowedHeaders {
		p.allowedHeaders[strings.ToLower(h)] = struct{}{}
	}
	for _, h := range cfg.AllowedHeaders {
		p.allowedHeaders[strings.ToLower(h)] = struct{}{}
	}
	for _, q := range defaultAllowedQueryParams {
		p.allowedParams[q] = struct{}{}
	}
	for _, q := range cfg.AllowedQueryParams {
		p.allowedParams[q] = struct{}{}
	}
	return p
}

// Do implements pipeline.Policy.
func (p *HTTPLogPolicy) Do(req *pipeline.Request) (*http.Response, error) {
	if !p.logger.Enabled(logging.LevelDebug) && !p.logger.Enabled(logging.LevelWarn) {
		return req.Next()
	}
	raw := req.Raw()
	sanitizedURL := p.sanitizeURL(raw.URL)
	attempt := pipeline.AttemptFromContext(raw.Context())

	if p.logger.Enabled(logging.LevelDebug) {
		p.logger.Log(logging.LevelDebug, "sending request", map[string]any{
			"method":  raw.Method,
			"url":     sanitizedURL,
			"attempt": attempt,
			"headers": p.sanitizeHeaders(raw.Header),
		})
	}

	start := time.Now()
	resp, err := req.Next()
	elapsed := time.Since(start)

	if err != nil {
		p.logger.Log(logging.LevelWarn, "request failed", map[string]any{
			"method":      raw.Method,
			"url":         sanitizedURL,
			"attempt":     attempt,
			"duration_ms": elapsed.Milliseconds(),
			"error":       err.Error(),
		})
		return nil, err
	}

	level := logging.LevelDebug
	if resp.StatusCode >= http.StatusBadRequest {
		level = logging.LevelWarn
	}
	if p.logger.Enabled(level) {
		fields := map[string]any{
			"method":      raw.Method,
			"url":         sanitizedURL,
			"status":      resp.StatusCode,
			"attempt":     attempt,
			"duration_ms": elapsed.Milliseconds(),
		}
		if p.logger.Enabled(logging.LevelDebug) {
			fields["headers"] = p.sanitizeHeaders(resp.Header)
		}
		p.logger.Log(level, "received response", fields)
	}
	return resp, nil
}

func (p *HTTPLogPolicy) sanitizeURL(u *url.URL) string {
	if u.RawQuery == "" {
		return u.String()
	}
	clean := *u
	query := clean.Query()
	for k := range query {
		if _, ok := p.allowedParams[k]; !ok {
			query.Set(k, redactedValue)
		}
	}
	clean.RawQuery = query.Encode()
	return clean.String()
}

func (p *HTTPLogPolicy) sanitizeHeaders(hdr http.Header) map[string]string {
	out := make(map[string]string, len(hdr))
	for k, vv := range hdr {
		if _, ok := p.allowedHeaders[strings.ToLower(k)]; ok {
			out[k] = strings.Join(vv, ", ")
		} else {
			out[k] = redactedValue
		}
	}
	return out
}
