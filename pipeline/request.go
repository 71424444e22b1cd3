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

package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Request is the pipeline's view of an in-flight HTTP request. It wraps the
// underlying *http.Request, tracks the remaining policy chain, and keeps the
// body rewindable so retrying policies can replay it.
//
// A Request is owned by a single goroutine for the duration of one pipeline
// Do call.
type Request struct {
	req      *http.Request
	body     io.ReadSeekCloser
	policies []Policy
	values   map[any]any
}

// NewRequest creates a Request for the given method and absolute URL, bound
// to ctx. The URL must parse and carry a scheme and host.
func NewRequest(ctx context.Context, method, rawURL string) (*Request, error) {
	if ctx == nil {
		return nil, errors.New("pipeline: nil context")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("pipeline: invalid url %q: %w", rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("pipeline: url %q must be absolute", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("pipeline: building request: %w", err)
	}
	return &Request{req: req, values: make(map[any]any)}, nil
}

// Raw returns the underlying *http.Request. Mutations are visible to every
// policy that runs after the mutation.
func (req *Request) Raw() *http.Request {
	return req.req
}

// Context returns the request's context.
func (req *Request) Context() context.Context {
	return req.req.Context()
}

// Clone returns a copy of the request bound to ctx. The header map is deep
// copied; the body seeker and the value map are shared with the original so
// rewinds and cross-policy values stay coherent across attempts.
func (req *Request) Clone(ctx context.Context) *Request {
	r2 := *req
	r2.req = req.req.Clone(ctx)
	return &r2
}

// Next forwards the request to the next policy in the chain, or to the
// transport when no policies remain to run before it. Retrying policies call
// Next repeatedly; each call replays the remainder of the chain.
func (req *Request) Next() (*http.Response, error) {
	if len(req.policies) == 0 {
		return nil, errors.New("pipeline: no more policies")
	}
	next := req.policies[0]
	r2 := *req
	r2.policies = req.policies[1:]
	return next.Do(&r2)
}

// SetValue stores a cross-policy value on the request. Keys follow the
// context-key convention: define an unexported struct type per key to avoid
// collisions. The value map is shared across clones.
func (req *Request) SetValue(key, value any) {
	req.values[key] = value
}

// Value returns a value stored with SetValue.
func (req *Request) Value(key any) (any, bool) {
	v, ok := req.values[key]
	return v, ok
}

// SetBody installs a rewindable body on the request. Content-Length is
// derived from the seeker; contentType is set when non-empty. A zero-length
// body clears any existing one. GetBody is wired up so the standard library
// can also replay the body for redirects.
func (req *Request) SetBody(body io.ReadSeekCloser, contentType string) error {
	size, err := body.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("pipeline: sizing body: %w", err)
	}
	if size == 0 {
		body.Close()
		req.body = nil
		req.req.Body = nil
		req.req.GetBody = nil
		req.req.ContentLength = 0
		req.req.Header.Del("Content-Type")
		return nil
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("pipeline: rewinding body: %w", err)
	}
	req.body = body
	req.req.Body = body
	req.req.ContentLength = size
	req.req.GetBody = func() (io.ReadCloser, error) {
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return body, nil
	}
	if contentType != "" {
		req.req.Header.Set("Content-Type", contentType)
	}
	return nil
}

// Body returns the rewindable body installed by SetBody, or nil.
func (req *Request) Body() io.ReadSeekCloser {
	return req.body
}

// RewindBody seeks the body back to the start so the next attempt sends the
// full payload. It also reinstalls the body on the underlying request in
// case a transport closed it.
func (req *Request) RewindBody() error {
	if req.body == nil {
		return nil
	}
	if _, err := req.body.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("pipeline: rewinding body: %w", err)
	}
	req.req.Body = req.body
	return nil
}

// MarshalAsJSON encodes v as the request body with a JSON content type.
func MarshalAsJSON(req *Request, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("pipeline: marshaling request body: %w", err)
	}
	return req.SetBody(NopCloser(bytes.NewReader(data)), "application/json")
}

type nopCloser struct {
	io.ReadSeeker
}

func (nopCloser) Close() error { return nil }

// NopCloser wraps a ReadSeeker with a no-op Close so in-memory payloads can
// serve as request bodies.
func NopCloser(rs io.ReadSeeker) io.ReadSeekCloser {
	return nopCloser{rs}
}
