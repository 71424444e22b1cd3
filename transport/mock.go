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

package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"relay/sdk/pipeline"
)

// Mock is a scripted Transporter for tests. Responses and errors are queued
// with AppendResponse and AppendError and served in order; every request the
// mock receives is recorded, with its body captured, for later assertions.
//
// A Mock is safe for concurrent use, though scripted tests are usually
// sequential.
type Mock struct {
	mu       sync.Mutex
	queue    []mockResult
	requests []*http.Request
	bodies   [][]byte
}

var _ pipeline.Transporter = (*Mock)(nil)

type mockResult struct {
	resp *http.Response
	err  error
}

// NewMock returns an empty Mock. A request arriving with nothing queued
// fails the exchange with a descriptive error.
func NewMock() *Mock {
	return &Mock{}
}

// ResponseOption customizes a scripted response.
type ResponseOption func(*http.Response)

// WithStatusCode sets the response status.
func WithStatusCode(code int) ResponseOption {
	return func(r *http.Response) {
		r.StatusCode = code
		r.Status = fmt.Sprintf("%d %s", code, http.StatusText(code))
	}
}

// WithBody sets the response body.
func WithBody(body []byte) ResponseOption {
	return func(r *http.Response) {
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))
	}
}

// WithJSONBody marshals v as the response body and sets the content type.
// Marshal failures panic; scripted payloads are test fixtures.
func WithJSONBody(v any) ResponseOption {
	return func(r *http.Response) {
		data, err := json.Marshal(v)
		if err != nil {
			panic(fmt.Sprintf("transport: marshaling mock body: %v", err))
		}
		WithBody(data)(r)
		r.Header.Set("Content-Type", "application/json")
	}
}

// WithHeader adds a response header.
func WithHeader(key, value string) ResponseOption {
	return func(r *http.Response) {
		r.Header.Add(key, value)
	}
}

// NewResponse builds an *http.Response for tests: status 200, empty body,
// then opts applied in order.
func NewResponse(opts ...ResponseOption) *http.Response {
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewReader(nil)),
	}
	for _, opt := range opts {
		opt(resp)
	}
	return resp
}

// AppendResponse queues a response built from opts.
func (m *Mock) AppendResponse(opts ...ResponseOption) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockResult{resp: NewResponse(opts...)})
}

// AppendError queues a transport-level failure.
func (m *Mock) AppendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockResult{err: err})
}

// Do serves the next scripted result. The request and its body are recorded
// first, mirroring a real transport that always consumes the body it is
// given.
func (m *Mock) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		req.Body.Close()
	}
	m.requests = append(m.requests, req)
	m.bodies = append(m.bodies, body)

	if len(m.queue) == 0 {
		return nil, fmt.Errorf("transport: no scripted response for %s %s", req.Method, req.URL)
	}
	next := m.queue[0]
	m.queue = m.queue[1:]
	if next.err != nil {
		return nil, next.err
	}
	next.resp.Request = req
	return next.resp, nil
}

// Count returns how many requests the mock has served.
func (m *Mock) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Request returns the i-th recorded request.
func (m *Mock) Request(i int) *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

// RequestBody returns the captured body of the i-th recorded request.
func (m *Mock) RequestBody(i int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bodies[i]
}

// Remaining reports how many scripted results are still queued. Tests
// assert zero to prove every script entry was consumed.
func (m *Mock) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
