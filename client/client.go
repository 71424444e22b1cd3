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

package client

import (
	"context"
	"net/http"
	"strings"

	"relay/sdk/apierror"
	"relay/sdk/credential"
	"relay/sdk/logging"
	"relay/sdk/paging"
	"relay/sdk/pipeline"
	"relay/sdk/policies"
	"relay/sdk/polling"
)

// Options configures NewClient. The zero value yields a client with
// telemetry, request IDs, default retries, logging, and tracing. Use the
// Builder for policies Options does not cover.
type Options struct {
	// Credential supplies bearer tokens; Scopes are the audiences requested.
	Credential credential.TokenCredential
	Scopes     []string

	// Key authenticates with a shared API key instead of a token.
	Key *credential.KeyCredential

	// Retry overrides the default retry configuration.
	Retry *policies.RetryConfig

	// Transport substitutes the HTTP transport.
	Transport pipeline.Transporter

	// Headers are applied to every request.
	Headers map[string]string

	// ApplicationID is prepended to the User-Agent.
	ApplicationID string

	// APIVersion is appended as an api-version query parameter.
	APIVersion string

	// Logger receives HTTP exchange logs.
	Logger logging.Logger

	// AllowInsecure permits plain-HTTP endpoints.
	AllowInsecure bool

	// PerCallPolicies run once per operation, PerRetryPolicies on every attempt.
	PerCallPolicies  []pipeline.Policy
	PerRetryPolicies []pipeline.Policy
}

// Client issues requests against a single service endpoint through the
// configured pipeline. It is safe for concurrent use.
type Client struct {
	endpoint   string
	apiVersion string
	pl         pipeline.Pipeline
}

// NewClient builds a client with the common options. It is shorthand for
// the equivalent Builder chain.
func NewClient(endpoint string, opts Options) (*Client, error) {
	b := NewBuilder(endpoint)
	if opts.Credential != nil {
		b.WithCredential(opts.Credential, opts.Scopes...)
	}
	if opts.Key != nil {
		b.WithKey(opts.Key, "")
	}
	if opts.Retry != nil {
		b.WithRetry(*opts.Retry)
	}
	if opts.Transport != nil {
		b.WithTransport(opts.Transport)
	}
	if len(opts.Headers) > 0 {
		b.WithHeaders(opts.Headers)
	}
	if opts.ApplicationID != "" {
		b.WithApplicationID(opts.ApplicationID)
	}
	if opts.APIVersion != "" {
		b.WithAPIVersion(opts.APIVersion)
	}
	if opts.Logger != nil {
		b.WithLogger(opts.Logger)
	}
	if opts.AllowInsecure {
		b.AllowInsecure()
	}
	for _, p := range opts.PerCallPolicies {
		b.WithPerCallPolicy(p)
	}
	for _, p := range opts.PerRetryPolicies {
		b.WithPerRetryPolicy(p)
	}
	return b.Build()
}

// Endpoint returns the normalized base URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Pipeline exposes the assembled pipeline for pagers, pollers, and raw use.
func (c *Client) Pipeline() pipeline.Pipeline {
	return c.pl
}

// NewRequest builds a request for path relative to the endpoint. An
// absolute URL is used as given. The client's api-version is appended
// unless the path already carries one.
func (c *Client) NewRequest(ctx context.Context, method, path string) (*pipeline.Request, error) {
	rawURL := path
	if !strings.Contains(path, "://") {
		rawURL = JoinPath(c.endpoint, path)
	}
	req, err := pipeline.NewRequest(ctx, method, rawURL)
	if err != nil {
		return nil, err
	}
	if c.apiVersion != "" {
		raw := req.Raw()
		q := raw.URL.Query()
		if q.Get("api-version") == "" {
			q.Set("api-version", c.apiVersion)
			raw.URL.RawQuery = q.Encode()
		}
	}
	return req, nil
}

// Do sends a prepared request through the pipeline.
func (c *Client) Do(req *pipeline.Request) (*http.Response, error) {
	return c.pl.Do(req)
}

// Get issues a GET for path.
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	return c.send(ctx, http.MethodGet, path, nil)
}

// Delete issues a DELETE for path.
func (c *Client) Delete(ctx context.Context, path string) (*http.Response, error) {
	return c.send(ctx, http.MethodDelete, path, nil)
}

// Post issues a POST with body marshaled as JSON. A nil body sends no payload.
func (c *Client) Post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.send(ctx, http.MethodPost, path, body)
}

// Put issues a PUT with body marshaled as JSON. A nil body sends no payload.
func (c *Client) Put(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.send(ctx, http.MethodPut, path, body)
}

// Patch issues a PATCH with body marshaled as JSON. A nil body sends no payload.
func (c *Client) Patch(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.send(ctx, http.MethodPatch, path, body)
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	req, err := c.NewRequest(ctx, method, path)
	if err != nil {
		return nil, err
	}
	if body != nil {
		if err := pipeline.MarshalAsJSON(req, body); err != nil {
			return nil, err
		}
	}
	return c.pl.Do(req)
}

// Decode maps error statuses to *apierror.ResponseError and unmarshals a
// success payload into v. Pass nil to discard the body; 204 responses are
// drained regardless.
func Decode(resp *http.Response, v any) error {
	if !pipeline.HasStatusCode(resp, http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent) {
		return apierror.FromResponse(resp)
	}
	if v == nil || resp.StatusCode == http.StatusNoContent {
		pipeline.Drain(resp)
		return nil
	}
	return pipeline.UnmarshalAsJSON(resp, v)
}

// JoinPath joins path segments onto base, keeping the base query string at
// the end and collapsing duplicate slashes at the seams.
func JoinPath(base string, paths ...string) string {
	if len(paths) == 0 {
		return base
	}
	query := ""
	if i := strings.Index(base, "?"); i >= 0 {
		base, query = base[:i], base[i:]
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		base = strings.TrimRight(base, "/") + "/" + strings.TrimLeft(p, "/")
	}
	return base + query
}

// NewListPager pages through the list operation rooted at path, following
// each page's next link until it is empty.
func NewListPager[T any](c *Client, path string, nextLink func(page T) string) *paging.Pager[T] {
	return paging.NewPager(paging.PagingHandler[T]{
		More: func(page T) bool {
			return nextLink(page) != ""
		},
		Fetcher: paging.FetcherForNextLink(c.pl, func(ctx context.Context) (*pipeline.Request, error) {
			return c.NewRequest(ctx, http.MethodGet, path)
		}, nextLink),
	})
}

// NewPoller starts polling the long-running operation begun by resp.
func NewPoller[T any](c *Client, resp *http.Response) (*polling.Poller[T], error) {
	return polling.NewPoller[T](c.pl, resp)
}

// NewPollerFromResumeToken rehydrates a poller from a token produced by
// Poller.ResumeToken, typically in another process.
func NewPollerFromResumeToken[T any](c *Client, token string) (*polling.Poller[T], error) {
	return polling.NewPollerFromResumeToken[T](c.pl, token)
}
