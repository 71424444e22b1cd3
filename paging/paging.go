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

// Package paging iterates server-side paginated collections one page at a
// time. The caller supplies a PagingHandler that knows how to fetch a page
// and how to tell whether another one follows; Pager drives it.
package paging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"relay/sdk/apierror"
	"relay/sdk/pipeline"
)

// ErrNoMorePages is returned by NextPage once the collection is exhausted.
var ErrNoMorePages = errors.New("paging: no more pages")

// PagingHandler supplies the mechanics for one paginated operation.
type PagingHandler[T any] struct {
	// More reports whether another page follows the given one.
	More func(page T) bool
	// Fetcher retrieves a page. current is nil on the first call and the
	// previously fetched page afterwards.
	Fetcher func(ctx context.Context, current *T) (T, error)
}

// Pager iterates pages of T. It is not safe for concurrent use.
type Pager[T any] struct {
	handler PagingHandler[T]
	current *T
}

// NewPager creates a Pager. Both handler functions are required.
func NewPager[T any](handler PagingHandler[T]) *Pager[T] {
	return &Pager[T]{handler: handler}
}

// More reports whether another call to NextPage will yield a page. It is
// always true before the first fetch.
func (p *Pager[T]) More() bool {
	if p.current == nil {
		return true
	}
	return p.handler.More(*p.current)
}

// NextPage fetches the next page. A failed fetch does not advance the
// pager, so the same page can be retried. Calling NextPage after More
// reports false returns ErrNoMorePages.
func (p *Pager[T]) NextPage(ctx context.Context) (T, error) {
	var zero T
	if !p.More() {
		return zero, ErrNoMorePages
	}
	page, err := p.handler.Fetcher(ctx, p.current)
	if err != nil {
		return zero, err
	}
	p.current = &page
	return page, nil
}

// nextLinkPage is the wire shape of the list convention this SDK's
// services follow.
type nextLinkPage struct {
	NextLink string `json:"nextLink"`
}

// NextLink extracts the nextLink field from a list response body without
// disturbing other consumers of the body.
func NextLink(resp *http.Response) (string, error) {
	var page nextLinkPage
	body, err := pipeline.Payload(resp)
	if err != nil {
		return "", fmt.Errorf("paging: reading page: %w", err)
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return "", fmt.Errorf("paging: parsing page: %w", err)
	}
	return page.NextLink, nil
}

// FetcherForNextLink builds a Fetcher for the {"value":[...],
// "nextLink":"..."} convention: the first call issues firstReq, follow-up
// calls GET the previous page's next link, read through the nextLink
// accessor.
func FetcherForNextLink[T any](pl pipeline.Pipeline, firstReq func(ctx context.Context) (*pipeline.Request, error), nextLink func(page T) string) func(ctx context.Context, current *T) (T, error) {
	return func(ctx context.Context, current *T) (T, error) {
		var zero T
		var req *pipeline.Request
		var err error
		if current == nil {
			req, err = firstReq(ctx)
		} else {
			req, err = pipeline.NewRequest(ctx, http.MethodGet, nextLink(*current))
		}
		if err != nil {
			return zero, err
		}
		resp, err := pl.Do(req)
		if err != nil {
			return zero, err
		}
		if resp.StatusCode != http.StatusOK {
			return zero, apierror.FromResponse(resp)
		}
		var page T
		if err := pipeline.UnmarshalAsJSON(resp, &page); err != nil {
			return zero, err
		}
		return page, nil
	}
}
