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
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"relay/sdk/pipeline"
)

const (
	// DefaultCacheTTL is how long cached responses stay fresh.
	DefaultCacheTTL = 30 * time.Second
	// DefaultCacheMaxEntries bounds the cache size.
	DefaultCacheMaxEntries = 256
	// CacheHeader marks served-from-cache responses with the value "hit".
	CacheHeader = "X-Relay-Cache"
)

// CacheConfig controls the response cache policy.
type CacheConfig struct {
	// TTL defaults to DefaultCacheTTL.
	TTL time.Duration
	// MaxEntries defaults to DefaultCacheMaxEntries. When full, expired
	// entries are pruned first, then the oldest.
	MaxEntries int
}

type cacheBypassKey struct{}

// WithCacheBypass marks ctx so the cache policy neither serves nor stores
// for that request.
func WithCacheBypass(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheBypassKey{}, true)
}

type cacheTTLKey struct{}

// WithCacheTTL overrides the cache TTL for a single request.
func WithCacheTTL(ctx context.Context, ttl time.Duration) context.Context {
	return context.WithValue(ctx, cacheTTLKey{}, ttl)
}

type cacheEntry struct {
	status   int
	header   http.Header
	body     []byte
	storedAt time.Time
	expires  time.Time
}

// CachePolicy serves repeated GET and HEAD requests from memory. The cache
// belongs to one pipeline, so entries never cross credential boundaries.
// Responses carrying Cache-Control: no-store are not kept.
type CachePolicy struct {
	ttl        time.Duration
	maxEntries int

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// NewCachePolicy builds a response cache.
func NewCachePolicy(cfg CacheConfig) *CachePolicy {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultCacheMaxEntries
	}
	return &CachePolicy{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]*cacheEntry),
	}
}

// Do implements pipeline.Policy.
func (p *CachePolicy) Do(req *pipeline.Request) (*http.Response, error) {
	raw := req.Raw()
	cacheable := raw.Method == http.MethodGet || raw.Method == http.MethodHead
	if !cacheable || bypassed(req.Context()) {
		return req.Next()
	}

	key := raw.Method + " " + raw.URL.String()
	if resp := p.lookup(key, raw); resp != nil {
		return resp, nil
	}

	resp, err := req.Next()
	if err != nil || resp.StatusCode != http.StatusOK {
		return resp, err
	}
	if strings.Contains(strings.ToLower(resp.Header.Get("Cache-Control")), "no-store") {
		return resp, nil
	}

	body, perr := pipeline.Payload(resp)
	if perr != nil {
		return resp, nil
	}
	p.store(key, resp, body, ttlFor(req.Context(), p.ttl))
	return resp, nil
}

func bypassed(ctx context.Context) bool {
	b, _ := ctx.Value(cacheBypassKey{}).(bool)
	return b
}

func ttlFor(ctx context.Context, fallback time.Duration) time.Duration {
	if ttl, ok := ctx.Value(cacheTTLKey{}).(time.Duration); ok && ttl > 0 {
		return ttl
	}
	return fallback
}

// lookup returns a response built from a fresh entry, or nil on miss.
func (p *CachePolicy) lookup(key string, raw *http.Request) *http.Response {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[key]
	if !ok {
		return nil
	}
	if time.Now().After(e.expires) {
		delete(p.entries, key)
		return nil
	}

	header := e.header.Clone()
	header.Set(CacheHeader, "hit")
	return &http.Response{
		StatusCode: e.status,
		Status:     fmt.Sprintf("%d %s", e.status, http.StatusText(e.status)),
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(e.body)),
		Request:    raw,
	}
}

func (p *CachePolicy) store(key string, resp *http.Response, body []byte, ttl time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.entries) >= p.maxEntries {
		p.prune()
	}

	now := time.Now()
	p.entries[key] = &cacheEntry{
		status:   resp.StatusCode,
		header:   resp.Header.Clone(),
		body:     body,
		storedAt: now,
		expires:  now.Add(ttl),
	}
}

// prune removes expired entries, then the oldest entry if still full.
// Callers must hold mu.
func (p *CachePolicy) prune() {
	now := time.Now()
	for k, e := range p.entries {
		if now.After(e.expires) {
			delete(p.entries, k)
		}
	}
	if len(p.entries) < p.maxEntries {
		return
	}
	var oldestKey string
	var oldest time.Time
	for k, e := range p.entries {
		if oldestKey == "" || e.storedAt.Before(oldest) {
			oldestKey = k
			oldest = e.storedAt
		}
	}
	if oldestKey != "" {
		delete(p.entries, oldestKey)
	}
}

// Len reports the number of cached entries.
func (p *CachePolicy) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Clear drops every entry.
func (p *CachePolicy) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = make(map[string]*cacheEntry)
}
