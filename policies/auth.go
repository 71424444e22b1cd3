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
	"errors"
	"fmt"
	"net/http"
	"time"

	"relay/sdk/credential"
	"relay/sdk/pipeline"
)

// DefaultKeyHeader carries API keys when no header name is configured.
const DefaultKeyHeader = "X-API-Key"

// ErrInsecureAuth is returned when an auth policy would send a credential
// over plain HTTP without the explicit opt-in.
var ErrInsecureAuth = errors.New("policies: refusing to send credentials over http")

// BearerTokenConfig controls the bearer auth policy.
type BearerTokenConfig struct {
	// Scopes requested from the credential.
	Scopes []string
	// RefreshWindow is forwarded to the token cache; zero selects the
	// cache default, negative disables proactive refresh.
	RefreshWindow time.Duration
	// InsecureAllowHTTP permits sending the token over plain HTTP.
	InsecureAllowHTTP bool
}

// BearerTokenPolicy injects "Authorization: Bearer ..." on every attempt.
// Tokens come from a credential.Cache, so a valid token costs one map
// lookup and refresh happens ahead of expiry. A 401 triggers exactly one
// forced refresh and replay per attempt; a second 401 is returned to the
// caller.
type BearerTokenPolicy struct {
	cache    *credential.Cache
	scopes   []string
	insecure bool
}

// NewBearerTokenPolicy wraps cred for pipeline use.
func NewBearerTokenPolicy(cred credential.TokenCredential, cfg BearerTokenConfig) *BearerTokenPolicy {
	return &BearerTokenPolicy{
		cache:    credential.NewCache(cred, cfg.RefreshWindow),
		scopes:   cfg.Scopes,
		insecure: cfg.InsecureAllowHTTP,
	}
}

// Do implements pipeline.Policy.
func (p *BearerTokenPolicy) Do(req *pipeline.Request) (*http.Response, error) {
	if err := requireTLS(req, p.insecure); err != nil {
		return nil, err
	}
	opts := credential.TokenRequestOptions{Scopes: p.scopes}

	tok, err := p.cache.Token(req.Context(), opts)
	if err != nil {
		return nil, fmt.Errorf("policies: acquiring token: %w", err)
	}
	req.Raw().Header.Set("Authorization", "Bearer "+tok.Token)

	resp, err := req.Next()
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	// The service rejected the token. Refresh once and replay; the cache
	// collapses concurrent refreshes of the same stale token.
	fresh, err := p.cache.Refresh(req.Context(), opts, tok.Token)
	if err != nil || fresh.Token == tok.Token {
		return resp, nil
	}
	if err := req.RewindBody(); err != nil {
		return resp, nil
	}
	pipeline.Drain(resp)
	req.Raw().Header.Set("Authorization", "Bearer "+fresh.Token)
	return req.Next()
}

// KeyConfig controls the API key policy.
type KeyConfig struct {
	// Header defaults to DefaultKeyHeader.
	Header string
	// InsecureAllowHTTP permits sending the key over plain HTTP.
	InsecureAllowHTTP bool
}

// KeyPolicy sets a shared API key header on every attempt, reading the
// credential each time so rotations apply to in-flight operations.
type KeyPolicy struct {
	cred     *credential.KeyCredential
	header   string
	insecure bool
}

// NewKeyPolicy wraps cred for pipeline use.
func NewKeyPolicy(cred *credential.KeyCredential, cfg KeyConfig) *KeyPolicy {
	header := cfg.Header
	if header == "" {
		header = DefaultKeyHeader
	}
	return &KeyPolicy{cred: cred, header: header, insecure: cfg.InsecureAllowHTTP}
}

// Do implements pipeline.Policy.
func (p *KeyPolicy) Do(req *pipeline.Request) (*http.Response, error) {
	if err := requireTLS(req, p.insecure); err != nil {
		return nil, err
	}
	key := p.cred.Key()
	if key == "" {
		return nil, errors.New("policies: api key credential is empty")
	}
	req.Raw().Header.Set(p.header, key)
	return req.Next()
}

func requireTLS(req *pipeline.Request, insecureAllowed bool) error {
	if req.Raw().URL.Scheme == "https" || insecureAllowed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInsecureAuth, req.Raw().URL.Host)
}
