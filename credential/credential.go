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

// Package credential defines how callers supply authentication material to
// the pipeline's auth policies.
//
// The package deliberately implements no token acquisition protocol. A
// TokenCredential hands out tokens the application already owns (static
// configuration, environment, its own identity stack); the bearer policy
// handles caching, proactive refresh, and replay after a 401.
package credential

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// DefaultTokenEnvVar is where EnvTokenCredential looks when no variable
// name is given.
const DefaultTokenEnvVar = "RELAY_ACCESS_TOKEN"

// AccessToken is a bearer token and its expiry. A zero ExpiresOn means the
// expiry is unknown; the token cache then tries to read an exp claim from
// the token itself and otherwise treats it as non-expiring.
type AccessToken struct {
	Token     string
	ExpiresOn time.Time
}

// TokenRequestOptions carries the parameters of a token request.
type TokenRequestOptions struct {
	// Scopes the token must cover.
	Scopes []string
}

// TokenCredential supplies bearer tokens to the pipeline. Implementations
// must be safe for concurrent use; GetToken is called on the request path.
type TokenCredential interface {
	GetToken(ctx context.Context, opts TokenRequestOptions) (AccessToken, error)
}

// Interface compliance checks
var (
	_ TokenCredential = (*StaticTokenCredential)(nil)
	_ TokenCredential = (*EnvTokenCredential)(nil)
)

// StaticTokenCredential hands out one fixed token. Suited to tokens minted
// out of band with a lifetime longer than the process.
type StaticTokenCredential struct {
	token string
}

// NewStaticTokenCredential wraps a literal token.
func NewStaticTokenCredential(token string) *StaticTokenCredential {
	return &StaticTokenCredential{token: token}
}

// GetToken implements TokenCredential.
func (c *StaticTokenCredential) GetToken(ctx context.Context, opts TokenRequestOptions) (AccessToken, error) {
	if c.token == "" {
		return AccessToken{}, fmt.Errorf("credential: static token is empty")
	}
	return AccessToken{Token: c.token}, nil
}

// EnvTokenCredential reads the token from an environment variable on every
// call, so an external rotation mechanism that rewrites the environment of
// new processes keeps working without code changes.
type EnvTokenCredential struct {
	name string
}

// NewEnvTokenCredential reads tokens from the named variable, defaulting to
// DefaultTokenEnvVar.
func NewEnvTokenCredential(name string) *EnvTokenCredential {
	if name == "" {
		name = DefaultTokenEnvVar
	}
	return &EnvTokenCredential{name: name}
}

// GetToken implements TokenCredential.
func (c *EnvTokenCredential) GetToken(ctx context.Context, opts TokenRequestOptions) (AccessToken, error) {
	v := os.Getenv(c.name)
	if v == "" {
		return AccessToken{}, fmt.Errorf("credential: environment variable %s is empty", c.name)
	}
	return AccessToken{Token: v}, nil
}

// KeyCredential holds a shared API key. Update swaps the key in place so
// long-lived clients pick up rotations without rebuilding their pipeline.
type KeyCredential struct {
	mu  sync.RWMutex
	key string
}

// NewKeyCredential wraps an API key.
func NewKeyCredential(key string) *KeyCredential {
	return &KeyCredential{key: key}
}

// Key returns the current key.
func (c *KeyCredential) Key() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.key
}

// Update replaces the key. In-flight requests keep the value they already
// read; subsequent attempts use the new one.
func (c *KeyCredential) Update(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = key
}
