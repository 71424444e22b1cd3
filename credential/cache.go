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

package credential

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultRefreshWindow is how long before expiry the cache starts
// refreshing proactively.
const DefaultRefreshWindow = 2 * time.Minute

// Cache wraps a TokenCredential with caching, proactive refresh, and
// stale-token replacement. The bearer policy owns one Cache per pipeline.
//
// Refresh behavior:
//   - no usable token: callers block (single flight) on one fetch;
//   - token inside the refresh window but still valid: one caller refreshes
//     while the others keep using the current token; a failed proactive
//     refresh is swallowed because the current token still works;
//   - Refresh(stale): used after a 401; fetches only when the cached token
//     is still the one that was rejected, so a herd of 401s triggers a
//     single fetch.
type Cache struct {
	cred          TokenCredential
	refreshWindow time.Duration

	mu         sync.Mutex
	token      AccessToken
	have       bool
	refreshing bool
}

// NewCache wraps cred. A refreshWindow of zero selects
// DefaultRefreshWindow; negative disables proactive refresh.
func NewCache(cred TokenCredential, refreshWindow time.Duration) *Cache {
	if refreshWindow == 0 {
		refreshWindow = DefaultRefreshWindow
	}
	return &Cache{cred: cred, refreshWindow: refreshWindow}
}

// Token returns a valid token, fetching or refreshing as needed.
func (c *Cache) Token(ctx context.Context, opts TokenRequestOptions) (AccessToken, error) {
	c.mu.Lock()
	now := time.Now()

	if c.have && !expired(c.token, now) {
		if c.shouldRefresh(now) && !c.refreshing {
			c.refreshing = true
			c.mu.Unlock()

			tok, err := c.cred.GetToken(ctx, opts)

			c.mu.Lock()
			c.refreshing = false
			if err == nil {
				c.token = normalize(tok)
			}
		}
		tok := c.token
		c.mu.Unlock()
		return tok, nil
	}

	// No usable token. Fetch while holding the lock so concurrent callers
	// wait for one result instead of racing the credential.
	defer c.mu.Unlock()
	tok, err := c.cred.GetToken(ctx, opts)
	if err != nil {
		return AccessToken{}, err
	}
	c.token = normalize(tok)
	c.have = true
	return c.token, nil
}

// Refresh replaces the cached token after the service rejected stale. When
// another goroutine already replaced it, the newer token is returned
// without a fetch.
func (c *Cache) Refresh(ctx context.Context, opts TokenRequestOptions, stale string) (AccessToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.have && c.token.Token != stale {
		return c.token, nil
	}
	tok, err := c.cred.GetToken(ctx, opts)
	if err != nil {
		return AccessToken{}, err
	}
	c.token = normalize(tok)
	c.have = true
	return c.token, nil
}

func (c *Cache) shouldRefresh(now time.Time) bool {
	if c.refreshWindow < 0 || c.token.ExpiresOn.IsZero() {
		return false
	}
	return now.After(c.token.ExpiresOn.Add(-c.refreshWindow))
}

func expired(tok AccessToken, now time.Time) bool {
	return !tok.ExpiresOn.IsZero() && now.After(tok.ExpiresOn)
}

// normalize fills in a missing expiry by reading the token's exp claim when
// the token happens to be a JWT. The signature is not verified; the expiry
// only schedules refreshes, it grants nothing.
func normalize(tok AccessToken) AccessToken {
	if !tok.ExpiresOn.IsZero() {
		return tok
	}
	tok.ExpiresOn = expiryFromJWT(tok.Token)
	return tok
}

func expiryFromJWT(raw string) time.Time {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
