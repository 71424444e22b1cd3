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
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/sdk/credential"
	"relay/sdk/pipeline"
	"relay/sdk/transport"
)

// fakeCredential hands out tokens from a fixed sequence, repeating the
// last one, and counts how often it is asked.
type fakeCredential struct {
	mu     sync.Mutex
	calls  int
	tokens []string
	err    error
}

func (c *fakeCredential) GetToken(ctx context.Context, opts credential.TokenRequestOptions) (credential.AccessToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return credential.AccessToken{}, c.err
	}
	idx := c.calls - 1
	if idx >= len(c.tokens) {
		idx = len(c.tokens) - 1
	}
	return credential.AccessToken{
		Token:     c.tokens[idx],
		ExpiresOn: time.Now().Add(time.Hour),
	}, nil
}

func (c *fakeCredential) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestBearerTokenPolicySetsHeader(t *testing.T) {
	cred := &fakeCredential{tokens: []string{"token-1"}}
	mock := transport.NewMock()
	mock.AppendResponse(transport.WithStatusCode(http.StatusOK))
	mock.AppendResponse(transport.WithStatusCode(http.StatusOK))

	pl := pipeline.New(mock, NewBearerTokenPolicy(cred, BearerTokenConfig{Scopes: []string{"relay/.default"}}))

	for i := 0; i < 2; i++ {
		resp, err := send(t, pl, http.MethodGet, "https://api.example.com/items")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	assert.Equal(t, "Bearer token-1", mock.Request(0).Header.Get("Authorization"))
	assert.Equal(t, "Bearer token-1", mock.Request(1).Header.Get("Authorization"))
	assert.Equal(t, 1, cred.callCount(), "a valid token is served from cache")
}

func TestBearerTokenPolicyRefreshesOn401(t *testing.T) {
	cred := &fakeCredential{tokens: []string{"stale", "fresh"}}
	mock := transport.NewMock()
	mock.AppendResponse(transport.WithStatusCode(http.StatusUnauthorized))
	mock.AppendResponse(transport.WithStatusCode(http.StatusOK))

	pl := pipeline.New(mock, NewBearerTokenPolicy(cred, BearerTokenConfig{}))

	resp, err := send(t, pl, http.MethodGet, "https://api.example.com/items")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 2, mock.Count())
	assert.Equal(t, "Bearer stale", mock.Request(0).Header.Get("Authorization"))
	assert.Equal(t, "Bearer fresh", mock.Request(1).Header.Get("Authorization"))
	assert.Equal(t, 2, cred.callCount())
}

func TestBearerTokenPolicyReplaysOnceOnly(t *testing.T) {
	cred := &fakeCredential{tokens: []string{"one", "two", "three"}}
	mock := transport.NewMock()
	mock.AppendResponse(transport.WithStatusCode(http.StatusUnauthorized))
	mock.AppendResponse(transport.WithStatusCode(http.StatusUnauthorized))

	pl := pipeline.New(mock, NewBearerTokenPolicy(cred, BearerTokenConfig{}))

	resp, err := send(t, pl, http.MethodGet, "https://api.example.com/items")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "a second 401 comes back to the caller")
	assert.Equal(t, 2, mock.Count())
}

func TestBearerTokenPolicyNoReplayWhenTokenUnchanged(t *testing.T) {
	cred := &fakeCredential{tokens: []string{"only"}}
	mock := transport.NewMock()
	mock.AppendResponse(transport.WithStatusCode(http.StatusUnauthorized))

	pl := pipeline.New(mock, NewBearerTokenPolicy(cred, BearerTokenConfig{}))

	resp, err := send(t, pl, http.MethodGet, "https://api.example.com/items")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 1, mock.Count(), "replaying the same rejected token is pointless")
}

func TestBearerTokenPolicyReplaysBody(t *testing.T) {
	cred := &fakeCredential{tokens: []string{"stale", "fresh"}}
	mock := transport.NewMock()
	mock.AppendResponse(transport.WithStatusCode(http.StatusUnauthorized))
	mock.AppendResponse(transport.WithStatusCode(http.StatusCreated))

	pl := pipeline.New(mock, NewBearerTokenPolicy(cred, BearerTokenConfig{}))
	req, err := pipeline.NewRequest(context.Background(), http.MethodPost, "https://api.example.com/items")
	require.NoError(t, err)
	require.NoError(t, req.SetBody(pipeline.NopCloser(strings.NewReader(`{"n":1}`)), "application/json"))

	resp, err := pl.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, 2, mock.Count())
	assert.Equal(t, `{"n":1}`, string(mock.RequestBody(1)))
}

func TestBearerTokenPolicyRefusesHTTP(t *testing.T) {
	cred := &fakeCredential{tokens: []string{"secret"}}
	mock := transport.NewMock()

	pl := pipeline.New(mock, NewBearerTokenPolicy(cred, BearerTokenConfig{}))
	_, err := send(t, pl, http.MethodGet, "http://api.example.com/items")

	require.ErrorIs(t, err, ErrInsecureAuth)
	assert.Zero(t, mock.Count())
	assert.Zero(t, cred.callCount(), "no token is minted for a doomed request")
}

func TestBearerTokenPolicyInsecureOptIn(t *testing.T) {
	cred := &fakeCredential{tokens: []string{"secret"}}
	mock := transport.NewMock()
	mock.AppendResponse(transport.WithStatusCode(http.StatusOK))

	pl := pipeline.New(mock, NewBearerTokenPolicy(cred, BearerTokenConfig{InsecureAllowHTTP: true}))
	resp, err := send(t, pl, http.MethodGet, "http://localhost:8080/items")

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBearerTokenPolicyCredentialError(t *testing.T) {
	cred := &fakeCredential{err: errors.New("identity service down")}
	mock := transport.NewMock()

	pl := pipeline.New(mock, NewBearerTokenPolicy(cred, BearerTokenConfig{}))
	_, err := send(t, pl, http.MethodGet, "https://api.example.com/items")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "identity service down")
	assert.Zero(t, mock.Count())
}

func TestKeyPolicySetsHeader(t *testing.T) {
	cred := credential.NewKeyCredential("key-1")
	mock := transport.NewMock()
	mock.AppendResponse(transport.WithStatusCode(http.StatusOK))
	mock.AppendResponse(transport.WithStatusCode(http.StatusOK))

	pl := pipeline.New(mock, NewKeyPolicy(cred, KeyConfig{}))

	_, err := send(t, pl, http.MethodGet, "https://api.example.com/items")
	require.NoError(t, err)
	assert.Equal(t, "key-1", mock.Request(0).Header.Get(DefaultKeyHeader))

	cred.Update("key-2")
	_, err = send(t, pl, http.MethodGet, "https://api.example.com/items")
	require.NoError(t, err)
	assert.Equal(t, "key-2", mock.Request(1).Header.Get(DefaultKeyHeader), "rotation applies to the next request")
}

func TestKeyPolicyCustomHeader(t *testing.T) {
	cred := credential.NewKeyCredential("abc")
	mock := transport.NewMock()
	mock.AppendResponse(transport.WithStatusCode(http.StatusOK))

	pl := pipeline.New(mock, NewKeyPolicy(cred, KeyConfig{Header: "X-Relay-Token"}))
	_, err := send(t, pl, http.MethodGet, "https://api.example.com/items")

	require.NoError(t, err)
	assert.Equal(t, "abc", mock.Request(0).Header.Get("X-Relay-Token"))
}

func TestKeyPolicyRefusesHTTP(t *testing.T) {
	cred := credential.NewKeyCredential("abc")
	mock := transport.NewMock()

	pl := pipeline.New(mock, NewKeyPolicy(cred, KeyConfig{}))
	_, err := send(t, pl, http.MethodGet, "http://api.example.com/items")

	require.ErrorIs(t, err, ErrInsecureAuth)
	assert.Zero(t, mock.Count())
}

func TestKeyPolicyEmptyKey(t *testing.T) {
	cred := credential.NewKeyCredential("")
	mock := transport.NewMock()

	pl := pipeline.New(mock, NewKeyPolicy(cred, KeyConfig{}))
	_, err := send(t, pl, http.MethodGet, "https://api.example.com/items")

	require.Error(t, err)
	assert.Zero(t, mock.Count())
}
