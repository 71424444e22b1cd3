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
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	calls int
	fn    func(*http.Request) (*http.Response, error)
}

func (f *fakeTransport) Do(req *http.Request) (*http.Response, error) {
	f.calls++
	if f.fn != nil {
		return f.fn(req)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("ok")),
		Header:     http.Header{},
		Request:    req,
	}, nil
}

func namedPolicy(name string, order *[]string) Policy {
	return PolicyFunc(func(req *Request) (*http.Response, error) {
		*order = append(*order, name+":out")
		resp, err := req.Next()
		*order = append(*order, name+":back")
		return resp, err
	})
}

func TestPipelineRunsPoliciesInOrder(t *testing.T) {
	var order []string
	trans := &fakeTransport{}
	p := New(trans, namedPolicy("a", &order), namedPolicy("b", &order), namedPolicy("c", &order))

	req, err := NewRequest(context.Background(), http.MethodGet, "https://api.relay.dev/widgets")
	require.NoError(t, err)

	resp, err := p.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 1, trans.calls)
	assert.Equal(t, []string{"a:out", "b:out", "c:out", "c:back", "b:back", "a:back"}, order)
}

func TestPoliciesSeeEarlierMutations(t *testing.T) {
	setter := PolicyFunc(func(req *Request) (*http.Response, error) {
		req.Raw().Header.Set("X-Stage", "one")
		return req.Next()
	})
	var seen string
	reader := PolicyFunc(func(req *Request) (*http.Response, error) {
		seen = req.Raw().Header.Get("X-Stage")
		return req.Next()
	})

	p := New(&fakeTransport{}, setter, reader)
	req, err := NewRequest(context.Background(), http.MethodGet, "https://api.relay.dev/widgets")
	require.NoError(t, err)

	resp, err := p.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "one", seen)
}

func TestRetryingPolicyReplaysDownstreamChain(t *testing.T) {
	downstream := 0
	counter := PolicyFunc(func(req *Request) (*http.Response, error) {
		downstream++
		return req.Next()
	})
	retry := PolicyFunc(func(req *Request) (*http.Response, error) {
		resp, err := req.Next()
		if err == nil {
			Drain(resp)
		}
		return req.Next()
	})

	trans := &fakeTransport{}
	p := New(trans, retry, counter)
	req, err := NewRequest(context.Background(), http.MethodGet, "https://api.relay.dev/widgets")
	require.NoError(t, err)

	resp, err := p.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, 2, downstream)
	assert.Equal(t, 2, trans.calls)
}

func TestTransportSeesRewoundBodyEachAttempt(t *testing.T) {
	var payloads []string
	trans := &fakeTransport{fn: func(req *http.Request) (*http.Response, error) {
		data, _ := io.ReadAll(req.Body)
		payloads = append(payloads, string(data))
		return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader("")), Request: req}, nil
	}}
	retry := PolicyFunc(func(req *Request) (*http.Response, error) {
		resp, err := req.Next()
		if err == nil {
			Drain(resp)
		}
		if err := req.RewindBody(); err != nil {
			return nil, err
		}
		return req.Next()
	})

	p := New(trans, retry)
	req, err := NewRequest(context.Background(), http.MethodPost, "https://api.relay.dev/widgets")
	require.NoError(t, err)
	require.NoError(t, req.SetBody(NopCloser(strings.NewReader(`{"name":"w1"}`)), "application/json"))

	resp, err := p.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Len(t, payloads, 2)
	assert.Equal(t, `{"name":"w1"}`, payloads[0])
	assert.Equal(t, `{"name":"w1"}`, payloads[1])
}

func TestNewRequestValidation(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		errSub string
	}{
		{name: "relative url", url: "/widgets", errSub: "must be absolute"},
		{name: "missing host", url: "https://", errSub: "must be absolute"},
		{name: "garbage", url: "://nope", errSub: "invalid url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRequest(context.Background(), http.MethodGet, tt.url)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSub)
		})
	}

	t.Run("nil context", func(t *testing.T) {
		var nilCtx context.Context
		_, err := NewRequest(nilCtx, http.MethodGet, "https://api.relay.dev")
		assert.Error(t, err)
	})
}

func TestSetBodyZeroLengthClears(t *testing.T) {
	req, err := NewRequest(context.Background(), http.MethodPost, "https://api.relay.dev/widgets")
	require.NoError(t, err)
	require.NoError(t, req.SetBody(NopCloser(strings.NewReader("data")), "text/plain"))
	require.NotNil(t, req.Raw().Body)

	require.NoError(t, req.SetBody(NopCloser(strings.NewReader("")), "text/plain"))
	assert.Nil(t, req.Raw().Body)
	assert.Nil(t, req.Body())
	assert.Zero(t, req.Raw().ContentLength)
	assert.Empty(t, req.Raw().Header.Get("Content-Type"))
}

func TestSetBodySetsLengthAndType(t *testing.T) {
	req, err := NewRequest(context.Background(), http.MethodPut, "https://api.relay.dev/widgets/1")
	require.NoError(t, err)
	require.NoError(t, req.SetBody(NopCloser(strings.NewReader("hello")), "text/plain"))

	assert.EqualValues(t, 5, req.Raw().ContentLength)
	assert.Equal(t, "text/plain", req.Raw().Header.Get("Content-Type"))

	// GetBody replays for the standard library's redirect handling.
	rc, err := req.Raw().GetBody()
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "hello", string(data))
}

func TestCloneIsolatesHeadersSharesBody(t *testing.T) {
	req, err := NewRequest(context.Background(), http.MethodPost, "https://api.relay.dev/widgets")
	require.NoError(t, err)
	require.NoError(t, req.SetBody(NopCloser(strings.NewReader("payload")), "text/plain"))
	req.Raw().Header.Set("X-Keep", "original")

	clone := req.Clone(context.Background())
	clone.Raw().Header.Set("X-Keep", "cloned")
	assert.Equal(t, "original", req.Raw().Header.Get("X-Keep"))

	// Draining through the clone then rewinding restores the shared seeker.
	io.ReadAll(clone.Body())
	require.NoError(t, clone.RewindBody())
	data, _ := io.ReadAll(req.Body())
	assert.Equal(t, "payload", string(data))
}

func TestRequestValuesSharedAcrossClones(t *testing.T) {
	type markerKey struct{}

	req, err := NewRequest(context.Background(), http.MethodGet, "https://api.relay.dev/widgets")
	require.NoError(t, err)

	clone := req.Clone(context.Background())
	clone.SetValue(markerKey{}, 42)

	v, ok := req.Value(markerKey{})
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestPayloadCachesBody(t *testing.T) {
	reads := 0
	body := io.NopCloser(readerFunc(func(p []byte) (int, error) {
		reads++
		return copy(p, "x"), io.EOF
	}))
	resp := &http.Response{StatusCode: 200, Body: body}

	first, err := Payload(resp)
	require.NoError(t, err)
	second, err := Payload(resp)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, reads)

	// The replaced body reads the same bytes.
	data, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "x", string(data))
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

func TestUnmarshalAsJSON(t *testing.T) {
	resp := &http.Response{
		StatusCode: 200,
		Body:       io.NopCloser(strings.NewReader(`{"name":"w1","size":3}`)),
	}
	var out struct {
		Name string `json:"name"`
		Size int    `json:"size"`
	}
	require.NoError(t, UnmarshalAsJSON(resp, &out))
	assert.Equal(t, "w1", out.Name)
	assert.Equal(t, 3, out.Size)

	empty := &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(""))}
	assert.Error(t, UnmarshalAsJSON(empty, &out))
}

func TestHasStatusCode(t *testing.T) {
	resp := &http.Response{StatusCode: 429}
	assert.True(t, HasStatusCode(resp, 408, 429, 500))
	assert.False(t, HasStatusCode(resp, 200, 204))
	assert.False(t, HasStatusCode(nil, 200))
}

func TestDrainToleratesNil(t *testing.T) {
	Drain(nil)
	Drain(&http.Response{})
	Drain(&http.Response{Body: io.NopCloser(strings.NewReader("leftover"))})
}

func TestUninitializedPipelineErrors(t *testing.T) {
	var p Pipeline
	req, err := NewRequest(context.Background(), http.MethodGet, "https://api.relay.dev")
	require.NoError(t, err)
	_, err = p.Do(req)
	assert.Error(t, err)

	_, err = New(&fakeTransport{}).Do(nil)
	assert.Error(t, err)
}

func TestCanceledContextShortCircuitsTransport(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	trans := &fakeTransport{}
	req, err := NewRequest(ctx, http.MethodGet, "https://api.relay.dev/widgets")
	require.NoError(t, err)

	_, err = New(trans).Do(req)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, trans.calls)
}

func TestRetryAfter(t *testing.T) {
	mk := func(v string) *http.Response {
		h := http.Header{}
		if v != "" {
			h.Set("Retry-After", v)
		}
		return &http.Response{Header: h}
	}

	d, ok := RetryAfter(mk("5"))
	assert.True(t, ok)
	assert.Equal(t, 5*time.Second, d)

	future := time.Now().Add(3 * time.Second).UTC().Format(http.TimeFormat)
	d, ok = RetryAfter(mk(future))
	assert.True(t, ok)
	assert.Greater(t, d, time.Second)
	assert.LessOrEqual(t, d, 3*time.Second)

	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
	d, ok = RetryAfter(mk(past))
	assert.True(t, ok)
	assert.Zero(t, d)

	_, ok = RetryAfter(mk(""))
	assert.False(t, ok)
	_, ok = RetryAfter(mk("soon"))
	assert.False(t, ok)
	_, ok = RetryAfter(mk("-3"))
	assert.False(t, ok)
	_, ok = RetryAfter(nil)
	assert.False(t, ok)
}

func TestAttemptContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, 1, AttemptFromContext(ctx))
	assert.Equal(t, 3, AttemptFromContext(ContextWithAttempt(ctx, 3)))
}

func TestOperationContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, OperationFromContext(ctx))
	assert.Equal(t, "Widgets.Get", OperationFromContext(ContextWithOperation(ctx, "Widgets.Get")))
}
