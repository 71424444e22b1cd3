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
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/sdk/apierror"
	"relay/sdk/credential"
	"relay/sdk/policies"
	"relay/sdk/polling"
)

type fakeDatabase struct {
	Name              string `json:"name"`
	ProvisioningState string `json:"provisioningState"`
}

type fakeService struct {
	flakyHits int32
	opPolls   int32
	lastKey   atomic.Value
}

// newFakeService serves a miniature Relay API over a real listener: list
// paging with nextLink, an Operation-Location create flow, the error
// envelope, and a route that fails twice before succeeding.
func newFakeService(t *testing.T) (*httptest.Server, *fakeService) {
	t.Helper()
	s := &fakeService{}

	router := mux.NewRouter()
	router.HandleFunc("/v1/databases", func(w http.ResponseWriter, r *http.Request) {
		s.lastKey.Store(r.Header.Get(policies.DefaultKeyHeader))
		body := map[string]any{"value": []fakeDatabase{
			{Name: "orders", ProvisioningState: "Succeeded"},
			{Name: "billing", ProvisioningState: "Succeeded"},
		}}
		if r.URL.Query().Get("page") == "" {
			body["nextLink"] = fmt.Sprintf("http://%s/v1/databases?page=2", r.Host)
		} else {
			body["value"] = []fakeDatabase{{Name: "sessions", ProvisioningState: "Succeeded"}}
		}
		writeFakeJSON(w, http.StatusOK, body)
	}).Methods("GET")

	router.HandleFunc("/v1/databases", func(w http.ResponseWriter, r *http.Request) {
		var req fakeDatabase
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
			writeFakeJSON(w, http.StatusBadRequest, map[string]any{
				"error": map[string]string{"code": "InvalidBody", "message": "body must carry a name"},
			})
			return
		}
		w.Header().Set("Operation-Location", fmt.Sprintf("http://%s/v1/operations/op-1", r.Host))
		writeFakeJSON(w, http.StatusAccepted, map[string]string{"status": "Running"})
	}).Methods("POST")

	router.HandleFunc("/v1/operations/op-1", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&s.opPolls, 1) < 2 {
			writeFakeJSON(w, http.StatusOK, map[string]string{"status": "Running"})
			return
		}
		writeFakeJSON(w, http.StatusOK, map[string]any{
			"status":   "Succeeded",
			"resource": fakeDatabase{Name: "inventory", ProvisioningState: "Succeeded"},
		})
	}).Methods("GET")

	router.HandleFunc("/v1/databases/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(apierror.HeaderRequestID, "req-e2e-1")
		writeFakeJSON(w, http.StatusNotFound, map[string]any{
			"error": map[string]string{
				"code":    "DatabaseNotFound",
				"message": fmt.Sprintf("no database named %q", mux.Vars(r)["name"]),
			},
		})
	}).Methods("GET")

	router.HandleFunc("/v1/flaky", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&s.flakyHits, 1) <= 2 {
			writeFakeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "warming up"})
			return
		}
		writeFakeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}).Methods("GET")

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, s
}

func writeFakeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func newFakeServiceClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	c, err := NewBuilder(endpoint).
		AllowInsecure().
		WithKey(credential.NewKeyCredential("e2e-key"), "").
		WithRetry(policies.RetryConfig{MaxRetries: 3, RetryDelay: time.Millisecond}).
		Build()
	require.NoError(t, err)
	return c
}

func TestEndToEndListFollowsNextLink(t *testing.T) {
	server, svc := newFakeService(t)
	c := newFakeServiceClient(t, server.URL)

	type page struct {
		Value    []fakeDatabase `json:"value"`
		NextLink string         `json:"nextLink"`
	}
	pager := NewListPager(c, "/v1/databases", func(p page) string { return p.NextLink })

	var names []string
	for pager.More() {
		p, err := pager.NextPage(context.Background())
		require.NoError(t, err)
		for _, db := range p.Value {
			names = append(names, db.Name)
		}
	}
	assert.Equal(t, []string{"orders", "billing", "sessions"}, names)
	assert.Equal(t, "e2e-key", svc.lastKey.Load(), "key header should reach the service")
}

func TestEndToEndCreatePollsUntilDone(t *testing.T) {
	server, svc := newFakeService(t)
	c := newFakeServiceClient(t, server.URL)

	resp, err := c.Post(context.Background(), "/v1/databases", fakeDatabase{Name: "inventory"})
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	poller, err := NewPoller[fakeDatabase](c, resp)
	require.NoError(t, err)
	db, err := poller.PollUntilDone(context.Background(), polling.PollUntilDoneOptions{Frequency: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, "inventory", db.Name)
	assert.Equal(t, "Succeeded", db.ProvisioningState)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&svc.opPolls), int32(2), "poller should follow Operation-Location until terminal")
}

func TestEndToEndNotFoundMapsError(t *testing.T) {
	server, _ := newFakeService(t)
	c := newFakeServiceClient(t, server.URL)

	resp, err := c.Get(context.Background(), "/v1/databases/missing")
	require.NoError(t, err)

	err = Decode(resp, nil)
	var respErr *apierror.ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.True(t, apierror.IsNotFound(err))
	assert.Equal(t, "DatabaseNotFound", respErr.ErrorCode)
	assert.Equal(t, "req-e2e-1", respErr.RequestID)
}

func TestEndToEndRetriesServerErrors(t *testing.T) {
	server, svc := newFakeService(t)
	c := newFakeServiceClient(t, server.URL)

	resp, err := c.Get(context.Background(), "/v1/flaky")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&svc.flakyHits), "two failures then success")
}
