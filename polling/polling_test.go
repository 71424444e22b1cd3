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

package polling

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/sdk/apierror"
	"relay/sdk/pipeline"
	"relay/sdk/transport"
)

type database struct {
	Name              string `json:"name"`
	ProvisioningState string `json:"provisioningState,omitempty"`
}

// startOperation issues the POST that kicks off the scripted operation.
func startOperation(t *testing.T, pl pipeline.Pipeline) *http.Response {
	t.Helper()
	req, err := pipeline.NewRequest(context.Background(), http.MethodPost, "https://api.example.com/databases/db1")
	require.NoError(t, err)
	resp, err := pl.Do(req)
	require.NoError(t, err)
	return resp
}

func TestPollerOperationLocation(t *testing.T) {
	mock := transport.NewMock()
	mock.AppendResponse(
		transport.WithStatusCode(http.StatusAccepted),
		transport.WithHeader("Operation-Location", "https://api.example.com/operations/op1"))
	mock.AppendResponse(transport.WithJSONBody(map[string]string{"status": "Running"}))
	mock.AppendResponse(transport.WithJSONBody(map[string]any{
		"status":   "Succeeded",
		"resource": database{Name: "db1"},
	}))

	pl := pipeline.New(mock)
	poller, err := NewPoller[database](pl, startOperation(t, pl))
	require.NoError(t, err)
	require.False(t, poller.Done())

	_, err = poller.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, poller.Done())
	assert.Equal(t, StateInProgress, poller.State())

	_, err = poller.Poll(context.Background())
	require.NoError(t, err)
	require.True(t, poller.Done())
	assert.Equal(t, StateSucceeded, poller.State())

	db, err := poller.Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "db1", db.Name)

	assert.Equal(t, "https://api.example.com/operations/op1", mock.Request(1).URL.String())
	assert.Equal(t, http.MethodGet, mock.Request(1).Method)
}

func TestPollerLocationOnly(t *testing.T) {
	mock := transport.NewMock()
	mock.AppendResponse(
		transport.WithStatusCode(http.StatusAccepted),
		transport.WithHeader("Location", "https://api.example.com/databases/db1"))
	mock.AppendResponse(transport.WithStatusCode(http.StatusAccepted))
	mock.AppendResponse(transport.WithJSONBody(database{Name: "db1"}))

	pl := pipeline.New(mock)
	poller, err := NewPoller[database](pl, startOperation(t, pl))
	require.NoError(t, err)

	_, err = poller.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, poller.Done(), "a 202 from the location means still running")

	_, err = poller.Poll(context.Background())
	require.NoError(t, err)
	require.True(t, poller.Done())

	db, err := poller.Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "db1", db.Name)
}

func TestPollerBodyProvisioningState(t *testing.T) {
	mock := transport.NewMock()
	mock.AppendResponse(
		transport.WithStatusCode(http.StatusCreated),
		transport.WithJSONBody(database{Name: "db1", ProvisioningState: "InProgress"}))
	mock.AppendResponse(transport.WithJSONBody(database{Name: "db1", ProvisioningState: "Running"}))
	mock.AppendResponse(transport.WithJSONBody(database{Name: "db1", ProvisioningState: "Succeeded"}))

	pl := pipeline.New(mock)
	poller, err := NewPoller[database](pl, startOperation(t, pl))
	require.NoError(t, err)
	require.False(t, poller.Done())

	_, err = poller.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, poller.Done())

	_, err = poller.Poll(context.Background())
	require.NoError(t, err)
	require.True(t, poller.Done())

	db, err := poller.Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "db1", db.Name)
	assert.Equal(t, "Succeeded", db.ProvisioningState)

	// Status polls go back to the resource URL.
	assert.Equal(t, "https://api.example.com/databases/db1", mock.Request(1).URL.String())
}

func TestPollerSynchronousCompletion(t *testing.T) {
	mock := transport.NewMock()
	mock.AppendResponse(transport.WithJSONBody(database{Name: "db1"}))

	pl := pipeline.New(mock)
	poller, err := NewPoller[database](pl, startOperation(t, pl))
	require.NoError(t, err)
	assert.True(t, poller.Done(), "no markers means the operation already finished")

	db, err := poller.Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "db1", db.Name)

	_, err = poller.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, mock.Count(), "polling a finished operation is free")
}

func TestPollerFailedOperation(t *testing.T) {
	mock := transport.NewMock()
	mock.AppendResponse(
		transport.WithStatusCode(http.StatusAccepted),
		transport.WithHeader("Operation-Location", "https://api.example.com/operations/op1"))
	mock.AppendResponse(transport.WithJSONBody(map[string]any{
		"status": "Failed",
		"error":  map[string]string{"code": "QuotaExceeded", "message": "no capacity"},
	}))

	pl := pipeline.New(mock)
	poller, err := NewPoller[database](pl, startOperation(t, pl))
	require.NoError(t, err)

	_, err = poller.Poll(context.Background())
	require.NoError(t, err)
	require.True(t, poller.Done())
	assert.Equal(t, StateFailed, poller.State())

	_, err = poller.Result(context.Background())
	var respErr *apierror.ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, "QuotaExceeded", respErr.ErrorCode)
}

func TestPollerCanceledOperation(t *testing.T) {
	mock := transport.NewMock()
	mock.AppendResponse(
		transport.WithStatusCode(http.StatusAccepted),
		transport.WithHeader("Operation-Location", "https://api.example.com/operations/op1"))
	mock.AppendResponse(transport.WithJSONBody(map[string]string{"status": "cancelled"}))

	pl := pipeline.New(mock)
	poller, err := NewPoller[database](pl, startOperation(t, pl))
	require.NoError(t, err)

	_, err = poller.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCanceled, poller.State(), "both spellings of canceled parse")

	_, err = poller.Result(context.Background())
	var respErr *apierror.ResponseError
	require.ErrorAs(t, err, &respErr)
}

func TestPollerFinalGet(t *testing.T) {
	mock := transport.NewMock()
	mock.AppendResponse(
		transport.WithStatusCode(http.StatusAccepted),
		transport.WithHeader("Operation-Location", "https://api.example.com/operations/op1"),
		transport.WithHeader("Location", "https://api.example.com/databases/db1"))
	mock.AppendResponse(transport.WithJSONBody(map[string]string{"status": "Succeeded"}))
	mock.AppendResponse(transport.WithJSONBody(database{Name: "db1"}))

	pl := pipeline.New(mock)
	poller, err := NewPoller[database](pl, startOperation(t, pl))
	require.NoError(t, err)

	_, err = poller.Poll(context.Background())
	require.NoError(t, err)
	require.True(t, poller.Done())

	db, err := poller.Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "db1", db.Name)
	assert.Equal(t, "https://api.example.com/databases/db1", mock.Request(2).URL.String(),
		"the final resource comes from the Location URL")
}

func TestPollerResultBeforeDone(t *testing.T) {
	mock := transport.NewMock()
	mock.AppendResponse(
		transport.WithStatusCode(http.StatusAccepted),
		transport.WithHeader("Operation-Location", "https://api.example.com/operations/op1"))

	pl := pipeline.New(mock)
	poller, err := NewPoller[database](pl, startOperation(t, pl))
	require.NoError(t, err)

	_, err = poller.Result(context.Background())
	require.Error(t, err)
}

func TestPollerNotPollable(t *testing.T) {
	mock := transport.NewMock()
	mock.AppendResponse(transport.WithStatusCode(http.StatusBadRequest))

	pl := pipeline.New(mock)
	_, err := NewPoller[database](pl, startOperation(t, pl))
	require.ErrorIs(t, err, ErrNotPollable)
}

func TestPollUntilDone(t *testing.T) {
	mock := transport.NewMock()
	mock.AppendResponse(
		transport.WithStatusCode(http.StatusAccepted),
		transport.WithHeader("Operation-Location", "https://api.example.com/operations/op1"))
	mock.AppendResponse(
		transport.WithJSONBody(map[string]string{"status": "Running"}),
		transport.WithHeader("Retry-After", "0"))
	mock.AppendResponse(transport.WithJSONBody(map[string]any{
		"status":   "Succeeded",
		"resource": database{Name: "db1"},
	}))

	pl := pipeline.New(mock)
	poller, err := NewPoller[database](pl, startOperation(t, pl))
	require.NoError(t, err)

	start := time.Now()
	db, err := poller.PollUntilDone(context.Background(), PollUntilDoneOptions{Frequency: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, "db1", db.Name)
	assert.Less(t, time.Since(start), time.Second, "Retry-After overrides the configured frequency")
	assert.Equal(t, 3, mock.Count())
}

func TestPollUntilDoneHonorsContext(t *testing.T) {
	mock := transport.NewMock()
	mock.AppendResponse(
		transport.WithStatusCode(http.StatusAccepted),
		transport.WithHeader("Operation-Location", "https://api.example.com/operations/op1"))
	mock.AppendResponse(transport.WithJSONBody(map[string]string{"status": "Running"}))

	pl := pipeline.New(mock)
	poller, err := NewPoller[database](pl, startOperation(t, pl))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = poller.PollUntilDone(ctx, PollUntilDoneOptions{Frequency: time.Hour})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPollerResumeToken(t *testing.T) {
	mock := transport.NewMock()
	mock.AppendResponse(
		transport.WithStatusCode(http.StatusAccepted),
		transport.WithHeader("Operation-Location", "https://api.example.com/operations/op1"))
	mock.AppendResponse(transport.WithJSONBody(map[string]any{
		"status":   "Succeeded",
		"resource": database{Name: "db1"},
	}))

	pl := pipeline.New(mock)
	poller, err := NewPoller[database](pl, startOperation(t, pl))
	require.NoError(t, err)

	token, err := poller.ResumeToken()
	require.NoError(t, err)
	require.NotEmpty(t, token)

	resumed, err := NewPollerFromResumeToken[database](pl, token)
	require.NoError(t, err)
	require.False(t, resumed.Done())

	_, err = resumed.Poll(context.Background())
	require.NoError(t, err)
	require.True(t, resumed.Done())

	db, err := resumed.Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "db1", db.Name)
}

func TestPollerResumeTokenAfterDone(t *testing.T) {
	mock := transport.NewMock()
	mock.AppendResponse(transport.WithJSONBody(database{Name: "db1"}))

	pl := pipeline.New(mock)
	poller, err := NewPoller[database](pl, startOperation(t, pl))
	require.NoError(t, err)
	require.True(t, poller.Done())

	_, err = poller.ResumeToken()
	require.Error(t, err, "a completed operation has nothing to resume")
}

func TestPollerResumeTokenValidation(t *testing.T) {
	pl := pipeline.New(transport.NewMock())

	_, err := NewPollerFromResumeToken[database](pl, "not json")
	require.Error(t, err)

	_, err = NewPollerFromResumeToken[database](pl, `{"version":"other/9","mode":"operation","statusUrl":"https://x"}`)
	require.Error(t, err)

	_, err = NewPollerFromResumeToken[database](pl, `{"version":"relay/1","mode":"operation"}`)
	require.Error(t, err)
}
