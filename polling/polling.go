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

// Package polling drives long-running operations to completion. A Poller
// is seeded from the service's initial response and then polls the
// operation's status URL until it reaches a terminal state.
//
// Three service conventions are recognized, in this order:
//
//   - An Operation-Location header names a status endpoint returning
//     {"status": "..."} payloads, optionally with the final resource
//     embedded under "resource" or available via a Location header.
//   - A Location header alone is polled until it stops returning 202.
//   - A 200 or 201 whose body carries provisioningState is re-fetched
//     from the original URL until the state is terminal.
//
// A response with none of these markers completes synchronously.
package polling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"relay/sdk/apierror"
	"relay/sdk/pipeline"
)

// DefaultPollFrequency paces PollUntilDone when the service sends no
// Retry-After.
const DefaultPollFrequency = 2 * time.Second

// resumeTokenVersion guards against replaying tokens across incompatible
// releases.
const resumeTokenVersion = "relay/1"

// ErrNotPollable is returned when a response carries no recognized
// long-running operation markers and no synchronous result.
var ErrNotPollable = errors.New("polling: response is not a long-running operation")

// OperationState is the lifecycle state of a long-running operation.
type OperationState string

const (
	StateInProgress OperationState = "InProgress"
	StateSucceeded  OperationState = "Succeeded"
	StateFailed     OperationState = "Failed"
	StateCanceled   OperationState = "Canceled"
)

// Terminal reports whether the state is final.
func (s OperationState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCanceled
}

// parseState normalizes the wire spellings of operation states. Unknown
// values are treated as still in progress so a new intermediate state
// introduced by a service does not break older clients.
func parseState(raw string) OperationState {
	switch strings.ToLower(raw) {
	case "succeeded":
		return StateSucceeded
	case "failed":
		return StateFailed
	case "canceled", "cancelled":
		return StateCanceled
	default:
		return StateInProgress
	}
}

type pollMode string

const (
	modeOperation pollMode = "operation"
	modeLocation  pollMode = "location"
	modeBody      pollMode = "body"
)

// statusPayload is the union of the status shapes the poller reads.
type statusPayload struct {
	Status            string          `json:"status"`
	ProvisioningState string          `json:"provisioningState"`
	Resource          json.RawMessage `json:"resource"`
}

func (sp statusPayload) state() OperationState {
	if sp.Status != "" {
		return parseState(sp.Status)
	}
	return parseState(sp.ProvisioningState)
}

// Poller tracks one long-running operation. It is not safe for concurrent
// use.
type Poller[T any] struct {
	pl        pipeline.Pipeline
	mode      pollMode
	statusURL string
	finalURL  string

	state    OperationState
	lastResp *http.Response
	resource json.RawMessage
	err      error
}

// NewPoller seeds a poller from the response that started the operation.
// Responses without long-running markers complete synchronously: Done is
// true immediately and Result decodes resp's body.
func NewPoller[T any](pl pipeline.Pipeline, resp *http.Response) (*Poller[T], error) {
	p := &Poller[T]{pl: pl, state: StateInProgress, lastResp: resp}

	if opLoc := resp.Header.Get("Operation-Location"); opLoc != "" {
		p.mode = modeOperation
		p.statusURL = opLoc
		p.finalURL = resp.Header.Get("Location")
		return p, nil
	}
	if loc := resp.Header.Get("Location"); loc != "" && resp.StatusCode == http.StatusAccepted {
		p.mode = modeLocation
		p.statusURL = loc
		return p, nil
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		body, err := pipeline.Payload(resp)
		if err != nil {
			return nil, fmt.Errorf("polling: reading response: %w", err)
		}
		var sp statusPayload
		if json.Unmarshal(body, &sp) == nil && sp.ProvisioningState != "" {
			p.mode = modeBody
			p.statusURL = resp.Request.URL.String()
			p.state = sp.state()
			switch p.state {
			case StateFailed, StateCanceled:
				p.err = apierror.FromResponse(resp)
			case StateSucceeded:
				p.resource = body
			}
			return p, nil
		}
		// No markers: the operation finished synchronously.
		p.state = StateSucceeded
		p.resource = body
		return p, nil
	case http.StatusNoContent:
		p.state = StateSucceeded
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotPollable, resp.Status)
}

// Done reports whether the operation has reached a terminal state.
func (p *Poller[T]) Done() bool {
	return p.state.Terminal()
}

// State returns the last observed operation state.
func (p *Poller[T]) State() OperationState {
	return p.state
}

// Poll fetches the operation's current status. Calling Poll after the
// operation completed returns the final polling response without another
// round trip.
func (p *Poller[T]) Poll(ctx context.Context) (*http.Response, error) {
	if p.Done() {
		return p.lastResp, nil
	}
	req, err := pipeline.NewRequest(ctx, http.MethodGet, p.statusURL)
	if err != nil {
		return nil, err
	}
	resp, err := p.pl.Do(req)
	if err != nil {
		return nil, err
	}
	p.lastResp = resp

	switch p.mode {
	case modeLocation:
		p.pollLocation(resp)
	default:
		p.pollStatus(resp)
	}
	return resp, nil
}

// pollStatus interprets operation-style and body-style status responses.
func (p *Poller[T]) pollStatus(resp *http.Response) {
	if resp.StatusCode == http.StatusAccepted {
		return
	}
	if !pipeline.HasStatusCode(resp, http.StatusOK, http.StatusCreated) {
		p.state = StateFailed
		p.err = apierror.FromResponse(resp)
		return
	}
	body, err := pipeline.Payload(resp)
	if err != nil {
		return
	}
	var sp statusPayload
	if err := json.Unmarshal(body, &sp); err != nil {
		return
	}
	p.state = sp.state()
	switch p.state {
	case StateSucceeded:
		if len(sp.Resource) > 0 {
			p.resource = sp.Resource
		} else if p.mode == modeBody {
			p.resource = body
		}
	case StateFailed, StateCanceled:
		p.err = apierror.FromResponse(resp)
	}
}

// pollLocation interprets location-style polling, where the status lives
// in the response code alone.
func (p *Poller[T]) pollLocation(resp *http.Response) {
	switch {
	case resp.StatusCode == http.StatusAccepted:
		// Still running.
	case resp.StatusCode < 300:
		p.state = StateSucceeded
		if body, err := pipeline.Payload(resp); err == nil && len(body) > 0 {
			p.resource = body
		}
	default:
		p.state = StateFailed
		p.err = apierror.FromResponse(resp)
	}
}

// Result returns the operation's outcome. It must only be called after
// Done reports true; failed and canceled operations yield the service's
// *apierror.ResponseError.
func (p *Poller[T]) Result(ctx context.Context) (T, error) {
	var zero T
	if !p.Done() {
		return zero, errors.New("polling: operation has not completed")
	}
	if p.err != nil {
		return zero, p.err
	}
	if p.resource == nil && p.finalURL != "" {
		req, err := pipeline.NewRequest(ctx, http.MethodGet, p.finalURL)
		if err != nil {
			return zero, err
		}
		resp, err := p.pl.Do(req)
		if err != nil {
			return zero, err
		}
		if !pipeline.HasStatusCode(resp, http.StatusOK) {
			return zero, apierror.FromResponse(resp)
		}
		body, err := pipeline.Payload(resp)
		if err != nil {
			return zero, err
		}
		p.resource = body
	}
	if len(p.resource) == 0 {
		return zero, nil
	}
	var out T
	if err := json.Unmarshal(p.resource, &out); err != nil {
		return zero, fmt.Errorf("polling: decoding result: %w", err)
	}
	return out, nil
}

// PollUntilDoneOptions controls PollUntilDone.
type PollUntilDoneOptions struct {
	// Frequency is the pause between polls when the service sends no
	// Retry-After. Defaults to DefaultPollFrequency.
	Frequency time.Duration
}

// PollUntilDone polls until the operation completes, then returns its
// Result. The service's Retry-After, when present, overrides the
// configured frequency for that interval.
func (p *Poller[T]) PollUntilDone(ctx context.Context, opts PollUntilDoneOptions) (T, error) {
	var zero T
	freq := opts.Frequency
	if freq <= 0 {
		freq = DefaultPollFrequency
	}
	for {
		resp, err := p.Poll(ctx)
		if err != nil {
			return zero, err
		}
		if p.Done() {
			return p.Result(ctx)
		}
		pause := freq
		if ra, ok := pipeline.RetryAfter(resp); ok {
			pause = ra
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(pause):
		}
	}
}

// resumeToken is the serialized form of an in-flight poller.
type resumeToken struct {
	Version   string   `json:"version"`
	Mode      pollMode `json:"mode"`
	StatusURL string   `json:"statusUrl"`
	FinalURL  string   `json:"finalUrl,omitempty"`
}

// ResumeToken serializes the poller so another process can pick the
// operation up. Completed operations have nothing to resume and return an
// error.
func (p *Poller[T]) ResumeToken() (string, error) {
	if p.Done() {
		return "", errors.New("polling: operation already completed")
	}
	if p.statusURL == "" {
		return "", errors.New("polling: operation has no status URL")
	}
	data, err := json.Marshal(resumeToken{
		Version:   resumeTokenVersion,
		Mode:      p.mode,
		StatusURL: p.statusURL,
		FinalURL:  p.finalURL,
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// NewPollerFromResumeToken rebuilds a poller from a ResumeToken.
func NewPollerFromResumeToken[T any](pl pipeline.Pipeline, token string) (*Poller[T], error) {
	var rt resumeToken
	if err := json.Unmarshal([]byte(token), &rt); err != nil {
		return nil, fmt.Errorf("polling: invalid resume token: %w", err)
	}
	if rt.Version != resumeTokenVersion {
		return nil, fmt.Errorf("polling: resume token version %q not supported", rt.Version)
	}
	if rt.StatusURL == "" {
		return nil, errors.New("polling: resume token has no status URL")
	}
	return &Poller[T]{
		pl:        pl,
		mode:      rt.Mode,
		statusURL: rt.StatusURL,
		finalURL:  rt.FinalURL,
		state:     StateInProgress,
	}, nil
}
