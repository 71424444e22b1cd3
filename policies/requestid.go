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
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"relay/sdk/pipeline"
)

// HeaderClientRequestID identifies a logical operation end to end. The
// policy runs once per operation, so every retry attempt carries the same
// value and the service can deduplicate replays.
const HeaderClientRequestID = "x-relay-client-request-id"

// RequestIDConfig controls the request ID policy.
type RequestIDConfig struct {
	// EchoStrict fails the operation when the service response does not
	// echo the client request ID back. Off by default because not every
	// endpoint echoes.
	EchoStrict bool
}

// RequestIDPolicy stamps requests with a unique ID unless the caller
// already set one.
type RequestIDPolicy struct {
	echoStrict bool
}

// NewRequestIDPolicy returns a policy configured per cfg.
func NewRequestIDPolicy(cfg RequestIDConfig) *RequestIDPolicy {
	return &RequestIDPolicy{echoStrict: cfg.EchoStrict}
}

// Do implements pipeline.Policy.
func (p *RequestIDPolicy) Do(req *pipeline.Request) (*http.Response, error) {
	id := req.Raw().Header.Get(HeaderClientRequestID)
	if id == "" {
		id = uuid.NewString()
		req.Raw().Header.Set(HeaderClientRequestID, id)
	}
	resp, err := req.Next()
	if err != nil || !p.echoStrict {
		return resp, err
	}
	if echoed := resp.Header.Get(HeaderClientRequestID); echoed != "" && echoed != id {
		return nil, fmt.Errorf("policies: request ID mismatch: sent %s, received %s", id, echoed)
	}
	return resp, nil
}
