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
	"errors"
	"net/http"
)

// Pipeline runs a request through its policy chain and terminal transport.
// The zero value is not usable; build one with New. A Pipeline is immutable
// and safe for concurrent use.
type Pipeline struct {
	policies []Policy
}

// transportPolicy adapts the Transporter into the final chain link.
type transportPolicy struct {
	trans Transporter
}

func (t transportPolicy) Do(req *Request) (*http.Response, error) {
	if err := req.Context().Err(); err != nil {
		return nil, err
	}
	resp, err := t.trans.Do(req.Raw())
	if err != nil {
		return nil, err
	}
	if resp == nil {
		// A transporter must return a response or an error, never neither.
		return nil, errors.New("pipeline: transporter returned nil response and nil error")
	}
	return resp, nil
}

type defaultTransporter struct{}

func (defaultTransporter) Do(req *http.Request) (*http.Response, error) {
	return http.DefaultClient.Do(req)
}

// New assembles a Pipeline from an ordered policy list terminated by trans.
// Policies run in the given order on the way out and in reverse on the way
// back. A nil transporter falls back to http.DefaultClient; production
// clients should pass a transport.New result instead.
func New(trans Transporter, policies ...Policy) Pipeline {
	if trans == nil {
		trans = defaultTransporter{}
	}
	chain := make([]Policy, len(policies), len(policies)+1)
	copy(chain, policies)
	chain = append(chain, transportPolicy{trans: trans})
	return Pipeline{policies: chain}
}

// Do sends the request through the chain and returns the transport's
// response after every policy has observed it. The request's body is
// rewound first so a caller can reuse a request it already sent.
func (p Pipeline) Do(req *Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("pipeline: nil request")
	}
	if len(p.policies) == 0 {
		return nil, errors.New("pipeline: not initialized, use New")
	}
	if err := req.RewindBody(); err != nil {
		return nil, err
	}
	req.policies = p.policies
	return req.Next()
}
