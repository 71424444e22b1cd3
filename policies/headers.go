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
	"net/http"

	"relay/sdk/pipeline"
)

// HeadersPolicy applies a fixed set of headers to every request. Values
// overwrite whatever the caller set, so it suits tenant tags and routing
// hints that must not be spoofed per call.
type HeadersPolicy struct {
	headers http.Header
}

// NewHeadersPolicy copies hdrs into the policy. A nil or empty map yields
// a no-op policy.
func NewHeadersPolicy(hdrs map[string]string) *HeadersPolicy {
	h := make(http.Header, len(hdrs))
	for k, v := range hdrs {
		h.Set(k, v)
	}
	return &HeadersPolicy{headers: h}
}

// Do implements pipeline.Policy.
func (p *HeadersPolicy) Do(req *pipeline.Request) (*http.Response, error) {
	for k, vv := range p.headers {
		req.Raw().Header[k] = vv
	}
	return req.Next()
}
