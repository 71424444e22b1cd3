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
	"errors"
	"fmt"
	"net/http"

	"relay/sdk/pipeline"
	"relay/sdk/ratelimit"
)

// ErrThrottled is returned when the throttle policy refuses a request
// without sending it: fail-fast mode with an empty bucket, or a distributed
// limit already spent.
var ErrThrottled = errors.New("policies: request throttled client-side")

// ThrottleConfig controls the client-side throttle policy.
type ThrottleConfig struct {
	// RequestsPerSecond is the sustained admission rate. Required unless
	// Limiter is set.
	RequestsPerSecond float64
	// Burst is the bucket capacity. Defaults to RequestsPerSecond, with a
	// floor of 1.
	Burst float64
	// PerHost gives every target host its own bucket instead of one
	// shared bucket.
	PerHost bool
	// FailFast returns ErrThrottled instead of waiting for a token.
	FailFast bool
	// Limiter substitutes a caller-owned bucket, ignoring
	// RequestsPerSecond/Burst/PerHost.
	Limiter *ratelimit.Limiter
	// Distributed adds a Redis-backed window checked before the local
	// bucket. Distributed denials always fail fast: there is no token to
	// wait on when the window is shared.
	Distributed *ratelimit.RedisLimiter
}

type throttlePolicy struct {
	local       *ratelimit.Limiter
	keyed       *ratelimit.KeyedLimiter
	failFast    bool
	distributed *ratelimit.RedisLimiter
}

// NewThrottlePolicy builds the throttle policy. It returns an error when
// no admission rate is configured; a throttle that admits nothing or
// everything silently is a misconfiguration either way.
func NewThrottlePolicy(cfg ThrottleConfig) (pipeline.Policy, error) {
	p := &throttlePolicy{
		failFast:    cfg.FailFast,
		distributed: cfg.Distributed,
	}
	switch {
	case cfg.Limiter != nil:
		p.local = cfg.Limiter
	case cfg.RequestsPerSecond > 0:
		burst := cfg.Burst
		if burst <= 0 {
			burst = cfg.RequestsPerSecond
		}
		if burst < 1 {
			burst = 1
		}
		if cfg.PerHost {
			rate := cfg.RequestsPerSecond
			p.keyed = ratelimit.NewKeyedLimiter(func(string) *ratelimit.Limiter {
				return ratelimit.NewLimiter(rate, burst)
			})
		} else {
			p.local = ratelimit.NewLimiter(cfg.RequestsPerSecond, burst)
		}
	case cfg.Distributed == nil:
		return nil, fmt.Errorf("policies: throttle requires RequestsPerSecond, Limiter, or Distributed")
	}
	return p, nil
}

func (p *throttlePolicy) Do(req *pipeline.Request) (*http.Response, error) {
	host := req.Raw().URL.Host

	if p.distributed != nil && !p.distributed.Allow(req.Context(), host) {
		return nil, fmt.Errorf("%w: shared limit for %s spent", ErrThrottled, host)
	}

	limiter := p.local
	if p.keyed != nil {
		limiter = p.keyed.Get(host)
	}
	if limiter != nil {
		if p.failFast {
			if !limiter.TryAcquire() {
				return nil, fmt.Errorf("%w: local limit for %s spent", ErrThrottled, host)
			}
		} else if err := limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}

	return req.Next()
}
