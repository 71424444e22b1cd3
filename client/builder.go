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

// Package client assembles the policy pipeline into a ready-to-use service
// client. Most callers want the fluent builder:
//
//	c, err := client.NewBuilder("https://api.relay.example.com").
//	    WithCredential(credential.NewEnvTokenCredential(credential.DefaultTokenEnvVar)).
//	    WithRetry(policies.RetryConfig{MaxRetries: 5}).
//	    WithBreaker(policies.BreakerConfig{}).
//	    Build()
//
// The builder emits policies in a fixed order: telemetry, request ID, and
// static headers run once per operation; retry pivots the chain; throttle,
// breaker, cache, auth, logging, metrics, and tracing run on every
// attempt, followed by the transport.
package client

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"relay/sdk/config"
	"relay/sdk/credential"
	"relay/sdk/logging"
	"relay/sdk/pipeline"
	"relay/sdk/policies"
	"relay/sdk/transport"
)

// Version is the SDK release carried in the User-Agent product token.
const Version = "0.3.0"

// Builder accumulates client configuration. The zero value is not usable;
// start with NewBuilder. Configuration errors surface at Build so the
// fluent chain stays uncluttered.
type Builder struct {
	endpoint      string
	cred          credential.TokenCredential
	scopes        []string
	key           *credential.KeyCredential
	keyHeader     string
	retry         *policies.RetryConfig
	throttle      *policies.ThrottleConfig
	breaker       *policies.BreakerConfig
	cache         *policies.CacheConfig
	logger        logging.Logger
	metrics       *policies.MetricsConfig
	tracing       policies.TracingConfig
	transporter   pipeline.Transporter
	headers       map[string]string
	applicationID string
	apiVersion    string
	allowInsecure bool
	perCall       []pipeline.Policy
	perRetry      []pipeline.Policy
	err           error
}

// NewBuilder starts a builder for the given base endpoint.
func NewBuilder(endpoint string) *Builder {
	return &Builder{endpoint: endpoint}
}

// WithCredential authenticates requests with bearer tokens from cred,
// requesting the given scopes.
func (b *Builder) WithCredential(cred credential.TokenCredential, scopes ...string) *Builder {
	b.cred = cred
	b.scopes = scopes
	return b
}

// WithKey authenticates requests with a shared API key. An empty header
// selects the default key header.
func (b *Builder) WithKey(key *credential.KeyCredential, header string) *Builder {
	b.key = key
	b.keyHeader = header
	return b
}

// WithRetry replaces the default retry configuration.
func (b *Builder) WithRetry(cfg policies.RetryConfig) *Builder {
	b.retry = &cfg
	return b
}

// WithThrottle adds client-side admission control.
func (b *Builder) WithThrottle(cfg policies.ThrottleConfig) *Builder {
	b.throttle = &cfg
	return b
}

// WithBreaker adds a per-host circuit breaker.
func (b *Builder) WithBreaker(cfg policies.BreakerConfig) *Builder {
	b.breaker = &cfg
	return b
}

// WithCache adds an in-memory response cache for GET and HEAD.
func (b *Builder) WithCache(cfg policies.CacheConfig) *Builder {
	b.cache = &cfg
	return b
}

// WithLogger routes HTTP exchange logs to l instead of the RELAY_LOG_LEVEL
// environment default.
func (b *Builder) WithLogger(l logging.Logger) *Builder {
	b.logger = l
	return b
}

// WithMetrics registers Prometheus collectors for the client's traffic.
func (b *Builder) WithMetrics(cfg policies.MetricsConfig) *Builder {
	b.metrics = &cfg
	return b
}

// WithTracing overrides the tracer provider and propagator used for spans.
// Without it the client follows the process-global OpenTelemetry setup.
func (b *Builder) WithTracing(cfg policies.TracingConfig) *Builder {
	b.tracing = cfg
	return b
}

// WithTransport substitutes the HTTP transport, usually a transport.Mock
// in tests or a transport.Recorder.
func (b *Builder) WithTransport(t pipeline.Transporter) *Builder {
	b.transporter = t
	return b
}

// WithHeaders applies fixed headers to every request.
func (b *Builder) WithHeaders(h map[string]string) *Builder {
	b.headers = h
	return b
}

// WithApplicationID prepends an application identifier to the User-Agent.
func (b *Builder) WithApplicationID(id string) *Builder {
	b.applicationID = id
	return b
}

// WithAPIVersion appends api-version to every request that does not
// already carry one.
func (b *Builder) WithAPIVersion(v string) *Builder {
	b.apiVersion = v
	return b
}

// AllowInsecure permits plain-HTTP endpoints and sending credentials over
// them. Meant for local development against http://localhost.
func (b *Builder) AllowInsecure() *Builder {
	b.allowInsecure = true
	return b
}

// WithProfile applies a configuration profile: the endpoint registered for
// service, the profile's audience as the token scope, its API version, and
// its insecure flag.
func (b *Builder) WithProfile(p config.Profile, service string) *Builder {
	ep, err := p.Endpoint(service)
	if err != nil {
		b.recordErr(err)
		return b
	}
	b.endpoint = ep
	if p.Audience != "" {
		b.scopes = []string{p.Audience}
	}
	if p.APIVersion != "" {
		b.apiVersion = p.APIVersion
	}
	if p.Insecure {
		b.allowInsecure = true
	}
	return b
}

// WithPerCallPolicy appends a custom policy that runs once per operation,
// before the retry pivot.
func (b *Builder) WithPerCallPolicy(p pipeline.Policy) *Builder {
	b.perCall = append(b.perCall, p)
	return b
}

// WithPerRetryPolicy appends a custom policy that runs on every attempt.
func (b *Builder) WithPerRetryPolicy(p pipeline.Policy) *Builder {
	b.perRetry = append(b.perRetry, p)
	return b
}

func (b *Builder) recordErr(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build validates the configuration and assembles the client.
func (b *Builder) Build() (*Client, error) {
	if b.err != nil {
		return nil, b.err
	}
	endpoint, err := normalizeEndpoint(b.endpoint, b.allowInsecure)
	if err != nil {
		return nil, err
	}
	if b.cred != nil && b.key != nil {
		return nil, errors.New("client: configure a token credential or an API key, not both")
	}

	var chain []pipeline.Policy
	chain = append(chain,
		policies.NewTelemetryPolicy(Version, policies.TelemetryConfig{ApplicationID: b.applicationID}),
		policies.NewRequestIDPolicy(policies.RequestIDConfig{}),
	)
	if len(b.headers) > 0 {
		chain = append(chain, policies.NewHeadersPolicy(b.headers))
	}
	chain = append(chain, b.perCall...)

	retryCfg := policies.RetryConfig{}
	if b.retry != nil {
		retryCfg = *b.retry
	}
	chain = append(chain, policies.NewRetryPolicy(retryCfg))

	if b.throttle != nil {
		throttle, err := policies.NewThrottlePolicy(*b.throttle)
		if err != nil {
			return nil, err
		}
		chain = append(chain, throttle)
	}
	if b.breaker != nil {
		chain = append(chain, policies.NewBreakerPolicy(*b.breaker))
	}
	if b.cache != nil {
		chain = append(chain, policies.NewCachePolicy(*b.cache))
	}
	switch {
	case b.cred != nil:
		chain = append(chain, policies.NewBearerTokenPolicy(b.cred, policies.BearerTokenConfig{
			Scopes:            b.scopes,
			InsecureAllowHTTP: b.allowInsecure,
		}))
	case b.key != nil:
		chain = append(chain, policies.NewKeyPolicy(b.key, policies.KeyConfig{
			Header:            b.keyHeader,
			InsecureAllowHTTP: b.allowInsecure,
		}))
	}
	chain = append(chain, b.perRetry...)
	chain = append(chain, policies.NewHTTPLogPolicy(policies.HTTPLogConfig{Logger: b.logger}))
	if b.metrics != nil {
		chain = append(chain, policies.NewMetricsPolicy(*b.metrics))
	}
	chain = append(chain, policies.NewTracingPolicy(b.tracing))

	trans := b.transporter
	if trans == nil {
		trans = transport.New(transport.Config{})
	}

	return &Client{
		endpoint:   endpoint,
		apiVersion: b.apiVersion,
		pl:         pipeline.New(trans, chain...),
	}, nil
}

// normalizeEndpoint validates the base URL and trims a trailing slash.
func normalizeEndpoint(endpoint string, allowInsecure bool) (string, error) {
	if endpoint == "" {
		return "", errors.New("client: endpoint is required")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("client: invalid endpoint %q: %w", endpoint, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("client: endpoint %q must be an absolute URL", endpoint)
	}
	if u.Scheme != "https" && !allowInsecure {
		return "", fmt.Errorf("client: endpoint %q is not https; use AllowInsecure for local development", endpoint)
	}
	return strings.TrimRight(endpoint, "/"), nil
}
