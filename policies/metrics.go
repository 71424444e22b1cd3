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
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"relay/sdk/pipeline"
)

// MetricsConfig controls the metrics policy.
type MetricsConfig struct {
	// Registerer receives the collectors. Defaults to the process-wide
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// MetricsPolicy records request counts, latencies, retries, and in-flight
// requests per attempt. Transport failures count under code="error".
// Multiple clients sharing one registerer share the same collectors.
type MetricsPolicy struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	retries  *prometheus.CounterVec
	inFlight prometheus.Gauge
}

// NewMetricsPolicy registers the collectors and returns the policy. It
// panics if a collector name is already registered with a different
// schema, matching prometheus.MustRegister.
func NewMetricsPolicy(cfg MetricsConfig) *MetricsPolicy {
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &MetricsPolicy{
		requests: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, host, and status code.",
		}, []string{"method", "host", "code"})),
		duration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relay",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency per attempt.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "host"})),
		retries: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "http",
			Name:      "retries_total",
			Help:      "Retry attempts by host.",
		}, []string{"host"})),
		inFlight: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Requests currently awaiting a response.",
		})),
	}
}

// Do implements pipeline.Policy.
func (p *MetricsPolicy) Do(req *pipeline.Request) (*http.Response, error) {
	method := req.Raw().Method
	host := req.Raw().URL.Host
	if pipeline.AttemptFromContext(req.Raw().Context()) > 1 {
		p.retries.WithLabelValues(host).Inc()
	}

	p.inFlight.Inc()
	start := time.Now()
	resp, err := req.Next()
	p.inFlight.Dec()
	p.duration.WithLabelValues(method, host).Observe(time.Since(start).Seconds())

	code := "error"
	if err == nil {
		code = strconv.Itoa(resp.StatusCode)
	}
	p.requests.WithLabelValues(method, host, code).Inc()
	return resp, err
}

// register adds c to reg, reusing the existing collector when one with the
// same schema is already present.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(C); ok {
			return existing
		}
	}
	panic(err)
}
