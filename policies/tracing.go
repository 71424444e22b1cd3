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
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"relay/sdk/pipeline"
)

const tracerName = "relay/sdk"

// TracingConfig controls the tracing policy.
type TracingConfig struct {
	// Provider supplies the tracer. Defaults to the global provider, so
	// installing one with otel.SetTracerProvider after client construction
	// still takes effect.
	Provider trace.TracerProvider
	// Propagator injects trace context into outgoing headers. Defaults to
	// the global propagator.
	Propagator propagation.TextMapPropagator
}

// TracingPolicy opens one client span per attempt and injects the trace
// context into the request headers. Spans take the operation name from
// pipeline.ContextWithOperation when set, otherwise "HTTP <method>".
// Transport errors and statuses of 400 and above mark the span as failed.
type TracingPolicy struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// NewTracingPolicy returns a policy configured per cfg.
func NewTracingPolicy(cfg TracingConfig) *TracingPolicy {
	provider := cfg.Provider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	prop := cfg.Propagator
	if prop == nil {
		prop = otel.GetTextMapPropagator()
	}
	return &TracingPolicy{tracer: provider.Tracer(tracerName), propagator: prop}
}

// Do implements pipeline.Policy.
func (p *TracingPolicy) Do(req *pipeline.Request) (*http.Response, error) {
	ctx := req.Context()
	name := pipeline.OperationFromContext(ctx)
	if name == "" {
		name = "HTTP " + req.Raw().Method
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.request.method", req.Raw().Method),
		attribute.String("server.address", req.Raw().URL.Host),
		attribute.String("url.full", traceURL(req.Raw().URL)),
	}
	if attempt := pipeline.AttemptFromContext(ctx); attempt > 1 {
		attrs = append(attrs, attribute.Int("http.request.resend_count", attempt-1))
	}

	ctx, span := p.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...))
	defer span.End()

	req = req.Clone(ctx)
	p.propagator.Inject(ctx, propagation.HeaderCarrier(req.Raw().Header))

	resp, err := req.Next()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusBadRequest {
		span.SetStatus(codes.Error, resp.Status)
	}
	return resp, nil
}

// traceURL renders u without its query so signed URLs never land in span
// attributes.
func traceURL(u *url.URL) string {
	clean := *u
	clean.RawQuery = ""
	clean.Fragment = ""
	return clean.String()
}
