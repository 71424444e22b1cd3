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
	"context"
	"net/http"
)

// Policy is one link of the pipeline chain. Do receives the in-flight
// request, forwards it with req.Next(), and returns the result after any
// inspection or rewriting on the way back. Implementations must be safe for
// concurrent use.
type Policy interface {
	Do(req *Request) (*http.Response, error)
}

// PolicyFunc adapts an ordinary function to the Policy interface.
type PolicyFunc func(*Request) (*http.Response, error)

// Do implements Policy.
func (f PolicyFunc) Do(req *Request) (*http.Response, error) {
	return f(req)
}

// Transporter performs the actual HTTP exchange at the end of the chain.
// *http.Client satisfies this interface, as do the doubles in the transport
// package.
type Transporter interface {
	Do(req *http.Request) (*http.Response, error)
}

type attemptKey struct{}

// ContextWithAttempt annotates ctx with the 1-based attempt number of the
// current try. The retry policy sets this before replaying the chain so
// downstream policies can report which attempt they are observing.
func ContextWithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey{}, attempt)
}

// AttemptFromContext returns the attempt number set by a retrying policy.
// The first (and possibly only) try of an operation reports attempt 1.
func AttemptFromContext(ctx context.Context) int {
	if n, ok := ctx.Value(attemptKey{}).(int); ok {
		return n
	}
	return 1
}

type operationKey struct{}

// ContextWithOperation names the logical client operation (for example
// "Widgets.Get") for logging and tracing. The name travels on the context so
// it survives request cloning across retries.
func ContextWithOperation(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, operationKey{}, name)
}

// OperationFromContext returns the operation name, or "" when unset.
func OperationFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(operationKey{}).(string); ok {
		return s
	}
	return ""
}
