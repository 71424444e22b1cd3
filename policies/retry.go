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
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"relay/sdk/pipeline"
)

const (
	// DefaultMaxRetries is the number of additional attempts after the
	// first one fails retryably.
	DefaultMaxRetries = 3
	// DefaultRetryDelay seeds the exponential backoff.
	DefaultRetryDelay = 800 * time.Millisecond
	// DefaultMaxRetryDelay caps a single backoff sleep.
	DefaultMaxRetryDelay = 30 * time.Second
)

// defaultRetryStatuses are the responses worth retrying: timeouts,
// throttling, and transient server failures.
var defaultRetryStatuses = []int{
	http.StatusRequestTimeout,
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// RetryConfig controls the retry policy. The zero value applies the
// package defaults.
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first. Zero selects
	// DefaultMaxRetries; negative disables retries entirely.
	MaxRetries int
	// RetryDelay is the base backoff, doubled per attempt with jitter.
	RetryDelay time.Duration
	// MaxRetryDelay caps both the computed backoff and an acceptable
	// Retry-After. When a service asks for a longer pause than this, the
	// policy stops retrying and returns the response.
	MaxRetryDelay time.Duration
	// TryTimeout bounds each individual attempt. Zero means attempts are
	// bounded only by the request context. A timed-out attempt counts as
	// retryable as long as the operation's own context is still live.
	TryTimeout time.Duration
	// StatusCodes replaces the default retryable status set.
	StatusCodes []int
	// ShouldRetry, when set, fully decides whether an attempt's outcome is
	// retried. Attempt budget and context liveness still apply.
	ShouldRetry func(resp *http.Response, err error) bool
}

type retryPolicy struct {
	maxRetries    int
	retryDelay    time.Duration
	maxRetryDelay time.Duration
	tryTimeout    time.Duration
	statusCodes   []int
	shouldRetry   func(resp *http.Response, err error) bool
}

// NewRetryPolicy builds the retry pivot of a pipeline. Everything placed
// after it in the chain re-runs on each attempt.
func NewRetryPolicy(cfg RetryConfig) pipeline.Policy {
	p := &retryPolicy{
		maxRetries:    cfg.MaxRetries,
		retryDelay:    cfg.RetryDelay,
		maxRetryDelay: cfg.MaxRetryDelay,
		tryTimeout:    cfg.TryTimeout,
		statusCodes:   cfg.StatusCodes,
		shouldRetry:   cfg.ShouldRetry,
	}
	if p.maxRetries == 0 {
		p.maxRetries = DefaultMaxRetries
	}
	if p.maxRetries < 0 {
		p.maxRetries = 0
	}
	if p.retryDelay <= 0 {
		p.retryDelay = DefaultRetryDelay
	}
	if p.maxRetryDelay <= 0 {
		p.maxRetryDelay = DefaultMaxRetryDelay
	}
	if len(p.statusCodes) == 0 {
		p.statusCodes = defaultRetryStatuses
	}
	return p
}

func (p *retryPolicy) Do(req *pipeline.Request) (*http.Response, error) {
	origCtx := req.Context()

	var resp *http.Response
	var err error
	for attempt := 1; ; attempt++ {
		resp, err = p.try(req, origCtx, attempt)

		if !p.retryable(origCtx, resp, err) {
			return resp, err
		}
		if attempt > p.maxRetries {
			return resp, err
		}

		delay, giveUp := p.delayBefore(attempt, resp)
		if giveUp {
			return resp, err
		}

		pipeline.Drain(resp)
		select {
		case <-origCtx.Done():
			return nil, origCtx.Err()
		case <-time.After(delay):
		}

		if rerr := req.RewindBody(); rerr != nil {
			// A body that cannot rewind must never be replayed.
			return nil, fmt.Errorf("retry attempt %d: %w", attempt+1, rerr)
		}
	}
}

// try runs one attempt on a clone of the request so per-attempt context
// (attempt number, per-try timeout) never leaks into the next attempt.
func (p *retryPolicy) try(req *pipeline.Request, origCtx context.Context, attempt int) (*http.Response, error) {
	tryCtx := pipeline.ContextWithAttempt(origCtx, attempt)
	var cancel context.CancelFunc
	if p.tryTimeout > 0 {
		tryCtx, cancel = context.WithTimeout(tryCtx, p.tryTimeout)
	}

	resp, err := req.Clone(tryCtx).Next()

	if cancel != nil {
		if err != nil {
			cancel()
		} else {
			// The body may still be streaming; release the timer when the
			// caller is done with it.
			resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		}
	}
	return resp, err
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func (p *retryPolicy) retryable(origCtx context.Context, resp *http.Response, err error) bool {
	if origCtx.Err() != nil {
		return false
	}
	if p.shouldRetry != nil {
		return p.shouldRetry(resp, err)
	}
	if err != nil {
		// Transport failures and per-try timeouts are worth another
		// attempt unless the operation itself was canceled.
		return !errors.Is(err, context.Canceled)
	}
	return pipeline.HasStatusCode(resp, p.statusCodes...)
}

// delayBefore picks the pause preceding the next attempt. A service's
// Retry-After wins over the computed backoff; one that exceeds
// MaxRetryDelay aborts retrying.
func (p *retryPolicy) delayBefore(attempt int, resp *http.Response) (time.Duration, bool) {
	if ra, ok := pipeline.RetryAfter(resp); ok {
		if ra > p.maxRetryDelay {
			return 0, true
		}
		return ra, false
	}
	delay := p.retryDelay * time.Duration(1<<uint(attempt-1))
	if delay > p.maxRetryDelay || delay <= 0 {
		delay = p.maxRetryDelay
	}
	// Half jitter keeps a fleet of clients from retrying in lockstep.
	delay = delay/2 + time.Duration(rand.Float64()*float64(delay/2))
	return delay, false
}
