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
	"net/http"
	"sync"
	"time"

	"relay/sdk/pipeline"
)

// ErrCircuitOpen is returned while a host's circuit is open.
var ErrCircuitOpen = errors.New("policies: circuit open")

const (
	// DefaultBreakerThreshold is the consecutive-failure count that opens
	// a circuit.
	DefaultBreakerThreshold = 5
	// DefaultBreakerResetTimeout is how long an open circuit waits before
	// admitting a probe.
	DefaultBreakerResetTimeout = 30 * time.Second
)

// CircuitState is the observable state of one host's circuit.
type CircuitState int

const (
	// CircuitClosed admits all requests.
	CircuitClosed CircuitState = iota
	// CircuitOpen fails requests fast.
	CircuitOpen
	// CircuitHalfOpen admits a single probe.
	CircuitHalfOpen
)

// String returns the lower-case state name.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// BreakerConfig controls the circuit breaker policy. Circuits are per
// target host.
type BreakerConfig struct {
	// Threshold is the consecutive qualifying failures that open the
	// circuit. Defaults to DefaultBreakerThreshold.
	Threshold int
	// ResetTimeout is the open period before a probe is admitted.
	// Defaults to DefaultBreakerResetTimeout.
	ResetTimeout time.Duration
}

// breaker is one host's circuit. Transitions:
//
//	closed --(Threshold consecutive failures)--> open
//	open --(ResetTimeout elapsed)--> half-open, one probe admitted
//	half-open --(probe succeeds)--> closed
//	half-open --(probe fails)--> open
type breaker struct {
	mu            sync.Mutex
	threshold     int
	resetAfter    time.Duration
	state         CircuitState
	failures      int
	openedAt      time.Time
	probeInFlight bool
}

func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(b.openedAt) >= b.resetAfter {
			b.state = CircuitHalfOpen
			b.probeInFlight = true
			return true
		}
		return false
	case CircuitHalfOpen:
		// One probe at a time.
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	}
	return false
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = CircuitClosed
	b.probeInFlight = false
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitHalfOpen {
		// The probe failed; back to open for another full reset period.
		b.state = CircuitOpen
		b.openedAt = time.Now()
		b.probeInFlight = false
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.state = CircuitOpen
		b.openedAt = time.Now()
	}
}

// releaseProbe clears an in-flight probe without judging the host, used
// when an attempt ends for reasons unrelated to host health.
func (b *breaker) releaseProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probeInFlight = false
}

func (b *breaker) currentState() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerPolicy fails fast against hosts that keep failing, giving them a
// quiet period to recover. Server errors and transport failures trip the
// circuit; full client errors (4xx) never do, because the host is healthy
// and retrying the caller's mistake elsewhere would not help.
type BreakerPolicy struct {
	threshold  int
	resetAfter time.Duration

	mu       sync.RWMutex
	circuits map[string]*breaker
}

// NewBreakerPolicy builds a breaker policy with per-host circuits.
func NewBreakerPolicy(cfg BreakerConfig) *BreakerPolicy {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	resetAfter := cfg.ResetTimeout
	if resetAfter <= 0 {
		resetAfter = DefaultBreakerResetTimeout
	}
	return &BreakerPolicy{
		threshold:  threshold,
		resetAfter: resetAfter,
		circuits:   make(map[string]*breaker),
	}
}

// Do implements pipeline.Policy.
func (p *BreakerPolicy) Do(req *pipeline.Request) (*http.Response, error) {
	host := req.Raw().URL.Host
	b := p.circuit(host)

	if !b.allow() {
		return nil, fmt.Errorf("%w: host %s cooling down", ErrCircuitOpen, host)
	}

	resp, err := req.Next()

	switch {
	case err != nil:
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// The caller gave up; says nothing about the host's health.
			b.releaseProbe()
		} else {
			b.recordFailure()
		}
	case resp.StatusCode >= 500:
		b.recordFailure()
	default:
		b.recordSuccess()
	}
	return resp, err
}

// State reports the circuit state for a host, CircuitClosed when the host
// has never been seen.
func (p *BreakerPolicy) State(host string) CircuitState {
	p.mu.RLock()
	b, ok := p.circuits[host]
	p.mu.RUnlock()
	if !ok {
		return CircuitClosed
	}
	return b.currentState()
}

// Reset closes the circuit for a host.
func (p *BreakerPolicy) Reset(host string) {
	p.mu.RLock()
	b, ok := p.circuits[host]
	p.mu.RUnlock()
	if ok {
		b.recordSuccess()
	}
}

func (p *BreakerPolicy) circuit(host string) *breaker {
	p.mu.RLock()
	b, ok := p.circuits[host]
	p.mu.RUnlock()
	if ok {
		return b
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok = p.circuits[host]; ok {
		return b
	}
	b = &breaker{threshold: p.threshold, resetAfter: p.resetAfter}
	p.circuits[host] = b
	return b
}
