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

// Package ratelimit provides the client-side limiters used by the throttle
// policy: an in-process token bucket, a keyed collection of buckets, and a
// Redis-backed sliding window for limits shared across processes.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// waitPollInterval is how often Wait re-checks the bucket while blocked.
const waitPollInterval = 10 * time.Millisecond

// Limiter is a token bucket. Tokens refill continuously at the configured
// rate up to the burst capacity; each admitted request consumes one.
type Limiter struct {
	mu         sync.Mutex
	tokens     float64
	burst      float64
	rate       float64 // tokens per second
	lastRefill time.Time
}

// NewLimiter creates a bucket admitting rate requests per second with the
// given burst capacity. The bucket starts full.
func NewLimiter(rate, burst float64) *Limiter {
	return &Limiter{
		tokens:     burst,
		burst:      burst,
		rate:       rate,
		lastRefill: time.Now(),
	}
}

// TryAcquire consumes a token if one is available, without blocking.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill()
	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is acquired or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		if l.TryAcquire() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitPollInterval):
		}
	}
}

// refill credits tokens for the time elapsed since the last refill.
// Callers must hold mu.
func (l *Limiter) refill() {
	now := time.Now()
	l.tokens += now.Sub(l.lastRefill).Seconds() * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.lastRefill = now
}

// Available returns the current token count.
func (l *Limiter) Available() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.tokens
}

// SetRate updates the refill rate in place.
func (l *Limiter) SetRate(rate float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rate = rate
}

// SetBurst updates the bucket capacity in place.
func (l *Limiter) SetBurst(burst float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.burst = burst
}

// KeyedLimiter maintains one Limiter per key, building them lazily from a
// factory. The throttle policy keys by target host; gateways key by tenant.
type KeyedLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	factory  func(key string) *Limiter
}

// NewKeyedLimiter creates an empty keyed limiter. The factory builds the
// bucket for a key on first use.
func NewKeyedLimiter(factory func(key string) *Limiter) *KeyedLimiter {
	return &KeyedLimiter{
		limiters: make(map[string]*Limiter),
		factory:  factory,
	}
}

// Get returns the limiter for key, creating it if needed.
func (k *KeyedLimiter) Get(key string) *Limiter {
	k.mu.RLock()
	l, ok := k.limiters[key]
	k.mu.RUnlock()
	if ok {
		return l
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if l, ok = k.limiters[key]; ok {
		return l
	}
	l = k.factory(key)
	k.limiters[key] = l
	return l
}

// TryAcquire consumes a token for key without blocking.
func (k *KeyedLimiter) TryAcquire(key string) bool {
	return k.Get(key).TryAcquire()
}

// Wait blocks until a token for key is acquired or ctx is done.
func (k *KeyedLimiter) Wait(ctx context.Context, key string) error {
	return k.Get(key).Wait(ctx)
}

// Remove drops the limiter for key. The next use rebuilds it full.
func (k *KeyedLimiter) Remove(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.limiters, key)
}

// Len returns the number of tracked keys.
func (k *KeyedLimiter) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.limiters)
}
