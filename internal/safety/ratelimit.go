// Copyright 2025 Tom Barlow
//
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

// Package safety is the safety envelope (C9): a per-caller token-bucket
// rate limiter and a circuit breaker around the container runtime seam.
package safety

import (
	"sync"
	"time"

	orcherrors "github.com/flowforge/orchestrator/pkg/errors"
)

// RateLimitConfig configures the limiter. RequestsPerMinute defaults to
// 100 (§4.9); BurstSize defaults to RequestsPerMinute if unset.
type RateLimitConfig struct {
	RequestsPerMinute float64
	BurstSize         int
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 100
	}
	if c.BurstSize <= 0 {
		c.BurstSize = int(c.RequestsPerMinute)
	}
	return c
}

// tokenBucket is the same refill-on-access token bucket idiom the rest
// of this codebase's auth layer uses for per-user HTTP rate limiting,
// generalized here to key by arbitrary caller identity.
type tokenBucket struct {
	mu             sync.Mutex
	tokens         float64
	maxTokens      float64
	refillPerSec   float64
	lastRefillTime time.Time
}

func newTokenBucket(refillPerSec float64, burst int) *tokenBucket {
	return &tokenBucket{
		tokens:         float64(burst),
		maxTokens:      float64(burst),
		refillPerSec:   refillPerSec,
		lastRefillTime: time.Now(),
	}
}

func (tb *tokenBucket) allow() (bool, time.Duration) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefillTime).Seconds()
	tb.tokens += elapsed * tb.refillPerSec
	if tb.tokens > tb.maxTokens {
		tb.tokens = tb.maxTokens
	}
	tb.lastRefillTime = now

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true, 0
	}

	deficit := 1.0 - tb.tokens
	retryAfter := time.Duration(deficit/tb.refillPerSec*float64(time.Second)) + time.Millisecond
	return false, retryAfter
}

// RateLimiter enforces a per-caller-identity request rate, keyed by
// whatever string the HTTP layer chooses (API key, client IP, project
// ID) — it never inspects the key's meaning.
type RateLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*tokenBucket
	cfg     RateLimitConfig
}

// NewRateLimiter constructs a RateLimiter. A zero-value cfg gets the
// 100-requests-per-minute default (§4.9).
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*tokenBucket),
		cfg:     cfg.withDefaults(),
	}
}

// Allow returns a *orcherrors.RateLimitedError if key has exhausted its
// bucket, nil otherwise.
func (rl *RateLimiter) Allow(key string) error {
	if key == "" {
		key = "_anonymous_"
	}

	rl.mu.RLock()
	bucket, ok := rl.buckets[key]
	rl.mu.RUnlock()

	if !ok {
		rl.mu.Lock()
		bucket, ok = rl.buckets[key]
		if !ok {
			bucket = newTokenBucket(rl.cfg.RequestsPerMinute/60, rl.cfg.BurstSize)
			rl.buckets[key] = bucket
		}
		rl.mu.Unlock()
	}

	if allowed, retryAfter := bucket.allow(); !allowed {
		return &orcherrors.RateLimitedError{Key: key, RetryAfter: retryAfter}
	}
	return nil
}

// Cleanup evicts buckets untouched for longer than maxAge, so a stream
// of one-off callers (e.g. unauthenticated webhook senders keyed by IP)
// never grows the map unbounded.
func (rl *RateLimiter) Cleanup(maxAge time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, bucket := range rl.buckets {
		bucket.mu.Lock()
		age := now.Sub(bucket.lastRefillTime)
		bucket.mu.Unlock()
		if age > maxAge {
			delete(rl.buckets, key)
		}
	}
}
