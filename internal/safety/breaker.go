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

package safety

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/flowforge/orchestrator/internal/executor"
	orcherrors "github.com/flowforge/orchestrator/pkg/errors"
)

// ContainerRunner is the dispatch seam the scheduler depends on.
// *executor.Executor and *BreakerRunner both satisfy it.
type ContainerRunner interface {
	Execute(ctx context.Context, desc executor.Descriptor, resolvedInput map[string]interface{}) executor.Result
}

// BreakerConfig configures the circuit breaker wrapping one
// ContainerRunner. Defaults match §4.9: 5 consecutive failures within a
// 120s window trips the breaker; it stays open 60s before probing with
// up to 3 half-open requests.
type BreakerConfig struct {
	Name                string
	ConsecutiveFailures uint32
	Interval            time.Duration
	Timeout             time.Duration
	MaxHalfOpenRequests uint32
}

func defaultBreakerSettings(cfg BreakerConfig) gobreaker.Settings {
	consecutiveFailures := cfg.ConsecutiveFailures
	if consecutiveFailures == 0 {
		consecutiveFailures = 5
	}
	maxHalfOpen := cfg.MaxHalfOpenRequests
	if maxHalfOpen == 0 {
		maxHalfOpen = 3
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = 120 * time.Second
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: maxHalfOpen,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailures
		},
	}
}

// BreakerRunner wraps a ContainerRunner with a circuit breaker (§4.9).
// Only a runtime-unavailable outcome counts as a breaker failure — an
// agent's own non-zero exit or bad-JSON-output is a normal business
// outcome, not evidence the container runtime itself is unhealthy, so
// it never trips the breaker.
type BreakerRunner struct {
	runner ContainerRunner
	cb     *gobreaker.CircuitBreaker
}

// NewBreakerRunner wraps runner with a breaker built from cfg.
func NewBreakerRunner(runner ContainerRunner, cfg BreakerConfig) *BreakerRunner {
	return &BreakerRunner{
		runner: runner,
		cb:     gobreaker.NewCircuitBreaker(defaultBreakerSettings(cfg)),
	}
}

// Execute implements ContainerRunner (and so also
// scheduler.ContainerRunner, which has the identical method set).
func (b *BreakerRunner) Execute(ctx context.Context, desc executor.Descriptor, resolvedInput map[string]interface{}) executor.Result {
	out, err := b.cb.Execute(func() (interface{}, error) {
		result := b.runner.Execute(ctx, desc, resolvedInput)
		if result.Unavailable != nil {
			return result, fmt.Errorf("container runtime unavailable: %s", result.Unavailable.Reason)
		}
		return result, nil
	})

	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return executor.Result{Unavailable: &orcherrors.UnavailableError{Reason: "circuit breaker open"}}
		}
		if result, ok := out.(executor.Result); ok {
			return result
		}
		return executor.Result{Unavailable: &orcherrors.UnavailableError{Reason: err.Error()}}
	}

	result, _ := out.(executor.Result)
	return result
}

// State reports the breaker's current state for health/debug endpoints.
func (b *BreakerRunner) State() gobreaker.State {
	return b.cb.State()
}
