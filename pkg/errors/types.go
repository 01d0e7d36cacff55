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

package errors

import (
	"fmt"
	"time"
)

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	Key    string
	Reason string
	Cause  error
}

func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// TimeoutError represents operation timeouts.
type TimeoutError struct {
	Operation string
	Duration  time.Duration
	Cause     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// BadRequestError represents malformed caller input: missing fields,
// invalid enum values, schema violations. Produced by the validator layer
// and never reaches persistence.
type BadRequestError struct {
	Field   string
	Message string
}

func (e *BadRequestError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("bad request on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("bad request: %s", e.Message)
}

func (e *BadRequestError) ErrorType() string { return "bad_request" }
func (e *BadRequestError) IsRetryable() bool { return false }

// NotFoundError represents a referenced entity that does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) ErrorType() string { return "not_found" }
func (e *NotFoundError) IsRetryable() bool { return false }

// ConflictError represents a duplicate unique key or a guarded state
// transition that matched zero rows.
type ConflictError struct {
	Resource string
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Resource, e.Reason)
}

func (e *ConflictError) ErrorType() string { return "conflict" }
func (e *ConflictError) IsRetryable() bool { return false }

// RateLimitedError is returned by the safety envelope when a caller
// exceeds its token-bucket allowance.
type RateLimitedError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited for %s, retry after %s", e.Key, e.RetryAfter)
}

func (e *RateLimitedError) ErrorType() string { return "rate_limited" }
func (e *RateLimitedError) IsRetryable() bool { return true }

// StateConflictError is returned when the scheduler cannot enter a
// requested execution state (e.g. claim_run when the run is not PENDING).
type StateConflictError struct {
	Entity   string
	ID       string
	Expected string
	Actual   string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("state conflict on %s %s: expected %s, was %s", e.Entity, e.ID, e.Expected, e.Actual)
}

func (e *StateConflictError) ErrorType() string { return "state_conflict" }
func (e *StateConflictError) IsRetryable() bool { return false }

// TemplateErrorKind enumerates the four ways template resolution can fail.
type TemplateErrorKind string

const (
	TemplateUnknownReference TemplateErrorKind = "UnknownReference"
	TemplateMissingField     TemplateErrorKind = "MissingField"
	TemplateOutOfRange       TemplateErrorKind = "OutOfRange"
	TemplateTypeMismatch     TemplateErrorKind = "TypeMismatch"
)

// TemplateError represents a failure to resolve a `{{path}}` placeholder.
type TemplateError struct {
	Kind    TemplateErrorKind
	Path    string
	Message string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template error (%s) at %q: %s", e.Kind, e.Path, e.Message)
}

func (e *TemplateError) ErrorType() string { return "template_error" }
func (e *TemplateError) IsRetryable() bool { return false }

// AgentFailureKind enumerates the ways a container execution can fail.
type AgentFailureKind string

const (
	AgentNonZeroExit           AgentFailureKind = "NonZeroExit"
	AgentInvalidOutput         AgentFailureKind = "InvalidOutput"
	AgentTimeout               AgentFailureKind = "Timeout"
	AgentRuntimeError          AgentFailureKind = "RuntimeError"
	AgentOutputSchemaViolation AgentFailureKind = "OutputSchemaViolation"
)

// retryableAgentFailureKinds lists the kinds IsRetryable reports as
// transient. NonZeroExit is deliberately excluded: it is treated as a
// deterministic failure.
var retryableAgentFailureKinds = map[AgentFailureKind]bool{
	AgentTimeout:               true,
	AgentRuntimeError:          true,
	AgentInvalidOutput:         true,
	AgentOutputSchemaViolation: true,
}

// AgentFailureError wraps a container execution failure.
type AgentFailureError struct {
	Kind    AgentFailureKind
	Message string
}

func (e *AgentFailureError) Error() string {
	return fmt.Sprintf("agent failure (%s): %s", e.Kind, e.Message)
}

func (e *AgentFailureError) ErrorType() string { return "agent_failure" }
func (e *AgentFailureError) IsRetryable() bool { return retryableAgentFailureKinds[e.Kind] }

// UnavailableError is returned by the safety envelope when the container
// runtime itself refuses a call (circuit open, runtime not found). The
// scheduler treats this as a backoff-and-retry signal, never a node
// failure.
type UnavailableError struct {
	Reason string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("executor unavailable: %s", e.Reason)
}

func (e *UnavailableError) ErrorType() string { return "unavailable" }
func (e *UnavailableError) IsRetryable() bool { return true }

// CyclicGraphError marks a workflow whose node set does not form a DAG.
type CyclicGraphError struct {
	WorkflowID string
}

func (e *CyclicGraphError) Error() string {
	return fmt.Sprintf("workflow %s contains a cycle", e.WorkflowID)
}

func (e *CyclicGraphError) ErrorType() string { return "cyclic_graph" }
func (e *CyclicGraphError) IsRetryable() bool { return false }

// AlreadyClaimedError is returned when execute_run is invoked concurrently
// for the same run id; only one caller proceeds.
type AlreadyClaimedError struct {
	RunID string
}

func (e *AlreadyClaimedError) Error() string {
	return fmt.Sprintf("run %s already claimed", e.RunID)
}

func (e *AlreadyClaimedError) ErrorType() string { return "already_claimed" }
func (e *AlreadyClaimedError) IsRetryable() bool { return false }

// AlreadyResolvedError is returned when a decision is recorded against an
// approval that is no longer PENDING.
type AlreadyResolvedError struct {
	ApprovalID string
}

func (e *AlreadyResolvedError) Error() string {
	return fmt.Sprintf("approval %s already resolved", e.ApprovalID)
}

func (e *AlreadyResolvedError) ErrorType() string { return "already_resolved" }
func (e *AlreadyResolvedError) IsRetryable() bool { return false }
