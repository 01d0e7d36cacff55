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

// Package executor is the container executor (C3): runs one agent
// invocation to completion inside a throwaway Docker/Podman container
// and returns its parsed stdout as output, never sharing state between
// invocations.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	orcherrors "github.com/flowforge/orchestrator/pkg/errors"
)

// Descriptor describes the agent container to run.
type Descriptor struct {
	Image         string
	EntryPath     string
	MemoryLimitMB int
	TimeoutSec    int
	Workspace     string
	// OutputSchema is the agent's declared JSON Schema for its stdout
	// contract. Empty means the agent declares no schema and any JSON
	// object output is accepted.
	OutputSchema []byte
}

// Result is the outcome of one Execute call: exactly one of Output,
// Failure, or Unavailable is set. Unavailable means the runtime itself
// could not be engaged (binary missing, daemon unresponsive) — the
// scheduler treats it as a backoff-and-retry signal that does not
// consume the node's attempt budget, never as a node failure.
type Result struct {
	Output      map[string]interface{}
	Failure     *orcherrors.AgentFailureError
	Unavailable *orcherrors.UnavailableError
}

// Runtime names the container engine the executor shells out to.
type Runtime string

const (
	RuntimeDocker Runtime = "docker"
	RuntimePodman Runtime = "podman"
)

// Executor runs agent containers via the detected runtime CLI.
type Executor struct {
	runtime Runtime
	logger  *slog.Logger
}

// DetectRuntime probes for a usable container runtime the way the
// teacher's sandbox factory does: docker first (verified live via
// `docker info`), podman as fallback. Returns *orcherrors.UnavailableError
// if neither is usable.
func DetectRuntime() (Runtime, error) {
	if _, err := exec.LookPath("docker"); err == nil {
		if err := exec.Command("docker", "info").Run(); err == nil {
			return RuntimeDocker, nil
		}
	}
	if _, err := exec.LookPath("podman"); err == nil {
		return RuntimePodman, nil
	}
	return "", &orcherrors.UnavailableError{Reason: "no container runtime available (tried docker, podman)"}
}

// New constructs an Executor bound to a detected or explicitly
// configured runtime.
func New(runtime Runtime, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{runtime: runtime, logger: logger}
}

// Execute runs desc's container with resolvedInput serialized as its
// single JSON command-line argument, enforcing desc's wall-clock cap
// via ctx, and parses stdout as the agent's JSON output. The container
// gets no network, no ambient credentials, and a read-only root
// filesystem with only the workspace mounted read-only.
func (e *Executor) Execute(ctx context.Context, desc Descriptor, resolvedInput map[string]interface{}) Result {
	if _, err := exec.LookPath(string(e.runtime)); err != nil {
		return Result{Unavailable: &orcherrors.UnavailableError{Reason: fmt.Sprintf("runtime %s not found: %v", e.runtime, err)}}
	}

	inputJSON, err := json.Marshal(resolvedInput)
	if err != nil {
		return Result{Failure: &orcherrors.AgentFailureError{Kind: orcherrors.AgentRuntimeError, Message: fmt.Sprintf("marshal resolved input: %v", err)}}
	}

	timeout := time.Duration(desc.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := e.buildArgs(desc, string(inputJSON))
	cmd := exec.CommandContext(runCtx, string(e.runtime), args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if stderr.Len() > 0 {
		e.logger.Info("agent container stderr", "entry_path", desc.EntryPath, "stderr", strings.TrimSpace(stderr.String()))
	}

	if runCtx.Err() == context.DeadlineExceeded {
		return Result{Failure: &orcherrors.AgentFailureError{Kind: orcherrors.AgentTimeout, Message: fmt.Sprintf("exceeded %s", timeout)}}
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return Result{Failure: &orcherrors.AgentFailureError{Kind: orcherrors.AgentNonZeroExit, Message: fmt.Sprintf("exit status %d", exitErr.ExitCode())}}
		}
		return Result{Failure: &orcherrors.AgentFailureError{Kind: orcherrors.AgentRuntimeError, Message: runErr.Error()}}
	}

	var output map[string]interface{}
	if err := json.Unmarshal(stdout.Bytes(), &output); err != nil {
		return Result{Failure: &orcherrors.AgentFailureError{Kind: orcherrors.AgentInvalidOutput, Message: fmt.Sprintf("stdout is not a JSON object: %v", err)}}
	}

	if len(desc.OutputSchema) > 0 {
		if err := validateOutputSchema(desc.OutputSchema, output); err != nil {
			return Result{Failure: &orcherrors.AgentFailureError{Kind: orcherrors.AgentOutputSchemaViolation, Message: err.Error()}}
		}
	}

	return Result{Output: output}
}

// validateOutputSchema checks output against the agent's declared JSON
// Schema contract.
func validateOutputSchema(schemaBytes []byte, output map[string]interface{}) error {
	var schemaDoc any
	if err := json.Unmarshal(schemaBytes, &schemaDoc); err != nil {
		return fmt.Errorf("unmarshal output schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("output-schema.json", schemaDoc); err != nil {
		return fmt.Errorf("add output schema resource: %w", err)
	}
	schema, err := c.Compile("output-schema.json")
	if err != nil {
		return fmt.Errorf("compile output schema: %w", err)
	}

	if err := schema.Validate(output); err != nil {
		return err
	}
	return nil
}

// buildArgs assembles the `docker run`/`podman run` invocation: no
// network, no ambient credentials, read-only root with a writable
// no-exec /tmp, and the workspace mounted read-only, mirroring the
// teacher's sandbox security options.
func (e *Executor) buildArgs(desc Descriptor, inputJSON string) []string {
	memMB := desc.MemoryLimitMB
	if memMB <= 0 {
		memMB = 512
	}

	args := []string{
		"run", "--rm",
		"--network", "none",
		"--memory", fmt.Sprintf("%dm", memMB),
		"--pids-limit", "256",
		"--read-only",
		"--tmpfs", "/tmp:rw,noexec,nosuid",
		"--security-opt", "no-new-privileges",
	}
	if desc.Workspace != "" {
		args = append(args, "-v", fmt.Sprintf("%s:/workspace:ro", desc.Workspace))
	}
	args = append(args, desc.Image, desc.EntryPath, inputJSON)
	return args
}
