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

// Package model defines the orchestrator's core entities: Workflow,
// WorkflowNode, Agent, WorkflowRun, AgentRun and WorkflowApproval.
package model

import "time"

// WorkflowStatus is the lifecycle status of a Workflow definition.
type WorkflowStatus string

const (
	WorkflowDraft    WorkflowStatus = "DRAFT"
	WorkflowActive   WorkflowStatus = "ACTIVE"
	WorkflowArchived WorkflowStatus = "ARCHIVED"
)

// TriggerKind names how a Workflow may be started.
type TriggerKind string

const (
	TriggerManual   TriggerKind = "manual"
	TriggerEvent    TriggerKind = "event"
	TriggerSchedule TriggerKind = "schedule"
	TriggerWebhook  TriggerKind = "webhook"
)

// AgentKind classifies what an Agent actually is.
type AgentKind string

const (
	AgentKindLLM    AgentKind = "LLM"
	AgentKindRule   AgentKind = "RULE"
	AgentKindAPI    AgentKind = "API"
	AgentKindScript AgentKind = "SCRIPT"
)

// RiskLevel determines whether dispatching a node requires human approval.
type RiskLevel string

const (
	RiskAuto             RiskLevel = "AUTO"
	RiskApprovalRequired RiskLevel = "APPROVAL_REQUIRED"
)

// RunStatus is the lifecycle status of a WorkflowRun.
type RunStatus string

const (
	RunPending          RunStatus = "PENDING"
	RunRunning          RunStatus = "RUNNING"
	RunWaitingApproval  RunStatus = "WAITING_APPROVAL"
	RunSuccess          RunStatus = "SUCCESS"
	RunFailed           RunStatus = "FAILED"
	RunCancelled        RunStatus = "CANCELLED"
)

// IsTerminal reports whether the run status admits no further transitions.
func (s RunStatus) IsTerminal() bool {
	return s == RunSuccess || s == RunFailed || s == RunCancelled
}

// AgentRunStatus is the lifecycle status of a single node invocation.
type AgentRunStatus string

const (
	AgentRunPending AgentRunStatus = "PENDING"
	AgentRunRunning AgentRunStatus = "RUNNING"
	AgentRunSuccess AgentRunStatus = "SUCCESS"
	AgentRunFailed  AgentRunStatus = "FAILED"
	AgentRunSkipped AgentRunStatus = "SKIPPED"
)

// ApprovalStatus is the lifecycle status of a WorkflowApproval.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// Capability is a named action an Agent declares, with its input/output
// JSON schemas (stored as raw JSON so the orchestrator core need not
// understand JSON-Schema itself — validation is the safety envelope's
// concern).
type Capability struct {
	Name         string `json:"name"`
	InputSchema  []byte `json:"inputSchema"`
	OutputSchema []byte `json:"outputSchema"`
}

// Agent is a registered, container-packaged executable.
type Agent struct {
	ID           string       `json:"id"`
	ProjectID    int64        `json:"projectId"`
	Name         string       `json:"name"`
	Kind         AgentKind    `json:"kind"`
	EntryPath    string       `json:"entryPath"`
	Version      string       `json:"version"`
	RiskLevel    RiskLevel    `json:"riskLevel"`
	Capabilities []Capability `json:"capabilities"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// HasCapability reports whether the agent declares the named action.
func (a *Agent) HasCapability(action string) bool {
	for _, c := range a.Capabilities {
		if c.Name == action {
			return true
		}
	}
	return false
}

// WorkflowNode is one execution step in a Workflow's DAG.
type WorkflowNode struct {
	ID               string                 `json:"id"`
	AgentID          string                 `json:"agentId"`
	Action           string                 `json:"action"`
	InputTemplate    map[string]interface{} `json:"inputTemplate"`
	DependsOn        []string               `json:"dependsOn"`
	ApprovalRequired bool                   `json:"approvalRequired"`
}

// Workflow is an immutable graph definition: a named DAG of agent
// invocations.
type Workflow struct {
	ID          string         `json:"id"`
	ProjectID   int64          `json:"projectId"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Trigger     TriggerKind    `json:"trigger"`
	Status      WorkflowStatus `json:"status"`
	Nodes       []WorkflowNode `json:"nodes"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// NodeByID returns the node with the given id, or nil.
func (w *Workflow) NodeByID(id string) *WorkflowNode {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i]
		}
	}
	return nil
}

// WorkflowRun is one execution of a Workflow.
type WorkflowRun struct {
	ID         string                 `json:"id"`
	WorkflowID string                 `json:"workflowId"`
	Trigger    string                 `json:"trigger"`
	Context    map[string]interface{} `json:"context"`
	Status     RunStatus              `json:"status"`
	StartedAt  *time.Time             `json:"startedAt,omitempty"`
	FinishedAt *time.Time             `json:"finishedAt,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
}

// AgentError is the structured error recorded against a failed AgentRun.
type AgentError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// AgentRun is one invocation of one node within a run.
type AgentRun struct {
	ID            string                 `json:"id"`
	RunID         string                 `json:"runId"`
	NodeID        string                 `json:"nodeId"`
	AgentID       string                 `json:"agentId"`
	Status        AgentRunStatus         `json:"status"`
	ResolvedInput map[string]interface{} `json:"resolvedInput,omitempty"`
	Output        map[string]interface{} `json:"output,omitempty"`
	Error         *AgentError            `json:"error,omitempty"`
	StartedAt     *time.Time             `json:"startedAt,omitempty"`
	FinishedAt    *time.Time             `json:"finishedAt,omitempty"`
	DurationMs    int64                  `json:"durationMs,omitempty"`
	Attempt       int                    `json:"attempt"`
}

// WorkflowApproval is a pending (or resolved) human decision gating a node.
type WorkflowApproval struct {
	ID           string         `json:"id"`
	WorkflowRunID string        `json:"workflowRunId"`
	NodeID       string         `json:"nodeId"`
	Status       ApprovalStatus `json:"status"`
	RequestedAt  time.Time      `json:"requestedAt"`
	RespondedAt  *time.Time     `json:"respondedAt,omitempty"`
	RespondedBy  string         `json:"respondedBy,omitempty"`
	Notes        string         `json:"notes,omitempty"`
}
