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

// Package backend provides the persistence gateway (C1): CRUD on
// workflow/agent/run/approval records with transactional status
// transitions guarded by optimistic concurrency.
//
// # Interface Hierarchy
//
// The package uses interface segregation so callers depend on only what
// they need:
//
//   - WorkflowStore: workflow and node CRUD.
//   - AgentStore: agent registration CRUD.
//   - RunStore: run and agent-run lifecycle, including the guarded
//     transitions claim_run/finish_agent_run/finish_run.
//   - ApprovalStore: approval lifecycle.
//
// Backend composes all four plus io.Closer. Two implementations ship:
// memory (in-process, mutex-guarded, used by tests) and postgres
// (production, pgx-backed, JSONB columns).
package backend

import (
	"context"
	"io"

	"github.com/flowforge/orchestrator/pkg/model"
)

// WorkflowStore is the core interface for workflow storage operations.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, wf *model.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*model.Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *model.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*model.Workflow, error)
}

// WorkflowFilter scopes a workflow listing.
type WorkflowFilter struct {
	ProjectID int64
	Status    model.WorkflowStatus
}

// AgentStore is the core interface for agent registration storage.
type AgentStore interface {
	CreateAgent(ctx context.Context, a *model.Agent) error
	GetAgent(ctx context.Context, id string) (*model.Agent, error)
	UpdateAgent(ctx context.Context, a *model.Agent) error
	DeleteAgent(ctx context.Context, id string) error
	ListAgents(ctx context.Context, projectID int64) ([]*model.Agent, error)
}

// RunStore is the core interface for run and agent-run lifecycle storage.
// Every status transition here is guarded: an update that does not find a
// row in the expected prior status affects zero rows and the store returns
// *orcherrors.StateConflictError.
type RunStore interface {
	// CreateRun inserts a new run in PENDING against an ACTIVE workflow.
	CreateRun(ctx context.Context, wf *model.Workflow, trigger string, runCtx map[string]interface{}) (*model.WorkflowRun, error)

	// ClaimRun transitions PENDING->RUNNING atomically, setting startedAt.
	// Returns *orcherrors.AlreadyClaimedError if the run is not PENDING.
	ClaimRun(ctx context.Context, runID string) (*model.WorkflowRun, error)

	GetRun(ctx context.Context, runID string) (*model.WorkflowRun, error)

	// ListRunsByStatus bounds a fetch for the startup recovery scan.
	ListRunsByStatus(ctx context.Context, status model.RunStatus, limit int) ([]*model.WorkflowRun, error)

	ListRunsByWorkflow(ctx context.Context, workflowID string, limit int) ([]*model.WorkflowRun, error)

	// TransitionRunStatus moves a run from `from` to `to`, guarded.
	TransitionRunStatus(ctx context.Context, runID string, from, to model.RunStatus) error

	// FinishRun performs a monotonic transition to a terminal status,
	// setting finishedAt.
	FinishRun(ctx context.Context, runID string, status model.RunStatus) error

	StartAgentRun(ctx context.Context, runID, nodeID, agentID string, resolvedInput map[string]interface{}, attempt int) (*model.AgentRun, error)
	FinishAgentRun(ctx context.Context, agentRunID string, status model.AgentRunStatus, output map[string]interface{}, agentErr *model.AgentError, durationMs int64) error
	ListAgentRunsByRun(ctx context.Context, runID string) ([]*model.AgentRun, error)
	GetAgentRun(ctx context.Context, agentRunID string) (*model.AgentRun, error)
}

// ApprovalStore is the core interface for approval lifecycle storage.
type ApprovalStore interface {
	// RequestApproval inserts a PENDING approval and transitions the owning
	// run to WAITING_APPROVAL, atomically.
	RequestApproval(ctx context.Context, runID, nodeID string) (*model.WorkflowApproval, error)

	// RecordDecision moves a PENDING approval to APPROVED or REJECTED.
	// Returns *orcherrors.AlreadyResolvedError if already resolved.
	RecordDecision(ctx context.Context, approvalID string, approved bool, respondedBy, notes string) (*model.WorkflowApproval, error)

	GetApproval(ctx context.Context, approvalID string) (*model.WorkflowApproval, error)
	ListApprovals(ctx context.Context, filter ApprovalFilter) ([]*model.WorkflowApproval, error)

	// PendingApprovalsForRun returns approvals still PENDING for a run.
	PendingApprovalsForRun(ctx context.Context, runID string) ([]*model.WorkflowApproval, error)
}

// ApprovalFilter scopes an approval listing.
type ApprovalFilter struct {
	Status       model.ApprovalStatus
	WorkflowRunID string
}

// Backend composes the full persistence gateway.
type Backend interface {
	WorkflowStore
	AgentStore
	RunStore
	ApprovalStore
	io.Closer
}
