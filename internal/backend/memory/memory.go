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

// Package memory provides an in-process Backend implementation,
// mutex-guarded, used by tests and single-node deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowforge/orchestrator/internal/backend"
	orcherrors "github.com/flowforge/orchestrator/pkg/errors"
	"github.com/flowforge/orchestrator/pkg/model"
)

var _ backend.Backend = (*Backend)(nil)

// Backend is an in-memory storage backend.
type Backend struct {
	mu sync.RWMutex

	workflows  map[string]*model.Workflow
	agents     map[string]*model.Agent
	runs       map[string]*model.WorkflowRun
	agentRuns  map[string]*model.AgentRun
	approvals  map[string]*model.WorkflowApproval
}

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{
		workflows: make(map[string]*model.Workflow),
		agents:    make(map[string]*model.Agent),
		runs:      make(map[string]*model.WorkflowRun),
		agentRuns: make(map[string]*model.AgentRun),
		approvals: make(map[string]*model.WorkflowApproval),
	}
}

func (b *Backend) Close() error { return nil }

// --- WorkflowStore ---

func (b *Backend) CreateWorkflow(ctx context.Context, wf *model.Workflow) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.workflows {
		if existing.ProjectID == wf.ProjectID && existing.Name == wf.Name {
			return &orcherrors.ConflictError{Resource: "workflow", Reason: "name already exists in project"}
		}
	}

	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	now := time.Now()
	wf.CreatedAt, wf.UpdatedAt = now, now

	cp := *wf
	cp.Nodes = append([]model.WorkflowNode(nil), wf.Nodes...)
	b.workflows[wf.ID] = &cp
	return nil
}

func (b *Backend) GetWorkflow(ctx context.Context, id string) (*model.Workflow, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	wf, ok := b.workflows[id]
	if !ok {
		return nil, &orcherrors.NotFoundError{Resource: "workflow", ID: id}
	}
	cp := *wf
	return &cp, nil
}

func (b *Backend) UpdateWorkflow(ctx context.Context, wf *model.Workflow) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing, ok := b.workflows[wf.ID]
	if !ok {
		return &orcherrors.NotFoundError{Resource: "workflow", ID: wf.ID}
	}
	wf.CreatedAt = existing.CreatedAt
	wf.UpdatedAt = time.Now()
	cp := *wf
	b.workflows[wf.ID] = &cp
	return nil
}

func (b *Backend) DeleteWorkflow(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.workflows[id]; !ok {
		return &orcherrors.NotFoundError{Resource: "workflow", ID: id}
	}
	delete(b.workflows, id)
	return nil
}

func (b *Backend) ListWorkflows(ctx context.Context, filter backend.WorkflowFilter) ([]*model.Workflow, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*model.Workflow
	for _, wf := range b.workflows {
		if filter.ProjectID != 0 && wf.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Status != "" && wf.Status != filter.Status {
			continue
		}
		cp := *wf
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- AgentStore ---

func (b *Backend) CreateAgent(ctx context.Context, a *model.Agent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.agents {
		if existing.ProjectID == a.ProjectID && existing.Name == a.Name {
			return &orcherrors.ConflictError{Resource: "agent", Reason: "name already exists in project"}
		}
	}

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now

	cp := *a
	cp.Capabilities = append([]model.Capability(nil), a.Capabilities...)
	b.agents[a.ID] = &cp
	return nil
}

func (b *Backend) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	a, ok := b.agents[id]
	if !ok {
		return nil, &orcherrors.NotFoundError{Resource: "agent", ID: id}
	}
	cp := *a
	return &cp, nil
}

func (b *Backend) UpdateAgent(ctx context.Context, a *model.Agent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing, ok := b.agents[a.ID]
	if !ok {
		return &orcherrors.NotFoundError{Resource: "agent", ID: a.ID}
	}
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = time.Now()
	cp := *a
	b.agents[a.ID] = &cp
	return nil
}

func (b *Backend) DeleteAgent(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.agents[id]; !ok {
		return &orcherrors.NotFoundError{Resource: "agent", ID: id}
	}

	for _, wf := range b.workflows {
		if wf.Status != model.WorkflowActive {
			continue
		}
		for _, n := range wf.Nodes {
			if n.AgentID == id {
				return &orcherrors.ConflictError{Resource: "agent", Reason: "referenced by an active workflow"}
			}
		}
	}

	delete(b.agents, id)
	return nil
}

func (b *Backend) ListAgents(ctx context.Context, projectID int64) ([]*model.Agent, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*model.Agent
	for _, a := range b.agents {
		if projectID != 0 && a.ProjectID != projectID {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- RunStore ---

func (b *Backend) CreateRun(ctx context.Context, wf *model.Workflow, trigger string, runCtx map[string]interface{}) (*model.WorkflowRun, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, ok := b.workflows[wf.ID]
	if !ok {
		return nil, &orcherrors.NotFoundError{Resource: "workflow", ID: wf.ID}
	}
	if current.Status != model.WorkflowActive {
		return nil, &orcherrors.BadRequestError{Field: "workflowId", Message: "workflow is not ACTIVE"}
	}

	run := &model.WorkflowRun{
		ID:         uuid.NewString(),
		WorkflowID: wf.ID,
		Trigger:    trigger,
		Context:    runCtx,
		Status:     model.RunPending,
		CreatedAt:  time.Now(),
	}
	b.runs[run.ID] = run
	cp := *run
	return &cp, nil
}

func (b *Backend) ClaimRun(ctx context.Context, runID string) (*model.WorkflowRun, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	run, ok := b.runs[runID]
	if !ok {
		return nil, &orcherrors.NotFoundError{Resource: "run", ID: runID}
	}
	if run.Status != model.RunPending {
		return nil, &orcherrors.AlreadyClaimedError{RunID: runID}
	}

	now := time.Now()
	run.Status = model.RunRunning
	run.StartedAt = &now
	cp := *run
	return &cp, nil
}

func (b *Backend) GetRun(ctx context.Context, runID string) (*model.WorkflowRun, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	run, ok := b.runs[runID]
	if !ok {
		return nil, &orcherrors.NotFoundError{Resource: "run", ID: runID}
	}
	cp := *run
	return &cp, nil
}

func (b *Backend) ListRunsByStatus(ctx context.Context, status model.RunStatus, limit int) ([]*model.WorkflowRun, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*model.WorkflowRun
	for _, run := range b.runs {
		if run.Status == status {
			cp := *run
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (b *Backend) ListRunsByWorkflow(ctx context.Context, workflowID string, limit int) ([]*model.WorkflowRun, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*model.WorkflowRun
	for _, run := range b.runs {
		if run.WorkflowID == workflowID {
			cp := *run
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (b *Backend) TransitionRunStatus(ctx context.Context, runID string, from, to model.RunStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	run, ok := b.runs[runID]
	if !ok {
		return &orcherrors.NotFoundError{Resource: "run", ID: runID}
	}
	if run.Status != from {
		return &orcherrors.StateConflictError{Entity: "run", ID: runID, Expected: string(from), Actual: string(run.Status)}
	}
	run.Status = to
	return nil
}

func (b *Backend) FinishRun(ctx context.Context, runID string, status model.RunStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	run, ok := b.runs[runID]
	if !ok {
		return &orcherrors.NotFoundError{Resource: "run", ID: runID}
	}
	if run.Status.IsTerminal() {
		return &orcherrors.StateConflictError{Entity: "run", ID: runID, Expected: "non-terminal", Actual: string(run.Status)}
	}
	now := time.Now()
	run.Status = status
	run.FinishedAt = &now
	return nil
}

func (b *Backend) StartAgentRun(ctx context.Context, runID, nodeID, agentID string, resolvedInput map[string]interface{}, attempt int) (*model.AgentRun, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.runs[runID]; !ok {
		return nil, &orcherrors.NotFoundError{Resource: "run", ID: runID}
	}

	now := time.Now()
	ar := &model.AgentRun{
		ID:            uuid.NewString(),
		RunID:         runID,
		NodeID:        nodeID,
		AgentID:       agentID,
		Status:        model.AgentRunRunning,
		ResolvedInput: resolvedInput,
		StartedAt:     &now,
		Attempt:       attempt,
	}
	b.agentRuns[ar.ID] = ar
	cp := *ar
	return &cp, nil
}

func (b *Backend) FinishAgentRun(ctx context.Context, agentRunID string, status model.AgentRunStatus, output map[string]interface{}, agentErr *model.AgentError, durationMs int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ar, ok := b.agentRuns[agentRunID]
	if !ok {
		return &orcherrors.NotFoundError{Resource: "agentRun", ID: agentRunID}
	}

	now := time.Now()
	ar.Status = status
	ar.Output = output
	ar.Error = agentErr
	ar.FinishedAt = &now
	ar.DurationMs = durationMs
	return nil
}

func (b *Backend) ListAgentRunsByRun(ctx context.Context, runID string) ([]*model.AgentRun, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*model.AgentRun
	for _, ar := range b.agentRuns {
		if ar.RunID == runID {
			cp := *ar
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt == nil || out[j].StartedAt == nil {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(*out[j].StartedAt)
	})
	return out, nil
}

func (b *Backend) GetAgentRun(ctx context.Context, agentRunID string) (*model.AgentRun, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ar, ok := b.agentRuns[agentRunID]
	if !ok {
		return nil, &orcherrors.NotFoundError{Resource: "agentRun", ID: agentRunID}
	}
	cp := *ar
	return &cp, nil
}

// --- ApprovalStore ---

func (b *Backend) RequestApproval(ctx context.Context, runID, nodeID string) (*model.WorkflowApproval, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	run, ok := b.runs[runID]
	if !ok {
		return nil, &orcherrors.NotFoundError{Resource: "run", ID: runID}
	}

	ap := &model.WorkflowApproval{
		ID:            uuid.NewString(),
		WorkflowRunID: runID,
		NodeID:        nodeID,
		Status:        model.ApprovalPending,
		RequestedAt:   time.Now(),
	}
	b.approvals[ap.ID] = ap
	run.Status = model.RunWaitingApproval

	cp := *ap
	return &cp, nil
}

func (b *Backend) RecordDecision(ctx context.Context, approvalID string, approved bool, respondedBy, notes string) (*model.WorkflowApproval, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ap, ok := b.approvals[approvalID]
	if !ok {
		return nil, &orcherrors.NotFoundError{Resource: "approval", ID: approvalID}
	}
	if ap.Status != model.ApprovalPending {
		return nil, &orcherrors.AlreadyResolvedError{ApprovalID: approvalID}
	}

	now := time.Now()
	if approved {
		ap.Status = model.ApprovalApproved
	} else {
		ap.Status = model.ApprovalRejected
	}
	ap.RespondedAt = &now
	ap.RespondedBy = respondedBy
	ap.Notes = notes

	cp := *ap
	return &cp, nil
}

func (b *Backend) GetApproval(ctx context.Context, approvalID string) (*model.WorkflowApproval, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ap, ok := b.approvals[approvalID]
	if !ok {
		return nil, &orcherrors.NotFoundError{Resource: "approval", ID: approvalID}
	}
	cp := *ap
	return &cp, nil
}

func (b *Backend) ListApprovals(ctx context.Context, filter backend.ApprovalFilter) ([]*model.WorkflowApproval, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*model.WorkflowApproval
	for _, ap := range b.approvals {
		if filter.Status != "" && ap.Status != filter.Status {
			continue
		}
		if filter.WorkflowRunID != "" && ap.WorkflowRunID != filter.WorkflowRunID {
			continue
		}
		cp := *ap
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func (b *Backend) PendingApprovalsForRun(ctx context.Context, runID string) ([]*model.WorkflowApproval, error) {
	return b.ListApprovals(ctx, backend.ApprovalFilter{Status: model.ApprovalPending, WorkflowRunID: runID})
}
