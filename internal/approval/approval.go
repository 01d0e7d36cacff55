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

// Package approval is the approval coordinator (C5): the state machine
// between a node whose agent is APPROVAL_REQUIRED and the human decision
// that lets it proceed. A run moves to WAITING_APPROVAL the instant the
// first approval-required node of a tick is reached and stays there
// until every approval raised for it has resolved.
package approval

import (
	"context"
	"fmt"

	"github.com/flowforge/orchestrator/internal/backend"
	"github.com/flowforge/orchestrator/internal/events"
	orcherrors "github.com/flowforge/orchestrator/pkg/errors"
	"github.com/flowforge/orchestrator/pkg/model"
)

// Resumer is notified when a decision changes a run's eligibility to keep
// running. The scheduler (C6) implements this to drop the resolved node
// back into its ready-to-dispatch state and wake the run's loop.
type Resumer interface {
	// NodeApproved tells the scheduler that nodeID's approval passed; the
	// scheduler resumes the run's loop only once every approval it is
	// waiting on for runID has resolved this way.
	NodeApproved(runID, nodeID string)

	// RunRejected tells the scheduler to finalise runID as FAILED because
	// one of its pending approvals was rejected.
	RunRejected(runID, nodeID string)
}

// Coordinator requests and resolves approvals against the persistence
// gateway, emitting lifecycle events and notifying the scheduler.
type Coordinator struct {
	store   backend.ApprovalStore
	runs    backend.RunStore
	bus     *events.Bus
	resumer Resumer
}

// New constructs a Coordinator. resumer may be nil in tests that only
// exercise persistence and event side effects.
func New(store backend.ApprovalStore, runs backend.RunStore, bus *events.Bus, resumer Resumer) *Coordinator {
	return &Coordinator{store: store, runs: runs, bus: bus, resumer: resumer}
}

// Request creates a PENDING approval for nodeID within runID and
// transitions the owning run to WAITING_APPROVAL. The scheduler calls
// this once per approval-required node reached in a tick; multiple
// concurrent calls for the same run produce multiple PENDING approvals,
// and the run resumes only when all of them are APPROVED.
func (c *Coordinator) Request(ctx context.Context, runID, nodeID string) (*model.WorkflowApproval, error) {
	approval, err := c.store.RequestApproval(ctx, runID, nodeID)
	if err != nil {
		return nil, err
	}

	if c.bus != nil {
		c.bus.Publish(events.Envelope{
			Subject: events.SubjectApprovalRequested,
			RunID:   runID,
			NodeID:  nodeID,
			Status:  string(approval.Status),
		})
	}
	return approval, nil
}

// Decide records a human decision against a PENDING approval. On
// approval, the run resumes only once every approval it has raised has
// resolved APPROVED; on rejection, the run is finalised FAILED
// immediately and any still-running agents are left to finish naturally
// (the scheduler, not this coordinator, owns that bookkeeping).
func (c *Coordinator) Decide(ctx context.Context, approvalID string, approved bool, respondedBy, notes string) (*model.WorkflowApproval, error) {
	resolved, err := c.store.RecordDecision(ctx, approvalID, approved, respondedBy, notes)
	if err != nil {
		return nil, err
	}

	if c.bus != nil {
		c.bus.Publish(events.Envelope{
			Subject: events.SubjectApprovalResolved,
			RunID:   resolved.WorkflowRunID,
			NodeID:  resolved.NodeID,
			Status:  string(resolved.Status),
		})
	}

	if !approved {
		if c.resumer != nil {
			c.resumer.RunRejected(resolved.WorkflowRunID, resolved.NodeID)
		}
		return resolved, nil
	}

	if err := c.maybeResumeRun(ctx, resolved.WorkflowRunID); err != nil {
		return resolved, err
	}
	if c.resumer != nil {
		c.resumer.NodeApproved(resolved.WorkflowRunID, resolved.NodeID)
	}
	return resolved, nil
}

// maybeResumeRun transitions a run back to RUNNING iff none of its
// approvals are still PENDING. A run with two concurrent
// approval-required branches stays WAITING_APPROVAL until both resolve.
func (c *Coordinator) maybeResumeRun(ctx context.Context, runID string) error {
	pending, err := c.store.PendingApprovalsForRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("list pending approvals for run %s: %w", runID, err)
	}
	if len(pending) > 0 {
		return nil
	}

	err = c.runs.TransitionRunStatus(ctx, runID, model.RunWaitingApproval, model.RunRunning)
	if err != nil {
		var conflict *orcherrors.StateConflictError
		if orcherrors.As(err, &conflict) {
			// The run already left WAITING_APPROVAL by some other path
			// (e.g. a concurrent rejection finalised it); nothing to do.
			return nil
		}
		return fmt.Errorf("resume run %s after approval: %w", runID, err)
	}
	return nil
}
