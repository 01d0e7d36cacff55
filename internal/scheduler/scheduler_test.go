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

package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/flowforge/orchestrator/internal/approval"
	"github.com/flowforge/orchestrator/internal/backend"
	"github.com/flowforge/orchestrator/internal/backend/memory"
	"github.com/flowforge/orchestrator/internal/executor"
	orcherrors "github.com/flowforge/orchestrator/pkg/errors"
	"github.com/flowforge/orchestrator/pkg/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubRunner resolves outcomes by node entry path, so tests can script a
// node's behaviour without touching a container runtime.
type stubRunner struct {
	mu       sync.Mutex
	byEntry  map[string]executor.Result
	fallback executor.Result
	calls    []string
}

func newStubRunner() *stubRunner {
	return &stubRunner{
		byEntry:  map[string]executor.Result{},
		fallback: executor.Result{Output: map[string]interface{}{}},
	}
}

func (s *stubRunner) Execute(_ context.Context, desc executor.Descriptor, _ map[string]interface{}) executor.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, desc.EntryPath)
	if r, ok := s.byEntry[desc.EntryPath]; ok {
		return r
	}
	return s.fallback
}

func (s *stubRunner) callCount(entry string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == entry {
			n++
		}
	}
	return n
}

func mustCreateAgent(t *testing.T, be *memory.Backend, id, entry string, risk model.RiskLevel) *model.Agent {
	t.Helper()
	a := &model.Agent{ID: id, Name: id, Version: "1", EntryPath: entry, Kind: model.AgentKindScript, RiskLevel: risk}
	if err := be.CreateAgent(context.Background(), a); err != nil {
		t.Fatalf("CreateAgent %s: %v", id, err)
	}
	return a
}

func mustCreateWorkflow(t *testing.T, be *memory.Backend, wf *model.Workflow) *model.Workflow {
	t.Helper()
	if err := be.CreateWorkflow(context.Background(), wf); err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	return wf
}

func mustCreateRun(t *testing.T, be *memory.Backend, wf *model.Workflow, runCtx map[string]interface{}) *model.WorkflowRun {
	t.Helper()
	run, err := be.CreateRun(context.Background(), wf, "manual", runCtx)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return run
}

func waitForTerminal(t *testing.T, be *memory.Backend, runID string, timeout time.Duration) *model.WorkflowRun {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		run, err := be.GetRun(context.Background(), runID)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if run.Status.IsTerminal() {
			return run
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s did not reach a terminal state within %s", runID, timeout)
	return nil
}

// deferredResumer lets a test construct an approval.Coordinator before the
// *Scheduler that backs its Resumer exists — the two are mutually
// referential — by resolving the real Resumer lazily on first use.
type deferredResumer struct {
	resolve func() approval.Resumer
}

func (d *deferredResumer) NodeApproved(runID, nodeID string) { d.resolve().NodeApproved(runID, nodeID) }
func (d *deferredResumer) RunRejected(runID, nodeID string)  { d.resolve().RunRejected(runID, nodeID) }

func TestExecuteRun_LinearSuccess(t *testing.T) {
	be := memory.New()
	ctx := context.Background()

	mustCreateAgent(t, be, "fetch", "/fetch.sh", model.RiskAuto)
	mustCreateAgent(t, be, "notify", "/notify.sh", model.RiskAuto)

	wf := mustCreateWorkflow(t, be, &model.Workflow{
		ID: "wf-1", Name: "pipeline", Status: model.WorkflowActive,
		Nodes: []model.WorkflowNode{
			{ID: "a", AgentID: "fetch"},
			{ID: "b", AgentID: "notify", DependsOn: []string{"a"}},
		},
	})
	run := mustCreateRun(t, be, wf, map[string]interface{}{})

	runner := newStubRunner()
	s := New(be, nil, runner, approval.New(be, be, nil, nil), 0, discardLogger())

	if err := s.ExecuteRun(ctx, run.ID); err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}

	got, err := be.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != model.RunSuccess {
		t.Fatalf("got status %s, want SUCCESS", got.Status)
	}
	if runner.callCount("/fetch.sh") != 1 || runner.callCount("/notify.sh") != 1 {
		t.Fatalf("expected exactly one dispatch per node, got calls %v", runner.calls)
	}
}

func TestExecuteRun_FailurePropagatesSkipToDescendants(t *testing.T) {
	be := memory.New()
	ctx := context.Background()

	mustCreateAgent(t, be, "fetch", "/fetch.sh", model.RiskAuto)
	mustCreateAgent(t, be, "process", "/process.sh", model.RiskAuto)
	mustCreateAgent(t, be, "sibling", "/sibling.sh", model.RiskAuto)

	wf := mustCreateWorkflow(t, be, &model.Workflow{
		ID: "wf-2", Name: "pipeline", Status: model.WorkflowActive,
		Nodes: []model.WorkflowNode{
			{ID: "a", AgentID: "fetch"},
			{ID: "b", AgentID: "process", DependsOn: []string{"a"}},
			{ID: "c", AgentID: "sibling"},
		},
	})
	run := mustCreateRun(t, be, wf, map[string]interface{}{})

	runner := newStubRunner()
	runner.byEntry["/fetch.sh"] = executor.Result{
		Failure: &orcherrors.AgentFailureError{Kind: orcherrors.AgentNonZeroExit, Message: "exit 1"},
	}
	s := New(be, nil, runner, approval.New(be, be, nil, nil), 0, discardLogger())

	if err := s.ExecuteRun(ctx, run.ID); err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}

	got, err := be.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != model.RunFailed {
		t.Fatalf("got status %s, want FAILED", got.Status)
	}

	agentRuns, err := be.ListAgentRunsByRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListAgentRunsByRun: %v", err)
	}
	statuses := map[string]model.AgentRunStatus{}
	for _, ar := range agentRuns {
		statuses[ar.NodeID] = ar.Status
	}
	if statuses["a"] != model.AgentRunFailed {
		t.Errorf("node a: got %s, want FAILED", statuses["a"])
	}
	if statuses["b"] != model.AgentRunSkipped {
		t.Errorf("node b: got %s, want SKIPPED (descendant of failed a)", statuses["b"])
	}
	// c has no dependency on the failed node and should have run to success.
	if statuses["c"] != model.AgentRunSuccess {
		t.Errorf("node c: got %s, want SUCCESS (independent of failed a)", statuses["c"])
	}
}

func TestExecuteRun_ApprovalRequiredPausesThenResumesOnApproval(t *testing.T) {
	be := memory.New()
	ctx := context.Background()

	mustCreateAgent(t, be, "fetch", "/fetch.sh", model.RiskAuto)
	mustCreateAgent(t, be, "deploy", "/deploy.sh", model.RiskApprovalRequired)

	wf := mustCreateWorkflow(t, be, &model.Workflow{
		ID: "wf-3", Name: "pipeline", Status: model.WorkflowActive,
		Nodes: []model.WorkflowNode{
			{ID: "a", AgentID: "fetch"},
			{ID: "b", AgentID: "deploy", DependsOn: []string{"a"}},
		},
	})
	run := mustCreateRun(t, be, wf, map[string]interface{}{})

	runner := newStubRunner()
	var s *Scheduler
	resumer := &deferredResumer{resolve: func() approval.Resumer { return s }}
	coord := approval.New(be, be, nil, resumer)
	s = New(be, nil, runner, coord, 0, discardLogger())

	if err := s.ExecuteRun(ctx, run.ID); err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}

	got, err := be.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != model.RunWaitingApproval {
		t.Fatalf("got status %s, want WAITING_APPROVAL", got.Status)
	}
	if runner.callCount("/deploy.sh") != 0 {
		t.Fatalf("deploy should not have been dispatched before approval")
	}

	pending, err := be.PendingApprovalsForRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("PendingApprovalsForRun: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected exactly one pending approval, got %d", len(pending))
	}

	if _, err := coord.Decide(ctx, pending[0].ID, true, "alice", "go ahead"); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	final := waitForTerminal(t, be, run.ID, 2*time.Second)
	if final.Status != model.RunSuccess {
		t.Fatalf("got final status %s, want SUCCESS", final.Status)
	}
	if runner.callCount("/deploy.sh") != 1 {
		t.Fatalf("expected deploy to dispatch exactly once after approval, got %d", runner.callCount("/deploy.sh"))
	}
}

func TestExecuteRun_RejectedApprovalFailsRunAndSkipsRemainder(t *testing.T) {
	be := memory.New()
	ctx := context.Background()

	mustCreateAgent(t, be, "fetch", "/fetch.sh", model.RiskAuto)
	mustCreateAgent(t, be, "deploy", "/deploy.sh", model.RiskApprovalRequired)

	wf := mustCreateWorkflow(t, be, &model.Workflow{
		ID: "wf-4", Name: "pipeline", Status: model.WorkflowActive,
		Nodes: []model.WorkflowNode{
			{ID: "a", AgentID: "fetch"},
			{ID: "b", AgentID: "deploy", DependsOn: []string{"a"}},
		},
	})
	run := mustCreateRun(t, be, wf, map[string]interface{}{})

	runner := newStubRunner()
	var s *Scheduler
	resumer := &deferredResumer{resolve: func() approval.Resumer { return s }}
	coord := approval.New(be, be, nil, resumer)
	s = New(be, nil, runner, coord, 0, discardLogger())

	if err := s.ExecuteRun(ctx, run.ID); err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}

	pending, err := be.PendingApprovalsForRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("PendingApprovalsForRun: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one pending approval, got %d", len(pending))
	}

	if _, err := coord.Decide(ctx, pending[0].ID, false, "alice", "too risky"); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	final := waitForTerminal(t, be, run.ID, 2*time.Second)
	if final.Status != model.RunFailed {
		t.Fatalf("got final status %s, want FAILED", final.Status)
	}
	if runner.callCount("/deploy.sh") != 0 {
		t.Fatalf("deploy should never have been dispatched")
	}

	agentRuns, err := be.ListAgentRunsByRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListAgentRunsByRun: %v", err)
	}
	for _, ar := range agentRuns {
		if ar.NodeID == "b" && ar.Status != model.AgentRunSkipped {
			t.Errorf("node b: got %s, want SKIPPED", ar.Status)
		}
	}
}

func TestExecuteRun_TwoConcurrentApprovalsBothResolveBeforeResume(t *testing.T) {
	be := memory.New()
	ctx := context.Background()

	mustCreateAgent(t, be, "left", "/left.sh", model.RiskApprovalRequired)
	mustCreateAgent(t, be, "right", "/right.sh", model.RiskApprovalRequired)

	wf := mustCreateWorkflow(t, be, &model.Workflow{
		ID: "wf-5", Name: "fanout", Status: model.WorkflowActive,
		Nodes: []model.WorkflowNode{
			{ID: "a", AgentID: "left"},
			{ID: "b", AgentID: "right"},
		},
	})
	run := mustCreateRun(t, be, wf, map[string]interface{}{})

	runner := newStubRunner()
	var s *Scheduler
	resumer := &deferredResumer{resolve: func() approval.Resumer { return s }}
	coord := approval.New(be, be, nil, resumer)
	s = New(be, nil, runner, coord, 0, discardLogger())

	if err := s.ExecuteRun(ctx, run.ID); err != nil {
		t.Fatalf("ExecuteRun: %v", err)
	}

	pending, err := be.PendingApprovalsForRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("PendingApprovalsForRun: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected both nodes to request approval in the same tick, got %d", len(pending))
	}

	if _, err := coord.Decide(ctx, pending[0].ID, true, "alice", ""); err != nil {
		t.Fatalf("Decide first: %v", err)
	}

	got, err := be.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != model.RunWaitingApproval {
		t.Fatalf("got status %s, want run to remain WAITING_APPROVAL until both approvals resolve", got.Status)
	}

	if _, err := coord.Decide(ctx, pending[1].ID, true, "bob", ""); err != nil {
		t.Fatalf("Decide second: %v", err)
	}

	final := waitForTerminal(t, be, run.ID, 2*time.Second)
	if final.Status != model.RunSuccess {
		t.Fatalf("got final status %s, want SUCCESS", final.Status)
	}
}

func TestExecuteRun_CyclicGraphFailsRunImmediately(t *testing.T) {
	be := memory.New()
	ctx := context.Background()

	mustCreateAgent(t, be, "fetch", "/fetch.sh", model.RiskAuto)
	mustCreateAgent(t, be, "process", "/process.sh", model.RiskAuto)

	wf := mustCreateWorkflow(t, be, &model.Workflow{
		ID: "wf-6", Name: "cycle", Status: model.WorkflowActive,
		Nodes: []model.WorkflowNode{
			{ID: "a", AgentID: "fetch", DependsOn: []string{"b"}},
			{ID: "b", AgentID: "process", DependsOn: []string{"a"}},
		},
	})
	run := mustCreateRun(t, be, wf, map[string]interface{}{})

	runner := newStubRunner()
	s := New(be, nil, runner, approval.New(be, be, nil, nil), 0, discardLogger())

	err := s.ExecuteRun(ctx, run.ID)
	var cyclic *orcherrors.CyclicGraphError
	if !orcherrors.As(err, &cyclic) {
		t.Fatalf("expected *CyclicGraphError, got %T: %v", err, err)
	}

	got, getErr := be.GetRun(ctx, run.ID)
	if getErr != nil {
		t.Fatalf("GetRun: %v", getErr)
	}
	if got.Status != model.RunFailed {
		t.Fatalf("got status %s, want FAILED", got.Status)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("expected no dispatches for a cyclic graph, got %v", runner.calls)
	}
}

var _ backend.Backend = (*memory.Backend)(nil)
