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

// Package scheduler is the DAG scheduler (C6): the per-run main loop
// that computes the ready set, resolves templates, dispatches container
// invocations concurrently, and drives a WorkflowRun through PENDING ->
// RUNNING -> (WAITING_APPROVAL <-> RUNNING)* -> SUCCESS|FAILED.
//
// ExecuteRun is re-entrant and idempotent: it reconstructs a run's
// completed/failed/skipped state from persisted AgentRun rows every time
// it is invoked, rather than keeping a long-lived goroutine parked across
// a WAITING_APPROVAL suspension. This is the same recovery-by-replay
// shape the teacher's runner uses for its restart scan, extended to also
// serve as the resume path after an approval decision — one code path
// handles both "fresh claim" and "resume after suspension".
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowforge/orchestrator/internal/approval"
	"github.com/flowforge/orchestrator/internal/backend"
	"github.com/flowforge/orchestrator/internal/events"
	orclog "github.com/flowforge/orchestrator/internal/log"
	"github.com/flowforge/orchestrator/internal/executor"
	"github.com/flowforge/orchestrator/internal/observability"
	"github.com/flowforge/orchestrator/internal/template"
	orcherrors "github.com/flowforge/orchestrator/pkg/errors"
	"github.com/flowforge/orchestrator/pkg/model"
)

// ContainerRunner dispatches one agent invocation to completion.
// *executor.Executor satisfies this directly; the safety envelope (C9)
// wraps it with a circuit breaker without changing this seam.
type ContainerRunner interface {
	Execute(ctx context.Context, desc executor.Descriptor, resolvedInput map[string]interface{}) executor.Result
}

// Notifier delivers a successful node's output to whatever channel it
// names. A container agent runs fully sandboxed (no network), so it
// cannot itself reach Slack; the scheduler hands its resolved output to
// Notifier once the node succeeds, outside the sandbox, instead.
// *notify.Router satisfies this.
type Notifier interface {
	Notify(ctx context.Context, output map[string]interface{})
}

// unavailableBackoff is how long the main loop waits before re-offering a
// node whose dispatch came back Unavailable. It does not consume the
// node's attempt budget (§4.6.3).
const unavailableBackoff = 2 * time.Second

// Scheduler owns the DAG execution loop for every run.
type Scheduler struct {
	store     backend.Backend
	bus       *events.Bus
	runner    ContainerRunner
	approvals *approval.Coordinator
	sem       *semaphore.Weighted
	logger    *slog.Logger
	notifier  Notifier
	obs       *observability.Provider

	// imageFor resolves an Agent to its runnable container image
	// reference. Overridable in tests; defaults to "<name>:<version>".
	imageFor func(*model.Agent) string
}

// SetNotifier wires the notification channel router in. Left unset, a
// successfully dispatched node's output is simply never forwarded to
// Slack/console — the rest of the scheduler is unaffected.
func (s *Scheduler) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetObservability wires tracing and metrics in. Left unset, the
// scheduler runs exactly as before: no spans, no counters.
func (s *Scheduler) SetObservability(obs *observability.Provider) {
	s.obs = obs
}

// New constructs a Scheduler. maxConcurrentNodes bounds how many ready
// nodes may be dispatched at once across the whole process (§5); pass 0
// for unbounded. Since approval.Coordinator's own constructor takes the
// Scheduler as its Resumer, callers resolve the cycle the way
// TestExecuteRun_ApprovalRequiredPausesThenResumesOnApproval does: declare
// `var s *Scheduler`, pass a Resumer that lazily calls through to s once
// it exists, construct the Coordinator with that Resumer, then construct
// the Scheduler and assign it to s.
func New(store backend.Backend, bus *events.Bus, runner ContainerRunner, approvals *approval.Coordinator, maxConcurrentNodes int64, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	var sem *semaphore.Weighted
	if maxConcurrentNodes > 0 {
		sem = semaphore.NewWeighted(maxConcurrentNodes)
	}
	return &Scheduler{
		store:     store,
		bus:       bus,
		runner:    runner,
		approvals: approvals,
		sem:       sem,
		logger:    logger,
		imageFor:  func(a *model.Agent) string { return fmt.Sprintf("%s:%s", a.Name, a.Version) },
	}
}

// NodeApproved implements approval.Resumer: it re-enters the main loop
// for runID in the background so the HTTP caller that recorded the
// decision is never blocked on scheduling.
func (s *Scheduler) NodeApproved(runID, nodeID string) {
	go func() {
		if err := s.ExecuteRun(context.Background(), runID); err != nil {
			s.logger.Error("resume after approval failed", "run_id", runID, "node_id", nodeID, orclog.Error(err))
		}
	}()
}

// RunRejected implements approval.Resumer: it finalises runID as FAILED,
// skipping whatever was still outstanding, without consuming an attempt
// on any node.
func (s *Scheduler) RunRejected(runID, nodeID string) {
	go func() {
		if err := s.finalizeRejected(context.Background(), runID); err != nil {
			s.logger.Error("finalize rejected run failed", "run_id", runID, "node_id", nodeID, orclog.Error(err))
		}
	}()
}

// ExecuteRun drives runID's DAG to completion or to a suspension point
// (WAITING_APPROVAL, or a container runtime that is Unavailable). It
// returns nil in both the "finished" and "suspended" cases; only an
// unexpected persistence or data-integrity error is returned.
func (s *Scheduler) ExecuteRun(ctx context.Context, runID string) error {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", runID, err)
	}

	if run.Status.IsTerminal() {
		return nil
	}

	wf, err := s.store.GetWorkflow(ctx, run.WorkflowID)
	if err != nil {
		return fmt.Errorf("load workflow %s: %w", run.WorkflowID, err)
	}

	if !verifyAcyclic(wf) {
		s.logger.Error("workflow failed acyclicity check", "workflow_id", wf.ID, "run_id", runID)
		if finishErr := s.store.FinishRun(ctx, runID, model.RunFailed); finishErr != nil {
			return fmt.Errorf("finish run %s after cyclic graph: %w", runID, finishErr)
		}
		s.publish(events.SubjectRunFinished, runID, "", string(model.RunFailed))
		return &orcherrors.CyclicGraphError{WorkflowID: wf.ID}
	}

	switch run.Status {
	case model.RunPending:
		claimed, err := s.store.ClaimRun(ctx, runID)
		if err != nil {
			var alreadyClaimed *orcherrors.AlreadyClaimedError
			if orcherrors.As(err, &alreadyClaimed) {
				return nil
			}
			return fmt.Errorf("claim run %s: %w", runID, err)
		}
		run = claimed
		s.publish(events.SubjectRunStarted, runID, "", string(model.RunRunning))
		if s.obs != nil {
			s.obs.Metrics.RunStarted(ctx)
		}
	case model.RunWaitingApproval:
		rejected, err := s.anyApprovalRejected(ctx, runID)
		if err != nil {
			return err
		}
		if rejected {
			return s.finalizeRejected(ctx, runID)
		}
		pending, err := s.store.PendingApprovalsForRun(ctx, runID)
		if err != nil {
			return fmt.Errorf("list pending approvals for run %s: %w", runID, err)
		}
		if len(pending) > 0 {
			return nil
		}
	case model.RunRunning:
		// resuming after an approval that already transitioned the run
	default:
		return nil
	}

	logger := orclog.WithRunContext(s.logger, runID, wf.Name)
	return s.runLoop(ctx, logger, run, wf)
}

// runLoop reconstructs completed/failed/skipped state from persisted
// AgentRun rows, then ticks the ready set until the run finishes or
// suspends. Wrapped in a "workflow.execute" span covering this one
// invocation — which, given ExecuteRun's re-entrant design, may be only
// a partial slice of the run's full wall-clock lifetime if it suspends
// on approval and resumes via a later call.
func (s *Scheduler) runLoop(ctx context.Context, logger *slog.Logger, run *model.WorkflowRun, wf *model.Workflow) (err error) {
	if s.obs != nil {
		var span trace.Span
		ctx, span = s.obs.StartRunSpan(ctx, run.ID, wf.ID, wf.Name)
		defer func() {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}()
	}

	agentRuns, err := s.store.ListAgentRunsByRun(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("load agent runs for run %s: %w", run.ID, err)
	}

	completed := make(map[string]bool)
	failed := make(map[string]bool)
	skipped := make(map[string]bool)
	env := template.Env{Context: run.Context, Nodes: make(map[string]map[string]interface{})}

	for _, ar := range agentRuns {
		switch ar.Status {
		case model.AgentRunSuccess:
			completed[ar.NodeID] = true
			env.Nodes[ar.NodeID] = map[string]interface{}{"output": ar.Output}
		case model.AgentRunFailed:
			failed[ar.NodeID] = true
		case model.AgentRunSkipped:
			skipped[ar.NodeID] = true
		case model.AgentRunRunning, model.AgentRunPending:
			// A RUNNING/PENDING row surviving into a fresh ExecuteRun call
			// means the process that owned it died mid-invocation; there is
			// no live goroutine to rejoin. Recording it failed lets
			// propagation rules apply instead of stalling the run forever.
			logger.Warn("recovering stale in-flight agent run as failed", "node_id", ar.NodeID, "agent_run_id", ar.ID)
			agentErr := &model.AgentError{Kind: string(orcherrors.AgentRuntimeError), Message: "agent run did not complete before the owning process exited"}
			if finishErr := s.store.FinishAgentRun(ctx, ar.ID, model.AgentRunFailed, nil, agentErr, 0); finishErr != nil {
				return fmt.Errorf("recover stale agent run %s: %w", ar.ID, finishErr)
			}
			failed[ar.NodeID] = true
		}
	}

	for {
		running := map[string]bool{}
		ready := readyNodes(wf, completed, failed, skipped, running)
		if len(ready) == 0 {
			return s.finalizeTick(ctx, logger, run, wf, completed, failed, skipped)
		}

		dispatchNodes, approvalNodes, err := s.classify(ctx, ready)
		if err != nil {
			return err
		}

		// A node whose approval was already granted dispatches instead of
		// requesting a fresh approval.
		approved, err := s.store.ListApprovals(ctx, backend.ApprovalFilter{Status: model.ApprovalApproved, WorkflowRunID: run.ID})
		if err != nil {
			return fmt.Errorf("list approved approvals for run %s: %w", run.ID, err)
		}
		approvedNodes := make(map[string]bool, len(approved))
		for _, ap := range approved {
			approvedNodes[ap.NodeID] = true
		}
		var stillGated []*model.WorkflowNode
		for _, n := range approvalNodes {
			if approvedNodes[n.ID] {
				dispatchNodes = append(dispatchNodes, n)
			} else {
				stillGated = append(stillGated, n)
			}
		}
		approvalNodes = stillGated

		for _, n := range approvalNodes {
			if _, err := s.approvals.Request(ctx, run.ID, n.ID); err != nil {
				return fmt.Errorf("request approval for node %s: %w", n.ID, err)
			}
			logger.Info("node requires approval", "node_id", n.ID)
		}

		outcomes := s.dispatchTick(ctx, logger, run, dispatchNodes, env)
		unavailableSeen := false
		for _, o := range outcomes {
			switch {
			case o.unavailable:
				unavailableSeen = true
			case o.success:
				completed[o.nodeID] = true
				env.Nodes[o.nodeID] = map[string]interface{}{"output": o.output}
			default:
				failed[o.nodeID] = true
			}
		}

		if len(approvalNodes) > 0 {
			// Approval requests just flipped the run to WAITING_APPROVAL;
			// pause here and let NodeApproved/RunRejected resume us.
			return nil
		}
		if unavailableSeen && len(dispatchNodes) == len(outcomesUnavailable(outcomes)) {
			// Nothing progressed this tick and everything ready was
			// Unavailable: back off before re-offering the same nodes.
			time.Sleep(unavailableBackoff)
		}
	}
}

type tickOutcome struct {
	nodeID      string
	success     bool
	unavailable bool
	output      map[string]interface{}
}

func outcomesUnavailable(outcomes []tickOutcome) []tickOutcome {
	var out []tickOutcome
	for _, o := range outcomes {
		if o.unavailable {
			out = append(out, o)
		}
	}
	return out
}

// classify splits a ready set into nodes to dispatch immediately and
// nodes whose agent/flag requires human approval first.
func (s *Scheduler) classify(ctx context.Context, ready []*model.WorkflowNode) (dispatch, needsApproval []*model.WorkflowNode, err error) {
	for _, n := range ready {
		agent, err := s.store.GetAgent(ctx, n.AgentID)
		if err != nil {
			return nil, nil, fmt.Errorf("load agent %s for node %s: %w", n.AgentID, n.ID, err)
		}
		if agent.RiskLevel == model.RiskApprovalRequired || n.ApprovalRequired {
			needsApproval = append(needsApproval, n)
		} else {
			dispatch = append(dispatch, n)
		}
	}
	return dispatch, needsApproval, nil
}

// finalizeTick is called once no node is ready to dispatch this tick: it
// decides whether the run is done, waiting on approval, or must finalise
// as FAILED with descendants of failed nodes marked SKIPPED.
func (s *Scheduler) finalizeTick(ctx context.Context, logger *slog.Logger, run *model.WorkflowRun, wf *model.Workflow, completed, failed, skipped map[string]bool) error {
	pending, err := s.store.PendingApprovalsForRun(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("list pending approvals for run %s: %w", run.ID, err)
	}
	if len(pending) > 0 {
		return nil
	}

	if len(failed) == 0 {
		if err := s.store.FinishRun(ctx, run.ID, model.RunSuccess); err != nil {
			return fmt.Errorf("finish run %s as success: %w", run.ID, err)
		}
		logger.Info("run finished", "status", model.RunSuccess)
		s.publish(events.SubjectRunFinished, run.ID, "", string(model.RunSuccess))
		s.recordRunFinished(ctx, run, model.RunSuccess)
		return nil
	}

	for _, n := range descendantsOfFailed(wf, completed, failed, skipped) {
		if err := s.markSkipped(ctx, run.ID, n); err != nil {
			return err
		}
		skipped[n.ID] = true
	}

	if err := s.store.FinishRun(ctx, run.ID, model.RunFailed); err != nil {
		return fmt.Errorf("finish run %s as failed: %w", run.ID, err)
	}
	logger.Info("run finished", "status", model.RunFailed)
	s.publish(events.SubjectRunFinished, run.ID, "", string(model.RunFailed))
	s.recordRunFinished(ctx, run, model.RunFailed)
	return nil
}

// recordRunFinished records the workflow_runs_total/workflow_duration_ms
// metrics for a run that just reached a terminal status. Duration is
// measured from the run's StartedAt, set when it was claimed.
func (s *Scheduler) recordRunFinished(ctx context.Context, run *model.WorkflowRun, status model.RunStatus) {
	if s.obs == nil {
		return
	}
	var duration time.Duration
	if run.StartedAt != nil {
		duration = time.Since(*run.StartedAt)
	}
	s.obs.Metrics.RunFinished(ctx, string(status), duration)
}

// finalizeRejected finalises a run whose approval was REJECTED: every
// node not already completed/failed/skipped is recorded SKIPPED and the
// run ends FAILED. Agents still RUNNING are left untouched here — they
// finish naturally through their own dispatch goroutine's FinishAgentRun
// call, which this function's caller does not own.
func (s *Scheduler) finalizeRejected(ctx context.Context, runID string) error {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", runID, err)
	}
	if run.Status.IsTerminal() {
		return nil
	}
	wf, err := s.store.GetWorkflow(ctx, run.WorkflowID)
	if err != nil {
		return fmt.Errorf("load workflow %s: %w", run.WorkflowID, err)
	}

	agentRuns, err := s.store.ListAgentRunsByRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("load agent runs for run %s: %w", runID, err)
	}
	completed, failed, skipped := map[string]bool{}, map[string]bool{}, map[string]bool{}
	for _, ar := range agentRuns {
		switch ar.Status {
		case model.AgentRunSuccess:
			completed[ar.NodeID] = true
		case model.AgentRunFailed:
			failed[ar.NodeID] = true
		case model.AgentRunSkipped:
			skipped[ar.NodeID] = true
		}
	}

	for _, n := range remainingNodes(wf, completed, failed, skipped) {
		if err := s.markSkipped(ctx, runID, n); err != nil {
			return err
		}
	}

	if err := s.store.FinishRun(ctx, runID, model.RunFailed); err != nil {
		return fmt.Errorf("finish rejected run %s: %w", runID, err)
	}
	s.publish(events.SubjectRunFinished, runID, "", string(model.RunFailed))
	s.recordRunFinished(ctx, run, model.RunFailed)
	return nil
}

func (s *Scheduler) markSkipped(ctx context.Context, runID string, n *model.WorkflowNode) error {
	ar, err := s.store.StartAgentRun(ctx, runID, n.ID, n.AgentID, nil, 0)
	if err != nil {
		return fmt.Errorf("record skipped node %s: %w", n.ID, err)
	}
	if err := s.store.FinishAgentRun(ctx, ar.ID, model.AgentRunSkipped, nil, nil, 0); err != nil {
		return fmt.Errorf("finish skipped node %s: %w", n.ID, err)
	}
	return nil
}

func (s *Scheduler) anyApprovalRejected(ctx context.Context, runID string) (bool, error) {
	rejected, err := s.store.ListApprovals(ctx, backend.ApprovalFilter{Status: model.ApprovalRejected, WorkflowRunID: runID})
	if err != nil {
		return false, fmt.Errorf("list rejected approvals for run %s: %w", runID, err)
	}
	return len(rejected) > 0, nil
}

func (s *Scheduler) publish(subject events.Subject, runID, nodeID, status string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Envelope{Subject: subject, RunID: runID, NodeID: nodeID, Status: status})
}

// dispatchTick resolves input and dispatches every node in dispatchNodes
// concurrently, bounded by the global semaphore, and collects outcomes
// over a channel — never a map mutated from multiple goroutines.
func (s *Scheduler) dispatchTick(ctx context.Context, logger *slog.Logger, run *model.WorkflowRun, dispatchNodes []*model.WorkflowNode, env template.Env) []tickOutcome {
	if len(dispatchNodes) == 0 {
		return nil
	}

	results := make(chan tickOutcome, len(dispatchNodes))
	var wg sync.WaitGroup
	for _, n := range dispatchNodes {
		wg.Add(1)
		go func(n *model.WorkflowNode) {
			defer wg.Done()
			results <- s.dispatchOne(ctx, logger, run, n, env)
		}(n)
	}
	wg.Wait()
	close(results)

	outcomes := make([]tickOutcome, 0, len(dispatchNodes))
	for o := range results {
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func (s *Scheduler) dispatchOne(ctx context.Context, logger *slog.Logger, run *model.WorkflowRun, n *model.WorkflowNode, env template.Env) tickOutcome {
	if s.sem != nil {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return tickOutcome{nodeID: n.ID, unavailable: true}
		}
		defer s.sem.Release(1)
	}

	nodeLogger := orclog.WithNodeContext(logger, run.ID, n.ID, n.AgentID)

	resolvedAny, err := template.Resolve(n.InputTemplate, env)
	if err != nil {
		nodeLogger.Error("template resolution failed", orclog.Error(err))
		s.recordAgentFailure(ctx, run.ID, n, nil, &model.AgentError{Kind: "template_error", Message: err.Error()})
		return tickOutcome{nodeID: n.ID}
	}
	resolvedInput, _ := resolvedAny.(map[string]interface{})

	agent, err := s.store.GetAgent(ctx, n.AgentID)
	if err != nil {
		nodeLogger.Error("failed to load agent", orclog.Error(err))
		s.recordAgentFailure(ctx, run.ID, n, resolvedInput, &model.AgentError{Kind: string(orcherrors.AgentRuntimeError), Message: err.Error()})
		return tickOutcome{nodeID: n.ID}
	}

	spanCtx := ctx
	var span trace.Span
	if s.obs != nil {
		spanCtx, span = s.obs.StartAgentSpan(ctx, run.ID, n.ID, agent.Name)
	}

	// The safety envelope (circuit breaker) can refuse the call before a
	// container is ever touched; an Unavailable outcome means no attempt
	// was actually made, so no AgentRun row is recorded for it — only a
	// call that truly dispatches consumes the node's attempt budget.
	start := time.Now()
	result := s.runner.Execute(spanCtx, executor.Descriptor{
		Image:        s.imageFor(agent),
		EntryPath:    agent.EntryPath,
		OutputSchema: agent.OutputSchema,
	}, resolvedInput)
	elapsed := time.Since(start)
	duration := elapsed.Milliseconds()

	if result.Unavailable != nil {
		nodeLogger.Warn("container runtime unavailable, will retry", "reason", result.Unavailable.Reason)
		if span != nil {
			span.SetStatus(codes.Unset, "unavailable")
			span.End()
		}
		return tickOutcome{nodeID: n.ID, unavailable: true}
	}

	agentRun, err := s.store.StartAgentRun(ctx, run.ID, n.ID, n.AgentID, resolvedInput, 1)
	if err != nil {
		nodeLogger.Error("failed to record agent run start", orclog.Error(err))
		return tickOutcome{nodeID: n.ID}
	}

	switch {
	case result.Failure != nil:
		agentErr := &model.AgentError{Kind: string(result.Failure.Kind), Message: result.Failure.Message}
		if err := s.store.FinishAgentRun(ctx, agentRun.ID, model.AgentRunFailed, nil, agentErr, duration); err != nil {
			nodeLogger.Error("failed to record agent run failure", orclog.Error(err))
		}
		s.publish(events.SubjectAgentFinished, run.ID, n.ID, string(model.AgentRunFailed))
		if s.obs != nil {
			s.obs.Metrics.AgentFinished(ctx, agent.Name, string(model.AgentRunFailed), elapsed)
			s.obs.Metrics.AgentFailed(ctx, agent.Name, string(result.Failure.Kind))
			if span != nil {
				span.SetStatus(codes.Error, result.Failure.Message)
				span.End()
			}
		}
		return tickOutcome{nodeID: n.ID}
	default:
		if err := s.store.FinishAgentRun(ctx, agentRun.ID, model.AgentRunSuccess, result.Output, nil, duration); err != nil {
			nodeLogger.Error("failed to record agent run success", orclog.Error(err))
		}
		s.publish(events.SubjectAgentFinished, run.ID, n.ID, string(model.AgentRunSuccess))
		if s.notifier != nil {
			s.notifier.Notify(ctx, result.Output)
		}
		if s.obs != nil {
			s.obs.Metrics.AgentFinished(ctx, agent.Name, string(model.AgentRunSuccess), elapsed)
			if span != nil {
				span.SetStatus(codes.Ok, "")
				span.End()
			}
		}
		return tickOutcome{nodeID: n.ID, success: true, output: result.Output}
	}
}

func (s *Scheduler) recordAgentFailure(ctx context.Context, runID string, n *model.WorkflowNode, resolvedInput map[string]interface{}, agentErr *model.AgentError) {
	ar, err := s.store.StartAgentRun(ctx, runID, n.ID, n.AgentID, resolvedInput, 1)
	if err != nil {
		s.logger.Error("failed to record agent run for a pre-dispatch failure", "node_id", n.ID, orclog.Error(err))
		return
	}
	if err := s.store.FinishAgentRun(ctx, ar.ID, model.AgentRunFailed, nil, agentErr, 0); err != nil {
		s.logger.Error("failed to finish agent run for a pre-dispatch failure", "node_id", n.ID, orclog.Error(err))
	}
	s.publish(events.SubjectAgentFinished, runID, n.ID, string(model.AgentRunFailed))
}
